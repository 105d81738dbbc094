package fault

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
)

// Classify maps an arbitrary error onto the closed taxonomy. The cascade is
// fixed: more specific matches win, and the fallthrough is always
// CodeUnknown so no failure escapes classification.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	if fe := As(err); fe != nil {
		return fe
	}

	msg := strings.ToLower(err.Error())

	var netErr net.Error
	isNet := errors.As(err, &netErr)
	isTimeout := errors.Is(err, context.DeadlineExceeded) ||
		(isNet && netErr.Timeout()) ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "timed out")

	switch {
	case isConnection(msg) && isTimeout:
		return New(CodeConnectionTimeout, "connection to drone timed out").WithCause(err)
	case isConnection(msg):
		return New(CodeConnectionLost, "connection to drone lost").WithCause(err)
	case isTimeout:
		return New(CodeCommandTimeout, "command timed out").WithCause(err)
	case isJSON(err):
		return New(CodeMessageFormat, "malformed message").WithCause(err)
	case strings.Contains(msg, "out of range") || strings.Contains(msg, "invalid value"):
		return New(CodeInvalidParam, "invalid parameter").WithCause(err)
	case strings.Contains(msg, "not installed") || strings.Contains(msg, "library not available"):
		return New(CodeLibNotAvailable, "required library not available").WithCause(err)
	case strings.Contains(msg, "missing field") || strings.Contains(msg, "required field"):
		return New(CodeMissingData, "missing required data").WithCause(err)
	default:
		return New(CodeUnknown, err.Error()).WithCause(err)
	}
}

// ClassifyProviderError maps a VLM provider failure onto the AI-config
// portion of the taxonomy by HTTP status first, message substrings second.
func ClassifyProviderError(statusCode int, err error) *Error {
	msg := ""
	if err != nil {
		msg = strings.ToLower(err.Error())
	}

	switch {
	case statusCode == 401 || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key"):
		return New(CodeAIUnauthorized, "provider rejected the API key").WithCause(err)
	case statusCode == 403 || statusCode == 429 || strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit"):
		return New(CodeAIQuotaExceeded, "provider quota exceeded").WithCause(err)
	case statusCode == 404 || strings.Contains(msg, "model not found") || strings.Contains(msg, "not found"):
		return New(CodeAIModelNotFound, "configured model not found").WithCause(err)
	case strings.Contains(msg, "connection") || strings.Contains(msg, "timeout") || strings.Contains(msg, "network"):
		return New(CodeNetworkError, "provider unreachable").WithCause(err)
	default:
		e := New(CodeUnknown, "provider call failed").WithCause(err)
		if statusCode != 0 {
			e.WithContext("status_code", statusCode)
		}
		return e
	}
}

func isConnection(msg string) bool {
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "no route to host") ||
		strings.Contains(msg, "drone not connected")
}

func isJSON(err error) bool {
	var syn *json.SyntaxError
	var typ *json.UnmarshalTypeError
	return errors.As(err, &syn) || errors.As(err, &typ)
}
