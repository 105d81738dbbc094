// Package fault defines the closed error taxonomy used everywhere a failure
// crosses the control plane, plus the recovery policy registry.
//
// Every surfaced failure is a *Error carrying a stable numeric code, a
// category, a severity, ordered recovery suggestions and a recoverable flag.
// Codes are stable across versions; clients key their UI on them.
package fault

import (
	"encoding/json"
	"errors"
	"time"
)

// Category classifies where a failure originated.
type Category string

const (
	CategoryAIConfig       Category = "ai_config"
	CategoryConnection     Category = "connection"
	CategoryCommand        Category = "command_execution"
	CategoryBridge         Category = "bridge_communication"
	CategoryHardware       Category = "hardware"
	CategoryValidation     Category = "validation"
	CategoryTimeout        Category = "timeout"
	CategoryNetwork        Category = "network"
	CategorySystem         Category = "system"
	CategoryUnknown        Category = "unknown"
)

// Severity grades operator urgency.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Stable error codes. New codes append; existing codes never change meaning.
const (
	CodeConnectionTimeout = 1001
	CodeConnectionLost    = 1002
	CodeCommandTimeout    = 2001
	CodeMessageFormat     = 3001
	CodeInvalidParam      = 3002
	CodeMissingData       = 3003
	CodeLibNotAvailable   = 4001
	CodeUnknown           = 5000
	CodeAIMissingField    = 6001
	CodeAIInvalidProvider = 6002
	CodeAIInvalidKey      = 6003
	CodeAIUnauthorized    = 6004
	CodeAIQuotaExceeded   = 6005
	CodeAIModelNotFound   = 6006
	CodeAINoVision        = 6007
	CodeNetworkError      = 7001
	CodeHardwareFault     = 8001
)

// Error is the single failure value surfaced to clients.
type Error struct {
	Code        int            `json:"code"`
	Category    Category       `json:"category"`
	Severity    Severity       `json:"severity"`
	Message     string         `json:"message"`
	Context     map[string]any `json:"context,omitempty"`
	Suggestions []string       `json:"recovery_suggestions,omitempty"`
	Recoverable bool           `json:"recoverable"`
	Timestamp   time.Time      `json:"timestamp"`

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// WithContext attaches a structured context value and returns e.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithCause records the underlying error and returns e.
func (e *Error) WithCause(cause error) *Error {
	e.cause = cause
	return e
}

// MarshalPayload renders the error as the wire payload for error events.
func (e *Error) MarshalPayload() json.RawMessage {
	data, err := json.Marshal(e)
	if err != nil {
		// Marshal of a map[string]any can fail on exotic context values;
		// fall back to the minimal shape rather than dropping the event.
		fallback := &Error{
			Code:        e.Code,
			Category:    e.Category,
			Severity:    e.Severity,
			Message:     e.Message,
			Recoverable: e.Recoverable,
			Timestamp:   e.Timestamp,
		}
		data, _ = json.Marshal(fallback)
	}
	return data
}

// New constructs an Error for a known code with taxonomy defaults applied.
func New(code int, message string) *Error {
	e := &Error{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
	applyDefaults(e)
	return e
}

func applyDefaults(e *Error) {
	switch e.Code {
	case CodeConnectionTimeout:
		e.Category, e.Severity, e.Recoverable = CategoryConnection, SeverityHigh, true
		e.Suggestions = []string{
			"Check that the drone is powered on and within Wi-Fi range",
			"Reconnect to the drone's access point and retry",
		}
	case CodeConnectionLost:
		e.Category, e.Severity, e.Recoverable = CategoryConnection, SeverityHigh, true
		e.Suggestions = []string{
			"Verify the drone link and reconnect",
			"Check the drone battery level",
		}
	case CodeCommandTimeout:
		e.Category, e.Severity, e.Recoverable = CategoryTimeout, SeverityMedium, true
		e.Suggestions = []string{
			"Retry the command",
			"Reduce command frequency if the link is congested",
		}
	case CodeMessageFormat:
		e.Category, e.Severity, e.Recoverable = CategoryValidation, SeverityMedium, true
		e.Suggestions = []string{"Check that the message body is valid JSON"}
	case CodeInvalidParam:
		e.Category, e.Severity, e.Recoverable = CategoryValidation, SeverityLow, true
		e.Suggestions = []string{"Check parameter ranges and types"}
	case CodeMissingData:
		e.Category, e.Severity, e.Recoverable = CategoryValidation, SeverityMedium, true
		e.Suggestions = []string{"Include the required fields in the request data"}
	case CodeLibNotAvailable:
		e.Category, e.Severity, e.Recoverable = CategorySystem, SeverityCritical, false
		e.Suggestions = []string{
			"Install the missing runtime dependency",
			"Restart the backend after installation",
		}
	case CodeAIMissingField:
		e.Category, e.Severity, e.Recoverable = CategoryAIConfig, SeverityMedium, true
		e.Suggestions = []string{
			"Provide provider, model and api_key in the AI configuration",
		}
	case CodeAIInvalidProvider:
		e.Category, e.Severity, e.Recoverable = CategoryAIConfig, SeverityMedium, true
		e.Suggestions = []string{
			"Use one of the supported providers",
			"Check the provider field spelling (lowercase)",
		}
	case CodeAIInvalidKey:
		e.Category, e.Severity, e.Recoverable = CategoryAIConfig, SeverityMedium, true
		e.Suggestions = []string{
			"Check the API key for the configured provider",
			"Regenerate the key from the provider console",
		}
	case CodeAIUnauthorized:
		e.Category, e.Severity, e.Recoverable = CategoryAIConfig, SeverityHigh, true
		e.Suggestions = []string{
			"Verify the API key is valid and not expired",
			"Check that the key has permission for the configured model",
		}
	case CodeAIQuotaExceeded:
		e.Category, e.Severity, e.Recoverable = CategoryAIConfig, SeverityHigh, true
		e.Suggestions = []string{
			"Check the provider account quota",
			"Wait for the quota window to reset or switch providers",
		}
	case CodeAIModelNotFound:
		e.Category, e.Severity, e.Recoverable = CategoryAIConfig, SeverityMedium, true
		e.Suggestions = []string{
			"Check the model name spelling (case-sensitive)",
			"List the provider's available models",
		}
	case CodeAINoVision:
		e.Category, e.Severity, e.Recoverable = CategoryAIConfig, SeverityMedium, true
		e.Suggestions = []string{
			"Configure a vision-capable model",
		}
	case CodeNetworkError:
		e.Category, e.Severity, e.Recoverable = CategoryNetwork, SeverityMedium, true
		e.Suggestions = []string{
			"Check network connectivity",
			"Verify the endpoint URL and retry",
		}
	case CodeHardwareFault:
		e.Category, e.Severity, e.Recoverable = CategoryHardware, SeverityHigh, true
		e.Suggestions = []string{"Land the drone and inspect the hardware"}
	default:
		e.Category, e.Severity, e.Recoverable = CategoryUnknown, SeverityMedium, true
		e.Suggestions = []string{
			"Check the detailed error message",
			"Retry the operation",
		}
	}
}

// As extracts a *Error from an error chain, or nil.
func As(err error) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return nil
}
