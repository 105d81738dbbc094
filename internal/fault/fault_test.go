package fault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClassifyConnectionTimeout(t *testing.T) {
	err := errors.New("connection refused: dial timeout")
	fe := Classify(err)
	if fe.Code != CodeConnectionTimeout {
		t.Fatalf("code = %d, want %d", fe.Code, CodeConnectionTimeout)
	}
	if fe.Severity != SeverityHigh {
		t.Fatalf("severity = %s, want high", fe.Severity)
	}
	if !fe.Recoverable {
		t.Fatal("connection timeout should be recoverable")
	}
}

func TestClassifyConnectionLost(t *testing.T) {
	fe := Classify(errors.New("write: broken pipe"))
	if fe.Code != CodeConnectionLost {
		t.Fatalf("code = %d, want %d", fe.Code, CodeConnectionLost)
	}
}

func TestClassifyCommandTimeout(t *testing.T) {
	fe := Classify(context.DeadlineExceeded)
	if fe.Code != CodeCommandTimeout {
		t.Fatalf("code = %d, want %d", fe.Code, CodeCommandTimeout)
	}
	if fe.Severity != SeverityMedium {
		t.Fatalf("severity = %s, want medium", fe.Severity)
	}
}

func TestClassifyJSON(t *testing.T) {
	var v map[string]any
	err := json.Unmarshal([]byte("{not json"), &v)
	fe := Classify(err)
	if fe.Code != CodeMessageFormat {
		t.Fatalf("code = %d, want %d", fe.Code, CodeMessageFormat)
	}
}

func TestClassifyLibraryMissingIsFatal(t *testing.T) {
	fe := Classify(errors.New("decoder library not available"))
	if fe.Code != CodeLibNotAvailable {
		t.Fatalf("code = %d, want %d", fe.Code, CodeLibNotAvailable)
	}
	if fe.Recoverable {
		t.Fatal("missing library must not be recoverable")
	}
	if fe.Severity != SeverityCritical {
		t.Fatalf("severity = %s, want critical", fe.Severity)
	}
}

func TestClassifyFallthrough(t *testing.T) {
	fe := Classify(errors.New("something odd happened"))
	if fe.Code != CodeUnknown {
		t.Fatalf("code = %d, want %d", fe.Code, CodeUnknown)
	}
	if !fe.Recoverable {
		t.Fatal("unknown errors default to recoverable")
	}
}

func TestClassifyPassesThroughExisting(t *testing.T) {
	orig := New(CodeAINoVision, "model cannot see")
	fe := Classify(fmt.Errorf("wrapped: %w", orig))
	if fe != orig {
		t.Fatal("existing *Error should pass through classification")
	}
}

func TestClassifyProviderError(t *testing.T) {
	cases := []struct {
		status int
		msg    string
		want   int
	}{
		{401, "unauthorized", CodeAIUnauthorized},
		{429, "rate limit exceeded", CodeAIQuotaExceeded},
		{404, "model not found", CodeAIModelNotFound},
		{0, "network unreachable", CodeNetworkError},
		{500, "internal error", CodeUnknown},
	}
	for _, c := range cases {
		fe := ClassifyProviderError(c.status, errors.New(c.msg))
		if fe.Code != c.want {
			t.Fatalf("status %d %q: code = %d, want %d", c.status, c.msg, fe.Code, c.want)
		}
	}
}

func TestErrorPayloadShape(t *testing.T) {
	fe := New(CodeAIUnauthorized, "provider rejected the API key").
		WithContext("provider", "openai")
	payload := fe.MarshalPayload()

	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	for _, key := range []string{"code", "category", "severity", "message", "recovery_suggestions", "recoverable", "timestamp"} {
		if _, ok := decoded[key]; !ok {
			t.Fatalf("payload missing %q: %s", key, payload)
		}
	}
	if !strings.Contains(string(payload), "openai") {
		t.Fatal("context dropped from payload")
	}
}

func TestRecoveryBudget(t *testing.T) {
	m := NewRecoveryManager()
	calls := 0
	m.Register(CodeConnectionLost, func(ctx context.Context) error {
		calls++
		return errors.New("still down")
	})

	fe := New(CodeConnectionLost, "link lost")
	for i := 0; i < defaultMaxAttempts; i++ {
		ok, err := m.Recover(context.Background(), fe)
		if ok || err == nil {
			t.Fatalf("attempt %d: expected failure", i)
		}
	}
	if calls != defaultMaxAttempts {
		t.Fatalf("calls = %d, want %d", calls, defaultMaxAttempts)
	}

	// Budget exhausted: strategy no longer runs.
	ok, err := m.Recover(context.Background(), fe)
	if ok {
		t.Fatal("recovery should be refused after budget exhaustion")
	}
	if err == nil {
		t.Fatal("expected budget error")
	}
	if calls != defaultMaxAttempts {
		t.Fatalf("strategy ran after exhaustion: calls = %d", calls)
	}
}

func TestRecoverySuccessResetsCounter(t *testing.T) {
	m := NewRecoveryManager()
	fail := true
	m.Register(CodeConnectionLost, func(ctx context.Context) error {
		if fail {
			return errors.New("down")
		}
		return nil
	})

	fe := New(CodeConnectionLost, "link lost")
	m.Recover(context.Background(), fe)
	m.Recover(context.Background(), fe)

	fail = false
	ok, err := m.Recover(context.Background(), fe)
	if !ok || err != nil {
		t.Fatalf("recovery should succeed: ok=%v err=%v", ok, err)
	}
	if got := m.Attempts(CodeConnectionLost); got != 0 {
		t.Fatalf("attempts after success = %d, want 0", got)
	}
}

func TestNonRecoverableRefused(t *testing.T) {
	m := NewRecoveryManager()
	m.Register(CodeLibNotAvailable, func(ctx context.Context) error { return nil })
	ok, _ := m.Recover(context.Background(), New(CodeLibNotAvailable, "missing"))
	if ok {
		t.Fatal("non-recoverable errors must not be recovered")
	}
}
