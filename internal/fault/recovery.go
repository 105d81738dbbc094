package fault

import (
	"context"
	"fmt"
	"sync"
)

// RecoveryFunc attempts to repair the condition behind an error code.
type RecoveryFunc func(ctx context.Context) error

// defaultMaxAttempts bounds consecutive recovery attempts per code.
const defaultMaxAttempts = 3

// RecoveryManager dispatches per-code recovery strategies and enforces an
// attempt budget so a broken strategy cannot loop forever. A successful
// recovery resets the code's counter.
type RecoveryManager struct {
	mu          sync.Mutex
	strategies  map[int]RecoveryFunc
	attempts    map[int]int
	maxAttempts int
}

// NewRecoveryManager creates a RecoveryManager with the default attempt cap.
func NewRecoveryManager() *RecoveryManager {
	return &RecoveryManager{
		strategies:  make(map[int]RecoveryFunc),
		attempts:    make(map[int]int),
		maxAttempts: defaultMaxAttempts,
	}
}

// Register installs the recovery strategy for an error code, replacing any
// previous strategy.
func (m *RecoveryManager) Register(code int, fn RecoveryFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies[code] = fn
}

// Recover runs the registered strategy for the error's code. It returns
// false when no strategy exists, the error is marked non-recoverable, or the
// attempt budget is exhausted.
func (m *RecoveryManager) Recover(ctx context.Context, e *Error) (bool, error) {
	if e == nil || !e.Recoverable {
		return false, nil
	}

	m.mu.Lock()
	fn, ok := m.strategies[e.Code]
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	if m.attempts[e.Code] >= m.maxAttempts {
		m.mu.Unlock()
		return false, fmt.Errorf("recovery budget exhausted for code %d", e.Code)
	}
	m.attempts[e.Code]++
	m.mu.Unlock()

	if err := fn(ctx); err != nil {
		return false, err
	}

	m.mu.Lock()
	m.attempts[e.Code] = 0
	m.mu.Unlock()
	return true, nil
}

// Attempts reports how many consecutive failed attempts the code has.
func (m *RecoveryManager) Attempts(code int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[code]
}
