// Package durable provides the execution substrate for the sync jobs:
// memoized steps, persisted random draws, per-key actor state, durable
// delayed invocations (timers) and retriable workflow runs.
//
// Replay semantics: a step's successful output is cached by
// (run id, step key); re-running the same run re-applies cached results
// instead of repeating side effects. Random draws are captured once per
// (run id, key) and replayed, never re-rolled.
package durable

import (
	"errors"
	"fmt"
)

// TerminalError wraps an error that must not be retried: a logic or
// configuration defect rather than a transient failure.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string {
	return "terminal: " + e.Err.Error()
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

// NewTerminalError marks an error as non-retriable.
func NewTerminalError(err error) error {
	return &TerminalError{Err: err}
}

// Terminalf is a convenience formatter for terminal errors.
func Terminalf(format string, args ...any) error {
	return &TerminalError{Err: fmt.Errorf(format, args...)}
}

// IsTerminal checks if an error is terminal.
func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}
