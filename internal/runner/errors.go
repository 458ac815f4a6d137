package runner

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyStarted is returned by Run on a Runner that already ran.
	ErrAlreadyStarted = errors.New("runner: run already started")
	// ErrStopped is the stop cause when Stop is called without a reason.
	ErrStopped = errors.New("run stopped")
)

// AssertionKind tells which assertion callback failed.
type AssertionKind string

const (
	WhileRunning AssertionKind = "while_running"
	WhenDone     AssertionKind = "when_done"
)

// AssertionError wraps the error returned by an assertion callback.
type AssertionError struct {
	When AssertionKind
	Err  error
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s assertion failed: %v", e.When, e.Err)
}

func (e *AssertionError) Unwrap() error { return e.Err }

// InitError reports a failed Init hook or input data resolution. No load runs after it.
type InitError struct {
	Err error
}

func (e *InitError) Error() string { return fmt.Sprintf("init failed: %v", e.Err) }

func (e *InitError) Unwrap() error { return e.Err }

// StopError reports a run that stopped before its load profiles completed.
type StopError struct {
	Cause error
}

func (e *StopError) Error() string { return fmt.Sprintf("run stopped: %v", e.Cause) }

func (e *StopError) Unwrap() error { return e.Cause }

// CleanupError reports a failed Clean hook.
type CleanupError struct {
	Err error
}

func (e *CleanupError) Error() string { return fmt.Sprintf("cleanup failed: %v", e.Err) }

func (e *CleanupError) Unwrap() error { return e.Err }

// firstError returns the first non-nil error; callers pass errors in priority order.
func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
