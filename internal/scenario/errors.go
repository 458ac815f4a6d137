package scenario

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
)

// ErrSkipped is returned by StepContext.Run for a sub-step that was not
// executed because an earlier sibling failed.
var ErrSkipped = errors.New("step skipped after earlier failure")

// ValidationError lists every problem found in a scenario declaration.
type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "scenario validation failed"
	}
	return fmt.Sprintf("scenario validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// PanicError is the failure recorded for a step whose action panicked.
type PanicError struct {
	Step  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("step %q panicked: %v", e.Step, e.Value)
}

// Unwrap exposes the panic value when it was an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// ErrorKind labels the failure in error breakdowns.
func (e *PanicError) ErrorKind() string {
	return "Step panicked"
}

var errNilAction = errors.New("step action is nil")

func newPanicError(step string, value any) *PanicError {
	return &PanicError{Step: step, Value: value, Stack: debug.Stack()}
}
