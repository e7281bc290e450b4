package engine

import (
	"errors"
	"fmt"
)

// Code classifies a FlowError. Configuration errors are always fatal and
// never retried; guard violations abort the loop and the enclosing chain;
// control-flow misuse means break/continue reached a point with no
// enclosing loop.
type Code string

const (
	CodeUnregisteredKind    Code = "unregistered_kind"
	CodeInvalidLoop         Code = "invalid_loop"
	CodeMaxIterations       Code = "max_iterations"
	CodeLoopTimeout         Code = "loop_timeout"
	CodeIterationTimeout    Code = "iteration_timeout"
	CodeStepTimeout         Code = "step_timeout"
	CodeBreakOutsideLoop    Code = "break_outside_loop"
	CodeContinueOutsideLoop Code = "continue_outside_loop"
	CodeCondition           Code = "condition"
	CodeStepFailed          Code = "step_failed"
)

// FlowError is the structured error type raised by the engine.
type FlowError struct {
	Code    Code
	StepID  string
	Message string
	Cause   error
}

func (e *FlowError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.StepID != "" {
		return fmt.Sprintf("%s: step %q: %s", e.Code, e.StepID, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// Errorf builds a FlowError with a formatted message.
func Errorf(code Code, stepID, format string, args ...any) *FlowError {
	return &FlowError{Code: code, StepID: stepID, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a code and step to an underlying error. An error that
// already is a FlowError is returned unchanged so codes set deeper in the
// run survive propagation.
func WrapError(code Code, stepID string, err error) error {
	if err == nil {
		return nil
	}
	var fe *FlowError
	if errors.As(err, &fe) {
		return err
	}
	return &FlowError{Code: code, StepID: stepID, Cause: err}
}

// IsCode reports whether err carries the given flow error code.
func IsCode(err error, code Code) bool {
	var fe *FlowError
	return errors.As(err, &fe) && fe.Code == code
}

// outcomeMisuseError reports a break or continue outcome that reached a
// point with no enclosing loop, under the code matching the outcome.
func outcomeMisuseError(stepID string, out Outcome) *FlowError {
	code := CodeBreakOutsideLoop
	if out == OutcomeContinue {
		code = CodeContinueOutsideLoop
	}
	return Errorf(code, stepID, "%s outside loop", out)
}
