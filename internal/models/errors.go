package models

import "fmt"

// ValidationError marks malformed trigger input. It is the only error kind
// that crosses the HTTP boundary synchronously.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError builds a ValidationError for a named field.
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// PhaseExecutionError wraps a failure inside a phase body. It is absorbed at
// the consumer boundary and surfaced through the audit log and notifications.
type PhaseExecutionError struct {
	Phase Phase
	Err   error
}

func (e *PhaseExecutionError) Error() string {
	return fmt.Sprintf("phase %d execution failed: %v", int(e.Phase), e.Err)
}

func (e *PhaseExecutionError) Unwrap() error {
	return e.Err
}
