package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a missing emergency, ambulance or hospital.
	ErrNotFound = errors.New("dispatch: not found")
	// ErrTerminalState rejects operations on closed or cancelled emergencies.
	ErrTerminalState = errors.New("dispatch: emergency in terminal state")
)

// TransitionError reports an illegal emergency status transition.
type TransitionError struct {
	EmergencyID string
	From        Status
	To          Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("dispatch: emergency %s cannot move %s -> %s", e.EmergencyID, e.From, e.To)
}

// InvariantViolation is a programming-level fault: the event that caused it
// is dropped and surfaced to operators, never applied.
type InvariantViolation struct {
	Op     string
	Detail string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("dispatch: invariant violated in %s: %s", e.Op, e.Detail)
}

// NewInvariantViolation constructs an InvariantViolation.
func NewInvariantViolation(op, format string, args ...any) *InvariantViolation {
	return &InvariantViolation{Op: op, Detail: fmt.Sprintf(format, args...)}
}

// ValidationError rejects a malformed event payload before it mutates state.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "dispatch: " + e.Reason
	}
	return fmt.Sprintf("dispatch: %s: %s", e.Field, e.Reason)
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
