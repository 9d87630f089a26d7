package eventbox

import (
	"errors"
	"fmt"

	"github.com/davecgh/go-spew/spew"
)

// Standard sentinel errors for fixed, expected conditions.
var (
	// ErrLoopTerminated is returned when an operation is attempted against
	// a Core that has already shut down.
	ErrLoopTerminated = errors.New("eventbox: core has been shut down")

	// ErrLoopNotRunning reports a Core that is no longer accepting work.
	// No operation in this package returns it; they return
	// ErrLoopTerminated instead.
	ErrLoopNotRunning = errors.New("eventbox: core is not running")

	// ErrActionNotFound reports an Action handle that no longer
	// corresponds to a running action. No operation in this package
	// returns it.
	ErrActionNotFound = errors.New("eventbox: action not found")
)

// InvalidAccessError reports a scope violation. The package returns it
// when a value shared by a different Core, or a wrapper other than a
// WrappedObject belonging to a different Core, crosses a boundary
// ("foreign-tag"); when an argument in a declared shared-parameter
// position has no pointer identity to tag ("not-shareable"); and when
// Action.Raise is given an AbortActionError ("reserved-abort"). No other
// scope check in this package produces it: in particular, calling a proc
// from another Core's event scope is not detected.
type InvalidAccessError struct {
	// Reason is a short, stable, machine-checkable label: "foreign-tag",
	// "not-shareable" or "reserved-abort".
	Reason string
	// Detail is a human-readable description of what was attempted.
	Detail string
	// Value is the offending value, if any; included in Error() via a
	// best-effort structural dump so a developer can see what crossed the
	// boundary without the value needing to implement Stringer.
	Value any
	Cause error
}

// Error implements the error interface.
func (e *InvalidAccessError) Error() string {
	msg := fmt.Sprintf("eventbox: invalid access (%s): %s", e.Reason, e.Detail)
	if e.Value != nil {
		msg += ": " + spew.Sdump(e.Value)
	}
	return msg
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *InvalidAccessError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *InvalidAccessError, regardless of
// Reason, so callers can check errors.Is(err, new(InvalidAccessError)).
func (e *InvalidAccessError) Is(target error) bool {
	_, ok := target.(*InvalidAccessError)
	return ok
}

// MultipleResultsError is raised when a CompletionProc is invoked more
// than once, or when a second result is observed on an answer queue after
// it has already closed (spec §7).
type MultipleResultsError struct {
	// Call is the name of the call whose completion was invoked twice.
	Call string
}

// Error implements the error interface.
func (e *MultipleResultsError) Error() string {
	if e.Call == "" {
		return "eventbox: multiple results delivered for a single call"
	}
	return fmt.Sprintf("eventbox: multiple results delivered for call %q", e.Call)
}

// Is implements matching regardless of Call.
func (e *MultipleResultsError) Is(target error) bool {
	_, ok := target.(*MultipleResultsError)
	return ok
}

// AbortActionError is the reserved sentinel used only by the library to
// terminate an Action. User code can observe it (e.g. as the error from
// Action.Check or CallContext.Send) but cannot construct and raise it through
// [Action.Raise] — that attempt itself surfaces an [InvalidAccessError].
type AbortActionError struct {
	// Action is the name of the action being aborted, if known.
	Action string
}

// Error implements the error interface.
func (e *AbortActionError) Error() string {
	if e.Action == "" {
		return "eventbox: action aborted"
	}
	return fmt.Sprintf("eventbox: action %q aborted", e.Action)
}

// Is implements matching regardless of Action.
func (e *AbortActionError) Is(target error) bool {
	_, ok := target.(*AbortActionError)
	return ok
}

// WrapError wraps an error with a message and a cause chain, matching
// errors.Is(result, cause) == true.
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}
