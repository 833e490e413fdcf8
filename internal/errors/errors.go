// Package errors defines the error taxonomy shared by relay components.
//
// Every failure an operation reports carries a stable [Kind] plus a
// human-readable message. Callers classify failures with [KindOf] or with
// the standard errors.Is against the sentinel values:
//
//	if errors.Is(err, errors.ErrAlreadyBound) { ... }
//
// The standard library helpers are re-exported so callers only need to
// import this package.
package errors

import (
	"errors"
	"fmt"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Kind is the stable, named category of a failure.
type Kind string

const (
	KindNotFound              Kind = "not_found"
	KindCapabilityUnavailable Kind = "capability_unavailable"
	KindValidation            Kind = "validation"
	KindNoCandidate           Kind = "no_candidate"
	KindAlreadyBound          Kind = "already_bound"
	KindNotRunning            Kind = "not_running"
	KindCorruption            Kind = "corruption"
	KindPersistence           Kind = "persistence"
	KindInternal              Kind = "internal"
)

// Sentinel errors, one per kind. An *Error matches the sentinel of its kind.
var (
	ErrNotFound              = &Error{Kind: KindNotFound, Message: "not found"}
	ErrCapabilityUnavailable = &Error{Kind: KindCapabilityUnavailable, Message: "capability unavailable"}
	ErrValidation            = &Error{Kind: KindValidation, Message: "invalid input"}
	ErrNoCandidate           = &Error{Kind: KindNoCandidate, Message: "no model available"}
	ErrAlreadyBound          = &Error{Kind: KindAlreadyBound, Message: "session already bound"}
	ErrNotRunning            = &Error{Kind: KindNotRunning, Message: "sub-task is not running"}
	ErrCorruption            = &Error{Kind: KindCorruption, Message: "corrupt record"}
	ErrPersistence           = &Error{Kind: KindPersistence, Message: "durable write failed"}
)

// Error is a classified failure.
type Error struct {
	// Kind is the stable category.
	Kind Kind
	// Op names the operation that failed, e.g. "bind session".
	Op string
	// Message is the human-readable explanation.
	Message string
	// Cause is the underlying error, if any.
	Cause error
}

// Error returns the formatted error message.
func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so sentinels compare by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal for unclassified errors. Returns "" for a nil error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func newError(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports an unknown task, sub-task or session identifier.
func NotFound(op, what, id string) *Error {
	return newError(KindNotFound, op, "%s %q not found", what, id)
}

// Validation reports malformed or out-of-range input, rejected before any mutation.
func Validation(op, format string, args ...any) *Error {
	return newError(KindValidation, op, format, args...)
}

// Unavailable reports that an external capability is not reachable in this host.
func Unavailable(op, capability string) *Error {
	return newError(KindCapabilityUnavailable, op, "%s capability is not available", capability)
}

// NoCandidate reports that model selection found nothing matching.
func NoCandidate(op, format string, args ...any) *Error {
	return newError(KindNoCandidate, op, format, args...)
}

// AlreadyBound reports a violated set-once session binding.
func AlreadyBound(op, subtaskID, existing string) *Error {
	return newError(KindAlreadyBound, op, "sub-task %q is already bound to session %q", subtaskID, existing)
}

// NotRunning reports an operation that needs a non-terminal sub-task.
func NotRunning(op, subtaskID, status string) *Error {
	return newError(KindNotRunning, op, "sub-task %q is %s", subtaskID, status)
}

// Corruption reports a persisted record that failed to parse.
func Corruption(op, record string, cause error) *Error {
	e := newError(KindCorruption, op, "record %q is corrupt", record)
	e.Cause = cause
	return e
}

// Persistence reports a durable write failure. These propagate to callers.
func Persistence(op string, cause error) *Error {
	e := newError(KindPersistence, op, "durable write failed")
	e.Cause = cause
	return e
}

// WithCause attaches an underlying error and returns e.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}
