package model

import "fmt"

// Kind is the user-visible error taxonomy from the error handling design:
// every failure the core returns is one of these, never a bare string.
type Kind string

const (
	KindInvalidInput Kind = "invalid_input"
	KindNotFound     Kind = "not_found"
	KindInvalidState Kind = "invalid_state"
	KindUnauthorized Kind = "unauthorized"
	KindConflict     Kind = "conflict"
	KindTransient    Kind = "transient"
	KindFatal        Kind = "fatal"
)

// Error wraps a Kind with a human-readable message and optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, model.ErrNotFound) work against a Kind sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newErr(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Sentinels for errors.Is comparisons; construct with Errorf/Wrap to attach detail.
var (
	ErrInvalidInput = newErr(KindInvalidInput, "invalid input")
	ErrNotFound     = newErr(KindNotFound, "not found")
	ErrInvalidState = newErr(KindInvalidState, "invalid state")
	ErrUnauthorized = newErr(KindUnauthorized, "unauthorized")
	ErrConflict     = newErr(KindConflict, "conflict")
	ErrTransient    = newErr(KindTransient, "transient failure")
	ErrFatal        = newErr(KindFatal, "fatal invariant violation")
)

// Errorf builds a new *Error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a new *Error of the given kind carrying cause as context.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}
