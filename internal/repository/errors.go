package repository

import "fmt"

// ErrorKind is one of the four outcomes a Store method may fail with.
type ErrorKind string

const (
	NotFound   ErrorKind = "not_found"
	Conflict   ErrorKind = "conflict"
	Validation ErrorKind = "validation"
	Backend    ErrorKind = "backend"
)

// Error is the typed error every Store method returns on failure.
type Error struct {
	Kind    ErrorKind
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

// New builds an Error with no wrapped cause.
func New(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error wrapping cause.
func Wrap(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the ErrorKind of err, defaulting to Backend for anything
// not produced by this package.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return Backend
}
