// Package corekind defines the error kinds the core surfaces to callers
// and component seams, and a CoreError type carrying one of them.
//
// Kinds are a closed enumeration, not type names: every error the core
// returns across a component boundary is classified into exactly one of
// them so callers can branch on kind rather than parse messages.
package corekind

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds in the error-handling design.
type Kind string

const (
	Validation        Kind = "validation"
	Forbidden         Kind = "forbidden"
	PremiumRequired   Kind = "premium_required"
	QuotaExceeded     Kind = "quota_exceeded"
	NotFound          Kind = "not_found"
	UpstreamTransient Kind = "upstream_transient"
	UpstreamPermanent Kind = "upstream_permanent"
	Invariant         Kind = "invariant"
)

// Retryable reports whether an error of this kind should be retried by
// retry_with_backoff when the caller asks for it.
func (k Kind) Retryable() bool {
	return k == UpstreamTransient
}

// CoreError is the structured error value carried across component seams.
type CoreError struct {
	Kind    Kind
	Message string
	cause   error
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/errors.As.
func (e *CoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// New builds a CoreError of the given kind.
func New(kind Kind, message string) *CoreError {
	return &CoreError{Kind: kind, Message: message}
}

// Wrap builds a CoreError of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *CoreError {
	return &CoreError{Kind: kind, Message: message, cause: cause}
}

// Is reports whether err is a CoreError of the given kind.
func Is(err error, kind Kind) bool {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, defaulting to Invariant when err is not
// a CoreError.
func KindOf(err error) Kind {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if err == nil {
		return ""
	}
	return Invariant
}
