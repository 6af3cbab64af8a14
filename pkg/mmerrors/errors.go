// Package mmerrors defines the typed error kinds that drive the
// propagation policy described in the error handling design: venue
// transients get bounded retries, book-unsafe conditions skip a cycle
// quietly, degraded data falls back to cached state, and invariant
// violations pause the affected market maker.
package mmerrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation-policy purposes.
type Kind string

const (
	ConfigError        Kind = "CONFIG_ERROR"
	VenueTransient     Kind = "VENUE_TRANSIENT"
	VenuePermanent     Kind = "VENUE_PERMANENT"
	BookUnsafe         Kind = "BOOK_UNSAFE"
	DataDegraded       Kind = "DATA_DEGRADED"
	InvariantViolation Kind = "INVARIANT_VIOLATION"
)

// Error wraps an underlying cause with a Kind so callers can branch on
// errors.As without string-matching messages.
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

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an Error of the given kind with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind wrapping cause. Returns nil if
// cause is nil, so it is safe to use as `return mmerrors.Wrap(Kind, "...", err)`.
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
