// Package apperr provides the error-kind taxonomy shared across VulnDash's
// ingestion, extraction, and admin surfaces. Callers distinguish failure
// classes with errors.As against *Error rather than sentinel values per
// package, so a single switch in the scheduler or the HTTP layer can route
// on Kind without importing every producing package.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies the failure so callers can decide whether to retry,
// fall back, or surface the failure to a human reviewer.
type Kind string

const (
	// KindConnection covers network/DNS/TLS failures reaching an external
	// dependency (LLM provider, SMTP relay, source feed, catalog mirror).
	KindConnection Kind = "connection"
	// KindAuth covers rejected credentials against an external dependency.
	KindAuth Kind = "auth"
	// KindGeneration covers an LLM provider responding but producing output
	// that could not be parsed or coerced into the expected shape.
	KindGeneration Kind = "generation"
	// KindTimeout covers a request that exceeded its deadline.
	KindTimeout Kind = "timeout"
	// KindValidation covers a well-formed request whose contents fail
	// domain validation (bad CVE id, severity out of range, etc).
	KindValidation Kind = "validation"
	// KindNotFound covers a lookup against a record that does not exist.
	KindNotFound Kind = "not_found"
	// KindConflict covers a write that violates a uniqueness or state
	// invariant (duplicate CVE id, stale review-queue transition).
	KindConflict Kind = "conflict"
	// KindPersistence covers a database error unrelated to the above.
	KindPersistence Kind = "persistence"
)

// Error is the single error type VulnDash code constructs and inspects.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs an *Error of the given kind with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind wrapping an existing error.
// Wrap(kind, msg, nil) returns nil so call sites can write
// `return apperr.Wrap(apperr.KindConnection, "dial failed", err)` unconditionally.
func Wrap(kind Kind, message string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the Kind of err if it is an *Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return "", false
	}
	return e.Kind, true
}

var (
	// ErrNotFound is a sentinel for store lookups that found no row, usable
	// with errors.Is.
	ErrNotFound = New(KindNotFound, "record not found")
	// ErrConflict is a sentinel for a write rejected by a uniqueness or
	// state-transition invariant.
	ErrConflict = New(KindConflict, "conflicting state")
)
