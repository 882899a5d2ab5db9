package store

import (
	"errors"
	"fmt"
)

// Kind classifies store failures so callers can pick a recovery strategy
// without string matching.
type Kind string

const (
	// KindIO covers transient read/write failures; always safe to retry,
	// the original set content is untouched.
	KindIO Kind = "io"

	// KindContention signals a lost compare-and-set race; safe to retry
	// after re-reading.
	KindContention Kind = "contention"

	// KindSchema signals a record set whose persisted schema version does
	// not match the expected one. Never retried; the offending file is
	// quarantined and an operator alerted.
	KindSchema Kind = "schema"
)

// Error is a classified store failure bound to a named record set.
type Error struct {
	Kind Kind
	Set  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store %s: %s error: %v", e.Set, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient.
func (e *Error) Retryable() bool {
	return e.Kind == KindIO || e.Kind == KindContention
}

// NewError builds a classified store error.
func NewError(kind Kind, set string, err error) *Error {
	return &Error{Kind: kind, Set: set, Err: err}
}

// KindOf extracts the failure kind from err, or "" when err is not a store
// error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
