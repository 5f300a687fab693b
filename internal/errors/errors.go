// Package errors defines the application error taxonomy. Failures are
// either sentinel conditions (validation, duplicates, missing records)
// or classified by retriability: transient failures are worth retrying,
// permanent ones are not.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the ingestion and query paths.
var (
	// ErrValidation marks input rejected before any side effect.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateIdentity is returned in strict ingestion mode when a
	// message with the same identity already exists.
	ErrDuplicateIdentity = errors.New("duplicate message identity")

	// ErrNotFound marks a lookup for a record that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable marks a storage backend that cannot be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// TransientError wraps a failure worth retrying, such as a model
// timeout or an HTTP 5xx from a backend.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a failure that will not succeed on retry, such
// as a safety block or malformed input.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as retriable. Returns nil for a nil err.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Permanent wraps err as non-retriable. Returns nil for a nil err.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsTransient reports whether err is marked retriable. Unclassified
// errors are treated as transient so an unknown failure mode is retried
// rather than silently dropped.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var perm *PermanentError
	return !errors.As(err, &perm)
}

// IsPermanent reports whether err is marked non-retriable.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}
