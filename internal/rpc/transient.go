package rpc

import (
	"errors"
	"time"
)

// transientError marks an error as transient (worth retrying against the
// next provider) and optionally carries a server-suggested retry delay.
type transientError struct {
	err        error
	retryAfter time.Duration
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// NewTransientError wraps err as transient with no suggested delay.
func NewTransientError(err error) error {
	return &transientError{err: err}
}

// NewTransientErrorWithRetry wraps err as transient with a suggested delay
// (e.g. parsed from a 429 response's Retry-After header).
func NewTransientErrorWithRetry(err error, retryAfter time.Duration) error {
	return &transientError{err: err, retryAfter: retryAfter}
}

// IsTransient reports whether err (or anything it wraps) is transient.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// GetRetryAfter returns the suggested retry delay for a transient error,
// or 0 if err is not transient or carries no suggestion.
func GetRetryAfter(err error) time.Duration {
	var t *transientError
	if errors.As(err, &t) {
		return t.retryAfter
	}
	return 0
}
