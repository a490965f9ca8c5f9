package models

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned for bad caller input; nothing is persisted.
	ErrValidation = errors.New("validation error")
	// ErrNotFound is returned when a job or dead letter entry does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable marks failures to reach the durable store.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrStaleOutcome is returned when an outcome report no longer matches the
	// attempt holding the job, so nothing was changed.
	ErrStaleOutcome = errors.New("stale outcome")
	// ErrRateLimitExceeded is returned when submissions exceed the configured rate.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// ValidationError wraps ErrValidation with a message
func ValidationError(message string) error {
	return fmt.Errorf("%w: %s", ErrValidation, message)
}
