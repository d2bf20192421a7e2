package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input caught before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicate indicates a uniqueness violation.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrSourceUnavailable indicates a dependency outage. Callers may retry with backoff.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrConcurrentModification indicates a lock or version conflict on mutation. Callers retry.
	ErrConcurrentModification = errors.New("concurrent modification")
)
