package types

import "errors"

var (
	// ErrInvalidKey indicates a malformed JobKey field. Not retryable.
	ErrInvalidKey = errors.New("invalid job key")

	// ErrInvalidUpdate indicates a status update that can never apply,
	// such as an unknown status or a page outside the job.
	ErrInvalidUpdate = errors.New("invalid status update")

	// ErrStaleStatus indicates an update that would regress a page status.
	// The update is dropped and the current state is left unchanged.
	ErrStaleStatus = errors.New("stale status update")

	// ErrDuplicateJob is returned by explicit creation on an existing key
	ErrDuplicateJob = errors.New("job already exists")

	// ErrNotFound is returned when no job exists for a key
	ErrNotFound = errors.New("job not found")

	// ErrStoreUnavailable wraps backend I/O failures. Safe to retry.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// IsRetryable reports whether the caller may retry the failed operation
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
