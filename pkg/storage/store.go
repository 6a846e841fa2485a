package storage

import (
	"context"

	"github.com/cuemby/djt/pkg/types"
)

// UpdateFunc computes the next state of a job from its current state.
// current is nil when no job exists for the key and is owned by the
// callee. Returning a nil job skips the write; returning an error aborts
// the transaction and the error is passed through unchanged.
type UpdateFunc func(current *types.Job) (*types.Job, error)

// Store defines the interface for job state storage.
// Implementations must make UpdateJob atomic per key: concurrent calls
// for the same key are serialized so no intermediate write is lost.
type Store interface {
	// GetJob returns types.ErrNotFound for an unknown key
	GetJob(ctx context.Context, key types.JobKey) (*types.Job, error)

	// InsertJob stores a new job and returns types.ErrDuplicateJob when the
	// key is already present. Version is set to 1.
	InsertJob(ctx context.Context, job *types.Job) error

	// UpdateJob runs fn against the current state and persists its result
	// as one unit, bumping Version. It returns the stored job.
	UpdateJob(ctx context.Context, key types.JobKey, fn UpdateFunc) (*types.Job, error)

	// ListJobs returns jobs matching the filter ordered by storage key
	ListJobs(ctx context.Context, filter types.JobFilter) ([]*types.Job, error)

	// Ping verifies the backend is reachable
	Ping(ctx context.Context) error

	// Close releases the backend
	Close() error
}
