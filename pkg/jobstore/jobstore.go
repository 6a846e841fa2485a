package jobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/djt/pkg/merger"
	"github.com/cuemby/djt/pkg/storage"
	"github.com/cuemby/djt/pkg/types"
)

// DefaultTimeout bounds a single store call when none is configured
const DefaultTimeout = 5 * time.Second

// Outcome describes what ApplyUpdate did to the stored job
type Outcome int

const (
	// OutcomeUnchanged means the job already reflected the update
	OutcomeUnchanged Outcome = iota
	// OutcomeUpdated means the merge changed an existing job
	OutcomeUpdated
	// OutcomeCreated means the update created the job
	OutcomeCreated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUpdated:
		return "updated"
	case OutcomeCreated:
		return "created"
	default:
		return "unchanged"
	}
}

// Seed holds the attributes a job is created with
type Seed struct {
	Name       string
	TotalPages int
	Metadata   map[string]any
}

// SeedFromUpdate derives creation attributes from the first update seen for
// a job. Without an explicit page count the job is sized to fit the page
// the update addresses.
func SeedFromUpdate(update *types.PipelineStatusUpdate) Seed {
	total := update.Pages
	if total <= 0 {
		total = update.TargetPage()
	}
	if total < 1 {
		total = 1
	}
	return Seed{Name: update.Name, TotalPages: total}
}

// JobStore applies the job lifecycle on top of a storage backend. Atomicity
// per key comes from storage.Store.UpdateJob.
type JobStore struct {
	store   storage.Store
	timeout time.Duration
	now     func() time.Time
}

// Option configures a JobStore
type Option func(*JobStore)

// WithClock overrides the time source used for timestamps
func WithClock(now func() time.Time) Option {
	return func(s *JobStore) {
		s.now = now
	}
}

// New creates a JobStore. A non-positive timeout selects DefaultTimeout.
func New(store storage.Store, timeout time.Duration, opts ...Option) *JobStore {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &JobStore{
		store:   store,
		timeout: timeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrGet returns the job for key, creating it from seed when absent.
// created reports whether this call stored the job. Concurrent callers for
// the same key observe exactly one creation.
func (s *JobStore) CreateOrGet(ctx context.Context, key types.JobKey, seed Seed) (job *types.Job, created bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	job, err = s.store.UpdateJob(ctx, key, func(current *types.Job) (*types.Job, error) {
		created = false
		if current != nil {
			return nil, nil
		}
		created = true
		return s.newJob(key, seed), nil
	})
	if err != nil {
		return nil, false, s.wrap(ctx, err)
	}
	return job, created, nil
}

// Create stores a new job and fails with types.ErrDuplicateJob when the
// key is taken. Timestamps and status are filled in from the pages.
func (s *JobStore) Create(ctx context.Context, job *types.Job) error {
	if job.TotalPages < 1 {
		return fmt.Errorf("%w: total pages must be at least 1, got %d", types.ErrInvalidUpdate, job.TotalPages)
	}
	for num := range job.Pages {
		if num < 0 || num > job.TotalPages {
			return fmt.Errorf("%w: page %d outside 1..%d", types.ErrInvalidUpdate, num, job.TotalPages)
		}
	}

	now := s.now().UTC()
	if job.Pages == nil {
		job.Pages = make(map[int]*types.PageStatus)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	job.Status = merger.Aggregate(job.Pages, job.TotalPages)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.store.InsertJob(ctx, job); err != nil {
		return s.wrap(ctx, err)
	}
	return nil
}

// ApplyUpdate merges update into the job for key as one atomic step.
//
// When no job exists yet the update creates it first, sized by
// SeedFromUpdate. This is the only path that creates a job implicitly.
//
// A regressing update returns the unchanged current job together with
// types.ErrStaleStatus. Re-applying an update the job already reflects
// returns the job with OutcomeUnchanged and writes nothing.
func (s *JobStore) ApplyUpdate(ctx context.Context, key types.JobKey, update *types.PipelineStatusUpdate) (*types.Job, Outcome, error) {
	if err := merger.ValidateUpdate(update, 0); err != nil {
		return nil, OutcomeUnchanged, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		outcome Outcome
		stale   *types.Job
	)
	job, err := s.store.UpdateJob(ctx, key, func(current *types.Job) (*types.Job, error) {
		// The store may run this more than once on write conflicts
		outcome, stale = OutcomeUpdated, nil

		if current == nil {
			current = s.newJob(key, SeedFromUpdate(update))
			outcome = OutcomeCreated
		}

		now := s.now()
		pages, changed, err := merger.Merge(current.Pages, update, current.TotalPages, now)
		if err != nil {
			if errors.Is(err, types.ErrStaleStatus) {
				stale = current
			}
			return nil, err
		}
		if !changed && outcome != OutcomeCreated {
			outcome = OutcomeUnchanged
			return nil, nil
		}

		current.Pages = pages
		current.Status = merger.Aggregate(pages, current.TotalPages)
		current.UpdatedAt = now.UTC()
		return current, nil
	})
	if err != nil {
		if errors.Is(err, types.ErrStaleStatus) {
			return stale, OutcomeUnchanged, err
		}
		return nil, OutcomeUnchanged, s.wrap(ctx, err)
	}
	return job, outcome, nil
}

// Get returns the job for key or types.ErrNotFound
func (s *JobStore) Get(ctx context.Context, key types.JobKey) (*types.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	job, err := s.store.GetJob(ctx, key)
	if err != nil {
		return nil, s.wrap(ctx, err)
	}
	return job, nil
}

// List returns the jobs matching filter ordered by storage key
func (s *JobStore) List(ctx context.Context, filter types.JobFilter) ([]*types.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	jobs, err := s.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, s.wrap(ctx, err)
	}
	return jobs, nil
}

// Ping checks the backend
func (s *JobStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.wrap(ctx, s.store.Ping(ctx))
}

func (s *JobStore) newJob(key types.JobKey, seed Seed) *types.Job {
	now := s.now().UTC()
	total := seed.TotalPages
	if total < 1 {
		total = 1
	}
	pages := make(map[int]*types.PageStatus)
	return &types.Job{
		Key:        key,
		Name:       seed.Name,
		TotalPages: total,
		Status:     merger.Aggregate(pages, total),
		Pages:      pages,
		Metadata:   types.CloneMetadata(seed.Metadata),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// wrap turns a deadline hit inside the store into a retryable failure
func (s *JobStore) wrap(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, types.ErrStoreUnavailable) {
		return fmt.Errorf("%w: timed out after %s: %v", types.ErrStoreUnavailable, s.timeout, err)
	}
	return err
}
