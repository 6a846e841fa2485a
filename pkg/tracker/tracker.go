package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/djt/pkg/events"
	"github.com/cuemby/djt/pkg/jobkey"
	"github.com/cuemby/djt/pkg/jobstore"
	"github.com/cuemby/djt/pkg/log"
	"github.com/cuemby/djt/pkg/metrics"
	"github.com/cuemby/djt/pkg/types"
	"github.com/rs/zerolog"
)

// Notifier receives a snapshot of every job the service changes
type Notifier interface {
	Publish(event *events.Event)
}

type nopNotifier struct{}

func (nopNotifier) Publish(*events.Event) {}

// CreateJobRequest describes an explicitly created job
type CreateJobRequest struct {
	AppID      string
	TenantID   string
	PatientID  string
	DocumentID string
	RunID      string
	Name       string
	Pages      int
	Metadata   map[string]any
}

// Key returns the identity fields of the request
func (r CreateJobRequest) Key() types.JobKey {
	return types.JobKey{
		AppID:      r.AppID,
		TenantID:   r.TenantID,
		PatientID:  r.PatientID,
		DocumentID: r.DocumentID,
		RunID:      r.RunID,
	}
}

// Service is the entry point for job lifecycle operations. It resolves
// keys, drives the job store and publishes a notification for every
// mutation.
type Service struct {
	jobs     *jobstore.JobStore
	keys     *jobkey.Registry
	notifier Notifier
	logger   zerolog.Logger
}

// NewService creates a new lifecycle service. A nil notifier discards events.
func NewService(jobs *jobstore.JobStore, keys *jobkey.Registry, notifier Notifier, logger zerolog.Logger) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Service{
		jobs:     jobs,
		keys:     keys,
		notifier: notifier,
		logger:   logger,
	}
}

// HandleStatusUpdate folds one pipeline status report into its job and
// returns the job as stored afterwards.
//
// A stale update returns the unchanged job together with
// types.ErrStaleStatus so callers can tell an ignored update from an
// applied one.
func (s *Service) HandleStatusUpdate(ctx context.Context, update *types.PipelineStatusUpdate) (*types.Job, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.StatusUpdateDuration)

	key, err := s.keys.Resolve(update)
	if err != nil {
		metrics.StatusUpdatesTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	logger := log.WithJobKey(s.logger, key).With().
		Int("page", update.TargetPage()).
		Str("status", string(update.Status)).
		Logger()

	job, outcome, err := s.jobs.ApplyUpdate(ctx, key, update)
	switch {
	case errors.Is(err, types.ErrStaleStatus):
		metrics.StatusUpdatesTotal.WithLabelValues("stale").Inc()
		logger.Warn().Err(err).Msg("Ignored stale status update")
		return job, err
	case errors.Is(err, types.ErrInvalidUpdate):
		metrics.StatusUpdatesTotal.WithLabelValues("invalid").Inc()
		logger.Debug().Err(err).Msg("Rejected status update")
		return nil, err
	case err != nil:
		metrics.StatusUpdatesTotal.WithLabelValues("error").Inc()
		logger.Error().Err(err).Msg("Failed to apply status update")
		return nil, err
	}

	metrics.StatusUpdatesTotal.WithLabelValues(outcome.String()).Inc()
	switch outcome {
	case jobstore.OutcomeCreated:
		metrics.JobsCreated.WithLabelValues("lazy").Inc()
		logger.Info().Int("total_pages", job.TotalPages).Str("job_status", string(job.Status)).Msg("Job created by status update")
		s.notifier.Publish(events.NewEvent(events.EventJobCreated, job))
	case jobstore.OutcomeUpdated:
		logger.Debug().
			Str("job_status", string(job.Status)).
			Int64("version", job.Version).
			Int("pages_reported", job.RealPageCount()).
			Int("total_pages", job.TotalPages).
			Msg("Status update applied")
		s.notifier.Publish(events.NewEvent(events.EventJobUpdated, job))
	default:
		logger.Debug().Msg("Status update already reflected")
	}
	return job, nil
}

// GetJob returns the job for key
func (s *Service) GetJob(ctx context.Context, key types.JobKey) (*types.Job, error) {
	if err := s.keys.Validate(key); err != nil {
		return nil, err
	}
	return s.jobs.Get(ctx, key)
}

// CreateJob stores a new job and fails with types.ErrDuplicateJob when the
// key already exists
func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (*types.Job, error) {
	key := req.Key()
	if err := s.keys.Validate(key); err != nil {
		return nil, err
	}

	job := &types.Job{
		Key:        key,
		Name:       req.Name,
		TotalPages: req.Pages,
		Metadata:   types.CloneMetadata(req.Metadata),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	metrics.JobsCreated.WithLabelValues("explicit").Inc()
	logger := log.WithJobKey(s.logger, key)
	logger.Info().Int("total_pages", job.TotalPages).Msg("Job created")
	s.notifier.Publish(events.NewEvent(events.EventJobCreated, job))
	return job, nil
}

// ListJobs returns jobs matching filter ordered by storage key
func (s *Service) ListJobs(ctx context.Context, filter types.JobFilter) ([]*types.Job, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", types.ErrInvalidUpdate, filter.Status)
	}
	if filter.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", types.ErrInvalidUpdate)
	}
	return s.jobs.List(ctx, filter)
}

// Ping reports whether the job store is reachable
func (s *Service) Ping(ctx context.Context) error {
	return s.jobs.Ping(ctx)
}
