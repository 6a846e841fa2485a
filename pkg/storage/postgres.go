package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/cuemby/djt/pkg/metrics"
	"github.com/cuemby/djt/pkg/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxRetries bounds optimistic write retries per UpdateJob call
const DefaultMaxRetries = 5

// errVersionConflict signals that another writer committed first
var errVersionConflict = errors.New("version conflict")

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

const (
	selectJobSQL = `SELECT body, version FROM jobs WHERE job_key = $1`

	insertJobSQL = `
INSERT INTO jobs (job_key, app_id, tenant_id, patient_id, document_id, run_id, status, version, body, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (job_key) DO NOTHING`

	updateJobSQL = `
UPDATE jobs SET status = $2, version = $3, body = $4, updated_at = $5
WHERE job_key = $1 AND version = $6`

	listJobsSQL = `
SELECT body, version FROM jobs
WHERE starts_with(job_key, $1) AND ($2 = '' OR status = $2)
ORDER BY job_key
LIMIT NULLIF($3, 0)`
)

// PostgresStore implements Store on PostgreSQL. Writes are guarded by an
// optimistic version check, so any number of processes may share a database.
type PostgresStore struct {
	pool       *pgxpool.Pool
	tracer     trace.Tracer
	maxRetries uint64
}

// NewPostgresStore connects to dsn and verifies the connection
func NewPostgresStore(ctx context.Context, dsn string, tracer trace.Tracer, maxRetries int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return NewPostgresStoreFromPool(pool, tracer, maxRetries), nil
}

// NewPostgresStoreFromPool wraps an existing pool. The store takes
// ownership of the pool and closes it on Close.
func NewPostgresStoreFromPool(pool *pgxpool.Pool, tracer trace.Tracer, maxRetries int) *PostgresStore {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &PostgresStore{
		pool:       pool,
		tracer:     tracer,
		maxRetries: uint64(maxRetries),
	}
}

// Pool exposes the underlying connection pool for schema migrations
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks that the database answers
func (s *PostgresStore) Ping(ctx context.Context) error {
	return executeAndTrace(ctx, s.tracer, "postgres.ping", defaultDBAttributes, func(ctx context.Context) error {
		if err := s.pool.Ping(ctx); err != nil {
			return unavailable(err)
		}
		return nil
	})
}

func (s *PostgresStore) GetJob(ctx context.Context, key types.JobKey) (*types.Job, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreOperationDuration, "postgres", "get")

	var job *types.Job
	err := executeAndTrace(ctx, s.tracer, "postgres.get_job", jobAttributes(key), func(ctx context.Context) error {
		var err error
		job, err = s.selectJob(ctx, key)
		if err != nil {
			return err
		}
		if job == nil {
			return fmt.Errorf("%w: %s", types.ErrNotFound, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *PostgresStore) InsertJob(ctx context.Context, job *types.Job) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreOperationDuration, "postgres", "insert")

	return executeAndTrace(ctx, s.tracer, "postgres.insert_job", jobAttributes(job.Key), func(ctx context.Context) error {
		job.Version = 1
		inserted, err := s.insertJob(ctx, job)
		if err != nil {
			return err
		}
		if !inserted {
			return fmt.Errorf("%w: %s", types.ErrDuplicateJob, job.Key)
		}
		return nil
	})
}

func (s *PostgresStore) UpdateJob(ctx context.Context, key types.JobKey, fn UpdateFunc) (*types.Job, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreOperationDuration, "postgres", "update")

	var result *types.Job
	err := executeAndTrace(ctx, s.tracer, "postgres.update_job", jobAttributes(key), func(ctx context.Context) error {
		operation := func() error {
			job, err := s.updateOnce(ctx, key, fn)
			if err == nil {
				result = job
				return nil
			}
			if errors.Is(err, errVersionConflict) {
				metrics.StoreConflictsTotal.WithLabelValues("postgres").Inc()
				return err
			}
			return backoff.Permanent(err)
		}

		expBackoff := backoff.NewExponentialBackOff()
		expBackoff.InitialInterval = 10 * time.Millisecond
		expBackoff.MaxInterval = 500 * time.Millisecond
		b := backoff.WithContext(backoff.WithMaxRetries(expBackoff, s.maxRetries), ctx)

		err := backoff.Retry(operation, b)
		if errors.Is(err, errVersionConflict) {
			return unavailable(fmt.Errorf("%s: gave up after %d conflicting writes", key, s.maxRetries+1))
		}
		return err
	})
	if err != nil {
		var cbErr *callbackError
		if errors.As(err, &cbErr) {
			return nil, cbErr.err
		}
		return nil, err
	}
	return result, nil
}

// updateOnce performs one optimistic read-modify-write attempt
func (s *PostgresStore) updateOnce(ctx context.Context, key types.JobKey, fn UpdateFunc) (*types.Job, error) {
	current, err := s.selectJob(ctx, key)
	if err != nil {
		return nil, err
	}

	next, err := fn(current.Clone())
	if err != nil {
		return nil, &callbackError{err: err}
	}
	if next == nil {
		return current, nil
	}
	next.Key = key

	if current == nil {
		next.Version = 1
		inserted, err := s.insertJob(ctx, next)
		if err != nil {
			return nil, err
		}
		if !inserted {
			return nil, errVersionConflict
		}
		return next, nil
	}

	next.Version = current.Version + 1
	body, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job %s: %w", key, err)
	}
	tag, err := s.pool.Exec(ctx, updateJobSQL,
		key.String(), string(next.Status), next.Version, body, next.UpdatedAt, current.Version)
	if err != nil {
		return nil, unavailable(err)
	}
	if tag.RowsAffected() == 0 {
		return nil, errVersionConflict
	}
	return next, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter types.JobFilter) ([]*types.Job, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreOperationDuration, "postgres", "list")

	attrs := append(defaultDBAttributes,
		attribute.String("prefix", filter.Prefix()),
		attribute.String("status", string(filter.Status)),
		attribute.Int("limit", filter.Limit),
	)

	var jobs []*types.Job
	err := executeAndTrace(ctx, s.tracer, "postgres.list_jobs", attrs, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, listJobsSQL, filter.Prefix(), string(filter.Status), filter.Limit)
		if err != nil {
			return unavailable(err)
		}
		defer rows.Close()

		for rows.Next() {
			job, err := scanJob(rows)
			if err != nil {
				return err
			}
			jobs = append(jobs, job)
		}
		if err := rows.Err(); err != nil {
			return unavailable(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// selectJob returns nil without error when the key is absent
func (s *PostgresStore) selectJob(ctx context.Context, key types.JobKey) (*types.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, selectJobSQL, key.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

// insertJob reports false when a row with the same key already exists
func (s *PostgresStore) insertJob(ctx context.Context, job *types.Job) (bool, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("failed to encode job %s: %w", job.Key, err)
	}
	k := job.Key
	tag, err := s.pool.Exec(ctx, insertJobSQL,
		k.String(), k.AppID, k.TenantID, k.PatientID, k.DocumentID, k.RunID,
		string(job.Status), job.Version, body, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return false, unavailable(err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanJob(row pgx.Row) (*types.Job, error) {
	var (
		body    []byte
		version int64
	)
	if err := row.Scan(&body, &version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, unavailable(err)
	}

	var job types.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, unavailable(fmt.Errorf("failed to decode job: %w", err))
	}
	job.Version = version
	return &job, nil
}

func jobAttributes(key types.JobKey) []attribute.KeyValue {
	return append(defaultDBAttributes,
		attribute.String("job_key", key.String()),
		attribute.String("app_id", key.AppID),
		attribute.String("tenant_id", key.TenantID),
	)
}
