package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/djt/pkg/metrics"
	"github.com/cuemby/djt/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketJobs = []byte("jobs")
)

// errSkipWrite aborts a bolt transaction without reporting a failure
var errSkipWrite = errors.New("skip write")

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store in dataDir. The file lock
// held by bolt keeps other processes from opening the same database.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "djt.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketJobs); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketJobs, err)
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database file is still open and readable
func (s *BoltStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketJobs) == nil {
			return fmt.Errorf("bucket %s missing", bucketJobs)
		}
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *BoltStore) GetJob(ctx context.Context, key types.JobKey) (*types.Job, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreOperationDuration, "bolt", "get")

	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}

	var job *types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		job, err = readJob(tx.Bucket(bucketJobs), key)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	if job == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, key)
	}
	return job, nil
}

func (s *BoltStore) InsertJob(ctx context.Context, job *types.Job) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreOperationDuration, "bolt", "insert")

	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		if b.Get([]byte(job.Key.String())) != nil {
			return fmt.Errorf("%w: %s", types.ErrDuplicateJob, job.Key)
		}
		job.Version = 1
		return writeJob(b, job)
	})
	return classify(err)
}

func (s *BoltStore) UpdateJob(ctx context.Context, key types.JobKey, fn UpdateFunc) (*types.Job, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreOperationDuration, "bolt", "update")

	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}

	// bolt allows one read-write transaction at a time, which serializes
	// the read-merge-write below
	var result *types.Job
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketJobs)
		current, err := readJob(b, key)
		if err != nil {
			return err
		}

		next, err := fn(current.Clone())
		if err != nil {
			return &callbackError{err: err}
		}
		if next == nil {
			result = current
			return errSkipWrite
		}

		next.Key = key
		next.Version = 1
		if current != nil {
			next.Version = current.Version + 1
		}
		if err := writeJob(b, next); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil && !errors.Is(err, errSkipWrite) {
		return nil, classify(err)
	}
	return result, nil
}

func (s *BoltStore) ListJobs(ctx context.Context, filter types.JobFilter) ([]*types.Job, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreOperationDuration, "bolt", "list")

	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}

	prefix := []byte(filter.Prefix())
	var jobs []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketJobs).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var job types.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return fmt.Errorf("failed to decode job %s: %w", k, err)
			}
			if !filter.Matches(&job) {
				continue
			}
			jobs = append(jobs, &job)
			if filter.Limit > 0 && len(jobs) >= filter.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return jobs, nil
}

func readJob(b *bolt.Bucket, key types.JobKey) (*types.Job, error) {
	data := b.Get([]byte(key.String()))
	if data == nil {
		return nil, nil
	}
	var job types.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", key, err)
	}
	return &job, nil
}

func writeJob(b *bolt.Bucket, job *types.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return b.Put([]byte(job.Key.String()), data)
}

// callbackError carries an UpdateFunc error out of a transaction so it can
// be returned unchanged
type callbackError struct {
	err error
}

func (e *callbackError) Error() string { return e.err.Error() }

// classify maps bolt failures onto the store error taxonomy
func classify(err error) error {
	if err == nil {
		return nil
	}
	var cbErr *callbackError
	if errors.As(err, &cbErr) {
		return cbErr.err
	}
	if errors.Is(err, types.ErrDuplicateJob) {
		return err
	}
	return unavailable(err)
}

func unavailable(err error) error {
	if errors.Is(err, types.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
}
