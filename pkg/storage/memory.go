package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cuemby/djt/pkg/metrics"
	"github.com/cuemby/djt/pkg/types"
)

// MemoryStore implements Store in process memory. UpdateJob holds a lock
// for the key only, so updates to different jobs run in parallel.
// Stored jobs are cloned on the way in and out.
type MemoryStore struct {
	mu    sync.RWMutex
	jobs  map[string]*types.Job
	locks *keyedMutex
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:  make(map[string]*types.Job),
		locks: newKeyedMutex(),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, key types.JobKey) (*types.Job, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreOperationDuration, "memory", "get")

	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}

	s.mu.RLock()
	job, ok := s.jobs[key.String()]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, key)
	}
	return job.Clone(), nil
}

func (s *MemoryStore) InsertJob(ctx context.Context, job *types.Job) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreOperationDuration, "memory", "insert")

	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}

	id := job.Key.String()
	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; ok {
		return fmt.Errorf("%w: %s", types.ErrDuplicateJob, job.Key)
	}
	job.Version = 1
	s.jobs[id] = job.Clone()
	return nil
}

func (s *MemoryStore) UpdateJob(ctx context.Context, key types.JobKey, fn UpdateFunc) (*types.Job, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreOperationDuration, "memory", "update")

	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}

	id := key.String()
	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	s.mu.RLock()
	current := s.jobs[id]
	s.mu.RUnlock()

	next, err := fn(current.Clone())
	if err != nil {
		return nil, err
	}
	if next == nil {
		return current.Clone(), nil
	}

	next.Key = key
	next.Version = 1
	if current != nil {
		next.Version = current.Version + 1
	}

	s.mu.Lock()
	s.jobs[id] = next.Clone()
	s.mu.Unlock()
	return next, nil
}

func (s *MemoryStore) ListJobs(ctx context.Context, filter types.JobFilter) ([]*types.Job, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreOperationDuration, "memory", "list")

	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}

	prefix := filter.Prefix()
	s.mu.RLock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var jobs []*types.Job
	for _, id := range ids {
		job := s.jobs[id]
		if !filter.Matches(job) {
			continue
		}
		jobs = append(jobs, job.Clone())
		if filter.Limit > 0 && len(jobs) >= filter.Limit {
			break
		}
	}
	s.mu.RUnlock()
	return jobs, nil
}

// keyedMutex hands out one mutex per key and forgets it once no goroutine
// holds or waits for it
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
}

func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	m := k.locks[key]
	m.refs--
	if m.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	m.Unlock()
}
