package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/djt/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(doc, run string) types.JobKey {
	return types.JobKey{
		AppID:      "ocr",
		TenantID:   "tenant-1",
		PatientID:  "patient-7",
		DocumentID: doc,
		RunID:      run,
	}
}

func testJob(key types.JobKey, status types.Status) *types.Job {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &types.Job{
		Key:        key,
		Name:       "extract",
		TotalPages: 2,
		Status:     status,
		Pages: map[int]*types.PageStatus{
			1: {PageNumber: 1, Status: status, LastUpdated: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// runStoreSuite exercises the Store contract against one backend
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetJob(ctx, testKey("doc-missing", "r1"))
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("insert and get", func(t *testing.T) {
		s := newStore(t)
		job := testJob(testKey("doc-1", "r1"), types.StatusQueued)
		require.NoError(t, s.InsertJob(ctx, job))

		got, err := s.GetJob(ctx, job.Key)
		require.NoError(t, err)
		assert.Equal(t, job.Key, got.Key)
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, types.StatusQueued, got.Status)
		require.Contains(t, got.Pages, 1)
		assert.Equal(t, types.StatusQueued, got.Pages[1].Status)
	})

	t.Run("insert duplicate", func(t *testing.T) {
		s := newStore(t)
		job := testJob(testKey("doc-1", "r1"), types.StatusQueued)
		require.NoError(t, s.InsertJob(ctx, job))

		err := s.InsertJob(ctx, testJob(job.Key, types.StatusCompleted))
		assert.ErrorIs(t, err, types.ErrDuplicateJob)

		got, err := s.GetJob(ctx, job.Key)
		require.NoError(t, err)
		assert.Equal(t, types.StatusQueued, got.Status)
	})

	t.Run("update creates absent job", func(t *testing.T) {
		s := newStore(t)
		key := testKey("doc-2", "r1")

		got, err := s.UpdateJob(ctx, key, func(current *types.Job) (*types.Job, error) {
			assert.Nil(t, current)
			return testJob(key, types.StatusInProgress), nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)

		stored, err := s.GetJob(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, types.StatusInProgress, stored.Status)
	})

	t.Run("update bumps version", func(t *testing.T) {
		s := newStore(t)
		job := testJob(testKey("doc-3", "r1"), types.StatusQueued)
		require.NoError(t, s.InsertJob(ctx, job))

		got, err := s.UpdateJob(ctx, job.Key, func(current *types.Job) (*types.Job, error) {
			require.NotNil(t, current)
			current.Status = types.StatusCompleted
			return current, nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)
		assert.Equal(t, types.StatusCompleted, got.Status)
	})

	t.Run("callback error passes through", func(t *testing.T) {
		s := newStore(t)
		job := testJob(testKey("doc-4", "r1"), types.StatusQueued)
		require.NoError(t, s.InsertJob(ctx, job))

		sentinel := errors.New("refused")
		_, err := s.UpdateJob(ctx, job.Key, func(current *types.Job) (*types.Job, error) {
			current.Status = types.StatusFailed
			return nil, sentinel
		})
		assert.Equal(t, sentinel, err)

		got, err := s.GetJob(ctx, job.Key)
		require.NoError(t, err)
		assert.Equal(t, types.StatusQueued, got.Status)
		assert.Equal(t, int64(1), got.Version)
	})

	t.Run("nil result skips write", func(t *testing.T) {
		s := newStore(t)
		job := testJob(testKey("doc-5", "r1"), types.StatusQueued)
		require.NoError(t, s.InsertJob(ctx, job))

		got, err := s.UpdateJob(ctx, job.Key, func(current *types.Job) (*types.Job, error) {
			return nil, nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, types.StatusQueued, got.Status)
	})

	t.Run("concurrent updates are serialized", func(t *testing.T) {
		s := newStore(t)
		key := testKey("doc-6", "r1")
		const writers = 20

		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.UpdateJob(ctx, key, func(current *types.Job) (*types.Job, error) {
					if current == nil {
						current = testJob(key, types.StatusInProgress)
						current.TotalPages = 0
					}
					current.TotalPages++
					return current, nil
				})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := s.GetJob(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, writers, got.TotalPages)
		assert.Equal(t, int64(writers), got.Version)
	})

	t.Run("list by prefix status and limit", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.InsertJob(ctx, testJob(testKey("doc-a", "r1"), types.StatusCompleted)))
		require.NoError(t, s.InsertJob(ctx, testJob(testKey("doc-a", "r2"), types.StatusFailed)))
		require.NoError(t, s.InsertJob(ctx, testJob(testKey("doc-b", "r1"), types.StatusCompleted)))
		other := testKey("doc-a", "r1")
		other.TenantID = "tenant-2"
		require.NoError(t, s.InsertJob(ctx, testJob(other, types.StatusCompleted)))

		tests := []struct {
			name   string
			filter types.JobFilter
			want   []string
		}{
			{
				name:   "all",
				filter: types.JobFilter{},
				want: []string{
					"ocr:tenant-1:patient-7:doc-a:r1",
					"ocr:tenant-1:patient-7:doc-a:r2",
					"ocr:tenant-1:patient-7:doc-b:r1",
					"ocr:tenant-2:patient-7:doc-a:r1",
				},
			},
			{
				name:   "tenant",
				filter: types.JobFilter{AppID: "ocr", TenantID: "tenant-1"},
				want: []string{
					"ocr:tenant-1:patient-7:doc-a:r1",
					"ocr:tenant-1:patient-7:doc-a:r2",
					"ocr:tenant-1:patient-7:doc-b:r1",
				},
			},
			{
				name:   "document",
				filter: types.JobFilter{AppID: "ocr", TenantID: "tenant-1", PatientID: "patient-7", DocumentID: "doc-a"},
				want: []string{
					"ocr:tenant-1:patient-7:doc-a:r1",
					"ocr:tenant-1:patient-7:doc-a:r2",
				},
			},
			{
				name:   "status",
				filter: types.JobFilter{AppID: "ocr", Status: types.StatusFailed},
				want:   []string{"ocr:tenant-1:patient-7:doc-a:r2"},
			},
			{
				name:   "limit",
				filter: types.JobFilter{Limit: 2},
				want: []string{
					"ocr:tenant-1:patient-7:doc-a:r1",
					"ocr:tenant-1:patient-7:doc-a:r2",
				},
			},
			{
				name:   "no match",
				filter: types.JobFilter{AppID: "billing"},
				want:   nil,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				jobs, err := s.ListJobs(ctx, tt.filter)
				require.NoError(t, err)

				var got []string
				for _, j := range jobs {
					got = append(got, j.Key.String())
				}
				assert.Equal(t, tt.want, got)
			})
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		s := newStore(t)
		canceled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := s.GetJob(canceled, testKey("doc-1", "r1"))
		assert.ErrorIs(t, err, types.ErrStoreUnavailable)
		assert.True(t, types.IsRetryable(err))
	})

	t.Run("ping", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Ping(ctx))
	})
}
