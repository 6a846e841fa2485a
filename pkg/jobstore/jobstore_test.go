package jobstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/djt/pkg/storage"
	"github.com/cuemby/djt/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testKey(run string) types.JobKey {
	return types.JobKey{AppID: "ocr", TenantID: "t1", PatientID: "p1", DocumentID: "d1", RunID: run}
}

func page(n int) *int { return &n }

func update(key types.JobKey, pageNum *int, status types.Status) *types.PipelineStatusUpdate {
	return &types.PipelineStatusUpdate{
		AppID:      key.AppID,
		TenantID:   key.TenantID,
		PatientID:  key.PatientID,
		DocumentID: key.DocumentID,
		RunID:      key.RunID,
		PageNumber: pageNum,
		Status:     status,
	}
}

// backends runs fn against every in-process storage backend
func backends(t *testing.T, fn func(t *testing.T, s *JobStore)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, New(storage.NewMemoryStore(), time.Second, WithClock(func() time.Time { return fixedNow })))
	})
	t.Run("bolt", func(t *testing.T) {
		bs, err := storage.NewBoltStore(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { _ = bs.Close() })
		fn(t, New(bs, time.Second, WithClock(func() time.Time { return fixedNow })))
	})
}

func TestCreateOrGet(t *testing.T) {
	backends(t, func(t *testing.T, s *JobStore) {
		ctx := context.Background()
		key := testKey("r1")

		job, created, err := s.CreateOrGet(ctx, key, Seed{Name: "extract", TotalPages: 3})
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, 3, job.TotalPages)
		assert.Equal(t, types.StatusNotStarted, job.Status)
		assert.Equal(t, fixedNow, job.CreatedAt)

		again, created, err := s.CreateOrGet(ctx, key, Seed{Name: "other", TotalPages: 9})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "extract", again.Name)
		assert.Equal(t, 3, again.TotalPages)
		assert.Equal(t, job.Version, again.Version)
	})
}

func TestCreateOrGet_Concurrent(t *testing.T) {
	backends(t, func(t *testing.T, s *JobStore) {
		ctx := context.Background()
		key := testKey("r1")
		const callers = 50

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			created int
			errs    []error
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, c, err := s.CreateOrGet(ctx, key, Seed{TotalPages: 2})
				mu.Lock()
				defer mu.Unlock()
				if c {
					created++
				}
				if err != nil {
					errs = append(errs, err)
				}
			}()
		}
		wg.Wait()

		assert.Empty(t, errs)
		assert.Equal(t, 1, created)

		jobs, err := s.List(ctx, types.JobFilter{})
		require.NoError(t, err)
		assert.Len(t, jobs, 1)
		assert.Equal(t, int64(1), jobs[0].Version)
	})
}

func TestCreate(t *testing.T) {
	backends(t, func(t *testing.T, s *JobStore) {
		ctx := context.Background()
		job := &types.Job{Key: testKey("r1"), Name: "extract", TotalPages: 2}

		require.NoError(t, s.Create(ctx, job))
		assert.Equal(t, types.StatusNotStarted, job.Status)
		assert.Equal(t, fixedNow, job.CreatedAt)

		err := s.Create(ctx, &types.Job{Key: testKey("r1"), TotalPages: 2})
		assert.ErrorIs(t, err, types.ErrDuplicateJob)

		err = s.Create(ctx, &types.Job{Key: testKey("r2"), TotalPages: 0})
		assert.ErrorIs(t, err, types.ErrInvalidUpdate)
	})
}

func TestApplyUpdate_LazyCreate(t *testing.T) {
	tests := []struct {
		name      string
		update    func(key types.JobKey) *types.PipelineStatusUpdate
		wantPages int
		wantName  string
	}{
		{
			name: "pages from update",
			update: func(key types.JobKey) *types.PipelineStatusUpdate {
				u := update(key, page(1), types.StatusQueued)
				u.Pages = 4
				u.Name = "extract"
				return u
			},
			wantPages: 4,
			wantName:  "extract",
		},
		{
			name: "sized to page number",
			update: func(key types.JobKey) *types.PipelineStatusUpdate {
				return update(key, page(3), types.StatusQueued)
			},
			wantPages: 3,
		},
		{
			name: "job level update",
			update: func(key types.JobKey) *types.PipelineStatusUpdate {
				return update(key, nil, types.StatusInProgress)
			},
			wantPages: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backends(t, func(t *testing.T, s *JobStore) {
				key := testKey("r1")
				job, outcome, err := s.ApplyUpdate(context.Background(), key, tt.update(key))
				require.NoError(t, err)
				assert.Equal(t, OutcomeCreated, outcome)
				assert.Equal(t, tt.wantPages, job.TotalPages)
				assert.Equal(t, tt.wantName, job.Name)
				assert.Equal(t, int64(1), job.Version)
				assert.Len(t, job.Pages, 1)
			})
		})
	}
}

func TestApplyUpdate_PageBeyondTotal(t *testing.T) {
	backends(t, func(t *testing.T, s *JobStore) {
		ctx := context.Background()
		key := testKey("r1")

		u := update(key, page(5), types.StatusQueued)
		u.Pages = 2
		_, _, err := s.ApplyUpdate(ctx, key, u)
		assert.ErrorIs(t, err, types.ErrInvalidUpdate)

		// Nothing was created
		_, err = s.Get(ctx, key)
		assert.ErrorIs(t, err, types.ErrNotFound)
	})
}

func TestApplyUpdate_ThreePageScenario(t *testing.T) {
	backends(t, func(t *testing.T, s *JobStore) {
		ctx := context.Background()
		key := testKey("r1")
		_, _, err := s.CreateOrGet(ctx, key, Seed{TotalPages: 3})
		require.NoError(t, err)

		steps := []struct {
			page int
			to   types.Status
		}{
			{1, types.StatusCompleted},
			{2, types.StatusCompleted},
			{3, types.StatusInProgress},
		}
		var job *types.Job
		for _, step := range steps {
			job, _, err = s.ApplyUpdate(ctx, key, update(key, page(step.page), step.to))
			require.NoError(t, err)
		}
		assert.Equal(t, types.StatusInProgress, job.Status)

		job, outcome, err := s.ApplyUpdate(ctx, key, update(key, page(3), types.StatusCompleted))
		require.NoError(t, err)
		assert.Equal(t, OutcomeUpdated, outcome)
		assert.Equal(t, types.StatusCompleted, job.Status)

		stored, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, types.StatusCompleted, stored.Status)
		assert.Equal(t, int64(5), stored.Version)
	})
}

func TestApplyUpdate_FailedAfterCompleted(t *testing.T) {
	backends(t, func(t *testing.T, s *JobStore) {
		ctx := context.Background()
		key := testKey("r1")
		_, _, err := s.CreateOrGet(ctx, key, Seed{TotalPages: 3})
		require.NoError(t, err)

		for _, p := range []int{1, 2, 3} {
			_, _, err = s.ApplyUpdate(ctx, key, update(key, page(p), types.StatusCompleted))
			require.NoError(t, err)
		}

		job, _, err := s.ApplyUpdate(ctx, key, update(key, page(2), types.StatusFailed))
		require.NoError(t, err)
		assert.Equal(t, types.StatusFailed, job.Pages[2].Status)
		assert.Equal(t, types.StatusFailed, job.Status)

		// FAILED absorbs later unforced updates
		_, _, err = s.ApplyUpdate(ctx, key, update(key, page(2), types.StatusCompleted))
		assert.ErrorIs(t, err, types.ErrStaleStatus)

		forced := update(key, page(2), types.StatusCompleted)
		forced.Force = true
		job, _, err = s.ApplyUpdate(ctx, key, forced)
		require.NoError(t, err)
		assert.Equal(t, types.StatusCompleted, job.Status)
	})
}

func TestApplyUpdate_StaleReturnsCurrent(t *testing.T) {
	backends(t, func(t *testing.T, s *JobStore) {
		ctx := context.Background()
		key := testKey("r1")
		_, _, err := s.CreateOrGet(ctx, key, Seed{TotalPages: 3})
		require.NoError(t, err)
		before, _, err := s.ApplyUpdate(ctx, key, update(key, page(2), types.StatusInProgress))
		require.NoError(t, err)

		job, outcome, err := s.ApplyUpdate(ctx, key, update(key, page(2), types.StatusQueued))
		require.Error(t, err)
		assert.True(t, errors.Is(err, types.ErrStaleStatus))
		assert.Equal(t, OutcomeUnchanged, outcome)
		require.NotNil(t, job)
		assert.Equal(t, types.StatusInProgress, job.Pages[2].Status)

		stored, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, before.Version, stored.Version)
		assert.Equal(t, types.StatusInProgress, stored.Pages[2].Status)
	})
}

func TestApplyUpdate_Idempotent(t *testing.T) {
	backends(t, func(t *testing.T, s *JobStore) {
		ctx := context.Background()
		key := testKey("r1")
		u := update(key, page(1), types.StatusInProgress)
		u.Metadata = map[string]any{"worker": "w-1"}

		first, outcome, err := s.ApplyUpdate(ctx, key, u)
		require.NoError(t, err)
		assert.Equal(t, OutcomeCreated, outcome)

		second, outcome, err := s.ApplyUpdate(ctx, key, u)
		require.NoError(t, err)
		assert.Equal(t, OutcomeUnchanged, outcome)
		assert.Equal(t, first.Version, second.Version)
		assert.Equal(t, first.Status, second.Status)
		assert.Equal(t, first.Pages[1].Status, second.Pages[1].Status)
	})
}

func TestApplyUpdate_ConcurrentSerialized(t *testing.T) {
	backends(t, func(t *testing.T, s *JobStore) {
		ctx := context.Background()
		key := testKey("r1")
		const pages = 20

		var wg sync.WaitGroup
		errs := make(chan error, pages)
		for p := 1; p <= pages; p++ {
			wg.Add(1)
			go func(p int) {
				defer wg.Done()
				u := update(key, page(p), types.StatusCompleted)
				u.Pages = pages
				_, _, err := s.ApplyUpdate(ctx, key, u)
				errs <- err
			}(p)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		job, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, pages, job.RealPageCount())
		assert.Equal(t, types.StatusCompleted, job.Status)
		assert.Equal(t, int64(pages), job.Version)
	})
}

func TestApplyUpdate_InvalidStatus(t *testing.T) {
	s := New(storage.NewMemoryStore(), time.Second)
	key := testKey("r1")

	_, _, err := s.ApplyUpdate(context.Background(), key, update(key, page(1), "DONE"))
	assert.ErrorIs(t, err, types.ErrInvalidUpdate)
}

type slowStore struct {
	storage.Store
}

func (s slowStore) GetJob(ctx context.Context, key types.JobKey) (*types.Job, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestGet_TimeoutIsRetryable(t *testing.T) {
	s := New(slowStore{Store: storage.NewMemoryStore()}, 10*time.Millisecond)

	_, err := s.Get(context.Background(), testKey("r1"))
	assert.ErrorIs(t, err, types.ErrStoreUnavailable)
	assert.True(t, types.IsRetryable(err))
}

func TestSeedFromUpdate(t *testing.T) {
	key := testKey("r1")
	tests := []struct {
		name   string
		update *types.PipelineStatusUpdate
		want   int
	}{
		{name: "explicit pages", update: &types.PipelineStatusUpdate{Pages: 7, PageNumber: page(2)}, want: 7},
		{name: "page number", update: update(key, page(4), types.StatusQueued), want: 4},
		{name: "job level", update: update(key, nil, types.StatusQueued), want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SeedFromUpdate(tt.update).TotalPages)
		})
	}
}
