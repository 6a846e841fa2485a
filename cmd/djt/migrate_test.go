package main

import (
	"context"
	"testing"

	"github.com/cuemby/djt/pkg/storage"
	"github.com/cuemby/djt/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyJobsSkipsExisting(t *testing.T) {
	ctx := context.Background()
	src, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer src.Close()
	dst := storage.NewMemoryStore()

	for _, run := range []string{"r1", "r2", "r3"} {
		job := &types.Job{
			Key:        types.JobKey{AppID: "ocr", TenantID: "t1", PatientID: "p1", DocumentID: "d1", RunID: run},
			TotalPages: 1,
			Status:     types.StatusQueued,
			Pages:      map[int]*types.PageStatus{1: {PageNumber: 1, Status: types.StatusQueued}},
		}
		require.NoError(t, src.InsertJob(ctx, job))
	}
	require.NoError(t, dst.InsertJob(ctx, &types.Job{
		Key:        types.JobKey{AppID: "ocr", TenantID: "t1", PatientID: "p1", DocumentID: "d1", RunID: "r2"},
		TotalPages: 1,
		Status:     types.StatusCompleted,
	}))

	jobs, err := src.ListJobs(ctx, types.JobFilter{})
	require.NoError(t, err)

	copied, skipped, err := copyJobs(ctx, jobs, dst)
	require.NoError(t, err)
	assert.Equal(t, 2, copied)
	assert.Equal(t, 1, skipped)

	kept, err := dst.GetJob(ctx, types.JobKey{AppID: "ocr", TenantID: "t1", PatientID: "p1", DocumentID: "d1", RunID: "r2"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, kept.Status)
}
