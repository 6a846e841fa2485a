package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/djt/pkg/api"
	"github.com/cuemby/djt/pkg/jobkey"
	"github.com/cuemby/djt/pkg/jobstore"
	"github.com/cuemby/djt/pkg/storage"
	"github.com/cuemby/djt/pkg/tracker"
	"github.com/cuemby/djt/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	jobs := jobstore.New(storage.NewMemoryStore(), time.Second)
	svc := tracker.NewService(jobs, jobkey.NewRegistry(), nil, zerolog.Nop())
	server := httptest.NewServer(api.NewServer(svc, api.Options{}, zerolog.Nop()).Handler())
	t.Cleanup(server.Close)

	c, err := NewClient(server.URL, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

var key = types.JobKey{AppID: "ocr", TenantID: "t1", PatientID: "p 1", DocumentID: "d#1", RunID: "r1"}

func pageUpdate(page int, status types.Status) *types.PipelineStatusUpdate {
	return &types.PipelineStatusUpdate{
		AppID:      key.AppID,
		TenantID:   key.TenantID,
		PatientID:  key.PatientID,
		DocumentID: key.DocumentID,
		RunID:      key.RunID,
		PageNumber: &page,
		Status:     status,
	}
}

func TestClientRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	job, err := c.CreateJob(ctx, tracker.CreateJobRequest{
		AppID: key.AppID, TenantID: key.TenantID, PatientID: key.PatientID,
		DocumentID: key.DocumentID, RunID: key.RunID, Name: "extract", Pages: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, key, job.Key)

	job, err = c.SendStatusUpdate(ctx, pageUpdate(1, types.StatusCompleted))
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, job.Pages[1].Status)

	got, err := c.GetJob(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "extract", got.Name)
	assert.Equal(t, int64(2), got.Version)

	jobs, err := c.ListJobs(ctx, types.JobFilter{AppID: "ocr", TenantID: "t1"})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
}

func TestClientMapsErrors(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.GetJob(ctx, key)
	assert.ErrorIs(t, err, types.ErrNotFound)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 404, apiErr.StatusCode)
	assert.NotEmpty(t, apiErr.RequestID)

	_, err = c.SendStatusUpdate(ctx, pageUpdate(1, types.StatusInProgress))
	require.NoError(t, err)

	job, err := c.SendStatusUpdate(ctx, pageUpdate(1, types.StatusQueued))
	assert.ErrorIs(t, err, types.ErrStaleStatus)
	require.NotNil(t, job)
	assert.Equal(t, types.StatusInProgress, job.Pages[1].Status)

	bad := pageUpdate(1, types.StatusQueued)
	bad.RunID = "r:1"
	_, err = c.SendStatusUpdate(ctx, bad)
	assert.ErrorIs(t, err, types.ErrInvalidKey)
}

func TestNewClientAddress(t *testing.T) {
	tests := []struct {
		addr    string
		want    string
		wantErr bool
	}{
		{addr: "127.0.0.1:8080", want: "http://127.0.0.1:8080"},
		{addr: "https://djt.example.com/", want: "https://djt.example.com"},
		{addr: "ftp://djt.example.com", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			c, err := NewClient(tt.addr, 0)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.baseURL)
		})
	}
}
