package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/cuemby/djt/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastWebhook(url string, maxRetries int) *WebhookSink {
	s := NewWebhookSink(url, time.Second, maxRetries)
	s.backoff = func() *backoff.ExponentialBackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = time.Millisecond
		b.MaxInterval = 5 * time.Millisecond
		return b
	}
	return s
}

func TestWebhookSinkDelivers(t *testing.T) {
	var received events.Event
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, string(events.EventJobUpdated), r.Header.Get("X-DJT-Event"))
		assert.Equal(t, "3", r.Header.Get("X-DJT-Job-Version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	event := testEvent()
	require.NoError(t, fastWebhook(server.URL, 0).Send(context.Background(), event))
	assert.Equal(t, event.ID, received.ID)
	require.NotNil(t, received.Job)
	assert.Equal(t, event.Job.Key, received.Job.Key)
}

func TestWebhookSinkRetries(t *testing.T) {
	tests := []struct {
		name       string
		statuses   []int
		maxRetries int
		wantErr    bool
		wantCalls  int32
	}{
		{name: "recovers after 5xx", statuses: []int{500, 503, 200}, maxRetries: 3, wantCalls: 3},
		{name: "retries 429", statuses: []int{429, 200}, maxRetries: 3, wantCalls: 2},
		{name: "gives up", statuses: []int{500, 500, 500}, maxRetries: 2, wantErr: true, wantCalls: 3},
		{name: "4xx is permanent", statuses: []int{400, 200}, maxRetries: 3, wantErr: true, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.statuses[n-1])
			}))
			defer server.Close()

			err := fastWebhook(server.URL, tt.maxRetries).Send(context.Background(), testEvent())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, atomic.LoadInt32(&calls))
		})
	}
}
