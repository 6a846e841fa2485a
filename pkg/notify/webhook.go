package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/cuemby/djt/pkg/events"
)

// WebhookSink POSTs each event as JSON to a URL. Network errors and 5xx
// or 429 responses are retried with exponential backoff; other non-2xx
// responses fail at once.
type WebhookSink struct {
	url        string
	client     *http.Client
	maxRetries uint64
	backoff    func() *backoff.ExponentialBackOff
}

// NewWebhookSink creates a webhook sink
func NewWebhookSink(url string, timeout time.Duration, maxRetries int) *WebhookSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &WebhookSink{
		url:        url,
		client:     &http.Client{Timeout: timeout},
		maxRetries: uint64(maxRetries),
		backoff: func() *backoff.ExponentialBackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Send(ctx context.Context, event *events.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", event.ID, err)
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-DJT-Event", string(event.Type))
		req.Header.Set("X-DJT-Event-ID", event.ID)
		if event.Job != nil {
			req.Header.Set("X-DJT-Job-Version", strconv.FormatInt(event.Job.Version, 10))
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("webhook returned %s", resp.Status)
		default:
			return backoff.Permanent(fmt.Errorf("webhook returned %s", resp.Status))
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(s.backoff(), s.maxRetries), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return fmt.Errorf("failed to deliver event %s: %w", event.ID, err)
	}
	return nil
}

func (s *WebhookSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
