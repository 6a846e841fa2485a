package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/djt/pkg/api"
	"github.com/cuemby/djt/pkg/tracker"
	"github.com/cuemby/djt/pkg/types"
)

// Client wraps the djt HTTP API for easy CLI usage
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at addr. addr is either a
// host:port or a full http(s) URL.
func NewClient(addr string, timeout time.Duration) (*Client, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid server address %q: %w", addr, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// Close releases idle connections
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// APIError is returned for every non-2xx response. It unwraps to the
// matching types sentinel so callers can use errors.Is.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("%s (HTTP %d, request %s)", e.Message, e.StatusCode, e.RequestID)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return api.ErrorForCode(e.Code)
}

type createJobBody struct {
	AppID      string         `json:"app_id"`
	TenantID   string         `json:"tenant_id"`
	PatientID  string         `json:"patient_id"`
	DocumentID string         `json:"document_id"`
	RunID      string         `json:"run_id"`
	Name       string         `json:"name,omitempty"`
	Pages      int            `json:"pages"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// SendStatusUpdate reports one pipeline status. On a stale update the
// current job is returned together with an error matching
// types.ErrStaleStatus.
func (c *Client) SendStatusUpdate(ctx context.Context, update *types.PipelineStatusUpdate) (*types.Job, error) {
	var job types.Job
	staleJob, err := c.do(ctx, http.MethodPost, "/v1/status-updates", update, &job)
	if err != nil {
		return staleJob, err
	}
	return &job, nil
}

// CreateJob creates a job explicitly
func (c *Client) CreateJob(ctx context.Context, req tracker.CreateJobRequest) (*types.Job, error) {
	body := createJobBody{
		AppID:      req.AppID,
		TenantID:   req.TenantID,
		PatientID:  req.PatientID,
		DocumentID: req.DocumentID,
		RunID:      req.RunID,
		Name:       req.Name,
		Pages:      req.Pages,
		Metadata:   req.Metadata,
	}

	var job types.Job
	if _, err := c.do(ctx, http.MethodPost, "/v1/jobs", body, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob fetches one job
func (c *Client) GetJob(ctx context.Context, key types.JobKey) (*types.Job, error) {
	path := "/v1/jobs/" + strings.Join([]string{
		url.PathEscape(key.AppID),
		url.PathEscape(key.TenantID),
		url.PathEscape(key.PatientID),
		url.PathEscape(key.DocumentID),
		url.PathEscape(key.RunID),
	}, "/")

	var job types.Job
	if _, err := c.do(ctx, http.MethodGet, path, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs lists jobs matching filter
func (c *Client) ListJobs(ctx context.Context, filter types.JobFilter) ([]*types.Job, error) {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("app_id", filter.AppID)
	set("tenant_id", filter.TenantID)
	set("patient_id", filter.PatientID)
	set("document_id", filter.DocumentID)
	set("status", string(filter.Status))
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}

	path := "/v1/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp api.ListJobsResponse
	if _, err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Health fetches the server's liveness report
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if _, err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do sends a request and decodes a 2xx body into out. For error responses
// carrying a job, that job is returned alongside the error.
func (c *Client) do(ctx context.Context, method, path string, in, out any) (*types.Job, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return nil, nil
	}

	var errResp api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error == "" {
		errResp.Error = resp.Status
	}
	return errResp.Job, &APIError{
		StatusCode: resp.StatusCode,
		Code:       errResp.Code,
		Message:    errResp.Error,
		RequestID:  errResp.RequestID,
	}
}
