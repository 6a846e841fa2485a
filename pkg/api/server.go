package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/djt/pkg/metrics"
	"github.com/cuemby/djt/pkg/tracker"
	"github.com/cuemby/djt/pkg/types"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// maxBodyBytes caps request bodies
const maxBodyBytes = 1 << 20

// Service is the job lifecycle API the server exposes
type Service interface {
	HandleStatusUpdate(ctx context.Context, update *types.PipelineStatusUpdate) (*types.Job, error)
	CreateJob(ctx context.Context, req tracker.CreateJobRequest) (*types.Job, error)
	GetJob(ctx context.Context, key types.JobKey) (*types.Job, error)
	ListJobs(ctx context.Context, filter types.JobFilter) ([]*types.Job, error)
	Ping(ctx context.Context) error
}

// Options tunes the HTTP server
type Options struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// RateLimit enables per-client limiting when non-nil
	RateLimit *RateLimit

	// ReadOnly rejects every mutating request with 405
	ReadOnly bool

	// RetryAfter is advertised on 503 responses
	RetryAfter time.Duration
}

// Server implements the djt HTTP API
type Server struct {
	svc      Service
	opts     Options
	handler  http.Handler
	limiter  *RateLimiter
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewServer creates a new API server
func NewServer(svc Service, opts Options, logger zerolog.Logger) *Server {
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = time.Second
	}
	s := &Server{
		svc:      svc,
		opts:     opts,
		validate: newValidator(),
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/status-updates", s.handleStatusUpdate)
	mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	mux.HandleFunc("GET /v1/jobs/{app_id}/{tenant_id}/{patient_id}/{document_id}/{run_id}", s.handleGetJob)
	mux.HandleFunc("GET /v1/jobs", s.handleListJobs)
	(&HealthServer{store: svc}).register(mux)

	var handler http.Handler = mux
	if opts.ReadOnly {
		handler = ReadOnly(handler)
	}
	if opts.RateLimit != nil {
		s.limiter = NewRateLimiter(*opts.RateLimit, logger)
		handler = s.limiter.Middleware(handler)
	}
	handler = Instrument(handler)
	handler = Logging(logger)(handler)
	handler = RequestID(handler)
	s.handler = handler

	return s
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves the API on opts.Addr until ctx is canceled, then shuts down
// gracefully
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves the API on lis until ctx is canceled
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	server := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  s.opts.IdleTimeout,
	}

	if s.limiter != nil {
		go s.limiter.RunCleanup(ctx, time.Hour)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(lis)
	}()

	metrics.RegisterComponent("api", true, lis.Addr().String())
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("API server listening")

	select {
	case err := <-errCh:
		metrics.UpdateComponent("api", false, "stopped")
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	metrics.UpdateComponent("api", false, "shutting down")
	timeout := s.opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info().Msg("Shutting down API server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down API server: %w", err)
	}
	return nil
}

// statusUpdateRequest is the body of POST /v1/status-updates. Key fields
// are checked by the key registry so empty and malformed keys fail alike.
type statusUpdateRequest struct {
	AppID      string         `json:"app_id"`
	TenantID   string         `json:"tenant_id"`
	PatientID  string         `json:"patient_id"`
	DocumentID string         `json:"document_id"`
	RunID      string         `json:"run_id"`
	PageNumber *int           `json:"page_number" validate:"omitempty,gte=0"`
	Status     types.Status   `json:"status" validate:"required,status"`
	Order      *int           `json:"order"`
	Metadata   map[string]any `json:"metadata"`
	Force      bool           `json:"force"`
	Name       string         `json:"name" validate:"max=256"`
	Pages      int            `json:"pages" validate:"gte=0"`
}

// createJobRequest is the body of POST /v1/jobs
type createJobRequest struct {
	AppID      string         `json:"app_id"`
	TenantID   string         `json:"tenant_id"`
	PatientID  string         `json:"patient_id"`
	DocumentID string         `json:"document_id"`
	RunID      string         `json:"run_id"`
	Name       string         `json:"name" validate:"max=256"`
	Pages      int            `json:"pages" validate:"required,gte=1"`
	Metadata   map[string]any `json:"metadata"`
}

// ListJobsResponse is the body returned by GET /v1/jobs
type ListJobsResponse struct {
	Jobs  []*types.Job `json:"jobs"`
	Count int          `json:"count"`
}

func (s *Server) handleStatusUpdate(w http.ResponseWriter, r *http.Request) {
	var req statusUpdateRequest
	if !s.decode(w, r, &req) {
		return
	}

	job, err := s.svc.HandleStatusUpdate(r.Context(), &types.PipelineStatusUpdate{
		AppID:      req.AppID,
		TenantID:   req.TenantID,
		PatientID:  req.PatientID,
		DocumentID: req.DocumentID,
		RunID:      req.RunID,
		PageNumber: req.PageNumber,
		Status:     req.Status,
		Order:      req.Order,
		Metadata:   req.Metadata,
		Force:      req.Force,
		Name:       req.Name,
		Pages:      req.Pages,
	})
	if err != nil {
		s.writeError(w, r, err, job)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if !s.decode(w, r, &req) {
		return
	}

	job, err := s.svc.CreateJob(r.Context(), tracker.CreateJobRequest{
		AppID:      req.AppID,
		TenantID:   req.TenantID,
		PatientID:  req.PatientID,
		DocumentID: req.DocumentID,
		RunID:      req.RunID,
		Name:       req.Name,
		Pages:      req.Pages,
		Metadata:   req.Metadata,
	})
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	key := types.JobKey{
		AppID:      r.PathValue("app_id"),
		TenantID:   r.PathValue("tenant_id"),
		PatientID:  r.PathValue("patient_id"),
		DocumentID: r.PathValue("document_id"),
		RunID:      r.PathValue("run_id"),
	}

	job, err := s.svc.GetJob(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := types.JobFilter{
		AppID:      q.Get("app_id"),
		TenantID:   q.Get("tenant_id"),
		PatientID:  q.Get("patient_id"),
		DocumentID: q.Get("document_id"),
		Status:     types.Status(q.Get("status")),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: limit %q is not a number", types.ErrInvalidUpdate, v), nil)
			return
		}
		filter.Limit = limit
	}

	jobs, err := s.svc.ListJobs(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	if jobs == nil {
		jobs = []*types.Job{}
	}
	writeJSON(w, http.StatusOK, ListJobsResponse{Jobs: jobs, Count: len(jobs)})
}

// decode reads and validates a JSON body, writing a 400 on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: malformed body: %v", types.ErrInvalidUpdate, err), nil)
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %s", types.ErrInvalidUpdate, describeValidation(err)), nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
