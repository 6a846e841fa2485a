package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/djt/pkg/metrics"
)

// Version is reported by /health. cmd/djt sets it from build flags.
var Version = "dev"

// Pinger checks whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer provides HTTP health check endpoints
type HealthServer struct {
	store Pinger
	mux   *http.ServeMux
}

// NewHealthServer creates the health endpoints on their own mux. store may
// be nil, in which case the service never reports ready.
func NewHealthServer(store Pinger) *HealthServer {
	hs := &HealthServer{
		store: store,
		mux:   http.NewServeMux(),
	}
	hs.register(hs.mux)
	return hs
}

func (hs *HealthServer) register(mux *http.ServeMux) {
	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.Handle("/metrics", metrics.Handler())
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
	Components map[string]string `json:"components,omitempty"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler implements the /health endpoint
// This is a simple liveness check - returns 200 if the process is alive
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := metrics.GetHealth()
	response := HealthResponse{
		Status:     "healthy",
		Timestamp:  time.Now(),
		Version:    Version,
		Uptime:     health.Uptime,
		Components: health.Components,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// readyHandler implements the /ready endpoint
// This checks if the service is ready to accept traffic
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if hs.store == nil {
		metrics.UpdateComponent("store", false, "not initialized")
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := hs.store.Ping(ctx)
		cancel()
		if err != nil {
			metrics.UpdateComponent("store", false, err.Error())
		} else {
			metrics.UpdateComponent("store", true, "")
		}
	}

	readiness := metrics.GetReadiness()
	statusCode := http.StatusOK
	status := "ready"
	if readiness.Status != "ready" {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    readiness.Components,
		Message:   readiness.Message,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}
