package health

import (
	"context"
	"time"

	"github.com/cuemby/djt/pkg/metrics"
	"github.com/rs/zerolog"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType
}

// Config contains common configuration for all health checks
type Config struct {
	// Interval is the time between health checks
	Interval time.Duration

	// Timeout is the maximum time to wait for a health check to complete
	Timeout time.Duration

	// Retries is the number of consecutive failures before marking as unhealthy
	Retries int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  5 * time.Second,
		Retries:  3,
	}
}

// Status tracks the current health of one probed dependency
type Status struct {
	// ConsecutiveFailures tracks the number of consecutive failed checks
	ConsecutiveFailures int

	// ConsecutiveSuccesses tracks the number of consecutive successful checks
	ConsecutiveSuccesses int

	// LastCheck is the timestamp of the last health check
	LastCheck time.Time

	// LastResult is the result of the last health check
	LastResult Result

	// Healthy indicates if the dependency is currently considered healthy
	Healthy bool
}

// NewStatus creates a new Status with default values
func NewStatus() *Status {
	return &Status{
		Healthy: true, // Assume healthy until proven otherwise
	}
}

// Update updates the status based on a new health check result
func (s *Status) Update(result Result, config Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0

		// Mark as healthy after first success
		s.Healthy = true
	} else {
		s.ConsecutiveFailures++
		s.ConsecutiveSuccesses = 0

		// Mark as unhealthy after reaching retry threshold
		if s.ConsecutiveFailures >= config.Retries {
			s.Healthy = false
		}
	}
}

// Probe names a checker. The name is the component reported by /health.
type Probe struct {
	Name    string
	Checker Checker
}

// Monitor runs probes on an interval and publishes each one as a health
// component
type Monitor struct {
	probes   []Probe
	config   Config
	statuses map[string]*Status
	logger   zerolog.Logger
}

// NewMonitor creates a monitor for probes. Zero config fields take their
// defaults.
func NewMonitor(config Config, logger zerolog.Logger, probes ...Probe) *Monitor {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.Retries <= 0 {
		config.Retries = def.Retries
	}

	statuses := make(map[string]*Status, len(probes))
	for _, p := range probes {
		statuses[p.Name] = NewStatus()
	}
	return &Monitor{
		probes:   probes,
		config:   config,
		statuses: statuses,
		logger:   logger,
	}
}

// Run checks every probe immediately and then on each interval until ctx
// is canceled
func (m *Monitor) Run(ctx context.Context) error {
	if len(m.probes) == 0 {
		return nil
	}

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.CheckAll(ctx)
	for {
		select {
		case <-ticker.C:
			m.CheckAll(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// CheckAll runs every probe once. Not safe for concurrent use.
func (m *Monitor) CheckAll(ctx context.Context) {
	for _, p := range m.probes {
		checkCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
		result := p.Checker.Check(checkCtx)
		cancel()

		status := m.statuses[p.Name]
		wasHealthy := status.Healthy
		status.Update(result, m.config)

		if wasHealthy != status.Healthy {
			event := m.logger.Info()
			if !status.Healthy {
				event = m.logger.Warn()
			}
			event.Str("probe", p.Name).
				Str("type", string(p.Checker.Type())).
				Bool("healthy", status.Healthy).
				Msg(result.Message)
		}

		message := ""
		if !status.Healthy {
			message = result.Message
		}
		metrics.UpdateComponent(p.Name, status.Healthy, message)
	}
}

// Status returns a copy of the named probe's status
func (m *Monitor) Status(name string) (Status, bool) {
	s, ok := m.statuses[name]
	if !ok {
		return Status{}, false
	}
	return *s, true
}
