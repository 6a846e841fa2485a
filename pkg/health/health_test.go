package health

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/djt/pkg/metrics"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChecker struct {
	results []bool
	calls   int
}

func (s *stubChecker) Check(ctx context.Context) Result {
	healthy := s.results[s.calls%len(s.results)]
	s.calls++
	return Result{Healthy: healthy, Message: "stub", CheckedAt: time.Now()}
}

func (s *stubChecker) Type() CheckType { return CheckTypeTCP }

func TestStatusUpdate(t *testing.T) {
	config := Config{Retries: 2}
	s := NewStatus()

	s.Update(Result{Healthy: false}, config)
	assert.True(t, s.Healthy, "one failure is below the retry threshold")
	s.Update(Result{Healthy: false}, config)
	assert.False(t, s.Healthy)
	assert.Equal(t, 2, s.ConsecutiveFailures)

	s.Update(Result{Healthy: true}, config)
	assert.True(t, s.Healthy)
	assert.Equal(t, 0, s.ConsecutiveFailures)
	assert.Equal(t, 1, s.ConsecutiveSuccesses)
}

func TestMonitorPublishesComponents(t *testing.T) {
	checker := &stubChecker{results: []bool{false}}
	m := NewMonitor(Config{Retries: 2}, zerolog.Nop(), Probe{Name: "probe-test", Checker: checker})

	m.CheckAll(context.Background())
	assert.Equal(t, "healthy", metrics.GetHealth().Components["probe-test"])

	m.CheckAll(context.Background())
	assert.Contains(t, metrics.GetHealth().Components["probe-test"], "unhealthy")

	status, ok := m.Status("probe-test")
	require.True(t, ok)
	assert.False(t, status.Healthy)
	assert.Equal(t, 2, checker.calls)

	_, ok = m.Status("missing")
	assert.False(t, ok)
}

func TestMonitorRunStopsOnCancel(t *testing.T) {
	checker := &stubChecker{results: []bool{true}}
	m := NewMonitor(Config{Interval: time.Hour}, zerolog.Nop(), Probe{Name: "probe-run", Checker: checker})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := metrics.GetHealth().Components["probe-run"]
		return ok
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
