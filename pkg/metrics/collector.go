package metrics

import (
	"context"
	"time"

	"github.com/cuemby/djt/pkg/types"
	"github.com/rs/zerolog"
)

// JobLister is the read side of the job store used by the collector
type JobLister interface {
	ListJobs(ctx context.Context, filter types.JobFilter) ([]*types.Job, error)
}

// Collector periodically refreshes gauges derived from stored jobs
type Collector struct {
	jobs     JobLister
	interval time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(jobs JobLister, interval time.Duration, logger zerolog.Logger) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		jobs:     jobs,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), c.interval)
	defer cancel()

	jobs, err := c.jobs.ListJobs(ctx, types.JobFilter{})
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to list jobs for metrics")
		UpdateComponent("store", false, err.Error())
		return
	}
	UpdateComponent("store", true, "")

	counts := make(map[types.Status]int, len(types.AllStatuses))
	for _, job := range jobs {
		counts[job.Status]++
	}

	// Every status is set so drained statuses drop back to zero
	for _, status := range types.AllStatuses {
		JobsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
