package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job metrics
	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "djt_jobs_total",
			Help: "Total number of tracked jobs by aggregate status",
		},
		[]string{"status"},
	)

	JobsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "djt_jobs_created_total",
			Help: "Total number of jobs created, by creation path (explicit or lazy)",
		},
		[]string{"path"},
	)

	StatusUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "djt_status_updates_total",
			Help: "Total number of status updates handled by result",
		},
		[]string{"result"},
	)

	StatusUpdateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "djt_status_update_duration_seconds",
			Help:    "Time taken to merge and persist a status update in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Store metrics
	StoreOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "djt_store_operation_duration_seconds",
			Help:    "Store operation duration in seconds by backend and operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	StoreConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "djt_store_conflicts_total",
			Help: "Total number of optimistic write conflicts retried by backend",
		},
		[]string{"backend"},
	)

	// Notification metrics
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "djt_notifications_total",
			Help: "Total number of job notifications delivered by sink and result",
		},
		[]string{"sink", "result"},
	)

	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "djt_events_dropped_total",
			Help: "Total number of events dropped because a subscriber buffer was full",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "djt_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "djt_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	APIRateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "djt_api_rate_limited_total",
			Help: "Total number of API requests rejected by the rate limiter",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobsCreated)
	prometheus.MustRegister(StatusUpdatesTotal)
	prometheus.MustRegister(StatusUpdateDuration)
	prometheus.MustRegister(StoreOperationDuration)
	prometheus.MustRegister(StoreConflictsTotal)
	prometheus.MustRegister(NotificationsTotal)
	prometheus.MustRegister(EventsDropped)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(APIRateLimited)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
