/*
Package metrics provides Prometheus metrics and process health tracking for
djt.

All metrics are registered with the default Prometheus registry at init and
served by Handler() on /metrics. Health is tracked per named component and
reported by the /health and /ready endpoints in pkg/api.

# Metrics

Job metrics:

djt_jobs_total{status}:
  - Type: Gauge
  - Jobs in the store by aggregate status, refreshed by Collector
  - Example: djt_jobs_total{status="IN_PROGRESS"} 42

djt_jobs_created_total{path}:
  - Type: Counter
  - Jobs created, path is "explicit" (POST /v1/jobs) or "lazy" (first update)

djt_status_updates_total{result}:
  - Type: Counter
  - Status updates by result: created, updated, unchanged, stale, invalid, error

djt_status_update_duration_seconds:
  - Type: Histogram
  - Time to merge and persist one update, including store retries

Store metrics:

djt_store_operation_duration_seconds{backend, operation}:
  - Type: Histogram
  - backend is bolt, postgres or memory; operation is get, insert, update or list

djt_store_conflicts_total{backend}:
  - Type: Counter
  - Optimistic write conflicts retried by the Postgres backend

Notification metrics:

djt_notifications_total{sink, result}:
  - Type: Counter
  - Events delivered per sink, result is success or failure

djt_events_dropped_total:
  - Type: Counter
  - Events dropped because the broker or a subscriber buffer was full

API metrics:

djt_api_requests_total{route, status}:
  - Type: Counter
  - Requests by route pattern and HTTP status

djt_api_request_duration_seconds{route}:
  - Type: Histogram

djt_api_rate_limited_total:
  - Type: Counter

# Timing

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreOperationDuration, "bolt", "get")

# Health

Components report their state with RegisterComponent/UpdateComponent.
GetHealth lists every component; GetReadiness only considers the critical
ones, "store" and "api" by default:

	metrics.RegisterComponent("store", true, "bolt")
	metrics.UpdateComponent("store", false, "ping failed")

	metrics.GetReadiness().Status // "not_ready", message "waiting for store"

# Useful Queries

  - Update rate: sum(rate(djt_status_updates_total[1m])) by (result)
  - Stale ratio: rate(djt_status_updates_total{result="stale"}[5m]) / rate(djt_status_updates_total[5m])
  - Failed jobs: djt_jobs_total{status="FAILED"}
  - Postgres contention: rate(djt_store_conflicts_total{backend="postgres"}[5m])
  - Lost notifications: rate(djt_notifications_total{result="failure"}[5m])
  - p95 API latency: histogram_quantile(0.95, sum(rate(djt_api_request_duration_seconds_bucket[5m])) by (le, route))
*/
package metrics
