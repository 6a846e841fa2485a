/*
Package api implements the djt HTTP API: status update ingestion, job
creation and job queries, plus health, readiness and metrics endpoints.

# Routes

	POST /v1/status-updates                     fold a pipeline status report into its job
	POST /v1/jobs                               create a job explicitly
	GET  /v1/jobs/{app}/{tenant}/{patient}/{document}/{run}
	GET  /v1/jobs?app_id=&tenant_id=&patient_id=&document_id=&status=&limit=
	GET  /health                                liveness
	GET  /ready                                 store ping plus critical components
	GET  /metrics                               Prometheus exposition

Request bodies are JSON, decoded strictly and checked with
go-playground/validator before they reach the tracker. Jobs are returned
with their pages as a list sorted by page number.

# Middleware

	RequestID ─▶ Logging ─▶ Instrument ─▶ RateLimiter ─▶ ReadOnly ─▶ ServeMux

RequestID reuses an incoming X-Request-ID or generates a UUID. The rate
limiter keeps one token bucket per client IP, taken from X-Forwarded-For,
X-Real-IP or the remote address. ReadOnly is enabled for query-only
replicas and rejects every mutating method.

# Errors

Every error response is an ErrorResponse with a stable code:

	invalid_key        400  malformed job key field
	invalid_update     400  bad body, unknown status, page out of range
	not_found          404  unknown job
	duplicate_job      409  explicit create of an existing key
	stale_status       409  update would regress a page; body carries the current job
	store_unavailable  503  backend failure or timeout; Retry-After is set
	rate_limited       429
	read_only          405

pkg/client maps these codes back to the types sentinels so callers on both
sides of the wire classify failures with errors.Is.
*/
package api
