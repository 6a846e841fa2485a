/*
Package types defines the core data structures used throughout djt.

This package contains the job tracking domain model: the composite JobKey
that identifies one pipeline execution attempt, the per-page PageStatus,
the Job aggregate that owns those pages, and the PipelineStatusUpdate
reported by pipeline steps. These types are shared by the merger, the
stores, the lifecycle service and the HTTP surface.

# Architecture

	┌──────────────────────── JOB MODEL ─────────────────────────┐
	│                                                              │
	│  JobKey {app_id, tenant_id, patient_id, document_id, run_id}│
	│     │                                                        │
	│     │ String() → "app:tenant:patient:document:run"           │
	│     ▼                                                        │
	│  Job                                                         │
	│   - Name, TotalPages (fixed at creation)                     │
	│   - Status (derived from pages, never set directly)          │
	│   - Pages: page_number → PageStatus                          │
	│       0     job-level slot (updates without page_number)     │
	│       1..N  document pages                                   │
	│   - Metadata, CreatedAt, UpdatedAt, Version                  │
	│                                                              │
	│  PipelineStatusUpdate                                        │
	│   - key fields + page_number? + status + order? + metadata?  │
	│   - force: override the FAILED and rank guards               │
	│   - name, pages: used only when the update creates the job   │
	└──────────────────────────────────────────────────────────────┘

# Status Ranking

Page statuses move forward along a fixed rank:

	UNKNOWN(0) < NOT_STARTED(1) < QUEUED(2) < IN_PROGRESS(3) < COMPLETED(4)

FAILED has no rank. It always overwrites a non-failed page and, once set,
is only replaced by a forced update.

# Serialization

A Job marshals its pages as a list ordered by page number so the same JSON
document is used for storage and for the wire. Presentation ordering by the
optional page order is applied by the merger package.

# Errors

errors.go declares the sentinel errors shared by every layer. Callers
classify failures with errors.Is and use IsRetryable to decide whether a
failed call may be repeated.
*/
package types
