package types

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// KeySeparator joins JobKey fields into a storage key
const KeySeparator = ":"

// JobKey is the composite identity of one pipeline execution attempt
type JobKey struct {
	AppID      string `json:"app_id" validate:"keypart"`
	TenantID   string `json:"tenant_id" validate:"keypart"`
	PatientID  string `json:"patient_id" validate:"keypart"`
	DocumentID string `json:"document_id" validate:"keypart"`
	RunID      string `json:"run_id" validate:"keypart"`
}

// String returns the storage key for the job
func (k JobKey) String() string {
	return strings.Join([]string{k.AppID, k.TenantID, k.PatientID, k.DocumentID, k.RunID}, KeySeparator)
}

// Status represents the execution state of a page or a whole job
type Status string

const (
	StatusUnknown    Status = "UNKNOWN"
	StatusNotStarted Status = "NOT_STARTED"
	StatusQueued     Status = "QUEUED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// AllStatuses lists every known status in rank order, FAILED last
var AllStatuses = []Status{
	StatusUnknown,
	StatusNotStarted,
	StatusQueued,
	StatusInProgress,
	StatusCompleted,
	StatusFailed,
}

var statusRank = map[Status]int{
	StatusUnknown:    0,
	StatusNotStarted: 1,
	StatusQueued:     2,
	StatusInProgress: 3,
	StatusCompleted:  4,
}

// Rank returns the monotonic rank of the status. FAILED is terminal and
// has no rank, in which case ok is false.
func (s Status) Rank() (rank int, ok bool) {
	rank, ok = statusRank[s]
	return rank, ok
}

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	if s == StatusFailed {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// JobLevelPage is the synthetic page number for updates that are not page-scoped
const JobLevelPage = 0

// PageStatus is the tracked state of one page within a job
type PageStatus struct {
	PageNumber  int            `json:"page_number"`
	Status      Status         `json:"status"`
	Order       *int           `json:"order,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Clone returns a copy of the page that shares no mutable state with p
func (p *PageStatus) Clone() *PageStatus {
	if p == nil {
		return nil
	}
	c := *p
	if p.Order != nil {
		order := *p.Order
		c.Order = &order
	}
	c.Metadata = CloneMetadata(p.Metadata)
	return &c
}

// Job is the aggregate tracked for one JobKey
type Job struct {
	Key        JobKey
	Name       string
	TotalPages int
	Status     Status
	Pages      map[int]*PageStatus
	Metadata   map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Version    int64
}

// Clone returns a deep copy of the job
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Pages = ClonePages(j.Pages)
	c.Metadata = CloneMetadata(j.Metadata)
	return &c
}

// RealPageCount returns the number of pages excluding the job-level slot
func (j *Job) RealPageCount() int {
	n := 0
	for num := range j.Pages {
		if num != JobLevelPage {
			n++
		}
	}
	return n
}

// SortedPages returns pages in presentation order: pages with an order
// first, ascending, then pages without one. Ties go by page number.
func SortedPages(pages map[int]*PageStatus) []*PageStatus {
	out := make([]*PageStatus, 0, len(pages))
	for _, p := range pages {
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.Order != nil && b.Order != nil:
			if *a.Order != *b.Order {
				return *a.Order < *b.Order
			}
		case a.Order != nil:
			return true
		case b.Order != nil:
			return false
		}
		return a.PageNumber < b.PageNumber
	})
	return out
}

// jobJSON is the wire and storage shape of a Job. Pages are a list in
// presentation order (see SortedPages).
type jobJSON struct {
	Key        JobKey         `json:"key"`
	Name       string         `json:"name"`
	TotalPages int            `json:"total_pages"`
	Status     Status         `json:"status"`
	Pages      []*PageStatus  `json:"pages"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Version    int64          `json:"version"`
}

// MarshalJSON implements json.Marshaler
func (j Job) MarshalJSON() ([]byte, error) {
	return json.Marshal(jobJSON{
		Key:        j.Key,
		Name:       j.Name,
		TotalPages: j.TotalPages,
		Status:     j.Status,
		Pages:      SortedPages(j.Pages),
		Metadata:   j.Metadata,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
		Version:    j.Version,
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (j *Job) UnmarshalJSON(data []byte) error {
	var raw jobJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*j = Job{
		Key:        raw.Key,
		Name:       raw.Name,
		TotalPages: raw.TotalPages,
		Status:     raw.Status,
		Pages:      make(map[int]*PageStatus, len(raw.Pages)),
		Metadata:   raw.Metadata,
		CreatedAt:  raw.CreatedAt,
		UpdatedAt:  raw.UpdatedAt,
		Version:    raw.Version,
	}
	for _, p := range raw.Pages {
		if p == nil {
			continue
		}
		j.Pages[p.PageNumber] = p
	}
	return nil
}

// PipelineStatusUpdate is one status report from a pipeline step
type PipelineStatusUpdate struct {
	AppID      string         `json:"app_id"`
	TenantID   string         `json:"tenant_id"`
	PatientID  string         `json:"patient_id"`
	DocumentID string         `json:"document_id"`
	RunID      string         `json:"run_id"`
	PageNumber *int           `json:"page_number,omitempty"`
	Status     Status         `json:"status"`
	Order      *int           `json:"order,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`

	// Force overrides the FAILED and rank guards
	Force bool `json:"force,omitempty"`

	// Name and Pages are only used when the update creates the job
	Name  string `json:"name,omitempty"`
	Pages int    `json:"pages,omitempty"`
}

// Key returns the identity fields of the update. The result is not validated.
func (u *PipelineStatusUpdate) Key() JobKey {
	return JobKey{
		AppID:      u.AppID,
		TenantID:   u.TenantID,
		PatientID:  u.PatientID,
		DocumentID: u.DocumentID,
		RunID:      u.RunID,
	}
}

// TargetPage returns the page the update applies to
func (u *PipelineStatusUpdate) TargetPage() int {
	if u.PageNumber == nil {
		return JobLevelPage
	}
	return *u.PageNumber
}

// JobFilter narrows a job listing. Empty fields match everything; fields
// are applied as a key prefix so a later field is ignored when an earlier
// one is empty.
type JobFilter struct {
	AppID      string
	TenantID   string
	PatientID  string
	DocumentID string
	Status     Status
	Limit      int
}

// Prefix returns the storage key prefix selected by the filter
func (f JobFilter) Prefix() string {
	var parts []string
	for _, p := range []string{f.AppID, f.TenantID, f.PatientID, f.DocumentID} {
		if p == "" {
			break
		}
		parts = append(parts, p)
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, KeySeparator) + KeySeparator
}

// Matches reports whether the job passes the filter
func (f JobFilter) Matches(job *Job) bool {
	if !strings.HasPrefix(job.Key.String(), f.Prefix()) {
		return false
	}
	if f.Status != "" && job.Status != f.Status {
		return false
	}
	return true
}

// ClonePages deep-copies a page map
func ClonePages(pages map[int]*PageStatus) map[int]*PageStatus {
	out := make(map[int]*PageStatus, len(pages))
	for num, p := range pages {
		out[num] = p.Clone()
	}
	return out
}

// CloneMetadata copies the top level of a metadata map. Values are JSON
// decoded and treated as immutable.
func CloneMetadata(md map[string]any) map[string]any {
	if md == nil {
		return nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
