package merger

import (
	"fmt"
	"reflect"
	"time"

	"github.com/cuemby/djt/pkg/types"
)

// Merge folds one status update into a job's pages. existing is never
// modified; the merged copy is returned along with whether anything
// changed. A regressing update yields types.ErrStaleStatus and a nil map.
//
// totalPages bounds the accepted page numbers; pass 0 to skip the check.
func Merge(existing map[int]*types.PageStatus, update *types.PipelineStatusUpdate, totalPages int, now time.Time) (map[int]*types.PageStatus, bool, error) {
	if err := ValidateUpdate(update, totalPages); err != nil {
		return nil, false, err
	}

	pageNum := update.TargetPage()
	merged := types.ClonePages(existing)
	current, exists := merged[pageNum]

	if !exists {
		merged[pageNum] = &types.PageStatus{
			PageNumber:  pageNum,
			Status:      update.Status,
			Order:       cloneOrder(update.Order),
			Metadata:    MergeMetadata(nil, update.Metadata),
			LastUpdated: now.UTC(),
		}
		return merged, true, nil
	}

	if !update.Force {
		if err := checkTransition(pageNum, current.Status, update.Status); err != nil {
			return nil, false, err
		}
	}

	changed := false
	if current.Status != update.Status {
		current.Status = update.Status
		changed = true
	}
	if update.Order != nil && (current.Order == nil || *current.Order != *update.Order) {
		current.Order = cloneOrder(update.Order)
		changed = true
	}
	if metadataChanges(current.Metadata, update.Metadata) {
		current.Metadata = MergeMetadata(current.Metadata, update.Metadata)
		changed = true
	}
	if changed {
		current.LastUpdated = now.UTC()
	}

	return merged, changed, nil
}

// ValidateUpdate rejects updates that can never apply to a job with
// totalPages pages
func ValidateUpdate(update *types.PipelineStatusUpdate, totalPages int) error {
	if update == nil {
		return fmt.Errorf("%w: missing update", types.ErrInvalidUpdate)
	}
	if !update.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", types.ErrInvalidUpdate, update.Status)
	}
	page := update.TargetPage()
	if page < 0 {
		return fmt.Errorf("%w: page_number %d must not be negative", types.ErrInvalidUpdate, page)
	}
	if totalPages > 0 && page > totalPages {
		return fmt.Errorf("%w: page_number %d exceeds total pages %d", types.ErrInvalidUpdate, page, totalPages)
	}
	return nil
}

// checkTransition applies the FAILED and rank guards to an unforced update
func checkTransition(page int, from, to types.Status) error {
	if to == types.StatusFailed {
		return nil
	}
	if from == types.StatusFailed {
		return fmt.Errorf("%w: page %d is %s, refusing %s without force", types.ErrStaleStatus, page, from, to)
	}

	fromRank, _ := from.Rank()
	toRank, _ := to.Rank()
	if toRank < fromRank {
		return fmt.Errorf("%w: page %d is %s, refusing regression to %s", types.ErrStaleStatus, page, from, to)
	}
	return nil
}

// Aggregate derives the job-level status from its pages. The job-level
// slot takes part in every rule except the completeness count.
func Aggregate(pages map[int]*types.PageStatus, totalPages int) types.Status {
	var (
		completed  int
		inProgress bool
		queued     bool
		notStarted = true
	)

	for num, p := range pages {
		switch p.Status {
		case types.StatusFailed:
			return types.StatusFailed
		case types.StatusCompleted:
			if num != types.JobLevelPage && num <= totalPages {
				completed++
			}
			notStarted = false
		case types.StatusInProgress:
			inProgress = true
		case types.StatusQueued:
			queued = true
		case types.StatusNotStarted:
		default:
			notStarted = false
		}
	}

	switch {
	case totalPages > 0 && completed == totalPages:
		return types.StatusCompleted
	case inProgress:
		return types.StatusInProgress
	case queued:
		return types.StatusQueued
	case notStarted:
		return types.StatusNotStarted
	default:
		return types.StatusUnknown
	}
}

// Sorted returns the pages in presentation order: pages carrying an order
// first by ascending order, then the rest. Ties break on page number.
func Sorted(pages map[int]*types.PageStatus) []*types.PageStatus {
	return types.SortedPages(pages)
}

// MergeMetadata shallow-merges src over dst into a new map. Keys missing
// from src are preserved.
func MergeMetadata(dst, src map[string]any) map[string]any {
	if len(dst) == 0 && len(src) == 0 {
		return nil
	}
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}

func metadataChanges(current, incoming map[string]any) bool {
	for k, v := range incoming {
		old, ok := current[k]
		if !ok || !reflect.DeepEqual(old, v) {
			return true
		}
	}
	return false
}

func cloneOrder(order *int) *int {
	if order == nil {
		return nil
	}
	o := *order
	return &o
}
