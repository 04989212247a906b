package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/example/sms-notifier/internal/attemptlog"
)

const dateLayout = "2006-01-02"

// Snapshot is derived on demand and never persisted.
type Snapshot struct {
	Total   int            `json:"total"`
	Sent    int            `json:"sent"`
	Failed  int            `json:"failed"`
	Pending int            `json:"pending"`
	ByType  map[string]int `json:"by_type"`
	ByDate  map[string]int `json:"by_date"`
}

// Aggregator folds attempt records into a Snapshot. Dates are bucketed in
// Location (UTC when nil).
type Aggregator struct {
	Store    attemptlog.Store
	Location *time.Location
}

func (a *Aggregator) Compute(ctx context.Context, f attemptlog.Filter) (Snapshot, error) {
	records, err := a.Store.Query(ctx, f)
	if err != nil {
		return Snapshot{}, fmt.Errorf("query attempts for statistics: %w", err)
	}
	return Fold(records, a.Location), nil
}

// Fold computes a Snapshot in a single pass.
func Fold(records []attemptlog.Attempt, loc *time.Location) Snapshot {
	if loc == nil {
		loc = time.UTC
	}
	s := Snapshot{
		ByType: map[string]int{},
		ByDate: map[string]int{},
	}
	for _, r := range records {
		s.Total++
		switch r.Status {
		case attemptlog.StatusSent:
			s.Sent++
		case attemptlog.StatusFailed:
			s.Failed++
		case attemptlog.StatusPending:
			s.Pending++
		}
		s.ByType[r.Type]++
		s.ByDate[r.Timestamp.In(loc).Format(dateLayout)]++
	}
	return s
}
