package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/sms-notifier/internal/attemptlog"
	"github.com/example/sms-notifier/internal/delivery"
	"github.com/example/sms-notifier/internal/gateway"
	"github.com/example/sms-notifier/internal/stats"
	"github.com/example/sms-notifier/internal/template"
)

// SendResult is the caller-facing outcome of one logical send.
type SendResult struct {
	Success   bool           `json:"success"`
	MessageID string         `json:"message_id,omitempty"`
	Attempts  int            `json:"attempts"`
	LogIDs    []string       `json:"log_ids,omitempty"`
	Error     *gateway.Error `json:"error,omitempty"`
}

// Service exposes the operations the surrounding application calls:
// sending, batch retry, statistics, template listing and log lookup.
type Service struct {
	Coordinator *delivery.Coordinator
	Templates   *template.Registry
	Store       attemptlog.Store
	Stats       *stats.Aggregator
	// Defaults for RetryFailed when the caller passes a non-positive value.
	RetryMaxCount   int
	RetryBatchLimit int
	Now             func() time.Time
}

// SendNotification delivers one templated SMS. On failure the error is the
// classified *gateway.Error and the result carries the same value.
func (s *Service) SendNotification(ctx context.Context, templateKey, recipient string, vars template.Variables, corr attemptlog.Correlation) (SendResult, error) {
	receipt, err := s.Coordinator.Deliver(ctx, delivery.Request{
		TemplateKey: templateKey,
		Recipient:   recipient,
		Variables:   vars,
		Correlation: corr,
	})
	res := SendResult{
		MessageID: receipt.MessageID,
		Attempts:  receipt.Attempts,
		LogIDs:    receipt.LogIDs,
	}
	if err != nil {
		res.Error = gateway.AsError(err)
		return res, res.Error
	}
	res.Success = true
	return res, nil
}

func (s *Service) RetryFailed(ctx context.Context, maxRetryCount, limit int) (delivery.BatchResult, error) {
	if maxRetryCount <= 0 {
		maxRetryCount = s.RetryMaxCount
	}
	if limit <= 0 {
		limit = s.RetryBatchLimit
	}
	return s.Coordinator.RetryFailed(ctx, maxRetryCount, limit)
}

func (s *Service) Statistics(ctx context.Context, f attemptlog.Filter) (stats.Snapshot, error) {
	return s.Stats.Compute(ctx, f)
}

// ListTemplates returns every template, or only the active ones in category
// when it is set.
func (s *Service) ListTemplates(category template.Category) ([]template.Summary, error) {
	if category == "" {
		return s.Templates.Summaries(), nil
	}
	if !category.Valid() {
		return nil, fmt.Errorf("unknown template category %q", category)
	}
	tpls := s.Templates.ListByCategory(category)
	out := make([]template.Summary, 0, len(tpls))
	for _, t := range tpls {
		out = append(out, t.Summary())
	}
	return out, nil
}

func (s *Service) LogsByEntry(ctx context.Context, entryID string) ([]attemptlog.Attempt, error) {
	if entryID == "" {
		return nil, errors.New("entry id is required")
	}
	return s.Store.ByEntryID(ctx, entryID)
}

func (s *Service) LogsByCustomer(ctx context.Context, customerID string) ([]attemptlog.Attempt, error) {
	if customerID == "" {
		return nil, errors.New("customer id is required")
	}
	return s.Store.ByCustomerID(ctx, customerID)
}

// PurgeCandidates counts records older than olderThan. Nothing is removed.
func (s *Service) PurgeCandidates(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("retention window must be positive, got %s", olderThan)
	}
	return s.Store.CountOlderThan(ctx, s.now().Add(-olderThan))
}

// Location is the zone used for date bucketing and plain-date filters.
func (s *Service) Location() *time.Location {
	if s.Stats == nil || s.Stats.Location == nil {
		return time.UTC
	}
	return s.Stats.Location
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now()
}
