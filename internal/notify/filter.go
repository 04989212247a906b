package notify

import (
	"fmt"
	"strconv"
	"time"

	"github.com/example/sms-notifier/internal/attemptlog"
	"github.com/example/sms-notifier/internal/gateway"
)

const dateLayout = "2006-01-02"

// ParseFilter builds a statistics filter from named string parameters.
// from and to accept RFC 3339 timestamps or plain dates in loc; a plain date
// in to covers the whole day.
func ParseFilter(get func(string) string, loc *time.Location) (attemptlog.Filter, error) {
	if loc == nil {
		loc = time.UTC
	}
	f := attemptlog.Filter{
		Type:       get("type"),
		Status:     attemptlog.Status(get("status")),
		EntryID:    get("entry_id"),
		CustomerID: get("customer_id"),
		LocationID: get("location_id"),
		OperatorID: get("operator_id"),
	}
	switch f.Status {
	case "", attemptlog.StatusPending, attemptlog.StatusSent, attemptlog.StatusFailed:
	default:
		return attemptlog.Filter{}, fmt.Errorf("unknown status %q", f.Status)
	}
	if raw := get("recipient"); raw != "" {
		number, err := gateway.NormalizeRecipient(raw)
		if err != nil {
			return attemptlog.Filter{}, err
		}
		f.Recipient = number
	}

	var err error
	if f.From, err = parseBound(get("from"), loc, false); err != nil {
		return attemptlog.Filter{}, fmt.Errorf("from: %w", err)
	}
	if f.To, err = parseBound(get("to"), loc, true); err != nil {
		return attemptlog.Filter{}, fmt.Errorf("to: %w", err)
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return attemptlog.Filter{}, fmt.Errorf("to %s is before from %s", f.To.Format(time.RFC3339), f.From.Format(time.RFC3339))
	}
	if raw := get("limit"); raw != "" {
		if f.Limit, err = strconv.Atoi(raw); err != nil || f.Limit < 0 {
			return attemptlog.Filter{}, fmt.Errorf("invalid limit %q", raw)
		}
	}
	return f, nil
}

func parseBound(raw string, loc *time.Location, endOfDay bool) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	day, err := time.ParseInLocation(dateLayout, raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC 3339 or %s, got %q", dateLayout, raw)
	}
	if endOfDay {
		return day.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
	}
	return day, nil
}
