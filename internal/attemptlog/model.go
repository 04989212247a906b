package attemptlog

import (
	"context"
	"errors"
	"time"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// TerminalErrorKind marks failures that no re-send can fix. Failed never
// returns records carrying it.
const TerminalErrorKind = "validation"

var (
	ErrNotFound      = errors.New("delivery attempt not found")
	ErrNotConfigured = errors.New("postgres attempt store requires a non-nil pool")
)

// Correlation carries opaque keys into the business-entity store. They are
// filtered on, never interpreted.
type Correlation struct {
	EntryID    string `json:"entryId,omitempty"`
	CustomerID string `json:"customerId,omitempty"`
	LocationID string `json:"locationId,omitempty"`
	OperatorID string `json:"operatorId,omitempty"`
}

// Attempt is one audit record per gateway attempt. RetryCount is the number
// of attempts made for the same logical send before this one. Records of one
// logical send share a SendID.
type Attempt struct {
	ID           string    `json:"id"`
	SendID       string    `json:"sendId,omitempty"`
	Type         string    `json:"type"`
	Recipient    string    `json:"recipient"`
	TemplateID   string    `json:"templateId"`
	Message      string    `json:"message"`
	Status       Status    `json:"status"`
	ErrorKind    string    `json:"errorKind,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	MessageID    string    `json:"messageId,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	RetryCount   int       `json:"retryCount"`
	Correlation
}

// retryable reports whether a record may be re-sent by a retry batch, given
// the highest RetryCount logged for its send.
func (a Attempt) retryable(maxRetryCount, latest int) bool {
	return a.Status == StatusFailed &&
		a.RetryCount < maxRetryCount &&
		a.ErrorKind != TerminalErrorKind &&
		a.RetryCount >= latest
}

// Patch updates selected fields of an existing record. Nil fields are left as is.
type Patch struct {
	Status       *Status
	RetryCount   *int
	ErrorKind    *string
	ErrorMessage *string
	MessageID    *string
}

func (p Patch) apply(a *Attempt) {
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.RetryCount != nil {
		a.RetryCount = *p.RetryCount
	}
	if p.ErrorKind != nil {
		a.ErrorKind = *p.ErrorKind
	}
	if p.ErrorMessage != nil {
		a.ErrorMessage = *p.ErrorMessage
	}
	if p.MessageID != nil {
		a.MessageID = *p.MessageID
	}
}

// Filter narrows a query. Zero values match everything; From and To are
// inclusive.
type Filter struct {
	Type       string
	Status     Status
	Recipient  string
	EntryID    string
	CustomerID string
	LocationID string
	OperatorID string
	From       time.Time
	To         time.Time
	Limit      int
}

func (f Filter) Matches(a Attempt) bool {
	switch {
	case f.Type != "" && a.Type != f.Type:
		return false
	case f.Status != "" && a.Status != f.Status:
		return false
	case f.Recipient != "" && a.Recipient != f.Recipient:
		return false
	case f.EntryID != "" && a.EntryID != f.EntryID:
		return false
	case f.CustomerID != "" && a.CustomerID != f.CustomerID:
		return false
	case f.LocationID != "" && a.LocationID != f.LocationID:
		return false
	case f.OperatorID != "" && a.OperatorID != f.OperatorID:
		return false
	case !f.From.IsZero() && a.Timestamp.Before(f.From):
		return false
	case !f.To.IsZero() && a.Timestamp.After(f.To):
		return false
	}
	return true
}

// Store is the append/query audit trail. Query results are newest first.
type Store interface {
	Append(ctx context.Context, a Attempt) (string, error)
	Update(ctx context.Context, id string, p Patch) error
	Query(ctx context.Context, f Filter) ([]Attempt, error)
	// Failed returns retry candidates: the latest failed record of each send
	// with RetryCount < maxRetryCount and a non-terminal error kind. Earlier
	// attempts of the same send are never returned. limit <= 0 means no limit.
	Failed(ctx context.Context, maxRetryCount, limit int) ([]Attempt, error)
	ByEntryID(ctx context.Context, entryID string) ([]Attempt, error)
	ByCustomerID(ctx context.Context, customerID string) ([]Attempt, error)
	// CountOlderThan reports how many records a retention sweep could remove.
	// Nothing is deleted.
	CountOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}
