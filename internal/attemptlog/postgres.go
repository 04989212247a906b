package attemptlog

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const insertAttempt = `
INSERT INTO sms_logs (
id,
type,
recipient,
template_id,
message,
status,
error_message,
message_id,
attempted_at,
retry_count,
entry_id,
customer_id,
location_id,
operator_id,
send_id,
error_kind
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
`

const selectColumns = `
SELECT id::text, type, recipient, template_id, message, status, error_message, message_id,
attempted_at, retry_count, entry_id, customer_id, location_id, operator_id,
send_id, error_kind
FROM sms_logs
`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, ErrNotConfigured
	}
	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema creates the table and indexes if missing. Safe to call on every start.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply sms_logs schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, a Attempt) (string, error) {
	id := uuid.NewString()
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, insertAttempt,
		id,
		a.Type,
		a.Recipient,
		a.TemplateID,
		a.Message,
		string(a.Status),
		nullable(a.ErrorMessage),
		nullable(a.MessageID),
		a.Timestamp,
		a.RetryCount,
		nullable(a.EntryID),
		nullable(a.CustomerID),
		nullable(a.LocationID),
		nullable(a.OperatorID),
		nullable(a.SendID),
		nullable(a.ErrorKind),
	)
	if err != nil {
		return "", fmt.Errorf("insert attempt: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, p Patch) error {
	query, args := buildUpdate(id, p)
	if query == "" {
		return nil
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update attempt %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, f Filter) ([]Attempt, error) {
	query, args := buildQuery(f)
	return s.collect(ctx, query, args...)
}

func (s *PostgresStore) Failed(ctx context.Context, maxRetryCount, limit int) ([]Attempt, error) {
	query, args := buildFailed(maxRetryCount, limit)
	return s.collect(ctx, query, args...)
}

func (s *PostgresStore) ByEntryID(ctx context.Context, entryID string) ([]Attempt, error) {
	if entryID == "" {
		return nil, nil
	}
	return s.Query(ctx, Filter{EntryID: entryID})
}

func (s *PostgresStore) ByCustomerID(ctx context.Context, customerID string) ([]Attempt, error) {
	if customerID == "" {
		return nil, nil
	}
	return s.Query(ctx, Filter{CustomerID: customerID})
}

func (s *PostgresStore) CountOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sms_logs WHERE attempted_at < $1`, cutoff).Scan(&n); err != nil {
		return 0, fmt.Errorf("count old attempts: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) collect(ctx context.Context, query string, args ...any) ([]Attempt, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	out := make([]Attempt, 0)
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

func scanAttempt(row pgx.Row) (Attempt, error) {
	var (
		a                                         Attempt
		status                                    string
		errMsg, msgID, entry, cust, loc, operator *string
		sendID, errKind                           *string
	)
	if err := row.Scan(
		&a.ID, &a.Type, &a.Recipient, &a.TemplateID, &a.Message, &status,
		&errMsg, &msgID, &a.Timestamp, &a.RetryCount,
		&entry, &cust, &loc, &operator,
		&sendID, &errKind,
	); err != nil {
		return Attempt{}, fmt.Errorf("scan attempt: %w", err)
	}
	a.Status = Status(status)
	a.ErrorMessage = deref(errMsg)
	a.MessageID = deref(msgID)
	a.EntryID = deref(entry)
	a.CustomerID = deref(cust)
	a.LocationID = deref(loc)
	a.OperatorID = deref(operator)
	a.SendID = deref(sendID)
	a.ErrorKind = deref(errKind)
	return a, nil
}

// buildFailed selects the latest failed record of each send. Records without
// a send id stand alone.
func buildFailed(maxRetryCount, limit int) (string, []any) {
	query := selectColumns + `WHERE status = $1 AND retry_count < $2
AND COALESCE(error_kind, '') <> $3
AND (send_id IS NULL OR NOT EXISTS (
	SELECT 1 FROM sms_logs later
	WHERE later.send_id = sms_logs.send_id AND later.retry_count > sms_logs.retry_count
))
ORDER BY attempted_at DESC`
	args := []any{string(StatusFailed), maxRetryCount, TerminalErrorKind}
	if limit > 0 {
		query += " LIMIT $4"
		args = append(args, limit)
	}
	return query, args
}

// buildQuery renders a filtered, newest-first select with positional args.
func buildQuery(f Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if f.Type != "" {
		add("type = ?", f.Type)
	}
	if f.Status != "" {
		add("status = ?", string(f.Status))
	}
	if f.Recipient != "" {
		add("recipient = ?", f.Recipient)
	}
	if f.EntryID != "" {
		add("entry_id = ?", f.EntryID)
	}
	if f.CustomerID != "" {
		add("customer_id = ?", f.CustomerID)
	}
	if f.LocationID != "" {
		add("location_id = ?", f.LocationID)
	}
	if f.OperatorID != "" {
		add("operator_id = ?", f.OperatorID)
	}
	if !f.From.IsZero() {
		add("attempted_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		add("attempted_at <= ?", f.To)
	}

	query := selectColumns
	if len(conds) > 0 {
		query += "WHERE " + strings.Join(conds, " AND ") + " "
	}
	query += "ORDER BY attempted_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	return query, args
}

func buildUpdate(id string, p Patch) (string, []any) {
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, col+" = $"+strconv.Itoa(len(args)))
	}
	if p.Status != nil {
		set("status", string(*p.Status))
	}
	if p.RetryCount != nil {
		set("retry_count", *p.RetryCount)
	}
	if p.ErrorKind != nil {
		set("error_kind", nullable(*p.ErrorKind))
	}
	if p.ErrorMessage != nil {
		set("error_message", nullable(*p.ErrorMessage))
	}
	if p.MessageID != nil {
		set("message_id", nullable(*p.MessageID))
	}
	if len(sets) == 0 {
		return "", nil
	}
	args = append(args, id)
	return "UPDATE sms_logs SET " + strings.Join(sets, ", ") + " WHERE id = $" + strconv.Itoa(len(args)), args
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
