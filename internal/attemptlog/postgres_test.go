package attemptlog

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildQuery(t *testing.T) {
	q, args := buildQuery(Filter{})
	assert.True(t, strings.HasSuffix(q, "ORDER BY attempted_at DESC"))
	assert.NotContains(t, q, "WHERE")
	assert.Empty(t, args)

	from := base
	to := base.Add(time.Hour)
	q, args = buildQuery(Filter{Type: "t", Status: StatusSent, LocationID: "L", From: from, To: to, Limit: 10})
	assert.Contains(t, q, "WHERE type = $1 AND status = $2 AND location_id = $3 AND attempted_at >= $4 AND attempted_at <= $5 ORDER BY attempted_at DESC LIMIT $6")
	assert.Equal(t, []any{"t", "sent", "L", from, to, 10}, args)
}

func TestBuildUpdate(t *testing.T) {
	q, args := buildUpdate("id-1", Patch{})
	assert.Empty(t, q)
	assert.Nil(t, args)

	failed := StatusFailed
	n := 2
	msg := "api error"
	q, args = buildUpdate("id-1", Patch{Status: &failed, RetryCount: &n, ErrorMessage: &msg})
	assert.Equal(t, "UPDATE sms_logs SET status = $1, retry_count = $2, error_message = $3 WHERE id = $4", q)
	require.Len(t, args, 4)
	assert.Equal(t, "failed", args[0])
	assert.Equal(t, 2, args[1])
	assert.Equal(t, "id-1", args[3])
}

func TestBuildFailed(t *testing.T) {
	q, args := buildFailed(3, 0)
	assert.Contains(t, q, "WHERE status = $1 AND retry_count < $2")
	assert.Contains(t, q, "COALESCE(error_kind, '') <> $3")
	assert.Contains(t, q, "later.retry_count > sms_logs.retry_count")
	assert.NotContains(t, q, "LIMIT")
	assert.Equal(t, []any{"failed", 3, TerminalErrorKind}, args)

	q, args = buildFailed(3, 25)
	assert.True(t, strings.HasSuffix(q, "ORDER BY attempted_at DESC LIMIT $4"))
	assert.Equal(t, 25, args[3])
}

func TestNewPostgresStore_RequiresPool(t *testing.T) {
	_, err := NewPostgresStore(nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

// Runs only against a disposable database.
func TestPostgresStore_RoundTrip(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	s, err := NewPostgresStore(pool)
	require.NoError(t, err)
	require.NoError(t, s.EnsureSchema(ctx))
	_, err = pool.Exec(ctx, "TRUNCATE sms_logs")
	require.NoError(t, err)

	in := Attempt{
		Type:         "threeDayReminder",
		Recipient:    "9876543210",
		TemplateID:   "198765",
		Message:      "a|b",
		Status:       StatusFailed,
		ErrorMessage: "boom",
		Timestamp:    base,
		RetryCount:   0,
		Correlation:  Correlation{EntryID: "E1", CustomerID: "C1"},
	}
	id, err := s.Append(ctx, in)
	require.NoError(t, err)

	out, err := s.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, id, out[0].ID)
	out[0].ID = ""
	out[0].Timestamp = out[0].Timestamp.UTC()
	assert.Equal(t, in, out[0])

	failed, err := s.Failed(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, failed, 1)

	sent := StatusSent
	require.NoError(t, s.Update(ctx, id, Patch{Status: &sent}))
	failed, err = s.Failed(ctx, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, failed)

	// Only the latest attempt of a send is a candidate.
	seed(t, s,
		Attempt{SendID: "send-1", Type: "t", Recipient: "9", Status: StatusFailed, ErrorKind: "network", RetryCount: 0, Timestamp: base},
		Attempt{SendID: "send-1", Type: "t", Recipient: "9", Status: StatusFailed, ErrorKind: "network", RetryCount: 1, Timestamp: base.Add(time.Second)},
		Attempt{SendID: "send-2", Type: "t", Recipient: "9", Status: StatusFailed, ErrorKind: TerminalErrorKind, Timestamp: base},
	)
	failed, err = s.Failed(ctx, 3, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "send-1", failed[0].SendID)
	assert.Equal(t, 1, failed[0].RetryCount)

	n, err := s.CountOlderThan(ctx, base.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
