package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/sms-notifier/internal/attemptlog"
	"github.com/example/sms-notifier/internal/gateway"
	"github.com/example/sms-notifier/internal/template"
)

type sendCall struct {
	recipient, externalID, variables string
}

// scriptedSender returns the scripted outcomes in order and repeats the last one.
type scriptedSender struct {
	mu      sync.Mutex
	results []error
	ids     []string
	calls   []sendCall
	panics  map[string]bool
}

func (s *scriptedSender) Send(_ context.Context, recipient, externalID, variables string) (gateway.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panics[recipient] {
		panic("sender exploded")
	}
	n := len(s.calls)
	s.calls = append(s.calls, sendCall{recipient, externalID, variables})
	idx := n
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	if err := s.results[idx]; err != nil {
		return gateway.Result{}, err
	}
	id := "req-default"
	if n < len(s.ids) {
		id = s.ids[n]
	}
	return gateway.Result{MessageID: id, StatusCode: 200}, nil
}

type instantSleep struct {
	delays []time.Duration
}

func (s *instantSleep) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

type failingStore struct {
	attemptlog.Store
}

func (failingStore) Append(context.Context, attemptlog.Attempt) (string, error) {
	return "", errors.New("store down")
}

func newCoordinator(t *testing.T, sender gateway.Sender, store attemptlog.Store) (*Coordinator, *instantSleep) {
	t.Helper()
	reg, err := template.DefaultRegistry()
	require.NoError(t, err)
	sl := &instantSleep{}
	return &Coordinator{
		Templates: reg,
		Sender:    sender,
		Store:     store,
		Policy:    FixedPolicy(3, 5*time.Second),
		Sleep:     sl.sleep,
		Logger:    zerolog.Nop(),
	}, sl
}

func reminderRequest() Request {
	return Request{
		TemplateKey: "threeDayReminder",
		Recipient:   "+919876543210",
		Variables: template.Variables{
			"var1": "Rama", "var2": "Locker-A", "var3": "25/09/2025", "var4": "9198", "var5": "Locker-A",
		},
		Correlation: attemptlog.Correlation{EntryID: "E1", CustomerID: "C1"},
	}
}

func netErr() error {
	return &gateway.Error{Kind: gateway.KindNetwork, Message: "gateway unreachable"}
}

func TestDeliver_FailsTwiceThenSucceeds(t *testing.T) {
	sender := &scriptedSender{results: []error{netErr(), netErr(), nil}, ids: []string{"", "", "req-3"}}
	store := attemptlog.NewMemoryStore()
	c, sl := newCoordinator(t, sender, store)

	receipt, err := c.Deliver(context.Background(), reminderRequest())
	require.NoError(t, err)
	assert.Equal(t, "req-3", receipt.MessageID)
	assert.Equal(t, 3, receipt.Attempts)
	assert.Len(t, receipt.LogIDs, 3)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, sl.delays)

	require.Len(t, sender.calls, 3)
	assert.Equal(t, sendCall{"9876543210", "198765", "Rama|Locker-A|25/09/2025|9198|Locker-A"}, sender.calls[0])

	logs, err := store.Query(context.Background(), attemptlog.Filter{EntryID: "E1"})
	require.NoError(t, err)
	require.Len(t, logs, 3)

	byRetry := map[int]attemptlog.Attempt{}
	for _, l := range logs {
		byRetry[l.RetryCount] = l
	}
	assert.Equal(t, attemptlog.StatusFailed, byRetry[0].Status)
	assert.NotEmpty(t, byRetry[0].ErrorMessage)
	assert.Equal(t, attemptlog.StatusFailed, byRetry[1].Status)
	assert.Equal(t, attemptlog.StatusSent, byRetry[2].Status)
	assert.Equal(t, "req-3", byRetry[2].MessageID)
	assert.Empty(t, byRetry[2].ErrorMessage)
	assert.Equal(t, "C1", byRetry[2].CustomerID)
}

func TestDeliver_AlwaysFailsReturnsLastError(t *testing.T) {
	last := &gateway.Error{Kind: gateway.KindRateLimit, Message: "slow down", StatusCode: 429}
	sender := &scriptedSender{results: []error{netErr(), netErr(), last}}
	store := attemptlog.NewMemoryStore()
	c, sl := newCoordinator(t, sender, store)

	receipt, err := c.Deliver(context.Background(), reminderRequest())
	require.Error(t, err)
	var ge *gateway.Error
	require.True(t, errors.As(err, &ge))
	assert.Same(t, last, ge)
	assert.Equal(t, 3, receipt.Attempts)
	assert.Len(t, sl.delays, 2, "no wait after the final attempt")

	logs, err := store.Query(context.Background(), attemptlog.Filter{})
	require.NoError(t, err)
	assert.Len(t, logs, 3)
	assert.Len(t, sender.calls, 3)
	for _, l := range logs {
		assert.Equal(t, attemptlog.StatusFailed, l.Status)
	}
}

func TestDeliver_ValidationIsTerminalAndLoggedOnce(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"unknown template", func(r *Request) { r.TemplateKey = "nope" }},
		{"inactive template", func(r *Request) { r.TemplateKey = "legacyDisposalNotice" }},
		{"missing variable", func(r *Request) { delete(r.Variables, "var3") }},
		{"bad recipient", func(r *Request) { r.Recipient = "12345" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sender := &scriptedSender{results: []error{nil}}
			store := attemptlog.NewMemoryStore()
			c, sl := newCoordinator(t, sender, store)

			req := reminderRequest()
			tc.mutate(&req)
			receipt, err := c.Deliver(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, gateway.KindValidation, gateway.KindOf(err))
			assert.Equal(t, 0, receipt.Attempts)
			assert.Empty(t, sender.calls)
			assert.Empty(t, sl.delays)

			logs, err := store.Query(context.Background(), attemptlog.Filter{})
			require.NoError(t, err)
			require.Len(t, logs, 1)
			assert.Equal(t, attemptlog.StatusFailed, logs[0].Status)
			assert.Equal(t, 0, logs[0].RetryCount)
			assert.Equal(t, attemptlog.TerminalErrorKind, logs[0].ErrorKind)
			assert.NotEmpty(t, logs[0].ErrorMessage)
		})
	}
}

func TestDeliver_ValidationRecordStoresNormalizedRecipient(t *testing.T) {
	store := attemptlog.NewMemoryStore()
	c, _ := newCoordinator(t, &scriptedSender{results: []error{nil}}, store)

	req := reminderRequest()
	req.Recipient = "+91 98765-43210"
	delete(req.Variables, "var2")
	_, err := c.Deliver(context.Background(), req)
	require.Error(t, err)

	logs, err := store.Query(context.Background(), attemptlog.Filter{Recipient: "9876543210"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "9876543210", logs[0].Recipient)
}

func TestDeliver_RecordsShareSendID(t *testing.T) {
	sender := &scriptedSender{results: []error{netErr(), nil}}
	store := attemptlog.NewMemoryStore()
	c, _ := newCoordinator(t, sender, store)

	_, err := c.Deliver(context.Background(), reminderRequest())
	require.NoError(t, err)
	_, err = c.Deliver(context.Background(), reminderRequest())
	require.NoError(t, err)

	logs, err := store.Query(context.Background(), attemptlog.Filter{})
	require.NoError(t, err)
	require.Len(t, logs, 3)
	sends := map[string]int{}
	for _, l := range logs {
		require.NotEmpty(t, l.SendID)
		sends[l.SendID]++
	}
	assert.Len(t, sends, 2)
	assert.Equal(t, string(gateway.KindNetwork), logs[2].ErrorKind)
}

func TestTerminalErrorKindMatchesValidation(t *testing.T) {
	assert.Equal(t, string(gateway.KindValidation), attemptlog.TerminalErrorKind)
}

func TestDeliver_GatewayValidationStopsRetries(t *testing.T) {
	sender := &scriptedSender{results: []error{gateway.NewValidationError("bad", nil)}}
	store := attemptlog.NewMemoryStore()
	c, sl := newCoordinator(t, sender, store)

	receipt, err := c.Deliver(context.Background(), reminderRequest())
	require.Error(t, err)
	assert.Equal(t, 1, receipt.Attempts)
	assert.Len(t, sender.calls, 1)
	assert.Empty(t, sl.delays)
}

func TestDeliver_StoreFailureDoesNotMaskOutcome(t *testing.T) {
	sender := &scriptedSender{results: []error{nil}, ids: []string{"req-1"}}
	c, _ := newCoordinator(t, sender, failingStore{})

	receipt, err := c.Deliver(context.Background(), reminderRequest())
	require.NoError(t, err)
	assert.Equal(t, "req-1", receipt.MessageID)
	assert.Empty(t, receipt.LogIDs)
}

func TestDeliver_CancelledContextStopsFurtherAttempts(t *testing.T) {
	sender := &scriptedSender{results: []error{netErr()}}
	store := attemptlog.NewMemoryStore()
	c, _ := newCoordinator(t, sender, store)

	ctx, cancel := context.WithCancel(context.Background())
	c.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	receipt, err := c.Deliver(ctx, reminderRequest())
	require.Error(t, err)
	assert.Equal(t, gateway.KindNetwork, gateway.KindOf(err))
	assert.Equal(t, 1, receipt.Attempts)

	logs, err := store.Query(context.Background(), attemptlog.Filter{})
	require.NoError(t, err)
	assert.Len(t, logs, 1, "logged attempts match gateway calls")
}

func TestDeliver_DefaultPolicy(t *testing.T) {
	sender := &scriptedSender{results: []error{netErr()}}
	c, sl := newCoordinator(t, sender, attemptlog.NewMemoryStore())
	c.Policy = Policy{}

	_, err := c.Deliver(context.Background(), reminderRequest())
	require.Error(t, err)
	assert.Len(t, sender.calls, DefaultMaxAttempts)
	assert.Equal(t, []time.Duration{DefaultDelay, DefaultDelay}, sl.delays)
}

func TestSleep_HonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)

	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
}

func TestExponentialPolicy_Grows(t *testing.T) {
	bo := ExponentialPolicy(5, 100*time.Millisecond, time.Second).backOff()
	first := bo.NextBackOff()
	second := bo.NextBackOff()
	assert.Greater(t, first, time.Duration(0))
	assert.LessOrEqual(t, first, 150*time.Millisecond)
	assert.GreaterOrEqual(t, second, 100*time.Millisecond)
	assert.LessOrEqual(t, second, 300*time.Millisecond)
}

func TestCoordinator_Validate(t *testing.T) {
	assert.ErrorIs(t, (&Coordinator{}).Validate(), ErrNoTemplates)
	c, _ := newCoordinator(t, &scriptedSender{results: []error{nil}}, attemptlog.NewMemoryStore())
	assert.NoError(t, c.Validate())
}
