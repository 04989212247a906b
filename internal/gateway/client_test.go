package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return &Client{
		Endpoint: srv.URL + "/dev/bulkV2",
		APIKey:   "secret",
		SenderID: "LOCKER",
		Timeout:  2 * time.Second,
	}, &calls
}

func TestSend_WireContract(t *testing.T) {
	var got url.Values
	var method string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		got = r.URL.Query()
		_, _ = w.Write([]byte(`{"return":true,"request_id":"req-42","message":["SMS sent successfully."]}`))
	})
	c.EntityID = "1201"

	res, err := c.Send(context.Background(), "+91 98765-43210", "198765", "Rama||25/09/2025")
	require.NoError(t, err)
	assert.Equal(t, "req-42", res.MessageID)

	assert.Equal(t, http.MethodGet, method)
	assert.Equal(t, "secret", got.Get("authorization"))
	assert.Equal(t, "dlt", got.Get("route"))
	assert.Equal(t, "LOCKER", got.Get("sender_id"))
	assert.Equal(t, "198765", got.Get("message"))
	assert.Equal(t, "Rama||25/09/2025", got.Get("variables_values"))
	assert.Equal(t, "0", got.Get("flash"))
	assert.Equal(t, "9876543210", got.Get("numbers"))
	assert.Equal(t, "1201", got.Get("entity_id"))
}

func TestSend_EntityIDOmittedWhenUnset(t *testing.T) {
	var got url.Values
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		_, _ = w.Write([]byte(`{"return":true,"request_id":"r"}`))
	})

	_, err := c.Send(context.Background(), "9876543210", "1", "a")
	require.NoError(t, err)
	_, present := got["entity_id"]
	assert.False(t, present)
}

func TestSend_PreconditionsSkipNetwork(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("gateway must not be called")
	})

	tests := []struct {
		name       string
		recipient  string
		externalID string
		variables  string
	}{
		{"short recipient", "12345", "198765", "a"},
		{"bad leading digit", "1234567890", "198765", "a"},
		{"non numeric template", "9876543210", "19a", "a"},
		{"empty variables", "9876543210", "198765", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Send(context.Background(), tc.recipient, tc.externalID, tc.variables)
			require.Error(t, err)
			assert.Equal(t, KindValidation, KindOf(err))
			assert.False(t, AsError(err).Retryable())
		})
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestSend_Classification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind ErrorKind
		wantCode string
		wantHint bool
	}{
		{"unauthorized", http.StatusUnauthorized, `{"return":false,"message":"Invalid Authentication"}`, KindAuthentication, "", true},
		{"rate limited", http.StatusTooManyRequests, ``, KindRateLimit, "", false},
		{"business failure", http.StatusOK, `{"return":false,"status_code":424,"message":"Invalid Message ID"}`, KindAPI, "424", true},
		{"business auth code", http.StatusOK, `{"return":false,"code":"412","message":"Invalid Authentication"}`, KindAuthentication, "412", true},
		{"malformed body", http.StatusOK, `<html>`, KindAPI, "", false},
		{"missing return flag", http.StatusOK, `{"request_id":"x"}`, KindAPI, "", false},
		{"server error", http.StatusBadGateway, `oops`, KindUnknown, "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := c.Send(context.Background(), "9876543210", "198765", "a|b")
			require.Error(t, err)
			ge := AsError(err)
			assert.Equal(t, tc.wantKind, ge.Kind)
			assert.Equal(t, tc.wantCode, ge.Code)
			assert.Equal(t, tc.status, ge.StatusCode)
			assert.Equal(t, tc.wantHint, ge.Hint != "")
			assert.True(t, ge.Retryable())
		})
	}
}

func TestSend_TimeoutIsNetworkError(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	c.Timeout = 50 * time.Millisecond

	_, err := c.Send(context.Background(), "9876543210", "198765", "a")
	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.Contains(t, err.Error(), "timed out")
}

func TestSend_ConnectionRefusedIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	c := &Client{Endpoint: endpoint, APIKey: "k", SenderID: "S", Timeout: time.Second}
	_, err := c.Send(context.Background(), "9876543210", "198765", "a")
	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
}

func TestNormalizeRecipient(t *testing.T) {
	cases := map[string]string{
		"9876543210":     "9876543210",
		"+919876543210":  "9876543210",
		"919876543210":   "9876543210",
		"09876543210":    "9876543210",
		"98765 43210":    "9876543210",
		"+91-98765-4321": "",
		"12345":          "",
	}
	for input, want := range cases {
		got, err := NormalizeRecipient(input)
		if want == "" {
			assert.Error(t, err, input)
			continue
		}
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}
}

func TestAsError_WrapsUnclassified(t *testing.T) {
	plain := errors.New("boom")
	ge := AsError(plain)
	assert.Equal(t, KindUnknown, ge.Kind)
	assert.True(t, errors.Is(ge, plain))
	assert.Nil(t, AsError(nil))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
}

func TestMaskRecipient(t *testing.T) {
	assert.Equal(t, "******3210", MaskRecipient("9876543210"))
	assert.Equal(t, "***", MaskRecipient("123"))
}
