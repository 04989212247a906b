package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultEndpoint = "https://www.fast2sms.com/dev/bulkV2"
	DefaultTimeout  = 30 * time.Second

	maxResponseBytes = 1 << 20
)

var (
	requestCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sms_gateway_requests_total",
		Help: "Gateway calls by classified outcome",
	}, []string{"outcome"})
	requestLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sms_gateway_request_duration_seconds",
		Help:    "Latency of gateway calls that reached the network",
		Buckets: prometheus.DefBuckets,
	})

	mobilePattern = regexp.MustCompile(`^[6-9][0-9]{9}$`)
)

// Sender is the delivery port consumed by the retry coordinator.
type Sender interface {
	Send(ctx context.Context, recipient, externalID, variables string) (Result, error)
}

type Result struct {
	MessageID  string `json:"message_id"`
	StatusCode int    `json:"status_code"`
}

// Client performs exactly one DLT-route GET per Send. It never retries.
type Client struct {
	Endpoint string
	APIKey   string
	SenderID string
	EntityID string
	Timeout  time.Duration
	Client   *http.Client
}

type response struct {
	Return     *bool           `json:"return"`
	RequestID  string          `json:"request_id"`
	Message    json.RawMessage `json:"message"`
	Code       json.RawMessage `json:"code"`
	StatusCode json.RawMessage `json:"status_code"`
}

func (c *Client) Send(ctx context.Context, recipient, externalID, variables string) (Result, error) {
	number, err := NormalizeRecipient(recipient)
	if err != nil {
		requestCounter.WithLabelValues(string(KindValidation)).Inc()
		return Result{}, NewValidationError(err.Error(), err)
	}
	if !isDigits(externalID) {
		requestCounter.WithLabelValues(string(KindValidation)).Inc()
		return Result{}, NewValidationError(fmt.Sprintf("template id %q must be numeric", externalID), nil)
	}
	if variables == "" {
		requestCounter.WithLabelValues(string(KindValidation)).Inc()
		return Result{}, NewValidationError("formatted variables must not be empty", nil)
	}

	ctx, span := otel.Tracer("sms-gateway").Start(ctx, "sms.gateway.send")
	defer span.End()
	span.SetAttributes(attribute.String("sms.template_id", externalID))

	res, err := c.do(ctx, number, externalID, variables)
	if err != nil {
		ge := AsError(err)
		span.RecordError(ge)
		span.SetStatus(codes.Error, string(ge.Kind))
		requestCounter.WithLabelValues(string(ge.Kind)).Inc()
		return Result{}, ge
	}
	span.SetAttributes(attribute.String("sms.message_id", res.MessageID))
	requestCounter.WithLabelValues("success").Inc()
	return res, nil
}

func (c *Client) do(ctx context.Context, number, externalID, variables string) (Result, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(number, externalID, variables), nil)
	if err != nil {
		return Result{}, &Error{Kind: KindUnknown, Message: "build request: " + err.Error(), Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return Result{}, classifyTransport(err)
	}
	defer resp.Body.Close()
	requestLatency.Observe(time.Since(start).Seconds())

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, &Error{Kind: KindNetwork, Message: "read response: " + err.Error(), StatusCode: resp.StatusCode, Err: err}
	}
	return classifyResponse(resp.StatusCode, body)
}

func (c *Client) requestURL(number, externalID, variables string) string {
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	q := url.Values{}
	q.Set("authorization", c.APIKey)
	q.Set("route", "dlt")
	q.Set("sender_id", c.SenderID)
	q.Set("message", externalID)
	q.Set("variables_values", variables)
	q.Set("flash", "0")
	q.Set("numbers", number)
	if c.EntityID != "" {
		q.Set("entity_id", c.EntityID)
	}
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + q.Encode()
}

func classifyTransport(err error) *Error {
	msg := "gateway unreachable"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "gateway request timed out"
	} else if te, ok := err.(interface{ Timeout() bool }); ok && te.Timeout() {
		msg = "gateway request timed out"
	}
	return &Error{Kind: KindNetwork, Message: msg + ": " + err.Error(), Err: err}
}

func classifyResponse(status int, body []byte) (Result, error) {
	var parsed response
	parseErr := json.Unmarshal(body, &parsed)
	code := ""
	message := ""
	if parseErr == nil {
		code = rawString(parsed.Code)
		if code == "" {
			code = rawString(parsed.StatusCode)
		}
		message = rawMessage(parsed.Message)
	}

	switch {
	case status == http.StatusUnauthorized:
		return Result{}, &Error{Kind: KindAuthentication, Message: orDefault(message, "gateway rejected credentials"), Code: code, StatusCode: status, Hint: orDefault(hintForCode(code), hintForCode("412"))}
	case status == http.StatusTooManyRequests:
		return Result{}, &Error{Kind: KindRateLimit, Message: orDefault(message, "gateway rate limit reached"), Code: code, StatusCode: status}
	case status >= 200 && status < 300:
		if parseErr != nil {
			return Result{}, &Error{Kind: KindAPI, Message: "unexpected gateway response: " + parseErr.Error(), StatusCode: status, Err: parseErr}
		}
		if parsed.Return != nil && *parsed.Return {
			return Result{MessageID: parsed.RequestID, StatusCode: status}, nil
		}
		return Result{}, &Error{
			Kind:       kindForCode(code, KindAPI),
			Message:    orDefault(message, "gateway reported failure"),
			Code:       code,
			StatusCode: status,
			Hint:       hintForCode(code),
		}
	default:
		return Result{}, &Error{
			Kind:       kindForCode(code, KindUnknown),
			Message:    orDefault(message, http.StatusText(status)),
			Code:       code,
			StatusCode: status,
			Hint:       hintForCode(code),
		}
	}
}

// rawString accepts a JSON string or number.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// rawMessage accepts a JSON string or a list of strings.
func rawMessage(raw json.RawMessage) string {
	if s := rawString(raw); s != "" {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "; ")
	}
	return ""
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// NormalizeRecipient strips separators and an Indian country/trunk prefix and
// returns the bare 10-digit mobile number.
func NormalizeRecipient(raw string) (string, error) {
	n := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))
	n = strings.TrimPrefix(n, "+")
	switch {
	case len(n) == 12 && strings.HasPrefix(n, "91"):
		n = n[2:]
	case len(n) == 11 && strings.HasPrefix(n, "0"):
		n = n[1:]
	}
	if !mobilePattern.MatchString(n) {
		return "", fmt.Errorf("recipient %q is not a valid 10-digit mobile number", MaskRecipient(raw))
	}
	return n, nil
}

// MaskRecipient keeps only the last four digits for logs.
func MaskRecipient(raw string) string {
	if len(raw) <= 4 {
		return strings.Repeat("*", len(raw))
	}
	return strings.Repeat("*", len(raw)-4) + raw[len(raw)-4:]
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
