package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/sms-notifier/internal/attemptlog"
	"github.com/example/sms-notifier/internal/common"
	"github.com/example/sms-notifier/internal/gateway"
	"github.com/example/sms-notifier/internal/template"
)

var (
	httpCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_http_requests_total",
		Help: "HTTP requests served by the sms API",
	}, []string{"route", "status"})
	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notify_http_request_duration_seconds",
		Help:    "Latency of sms API requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

type SendRequest struct {
	TemplateKey string            `json:"template_key"`
	Recipient   string            `json:"recipient"`
	Variables   map[string]string `json:"variables"`
	EntryID     string            `json:"entry_id,omitempty"`
	CustomerID  string            `json:"customer_id,omitempty"`
	LocationID  string            `json:"location_id,omitempty"`
	OperatorID  string            `json:"operator_id,omitempty"`
}

func (r SendRequest) Correlation() attemptlog.Correlation {
	return attemptlog.Correlation{
		EntryID:    r.EntryID,
		CustomerID: r.CustomerID,
		LocationID: r.LocationID,
		OperatorID: r.OperatorID,
	}
}

type Handler struct {
	svc    *Service
	tracer trace.Tracer
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{
		svc:    svc,
		tracer: otel.Tracer("notify"),
		logger: logger,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.instrument)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/v1/sms", func(r chi.Router) {
		r.Post("/send", h.send)
		r.Post("/retry-failed", h.retryFailed)
		r.Get("/stats", h.statistics)
		r.Get("/templates", h.templates)
		r.Get("/logs", h.logs)
	})
	return r
}

// instrument wraps every route in a span and records the matched chi pattern
// so metrics stay low-cardinality.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "notify.http")
		defer span.End()

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		span.SetAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
		)
		httpCounter.WithLabelValues(route, strconv.Itoa(status)).Inc()
		httpLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondErr(ctx, w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if req.TemplateKey == "" {
		h.respondErr(ctx, w, http.StatusBadRequest, errors.New("template_key is required"))
		return
	}

	res, err := h.svc.SendNotification(ctx, req.TemplateKey, req.Recipient, req.Variables, req.Correlation())
	if err != nil {
		status := http.StatusBadGateway
		if gateway.KindOf(err) == gateway.KindValidation {
			status = http.StatusUnprocessableEntity
		}
		logger := common.WithContext(ctx, h.logger)
		logger.Warn().Err(err).Str("template", req.TemplateKey).Int("status", status).Msg("sms send failed")
		writeJSON(w, status, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) retryFailed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	maxRetry, err := intParam(q.Get("max_retry_count"))
	if err != nil {
		h.respondErr(ctx, w, http.StatusBadRequest, fmt.Errorf("max_retry_count: %w", err))
		return
	}
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		h.respondErr(ctx, w, http.StatusBadRequest, fmt.Errorf("limit: %w", err))
		return
	}

	res, err := h.svc.RetryFailed(ctx, maxRetry, limit)
	if err != nil {
		h.respondErr(ctx, w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) statistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	f, err := ParseFilter(r.URL.Query().Get, h.svc.Location())
	if err != nil {
		h.respondErr(ctx, w, http.StatusBadRequest, err)
		return
	}
	snap, err := h.svc.Statistics(ctx, f)
	if err != nil {
		h.respondErr(ctx, w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) templates(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.ListTemplates(template.Category(r.URL.Query().Get("category")))
	if err != nil {
		h.respondErr(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) logs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	var (
		records []attemptlog.Attempt
		err     error
	)
	switch {
	case q.Get("entry_id") != "":
		records, err = h.svc.LogsByEntry(ctx, q.Get("entry_id"))
	case q.Get("customer_id") != "":
		records, err = h.svc.LogsByCustomer(ctx, q.Get("customer_id"))
	default:
		h.respondErr(ctx, w, http.StatusBadRequest, errors.New("entry_id or customer_id is required"))
		return
	}
	if err != nil {
		h.respondErr(ctx, w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []attemptlog.Attempt{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) respondErr(ctx context.Context, w http.ResponseWriter, status int, err error) {
	logger := common.WithContext(ctx, h.logger)
	logger.Error().Err(err).Int("status", status).Msg("sms api request failed")
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("must not be negative, got %d", n)
	}
	return n, nil
}
