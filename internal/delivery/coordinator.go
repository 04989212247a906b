package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/example/sms-notifier/internal/attemptlog"
	"github.com/example/sms-notifier/internal/common"
	"github.com/example/sms-notifier/internal/gateway"
	"github.com/example/sms-notifier/internal/template"
)

var (
	attemptCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sms_delivery_attempts_total",
		Help: "Logged delivery attempts by template and status",
	}, []string{"template", "status"})
	deliveryCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sms_deliveries_total",
		Help: "Logical sends by template and final result",
	}, []string{"template", "result"})
)

type Request struct {
	TemplateKey string
	Recipient   string
	Variables   template.Variables
	Correlation attemptlog.Correlation
}

// Receipt describes a finished logical send, successful or not.
type Receipt struct {
	MessageID string   `json:"message_id,omitempty"`
	Attempts  int      `json:"attempts"`
	LogIDs    []string `json:"log_ids,omitempty"`
}

// Coordinator drives bounded, strictly sequential delivery attempts and logs
// one audit record per attempt.
type Coordinator struct {
	Templates *template.Registry
	Sender    gateway.Sender
	Store     attemptlog.Store
	Policy    Policy
	Sleep     SleepFunc
	Now       func() time.Time
	Logger    zerolog.Logger
}

// ErrNoTemplates guards against a zero-value Coordinator.
var ErrNoTemplates = errors.New("coordinator requires a template registry")

func (c *Coordinator) Validate() error {
	if c.Templates == nil {
		return ErrNoTemplates
	}
	if c.Sender == nil || c.Store == nil {
		return errors.New("coordinator requires a sender and an attempt store")
	}
	return nil
}

// Deliver resolves and formats the template, then calls the gateway up to
// Policy.MaxAttempts times. Every record of the send shares one SendID.
// Validation failures are logged once and never retried. On failure the
// returned error is the last *gateway.Error.
func (c *Coordinator) Deliver(ctx context.Context, req Request) (Receipt, error) {
	ctx, span := otel.Tracer("sms-delivery").Start(ctx, "sms.deliver")
	defer span.End()
	span.SetAttributes(attribute.String("sms.template", req.TemplateKey))

	logger := common.WithContext(ctx, c.Logger).With().
		Str("template", req.TemplateKey).
		Str("recipient", gateway.MaskRecipient(req.Recipient)).
		Logger()

	sendID := uuid.NewString()
	tpl, number, message, verr := c.prepare(req)
	if verr != nil {
		recipient := req.Recipient
		if n, err := gateway.NormalizeRecipient(req.Recipient); err == nil {
			recipient = n
		}
		rec := attemptlog.Attempt{
			SendID:      sendID,
			Type:        req.TemplateKey,
			Recipient:   recipient,
			TemplateID:  tpl.ExternalID,
			Message:     message,
			Status:      attemptlog.StatusFailed,
			RetryCount:  0,
			Correlation: req.Correlation,
		}
		receipt := Receipt{Attempts: 0}
		c.record(ctx, logger, &receipt, rec, verr)
		deliveryCounter.WithLabelValues(req.TemplateKey, string(gateway.KindValidation)).Inc()
		span.SetStatus(codes.Error, verr.Message)
		logger.Warn().Err(verr).Msg("sms rejected before delivery")
		return receipt, verr
	}

	var (
		receipt     Receipt
		lastErr     *gateway.Error
		bo          = c.Policy.backOff()
		maxAttempts = c.Policy.attempts()
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := c.Sender.Send(ctx, number, tpl.ExternalID, message)
		receipt.Attempts = attempt

		rec := attemptlog.Attempt{
			SendID:      sendID,
			Type:        tpl.Key,
			Recipient:   number,
			TemplateID:  tpl.ExternalID,
			Message:     message,
			RetryCount:  attempt - 1,
			Correlation: req.Correlation,
		}
		if err == nil {
			rec.Status = attemptlog.StatusSent
			rec.MessageID = res.MessageID
			c.record(ctx, logger, &receipt, rec, nil)
			receipt.MessageID = res.MessageID
			deliveryCounter.WithLabelValues(tpl.Key, "sent").Inc()
			span.SetAttributes(attribute.Int("sms.attempts", attempt))
			logger.Info().Int("attempt", attempt).Str("message_id", res.MessageID).Msg("sms sent")
			return receipt, nil
		}

		lastErr = gateway.AsError(err)
		rec.Status = attemptlog.StatusFailed
		c.record(ctx, logger, &receipt, rec, lastErr)
		logger.Warn().Err(lastErr).Int("attempt", attempt).Int("max_attempts", maxAttempts).
			Str("error_kind", string(lastErr.Kind)).Msg("sms attempt failed")

		if !lastErr.Retryable() || attempt == maxAttempts {
			break
		}
		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			break
		}
		if err := c.sleep(ctx, delay); err != nil {
			logger.Warn().Err(err).Int("attempt", attempt).Msg("retry abandoned, context ended")
			break
		}
	}

	deliveryCounter.WithLabelValues(tpl.Key, string(lastErr.Kind)).Inc()
	span.SetStatus(codes.Error, string(lastErr.Kind))
	span.RecordError(lastErr)
	return receipt, lastErr
}

// prepare runs every check that must fail before the gateway is touched.
// The returned template and message are populated as far as resolution got.
func (c *Coordinator) prepare(req Request) (template.Template, string, string, *gateway.Error) {
	tpl, err := c.Templates.ByKey(req.TemplateKey)
	if err != nil {
		return template.Template{}, "", "", gateway.NewValidationError(err.Error(), err)
	}
	if !tpl.IsActive {
		return tpl, "", "", gateway.NewValidationError(fmt.Sprintf("template %s is inactive", tpl.Key), nil)
	}
	message, err := template.Format(tpl, req.Variables)
	if err != nil {
		return tpl, "", "", gateway.NewValidationError(err.Error(), err)
	}
	number, err := gateway.NormalizeRecipient(req.Recipient)
	if err != nil {
		return tpl, "", message, gateway.NewValidationError(err.Error(), err)
	}
	return tpl, number, message, nil
}

// record appends an attempt. A store failure is logged and swallowed so it
// cannot mask the delivery outcome.
func (c *Coordinator) record(ctx context.Context, logger zerolog.Logger, receipt *Receipt, rec attemptlog.Attempt, failure *gateway.Error) {
	if failure != nil {
		rec.ErrorKind = string(failure.Kind)
		rec.ErrorMessage = failure.Error()
	}
	rec.Timestamp = c.now()
	attemptCounter.WithLabelValues(rec.Type, string(rec.Status)).Inc()

	id, err := c.Store.Append(ctx, rec)
	if err != nil {
		logger.Error().Err(err).Int("retry_count", rec.RetryCount).Msg("failed to write sms attempt log")
		return
	}
	receipt.LogIDs = append(receipt.LogIDs, id)
}

func (c *Coordinator) sleep(ctx context.Context, d time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c.Sleep == nil {
		return Sleep(ctx, d)
	}
	return c.Sleep(ctx, d)
}

func (c *Coordinator) now() time.Time {
	if c.Now == nil {
		return time.Now().UTC()
	}
	return c.Now()
}
