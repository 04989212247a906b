package delivery

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/sms-notifier/internal/attemptlog"
	"github.com/example/sms-notifier/internal/common"
	"github.com/example/sms-notifier/internal/gateway"
)

var batchCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sms_retry_batch_records_total",
	Help: "Records processed by the failed-delivery retry batch",
}, []string{"result"})

// BatchError reports one record the batch could not deliver or update.
type BatchError struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type BatchResult struct {
	Total      int          `json:"total"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Skipped    int          `json:"skipped"`
	Errors     []BatchError `json:"errors"`
}

const (
	kindStore     = "store"
	kindPanic     = "panic"
	kindCancelled = "cancelled"
)

// RetryFailed re-sends up to limit failed records whose RetryCount is below
// maxRetryCount. Only the latest attempt of an undelivered send is a
// candidate, and validation failures never are. Each record gets a single
// gateway attempt and is updated in place. The candidate list is a snapshot; a record re-sent concurrently by
// another caller may be sent twice.
func (c *Coordinator) RetryFailed(ctx context.Context, maxRetryCount, limit int) (BatchResult, error) {
	ctx, span := otel.Tracer("sms-delivery").Start(ctx, "sms.retry_batch")
	defer span.End()
	logger := common.WithContext(ctx, c.Logger)

	records, err := c.Store.Failed(ctx, maxRetryCount, limit)
	if err != nil {
		span.RecordError(err)
		return BatchResult{}, fmt.Errorf("list failed attempts: %w", err)
	}
	span.SetAttributes(attribute.Int("sms.batch_size", len(records)))

	result := BatchResult{Total: len(records), Errors: []BatchError{}}
	for i, rec := range records {
		if ctx.Err() != nil {
			result.Skipped = len(records) - i
			result.Errors = append(result.Errors, BatchError{Kind: kindCancelled, Message: fmt.Sprintf("%d records not attempted: %v", result.Skipped, ctx.Err())})
			batchCounter.WithLabelValues("skipped").Add(float64(result.Skipped))
			break
		}

		sent, berr := c.retryRecord(ctx, rec)
		if sent {
			result.Successful++
			batchCounter.WithLabelValues("sent").Inc()
		} else {
			result.Failed++
			batchCounter.WithLabelValues("failed").Inc()
		}
		if berr != nil {
			result.Errors = append(result.Errors, *berr)
			logger.Warn().Str("log_id", rec.ID).Str("error_kind", berr.Kind).Msg(berr.Message)
		}
	}

	logger.Info().
		Int("total", result.Total).
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Msg("sms retry batch finished")
	return result, nil
}

// retryRecord is the isolation unit for one record: a panic is converted into
// a BatchError so the loop carries on.
func (c *Coordinator) retryRecord(ctx context.Context, rec attemptlog.Attempt) (sent bool, berr *BatchError) {
	defer func() {
		if r := recover(); r != nil {
			sent = false
			berr = &BatchError{ID: rec.ID, Kind: kindPanic, Message: fmt.Sprint(r)}
		}
	}()

	res, err := c.Sender.Send(ctx, rec.Recipient, rec.TemplateID, rec.Message)
	retries := rec.RetryCount + 1
	attemptCounter.WithLabelValues(rec.Type, statusFor(err)).Inc()

	var patch attemptlog.Patch
	if err == nil {
		status := attemptlog.StatusSent
		cleared := ""
		patch = attemptlog.Patch{Status: &status, RetryCount: &retries, ErrorKind: &cleared, ErrorMessage: &cleared, MessageID: &res.MessageID}
	} else {
		ge := gateway.AsError(err)
		status := attemptlog.StatusFailed
		kind := string(ge.Kind)
		msg := ge.Error()
		patch = attemptlog.Patch{Status: &status, RetryCount: &retries, ErrorKind: &kind, ErrorMessage: &msg}
		berr = &BatchError{ID: rec.ID, Kind: string(ge.Kind), Message: ge.Error()}
	}

	if uerr := c.Store.Update(ctx, rec.ID, patch); uerr != nil {
		// The delivery outcome stands; only the audit update is reported.
		if berr == nil {
			berr = &BatchError{ID: rec.ID, Kind: kindStore, Message: uerr.Error()}
		} else {
			berr.Message += "; " + uerr.Error()
		}
	}
	return err == nil, berr
}

func statusFor(err error) string {
	if err == nil {
		return string(attemptlog.StatusSent)
	}
	return string(attemptlog.StatusFailed)
}
