package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/sms-notifier/internal/attemptlog"
	"github.com/example/sms-notifier/internal/common"
	"github.com/example/sms-notifier/internal/gateway"
	"github.com/example/sms-notifier/internal/notify"
	"github.com/example/sms-notifier/internal/template"
)

var messageCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sms_worker_messages_total",
	Help: "Queued send requests by outcome",
}, []string{"result"})

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Notifier is satisfied by *notify.Service.
type Notifier interface {
	SendNotification(ctx context.Context, templateKey, recipient string, vars template.Variables, corr attemptlog.Correlation) (notify.SendResult, error)
}

// Request is the queued form of a send. RequestID is echoed on events.
type Request struct {
	RequestID string `json:"request_id,omitempty"`
	notify.SendRequest
}

type Event struct {
	RequestID string            `json:"request_id,omitempty"`
	LogIDs    []string          `json:"log_ids"`
	Template  string            `json:"template"`
	Status    attemptlog.Status `json:"status"`
	MessageID string            `json:"message_id,omitempty"`
	ErrorKind gateway.ErrorKind `json:"error_kind,omitempty"`
	EmittedAt time.Time         `json:"emitted_at"`
}

// DeadLetter wraps a request that can never succeed as sent.
type DeadLetter struct {
	RequestID string          `json:"request_id,omitempty"`
	Reason    string          `json:"reason"`
	Error     *gateway.Error  `json:"error,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	FailedAt  time.Time       `json:"failed_at"`
}

// Worker consumes send requests, delivers them through the notifier and
// reports each outcome on the events topic. Requests that fail validation
// or cannot be decoded go to the DLQ. Retryable failures stay in the
// attempt log for the batch retry.
type Worker struct {
	ReaderFactory func() MessageReader
	EventWriter   MessageWriter
	DLQWriter     MessageWriter
	Notifier      Notifier
	Now           func() time.Time
	Logger        zerolog.Logger
}

func (w *Worker) Run(ctx context.Context) error {
	if w.ReaderFactory == nil || w.EventWriter == nil || w.DLQWriter == nil || w.Notifier == nil {
		return errors.New("worker requires a reader factory, event and DLQ writers and a notifier")
	}
	reader := w.ReaderFactory()
	defer reader.Close()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}
		if err := w.Handle(ctx, msg); err != nil {
			return err
		}
		if err := reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit message: %w", err)
		}
	}
}

// Handle processes one message. A returned error means the message must not
// be committed. Only a failed DLQ write returns one: once the notifier has
// been called, a lost delivery event is logged and the message still commits.
func (w *Worker) Handle(ctx context.Context, msg kafka.Message) error {
	ctx, span := otel.Tracer("sms-worker").Start(ctx, "sms.worker.handle")
	defer span.End()
	logger := common.WithContext(ctx, w.Logger)

	var req Request
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		logger.Error().Err(err).Int64("offset", msg.Offset).Msg("failed to decode sms request, sending to DLQ")
		messageCounter.WithLabelValues("undecodable").Inc()
		return w.writeDLQ(ctx, DeadLetter{Reason: "undecodable", Payload: rawPayload(msg.Value)})
	}
	if req.RequestID == "" {
		req.RequestID = string(msg.Key)
	}
	span.SetAttributes(
		attribute.String("sms.request_id", req.RequestID),
		attribute.String("sms.template", req.TemplateKey),
	)

	res, sendErr := w.Notifier.SendNotification(ctx, req.TemplateKey, req.Recipient, req.Variables, req.Correlation())

	event := Event{
		RequestID: req.RequestID,
		LogIDs:    res.LogIDs,
		Template:  req.TemplateKey,
		Status:    attemptlog.StatusSent,
		MessageID: res.MessageID,
		EmittedAt: w.now(),
	}
	if event.LogIDs == nil {
		event.LogIDs = []string{}
	}
	if sendErr != nil {
		gerr := gateway.AsError(sendErr)
		span.RecordError(gerr)
		event.Status = attemptlog.StatusFailed
		event.ErrorKind = gerr.Kind
		if gerr.Kind == gateway.KindValidation {
			messageCounter.WithLabelValues("rejected").Inc()
			if err := w.writeDLQ(ctx, DeadLetter{
				RequestID: req.RequestID,
				Reason:    string(gerr.Kind),
				Error:     gerr,
				Payload:   rawPayload(msg.Value),
			}); err != nil {
				return err
			}
		} else {
			messageCounter.WithLabelValues("failed").Inc()
		}
		logger.Warn().Err(gerr).Str("request_id", req.RequestID).Msg("queued sms not delivered")
	} else {
		messageCounter.WithLabelValues("sent").Inc()
	}

	if err := w.emitEvent(ctx, event); err != nil {
		// Redelivery would send the SMS again; the attempt log keeps the outcome.
		messageCounter.WithLabelValues("event_lost").Inc()
		span.RecordError(err)
		logger.Error().Err(err).Str("request_id", req.RequestID).Strs("log_ids", event.LogIDs).
			Msg("delivery event not written, committing request anyway")
	}
	return nil
}

func (w *Worker) emitEvent(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal delivery event: %w", err)
	}
	if err := w.EventWriter.WriteMessages(ctx, kafka.Message{Key: []byte(keyFor(e.RequestID)), Value: payload}); err != nil {
		return fmt.Errorf("write delivery event: %w", err)
	}
	return nil
}

func (w *Worker) writeDLQ(ctx context.Context, d DeadLetter) error {
	d.FailedAt = w.now()
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal dlq message: %w", err)
	}
	if err := w.DLQWriter.WriteMessages(ctx, kafka.Message{Key: []byte(keyFor(d.RequestID)), Value: payload}); err != nil {
		return fmt.Errorf("write dlq message: %w", err)
	}
	return nil
}

func (w *Worker) now() time.Time {
	if w.Now == nil {
		return time.Now().UTC()
	}
	return w.Now()
}

func keyFor(requestID string) string {
	if requestID == "" {
		return uuid.NewString()
	}
	return requestID
}

// rawPayload keeps valid JSON as is and quotes anything else so the dead
// letter stays valid JSON.
func rawPayload(b []byte) json.RawMessage {
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}
