package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/segmentio/kafka-go"

	"github.com/example/sms-notifier/internal/app"
	"github.com/example/sms-notifier/internal/common"
	"github.com/example/sms-notifier/internal/worker"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := common.LoadConfig("sms-worker")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := common.NewLogger(cfg.ServiceName)
	if err := cfg.Validate(true); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	shutdown, err := common.SetupOTel(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise telemetry")
	}
	defer common.ShutdownTelemetry(context.Background(), shutdown)

	metricsSrv := common.StartMetricsServer(cfg.MetricsPort, logger)
	defer metricsSrv.Shutdown(context.Background())

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build sms service")
	}
	defer a.Close()

	readerFactory := func() worker.MessageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.ServiceName,
			Topic:   cfg.RequestTopic,
		})
	}

	eventWriter := &kafka.Writer{
		Addr:     kafka.TCP(cfg.KafkaBrokers...),
		Topic:    cfg.DeliveryEventsTopic,
		Balancer: &kafka.Hash{},
	}
	defer eventWriter.Close()

	dlqWriter := &kafka.Writer{
		Addr:     kafka.TCP(cfg.KafkaBrokers...),
		Topic:    cfg.DLQTopic,
		Balancer: &kafka.Hash{},
	}
	defer dlqWriter.Close()

	w := worker.Worker{
		ReaderFactory: readerFactory,
		EventWriter:   eventWriter,
		DLQWriter:     dlqWriter,
		Notifier:      a.Service,
		Logger:        logger,
	}

	logger.Info().Str("topic", cfg.RequestTopic).Msg("sms worker started")
	if err := w.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("sms worker stopped")
	}
	logger.Info().Msg("sms worker stopped")
}
