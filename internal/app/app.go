// Package app assembles the sms components from configuration. Every binary
// builds its dependencies here so the HTTP API, the queue worker and the CLI
// share one wiring.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"
	_ "time/tzdata"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/example/sms-notifier/internal/attemptlog"
	"github.com/example/sms-notifier/internal/common"
	"github.com/example/sms-notifier/internal/delivery"
	"github.com/example/sms-notifier/internal/gateway"
	"github.com/example/sms-notifier/internal/notify"
	"github.com/example/sms-notifier/internal/stats"
	"github.com/example/sms-notifier/internal/template"
)

type App struct {
	Service *notify.Service
	Store   attemptlog.Store

	pool *pgxpool.Pool
}

type options struct {
	sender gateway.Sender
	store  attemptlog.Store
	sleep  delivery.SleepFunc
}

type Option func(*options)

// WithSender replaces the HTTP gateway client.
func WithSender(s gateway.Sender) Option {
	return func(o *options) { o.sender = s }
}

// WithStore replaces the store chosen from DATABASE_URL.
func WithStore(s attemptlog.Store) Option {
	return func(o *options) { o.store = s }
}

func WithSleep(fn delivery.SleepFunc) Option {
	return func(o *options) { o.sleep = fn }
}

// New builds the service graph. With DATABASE_URL set the attempt log lives
// in Postgres and its schema is applied; otherwise an in-memory store is used.
func New(ctx context.Context, cfg *common.Config, logger zerolog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	loc, err := time.LoadLocation(cfg.SMS.LogTimezone)
	if err != nil {
		return nil, fmt.Errorf("load log timezone: %w", err)
	}

	registry, err := template.DefaultRegistry()
	if err != nil {
		return nil, fmt.Errorf("load template catalog: %w", err)
	}

	a := &App{}
	store := o.store
	if store == nil {
		store, err = a.openStore(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	}
	a.Store = store

	sender := o.sender
	if sender == nil {
		sender = &gateway.Client{
			Endpoint: cfg.SMS.GatewayURL,
			APIKey:   cfg.SMS.APIKey,
			SenderID: cfg.SMS.SenderID,
			EntityID: cfg.SMS.EntityID,
			Timeout:  cfg.SMS.RequestTimeout,
			Client:   &http.Client{},
		}
	}

	coord := &delivery.Coordinator{
		Templates: registry,
		Sender:    sender,
		Store:     store,
		Policy:    delivery.FixedPolicy(cfg.SMS.MaxAttempts, cfg.SMS.RetryDelay),
		Sleep:     o.sleep,
		Logger:    logger.With().Str("component", "delivery").Logger(),
	}
	if err := coord.Validate(); err != nil {
		a.Close()
		return nil, err
	}

	a.Service = &notify.Service{
		Coordinator:     coord,
		Templates:       registry,
		Store:           store,
		Stats:           &stats.Aggregator{Store: store, Location: loc},
		RetryMaxCount:   cfg.SMS.RetryMaxCount,
		RetryBatchLimit: cfg.SMS.RetryBatchSize,
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg *common.Config, logger zerolog.Logger) (attemptlog.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not set, attempt log is in memory only")
		return attemptlog.NewMemoryStore(), nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := attemptlog.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	a.pool = pool
	return store, nil
}

// Close releases the database pool, if any.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}
