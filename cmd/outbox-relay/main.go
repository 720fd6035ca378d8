package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/staffdesk/medbook/internal/domain"
	"github.com/staffdesk/medbook/internal/infra"
	"github.com/staffdesk/medbook/internal/repository"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("outbox relay failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := infra.NewPostgresPool(ctx, cfg.DSN(), cfg.PoolOptions("medbook-outbox-relay"), logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	var publisher infra.Publisher = logPublisher{logger: logger}
	if cfg.KafkaEnabled {
		producer := infra.NewKafkaProducer(cfg.KafkaBrokers, logger)
		defer producer.Close()
		publisher = producer
	}

	relay := infra.NewOutboxPoller(pool, repository.NewOutboxRepository(), publisher, cfg.OutboxPollInterval, nil, logger).
		WithRetention(cfg.OutboxRetention)
	return relay.Run(ctx)
}

// logPublisher writes events to the log when no broker is configured.
type logPublisher struct {
	logger *slog.Logger
}

func (p logPublisher) Publish(_ context.Context, e domain.OutboxDraft) error {
	p.logger.Info("outbox event",
		"topic", e.Topic(),
		"event_id", e.EventID,
		"aggregate_id", e.AggregateID,
		"payload", string(e.Payload),
	)
	return nil
}
