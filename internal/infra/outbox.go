package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/staffdesk/medbook/internal/domain"
	"github.com/staffdesk/medbook/internal/repository"
)

const purgeInterval = time.Hour

// Publisher delivers one outbox event.
type Publisher interface {
	Publish(ctx context.Context, e domain.OutboxDraft) error
}

// OutboxPoller drains the event_outbox table into a Publisher.
type OutboxPoller struct {
	db        repository.DBTX
	repo      repository.OutboxRepository
	publisher Publisher
	metrics   *Metrics
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
	batchSize int
	now       func() time.Time
}

// NewOutboxPoller creates a new outbox poller. metrics may be nil.
func NewOutboxPoller(db repository.DBTX, repo repository.OutboxRepository, publisher Publisher,
	interval time.Duration, metrics *Metrics, logger *slog.Logger) *OutboxPoller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &OutboxPoller{
		db:        db,
		repo:      repo,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		interval:  interval,
		batchSize: 100,
		now:       time.Now,
	}
}

// WithRetention keeps published rows for d before Purge deletes them. Zero keeps them forever.
func (p *OutboxPoller) WithRetention(d time.Duration) *OutboxPoller {
	p.retention = d
	return p
}

// Run polls until ctx is cancelled, purging old published rows once an hour.
func (p *OutboxPoller) Run(ctx context.Context) error {
	p.logger.Info("outbox poller started",
		"interval", p.interval,
		"batch_size", p.batchSize,
		"retention", p.retention,
	)

	poll := time.NewTicker(p.interval)
	defer poll.Stop()
	purge := time.NewTicker(purgeInterval)
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox poller stopped")
			return nil
		case <-poll.C:
			if _, err := p.Poll(ctx); err != nil {
				p.logger.Error("outbox poll error", "error", err)
			}
		case <-purge.C:
			if _, err := p.Purge(ctx); err != nil {
				p.logger.Error("outbox purge error", "error", err)
			}
		}
	}
}

// Poll publishes one batch in order and stamps the events that were delivered.
// A publish failure stops the batch so later events never overtake earlier ones.
func (p *OutboxPoller) Poll(ctx context.Context) (int, error) {
	events, err := p.repo.FetchUnpublished(ctx, p.db, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(events))
	var publishErr error
	for _, e := range events {
		if err := p.publisher.Publish(ctx, e); err != nil {
			publishErr = fmt.Errorf("publish %s %s: %w", e.EventType, e.EventID, err)
			break
		}
		p.logger.Debug("outbox event published",
			"seq_id", e.SeqID,
			"event_id", e.EventID,
			"event_type", string(e.EventType),
		)
		ids = append(ids, e.SeqID)
	}

	if err := p.repo.MarkPublished(ctx, p.db, ids); err != nil {
		return 0, fmt.Errorf("mark published: %w", err)
	}
	if p.metrics != nil {
		p.metrics.OutboxPublished.Add(float64(len(ids)))
	}
	if len(ids) > 0 {
		p.logger.Info("processed outbox batch", "count", len(ids))
	}
	return len(ids), publishErr
}

// Purge deletes published events older than the retention window.
func (p *OutboxPoller) Purge(ctx context.Context) (int64, error) {
	if p.retention <= 0 {
		return 0, nil
	}
	n, err := p.repo.PurgePublished(ctx, p.db, p.now().Add(-p.retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.logger.Info("purged published outbox events", "count", n)
	}
	return n, nil
}

// EncodeOutboxEvent renders the message body for an event.
func EncodeOutboxEvent(e domain.OutboxDraft) ([]byte, error) {
	msg, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode outbox event %s: %w", e.EventID, err)
	}
	return msg, nil
}
