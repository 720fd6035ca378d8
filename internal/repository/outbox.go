package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/staffdesk/medbook/internal/domain"
)

type pgOutboxRepo struct{}

// NewOutboxRepository returns the Postgres OutboxRepository.
func NewOutboxRepository() OutboxRepository {
	return pgOutboxRepo{}
}

func (pgOutboxRepo) Insert(ctx context.Context, db DBTX, d domain.OutboxDraft) error {
	const q = `
		INSERT INTO event_outbox
		  (event_id, aggregate_type, aggregate_id, event_type, partition_key, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := db.Exec(ctx, q,
		d.EventID, string(d.AggregateType), d.AggregateID, string(d.EventType),
		d.PartitionKey, d.Payload, d.OccurredAt,
	); err != nil {
		return fmt.Errorf("insert %s event: %w", d.EventType, err)
	}
	return nil
}

func (pgOutboxRepo) FetchUnpublished(ctx context.Context, db DBTX, limit int) ([]domain.OutboxDraft, error) {
	const q = `
		SELECT id, event_id, aggregate_type, aggregate_id, event_type, partition_key, payload, occurred_at
		FROM event_outbox
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1`
	rows, err := db.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending events: %w", err)
	}
	defer rows.Close()

	var out []domain.OutboxDraft
	for rows.Next() {
		var (
			d            domain.OutboxDraft
			agg, evtType string
		)
		if err := rows.Scan(&d.SeqID, &d.EventID, &agg, &d.AggregateID, &evtType,
			&d.PartitionKey, &d.Payload, &d.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan pending event: %w", err)
		}
		d.AggregateType = domain.AggregateType(agg)
		d.EventType = domain.EventType(evtType)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (pgOutboxRepo) MarkPublished(ctx context.Context, db DBTX, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	const q = `UPDATE event_outbox SET published_at = now() WHERE id = ANY($1) AND published_at IS NULL`
	if _, err := db.Exec(ctx, q, ids); err != nil {
		return fmt.Errorf("stamp %d published events: %w", len(ids), err)
	}
	return nil
}

func (pgOutboxRepo) PurgePublished(ctx context.Context, db DBTX, cutoff time.Time) (int64, error) {
	tag, err := db.Exec(ctx, `DELETE FROM event_outbox WHERE published_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge published events: %w", err)
	}
	return tag.RowsAffected(), nil
}
