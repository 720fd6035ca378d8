package domain

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates all domain event types.
type EventType string

const (
	EventStaffRegistered    EventType = "staff.registered"
	EventMedbookUpdated     EventType = "staff.medbook_updated"
	EventStaffBlacklisted   EventType = "staff.blacklisted"
	EventStaffUnblacklisted EventType = "staff.unblacklisted"
	EventReminderDispatched EventType = "reminder.dispatched"
)

// AggregateType enumerates the aggregate root types for outbox events.
type AggregateType string

const (
	AggregateStaff     AggregateType = "staff"
	AggregateBlacklist AggregateType = "blacklist"
	AggregateReminder  AggregateType = "reminder"
)

// OutboxDraft is the payload written to the event_outbox table.
// Payloads carry identities and dates only, never names or phones.
type OutboxDraft struct {
	SeqID         int64           `json:"-"`
	EventID       uuid.UUID       `json:"event_id"`
	AggregateType AggregateType   `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     EventType       `json:"event_type"`
	PartitionKey  string          `json:"-"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// Topic returns the Kafka topic an event is published to, e.g. "medbook.staff.registered".
func (d OutboxDraft) Topic() string {
	return "medbook." + string(d.EventType)
}

func newDraft(agg AggregateType, aggID string, evt EventType, payload map[string]interface{}) OutboxDraft {
	raw, _ := json.Marshal(payload)
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: agg,
		AggregateID:   aggID,
		EventType:     evt,
		PartitionKey:  aggID,
		Payload:       raw,
		OccurredAt:    time.Now(),
	}
}

// NewStaffRegisteredEvent creates the event written alongside a registration upsert.
func NewStaffRegisteredEvent(telegramID int64, expiry time.Time) OutboxDraft {
	id := strconv.FormatInt(telegramID, 10)
	return newDraft(AggregateStaff, id, EventStaffRegistered, map[string]interface{}{
		"telegram_id":    telegramID,
		"medbook_expiry": expiry.Format(StorageDateLayout),
	})
}

// NewMedbookUpdatedEvent creates the event written alongside an expiry update.
func NewMedbookUpdatedEvent(telegramID int64, expiry time.Time) OutboxDraft {
	id := strconv.FormatInt(telegramID, 10)
	return newDraft(AggregateStaff, id, EventMedbookUpdated, map[string]interface{}{
		"telegram_id":    telegramID,
		"medbook_expiry": expiry.Format(StorageDateLayout),
	})
}

// NewBlacklistedEvent creates the event written when an entry is added.
func NewBlacklistedEvent(entryID uuid.UUID, addedBy int64, removedStaff int64) OutboxDraft {
	return newDraft(AggregateBlacklist, entryID.String(), EventStaffBlacklisted, map[string]interface{}{
		"entry_id":      entryID.String(),
		"added_by":      addedBy,
		"removed_staff": removedStaff,
	})
}

// NewUnblacklistedEvent creates the event written when entries are removed.
func NewUnblacklistedEvent(removed int64) OutboxDraft {
	return newDraft(AggregateBlacklist, "removal", EventStaffUnblacklisted, map[string]interface{}{
		"removed": removed,
	})
}

// NewReminderDispatchedEvent records one reminder run for one lookahead window.
func NewReminderDispatchedEvent(window int, records, sent, failed int) OutboxDraft {
	return newDraft(AggregateReminder, strconv.Itoa(window), EventReminderDispatched, map[string]interface{}{
		"window_days": window,
		"records":     records,
		"sent":        sent,
		"failed":      failed,
	})
}
