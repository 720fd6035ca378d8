package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/staffdesk/medbook/internal/domain"
)

// DBTX abstracts pgx.Tx and pgxpool.Pool so repositories work with both.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// StaffRepository provides access to the staff table.
type StaffRepository interface {
	// Upsert inserts a staff row or overwrites the one with the same telegram_id.
	// Status is reset to active and consent to true.
	Upsert(ctx context.Context, db DBTX, input domain.StaffInput) error

	// UpdateMedbookExpiry sets a new expiry. Unknown ids affect no rows and return false.
	UpdateMedbookExpiry(ctx context.Context, db DBTX, telegramID int64, expiry time.Time) (bool, error)

	// FindByTelegramID returns the staff row, or nil if not found.
	FindByTelegramID(ctx context.Context, db DBTX, telegramID int64) (*domain.StaffRecord, error)

	// FindByFullName returns the first staff row whose name equals fullName exactly, or nil.
	FindByFullName(ctx context.Context, db DBTX, fullName string) (*domain.StaffRecord, error)

	// SearchByName returns rows whose name contains substr (case-insensitive), ordered by name.
	SearchByName(ctx context.Context, db DBTX, substr string) ([]domain.StaffRecord, error)

	// ListAll returns every row ordered by name.
	ListAll(ctx context.Context, db DBTX) ([]domain.StaffRecord, error)

	// FindExpiring returns active, consenting rows whose expiry falls in [from, to], ordered by expiry.
	FindExpiring(ctx context.Context, db DBTX, from, to time.Time) ([]domain.ExpiringRecord, error)

	// Exists reports whether a row with telegramID exists.
	Exists(ctx context.Context, db DBTX, telegramID int64) (bool, error)

	// DeleteByFullName removes rows whose name equals fullName exactly.
	DeleteByFullName(ctx context.Context, db DBTX, fullName string) (int64, error)

	// Count returns the number of rows, optionally filtered by status.
	Count(ctx context.Context, db DBTX, status *domain.MedbookStatus) (int64, error)
}

// BlacklistRepository provides access to the blacklist table.
type BlacklistRepository interface {
	// Insert writes a new entry.
	Insert(ctx context.Context, db DBTX, entry *domain.BlacklistEntry) error

	// DeleteMatching removes entries whose name contains substr (case-insensitive).
	DeleteMatching(ctx context.Context, db DBTX, substr string) (int64, error)

	// DeleteExact removes entries whose name equals fullName (case-insensitive).
	DeleteExact(ctx context.Context, db DBTX, fullName string) (int64, error)

	// List returns all entries, newest first.
	List(ctx context.Context, db DBTX) ([]domain.BlacklistEntry, error)

	// ExistsByName reports whether an entry with this name exists (case-insensitive).
	ExistsByName(ctx context.Context, db DBTX, fullName string) (bool, error)

	// Count returns the number of entries.
	Count(ctx context.Context, db DBTX) (int64, error)
}

// OutboxRepository provides access to the event_outbox table.
type OutboxRepository interface {
	// Insert writes an outbox event (within the same transaction as the state change).
	Insert(ctx context.Context, db DBTX, draft domain.OutboxDraft) error

	// FetchUnpublished returns pending events in insertion order.
	FetchUnpublished(ctx context.Context, db DBTX, limit int) ([]domain.OutboxDraft, error)

	// MarkPublished stamps published_at on the given rows.
	MarkPublished(ctx context.Context, db DBTX, ids []int64) error

	// PurgePublished deletes events published before cutoff.
	PurgePublished(ctx context.Context, db DBTX, cutoff time.Time) (int64, error)
}
