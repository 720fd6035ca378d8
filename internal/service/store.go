package service

import (
	"context"
	"strings"
	"time"

	"github.com/staffdesk/medbook/internal/domain"
)

// Store is the record store used by the bot, the conversation flows and the
// reminder job. RecordStore (Postgres) and MemoryRecordStore implement it.
type Store interface {
	UpsertStaff(ctx context.Context, input domain.StaffInput) error
	UpdateMedbookExpiry(ctx context.Context, telegramID int64, expiry time.Time) error
	GetStaff(ctx context.Context, telegramID int64) (*domain.StaffRecord, error)
	FindBySurname(ctx context.Context, substr string) ([]domain.StaffRecord, error)
	ListAll(ctx context.Context) ([]domain.StaffRecord, error)
	FindExpiring(ctx context.Context, today time.Time, daysAhead int) ([]domain.ExpiringRecord, error)
	Exists(ctx context.Context, telegramID int64) (bool, error)
	Stats(ctx context.Context) (domain.Stats, error)

	AddToBlacklist(ctx context.Context, input domain.BlacklistInput) (*domain.BlacklistEntry, error)
	RemoveFromBlacklist(ctx context.Context, substr string) (int64, error)
	RemoveFromBlacklistExact(ctx context.Context, fullName string) (int64, error)
	GetBlacklist(ctx context.Context) ([]domain.BlacklistEntry, error)
	IsBlacklisted(ctx context.Context, fullName string) (bool, error)

	RecordEvent(ctx context.Context, draft domain.OutboxDraft) error
}

// DefaultStoreTimeout bounds every store operation.
const DefaultStoreTimeout = 5 * time.Second

// expiryWindow returns the inclusive [today, today+daysAhead] date range.
func expiryWindow(today time.Time, daysAhead int) (time.Time, time.Time) {
	from := domain.DateOf(today)
	return from, from.AddDate(0, 0, daysAhead)
}

func validateBlacklistInput(input domain.BlacklistInput) error {
	if strings.TrimSpace(input.FullName) == "" {
		return domain.ErrValidation("full name is required")
	}
	if strings.TrimSpace(input.Reason) == "" {
		return domain.ErrValidation("reason is required")
	}
	return nil
}
