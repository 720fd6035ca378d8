package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/staffdesk/medbook/internal/domain"
	"github.com/staffdesk/medbook/internal/repository"
)

// RecordStore is the Postgres-backed Store. Every call runs in its own
// short-lived connection or transaction bounded by timeout.
type RecordStore struct {
	pool      *pgxpool.Pool
	staff     repository.StaffRepository
	blacklist repository.BlacklistRepository
	outbox    repository.OutboxRepository
	timeout   time.Duration
	logger    *slog.Logger
}

// NewRecordStore creates a RecordStore.
func NewRecordStore(
	pool *pgxpool.Pool,
	staff repository.StaffRepository,
	blacklist repository.BlacklistRepository,
	outbox repository.OutboxRepository,
	timeout time.Duration,
	logger *slog.Logger,
) *RecordStore {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return &RecordStore{
		pool:      pool,
		staff:     staff,
		blacklist: blacklist,
		outbox:    outbox,
		timeout:   timeout,
		logger:    logger,
	}
}

var _ Store = (*RecordStore)(nil)

func (s *RecordStore) fail(op string, telegramID int64, err error) error {
	s.logger.Error("store operation failed", "op", op, "telegram_id", telegramID, "error", err)
	return domain.ErrStorage(op, err)
}

// UpsertStaff inserts or overwrites the record keyed by telegram id.
func (s *RecordStore) UpsertStaff(ctx context.Context, input domain.StaffInput) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return s.fail("begin tx", input.TelegramID, err)
	}
	defer tx.Rollback(ctx)

	if err := s.staff.Upsert(ctx, tx, input); err != nil {
		return s.fail("upsert staff", input.TelegramID, err)
	}
	if err := s.outbox.Insert(ctx, tx, domain.NewStaffRegisteredEvent(input.TelegramID, input.MedbookExpiry)); err != nil {
		return s.fail("upsert staff", input.TelegramID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return s.fail("commit tx", input.TelegramID, err)
	}
	return nil
}

// UpdateMedbookExpiry sets a new expiry. Unknown ids return a NOT_FOUND error.
func (s *RecordStore) UpdateMedbookExpiry(ctx context.Context, telegramID int64, expiry time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return s.fail("begin tx", telegramID, err)
	}
	defer tx.Rollback(ctx)

	found, err := s.staff.UpdateMedbookExpiry(ctx, tx, telegramID, expiry)
	if err != nil {
		return s.fail("update medbook", telegramID, err)
	}
	if !found {
		return domain.ErrNotFound("staff", "for telegram id")
	}
	if err := s.outbox.Insert(ctx, tx, domain.NewMedbookUpdatedEvent(telegramID, expiry)); err != nil {
		return s.fail("update medbook", telegramID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return s.fail("commit tx", telegramID, err)
	}
	return nil
}

// GetStaff returns the record for telegramID, or nil.
func (s *RecordStore) GetStaff(ctx context.Context, telegramID int64) (*domain.StaffRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rec, err := s.staff.FindByTelegramID(ctx, s.pool, telegramID)
	if err != nil {
		return nil, s.fail("get staff", telegramID, err)
	}
	return rec, nil
}

// FindBySurname matches substr anywhere in the full name, case-insensitively.
func (s *RecordStore) FindBySurname(ctx context.Context, substr string) ([]domain.StaffRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	recs, err := s.staff.SearchByName(ctx, s.pool, strings.TrimSpace(substr))
	if err != nil {
		return nil, s.fail("search staff", 0, err)
	}
	return recs, nil
}

// ListAll returns every staff record ordered by name.
func (s *RecordStore) ListAll(ctx context.Context) ([]domain.StaffRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	recs, err := s.staff.ListAll(ctx, s.pool)
	if err != nil {
		return nil, s.fail("list staff", 0, err)
	}
	return recs, nil
}

// FindExpiring returns reminder candidates whose expiry is within daysAhead of today.
func (s *RecordStore) FindExpiring(ctx context.Context, today time.Time, daysAhead int) ([]domain.ExpiringRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	from, to := expiryWindow(today, daysAhead)
	recs, err := s.staff.FindExpiring(ctx, s.pool, from, to)
	if err != nil {
		return nil, s.fail("find expiring", 0, err)
	}
	return recs, nil
}

// Exists reports whether telegramID is registered.
func (s *RecordStore) Exists(ctx context.Context, telegramID int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ok, err := s.staff.Exists(ctx, s.pool, telegramID)
	if err != nil {
		return false, s.fail("staff exists", telegramID, err)
	}
	return ok, nil
}

// Stats runs three independent counts; no transaction spans them.
func (s *RecordStore) Stats(ctx context.Context) (domain.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var st domain.Stats
	var err error
	if st.TotalActive, err = s.staff.Count(ctx, s.pool, nil); err != nil {
		return st, s.fail("stats", 0, err)
	}
	expired := domain.MedbookExpired
	if st.TotalExpired, err = s.staff.Count(ctx, s.pool, &expired); err != nil {
		return st, s.fail("stats", 0, err)
	}
	if st.TotalBlacklisted, err = s.blacklist.Count(ctx, s.pool); err != nil {
		return st, s.fail("stats", 0, err)
	}
	return st, nil
}

// AddToBlacklist inserts the entry and removes the staff record with the same
// name in one transaction. Absent phone or birth date are taken from that record.
func (s *RecordStore) AddToBlacklist(ctx context.Context, input domain.BlacklistInput) (*domain.BlacklistEntry, error) {
	if err := validateBlacklistInput(input); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, s.fail("begin tx", input.AddedBy, err)
	}
	defer tx.Rollback(ctx)

	existing, err := s.staff.FindByFullName(ctx, tx, input.FullName)
	if err != nil {
		return nil, s.fail("add to blacklist", input.AddedBy, err)
	}
	entry := newBlacklistEntry(input, existing)

	if err := s.blacklist.Insert(ctx, tx, entry); err != nil {
		return nil, s.fail("add to blacklist", input.AddedBy, err)
	}
	removed, err := s.staff.DeleteByFullName(ctx, tx, input.FullName)
	if err != nil {
		return nil, s.fail("add to blacklist", input.AddedBy, err)
	}
	if err := s.outbox.Insert(ctx, tx, domain.NewBlacklistedEvent(entry.ID, input.AddedBy, removed)); err != nil {
		return nil, s.fail("add to blacklist", input.AddedBy, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, s.fail("commit tx", input.AddedBy, err)
	}

	s.logger.Info("blacklist entry added", "entry_id", entry.ID, "added_by", input.AddedBy, "removed_staff", removed)
	return entry, nil
}

// RemoveFromBlacklist deletes every entry whose name contains substr.
func (s *RecordStore) RemoveFromBlacklist(ctx context.Context, substr string) (int64, error) {
	return s.removeFromBlacklist(ctx, "remove from blacklist", func(ctx context.Context, db repository.DBTX) (int64, error) {
		return s.blacklist.DeleteMatching(ctx, db, strings.TrimSpace(substr))
	})
}

// RemoveFromBlacklistExact deletes entries whose name equals fullName, ignoring case.
func (s *RecordStore) RemoveFromBlacklistExact(ctx context.Context, fullName string) (int64, error) {
	return s.removeFromBlacklist(ctx, "remove from blacklist exact", func(ctx context.Context, db repository.DBTX) (int64, error) {
		return s.blacklist.DeleteExact(ctx, db, strings.TrimSpace(fullName))
	})
}

func (s *RecordStore) removeFromBlacklist(ctx context.Context, op string, del func(context.Context, repository.DBTX) (int64, error)) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, s.fail("begin tx", 0, err)
	}
	defer tx.Rollback(ctx)

	n, err := del(ctx, tx)
	if err != nil {
		return 0, s.fail(op, 0, err)
	}
	if n > 0 {
		if err := s.outbox.Insert(ctx, tx, domain.NewUnblacklistedEvent(n)); err != nil {
			return 0, s.fail(op, 0, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, s.fail("commit tx", 0, err)
	}
	return n, nil
}

// GetBlacklist returns all entries, newest first.
func (s *RecordStore) GetBlacklist(ctx context.Context) ([]domain.BlacklistEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	entries, err := s.blacklist.List(ctx, s.pool)
	if err != nil {
		return nil, s.fail("list blacklist", 0, err)
	}
	return entries, nil
}

// IsBlacklisted reports whether an entry with exactly this name exists, ignoring case.
func (s *RecordStore) IsBlacklisted(ctx context.Context, fullName string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ok, err := s.blacklist.ExistsByName(ctx, s.pool, strings.TrimSpace(fullName))
	if err != nil {
		return false, s.fail("blacklist lookup", 0, err)
	}
	return ok, nil
}

// RecordEvent writes a standalone outbox event, e.g. a reminder run summary.
func (s *RecordStore) RecordEvent(ctx context.Context, draft domain.OutboxDraft) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.outbox.Insert(ctx, s.pool, draft); err != nil {
		return s.fail("record event", 0, err)
	}
	return nil
}

// newBlacklistEntry builds the row to insert, filling absent phone and birth
// date from the matching staff record.
func newBlacklistEntry(input domain.BlacklistInput, existing *domain.StaffRecord) *domain.BlacklistEntry {
	entry := &domain.BlacklistEntry{
		ID:        uuid.New(),
		FullName:  input.FullName,
		Phone:     input.Phone,
		BirthDate: input.BirthDate,
		Reason:    input.Reason,
		AddedBy:   input.AddedBy,
	}
	if existing != nil {
		if entry.Phone == nil && existing.Phone != "" {
			phone := existing.Phone
			entry.Phone = &phone
		}
		if entry.BirthDate == nil && !existing.BirthDate.IsZero() {
			birth := existing.BirthDate
			entry.BirthDate = &birth
		}
	}
	return entry
}
