package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/staffdesk/medbook/internal/domain"
)

// MemoryRecordStore is an in-process Store for local runs and tests.
type MemoryRecordStore struct {
	mu        sync.RWMutex
	staff     map[int64]*domain.StaffRecord
	blacklist map[uuid.UUID]*domain.BlacklistEntry
	events    []domain.OutboxDraft
	now       func() time.Time
}

// NewMemoryRecordStore creates an empty MemoryRecordStore.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		staff:     make(map[int64]*domain.StaffRecord),
		blacklist: make(map[uuid.UUID]*domain.BlacklistEntry),
		now:       time.Now,
	}
}

var _ Store = (*MemoryRecordStore)(nil)

// SetClock overrides the timestamp source.
func (m *MemoryRecordStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Put stores rec as-is, replacing any record with the same telegram id.
func (m *MemoryRecordStore) Put(rec domain.StaffRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	m.staff[rec.TelegramID] = &rec
}

func (m *MemoryRecordStore) UpsertStaff(_ context.Context, input domain.StaffInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rec, ok := m.staff[input.TelegramID]
	if !ok {
		rec = &domain.StaffRecord{ID: uuid.New(), TelegramID: input.TelegramID, RegisteredAt: now}
		m.staff[input.TelegramID] = rec
	}
	rec.FullName = input.FullName
	rec.BirthDate = domain.DateOf(input.BirthDate)
	rec.Phone = input.Phone
	rec.MedbookStatus = domain.MedbookActive
	rec.MedbookExpiry = domain.DateOf(input.MedbookExpiry)
	rec.ConsentGiven = true
	rec.UpdatedAt = now
	return nil
}

func (m *MemoryRecordStore) UpdateMedbookExpiry(_ context.Context, telegramID int64, expiry time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.staff[telegramID]
	if !ok {
		return domain.ErrNotFound("staff", "for telegram id")
	}
	rec.MedbookExpiry = domain.DateOf(expiry)
	rec.UpdatedAt = m.now()
	return nil
}

func (m *MemoryRecordStore) GetStaff(_ context.Context, telegramID int64) (*domain.StaffRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.staff[telegramID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryRecordStore) FindBySurname(_ context.Context, substr string) ([]domain.StaffRecord, error) {
	needle := strings.ToLower(strings.TrimSpace(substr))

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.StaffRecord
	for _, rec := range m.staff {
		if strings.Contains(strings.ToLower(rec.FullName), needle) {
			out = append(out, *rec)
		}
	}
	sortStaffByName(out)
	return out, nil
}

func (m *MemoryRecordStore) ListAll(_ context.Context) ([]domain.StaffRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.StaffRecord, 0, len(m.staff))
	for _, rec := range m.staff {
		out = append(out, *rec)
	}
	sortStaffByName(out)
	return out, nil
}

func (m *MemoryRecordStore) FindExpiring(_ context.Context, today time.Time, daysAhead int) ([]domain.ExpiringRecord, error) {
	from, to := expiryWindow(today, daysAhead)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.ExpiringRecord
	for _, rec := range m.staff {
		if rec.MedbookStatus != domain.MedbookActive || !rec.ConsentGiven {
			continue
		}
		exp := domain.DateOf(rec.MedbookExpiry)
		if exp.Before(from) || exp.After(to) {
			continue
		}
		out = append(out, domain.ExpiringRecord{
			TelegramID:    rec.TelegramID,
			FullName:      rec.FullName,
			MedbookExpiry: exp,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].MedbookExpiry.Equal(out[j].MedbookExpiry) {
			return out[i].MedbookExpiry.Before(out[j].MedbookExpiry)
		}
		return out[i].FullName < out[j].FullName
	})
	return out, nil
}

func (m *MemoryRecordStore) Exists(_ context.Context, telegramID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.staff[telegramID]
	return ok, nil
}

func (m *MemoryRecordStore) Stats(_ context.Context) (domain.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := domain.Stats{
		TotalActive:      int64(len(m.staff)),
		TotalBlacklisted: int64(len(m.blacklist)),
	}
	for _, rec := range m.staff {
		if rec.MedbookStatus == domain.MedbookExpired {
			st.TotalExpired++
		}
	}
	return st, nil
}

func (m *MemoryRecordStore) AddToBlacklist(_ context.Context, input domain.BlacklistInput) (*domain.BlacklistEntry, error) {
	if err := validateBlacklistInput(input); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var existing *domain.StaffRecord
	var oldest time.Time
	for _, rec := range m.staff {
		if rec.FullName != input.FullName {
			continue
		}
		if existing == nil || rec.RegisteredAt.Before(oldest) {
			existing, oldest = rec, rec.RegisteredAt
		}
	}

	entry := newBlacklistEntry(input, existing)
	entry.BlacklistedAt = m.now()
	m.blacklist[entry.ID] = entry

	for id, rec := range m.staff {
		if rec.FullName == input.FullName {
			delete(m.staff, id)
		}
	}

	cp := *entry
	return &cp, nil
}

func (m *MemoryRecordStore) RemoveFromBlacklist(_ context.Context, substr string) (int64, error) {
	needle := strings.ToLower(strings.TrimSpace(substr))
	return m.removeWhere(func(name string) bool {
		return strings.Contains(strings.ToLower(name), needle)
	}), nil
}

func (m *MemoryRecordStore) RemoveFromBlacklistExact(_ context.Context, fullName string) (int64, error) {
	target := strings.TrimSpace(fullName)
	return m.removeWhere(func(name string) bool {
		return strings.EqualFold(name, target)
	}), nil
}

func (m *MemoryRecordStore) removeWhere(match func(string) bool) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, e := range m.blacklist {
		if match(e.FullName) {
			delete(m.blacklist, id)
			n++
		}
	}
	return n
}

func (m *MemoryRecordStore) GetBlacklist(_ context.Context) ([]domain.BlacklistEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.BlacklistEntry, 0, len(m.blacklist))
	for _, e := range m.blacklist {
		out = append(out, *e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].BlacklistedAt.After(out[j].BlacklistedAt)
	})
	return out, nil
}

func (m *MemoryRecordStore) IsBlacklisted(_ context.Context, fullName string) (bool, error) {
	target := strings.TrimSpace(fullName)

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.blacklist {
		if strings.EqualFold(e.FullName, target) {
			return true, nil
		}
	}
	return false, nil
}

func sortStaffByName(recs []domain.StaffRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].FullName < recs[j].FullName
	})
}

// RecordEvent keeps the event in memory; nothing relays it.
func (m *MemoryRecordStore) RecordEvent(_ context.Context, draft domain.OutboxDraft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, draft)
	return nil
}

// Events returns the recorded events in order.
func (m *MemoryRecordStore) Events() []domain.OutboxDraft {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.OutboxDraft(nil), m.events...)
}
