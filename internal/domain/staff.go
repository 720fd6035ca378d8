package domain

import (
	"time"

	"github.com/google/uuid"
)

// MedbookStatus is the state of a staff member's medical book.
type MedbookStatus string

const (
	MedbookActive  MedbookStatus = "active"
	MedbookExpired MedbookStatus = "expired"
	MedbookPending MedbookStatus = "pending"
)

// Valid reports whether s is one of the known statuses.
func (s MedbookStatus) Valid() bool {
	switch s {
	case MedbookActive, MedbookExpired, MedbookPending:
		return true
	}
	return false
}

// StaffRecord represents a staff row.
type StaffRecord struct {
	ID            uuid.UUID     `json:"id"`
	TelegramID    int64         `json:"telegram_id"`
	FullName      string        `json:"full_name"`
	BirthDate     time.Time     `json:"birth_date"`
	Phone         string        `json:"phone"`
	MedbookStatus MedbookStatus `json:"medbook_status"`
	MedbookExpiry time.Time     `json:"medbook_expiry"`
	ConsentGiven  bool          `json:"consent_given"`
	RegisteredAt  time.Time     `json:"registered_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// StaffInput holds the fields collected by the registration flow.
type StaffInput struct {
	TelegramID    int64
	FullName      string
	BirthDate     time.Time
	Phone         string
	MedbookExpiry time.Time
}

// ExpiringRecord is the projection returned by the expiry query.
type ExpiringRecord struct {
	TelegramID    int64     `json:"telegram_id"`
	FullName      string    `json:"full_name"`
	MedbookExpiry time.Time `json:"medbook_expiry"`
}

// BlacklistEntry represents a blacklist row.
type BlacklistEntry struct {
	ID            uuid.UUID  `json:"id"`
	FullName      string     `json:"full_name"`
	Phone         *string    `json:"phone,omitempty"`
	BirthDate     *time.Time `json:"birth_date,omitempty"`
	Reason        string     `json:"reason"`
	BlacklistedAt time.Time  `json:"blacklisted_at"`
	AddedBy       int64      `json:"added_by"`
}

// BlacklistInput holds the fields collected by the blacklist-add flow.
// Nil Phone or BirthDate means "unknown".
type BlacklistInput struct {
	FullName  string
	Phone     *string
	BirthDate *time.Time
	Reason    string
	AddedBy   int64
}

// Stats holds the display-only counters shown to administrators.
// The three values are read independently and may be mutually inconsistent.
type Stats struct {
	TotalActive      int64 `json:"total_active"`
	TotalExpired     int64 `json:"total_expired"`
	TotalBlacklisted int64 `json:"total_blacklisted"`
}
