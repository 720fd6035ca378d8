package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// --- Validator Tests ---

func TestIsValidDate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"valid", "01.01.1990", true},
		{"leap day", "29.02.2024", true},
		{"non leap day", "29.02.2023", false},
		{"month 13", "01.13.2000", false},
		{"storage layout", "1990-01-01", false},
		{"unpadded", "1.1.1990", false},
		{"trailing text", "01.01.1990 г.", false},
		{"empty", "", false},
		{"words", "вчера", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidDate(tt.in))
		})
	}
}

func TestIsValidPhone(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"formatted", "+7 (999) 123-45-67", true},
		{"compact", "+79991234567", true},
		{"national prefix 8", "89991234567", false},
		{"too short", "+7999123456", false},
		{"too long", "+799912345678", false},
		{"letters", "+7999123456a", false},
		{"other country", "+49991234567", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidPhone(tt.in))
		})
	}
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "+79991234567", NormalizePhone("+7 (999) 123-45-67"))
	assert.Equal(t, "+79991234567", NormalizePhone("+79991234567"))
}

func TestDateConversions(t *testing.T) {
	t.Run("to storage", func(t *testing.T) {
		got, err := ToStorageDate("31.12.2029")
		require.NoError(t, err)
		assert.Equal(t, "2029-12-31", got)
	})

	t.Run("to storage rejects garbage", func(t *testing.T) {
		_, err := ToStorageDate("2029-12-31")
		assert.Error(t, err)
	})

	t.Run("to display", func(t *testing.T) {
		assert.Equal(t, "31.12.2029", ToDisplayDate("2029-12-31"))
	})

	t.Run("to display passes through unparsable input", func(t *testing.T) {
		assert.Equal(t, "нет данных", ToDisplayDate("нет данных"))
		assert.Equal(t, "31.12.2029", ToDisplayDate("31.12.2029"))
	})

	t.Run("round trip is stable", func(t *testing.T) {
		for _, in := range []string{"01.01.1990", "29.02.2024", "31.12.2029", "15.06.2001"} {
			first, err := ToStorageDate(in)
			require.NoError(t, err)
			second, err := ToStorageDate(ToDisplayDate(first))
			require.NoError(t, err)
			assert.Equal(t, first, second, in)
		}
	})
}

func TestCheckAge(t *testing.T) {
	now := date(2024, time.June, 1)

	tests := []struct {
		name    string
		birth   time.Time
		wantErr bool
	}{
		{"adult", date(1990, time.January, 1), false},
		{"well over sixteen", date(2007, time.January, 1), false},
		{"fifteen", date(2009, time.January, 1), true},
		{"born today", now, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckAge(tt.birth, now)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsValidation(err))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestCheckExpiry(t *testing.T) {
	now := date(2024, time.June, 1)

	assert.NoError(t, CheckExpiry(date(2030, time.January, 1), now))
	assert.NoError(t, CheckExpiry(date(2024, time.May, 2), now), "exactly 30 days ago is accepted")
	assert.Error(t, CheckExpiry(date(2024, time.May, 1), now), "31 days ago is stale")
	assert.True(t, IsValidation(CheckExpiry(date(2020, time.January, 1), now)))
}

func TestValidateFullName(t *testing.T) {
	assert.NoError(t, ValidateFullName("Иванов Иван"))
	assert.NoError(t, ValidateFullName("  Ивано  "))
	assert.Error(t, ValidateFullName("Иван"))
	assert.Error(t, ValidateFullName("   Ив   "))
}

func TestDaysUntil(t *testing.T) {
	today := date(2024, time.June, 1)
	assert.Equal(t, 9, DaysUntil(date(2024, time.June, 10), today))
	assert.Equal(t, 0, DaysUntil(today, today))
	assert.Equal(t, -1, DaysUntil(date(2024, time.May, 31), today))

	moscow := time.FixedZone("MSK", 3*60*60)
	lateEvening := time.Date(2024, time.June, 1, 23, 30, 0, 0, moscow)
	assert.Equal(t, 3, DaysUntil(date(2024, time.June, 4), lateEvening))
}

func TestMedbookStatusValid(t *testing.T) {
	assert.True(t, MedbookActive.Valid())
	assert.True(t, MedbookExpired.Valid())
	assert.True(t, MedbookPending.Valid())
	assert.False(t, MedbookStatus("действует").Valid())
}

// --- Error Tests ---

func TestAppError(t *testing.T) {
	t.Run("without cause", func(t *testing.T) {
		err := ErrValidation("bad date")
		assert.Equal(t, "VALIDATION_ERROR: bad date", err.Error())
		assert.Nil(t, err.Unwrap())
	})

	t.Run("with cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := ErrStorage("upsert staff", cause)
		assert.Equal(t, "STORAGE_ERROR: upsert staff: connection refused", err.Error())
		assert.ErrorIs(t, err, cause)
	})

	t.Run("HasCode sees through wrapping", func(t *testing.T) {
		wrapped := errors.Join(errors.New("context"), ErrStorage("stats", nil))
		assert.True(t, IsStorage(wrapped))
		assert.False(t, IsValidation(wrapped))
		assert.False(t, HasCode(errors.New("plain"), CodeStorage))
	})

	t.Run("delivery names recipient", func(t *testing.T) {
		err := ErrDelivery(42, errors.New("blocked"))
		assert.Contains(t, err.Error(), "deliver to 42")
	})
}

// --- Event Tests ---

func TestStaffRegisteredEvent(t *testing.T) {
	evt := NewStaffRegisteredEvent(42, date(2030, time.January, 1))

	assert.Equal(t, AggregateStaff, evt.AggregateType)
	assert.Equal(t, EventStaffRegistered, evt.EventType)
	assert.Equal(t, "42", evt.AggregateID)
	assert.Equal(t, "42", evt.PartitionKey)
	assert.NotEqual(t, uuid.Nil, evt.EventID)
	assert.Equal(t, "medbook.staff.registered", evt.Topic())

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Equal(t, "2030-01-01", payload["medbook_expiry"])
	assert.NotContains(t, payload, "full_name")
}

func TestBlacklistedEvent(t *testing.T) {
	entryID := uuid.New()
	evt := NewBlacklistedEvent(entryID, 7, 1)

	assert.Equal(t, entryID.String(), evt.AggregateID)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(evt.Payload, &payload))
	assert.Equal(t, float64(7), payload["added_by"])
	assert.Equal(t, float64(1), payload["removed_staff"])
}
