package domain

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Date layouts used in chat (display) and in the database (storage).
const (
	DisplayDateLayout = "02.01.2006"
	StorageDateLayout = "2006-01-02"
)

const (
	// MinAgeYears is the minimum age accepted at registration.
	MinAgeYears = 16
	// MaxStaleExpiryDays is how far in the past a submitted medbook expiry may lie.
	MaxStaleExpiryDays = 30
	// MinFullNameLength is the minimum length of a trimmed full name, in characters.
	MinFullNameLength = 5
)

var (
	phoneRegex       = regexp.MustCompile(`^\+7[0-9]{10}$`)
	phoneStripper    = strings.NewReplacer(" ", "", "(", "", ")", "", "-", "")
	displayDateRegex = regexp.MustCompile(`^[0-9]{2}\.[0-9]{2}\.[0-9]{4}$`)
)

// ParseDisplayDate parses a strict DD.MM.YYYY date.
func ParseDisplayDate(text string) (time.Time, error) {
	if !displayDateRegex.MatchString(text) {
		return time.Time{}, fmt.Errorf("date must be DD.MM.YYYY, got %q", text)
	}
	d, err := time.Parse(DisplayDateLayout, text)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", text, err)
	}
	return d, nil
}

// IsValidDate reports whether text is a real calendar date in DD.MM.YYYY form.
func IsValidDate(text string) bool {
	_, err := ParseDisplayDate(text)
	return err == nil
}

// NormalizePhone strips spaces, parentheses and hyphens.
func NormalizePhone(text string) string {
	return phoneStripper.Replace(text)
}

// IsValidPhone reports whether text is a +7 number with exactly 10 digits after the prefix.
func IsValidPhone(text string) bool {
	return phoneRegex.MatchString(NormalizePhone(text))
}

// ToStorageDate converts DD.MM.YYYY to YYYY-MM-DD.
func ToStorageDate(text string) (string, error) {
	d, err := ParseDisplayDate(text)
	if err != nil {
		return "", err
	}
	return d.Format(StorageDateLayout), nil
}

// ToDisplayDate converts YYYY-MM-DD to DD.MM.YYYY.
// Input that is not a storage-format date is returned unchanged.
func ToDisplayDate(text string) string {
	d, err := time.Parse(StorageDateLayout, text)
	if err != nil {
		return text
	}
	return d.Format(DisplayDateLayout)
}

// FormatDisplayDate renders a date as DD.MM.YYYY.
func FormatDisplayDate(d time.Time) string {
	return d.Format(DisplayDateLayout)
}

// DateOf truncates t to midnight UTC of its calendar day in t's location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AgeYears returns the age in years as elapsed days / 365.25.
func AgeYears(birth, now time.Time) float64 {
	days := math.Floor(DateOf(now).Sub(DateOf(birth)).Hours() / 24)
	return days / 365.25
}

// CheckAge rejects birth dates younger than MinAgeYears at now.
func CheckAge(birth, now time.Time) error {
	if AgeYears(birth, now) < MinAgeYears {
		return ErrValidation(fmt.Sprintf("age must be at least %d years", MinAgeYears))
	}
	return nil
}

// CheckExpiry rejects an expiry date more than MaxStaleExpiryDays in the past.
func CheckExpiry(expiry, now time.Time) error {
	cutoff := DateOf(now).AddDate(0, 0, -MaxStaleExpiryDays)
	if DateOf(expiry).Before(cutoff) {
		return ErrValidation("medbook expiry is too far in the past")
	}
	return nil
}

// ValidateFullName checks the trimmed name length.
func ValidateFullName(text string) error {
	if utf8.RuneCountInString(strings.TrimSpace(text)) < MinFullNameLength {
		return ErrValidation(fmt.Sprintf("full name must be at least %d characters", MinFullNameLength))
	}
	return nil
}

// DaysUntil returns the number of calendar days from today to expiry.
func DaysUntil(expiry, today time.Time) int {
	return int(math.Round(DateOf(expiry).Sub(DateOf(today)).Hours() / 24))
}
