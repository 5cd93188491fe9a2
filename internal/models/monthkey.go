package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MonthKey identifies a calendar month and is the sole join key between
// patient visits and PM2.5 readings. Its canonical text form is "YYYY-MM".
type MonthKey struct {
	Year  int
	Month time.Month
}

// NewMonthKey returns the month containing t
func NewMonthKey(t time.Time) MonthKey {
	return MonthKey{Year: t.Year(), Month: t.Month()}
}

// ParseMonthKey parses the canonical "YYYY-MM" form
func ParseMonthKey(s string) (MonthKey, error) {
	s = strings.TrimSpace(s)
	if len(s) != 7 || s[4] != '-' {
		return MonthKey{}, &ValidationError{
			Field:   "month_key",
			Value:   s,
			Message: "invalid month key, expected YYYY-MM",
		}
	}

	year, err := strconv.Atoi(s[:4])
	if err != nil {
		return MonthKey{}, &ValidationError{Field: "month_key", Value: s, Message: "invalid month key year"}
	}
	month, err := strconv.Atoi(s[5:])
	if err != nil || month < 1 || month > 12 {
		return MonthKey{}, &ValidationError{Field: "month_key", Value: s, Message: "invalid month key month"}
	}

	return MonthKey{Year: year, Month: time.Month(month)}, nil
}

// String returns the canonical "YYYY-MM" form
func (k MonthKey) String() string {
	return fmt.Sprintf("%04d-%02d", k.Year, int(k.Month))
}

// IsZero reports whether k is the zero value
func (k MonthKey) IsZero() bool {
	return k.Year == 0 && k.Month == 0
}

// Time returns midnight UTC on the first day of the month
func (k MonthKey) Time() time.Time {
	return time.Date(k.Year, k.Month, 1, 0, 0, 0, 0, time.UTC)
}

// AddMonths returns the month n months after k (n may be negative)
func (k MonthKey) AddMonths(n int) MonthKey {
	total := k.index() + n
	year := total / 12
	month := total % 12
	if month < 0 {
		month += 12
		year--
	}
	return MonthKey{Year: year, Month: time.Month(month + 1)}
}

// MonthsUntil returns the number of months from k to other
func (k MonthKey) MonthsUntil(other MonthKey) int {
	return other.index() - k.index()
}

// Compare returns -1, 0 or +1 depending on whether k is before, equal to or after other
func (k MonthKey) Compare(other MonthKey) int {
	a, b := k.index(), other.index()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Before reports whether k is strictly before other
func (k MonthKey) Before(other MonthKey) bool {
	return k.Compare(other) < 0
}

func (k MonthKey) index() int {
	return k.Year*12 + int(k.Month) - 1
}

// MarshalText implements encoding.TextMarshaler
func (k MonthKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *MonthKey) UnmarshalText(text []byte) error {
	parsed, err := ParseMonthKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
