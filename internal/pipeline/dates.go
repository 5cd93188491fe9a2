package pipeline

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"pm25-surveillance/internal/models"
)

// EraPolicy converts Buddhist-era years that appear in hospital sheets.
// A year more than ThresholdYears after the current year is treated as
// Buddhist era and Offset is subtracted.
type EraPolicy struct {
	Offset         int
	ThresholdYears int
}

// DefaultEraPolicy returns the Thai Buddhist-era policy (offset 543, threshold 50)
func DefaultEraPolicy() EraPolicy {
	return EraPolicy{Offset: 543, ThresholdYears: 50}
}

// Normalize returns year converted to the Gregorian calendar when it lies
// beyond the threshold relative to currentYear
func (p EraPolicy) Normalize(year, currentYear int) int {
	if p.Offset <= 0 {
		return year
	}
	if year > currentYear+p.ThresholdYears {
		return year - p.Offset
	}
	return year
}

var (
	isoDatePattern      = regexp.MustCompile(`^(\d{4})[-/](\d{1,2})[-/](\d{1,2})(?:[ T](\d{1,2}):(\d{2})(?::(\d{2}))?.*)?$`)
	dayFirstDatePattern = regexp.MustCompile(`^(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{4}|\d{2})(?:[ ,]+(\d{1,2}):(\d{2})(?::(\d{2}))?.*)?$`)
	yearMonthPattern    = regexp.MustCompile(`^(\d{4})[-/](\d{1,2})$`)
	monthYearPattern    = regexp.MustCompile(`^(\d{1,2})[-/](\d{4})$`)
	namedMonthPattern   = regexp.MustCompile(`^(.+?)[\s\-/]*(\d{4}|\d{2})$`)
)

var monthNames = map[string]time.Month{
	// Thai abbreviations, dots removed
	"มค": time.January, "กพ": time.February, "มีค": time.March,
	"เมย": time.April, "พค": time.May, "มิย": time.June,
	"กค": time.July, "สค": time.August, "กย": time.September,
	"ตค": time.October, "พย": time.November, "ธค": time.December,

	"มกราคม": time.January, "กุมภาพันธ์": time.February, "มีนาคม": time.March,
	"เมษายน": time.April, "พฤษภาคม": time.May, "มิถุนายน": time.June,
	"กรกฎาคม": time.July, "สิงหาคม": time.August, "กันยายน": time.September,
	"ตุลาคม": time.October, "พฤศจิกายน": time.November, "ธันวาคม": time.December,

	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
	"sept": time.September,

	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "june": time.June, "july": time.July,
	"august": time.August, "september": time.September, "october": time.October,
	"november": time.November, "december": time.December,
}

// LookupMonthName resolves a Thai or English month name or abbreviation
func LookupMonthName(name string) (time.Month, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.ReplaceAll(key, ".", "")
	key = strings.ReplaceAll(key, " ", "")
	m, ok := monthNames[key]
	return m, ok
}

// DateParser turns the date representations found in the source sheets
// into calendar dates and month keys
type DateParser struct {
	Era      EraPolicy
	Location *time.Location
	Now      func() time.Time
}

// NewDateParser creates a date parser for loc (UTC when nil)
func NewDateParser(era EraPolicy, loc *time.Location) *DateParser {
	if loc == nil {
		loc = time.UTC
	}
	return &DateParser{Era: era, Location: loc, Now: time.Now}
}

func (p *DateParser) location() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

// Today returns midnight of the current day in the parser's location
func (p *DateParser) Today() time.Time {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	t := now().In(p.location())
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, p.location())
}

func (p *DateParser) currentYear() int {
	return p.Today().Year()
}

// expandYear resolves two-digit years and applies the era policy
func (p *DateParser) expandYear(digits string) (int, bool) {
	year, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	current := p.currentYear()
	if len(digits) == 2 {
		if 2000+year <= current+1 {
			year += 2000
		} else {
			year += 2500
		}
	}
	return p.Era.Normalize(year, current), true
}

// ParseDate parses ISO and day-first dates. Any time-of-day part is ignored.
func (p *DateParser) ParseDate(s string) (time.Time, error) {
	t, err := p.ParseTimestamp(s)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, p.location()), nil
}

// ParseTimestamp parses ISO and day-first dates keeping an optional
// hh:mm[:ss] time part
func (p *DateParser) ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, dateError(s, "empty date")
	}

	var yearDigits, monthDigits, dayDigits string
	var clock []string
	if m := isoDatePattern.FindStringSubmatch(s); m != nil {
		yearDigits, monthDigits, dayDigits, clock = m[1], m[2], m[3], m[4:7]
	} else if m := dayFirstDatePattern.FindStringSubmatch(s); m != nil {
		dayDigits, monthDigits, yearDigits, clock = m[1], m[2], m[3], m[4:7]
	} else {
		return time.Time{}, dateError(s, "unrecognised date format")
	}

	year, ok := p.expandYear(yearDigits)
	if !ok {
		return time.Time{}, dateError(s, "invalid year")
	}
	month, _ := strconv.Atoi(monthDigits)
	day, _ := strconv.Atoi(dayDigits)
	if month < 1 || month > 12 {
		return time.Time{}, dateError(s, "invalid month")
	}
	if day < 1 || day > daysIn(time.Month(month), year) {
		return time.Time{}, dateError(s, "invalid day of month")
	}

	var hour, minute, second int
	if clock[0] != "" {
		hour, _ = strconv.Atoi(clock[0])
		minute, _ = strconv.Atoi(clock[1])
		if clock[2] != "" {
			second, _ = strconv.Atoi(clock[2])
		}
		if hour > 23 || minute > 59 || second > 59 {
			return time.Time{}, dateError(s, "invalid time of day")
		}
	}

	return time.Date(year, time.Month(month), day, hour, minute, second, 0, p.location()), nil
}

// ParseMonth derives a month key from a full date, a "YYYY-MM" or "MM/YYYY"
// string, or a month name followed by a two- or four-digit year
func (p *DateParser) ParseMonth(s string) (models.MonthKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return models.MonthKey{}, dateError(s, "empty month")
	}

	if t, err := p.ParseDate(s); err == nil {
		return models.NewMonthKey(t), nil
	}

	var yearDigits string
	var month time.Month
	if m := yearMonthPattern.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[2])
		yearDigits, month = m[1], time.Month(n)
	} else if m := monthYearPattern.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		yearDigits, month = m[2], time.Month(n)
	} else if m := namedMonthPattern.FindStringSubmatch(s); m != nil {
		named, ok := LookupMonthName(m[1])
		if !ok {
			return models.MonthKey{}, dateError(s, "unknown month name")
		}
		yearDigits, month = m[2], named
	} else {
		return models.MonthKey{}, dateError(s, "unrecognised month format")
	}

	if month < time.January || month > time.December {
		return models.MonthKey{}, dateError(s, "invalid month")
	}
	year, ok := p.expandYear(yearDigits)
	if !ok {
		return models.MonthKey{}, dateError(s, "invalid year")
	}
	return models.MonthKey{Year: year, Month: month}, nil
}

func daysIn(month time.Month, year int) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func dateError(value, message string) error {
	return &models.ValidationError{Field: "date", Value: value, Message: message}
}
