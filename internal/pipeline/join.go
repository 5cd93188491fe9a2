package pipeline

import (
	"fmt"
	"sort"

	"pm25-surveillance/internal/models"
)

// SeriesPoint is one month of the (possibly lagged) PM2.5 timeline.
// Value is nil when the lag pushes the month before the start of the series.
type SeriesPoint struct {
	Month models.MonthKey `json:"month_key"`
	Value *float64        `json:"pm25_value"`
}

// JoinMode selects how the visit counts and PM2.5 series are combined
type JoinMode string

const (
	// JoinOuter keeps the full timeline of both sides
	JoinOuter JoinMode = "outer"
	// JoinInner keeps only months where both a count and a PM2.5 value exist
	JoinInner JoinMode = "inner"
)

// ParseJoinMode parses "outer" (default when empty) or "inner"
func ParseJoinMode(s string) (JoinMode, error) {
	switch JoinMode(s) {
	case "", JoinOuter:
		return JoinOuter, nil
	case JoinInner:
		return JoinInner, nil
	}
	return "", &models.ValidationError{Field: "join", Value: s, Message: "join must be outer or inner"}
}

// ToSeries converts readings into an unlagged series sorted by month
func ToSeries(readings []models.PM25Reading) []SeriesPoint {
	series := make([]SeriesPoint, 0, len(readings))
	for _, r := range readings {
		series = append(series, SeriesPoint{Month: r.Month, Value: models.FloatPtr(r.Value)})
	}
	sortSeries(series)
	return series
}

// ShiftReadings associates the value recorded for month M with month M+lag
func ShiftReadings(readings []models.PM25Reading, lag int) []SeriesPoint {
	return ShiftSeries(ToSeries(readings), lag)
}

// ShiftSeries shifts values within the series' own timeline: month K takes
// the value of month K-lag when that month is in the series, otherwise nil.
// Negative lags shift backwards.
func ShiftSeries(series []SeriesPoint, lag int) []SeriesPoint {
	values := make(map[models.MonthKey]*float64, len(series))
	for _, p := range series {
		values[p.Month] = p.Value
	}

	shifted := make([]SeriesPoint, 0, len(series))
	for _, p := range series {
		var v *float64
		if src, ok := values[p.Month.AddMonths(-lag)]; ok && src != nil {
			v = models.FloatPtr(*src)
		}
		shifted = append(shifted, SeriesPoint{Month: p.Month, Value: v})
	}
	sortSeries(shifted)
	return shifted
}

func sortSeries(series []SeriesPoint) {
	sort.Slice(series, func(i, j int) bool {
		return series[i].Month.Before(series[j].Month)
	})
}

// Join combines monthly counts with the PM2.5 series on month key.
//
// Outer mode returns every count row plus a row with no group and nil count
// for each series month without visits. Inner mode returns only rows with
// both a count and a non-nil PM2.5 value. Rows are sorted by month then group.
func Join(counts []models.MonthlyCount, series []SeriesPoint, mode JoinMode) []models.MonthlyRow {
	values := make(map[models.MonthKey]*float64, len(series))
	for _, p := range series {
		values[p.Month] = p.Value
	}

	rows := make([]models.MonthlyRow, 0, len(counts)+len(series))
	seen := make(map[models.MonthKey]bool, len(counts))
	for _, c := range counts {
		seen[c.Month] = true
		pm := values[c.Month]
		if mode == JoinInner && pm == nil {
			continue
		}
		row := models.MonthlyRow{Month: c.Month, Group: c.Group, VisitCount: models.IntPtr(c.Count)}
		if pm != nil {
			row.PM25Value = models.FloatPtr(*pm)
		}
		rows = append(rows, row)
	}

	if mode == JoinOuter {
		for _, p := range series {
			if seen[p.Month] {
				continue
			}
			row := models.MonthlyRow{Month: p.Month}
			if p.Value != nil {
				row.PM25Value = models.FloatPtr(*p.Value)
			}
			rows = append(rows, row)
		}
	}

	sortRows(rows)
	return rows
}

func sortRows(rows []models.MonthlyRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if c := rows[i].Month.Compare(rows[j].Month); c != 0 {
			return c < 0
		}
		return rows[i].Group < rows[j].Group
	})
}

// BuildMonthlyTable runs aggregation, lag shift and join in one step
func BuildMonthlyTable(visits []models.PatientVisit, readings []models.PM25Reading, groupBy GroupField, lag int, mode JoinMode) []models.MonthlyRow {
	return Join(CountByMonth(visits, groupBy), ShiftReadings(readings, lag), mode)
}

// ValidateLag checks a lag against the allowed range [0, max]
func ValidateLag(lag, max int) error {
	if lag < 0 || lag > max {
		return &models.ValidationError{
			Field:   "lag",
			Value:   fmt.Sprint(lag),
			Message: fmt.Sprintf("lag must be between 0 and %d months", max),
		}
	}
	return nil
}
