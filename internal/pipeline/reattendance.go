package pipeline

import (
	"fmt"
	"sort"
	"time"

	"pm25-surveillance/internal/models"
)

const (
	DefaultLookbackDays = 30
	MinLookbackDays     = 7
	MaxLookbackDays     = 180
)

// ValidateLookback checks the lookback window against the configured range
func ValidateLookback(days int) error {
	if days < MinLookbackDays || days > MaxLookbackDays {
		return &models.ValidationError{
			Field:   "lookback_days",
			Value:   fmt.Sprint(days),
			Message: fmt.Sprintf("lookback_days must be between %d and %d", MinLookbackDays, MaxLookbackDays),
		}
	}
	return nil
}

// IntervalReport describes the input of a re-attendance pass
type IntervalReport struct {
	Patients int `json:"patients"`
	Visits   int `json:"visits"`
	// MissingHN counts visits excluded for a blank patient identifier
	MissingHN int `json:"missing_hn"`
}

// ComputeIntervals orders visits by patient then date and computes the day
// gap to each patient's previous visit. The first visit of a patient has a
// nil interval. A visit is a re-attendance when 0 < interval <= lookbackDays;
// same-day duplicates never count.
func ComputeIntervals(visits []models.PatientVisit, lookbackDays int) ([]models.RevisitInterval, IntervalReport, error) {
	var report IntervalReport
	if lookbackDays <= 0 {
		return nil, report, &models.ValidationError{
			Field:   "lookback_days",
			Value:   fmt.Sprint(lookbackDays),
			Message: "lookback_days must be positive",
		}
	}

	ordered := make([]models.PatientVisit, 0, len(visits))
	for _, v := range visits {
		if v.HN == "" {
			report.MissingHN++
			continue
		}
		ordered = append(ordered, v)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].HN != ordered[j].HN {
			return ordered[i].HN < ordered[j].HN
		}
		return ordered[i].VisitDate.Before(ordered[j].VisitDate)
	})

	out := make([]models.RevisitInterval, 0, len(ordered))
	for i, v := range ordered {
		iv := models.RevisitInterval{HN: v.HN, VisitDate: v.VisitDate, Month: v.Month, DiseaseGroup: v.DiseaseGroup}
		if i > 0 && ordered[i-1].HN == v.HN {
			days := daysBetween(ordered[i-1].VisitDate, v.VisitDate)
			iv.IntervalDays = models.IntPtr(days)
			iv.Reattendance = days > 0 && days <= lookbackDays
		} else {
			report.Patients++
		}
		out = append(out, iv)
	}
	report.Visits = len(out)
	return out, report, nil
}

// daysBetween returns whole calendar days from a to b
func daysBetween(a, b time.Time) int {
	return int(dateOnly(b).Sub(dateOnly(a)).Hours() / 24)
}

// CountReattendanceByMonth counts flagged re-attendance events per month,
// broken out by disease group when byGroup is set
func CountReattendanceByMonth(intervals []models.RevisitInterval, byGroup bool) []models.MonthlyCount {
	counts := make(map[countKey]int)
	for _, iv := range intervals {
		if !iv.Reattendance {
			continue
		}
		k := countKey{month: iv.Month}
		if byGroup {
			k.group = iv.DiseaseGroup
		}
		counts[k]++
	}

	out := make([]models.MonthlyCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, models.MonthlyCount{Month: k.month, Group: k.group, Count: n})
	}
	sortCounts(out)
	return out
}
