package pipeline

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"pm25-surveillance/internal/models"
)

// DropReason explains why a raw row did not survive cleaning
type DropReason string

const (
	DropUnparseableDate  DropReason = "unparseable_date"
	DropFutureDate       DropReason = "future_date"
	DropScheduled        DropReason = "scheduled"
	DropUnparseableValue DropReason = "unparseable_value"
	DropNegativeValue    DropReason = "negative_value"
)

// CleanReport summarises a cleaning pass
type CleanReport struct {
	Input   int                `json:"input"`
	Kept    int                `json:"kept"`
	Dropped map[DropReason]int `json:"dropped,omitempty"`
}

func newCleanReport(input int) CleanReport {
	return CleanReport{Input: input, Dropped: make(map[DropReason]int)}
}

func (r *CleanReport) drop(reason DropReason) {
	r.Dropped[reason]++
}

// DroppedTotal returns the number of dropped rows across all reasons
func (r CleanReport) DroppedTotal() int {
	total := 0
	for _, n := range r.Dropped {
		total += n
	}
	return total
}

// CleanOptions controls patient-visit cleaning
type CleanOptions struct {
	Parser           *DateParser
	ExcludeScheduled bool
}

var truthyValues = map[string]bool{
	"1": true, "true": true, "t": true, "yes": true, "y": true, "x": true,
	"✓": true, "นัด": true, "มีนัด": true, "มาตามนัด": true,
}

// IsTruthy interprets the loosely typed scheduled-visit flag
func IsTruthy(s string) bool {
	return truthyValues[strings.ToLower(strings.TrimSpace(s))]
}

// CleanVisits parses raw patient rows. Rows with unparseable or future
// visit dates are dropped, as are scheduled visits when requested.
func CleanVisits(raw []models.RawVisit, opts CleanOptions) ([]models.PatientVisit, CleanReport) {
	parser := opts.Parser
	if parser == nil {
		parser = NewDateParser(DefaultEraPolicy(), nil)
	}
	today := parser.Today()
	report := newCleanReport(len(raw))

	visits := make([]models.PatientVisit, 0, len(raw))
	for _, r := range raw {
		date, err := parser.ParseDate(r.VisitDate)
		if err != nil {
			report.drop(DropUnparseableDate)
			continue
		}
		if date.After(today) {
			report.drop(DropFutureDate)
			continue
		}

		scheduled := IsTruthy(r.Scheduled)
		if scheduled && opts.ExcludeScheduled {
			report.drop(DropScheduled)
			continue
		}

		visits = append(visits, models.PatientVisit{
			HN:              strings.TrimSpace(r.HN),
			VisitDate:       date,
			Month:           models.NewMonthKey(date),
			DiseaseGroup:    models.NormalizeDiseaseGroup(strings.TrimSpace(r.DiseaseGroup)),
			VulnerableGroup: strings.TrimSpace(r.VulnerableGroup),
			ICD10Codes:      ParseICD10List(r.ICD10),
			SubDistrict:     strings.TrimSpace(r.SubDistrict),
			District:        strings.TrimSpace(r.District),
			Province:        strings.TrimSpace(r.Province),
			Scheduled:       scheduled,
			SourceRow:       r.Row,
		})
	}

	report.Kept = len(visits)
	return visits, report
}

// ParsePM25Value coerces a concentration cell, accepting thousands separators
func ParsePM25Value(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// CleanReadings parses monthly PM2.5 rows. Duplicate months are averaged so
// that the result holds exactly one reading per month key, sorted by month.
func CleanReadings(raw []models.RawReading, parser *DateParser) ([]models.PM25Reading, CleanReport) {
	if parser == nil {
		parser = NewDateParser(DefaultEraPolicy(), nil)
	}
	report := newCleanReport(len(raw))

	type acc struct {
		sum float64
		n   int
	}
	byMonth := make(map[models.MonthKey]*acc)
	for _, r := range raw {
		month, err := parser.ParseMonth(r.Month)
		if err != nil {
			report.drop(DropUnparseableDate)
			continue
		}
		value, ok := ParsePM25Value(r.PM25)
		if !ok {
			report.drop(DropUnparseableValue)
			continue
		}
		if value < 0 {
			report.drop(DropNegativeValue)
			continue
		}
		a := byMonth[month]
		if a == nil {
			a = &acc{}
			byMonth[month] = a
		}
		a.sum += value
		a.n++
		report.Kept++
	}

	readings := make([]models.PM25Reading, 0, len(byMonth))
	for month, a := range byMonth {
		readings = append(readings, models.PM25Reading{Month: month, Value: a.sum / float64(a.n)})
	}
	sort.Slice(readings, func(i, j int) bool {
		return readings[i].Month.Before(readings[j].Month)
	})
	return readings, report
}

// CleanSamples parses real-time PM2.5 rows, sorted oldest first
func CleanSamples(raw []models.RawSample, parser *DateParser) ([]models.PM25Sample, CleanReport) {
	if parser == nil {
		parser = NewDateParser(DefaultEraPolicy(), nil)
	}
	report := newCleanReport(len(raw))

	samples := make([]models.PM25Sample, 0, len(raw))
	for _, r := range raw {
		ts, err := parser.ParseTimestamp(r.Timestamp)
		if err != nil {
			report.drop(DropUnparseableDate)
			continue
		}
		value, ok := ParsePM25Value(r.PM25)
		if !ok {
			report.drop(DropUnparseableValue)
			continue
		}
		if value < 0 {
			report.drop(DropNegativeValue)
			continue
		}
		samples = append(samples, models.PM25Sample{Timestamp: ts, Value: value})
	}

	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
	report.Kept = len(samples)
	return samples, report
}
