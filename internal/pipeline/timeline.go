package pipeline

import (
	"errors"
	"sort"
	"strings"
	"time"

	"pm25-surveillance/internal/models"
)

// ErrPatientNotFound is returned when no visit carries the requested HN
var ErrPatientNotFound = errors.New("no visits found for patient")

// TimelineVisit is one visit on a patient timeline
type TimelineVisit struct {
	VisitDate    time.Time       `json:"visit_date"`
	Month        models.MonthKey `json:"month_key"`
	DiseaseGroup string          `json:"disease_group"`
	ICD10Codes   []string        `json:"icd10_codes"`
	ICD10Count   int             `json:"icd10_count"`
	PM25Value    *float64        `json:"pm25_value"`
}

// PatientTimeline is a single patient's visit history against the PM2.5 trend
type PatientTimeline struct {
	HN     string          `json:"hn"`
	Visits []TimelineVisit `json:"visits"`
	PM25   []SeriesPoint   `json:"pm25"`
}

// BuildPatientTimeline returns the visits of hn ordered by date, each with the
// PM2.5 value of its month, plus the full PM2.5 series
func BuildPatientTimeline(visits []models.PatientVisit, readings []models.PM25Reading, hn string) (*PatientTimeline, error) {
	hn = strings.TrimSpace(hn)
	series := ToSeries(readings)
	values := make(map[models.MonthKey]float64, len(readings))
	for _, r := range readings {
		values[r.Month] = r.Value
	}

	tl := &PatientTimeline{HN: hn, PM25: series}
	for _, v := range visits {
		if hn == "" || v.HN != hn {
			continue
		}
		tv := TimelineVisit{
			VisitDate:    v.VisitDate,
			Month:        v.Month,
			DiseaseGroup: v.DiseaseGroup,
			ICD10Codes:   v.ICD10Codes,
			ICD10Count:   len(v.ICD10Codes),
		}
		if pm, ok := values[v.Month]; ok {
			tv.PM25Value = models.FloatPtr(pm)
		}
		tl.Visits = append(tl.Visits, tv)
	}
	if len(tl.Visits) == 0 {
		return nil, ErrPatientNotFound
	}

	sort.SliceStable(tl.Visits, func(i, j int) bool {
		return tl.Visits[i].VisitDate.Before(tl.Visits[j].VisitDate)
	})
	return tl, nil
}
