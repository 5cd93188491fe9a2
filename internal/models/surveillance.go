package models

import (
	"time"
)

// Surveillance disease groups tracked by the hospital
const (
	GroupRespiratory    = "โรคระบบทางเดินหายใจ"
	GroupCardiovascular = "โรคหัวใจและหลอดเลือด"
	GroupConjunctivitis = "โรคตาอักเสบ"
	GroupDermatitis     = "โรคผิวหนังอักเสบ"
	GroupZ581           = "แพทย์วินิจฉัยโรคร่วมด้วย Z58.1"

	// UnclassifiedGroup is the sentinel for blank or unknown disease groups
	UnclassifiedGroup = "โรคอื่นๆ/ไม่ระบุ"

	// UnspecifiedVulnerable labels visits without a vulnerable-group value
	UnspecifiedVulnerable = "ไม่ระบุ"

	// AdultVulnerable is the non-vulnerable adult label excluded from vulnerable views
	AdultVulnerable = "วัยผู้ใหญ่"
)

// SurveillanceGroups lists the fixed disease groups in display order
var SurveillanceGroups = []string{
	GroupRespiratory,
	GroupCardiovascular,
	GroupConjunctivitis,
	GroupDermatitis,
	GroupZ581,
}

// NormalizeDiseaseGroup maps blank or unknown labels to UnclassifiedGroup
func NormalizeDiseaseGroup(label string) string {
	for _, g := range SurveillanceGroups {
		if label == g {
			return g
		}
	}
	return UnclassifiedGroup
}

// Canonical field names of the input sheets
const (
	FieldVisitDate       = "visit_date"
	FieldHN              = "hn"
	FieldDiseaseGroup    = "disease_group"
	FieldVulnerableGroup = "vulnerable_group"
	FieldICD10           = "icd10"
	FieldSubDistrict     = "sub_district"
	FieldDistrict        = "district"
	FieldProvince        = "province"
	FieldScheduled       = "scheduled"
	FieldMonth           = "month"
	FieldPM25            = "pm25"
	FieldTimestamp       = "timestamp"
)

// RawVisit is one patient-sheet row after column mapping, before cleaning
type RawVisit struct {
	Row             int
	HN              string
	VisitDate       string
	DiseaseGroup    string
	VulnerableGroup string
	ICD10           string
	SubDistrict     string
	District        string
	Province        string
	Scheduled       string
}

// PatientVisit represents one hospital encounter
type PatientVisit struct {
	HN              string    `json:"hn" db:"hn"`
	VisitDate       time.Time `json:"visit_date" db:"visit_date"`
	Month           MonthKey  `json:"month_key" db:"-"`
	DiseaseGroup    string    `json:"disease_group" db:"disease_group"`
	VulnerableGroup string    `json:"vulnerable_group,omitempty" db:"vulnerable_group"`
	ICD10Codes      []string  `json:"icd10_codes,omitempty" db:"-"`
	SubDistrict     string    `json:"sub_district,omitempty" db:"sub_district"`
	District        string    `json:"district,omitempty" db:"district"`
	Province        string    `json:"province,omitempty" db:"province"`
	Scheduled       bool      `json:"scheduled" db:"scheduled"`
	SourceRow       int       `json:"-" db:"source_row"`
}

// RawReading is one monthly PM2.5 sheet row before cleaning
type RawReading struct {
	Row   int
	Month string
	PM25  string
}

// PM25Reading is the monthly PM2.5 concentration in µg/m³
type PM25Reading struct {
	Month MonthKey `json:"month_key"`
	Value float64  `json:"pm25_value"`
}

// RawSample is one real-time PM2.5 sheet row before cleaning
type RawSample struct {
	Row       int
	Timestamp string
	PM25      string
}

// PM25Sample is a single real-time PM2.5 measurement
type PM25Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"pm25_value"`
}

// MonthlyCount is the visit count for one (month, group) pair.
// Group is empty when counts are not broken out by a grouping column.
type MonthlyCount struct {
	Month MonthKey `json:"month_key"`
	Group string   `json:"group,omitempty"`
	Count int      `json:"visit_count"`
}

// MonthlyRow is one row of the joined monthly table handed to presentation.
// Nil pointers mark the side of an outer join with no data for that month.
type MonthlyRow struct {
	Month      MonthKey `json:"month_key"`
	Group      string   `json:"group,omitempty"`
	VisitCount *int     `json:"visit_count"`
	PM25Value  *float64 `json:"pm25_value"`
}

// RevisitInterval is the gap between a visit and the same patient's previous visit
type RevisitInterval struct {
	HN           string    `json:"hn"`
	VisitDate    time.Time `json:"visit_date"`
	Month        MonthKey  `json:"month_key"`
	DiseaseGroup string    `json:"disease_group,omitempty"`
	IntervalDays *int      `json:"interval_days"`
	Reattendance bool      `json:"reattendance"`
}

// MonthlySummary is the persisted per-month, per-group aggregate
type MonthlySummary struct {
	ID                int64     `json:"id" db:"id"`
	MonthKey          string    `json:"month_key" db:"month_key"`
	DiseaseGroup      string    `json:"disease_group" db:"disease_group"`
	VisitCount        int       `json:"visit_count" db:"visit_count"`
	ReattendanceCount int       `json:"reattendance_count" db:"reattendance_count"`
	LookbackDays      int       `json:"lookback_days" db:"lookback_days"`
	PM25Value         *float64  `json:"pm25_value,omitempty" db:"pm25_value"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// IntPtr returns a pointer to v
func IntPtr(v int) *int { return &v }

// FloatPtr returns a pointer to v
func FloatPtr(v float64) *float64 { return &v }
