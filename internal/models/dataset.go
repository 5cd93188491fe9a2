package models

import (
	"fmt"
	"time"
)

// NoticeKind classifies a soft failure that degrades, but never aborts, a report
type NoticeKind string

const (
	NoticeFetchFailure     NoticeKind = "fetch_failure"
	NoticeMissingColumn    NoticeKind = "missing_column"
	NoticeDroppedRows      NoticeKind = "dropped_rows"
	NoticeInsufficientData NoticeKind = "insufficient_data"
	NoticeNotSignificant   NoticeKind = "not_significant"
	NoticeNoData           NoticeKind = "no_data"
)

// Notice is a user-facing diagnostic attached to a dataset or view
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Source  string     `json:"source,omitempty"`
	Message string     `json:"message"`
}

// NewNotice builds a notice with a formatted message
func NewNotice(kind NoticeKind, source, format string, args ...interface{}) Notice {
	return Notice{Kind: kind, Source: source, Message: fmt.Sprintf(format, args...)}
}

// Dataset is the cleaned input of one render pass
type Dataset struct {
	Visits   []PatientVisit `json:"-"`
	Readings []PM25Reading  `json:"-"`
	Samples  []PM25Sample   `json:"-"`

	// PatientFields lists the canonical patient-sheet fields that were present
	PatientFields map[string]bool `json:"patient_fields"`
	Notices       []Notice        `json:"notices"`
	LoadedAt      time.Time       `json:"loaded_at"`
}

// HasPatientField reports whether the patient sheet carried the field
func (d *Dataset) HasPatientField(field string) bool {
	if d == nil || d.PatientFields == nil {
		return false
	}
	return d.PatientFields[field]
}

// AddNotice appends a notice to the dataset
func (d *Dataset) AddNotice(n Notice) {
	d.Notices = append(d.Notices, n)
}

// IngestionRun records one sheet-to-database ingestion
type IngestionRun struct {
	ID            int64     `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	VisitCount    int       `json:"visit_count"`
	ReadingCount  int       `json:"reading_count"`
	SampleCount   int       `json:"sample_count"`
	DroppedRows   int       `json:"dropped_rows"`
	PatientFields []string  `json:"patient_fields"`
	Notices       []string  `json:"notices,omitempty"`
}

// FieldSet converts PatientFields into the lookup used by Dataset
func (r *IngestionRun) FieldSet() map[string]bool {
	out := make(map[string]bool, len(r.PatientFields))
	for _, f := range r.PatientFields {
		out[f] = true
	}
	return out
}
