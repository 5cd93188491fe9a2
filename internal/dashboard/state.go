// Package dashboard turns an explicit application state and a cleaned
// dataset into the data behind each dashboard page.
package dashboard

import (
	"fmt"
	"strings"
	"time"

	"pm25-surveillance/internal/models"
	"pm25-surveillance/internal/pipeline"
)

// Page names a dashboard view
type Page string

const (
	PageOverview     Page = "overview"
	PageCorrelation  Page = "correlation"
	PageLag          Page = "lag"
	PageReattendance Page = "reattendance"
	PageVulnerable   Page = "vulnerable"
	PageTimeline     Page = "timeline"
	PageICD10        Page = "icd10"
	PageYearly       Page = "yearly"
	PageRealtime     Page = "realtime"
)

// Pages lists every page in navigation order
var Pages = []Page{
	PageOverview,
	PageCorrelation,
	PageLag,
	PageReattendance,
	PageVulnerable,
	PageTimeline,
	PageICD10,
	PageYearly,
	PageRealtime,
}

// ParsePage validates a page name; empty means overview
func ParsePage(s string) (Page, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return PageOverview, nil
	}
	for _, p := range Pages {
		if string(p) == s {
			return p, nil
		}
	}
	return "", &models.ValidationError{Field: "page", Value: s, Message: fmt.Sprintf("unknown page %q", s)}
}

// AppState holds every user-selectable value of the dashboard
type AppState struct {
	Page             Page                `json:"page"`
	LagMonths        int                 `json:"lag"`
	MaxLag           int                 `json:"max_lag"`
	LookbackDays     int                 `json:"lookback_days"`
	GroupBy          pipeline.GroupField `json:"group_by,omitempty"`
	Groups           []string            `json:"groups,omitempty"`
	ExcludeScheduled bool                `json:"exclude_scheduled"`
	From             *time.Time          `json:"from,omitempty"`
	To               *time.Time          `json:"to,omitempty"`
	HN               string              `json:"hn,omitempty"`
	ICD10            string              `json:"icd10,omitempty"`
	JoinMode         pipeline.JoinMode   `json:"join"`
}

// DefaultState returns the state of a fresh dashboard session
func DefaultState() AppState {
	return AppState{
		Page:         PageOverview,
		MaxLag:       pipeline.MaxLagMonths,
		LookbackDays: pipeline.DefaultLookbackDays,
		JoinMode:     pipeline.JoinOuter,
	}
}

// Validate checks ranges and enumerations
func (s AppState) Validate() error {
	if _, err := ParsePage(string(s.Page)); err != nil {
		return err
	}
	if err := pipeline.ValidateLag(s.LagMonths, pipeline.MaxLagMonths); err != nil {
		return err
	}
	if s.MaxLag < 0 || s.MaxLag > pipeline.MaxLagMonths {
		return &models.ValidationError{
			Field:   "max_lag",
			Value:   fmt.Sprint(s.MaxLag),
			Message: fmt.Sprintf("max_lag must be between 0 and %d months", pipeline.MaxLagMonths),
		}
	}
	if err := pipeline.ValidateLookback(s.LookbackDays); err != nil {
		return err
	}
	if _, err := pipeline.ParseGroupField(string(s.GroupBy)); err != nil {
		return err
	}
	if _, err := pipeline.ParseJoinMode(string(s.JoinMode)); err != nil {
		return err
	}
	if s.From != nil && s.To != nil && s.To.Before(*s.From) {
		return &models.ValidationError{
			Field:   "to",
			Value:   s.To.Format("2006-01-02"),
			Message: "to must not be before from",
		}
	}
	return nil
}

// WithinLimit checks the requested lags against a configured ceiling,
// which may be tighter than the hard limit Validate enforces
func (s AppState) WithinLimit(maxLag int) error {
	if err := pipeline.ValidateLag(s.LagMonths, maxLag); err != nil {
		return err
	}
	if s.MaxLag > maxLag {
		return &models.ValidationError{
			Field:   "max_lag",
			Value:   fmt.Sprint(s.MaxLag),
			Message: fmt.Sprintf("max_lag must be between 0 and %d months", maxLag),
		}
	}
	return nil
}

// filter converts the date range and group selection into a pipeline filter
func (s AppState) filter() pipeline.VisitFilter {
	f := pipeline.VisitFilter{Groups: s.Groups, Field: s.GroupBy}
	if s.From != nil {
		f.From = *s.From
	}
	if s.To != nil {
		f.To = *s.To
	}
	return f
}
