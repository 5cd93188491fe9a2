package pipeline

import (
	"sort"
	"strings"
	"time"

	"pm25-surveillance/internal/models"
)

// GroupField selects the column visit counts are broken out by
type GroupField string

const (
	GroupNone       GroupField = ""
	GroupDisease    GroupField = models.FieldDiseaseGroup
	GroupVulnerable GroupField = models.FieldVulnerableGroup
)

// GroupFieldValues lists the accepted group selectors
var GroupFieldValues = []string{"none", "disease", "disease_group", "vulnerable", "vulnerable_group"}

// ParseGroupField parses a group selector; "" and "none" mean no grouping.
// "disease" and "vulnerable" are short forms of the column keys.
func ParseGroupField(s string) (GroupField, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return GroupNone, nil
	case "disease", string(GroupDisease):
		return GroupDisease, nil
	case "vulnerable", string(GroupVulnerable):
		return GroupVulnerable, nil
	}
	return GroupNone, &models.ValidationError{
		Field:   "group_by",
		Value:   s,
		Message: "group_by must be one of " + strings.Join(GroupFieldValues, ", "),
	}
}

// Label returns the group label of v under field f
func (f GroupField) Label(v models.PatientVisit) string {
	switch f {
	case GroupDisease:
		return v.DiseaseGroup
	case GroupVulnerable:
		if v.VulnerableGroup == "" {
			return models.UnspecifiedVulnerable
		}
		return v.VulnerableGroup
	}
	return ""
}

type countKey struct {
	month models.MonthKey
	group string
}

// CountByMonth counts visits per month key, optionally per group label.
// Pairs with zero visits are absent; the output is sorted by month then group.
func CountByMonth(visits []models.PatientVisit, groupBy GroupField) []models.MonthlyCount {
	counts := make(map[countKey]int)
	for _, v := range visits {
		counts[countKey{month: v.Month, group: groupBy.Label(v)}]++
	}

	out := make([]models.MonthlyCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, models.MonthlyCount{Month: k.month, Group: k.group, Count: n})
	}
	sortCounts(out)
	return out
}

func sortCounts(counts []models.MonthlyCount) {
	sort.Slice(counts, func(i, j int) bool {
		if c := counts[i].Month.Compare(counts[j].Month); c != 0 {
			return c < 0
		}
		return counts[i].Group < counts[j].Group
	})
}

// VisitFilter restricts visits before aggregation. Zero values disable a criterion.
type VisitFilter struct {
	From   time.Time
	To     time.Time
	Groups []string
	Field  GroupField
}

// Apply returns the visits matching the filter. From and To are inclusive dates.
func (f VisitFilter) Apply(visits []models.PatientVisit) []models.PatientVisit {
	field := f.Field
	if field == GroupNone {
		field = GroupDisease
	}
	allowed := make(map[string]bool, len(f.Groups))
	for _, g := range f.Groups {
		allowed[g] = true
	}

	out := make([]models.PatientVisit, 0, len(visits))
	for _, v := range visits {
		day := dateOnly(v.VisitDate)
		if !f.From.IsZero() && day.Before(dateOnly(f.From)) {
			continue
		}
		if !f.To.IsZero() && day.After(dateOnly(f.To)) {
			continue
		}
		if len(allowed) > 0 && !allowed[field.Label(v)] {
			continue
		}
		out = append(out, v)
	}
	return out
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
