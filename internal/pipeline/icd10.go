package pipeline

import (
	"strings"

	"pm25-surveillance/internal/models"
)

// ParseICD10List splits a comma separated ICD-10 cell into upper-case codes
func ParseICD10List(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	codes := make([]string, 0, len(parts))
	for _, p := range parts {
		code := strings.ToUpper(strings.TrimSpace(p))
		if code != "" {
			codes = append(codes, code)
		}
	}
	return codes
}

// MatchICD10 reports whether code matches query. A query without a
// subcategory ("J44") matches the whole category ("J44", "J44.0", "J44.9").
func MatchICD10(code, query string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	query = strings.ToUpper(strings.TrimSpace(query))
	if query == "" {
		return false
	}
	if code == query {
		return true
	}
	return !strings.Contains(query, ".") && strings.HasPrefix(code, query+".")
}

// FilterByICD10 returns visits carrying at least one code matching query
func FilterByICD10(visits []models.PatientVisit, query string) []models.PatientVisit {
	out := make([]models.PatientVisit, 0)
	for _, v := range visits {
		for _, code := range v.ICD10Codes {
			if MatchICD10(code, query) {
				out = append(out, v)
				break
			}
		}
	}
	return out
}
