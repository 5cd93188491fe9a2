package pipeline

import (
	"sort"

	"pm25-surveillance/internal/models"
)

// LabelCount is the number of visits carrying a label
type LabelCount struct {
	Label string  `json:"label"`
	Count int     `json:"count"`
	Share float64 `json:"share"`
}

// VulnerableVisits returns visits with a vulnerable-group label other than
// blank or the adult label
func VulnerableVisits(visits []models.PatientVisit) []models.PatientVisit {
	out := make([]models.PatientVisit, 0, len(visits))
	for _, v := range visits {
		if v.VulnerableGroup == "" || v.VulnerableGroup == models.AdultVulnerable {
			continue
		}
		out = append(out, v)
	}
	return out
}

// VulnerableShare returns the share of each vulnerable-group label
func VulnerableShare(visits []models.PatientVisit) []LabelCount {
	return countLabels(VulnerableVisits(visits), func(v models.PatientVisit) string {
		return v.VulnerableGroup
	})
}

// VulnerableTrend returns monthly counts per vulnerable-group label
// left-joined with the PM2.5 series
func VulnerableTrend(visits []models.PatientVisit, readings []models.PM25Reading) []models.MonthlyRow {
	counts := CountByMonth(VulnerableVisits(visits), GroupVulnerable)
	rows := Join(counts, ToSeries(readings), JoinOuter)
	out := rows[:0]
	for _, r := range rows {
		if r.VisitCount != nil {
			out = append(out, r)
		}
	}
	return out
}

// SubDistrictCounts returns visit counts per sub-district, largest first.
// Visits without a sub-district are ignored.
func SubDistrictCounts(visits []models.PatientVisit) []LabelCount {
	withArea := make([]models.PatientVisit, 0, len(visits))
	for _, v := range visits {
		if v.SubDistrict != "" {
			withArea = append(withArea, v)
		}
	}
	return countLabels(withArea, func(v models.PatientVisit) string {
		return v.SubDistrict
	})
}

func countLabels(visits []models.PatientVisit, label func(models.PatientVisit) string) []LabelCount {
	counts := make(map[string]int)
	for _, v := range visits {
		counts[label(v)]++
	}

	out := make([]LabelCount, 0, len(counts))
	for l, n := range counts {
		out = append(out, LabelCount{Label: l, Count: n, Share: float64(n) / float64(len(visits))})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// YearSeries holds twelve monthly visit totals of one calendar year.
// Months is indexed January = 0; nil means no joined data for that month.
type YearSeries struct {
	Year   int      `json:"year"`
	Months [12]*int `json:"months"`
}

// YearOverYear pivots monthly visit totals, restricted to months that also
// have a PM2.5 reading, into one series per year in ascending order
func YearOverYear(visits []models.PatientVisit, readings []models.PM25Reading) []YearSeries {
	rows := Join(CountByMonth(visits, GroupNone), ToSeries(readings), JoinInner)

	byYear := make(map[int]*YearSeries)
	for _, r := range rows {
		ys := byYear[r.Month.Year]
		if ys == nil {
			ys = &YearSeries{Year: r.Month.Year}
			byYear[r.Month.Year] = ys
		}
		ys.Months[r.Month.Month-1] = models.IntPtr(*r.VisitCount)
	}

	out := make([]YearSeries, 0, len(byYear))
	for _, ys := range byYear {
		out = append(out, *ys)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out
}
