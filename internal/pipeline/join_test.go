package pipeline

import (
	"testing"
	"time"

	"pm25-surveillance/internal/models"
)

func month(year int, m time.Month) models.MonthKey {
	return models.MonthKey{Year: year, Month: m}
}

func visitsIn(key models.MonthKey, n int, group string) []models.PatientVisit {
	visits := make([]models.PatientVisit, 0, n)
	for i := 0; i < n; i++ {
		date := key.Time().AddDate(0, 0, i%28)
		visits = append(visits, models.PatientVisit{
			HN:           "HN" + key.String(),
			VisitDate:    date,
			Month:        key,
			DiseaseGroup: group,
		})
	}
	return visits
}

func scenario() ([]models.PatientVisit, []models.PM25Reading) {
	var visits []models.PatientVisit
	visits = append(visits, visitsIn(month(2024, time.January), 10, models.GroupRespiratory)...)
	visits = append(visits, visitsIn(month(2024, time.February), 20, models.GroupRespiratory)...)
	visits = append(visits, visitsIn(month(2024, time.March), 15, models.GroupCardiovascular)...)

	readings := []models.PM25Reading{
		{Month: month(2024, time.January), Value: 20},
		{Month: month(2024, time.February), Value: 50},
		{Month: month(2024, time.March), Value: 30},
	}
	return visits, readings
}

type pair struct {
	count *int
	pm    *float64
}

func checkRows(t *testing.T, rows []models.MonthlyRow, want []pair) {
	t.Helper()
	if len(rows) != len(want) {
		t.Fatalf("len(rows) = %d, want %d: %+v", len(rows), len(want), rows)
	}
	for i, w := range want {
		r := rows[i]
		if (r.VisitCount == nil) != (w.count == nil) || (r.VisitCount != nil && *r.VisitCount != *w.count) {
			t.Errorf("row %d (%s) visit_count = %v, want %v", i, r.Month, deref(r.VisitCount), deref(w.count))
		}
		if (r.PM25Value == nil) != (w.pm == nil) || (r.PM25Value != nil && *r.PM25Value != *w.pm) {
			t.Errorf("row %d (%s) pm25_value = %v, want %v", i, r.Month, derefF(r.PM25Value), derefF(w.pm))
		}
	}
}

func deref(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func derefF(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

// TestBuildMonthlyTable_Scenario covers the three-month visit/PM2.5 example at lag 0 and lag 1
func TestBuildMonthlyTable_Scenario(t *testing.T) {
	visits, readings := scenario()
	i, f := models.IntPtr, models.FloatPtr

	t.Run("lag 0", func(t *testing.T) {
		rows := BuildMonthlyTable(visits, readings, GroupNone, 0, JoinOuter)
		checkRows(t, rows, []pair{{i(10), f(20)}, {i(20), f(50)}, {i(15), f(30)}})
		if rows[0].Month.String() != "2024-01" || rows[2].Month.String() != "2024-03" {
			t.Errorf("rows not ordered by month: %v .. %v", rows[0].Month, rows[2].Month)
		}
	})

	t.Run("lag 1", func(t *testing.T) {
		rows := BuildMonthlyTable(visits, readings, GroupNone, 1, JoinOuter)
		checkRows(t, rows, []pair{{i(10), nil}, {i(20), f(20)}, {i(15), f(50)}})
	})

	t.Run("lag 1 inner", func(t *testing.T) {
		rows := BuildMonthlyTable(visits, readings, GroupNone, 1, JoinInner)
		checkRows(t, rows, []pair{{i(20), f(20)}, {i(15), f(50)}})
	})
}

func TestCountByMonth_SumsToInput(t *testing.T) {
	visits, _ := scenario()
	visits = append(visits, models.PatientVisit{HN: "X", Month: month(2024, time.January), DiseaseGroup: models.GroupCardiovascular, VulnerableGroup: "ผู้สูงอายุ"})

	for _, field := range []GroupField{GroupNone, GroupDisease, GroupVulnerable} {
		t.Run(string(field), func(t *testing.T) {
			counts := CountByMonth(visits, field)
			total := 0
			seen := make(map[string]bool)
			for _, c := range counts {
				total += c.Count
				key := c.Month.String() + "|" + c.Group
				if seen[key] {
					t.Errorf("duplicate (month, group) %s", key)
				}
				seen[key] = true
			}
			if total != len(visits) {
				t.Errorf("sum of counts = %d, want %d", total, len(visits))
			}
		})
	}

	byVulnerable := CountByMonth(visits, GroupVulnerable)
	labels := make(map[string]bool)
	for _, c := range byVulnerable {
		labels[c.Group] = true
	}
	if !labels[models.UnspecifiedVulnerable] || !labels["ผู้สูงอายุ"] {
		t.Errorf("vulnerable labels = %v", labels)
	}
}

func TestJoin_Lag0EqualsUnlagged(t *testing.T) {
	visits, readings := scenario()
	counts := CountByMonth(visits, GroupDisease)

	for _, mode := range []JoinMode{JoinOuter, JoinInner} {
		unlagged := Join(counts, ToSeries(readings), mode)
		lagged := Join(counts, ShiftReadings(readings, 0), mode)
		if len(unlagged) != len(lagged) {
			t.Fatalf("%s: len %d != %d", mode, len(unlagged), len(lagged))
		}
		for i := range unlagged {
			a, b := unlagged[i], lagged[i]
			if a.Month != b.Month || a.Group != b.Group || deref(a.VisitCount) != deref(b.VisitCount) || derefF(a.PM25Value) != derefF(b.PM25Value) {
				t.Errorf("%s row %d: %+v != %+v", mode, i, a, b)
			}
		}
	}
}

func TestShiftSeries_RoundTrip(t *testing.T) {
	var readings []models.PM25Reading
	start := month(2023, time.June)
	for i := 0; i < 12; i++ {
		readings = append(readings, models.PM25Reading{Month: start.AddMonths(i), Value: float64(10 + 7*i)})
	}
	original := ToSeries(readings)

	for _, k := range []int{1, 2, 3} {
		restored := ShiftSeries(ShiftSeries(original, k), -k)
		for i, p := range restored {
			if i < len(original)-k {
				if p.Value == nil || *p.Value != *original[i].Value {
					t.Errorf("lag %d: month %s = %v, want %v", k, p.Month, derefF(p.Value), *original[i].Value)
				}
			} else if p.Value != nil {
				t.Errorf("lag %d: month %s = %v, want nil beyond the timeline", k, p.Month, *p.Value)
			}
		}
	}
}

func TestJoin_OuterKeepsPMOnlyMonths(t *testing.T) {
	visits, readings := scenario()
	readings = append(readings, models.PM25Reading{Month: month(2024, time.April), Value: 40})
	visits = append(visits, visitsIn(month(2023, time.December), 2, models.GroupRespiratory)...)

	rows := BuildMonthlyTable(visits, readings, GroupNone, 0, JoinOuter)
	i, f := models.IntPtr, models.FloatPtr
	checkRows(t, rows, []pair{{i(2), nil}, {i(10), f(20)}, {i(20), f(50)}, {i(15), f(30)}, {nil, f(40)}})

	inner := BuildMonthlyTable(visits, readings, GroupNone, 0, JoinInner)
	checkRows(t, inner, []pair{{i(10), f(20)}, {i(20), f(50)}, {i(15), f(30)}})
}

func TestJoin_GroupedRowsAreUnique(t *testing.T) {
	visits, readings := scenario()
	visits = append(visits, visitsIn(month(2024, time.January), 4, models.GroupCardiovascular)...)

	rows := BuildMonthlyTable(visits, readings, GroupDisease, 0, JoinOuter)
	if len(rows) != 4 {
		t.Fatalf("len(rows) = %d, want 4", len(rows))
	}
	jan := rows[:2]
	for _, r := range jan {
		if r.Month.String() != "2024-01" || r.PM25Value == nil || *r.PM25Value != 20 {
			t.Errorf("January row = %+v", r)
		}
	}
	if jan[0].Group > jan[1].Group {
		t.Errorf("groups not sorted within month: %q, %q", jan[0].Group, jan[1].Group)
	}
}

func TestVisitFilter_Apply(t *testing.T) {
	visits, _ := scenario()

	tests := []struct {
		name   string
		filter VisitFilter
		want   int
	}{
		{"no criteria", VisitFilter{}, 45},
		{"date range inclusive", VisitFilter{From: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), To: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)}, 20},
		{"group subset", VisitFilter{Groups: []string{models.GroupCardiovascular}}, 15},
		{"range and group", VisitFilter{To: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), Groups: []string{models.GroupCardiovascular}}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(tt.filter.Apply(visits)); got != tt.want {
				t.Errorf("Apply() kept %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseGroupField(t *testing.T) {
	tests := []struct {
		in   string
		want GroupField
	}{
		{"", GroupNone},
		{"none", GroupNone},
		{"disease", GroupDisease},
		{"disease_group", GroupDisease},
		{"Disease", GroupDisease},
		{"vulnerable", GroupVulnerable},
		{"vulnerable_group", GroupVulnerable},
		{" VULNERABLE ", GroupVulnerable},
	}
	for _, tt := range tests {
		got, err := ParseGroupField(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseGroupField(%q) = %q, %v, want %q", tt.in, got, err, tt.want)
		}
	}

	for _, v := range GroupFieldValues {
		if _, err := ParseGroupField(v); err != nil {
			t.Errorf("advertised value %q rejected: %v", v, err)
		}
	}
}

func TestParseOptions(t *testing.T) {
	if _, err := ParseGroupField("district"); err == nil {
		t.Error("ParseGroupField(district) should fail")
	}
	if g, err := ParseGroupField("none"); err != nil || g != GroupNone {
		t.Errorf("ParseGroupField(none) = %q, %v", g, err)
	}
	if m, err := ParseJoinMode(""); err != nil || m != JoinOuter {
		t.Errorf("ParseJoinMode(\"\") = %q, %v", m, err)
	}
	if _, err := ParseJoinMode("left"); err == nil {
		t.Error("ParseJoinMode(left) should fail")
	}
	if err := ValidateLag(7, MaxLagMonths); err == nil {
		t.Error("ValidateLag(7) should fail")
	}
}
