package dashboard

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"pm25-surveillance/internal/models"
	"pm25-surveillance/internal/pipeline"
)

func visit(hn string, y int, m time.Month, d int, group string) models.PatientVisit {
	date := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return models.PatientVisit{
		HN:           hn,
		VisitDate:    date,
		Month:        models.NewMonthKey(date),
		DiseaseGroup: group,
	}
}

func reading(y int, m time.Month, v float64) models.PM25Reading {
	return models.PM25Reading{Month: models.NewMonthKey(time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)), Value: v}
}

// fixture has 10, 20 and 30 visits in Jan-Mar 2024 against PM2.5 of 10, 20 and 30
func fixture() *models.Dataset {
	ds := &models.Dataset{
		PatientFields: map[string]bool{
			models.FieldVisitDate:    true,
			models.FieldHN:           true,
			models.FieldDiseaseGroup: true,
			models.FieldICD10:        true,
		},
		Readings: []models.PM25Reading{
			reading(2024, time.January, 10),
			reading(2024, time.February, 20),
			reading(2024, time.March, 30),
		},
	}
	for i, n := range []int{10, 20, 30} {
		for j := 0; j < n; j++ {
			v := visit("", 2024, time.Month(i+1), 1+j%28, models.GroupRespiratory)
			v.HN = string(rune('A'+i)) + string(rune('a'+j%26)) + string(rune('0'+j/26))
			if j == 0 {
				v.ICD10Codes = []string{"J44.1"}
			}
			ds.Visits = append(ds.Visits, v)
		}
	}
	return ds
}

func hasNotice(v *View, kind models.NoticeKind) bool {
	for _, n := range v.Notices {
		if n.Kind == kind {
			return true
		}
	}
	return false
}

func TestParsePage(t *testing.T) {
	tests := []struct {
		in      string
		want    Page
		wantErr bool
	}{
		{"", PageOverview, false},
		{"Lag", PageLag, false},
		{" realtime ", PageRealtime, false},
		{"map", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePage(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParsePage(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestAppState_Validate(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		mutate    func(s *AppState)
		wantField string
	}{
		{name: "defaults", mutate: func(s *AppState) {}},
		{name: "lag six", mutate: func(s *AppState) { s.LagMonths = 6 }},
		{name: "lag seven", mutate: func(s *AppState) { s.LagMonths = 7 }, wantField: "lag"},
		{name: "negative lag", mutate: func(s *AppState) { s.LagMonths = -1 }, wantField: "lag"},
		{name: "max lag seven", mutate: func(s *AppState) { s.MaxLag = 7 }, wantField: "max_lag"},
		{name: "lookback six", mutate: func(s *AppState) { s.LookbackDays = 6 }, wantField: "lookback_days"},
		{name: "lookback 180", mutate: func(s *AppState) { s.LookbackDays = 180 }},
		{name: "lookback 181", mutate: func(s *AppState) { s.LookbackDays = 181 }, wantField: "lookback_days"},
		{name: "unknown group field", mutate: func(s *AppState) { s.GroupBy = "ward" }, wantField: "group_by"},
		{name: "unknown join", mutate: func(s *AppState) { s.JoinMode = "left" }, wantField: "join"},
		{name: "unknown page", mutate: func(s *AppState) { s.Page = "map" }, wantField: "page"},
		{name: "inverted range", mutate: func(s *AppState) { s.From, s.To = &from, &to }, wantField: "to"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultState()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			var vErr *models.ValidationError
			if !errors.As(err, &vErr) || vErr.Field != tt.wantField {
				t.Errorf("Validate() error = %v, want ValidationError on %s", err, tt.wantField)
			}
		})
	}
}

func TestBuild_Overview(t *testing.T) {
	ds := fixture()
	ds.Notices = []models.Notice{models.NewNotice(models.NoticeDroppedRows, "patients", "dropped 1 row")}

	v := Build(DefaultState(), ds)

	if v.Page != PageOverview {
		t.Errorf("Page = %q", v.Page)
	}
	if len(v.Rows) != 3 {
		t.Fatalf("len(Rows) = %d, want 3", len(v.Rows))
	}
	if *v.Rows[2].VisitCount != 30 || *v.Rows[2].PM25Value != 30 {
		t.Errorf("March row = %d / %v", *v.Rows[2].VisitCount, *v.Rows[2].PM25Value)
	}
	if v.Totals.Visits != 60 || v.Totals.Months != 3 || *v.Totals.PeakPM25 != 30 || v.Totals.PeakPM25Month != "2024-03" {
		t.Errorf("Totals = %+v", v.Totals)
	}
	if !hasNotice(v, models.NoticeDroppedRows) {
		t.Error("dataset notices should be carried onto the view")
	}
	if len(ds.Notices) != 1 {
		t.Error("Build must not modify the dataset")
	}
}

func TestBuild_OverviewLagAndFilter(t *testing.T) {
	state := DefaultState()
	state.LagMonths = 1
	from := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	state.From = &from

	v := Build(state, fixture())

	var feb *models.MonthlyRow
	for i := range v.Rows {
		if v.Rows[i].Month.String() == "2024-02" {
			feb = &v.Rows[i]
		}
	}
	if feb == nil || *feb.VisitCount != 20 || *feb.PM25Value != 10 {
		t.Fatalf("Feb row = %+v, want January's PM2.5 at lag 1", feb)
	}
	if v.Totals.Visits != 50 {
		t.Errorf("Totals.Visits = %d, want January filtered out", v.Totals.Visits)
	}
}

func TestBuild_Correlation(t *testing.T) {
	state := DefaultState()
	state.Page = PageCorrelation

	v := Build(state, fixture())
	if v.Correlation == nil {
		t.Fatalf("Correlation = nil, notices = %+v", v.Notices)
	}
	if math.Abs(v.Correlation.Pearson-1) > 1e-9 {
		t.Errorf("Pearson = %v, want 1", v.Correlation.Pearson)
	}

	state.LagMonths = 1
	v = Build(state, fixture())
	if v.Correlation != nil || !hasNotice(v, models.NoticeInsufficientData) {
		t.Errorf("two overlapping months should give an insufficient_data notice, got %+v", v.Notices)
	}
}

func TestBuild_Lag(t *testing.T) {
	state := DefaultState()
	state.Page = PageLag
	state.MaxLag = 2

	v := Build(state, fixture())
	if v.LagSearch == nil || len(v.LagSearch.Lags) != 3 {
		t.Fatalf("LagSearch = %+v", v.LagSearch)
	}
	if !v.LagSearch.Lags[1].Skipped || !v.LagSearch.Lags[2].Skipped {
		t.Error("lags leaving fewer than three months should be skipped")
	}
	if v.LagSearch.Best == nil || v.LagSearch.Best.Lag != 0 {
		t.Errorf("Best = %+v, want lag 0", v.LagSearch.Best)
	}
}

func TestBuild_MissingColumn(t *testing.T) {
	ds := fixture()
	delete(ds.PatientFields, models.FieldHN)

	for _, page := range []Page{PageReattendance, PageTimeline} {
		state := DefaultState()
		state.Page = page
		state.HN = "Aa0"

		v := Build(state, ds)
		if !hasNotice(v, models.NoticeMissingColumn) {
			t.Errorf("%s: want missing_column notice, got %+v", page, v.Notices)
		}
		if !strings.Contains(v.Notices[len(v.Notices)-1].Message, "HN") {
			t.Errorf("%s: notice should name the column: %q", page, v.Notices[0].Message)
		}
		if v.Intervals != nil || v.Timeline != nil {
			t.Errorf("%s: page content should be empty", page)
		}
	}
}

func TestBuild_GroupingNeedsGroupColumn(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *AppState)
		field  string
		column string
	}{
		{
			name:   "group by disease",
			mutate: func(s *AppState) { s.GroupBy = pipeline.GroupDisease },
			field:  models.FieldDiseaseGroup,
			column: "4 กลุ่มโรคเฝ้าระวัง",
		},
		{
			name:   "group by vulnerable",
			mutate: func(s *AppState) { s.GroupBy = pipeline.GroupVulnerable },
			field:  models.FieldVulnerableGroup,
			column: "กลุ่มเปราะบาง",
		},
		{
			name:   "group filter defaults to disease",
			mutate: func(s *AppState) { s.Groups = []string{models.GroupRespiratory} },
			field:  models.FieldDiseaseGroup,
			column: "4 กลุ่มโรคเฝ้าระวัง",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := fixture()
			delete(ds.PatientFields, tt.field)
			state := DefaultState()
			tt.mutate(&state)

			v := Build(state, ds)
			if !hasNotice(v, models.NoticeMissingColumn) {
				t.Fatalf("want missing_column notice, got %+v", v.Notices)
			}
			if msg := v.Notices[len(v.Notices)-1].Message; !strings.Contains(msg, tt.column) {
				t.Errorf("notice %q should name %s", msg, tt.column)
			}
			if len(v.Rows) != 0 {
				t.Errorf("Rows = %+v, want none", v.Rows)
			}

			ds.PatientFields[tt.field] = true
			if v := Build(state, ds); hasNotice(v, models.NoticeMissingColumn) {
				t.Errorf("column present: unexpected notices %+v", v.Notices)
			}
		})
	}
}

func TestBuild_Reattendance(t *testing.T) {
	ds := &models.Dataset{
		PatientFields: map[string]bool{models.FieldVisitDate: true, models.FieldHN: true},
		Visits: []models.PatientVisit{
			visit("P1", 2024, time.January, 1, models.GroupRespiratory),
			visit("P1", 2024, time.January, 11, models.GroupRespiratory),
			visit("P1", 2024, time.February, 21, models.GroupRespiratory),
			visit("", 2024, time.February, 1, models.GroupRespiratory),
		},
		Readings: []models.PM25Reading{reading(2024, time.January, 40), reading(2024, time.February, 50)},
	}
	state := DefaultState()
	state.Page = PageReattendance

	v := Build(state, ds)
	if v.IntervalReport == nil || v.IntervalReport.MissingHN != 1 {
		t.Fatalf("IntervalReport = %+v", v.IntervalReport)
	}
	flagged := 0
	for _, iv := range v.Intervals {
		if iv.Reattendance {
			flagged++
		}
	}
	if flagged != 1 {
		t.Errorf("flagged = %d, want 1", flagged)
	}
	if len(v.Rows) != 1 || v.Rows[0].Month.String() != "2024-01" || *v.Rows[0].PM25Value != 40 {
		t.Errorf("Rows = %+v", v.Rows)
	}
	if !hasNotice(v, models.NoticeDroppedRows) {
		t.Error("blank HN visits should be reported")
	}
}

func TestBuild_Timeline(t *testing.T) {
	state := DefaultState()
	state.Page = PageTimeline

	v := Build(state, fixture())
	if v.Timeline != nil || !hasNotice(v, models.NoticeNoData) {
		t.Error("empty HN should produce a no_data notice")
	}

	state.HN = "nobody"
	if v = Build(state, fixture()); v.Timeline != nil || !hasNotice(v, models.NoticeNoData) {
		t.Error("unknown HN should produce a no_data notice")
	}

	state.HN = "Aa0"
	v = Build(state, fixture())
	if v.Timeline == nil || len(v.Timeline.Visits) != 1 || v.Timeline.Visits[0].ICD10Count != 1 {
		t.Fatalf("Timeline = %+v", v.Timeline)
	}
	if len(v.Timeline.PM25) != 3 {
		t.Errorf("timeline should carry the full PM2.5 series, got %d points", len(v.Timeline.PM25))
	}
}

func TestBuild_ICD10(t *testing.T) {
	state := DefaultState()
	state.Page = PageICD10
	state.ICD10 = "J44"

	v := Build(state, fixture())
	total := 0
	for _, r := range v.Rows {
		if r.VisitCount != nil {
			total += *r.VisitCount
		}
	}
	if total != 3 {
		t.Errorf("J44 visits = %d, want one per month", total)
	}
	if len(v.Rows) != 3 {
		t.Errorf("len(Rows) = %d, want the outer-joined timeline", len(v.Rows))
	}
}

func TestBuild_VulnerableRequiresColumn(t *testing.T) {
	state := DefaultState()
	state.Page = PageVulnerable

	v := Build(state, fixture())
	if !hasNotice(v, models.NoticeMissingColumn) {
		t.Errorf("want missing_column notice, got %+v", v.Notices)
	}

	ds := fixture()
	ds.PatientFields[models.FieldVulnerableGroup] = true
	ds.Visits[0].VulnerableGroup = "ผู้สูงอายุ"
	ds.Visits[1].VulnerableGroup = models.AdultVulnerable
	v = Build(state, ds)
	if len(v.VulnerableShare) != 1 || v.VulnerableShare[0].Label != "ผู้สูงอายุ" {
		t.Errorf("VulnerableShare = %+v", v.VulnerableShare)
	}
}

func TestBuild_Yearly(t *testing.T) {
	state := DefaultState()
	state.Page = PageYearly

	v := Build(state, fixture())
	if len(v.YearOverYear) != 1 || v.YearOverYear[0].Year != 2024 {
		t.Fatalf("YearOverYear = %+v", v.YearOverYear)
	}
	if m := v.YearOverYear[0].Months; *m[0] != 10 || *m[2] != 30 || m[3] != nil {
		t.Errorf("Months = %v", m)
	}
}

func TestBuild_Realtime(t *testing.T) {
	state := DefaultState()
	state.Page = PageRealtime

	v := Build(state, fixture())
	if v.AQI == nil || v.AQI.Level != "no_data" || !hasNotice(v, models.NoticeNoData) {
		t.Errorf("no samples: AQI = %+v, notices = %+v", v.AQI, v.Notices)
	}

	ds := fixture()
	ds.Samples = []models.PM25Sample{
		{Timestamp: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), Value: 80},
		{Timestamp: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), Value: 12},
	}
	v = Build(state, ds)
	if v.Current == nil || v.Current.Sample.Value != 80 || v.AQI.Level != "affects_health" {
		t.Errorf("Current = %+v", v.Current)
	}
}

func TestBuild_NilDataset(t *testing.T) {
	v := Build(AppState{}, nil)
	if v.Page != PageOverview || v.State.JoinMode != pipeline.JoinOuter {
		t.Errorf("zero state should default: %+v", v.State)
	}
	if !hasNotice(v, models.NoticeNoData) {
		t.Error("empty dataset should produce no_data notices")
	}
}
