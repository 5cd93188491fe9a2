package dashboard

import (
	"errors"

	"pm25-surveillance/internal/models"
	"pm25-surveillance/internal/pipeline"
)

// Totals are the headline numbers of the overview page
type Totals struct {
	Visits        int      `json:"visits"`
	Months        int      `json:"months"`
	Patients      int      `json:"patients"`
	MeanPM25      *float64 `json:"mean_pm25"`
	PeakPM25      *float64 `json:"peak_pm25"`
	PeakPM25Month string   `json:"peak_pm25_month,omitempty"`
}

// View is everything a page needs to render. Only the sections relevant to
// the page are populated.
type View struct {
	Page  Page     `json:"page"`
	State AppState `json:"state"`

	Totals          *Totals                     `json:"totals,omitempty"`
	Rows            []models.MonthlyRow         `json:"rows,omitempty"`
	Correlation     *pipeline.CorrelationResult `json:"correlation,omitempty"`
	LagSearch       *pipeline.LagSearchResult   `json:"lag_search,omitempty"`
	Intervals       []models.RevisitInterval    `json:"intervals,omitempty"`
	IntervalReport  *pipeline.IntervalReport    `json:"interval_report,omitempty"`
	VulnerableShare []pipeline.LabelCount       `json:"vulnerable_share,omitempty"`
	SubDistricts    []pipeline.LabelCount       `json:"sub_districts,omitempty"`
	YearOverYear    []pipeline.YearSeries       `json:"year_over_year,omitempty"`
	Timeline        *pipeline.PatientTimeline   `json:"timeline,omitempty"`
	Current         *pipeline.CurrentPM25       `json:"current,omitempty"`
	AQI             *pipeline.AQILevel          `json:"aqi,omitempty"`

	Notices []models.Notice `json:"notices"`
}

func (v *View) notice(kind models.NoticeKind, source, format string, args ...interface{}) {
	v.Notices = append(v.Notices, models.NewNotice(kind, source, format, args...))
}

type requiredField struct{ field, column string }

// pageFields lists the patient-sheet columns each page cannot do without
var pageFields = map[Page][]requiredField{
	PageReattendance: {{models.FieldHN, "HN"}},
	PageTimeline:     {{models.FieldHN, "HN"}},
	PageVulnerable:   {{models.FieldVulnerableGroup, "กลุ่มเปราะบาง"}},
	PageICD10:        {{models.FieldICD10, "ICD10ทั้งหมด"}},
}

// groupColumns names the sheet column behind each group selector
var groupColumns = map[pipeline.GroupField]string{
	pipeline.GroupDisease:    "4 กลุ่มโรคเฝ้าระวัง",
	pipeline.GroupVulnerable: "กลุ่มเปราะบาง",
}

// requiredFields adds the grouping column to the page's own requirements
// whenever counts are broken out or filtered by group. The realtime page
// never touches visits.
func requiredFields(state AppState) []requiredField {
	req := append([]requiredField(nil), pageFields[state.Page]...)
	if state.Page == PageRealtime {
		return req
	}
	field := state.GroupBy
	if field == pipeline.GroupNone && len(state.Groups) > 0 {
		field = pipeline.GroupDisease
	}
	if field == pipeline.GroupNone {
		return req
	}
	for _, r := range req {
		if r.field == string(field) {
			return req
		}
	}
	return append(req, requiredField{field: string(field), column: groupColumns[field]})
}

// Build renders one page. It is a pure function of its inputs: the dataset
// is never modified and every soft failure becomes a notice on the view.
// The state must have passed Validate.
func Build(state AppState, ds *models.Dataset) *View {
	if state.Page == "" {
		state.Page = PageOverview
	}
	if state.JoinMode == "" {
		state.JoinMode = pipeline.JoinOuter
	}
	if ds == nil {
		ds = &models.Dataset{}
	}

	v := &View{Page: state.Page, State: state}
	v.Notices = append(v.Notices, ds.Notices...)

	var missing []string
	for _, req := range requiredFields(state) {
		if !ds.HasPatientField(req.field) {
			missing = append(missing, req.column)
		}
	}
	if len(missing) > 0 {
		err := &models.MissingColumnError{Table: "patients", Columns: missing}
		v.notice(models.NoticeMissingColumn, "patients", "%s", err.Error())
		return v
	}

	visits := state.filter().Apply(ds.Visits)

	switch state.Page {
	case PageOverview:
		buildOverview(v, state, ds, visits)
	case PageCorrelation:
		buildCorrelation(v, state, ds, visits)
	case PageLag:
		buildLag(v, state, ds, visits)
	case PageReattendance:
		buildReattendance(v, state, ds, visits)
	case PageVulnerable:
		buildVulnerable(v, ds, visits)
	case PageTimeline:
		buildTimeline(v, state, ds)
	case PageICD10:
		buildICD10(v, state, ds, visits)
	case PageYearly:
		buildYearly(v, ds, visits)
	case PageRealtime:
		buildRealtime(v, ds)
	}

	if v.Notices == nil {
		v.Notices = []models.Notice{}
	}
	return v
}

func buildOverview(v *View, state AppState, ds *models.Dataset, visits []models.PatientVisit) {
	v.Rows = pipeline.BuildMonthlyTable(visits, ds.Readings, state.GroupBy, state.LagMonths, state.JoinMode)
	v.Totals = totals(visits, ds.Readings)
	if len(visits) == 0 {
		v.notice(models.NoticeNoData, "patients", "no visits match the current filters")
	}
	if len(ds.Readings) == 0 {
		v.notice(models.NoticeNoData, "pm25_monthly", "no monthly PM2.5 readings are available")
	}
	if ds.HasPatientField(models.FieldSubDistrict) {
		v.SubDistricts = pipeline.SubDistrictCounts(visits)
	}
	if current, ok := pipeline.LatestSample(ds.Samples); ok {
		v.Current = current
	}
}

func totals(visits []models.PatientVisit, readings []models.PM25Reading) *Totals {
	t := &Totals{Visits: len(visits)}
	months := make(map[models.MonthKey]bool)
	patients := make(map[string]bool)
	for _, visit := range visits {
		months[visit.Month] = true
		if visit.HN != "" {
			patients[visit.HN] = true
		}
	}
	t.Months = len(months)
	t.Patients = len(patients)

	if len(readings) > 0 {
		sum := 0.0
		peak := readings[0]
		for _, r := range readings {
			sum += r.Value
			if r.Value > peak.Value {
				peak = r
			}
		}
		t.MeanPM25 = models.FloatPtr(sum / float64(len(readings)))
		t.PeakPM25 = models.FloatPtr(peak.Value)
		t.PeakPM25Month = peak.Month.String()
	}
	return t
}

// correlate adds the correlation of rows to the view, or a notice explaining why there is none
func correlate(v *View, rows []models.MonthlyRow, lag int) {
	res, err := pipeline.Correlate(rows)
	if err != nil {
		// ErrInsufficientData or ErrConstantSeries
		v.notice(models.NoticeInsufficientData, "correlation", "%v", err)
		return
	}
	v.Correlation = res
	if !res.Significant {
		v.notice(models.NoticeNotSignificant, "correlation",
			"association at lag %d months is not significant (r=%.3f, p=%.4f)", lag, res.Pearson, res.PearsonP)
	}
}

func buildCorrelation(v *View, state AppState, ds *models.Dataset, visits []models.PatientVisit) {
	v.Rows = pipeline.BuildMonthlyTable(visits, ds.Readings, pipeline.GroupNone, state.LagMonths, pipeline.JoinInner)
	correlate(v, v.Rows, state.LagMonths)
}

func buildLag(v *View, state AppState, ds *models.Dataset, visits []models.PatientVisit) {
	res, err := pipeline.SearchLags(pipeline.CountByMonth(visits, pipeline.GroupNone), ds.Readings, state.MaxLag)
	if err != nil {
		v.notice(models.NoticeInsufficientData, "lag_search", "%v", err)
		return
	}
	v.LagSearch = res
	switch {
	case res.Best == nil:
		v.notice(models.NoticeInsufficientData, "lag_search", "%s", res.Message)
	case !res.BestSignificant:
		v.notice(models.NoticeNotSignificant, "lag_search", "%s", res.Message)
	}
}

func buildReattendance(v *View, state AppState, ds *models.Dataset, visits []models.PatientVisit) {
	intervals, report, err := pipeline.ComputeIntervals(visits, state.LookbackDays)
	if err != nil {
		v.notice(models.NoticeInsufficientData, "reattendance", "%v", err)
		return
	}
	v.Intervals = intervals
	v.IntervalReport = &report
	if report.MissingHN > 0 {
		v.notice(models.NoticeDroppedRows, "reattendance",
			"%d visit(s) without an HN were excluded from re-attendance", report.MissingHN)
	}

	counts := pipeline.CountReattendanceByMonth(intervals, false)
	if len(counts) == 0 {
		v.notice(models.NoticeNoData, "reattendance",
			"no re-attendance within %d days was found", state.LookbackDays)
		return
	}
	v.Rows = pipeline.Join(counts, pipeline.ShiftReadings(ds.Readings, state.LagMonths), pipeline.JoinInner)
	correlate(v, v.Rows, state.LagMonths)
}

func buildVulnerable(v *View, ds *models.Dataset, visits []models.PatientVisit) {
	v.VulnerableShare = pipeline.VulnerableShare(visits)
	v.Rows = pipeline.VulnerableTrend(visits, ds.Readings)
	if len(v.VulnerableShare) == 0 {
		v.notice(models.NoticeNoData, "patients", "no visits from vulnerable groups match the current filters")
	}
}

func buildTimeline(v *View, state AppState, ds *models.Dataset) {
	if state.HN == "" {
		v.notice(models.NoticeNoData, "timeline", "enter an HN to show a patient timeline")
		return
	}
	tl, err := pipeline.BuildPatientTimeline(ds.Visits, ds.Readings, state.HN)
	if errors.Is(err, pipeline.ErrPatientNotFound) {
		v.notice(models.NoticeNoData, "timeline", "no visits found for HN %s", state.HN)
		return
	}
	v.Timeline = tl
}

func buildICD10(v *View, state AppState, ds *models.Dataset, visits []models.PatientVisit) {
	if state.ICD10 == "" {
		v.notice(models.NoticeNoData, "icd10", "enter an ICD-10 code to show its trend")
		return
	}
	matched := pipeline.FilterByICD10(visits, state.ICD10)
	if len(matched) == 0 {
		v.notice(models.NoticeNoData, "icd10", "no visits carry ICD-10 code %s", state.ICD10)
	}
	v.Rows = pipeline.Join(pipeline.CountByMonth(matched, pipeline.GroupNone),
		pipeline.ShiftReadings(ds.Readings, state.LagMonths), pipeline.JoinOuter)
}

func buildYearly(v *View, ds *models.Dataset, visits []models.PatientVisit) {
	v.YearOverYear = pipeline.YearOverYear(visits, ds.Readings)
	if len(v.YearOverYear) == 0 {
		v.notice(models.NoticeNoData, "yearly", "no month has both visits and a PM2.5 reading")
	}
}

func buildRealtime(v *View, ds *models.Dataset) {
	current, ok := pipeline.LatestSample(ds.Samples)
	if !ok {
		level := pipeline.ClassifyAQI(nil)
		v.AQI = &level
		v.notice(models.NoticeNoData, "pm25_realtime", "no real-time PM2.5 sample is available")
		return
	}
	v.Current = current
	v.AQI = &current.AQI
}
