package source

import (
	"sort"
	"strings"

	"pm25-surveillance/internal/models"
)

// FieldSpec maps a canonical field to the localized header names it may appear under
type FieldSpec struct {
	Field    string
	Aliases  []string
	Required bool
}

// Schema describes the columns of one input sheet
type Schema struct {
	Table  string
	Fields []FieldSpec
	// FirstColumnFallback names a field taken from the first column when none of its aliases match
	FirstColumnFallback string
}

// PatientSchema is the patient-visit sheet
var PatientSchema = Schema{
	Table: "patients",
	Fields: []FieldSpec{
		{Field: models.FieldVisitDate, Aliases: []string{"วันที่เข้ารับบริการ", "visit_date", "date"}, Required: true},
		{Field: models.FieldHN, Aliases: []string{"HN"}},
		{Field: models.FieldDiseaseGroup, Aliases: []string{"4 กลุ่มโรคเฝ้าระวัง", "disease_group"}},
		{Field: models.FieldVulnerableGroup, Aliases: []string{"กลุ่มเปราะบาง", "vulnerable_group"}},
		{Field: models.FieldICD10, Aliases: []string{"ICD10ทั้งหมด", "icd10"}},
		{Field: models.FieldSubDistrict, Aliases: []string{"ตำบล", "sub_district"}},
		{Field: models.FieldDistrict, Aliases: []string{"อำเภอ", "district"}},
		{Field: models.FieldProvince, Aliases: []string{"จังหวัด", "province"}},
		{Field: models.FieldScheduled, Aliases: []string{"มาตามนัด", "นัด", "scheduled"}},
	},
	FirstColumnFallback: models.FieldVisitDate,
}

// PM25Schema is the monthly PM2.5 sheet
var PM25Schema = Schema{
	Table: "pm25_monthly",
	Fields: []FieldSpec{
		{Field: models.FieldMonth, Aliases: []string{"เดือน", "month"}, Required: true},
		{Field: models.FieldPM25, Aliases: []string{"PM2.5 (ug/m3)", "PM2.5", "pm25"}, Required: true},
	},
}

// RealtimeSchema is the real-time PM2.5 sheet
var RealtimeSchema = Schema{
	Table: "pm25_realtime",
	Fields: []FieldSpec{
		{Field: models.FieldTimestamp, Aliases: []string{"Timestamp", "เวลา"}, Required: true},
		{Field: models.FieldPM25, Aliases: []string{"PM2.5 (ug/m3)", "PM2.5", "pm25"}, Required: true},
	},
}

// Mapping binds canonical fields to the header names found in a table
type Mapping struct {
	schema  Schema
	columns map[string]string
}

// Map resolves the schema against the table headers. Aliases match after
// trimming, case-insensitively. A *models.MissingColumnError is returned
// when a required field has no column.
func (s Schema) Map(t *Table) (*Mapping, error) {
	headers := t.Columns()
	byName := make(map[string]string, len(headers))
	for _, h := range headers {
		key := normalizeHeader(h)
		if _, exists := byName[key]; !exists {
			byName[key] = h
		}
	}

	m := &Mapping{schema: s, columns: make(map[string]string)}
	var missing []string
	for _, f := range s.Fields {
		for _, alias := range f.Aliases {
			if h, ok := byName[normalizeHeader(alias)]; ok {
				m.columns[f.Field] = h
				break
			}
		}
		if _, ok := m.columns[f.Field]; !ok && f.Field == s.FirstColumnFallback && len(headers) > 0 {
			m.columns[f.Field] = headers[0]
		}
		if _, ok := m.columns[f.Field]; !ok && f.Required {
			missing = append(missing, f.Aliases[0])
		}
	}

	if len(missing) > 0 {
		return m, &models.MissingColumnError{Table: s.Table, Columns: missing}
	}
	return m, nil
}

func normalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

// Has reports whether the field was found
func (m *Mapping) Has(field string) bool {
	if m == nil {
		return false
	}
	_, ok := m.columns[field]
	return ok
}

// Fields returns the set of canonical fields that were found
func (m *Mapping) Fields() map[string]bool {
	out := make(map[string]bool)
	if m == nil {
		return out
	}
	for f := range m.columns {
		out[f] = true
	}
	return out
}

// MissingOptional returns the header names of optional fields that were not found, sorted
func (m *Mapping) MissingOptional() []string {
	var out []string
	for _, f := range m.schema.Fields {
		if !f.Required && !m.Has(f.Field) {
			out = append(out, f.Aliases[0])
		}
	}
	sort.Strings(out)
	return out
}

// column returns the cells of field, or a slice of n empty strings when absent
func (m *Mapping) column(t *Table, field string, n int) []string {
	if h, ok := m.columns[field]; ok {
		if cells := t.Column(h); len(cells) == n {
			return cells
		}
	}
	return make([]string, n)
}

// ExtractVisits converts a mapped patient table into raw visit rows.
// Row numbers are 1-based data rows.
func ExtractVisits(t *Table, m *Mapping) []models.RawVisit {
	n := t.Len()
	dates := m.column(t, models.FieldVisitDate, n)
	hns := m.column(t, models.FieldHN, n)
	groups := m.column(t, models.FieldDiseaseGroup, n)
	vulnerable := m.column(t, models.FieldVulnerableGroup, n)
	icd10 := m.column(t, models.FieldICD10, n)
	subDistricts := m.column(t, models.FieldSubDistrict, n)
	districts := m.column(t, models.FieldDistrict, n)
	provinces := m.column(t, models.FieldProvince, n)
	scheduled := m.column(t, models.FieldScheduled, n)

	out := make([]models.RawVisit, n)
	for i := 0; i < n; i++ {
		out[i] = models.RawVisit{
			Row:             i + 1,
			VisitDate:       dates[i],
			HN:              hns[i],
			DiseaseGroup:    groups[i],
			VulnerableGroup: vulnerable[i],
			ICD10:           icd10[i],
			SubDistrict:     subDistricts[i],
			District:        districts[i],
			Province:        provinces[i],
			Scheduled:       scheduled[i],
		}
	}
	return out
}

// ExtractReadings converts a mapped monthly PM2.5 table into raw rows
func ExtractReadings(t *Table, m *Mapping) []models.RawReading {
	n := t.Len()
	months := m.column(t, models.FieldMonth, n)
	values := m.column(t, models.FieldPM25, n)

	out := make([]models.RawReading, n)
	for i := 0; i < n; i++ {
		out[i] = models.RawReading{Row: i + 1, Month: months[i], PM25: values[i]}
	}
	return out
}

// ExtractSamples converts a mapped real-time PM2.5 table into raw rows
func ExtractSamples(t *Table, m *Mapping) []models.RawSample {
	n := t.Len()
	stamps := m.column(t, models.FieldTimestamp, n)
	values := m.column(t, models.FieldPM25, n)

	out := make([]models.RawSample, n)
	for i := 0; i < n; i++ {
		out[i] = models.RawSample{Row: i + 1, Timestamp: stamps[i], PM25: values[i]}
	}
	return out
}
