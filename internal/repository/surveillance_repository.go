package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"pm25-surveillance/internal/models"
	"pm25-surveillance/pkg/database"
	"pm25-surveillance/pkg/logging"
	"pm25-surveillance/pkg/metrics"
)

// SurveillanceRepository provides data access for ingested sheets and summaries
type SurveillanceRepository interface {
	// Visit operations
	ReplaceVisits(ctx context.Context, visits []models.PatientVisit) (int, error)
	ListVisits(ctx context.Context, filter VisitFilter) ([]models.PatientVisit, error)

	// PM2.5 operations
	ReplaceReadings(ctx context.Context, readings []models.PM25Reading) (int, error)
	ListReadings(ctx context.Context) ([]models.PM25Reading, error)
	UpsertSamples(ctx context.Context, samples []models.PM25Sample) (int, error)
	ListSamples(ctx context.Context, limit int) ([]models.PM25Sample, error)
	LatestSample(ctx context.Context) (*models.PM25Sample, error)

	// Summary operations
	ReplaceSummaries(ctx context.Context, summaries []models.MonthlySummary) (int, error)
	ListSummaries(ctx context.Context, filter SummaryFilter) ([]models.MonthlySummary, int, error)
	GetSummary(ctx context.Context, month models.MonthKey, group string) (*models.MonthlySummary, error)

	// Ingestion bookkeeping
	RecordIngestionRun(ctx context.Context, run *models.IngestionRun) error
	LatestIngestionRun(ctx context.Context) (*models.IngestionRun, error)

	// Utility operations
	HealthCheck(ctx context.Context) error
}

// VisitFilter narrows ListVisits by inclusive visit-date bounds
type VisitFilter struct {
	From *time.Time
	To   *time.Time
}

// SummaryFilter defines filters for querying monthly summaries
type SummaryFilter struct {
	From         *models.MonthKey
	To           *models.MonthKey
	DiseaseGroup *string
	Limit        int
	Offset       int
}

// surveillanceRepository implements SurveillanceRepository
type surveillanceRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewSurveillanceRepository creates a new surveillance repository
func NewSurveillanceRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) SurveillanceRepository {
	return &surveillanceRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// visitRow is the patient_visits column layout
type visitRow struct {
	HN              string    `db:"hn"`
	VisitDate       time.Time `db:"visit_date"`
	DiseaseGroup    string    `db:"disease_group"`
	VulnerableGroup string    `db:"vulnerable_group"`
	ICD10Codes      string    `db:"icd10_codes"`
	SubDistrict     string    `db:"sub_district"`
	District        string    `db:"district"`
	Province        string    `db:"province"`
	Scheduled       bool      `db:"scheduled"`
	SourceRow       int       `db:"source_row"`
}

func (r visitRow) toModel() models.PatientVisit {
	date := time.Date(r.VisitDate.Year(), r.VisitDate.Month(), r.VisitDate.Day(), 0, 0, 0, 0, time.UTC)
	var codes []string
	for _, c := range strings.Split(r.ICD10Codes, ",") {
		if c = strings.TrimSpace(c); c != "" {
			codes = append(codes, c)
		}
	}
	return models.PatientVisit{
		HN:              r.HN,
		VisitDate:       date,
		Month:           models.NewMonthKey(date),
		DiseaseGroup:    r.DiseaseGroup,
		VulnerableGroup: r.VulnerableGroup,
		ICD10Codes:      codes,
		SubDistrict:     r.SubDistrict,
		District:        r.District,
		Province:        r.Province,
		Scheduled:       r.Scheduled,
		SourceRow:       r.SourceRow,
	}
}

// ReplaceVisits swaps the stored visits for a fresh sheet snapshot in one transaction
func (r *surveillanceRepository) ReplaceVisits(ctx context.Context, visits []models.PatientVisit) (int, error) {
	timer := time.Now()
	defer func() {
		duration := time.Since(timer)
		r.metrics.IngestionBatchSize.Observe(float64(len(visits)))
		r.logger.Debug(ctx, "[REPO_REPLACE_VISITS] Visits replaced", logging.Fields{
			"count":       len(visits),
			"duration_ms": duration.Milliseconds(),
		})
	}()

	err := r.db.WithTx(ctx, "replace_visits", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM patient_visits`); err != nil {
			return fmt.Errorf("failed to clear visits: %w", err)
		}
		if len(visits) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("patient_visits",
			"hn", "visit_date", "month_key", "disease_group", "vulnerable_group",
			"icd10_codes", "sub_district", "district", "province", "scheduled", "source_row",
		))
		if err != nil {
			return fmt.Errorf("failed to prepare copy: %w", err)
		}
		defer stmt.Close()

		for _, v := range visits {
			_, err := stmt.ExecContext(ctx,
				v.HN,
				v.VisitDate,
				models.NewMonthKey(v.VisitDate).String(),
				v.DiseaseGroup,
				v.VulnerableGroup,
				strings.Join(v.ICD10Codes, ","),
				v.SubDistrict,
				v.District,
				v.Province,
				v.Scheduled,
				v.SourceRow,
			)
			if err != nil {
				return fmt.Errorf("failed to copy visit row %d: %w", v.SourceRow, err)
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			return fmt.Errorf("failed to flush copy: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.metrics.RecordIngested("patient_visits", len(visits))
	return len(visits), nil
}

// ListVisits returns stored visits ordered by date then HN
func (r *surveillanceRepository) ListVisits(ctx context.Context, filter VisitFilter) ([]models.PatientVisit, error) {
	query := `
		SELECT hn, visit_date, disease_group, vulnerable_group, icd10_codes,
		       sub_district, district, province, scheduled, source_row
		FROM patient_visits
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.From != nil {
		query += fmt.Sprintf(" AND visit_date >= $%d", argNum)
		args = append(args, *filter.From)
		argNum++
	}

	if filter.To != nil {
		query += fmt.Sprintf(" AND visit_date <= $%d", argNum)
		args = append(args, *filter.To)
		argNum++
	}

	query += " ORDER BY visit_date, hn, source_row"

	var rows []visitRow
	if err := r.db.SelectContext(ctx, "list_visits", &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list visits: %w", err)
	}

	visits := make([]models.PatientVisit, len(rows))
	for i, row := range rows {
		visits[i] = row.toModel()
	}
	return visits, nil
}

// ReplaceReadings makes the stored monthly PM2.5 values match a sheet
// snapshot: months in the snapshot are upserted and every other month is
// deleted, in one transaction
func (r *surveillanceRepository) ReplaceReadings(ctx context.Context, readings []models.PM25Reading) (int, error) {
	var pruned int64
	err := r.db.WithTx(ctx, "replace_readings", func(tx *sqlx.Tx) error {
		keys := make([]string, len(readings))
		for i, rd := range readings {
			keys[i] = rd.Month.String()
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM pm25_readings WHERE NOT (month_key = ANY($1))`, pq.Array(keys))
		if err != nil {
			return fmt.Errorf("failed to prune readings: %w", err)
		}
		pruned, _ = res.RowsAffected()
		if len(readings) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO pm25_readings (month_key, pm25_value, created_at, updated_at)
			VALUES ($1, $2, NOW(), NOW())
			ON CONFLICT (month_key) DO UPDATE SET
				pm25_value = EXCLUDED.pm25_value,
				updated_at = EXCLUDED.updated_at
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, rd := range readings {
			if _, err := stmt.ExecContext(ctx, rd.Month.String(), rd.Value); err != nil {
				return fmt.Errorf("failed to upsert reading %s: %w", rd.Month, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.logger.Debug(ctx, "[REPO_REPLACE_READINGS] Readings replaced", logging.Fields{
		"count":  len(readings),
		"pruned": pruned,
	})
	r.metrics.RecordIngested("pm25_readings", len(readings))
	return len(readings), nil
}

// ListReadings returns every stored monthly reading ordered by month
func (r *surveillanceRepository) ListReadings(ctx context.Context) ([]models.PM25Reading, error) {
	var rows []struct {
		MonthKey  string  `db:"month_key"`
		PM25Value float64 `db:"pm25_value"`
	}
	query := `SELECT month_key, pm25_value FROM pm25_readings ORDER BY month_key`
	if err := r.db.SelectContext(ctx, "list_readings", &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list readings: %w", err)
	}

	readings := make([]models.PM25Reading, 0, len(rows))
	for _, row := range rows {
		month, err := models.ParseMonthKey(row.MonthKey)
		if err != nil {
			return nil, fmt.Errorf("stored reading has invalid month %q: %w", row.MonthKey, err)
		}
		readings = append(readings, models.PM25Reading{Month: month, Value: row.PM25Value})
	}
	return readings, nil
}

// UpsertSamples stores real-time samples keyed by measurement time
func (r *surveillanceRepository) UpsertSamples(ctx context.Context, samples []models.PM25Sample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	err := r.db.WithTx(ctx, "upsert_samples", func(tx *sqlx.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO pm25_samples (measured_at, pm25_value)
			VALUES ($1, $2)
			ON CONFLICT (measured_at) DO UPDATE SET pm25_value = EXCLUDED.pm25_value
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, s := range samples {
			if _, err := stmt.ExecContext(ctx, s.Timestamp, s.Value); err != nil {
				return fmt.Errorf("failed to upsert sample: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.metrics.RecordIngested("pm25_samples", len(samples))
	return len(samples), nil
}

type sampleRow struct {
	MeasuredAt time.Time `db:"measured_at"`
	PM25Value  float64   `db:"pm25_value"`
}

// ListSamples returns the newest samples, oldest first. limit <= 0 returns all.
func (r *surveillanceRepository) ListSamples(ctx context.Context, limit int) ([]models.PM25Sample, error) {
	query := `SELECT measured_at, pm25_value FROM pm25_samples ORDER BY measured_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	var rows []sampleRow
	if err := r.db.SelectContext(ctx, "list_samples", &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list samples: %w", err)
	}

	samples := make([]models.PM25Sample, len(rows))
	for i, row := range rows {
		samples[len(rows)-1-i] = models.PM25Sample{Timestamp: row.MeasuredAt, Value: row.PM25Value}
	}
	return samples, nil
}

// LatestSample returns the newest real-time sample
func (r *surveillanceRepository) LatestSample(ctx context.Context) (*models.PM25Sample, error) {
	var row sampleRow
	query := `SELECT measured_at, pm25_value FROM pm25_samples ORDER BY measured_at DESC LIMIT 1`
	err := r.db.GetContext(ctx, "latest_sample", &row, query)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{
			Resource: "pm25_sample",
			ID:       "latest",
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get latest sample: %w", err)
	}

	return &models.PM25Sample{Timestamp: row.MeasuredAt, Value: row.PM25Value}, nil
}

// ReplaceSummaries makes the stored summaries match a fresh materialisation.
// Pairs in the snapshot are upserted, keeping their IDs, and every other
// (month, group) pair is deleted in the same transaction.
func (r *surveillanceRepository) ReplaceSummaries(ctx context.Context, summaries []models.MonthlySummary) (int, error) {
	var pruned int64
	err := r.db.WithTx(ctx, "replace_summaries", func(tx *sqlx.Tx) error {
		months := make([]string, len(summaries))
		groups := make([]string, len(summaries))
		for i, s := range summaries {
			months[i] = s.MonthKey
			groups[i] = s.DiseaseGroup
		}
		res, err := tx.ExecContext(ctx, `
			DELETE FROM monthly_summaries s
			WHERE NOT EXISTS (
				SELECT 1 FROM unnest($1::text[], $2::text[]) AS k(month_key, disease_group)
				WHERE k.month_key = s.month_key AND k.disease_group = s.disease_group
			)
		`, pq.Array(months), pq.Array(groups))
		if err != nil {
			return fmt.Errorf("failed to prune summaries: %w", err)
		}
		pruned, _ = res.RowsAffected()
		if len(summaries) == 0 {
			return nil
		}

		stmt, err := tx.PrepareNamedContext(ctx, `
			INSERT INTO monthly_summaries (
				month_key, disease_group, visit_count, reattendance_count,
				lookback_days, pm25_value, created_at, updated_at
			)
			VALUES (
				:month_key, :disease_group, :visit_count, :reattendance_count,
				:lookback_days, :pm25_value, :created_at, :updated_at
			)
			ON CONFLICT (month_key, disease_group) DO UPDATE SET
				visit_count = EXCLUDED.visit_count,
				reattendance_count = EXCLUDED.reattendance_count,
				lookback_days = EXCLUDED.lookback_days,
				pm25_value = EXCLUDED.pm25_value,
				updated_at = EXCLUDED.updated_at
			RETURNING id
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for i := range summaries {
			if err := stmt.GetContext(ctx, &summaries[i].ID, summaries[i]); err != nil {
				return fmt.Errorf("failed to upsert summary %s/%s: %w",
					summaries[i].MonthKey, summaries[i].DiseaseGroup, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.logger.Debug(ctx, "[REPO_REPLACE_SUMMARIES] Summaries replaced", logging.Fields{
		"count":  len(summaries),
		"pruned": pruned,
	})
	r.metrics.RecordIngested("monthly_summaries", len(summaries))
	return len(summaries), nil
}

const summaryColumns = `
	id, month_key, disease_group, visit_count, reattendance_count,
	lookback_days, pm25_value, created_at, updated_at
`

// ListSummaries retrieves monthly summaries with filtering and pagination
func (r *surveillanceRepository) ListSummaries(ctx context.Context, filter SummaryFilter) ([]models.MonthlySummary, int, error) {
	query := `SELECT ` + summaryColumns + ` FROM monthly_summaries WHERE 1=1`
	args := []interface{}{}
	argNum := 1

	if filter.From != nil {
		query += fmt.Sprintf(" AND month_key >= $%d", argNum)
		args = append(args, filter.From.String())
		argNum++
	}

	if filter.To != nil {
		query += fmt.Sprintf(" AND month_key <= $%d", argNum)
		args = append(args, filter.To.String())
		argNum++
	}

	if filter.DiseaseGroup != nil {
		query += fmt.Sprintf(" AND disease_group = $%d", argNum)
		args = append(args, *filter.DiseaseGroup)
		argNum++
	}

	// Get total count
	countQuery := "SELECT COUNT(*) FROM (" + query + ") AS count_query"
	var totalCount int
	if err := r.db.GetContext(ctx, "count_summaries", &totalCount, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count summaries: %w", err)
	}

	query += " ORDER BY month_key, disease_group"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
		args = append(args, filter.Limit, filter.Offset)
	}

	var summaries []models.MonthlySummary
	if err := r.db.SelectContext(ctx, "list_summaries", &summaries, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list summaries: %w", err)
	}

	return summaries, totalCount, nil
}

// GetSummary retrieves one summary by month and disease group
func (r *surveillanceRepository) GetSummary(ctx context.Context, month models.MonthKey, group string) (*models.MonthlySummary, error) {
	query := `SELECT ` + summaryColumns + ` FROM monthly_summaries WHERE month_key = $1 AND disease_group = $2`

	var summary models.MonthlySummary
	err := r.db.GetContext(ctx, "get_summary", &summary, query, month.String(), group)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{
			Resource: "monthly_summary",
			ID:       fmt.Sprintf("%s:%s", month, group),
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}

	return &summary, nil
}

type ingestionRunRow struct {
	ID            int64          `db:"id"`
	StartedAt     time.Time      `db:"started_at"`
	FinishedAt    time.Time      `db:"finished_at"`
	VisitCount    int            `db:"visit_count"`
	ReadingCount  int            `db:"reading_count"`
	SampleCount   int            `db:"sample_count"`
	DroppedRows   int            `db:"dropped_rows"`
	PatientFields pq.StringArray `db:"patient_fields"`
	Notices       pq.StringArray `db:"notices"`
}

// RecordIngestionRun stores the outcome of an ingestion and sets run.ID
func (r *surveillanceRepository) RecordIngestionRun(ctx context.Context, run *models.IngestionRun) error {
	query := `
		INSERT INTO ingestion_runs (
			started_at, finished_at, visit_count, reading_count, sample_count,
			dropped_rows, patient_fields, notices
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	err := r.db.DB().QueryRowContext(ctx, query,
		run.StartedAt,
		run.FinishedAt,
		run.VisitCount,
		run.ReadingCount,
		run.SampleCount,
		run.DroppedRows,
		pq.Array(run.PatientFields),
		pq.Array(run.Notices),
	).Scan(&run.ID)

	if err != nil {
		r.metrics.RecordDBError("insert_error")
		return fmt.Errorf("failed to record ingestion run: %w", err)
	}

	return nil
}

// LatestIngestionRun returns the most recent ingestion run
func (r *surveillanceRepository) LatestIngestionRun(ctx context.Context) (*models.IngestionRun, error) {
	query := `
		SELECT id, started_at, finished_at, visit_count, reading_count, sample_count,
		       dropped_rows, patient_fields, notices
		FROM ingestion_runs
		ORDER BY finished_at DESC, id DESC
		LIMIT 1
	`

	var row ingestionRunRow
	err := r.db.GetContext(ctx, "latest_ingestion_run", &row, query)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{
			Resource: "ingestion_run",
			ID:       "latest",
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get latest ingestion run: %w", err)
	}

	return &models.IngestionRun{
		ID:            row.ID,
		StartedAt:     row.StartedAt,
		FinishedAt:    row.FinishedAt,
		VisitCount:    row.VisitCount,
		ReadingCount:  row.ReadingCount,
		SampleCount:   row.SampleCount,
		DroppedRows:   row.DroppedRows,
		PatientFields: []string(row.PatientFields),
		Notices:       []string(row.Notices),
	}, nil
}

// HealthCheck performs a repository health check
func (r *surveillanceRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) IsTransient() bool {
	return false
}
