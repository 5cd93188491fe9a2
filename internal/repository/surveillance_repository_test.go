package repository

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/prometheus/client_golang/prometheus"

	"pm25-surveillance/internal/models"
	"pm25-surveillance/migrations"
	"pm25-surveillance/pkg/database"
	"pm25-surveillance/pkg/logging"
	"pm25-surveillance/pkg/metrics"
)

const testPort = 15433

// setupRepository starts an embedded PostgreSQL, applies the schema and
// returns a repository bound to it. Set PM25_PG_INTEGRATION=1 to run.
func setupRepository(t *testing.T) SurveillanceRepository {
	t.Helper()
	if os.Getenv("PM25_PG_INTEGRATION") != "1" {
		t.Skip("set PM25_PG_INTEGRATION=1 to run PostgreSQL integration tests")
	}

	pg := embeddedpostgres.NewDatabase(embeddedpostgres.DefaultConfig().
		Username("test").
		Password("test").
		Database("test").
		Port(testPort).
		RuntimePath(t.TempDir()).
		StartTimeout(60 * time.Second))
	if err := pg.Start(); err != nil {
		t.Fatalf("Failed to start embedded postgres: %v", err)
	}
	t.Cleanup(func() { pg.Stop() })

	logger := logging.NewStructuredLoggerWithFormat("test", "test", logging.ErrorLevel, logging.FormatJSON, io.Discard)
	collector := metrics.NewCollector("test", prometheus.NewRegistry())

	db, err := database.NewPostgresDB(&database.Config{
		Host:            "localhost",
		Port:            testPort,
		User:            "test",
		Password:        "test",
		Database:        "test",
		SSLMode:         "disable",
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
		ConnMaxIdleTime: time.Minute,
	}, logger, collector)
	if err != nil {
		t.Fatalf("NewPostgresDB() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	scripts, err := migrations.Scripts(migrations.Up)
	if err != nil {
		t.Fatalf("Scripts() error = %v", err)
	}
	for _, s := range scripts {
		if _, err := db.DB().Exec(s.SQL); err != nil {
			t.Fatalf("migration %s failed: %v", s.Name, err)
		}
	}

	return NewSurveillanceRepository(db, logger, collector)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func mustMonth(t *testing.T, s string) models.MonthKey {
	t.Helper()
	k, err := models.ParseMonthKey(s)
	if err != nil {
		t.Fatalf("ParseMonthKey(%q) error = %v", s, err)
	}
	return k
}

func TestSurveillanceRepository_Integration(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	t.Run("replace visits", func(t *testing.T) {
		first := []models.PatientVisit{
			{HN: "001", VisitDate: date(2024, 1, 5), DiseaseGroup: models.GroupRespiratory, ICD10Codes: []string{"J44.0", "I10"}, SourceRow: 1},
			{HN: "002", VisitDate: date(2024, 2, 9), DiseaseGroup: models.UnclassifiedGroup, Scheduled: true, SourceRow: 2},
		}
		if n, err := repo.ReplaceVisits(ctx, first); err != nil || n != 2 {
			t.Fatalf("ReplaceVisits() = %d, %v", n, err)
		}

		second := first[:1]
		if _, err := repo.ReplaceVisits(ctx, second); err != nil {
			t.Fatalf("ReplaceVisits() error = %v", err)
		}

		visits, err := repo.ListVisits(ctx, VisitFilter{})
		if err != nil {
			t.Fatalf("ListVisits() error = %v", err)
		}
		if len(visits) != 1 {
			t.Fatalf("len(visits) = %d, want snapshot replaced", len(visits))
		}
		v := visits[0]
		if v.HN != "001" || !v.VisitDate.Equal(date(2024, 1, 5)) || v.Month.String() != "2024-01" {
			t.Errorf("visit = %+v", v)
		}
		if len(v.ICD10Codes) != 2 || v.ICD10Codes[1] != "I10" {
			t.Errorf("ICD10Codes = %v", v.ICD10Codes)
		}

		from := date(2024, 2, 1)
		filtered, err := repo.ListVisits(ctx, VisitFilter{From: &from})
		if err != nil || len(filtered) != 0 {
			t.Errorf("ListVisits(from Feb) = %v, %v", filtered, err)
		}
	})

	t.Run("replace readings", func(t *testing.T) {
		readings := []models.PM25Reading{
			{Month: mustMonth(t, "2024-01"), Value: 30},
			{Month: mustMonth(t, "2024-02"), Value: 45.5},
		}
		if _, err := repo.ReplaceReadings(ctx, readings); err != nil {
			t.Fatalf("ReplaceReadings() error = %v", err)
		}
		if _, err := repo.ReplaceReadings(ctx, []models.PM25Reading{{Month: mustMonth(t, "2024-01"), Value: 31}}); err != nil {
			t.Fatalf("ReplaceReadings() error = %v", err)
		}

		got, err := repo.ListReadings(ctx)
		if err != nil {
			t.Fatalf("ListReadings() error = %v", err)
		}
		if len(got) != 1 || got[0].Value != 31 || got[0].Month.String() != "2024-01" {
			t.Errorf("readings = %+v, want February removed", got)
		}
	})

	t.Run("samples", func(t *testing.T) {
		if _, err := repo.LatestSample(ctx); !errors.As(err, new(*NotFoundError)) {
			t.Errorf("LatestSample() on empty table error = %v, want NotFoundError", err)
		}
		samples := []models.PM25Sample{
			{Timestamp: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), Value: 20},
			{Timestamp: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), Value: 80},
		}
		if _, err := repo.UpsertSamples(ctx, samples); err != nil {
			t.Fatalf("UpsertSamples() error = %v", err)
		}
		latest, err := repo.LatestSample(ctx)
		if err != nil || latest.Value != 80 {
			t.Errorf("LatestSample() = %+v, %v", latest, err)
		}
		listed, err := repo.ListSamples(ctx, 1)
		if err != nil || len(listed) != 1 || listed[0].Value != 80 {
			t.Errorf("ListSamples(1) = %+v, %v", listed, err)
		}
	})

	t.Run("summaries", func(t *testing.T) {
		now := time.Now().UTC()
		summaries := []models.MonthlySummary{
			{MonthKey: "2024-01", DiseaseGroup: models.GroupRespiratory, VisitCount: 10, ReattendanceCount: 2, LookbackDays: 30, PM25Value: models.FloatPtr(31), CreatedAt: now, UpdatedAt: now},
			{MonthKey: "2024-02", DiseaseGroup: models.GroupRespiratory, VisitCount: 12, LookbackDays: 30, CreatedAt: now, UpdatedAt: now},
		}
		if _, err := repo.ReplaceSummaries(ctx, summaries); err != nil {
			t.Fatalf("ReplaceSummaries() error = %v", err)
		}
		if summaries[0].ID == 0 {
			t.Error("ReplaceSummaries() should set IDs")
		}

		// February is reclassified: its respiratory visits become cardiovascular
		regrouped := []models.MonthlySummary{
			summaries[0],
			{MonthKey: "2024-02", DiseaseGroup: models.GroupCardiovascular, VisitCount: 12, LookbackDays: 30, CreatedAt: now, UpdatedAt: now},
		}
		firstID := summaries[0].ID
		if _, err := repo.ReplaceSummaries(ctx, regrouped); err != nil {
			t.Fatalf("ReplaceSummaries() error = %v", err)
		}
		if regrouped[0].ID != firstID {
			t.Errorf("ID = %d, want existing row %d kept", regrouped[0].ID, firstID)
		}

		if _, err := repo.GetSummary(ctx, mustMonth(t, "2024-02"), models.GroupRespiratory); !errors.As(err, new(*NotFoundError)) {
			t.Errorf("stale summary should be removed, GetSummary() error = %v", err)
		}
		got, err := repo.GetSummary(ctx, mustMonth(t, "2024-02"), models.GroupCardiovascular)
		if err != nil || got.VisitCount != 12 || got.PM25Value != nil {
			t.Errorf("GetSummary() = %+v, %v", got, err)
		}

		list, total, err := repo.ListSummaries(ctx, SummaryFilter{})
		if err != nil || total != 2 || len(list) != 2 {
			t.Errorf("ListSummaries() = %d rows, total %d, %v", len(list), total, err)
		}
		from := mustMonth(t, "2024-02")
		list, total, err = repo.ListSummaries(ctx, SummaryFilter{From: &from})
		if err != nil || total != 1 || len(list) != 1 {
			t.Errorf("ListSummaries(from Feb) = %d rows, total %d, %v", len(list), total, err)
		}

		_, err = repo.GetSummary(ctx, mustMonth(t, "2023-12"), models.GroupRespiratory)
		var nf *NotFoundError
		if !errors.As(err, &nf) || nf.IsTransient() {
			t.Errorf("GetSummary(missing) error = %v", err)
		}
	})

	t.Run("ingestion runs", func(t *testing.T) {
		run := &models.IngestionRun{
			StartedAt:     time.Now().UTC().Add(-time.Second),
			FinishedAt:    time.Now().UTC(),
			VisitCount:    1,
			ReadingCount:  2,
			PatientFields: []string{models.FieldVisitDate, models.FieldHN},
			Notices:       []string{"dropped 1 row"},
		}
		if err := repo.RecordIngestionRun(ctx, run); err != nil || run.ID == 0 {
			t.Fatalf("RecordIngestionRun() = %v, id %d", err, run.ID)
		}
		latest, err := repo.LatestIngestionRun(ctx)
		if err != nil {
			t.Fatalf("LatestIngestionRun() error = %v", err)
		}
		if latest.ID != run.ID || !latest.FieldSet()[models.FieldHN] || len(latest.Notices) != 1 {
			t.Errorf("latest run = %+v", latest)
		}
	})

	if err := repo.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestNotFoundError(t *testing.T) {
	err := &NotFoundError{Resource: "monthly_summary", ID: "2024-01:x"}
	if err.Error() != "monthly_summary not found: 2024-01:x" {
		t.Errorf("Error() = %q", err.Error())
	}
	if err.IsTransient() {
		t.Error("NotFoundError should not be transient")
	}
}
