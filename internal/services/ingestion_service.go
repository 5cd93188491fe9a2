package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"pm25-surveillance/internal/models"
	"pm25-surveillance/internal/repository"
	"pm25-surveillance/internal/source"
	"pm25-surveillance/pkg/logging"
	"pm25-surveillance/pkg/metrics"
)

// IngestionService copies the sheets into PostgreSQL
type IngestionService struct {
	loader  *SheetsLoader
	repo    repository.SurveillanceRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// IngestionResult contains ingestion statistics
type IngestionResult struct {
	Visits        int
	Readings      int
	Samples       int
	DroppedRows   int
	SkippedTables []string
	Notices       []models.Notice
	Duration      time.Duration
	RunID         int64
}

// NewIngestionService creates a new ingestion service
func NewIngestionService(loader *SheetsLoader, repo repository.SurveillanceRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *IngestionService {
	return &IngestionService{
		loader:  loader,
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Ingest loads every sheet and stores what could be read. A sheet that could
// not be fetched or mapped leaves its stored table untouched, so one outage
// never wipes previously ingested data.
func (s *IngestionService) Ingest(ctx context.Context) (*IngestionResult, error) {
	startTime := time.Now()

	s.logger.Info(ctx, "[INGEST_START] Starting sheet ingestion", logging.Fields{
		"stage": "INITIALIZATION",
	})

	ds, outcome := s.loader.load(ctx, LoadOptions{})
	result := &IngestionResult{Notices: ds.Notices}
	for _, report := range outcome.reports {
		result.DroppedRows += report.DroppedTotal()
	}
	for table := range outcome.failed {
		result.SkippedTables = append(result.SkippedTables, table)
	}
	sort.Strings(result.SkippedTables)

	s.logger.Info(ctx, "[INGEST_LOADED] Sheets loaded", logging.Fields{
		"visits":         len(ds.Visits),
		"readings":       len(ds.Readings),
		"samples":        len(ds.Samples),
		"dropped_rows":   result.DroppedRows,
		"skipped_tables": result.SkippedTables,
		"stage":          "LOAD",
	})

	if !outcome.failed[source.PatientSchema.Table] {
		n, err := s.repo.ReplaceVisits(ctx, ds.Visits)
		if err != nil {
			return nil, fmt.Errorf("failed to store visits: %w", err)
		}
		result.Visits = n
	}

	if !outcome.failed[source.PM25Schema.Table] {
		n, err := s.repo.ReplaceReadings(ctx, ds.Readings)
		if err != nil {
			return nil, fmt.Errorf("failed to store readings: %w", err)
		}
		result.Readings = n
	}

	if len(ds.Samples) > 0 {
		n, err := s.repo.UpsertSamples(ctx, ds.Samples)
		if err != nil {
			return nil, fmt.Errorf("failed to store samples: %w", err)
		}
		result.Samples = n
	}

	run := &models.IngestionRun{
		StartedAt:    startTime.UTC(),
		FinishedAt:   time.Now().UTC(),
		VisitCount:   result.Visits,
		ReadingCount: result.Readings,
		SampleCount:  result.Samples,
		DroppedRows:  result.DroppedRows,
	}
	for field := range ds.PatientFields {
		run.PatientFields = append(run.PatientFields, field)
	}
	sort.Strings(run.PatientFields)
	for _, n := range ds.Notices {
		run.Notices = append(run.Notices, n.Message)
	}

	// Keep the previous run's column set when the patient sheet was skipped
	if outcome.failed[source.PatientSchema.Table] {
		if prev, err := s.repo.LatestIngestionRun(ctx); err == nil {
			run.PatientFields = prev.PatientFields
		}
	}

	if err := s.repo.RecordIngestionRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record ingestion run: %w", err)
	}
	result.RunID = run.ID

	result.Duration = time.Since(startTime)
	s.metrics.IngestionDuration.Observe(result.Duration.Seconds())

	s.logger.Info(ctx, "[INGEST_COMPLETE] Sheet ingestion completed", logging.Fields{
		"run_id":           result.RunID,
		"visits":           result.Visits,
		"readings":         result.Readings,
		"samples":          result.Samples,
		"dropped_rows":     result.DroppedRows,
		"notice_count":     len(result.Notices),
		"duration_seconds": result.Duration.Seconds(),
		"stage":            "COMPLETE",
	})

	return result, nil
}
