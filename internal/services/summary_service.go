package services

import (
	"context"
	"fmt"
	"time"

	"pm25-surveillance/internal/models"
	"pm25-surveillance/internal/pipeline"
	"pm25-surveillance/internal/repository"
	"pm25-surveillance/pkg/logging"
	"pm25-surveillance/pkg/metrics"
)

// SummaryService materialises per-month, per-group summaries
type SummaryService struct {
	loader  DatasetLoader
	repo    repository.SurveillanceRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewSummaryService creates a new summary service
func NewSummaryService(loader DatasetLoader, repo repository.SurveillanceRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *SummaryService {
	return &SummaryService{
		loader:  loader,
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// BuildSummaries computes one summary per (month, disease group) with visits.
// Re-attendance counts are zero when the dataset has no HN column.
func BuildSummaries(ds *models.Dataset, lookbackDays int, now time.Time) ([]models.MonthlySummary, error) {
	if err := pipeline.ValidateLookback(lookbackDays); err != nil {
		return nil, err
	}

	type key struct {
		month models.MonthKey
		group string
	}
	reattendance := make(map[key]int)
	if ds.HasPatientField(models.FieldHN) {
		intervals, _, err := pipeline.ComputeIntervals(ds.Visits, lookbackDays)
		if err != nil {
			return nil, err
		}
		for _, c := range pipeline.CountReattendanceByMonth(intervals, true) {
			reattendance[key{c.Month, c.Group}] = c.Count
		}
	}

	pm := make(map[models.MonthKey]float64, len(ds.Readings))
	for _, r := range ds.Readings {
		pm[r.Month] = r.Value
	}

	counts := pipeline.CountByMonth(ds.Visits, pipeline.GroupDisease)
	summaries := make([]models.MonthlySummary, 0, len(counts))
	for _, c := range counts {
		s := models.MonthlySummary{
			MonthKey:          c.Month.String(),
			DiseaseGroup:      c.Group,
			VisitCount:        c.Count,
			ReattendanceCount: reattendance[key{c.Month, c.Group}],
			LookbackDays:      lookbackDays,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if v, ok := pm[c.Month]; ok {
			s.PM25Value = models.FloatPtr(v)
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// Materialize recomputes every monthly summary and replaces the stored set,
// so (month, group) pairs that no longer occur are removed
func (s *SummaryService) Materialize(ctx context.Context, lookbackDays int) (int, error) {
	startTime := time.Now()

	s.logger.Info(ctx, "[SUMMARY_START] Starting summary materialisation", logging.Fields{
		"lookback_days": lookbackDays,
		"stage":         "INITIALIZATION",
	})

	ds, err := s.loader.Load(ctx, LoadOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to load dataset: %w", err)
	}

	timer := s.metrics.TimePipeline("build_summaries")
	summaries, err := BuildSummaries(ds, lookbackDays, time.Now().UTC())
	timer.ObserveDuration()
	if err != nil {
		return 0, err
	}

	n, err := s.repo.ReplaceSummaries(ctx, summaries)
	if err != nil {
		s.logger.Error(ctx, "[SUMMARY_SAVE_ERROR] Failed to save summaries", logging.Fields{
			"count": len(summaries),
		}, err)
		return 0, fmt.Errorf("failed to save summaries: %w", err)
	}

	s.logger.Info(ctx, "[SUMMARY_COMPLETE] Summary materialisation completed", logging.Fields{
		"total_summaries":  n,
		"notice_count":     len(ds.Notices),
		"duration_seconds": time.Since(startTime).Seconds(),
		"stage":            "COMPLETE",
	})

	return n, nil
}

// ListSummaries retrieves stored summaries with filtering
func (s *SummaryService) ListSummaries(ctx context.Context, filter repository.SummaryFilter) ([]models.MonthlySummary, int, error) {
	return s.repo.ListSummaries(ctx, filter)
}
