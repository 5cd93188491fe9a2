package services

import (
	"context"
	"fmt"

	"pm25-surveillance/internal/dashboard"
	"pm25-surveillance/internal/models"
	"pm25-surveillance/internal/pipeline"
	"pm25-surveillance/pkg/logging"
	"pm25-surveillance/pkg/metrics"
)

// DashboardService renders dashboard pages from the configured data source
type DashboardService struct {
	loader  DatasetLoader
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewDashboardService creates a new dashboard service
func NewDashboardService(loader DatasetLoader, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *DashboardService {
	return &DashboardService{
		loader:  loader,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Render validates the state, loads the dataset and builds the page view.
// Only an invalid state or an unavailable data source is an error.
func (s *DashboardService) Render(ctx context.Context, state dashboard.AppState) (*dashboard.View, error) {
	if err := state.Validate(); err != nil {
		return nil, err
	}
	ctx = logging.WithPage(ctx, string(state.Page))

	ds, err := s.loader.Load(ctx, LoadOptions{ExcludeScheduled: state.ExcludeScheduled})
	if err != nil {
		s.logger.Error(ctx, "[DASHBOARD_LOAD_ERROR] Failed to load dataset", logging.Fields{
			"page": string(state.Page),
		}, err)
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}

	timer := s.metrics.TimePipeline("build_" + string(state.Page))
	view := dashboard.Build(state, ds)
	duration := timer.ObserveDuration()

	s.logger.Debug(ctx, "[DASHBOARD_RENDER] Page built", logging.Fields{
		"page":             string(view.Page),
		"lag":              state.LagMonths,
		"rows":             len(view.Rows),
		"notices":          len(view.Notices),
		"duration_seconds": duration.Seconds(),
	})
	return view, nil
}

// Monthly returns the overview's monthly joined table with its notices
func (s *DashboardService) Monthly(ctx context.Context, state dashboard.AppState) ([]models.MonthlyRow, []models.Notice, error) {
	state.Page = dashboard.PageOverview
	view, err := s.Render(ctx, state)
	if err != nil {
		return nil, nil, err
	}
	return view.Rows, view.Notices, nil
}

// Current returns the newest real-time sample with its AQI band. The sample
// is nil when the real-time sheet is empty or unavailable.
func (s *DashboardService) Current(ctx context.Context) (*pipeline.CurrentPM25, []models.Notice, error) {
	state := dashboard.DefaultState()
	state.Page = dashboard.PageRealtime
	view, err := s.Render(ctx, state)
	if err != nil {
		return nil, nil, err
	}
	return view.Current, view.Notices, nil
}

// HealthCheck reports whether the data source is reachable
func (s *DashboardService) HealthCheck(ctx context.Context) error {
	return s.loader.HealthCheck(ctx)
}
