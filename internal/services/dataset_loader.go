package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"pm25-surveillance/internal/models"
	"pm25-surveillance/internal/pipeline"
	"pm25-surveillance/internal/repository"
	"pm25-surveillance/internal/source"
	"pm25-surveillance/pkg/logging"
	"pm25-surveillance/pkg/metrics"
)

// LoadOptions are the per-request cleaning choices
type LoadOptions struct {
	ExcludeScheduled bool
}

// DatasetLoader produces the cleaned dataset for one render pass. Soft
// failures become notices on the dataset; an error means nothing could be
// produced at all.
type DatasetLoader interface {
	Load(ctx context.Context, opts LoadOptions) (*models.Dataset, error)
	HealthCheck(ctx context.Context) error
}

// TableFetcher returns a CSV table by source location
type TableFetcher interface {
	Fetch(ctx context.Context, name, location string) (*source.Table, error)
}

// SheetSources locates the three input sheets. RealtimeURL is optional.
type SheetSources struct {
	PatientURL  string
	PM25URL     string
	RealtimeURL string
}

// SheetsLoader reads the Google Sheets CSV exports through the fetcher
type SheetsLoader struct {
	fetcher TableFetcher
	sources SheetSources
	parser  *pipeline.DateParser
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewSheetsLoader creates a loader over the configured sheets
func NewSheetsLoader(fetcher TableFetcher, sources SheetSources, parser *pipeline.DateParser, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *SheetsLoader {
	return &SheetsLoader{
		fetcher: fetcher,
		sources: sources,
		parser:  parser,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Load fetches, maps and cleans every sheet. It never fails: a sheet that
// cannot be fetched or mapped contributes no rows and a notice.
func (l *SheetsLoader) Load(ctx context.Context, opts LoadOptions) (*models.Dataset, error) {
	ds, _ := l.load(ctx, opts)
	return ds, nil
}

// sheetLoad is the outcome of one sheets pass, with per-table cleaning
// reports and the tables that could not be used
type sheetLoad struct {
	reports map[string]pipeline.CleanReport
	failed  map[string]bool
}

func (l *SheetsLoader) load(ctx context.Context, opts LoadOptions) (*models.Dataset, sheetLoad) {
	timer := l.metrics.TimePipeline("load_sheets")
	defer timer.ObserveDuration()

	ds := &models.Dataset{PatientFields: map[string]bool{}, LoadedAt: l.parser.Today()}
	outcome := sheetLoad{reports: map[string]pipeline.CleanReport{}, failed: map[string]bool{}}

	if table, mapping := l.mapTable(ctx, ds, "patients", l.sources.PatientURL, source.PatientSchema); mapping != nil {
		ds.PatientFields = mapping.Fields()
		visits, report := pipeline.CleanVisits(source.ExtractVisits(table, mapping), pipeline.CleanOptions{
			Parser:           l.parser,
			ExcludeScheduled: opts.ExcludeScheduled,
		})
		ds.Visits = visits
		outcome.reports[source.PatientSchema.Table] = report
		l.reportDropped(ctx, ds, source.PatientSchema.Table, report)
		if missing := mapping.MissingOptional(); len(missing) > 0 {
			l.logger.Debug(ctx, "[LOAD_OPTIONAL_COLUMNS] Patient sheet lacks optional columns", logging.Fields{
				"missing": strings.Join(missing, ", "),
			})
		}
	} else {
		outcome.failed[source.PatientSchema.Table] = true
	}

	if table, mapping := l.mapTable(ctx, ds, "pm25", l.sources.PM25URL, source.PM25Schema); mapping != nil {
		readings, report := pipeline.CleanReadings(source.ExtractReadings(table, mapping), l.parser)
		ds.Readings = readings
		outcome.reports[source.PM25Schema.Table] = report
		l.reportDropped(ctx, ds, source.PM25Schema.Table, report)
	} else {
		outcome.failed[source.PM25Schema.Table] = true
	}

	if l.sources.RealtimeURL != "" {
		if table, mapping := l.mapTable(ctx, ds, "pm25_realtime", l.sources.RealtimeURL, source.RealtimeSchema); mapping != nil {
			samples, report := pipeline.CleanSamples(source.ExtractSamples(table, mapping), l.parser)
			ds.Samples = samples
			outcome.reports[source.RealtimeSchema.Table] = report
			l.reportDropped(ctx, ds, source.RealtimeSchema.Table, report)
		} else {
			outcome.failed[source.RealtimeSchema.Table] = true
		}
	}

	l.logger.Info(ctx, "[LOAD_COMPLETE] Dataset loaded from sheets", logging.Fields{
		"visits":   len(ds.Visits),
		"readings": len(ds.Readings),
		"samples":  len(ds.Samples),
		"notices":  len(ds.Notices),
	})
	return ds, outcome
}

// mapTable fetches one sheet and resolves its schema. A nil mapping means
// the sheet is unusable and a notice has been recorded.
func (l *SheetsLoader) mapTable(ctx context.Context, ds *models.Dataset, name, location string, schema source.Schema) (*source.Table, *source.Mapping) {
	table, err := l.fetcher.Fetch(ctx, name, location)
	if err != nil {
		l.notice(ctx, ds, models.NewNotice(models.NoticeFetchFailure, schema.Table,
			"could not load the %s sheet: %v", schema.Table, err))
		return source.EmptyTable(), nil
	}

	mapping, err := schema.Map(table)
	var missing *models.MissingColumnError
	if errors.As(err, &missing) {
		l.notice(ctx, ds, models.NewNotice(models.NoticeMissingColumn, schema.Table, "%s", missing.Error()))
		return table, nil
	}
	if err != nil {
		l.notice(ctx, ds, models.NewNotice(models.NoticeFetchFailure, schema.Table, "%v", err))
		return table, nil
	}
	return table, mapping
}

func (l *SheetsLoader) reportDropped(ctx context.Context, ds *models.Dataset, table string, report pipeline.CleanReport) {
	for reason, n := range report.Dropped {
		l.metrics.RecordDroppedRows(table, string(reason), n)
	}
	if n := droppedNotice(table, report); n != nil {
		l.notice(ctx, ds, *n)
	}
}

func (l *SheetsLoader) notice(ctx context.Context, ds *models.Dataset, n models.Notice) {
	ds.AddNotice(n)
	l.metrics.RecordNotice(string(n.Kind))
	l.logger.Warn(ctx, "[LOAD_NOTICE] Dataset degraded", logging.Fields{
		"kind":    string(n.Kind),
		"source":  n.Source,
		"message": n.Message,
	})
}

// HealthCheck reports whether the monthly PM2.5 sheet can be fetched
func (l *SheetsLoader) HealthCheck(ctx context.Context) error {
	if _, err := l.fetcher.Fetch(ctx, "pm25", l.sources.PM25URL); err != nil {
		return fmt.Errorf("pm25 sheet unavailable: %w", err)
	}
	return nil
}

// droppedNotice summarises a cleaning report, or returns nil when nothing was dropped
func droppedNotice(table string, report pipeline.CleanReport) *models.Notice {
	if report.DroppedTotal() == 0 {
		return nil
	}
	reasons := make([]string, 0, len(report.Dropped))
	for reason, n := range report.Dropped {
		if n > 0 {
			reasons = append(reasons, fmt.Sprintf("%s=%d", reason, n))
		}
	}
	sort.Strings(reasons)
	n := models.NewNotice(models.NoticeDroppedRows, table,
		"dropped %d of %d %s rows (%s)", report.DroppedTotal(), report.Input, table, strings.Join(reasons, ", "))
	return &n
}

// RepositoryLoader reads the dataset stored by the ingester
type RepositoryLoader struct {
	repo    repository.SurveillanceRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewRepositoryLoader creates a loader over PostgreSQL
func NewRepositoryLoader(repo repository.SurveillanceRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *RepositoryLoader {
	return &RepositoryLoader{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// recentSamples bounds how much real-time history is read per request
const recentSamples = 500

// Load reads visits, readings and recent samples. Patient-sheet columns are
// taken from the latest ingestion run.
func (l *RepositoryLoader) Load(ctx context.Context, opts LoadOptions) (*models.Dataset, error) {
	timer := l.metrics.TimePipeline("load_repository")
	defer timer.ObserveDuration()

	ds := &models.Dataset{PatientFields: map[string]bool{}, LoadedAt: time.Now()}

	run, err := l.repo.LatestIngestionRun(ctx)
	var nf *repository.NotFoundError
	switch {
	case errors.As(err, &nf):
		ds.AddNotice(models.NewNotice(models.NoticeNoData, "database", "no ingestion has been recorded yet"))
		l.metrics.RecordNotice(string(models.NoticeNoData))
	case err != nil:
		return nil, fmt.Errorf("failed to read ingestion run: %w", err)
	default:
		ds.PatientFields = run.FieldSet()
		ds.LoadedAt = run.FinishedAt
	}

	visits, err := l.repo.ListVisits(ctx, repository.VisitFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to load visits: %w", err)
	}
	if opts.ExcludeScheduled {
		kept := visits[:0]
		for _, v := range visits {
			if !v.Scheduled {
				kept = append(kept, v)
			}
		}
		visits = kept
	}
	ds.Visits = visits

	if ds.Readings, err = l.repo.ListReadings(ctx); err != nil {
		return nil, fmt.Errorf("failed to load readings: %w", err)
	}
	if ds.Samples, err = l.repo.ListSamples(ctx, recentSamples); err != nil {
		return nil, fmt.Errorf("failed to load samples: %w", err)
	}

	l.logger.Debug(ctx, "[LOAD_COMPLETE] Dataset loaded from database", logging.Fields{
		"visits":   len(ds.Visits),
		"readings": len(ds.Readings),
		"samples":  len(ds.Samples),
	})
	return ds, nil
}

// HealthCheck pings the database
func (l *RepositoryLoader) HealthCheck(ctx context.Context) error {
	return l.repo.HealthCheck(ctx)
}
