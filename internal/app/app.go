// Package app wires configuration into the shared components the binaries use.
package app

import (
	"fmt"
	"os"
	_ "time/tzdata"

	"pm25-surveillance/internal/config"
	"pm25-surveillance/internal/dashboard"
	"pm25-surveillance/internal/pipeline"
	"pm25-surveillance/internal/services"
	"pm25-surveillance/internal/source"
	"pm25-surveillance/pkg/database"
	"pm25-surveillance/pkg/logging"
	"pm25-surveillance/pkg/metrics"
)

// Version is reported in logs and the OpenAPI document
const Version = "1.0.0"

// NewLogger builds the logger for a binary from the logging section
func NewLogger(cfg *config.Config, service string) *logging.StructuredLogger {
	return logging.NewStructuredLoggerWithFormat(
		service,
		Version,
		logging.ParseLevel(cfg.Logging.Level),
		logging.Format(cfg.Logging.Format),
		os.Stdout,
	)
}

// DatabaseConfig converts the database section into connection settings
func DatabaseConfig(cfg *config.Config) *database.Config {
	return &database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}
}

// DateParser builds the date parser from the pipeline section
func DateParser(cfg *config.Config) (*pipeline.DateParser, error) {
	loc, err := cfg.Pipeline.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Pipeline.Timezone, err)
	}
	era := pipeline.EraPolicy{
		Offset:         cfg.Pipeline.EraOffsetYears,
		ThresholdYears: cfg.Pipeline.EraThresholdYears,
	}
	return pipeline.NewDateParser(era, loc), nil
}

// NewSheetsLoader builds a cached, retrying sheets loader
func NewSheetsLoader(cfg *config.Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (*services.SheetsLoader, error) {
	parser, err := DateParser(cfg)
	if err != nil {
		return nil, err
	}

	fetcherCfg := source.DefaultFetcherConfig()
	fetcherCfg.Timeout = cfg.Sources.FetchTimeout
	fetcherCfg.MaxRetries = cfg.Sources.FetchRetries
	fetcher := source.NewFetcher(fetcherCfg, source.NewTableCache(cfg.Sources.CacheTTL), logger, metricsCollector)

	sources := services.SheetSources{
		PatientURL:  cfg.Sources.PatientSheetURL,
		PM25URL:     cfg.Sources.PM25SheetURL,
		RealtimeURL: cfg.Sources.PM25RealtimeURL,
	}
	return services.NewSheetsLoader(fetcher, sources, parser, logger, metricsCollector), nil
}

// DefaultState is the dashboard state a request starts from
func DefaultState(cfg *config.Config) dashboard.AppState {
	state := dashboard.DefaultState()
	state.LagMonths = cfg.Pipeline.DefaultLag
	state.MaxLag = cfg.Pipeline.MaxLag
	state.LookbackDays = cfg.Pipeline.DefaultLookback
	state.ExcludeScheduled = cfg.Pipeline.ExcludeScheduled
	return state
}
