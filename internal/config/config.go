package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Data source modes
const (
	DataSourceSheets   = "sheets"
	DataSourcePostgres = "postgres"
)

// Config holds application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Logging  LoggingConfig
	Sources  SourcesConfig
	Pipeline PipelineConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string        `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port         int           `env:"SERVER_PORT" envDefault:"8080"`
	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	Host            string        `env:"DB_HOST" envDefault:"localhost"`
	Port            int           `env:"DB_PORT" envDefault:"5432"`
	User            string        `env:"DB_USER" envDefault:"postgres"`
	Password        string        `env:"DB_PASSWORD"`
	Database        string        `env:"DB_NAME" envDefault:"pm25_surveillance"`
	SSLMode         string        `env:"DB_SSLMODE" envDefault:"disable"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
	ConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"1m"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// SourcesConfig locates the input sheets
type SourcesConfig struct {
	// DataSource is "sheets" to read the CSV exports on every request or
	// "postgres" to read what the ingester last stored.
	DataSource      string        `env:"DATA_SOURCE" envDefault:"sheets"`
	PatientSheetURL string        `env:"PATIENT_SHEET_URL"`
	PM25SheetURL    string        `env:"PM25_SHEET_URL"`
	PM25RealtimeURL string        `env:"PM25_REALTIME_URL"`
	FetchTimeout    time.Duration `env:"FETCH_TIMEOUT" envDefault:"10s"`
	FetchRetries    int           `env:"FETCH_RETRIES" envDefault:"2"`
	CacheTTL        time.Duration `env:"CACHE_TTL" envDefault:"10m"`
}

// PipelineConfig holds pipeline defaults
type PipelineConfig struct {
	EraOffsetYears    int    `env:"ERA_OFFSET_YEARS" envDefault:"543"`
	EraThresholdYears int    `env:"ERA_THRESHOLD_YEARS" envDefault:"50"`
	Timezone          string `env:"TIMEZONE" envDefault:"Asia/Bangkok"`
	DefaultLag        int    `env:"DEFAULT_LAG_MONTHS" envDefault:"0"`
	// MaxLag is the largest lag a request may ask for, at most 6
	MaxLag           int  `env:"MAX_LAG_MONTHS" envDefault:"6"`
	DefaultLookback  int  `env:"DEFAULT_LOOKBACK_DAYS" envDefault:"30"`
	ExcludeScheduled bool `env:"EXCLUDE_SCHEDULED" envDefault:"false"`
}

// Location resolves the configured timezone
func (p PipelineConfig) Location() (*time.Location, error) {
	return time.LoadLocation(p.Timezone)
}

// LoadConfig reads configuration from the environment. A .env file in the
// working directory is loaded first when present; variables already set win.
// Blank variables fall back to their defaults and every unparseable value is
// reported in one error.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}
	opts := env.Options{
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(time.Duration(0)): parseDuration,
		},
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))
	cfg.Sources.DataSource = strings.ToLower(strings.TrimSpace(cfg.Sources.DataSource))
	return cfg, nil
}

// Validate checks value ranges and cross-field constraints
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port))
	}
	if c.Database.MaxOpenConns < 1 {
		errs = append(errs, fmt.Errorf("DB_MAX_OPEN_CONNS must be positive, got %d", c.Database.MaxOpenConns))
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		errs = append(errs, fmt.Errorf("DB_MAX_IDLE_CONNS (%d) cannot exceed DB_MAX_OPEN_CONNS (%d)", c.Database.MaxIdleConns, c.Database.MaxOpenConns))
	}

	switch c.Logging.Format {
	case "json", "console", "ecs":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json, console or ecs, got %q", c.Logging.Format))
	}

	switch c.Sources.DataSource {
	case DataSourceSheets:
		if c.Sources.PatientSheetURL == "" || c.Sources.PM25SheetURL == "" {
			errs = append(errs, errors.New("PATIENT_SHEET_URL and PM25_SHEET_URL are required when DATA_SOURCE=sheets"))
		}
	case DataSourcePostgres:
	default:
		errs = append(errs, fmt.Errorf("DATA_SOURCE must be %q or %q, got %q", DataSourceSheets, DataSourcePostgres, c.Sources.DataSource))
	}
	if c.Sources.FetchTimeout <= 0 {
		errs = append(errs, errors.New("FETCH_TIMEOUT must be positive"))
	}
	if c.Sources.FetchRetries < 0 {
		errs = append(errs, fmt.Errorf("FETCH_RETRIES cannot be negative, got %d", c.Sources.FetchRetries))
	}

	p := c.Pipeline
	if p.EraOffsetYears < 0 {
		errs = append(errs, fmt.Errorf("ERA_OFFSET_YEARS cannot be negative, got %d", p.EraOffsetYears))
	}
	if p.EraThresholdYears < 0 {
		errs = append(errs, fmt.Errorf("ERA_THRESHOLD_YEARS cannot be negative, got %d", p.EraThresholdYears))
	}
	if _, err := p.Location(); err != nil {
		errs = append(errs, fmt.Errorf("TIMEZONE %q: %w", p.Timezone, err))
	}
	if p.MaxLag < 0 || p.MaxLag > 6 {
		errs = append(errs, fmt.Errorf("MAX_LAG_MONTHS must be between 0 and 6, got %d", p.MaxLag))
	}
	if p.DefaultLag < 0 || p.DefaultLag > p.MaxLag {
		errs = append(errs, fmt.Errorf("DEFAULT_LAG_MONTHS must be between 0 and %d, got %d", p.MaxLag, p.DefaultLag))
	}
	if p.DefaultLookback < 7 || p.DefaultLookback > 180 {
		errs = append(errs, fmt.Errorf("DEFAULT_LOOKBACK_DAYS must be between 7 and 180, got %d", p.DefaultLookback))
	}

	return errors.Join(errs...)
}

// parseDuration accepts Go duration strings ("90s") or a bare number of seconds
func parseDuration(v string) (interface{}, error) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return nil, fmt.Errorf("invalid duration %q", v)
	}
	return d, nil
}
