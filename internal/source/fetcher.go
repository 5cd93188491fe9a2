package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"pm25-surveillance/pkg/logging"
	"pm25-surveillance/pkg/metrics"
)

// FetcherConfig controls remote sheet fetching
type FetcherConfig struct {
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultFetcherConfig returns a 10s timeout with two retries
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		Timeout:        10 * time.Second,
		MaxRetries:     2,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d fetching %s", e.StatusCode, e.URL)
}

// IsTransient reports whether the request may succeed on retry
func (e *StatusError) IsTransient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Fetcher loads CSV tables from HTTP(S) URLs or local files through a TTL cache
type Fetcher struct {
	client  *http.Client
	cache   *TableCache
	config  FetcherConfig
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewFetcher creates a fetcher. cache may be nil to disable caching.
func NewFetcher(cfg FetcherConfig, cache *TableCache, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Fetcher {
	return &Fetcher{
		client:  &http.Client{Timeout: cfg.Timeout},
		cache:   cache,
		config:  cfg,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ExportURL builds the CSV export URL of a Google Sheets tab
func ExportURL(sheetID, gid string) string {
	u := fmt.Sprintf("https://docs.google.com/spreadsheets/d/%s/export?format=csv", sheetID)
	if gid != "" {
		u += "&gid=" + gid
	}
	return u
}

// Fetch returns the table at location, served from the cache while fresh.
// name labels logs and metrics.
func (f *Fetcher) Fetch(ctx context.Context, name, location string) (*Table, error) {
	if location == "" {
		return nil, fmt.Errorf("%s: no source location configured", name)
	}

	if t, fetchedAt, ok := f.cache.Get(location); ok {
		f.metrics.RecordCacheLookup("hit")
		f.logger.Debug(ctx, "[SOURCE_CACHE_HIT] Serving cached table", logging.Fields{
			"source":     name,
			"fetched_at": fetchedAt.Format(time.RFC3339),
		})
		return t, nil
	}
	f.metrics.RecordCacheLookup("miss")

	start := time.Now()
	t, err := f.fetch(ctx, name, location)
	duration := time.Since(start)
	if err != nil {
		f.metrics.RecordFetch(name, "error", duration)
		f.logger.Error(ctx, "[SOURCE_FETCH_ERROR] Failed to fetch table", logging.Fields{
			"source":      name,
			"duration_ms": duration.Milliseconds(),
		}, err)
		return nil, err
	}

	f.metrics.RecordFetch(name, "success", duration)
	f.cache.Put(location, t)
	f.logger.Info(ctx, "[SOURCE_FETCH] Table fetched", logging.Fields{
		"source":      name,
		"rows":        t.Len(),
		"columns":     len(t.Columns()),
		"duration_ms": duration.Milliseconds(),
	})
	return t, nil
}

func (f *Fetcher) fetch(ctx context.Context, name, location string) (*Table, error) {
	if !isRemote(location) {
		return readFile(strings.TrimPrefix(location, "file://"))
	}

	policy := backoff.NewExponentialBackOff()
	if f.config.InitialBackoff > 0 {
		policy.InitialInterval = f.config.InitialBackoff
	}
	if f.config.MaxBackoff > 0 {
		policy.MaxInterval = f.config.MaxBackoff
	}
	retries := f.config.MaxRetries
	if retries < 0 {
		retries = 0
	}

	attempt := 0
	return backoff.RetryNotifyWithData(func() (*Table, error) {
		attempt++
		return f.get(ctx, location)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(retries)), ctx),
		func(err error, wait time.Duration) {
			f.logger.Warn(ctx, "[SOURCE_FETCH_RETRY] Retrying fetch", logging.Fields{
				"source":  name,
				"attempt": attempt,
				"wait_ms": wait.Milliseconds(),
				"error":   err.Error(),
			})
		})
}

// get performs one HTTP attempt. Client errors and unparseable bodies are permanent.
func (f *Fetcher) get(ctx context.Context, url string) (*Table, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, backoff.Permanent(err)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		statusErr := &StatusError{URL: url, StatusCode: resp.StatusCode}
		if !statusErr.IsTransient() {
			return nil, backoff.Permanent(statusErr)
		}
		return nil, statusErr
	}

	t, err := ReadTable(resp.Body)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	return t, nil
}

func readFile(path string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()
	return ReadTable(file)
}

func isRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}
