package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"pm25-surveillance/internal/app"
	"pm25-surveillance/internal/config"
	"pm25-surveillance/internal/repository"
	"pm25-surveillance/internal/services"
	"pm25-surveillance/pkg/database"
	"pm25-surveillance/pkg/logging"
	"pm25-surveillance/pkg/metrics"
)

func main() {
	// Parse command-line flags
	skipSummaries := flag.Bool("skip-summaries", false, "Do not recompute monthly summaries after ingestion")
	lookback := flag.Int("lookback", 0, "Re-attendance window in days for summaries (default: DEFAULT_LOOKBACK_DAYS)")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Ingestion always reads the sheets, whatever the server reads
	cfg.Sources.DataSource = config.DataSourceSheets
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if *lookback == 0 {
		*lookback = cfg.Pipeline.DefaultLookback
	}

	logger := app.NewLogger(cfg, "pm25-ingester")

	ctx := context.Background()
	logger.Info(ctx, "[INGESTER_START] Starting sheet ingestion", logging.Fields{
		"version":        app.Version,
		"skip_summaries": *skipSummaries,
		"lookback_days":  *lookback,
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("pm25_ingester", prometheus.NewRegistry())

	db, err := database.NewPostgresDB(app.DatabaseConfig(cfg), logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[INGESTER_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	repo := repository.NewSurveillanceRepository(db, logger, metricsCollector)
	sheetsLoader, err := app.NewSheetsLoader(cfg, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[INGESTER_ERROR] Failed to configure sheet loader", logging.Fields{}, err)
	}

	ingestionService := services.NewIngestionService(sheetsLoader, repo, logger, metricsCollector)
	result, err := ingestionService.Ingest(ctx)
	if err != nil {
		logger.Fatal(ctx, "[INGESTION_ERROR] Ingestion failed", logging.Fields{}, err)
	}

	// Print results
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("INGESTION COMPLETE")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Run ID:          %d\n", result.RunID)
	fmt.Printf("Visits:          %d\n", result.Visits)
	fmt.Printf("PM2.5 Months:    %d\n", result.Readings)
	fmt.Printf("PM2.5 Samples:   %d\n", result.Samples)
	fmt.Printf("Dropped Rows:    %d\n", result.DroppedRows)
	fmt.Printf("Duration:        %v\n", result.Duration)
	if len(result.SkippedTables) > 0 {
		fmt.Printf("Skipped Tables:  %s (previous data kept)\n", strings.Join(result.SkippedTables, ", "))
	}

	if len(result.Notices) > 0 {
		fmt.Printf("\nNotices (%d):\n", len(result.Notices))
		for i, n := range result.Notices {
			if i < 10 {
				fmt.Printf("  - [%s] %s\n", n.Kind, n.Message)
			}
		}
		if len(result.Notices) > 10 {
			fmt.Printf("  ... and %d more notices\n", len(result.Notices)-10)
		}
	}

	// Materialise summaries from what is now stored
	if !*skipSummaries {
		fmt.Println("\n" + strings.Repeat("=", 80))
		fmt.Println("MATERIALISING MONTHLY SUMMARIES")
		fmt.Println(strings.Repeat("=", 80))

		repoLoader := services.NewRepositoryLoader(repo, logger, metricsCollector)
		summaryService := services.NewSummaryService(repoLoader, repo, logger, metricsCollector)
		n, err := summaryService.Materialize(ctx, *lookback)
		if err != nil {
			logger.Error(ctx, "[SUMMARY_ERROR] Summary materialisation failed", logging.Fields{}, err)
			fmt.Printf("Summary materialisation failed: %v\n", err)
		} else {
			fmt.Printf("Stored %d monthly summaries\n", n)
		}
	}

	logger.Info(ctx, "[INGESTER_COMPLETE] Ingestion completed successfully", logging.Fields{
		"run_id":           result.RunID,
		"visits":           result.Visits,
		"readings":         result.Readings,
		"dropped_rows":     result.DroppedRows,
		"duration_seconds": result.Duration.Seconds(),
	})
}
