package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"

	"pm25-surveillance/internal/app"
	"pm25-surveillance/internal/config"
	"pm25-surveillance/internal/dashboard"
	"pm25-surveillance/internal/export"
	"pm25-surveillance/internal/models"
	"pm25-surveillance/internal/pipeline"
	"pm25-surveillance/internal/repository"
	"pm25-surveillance/internal/services"
	"pm25-surveillance/pkg/database"
	"pm25-surveillance/pkg/logging"
	"pm25-surveillance/pkg/metrics"
)

const rule = "════════════════════════════════════════════════════════════════"

func main() {
	lag := flag.Int("lag", -1, "PM2.5 lag in months (default: DEFAULT_LAG_MONTHS)")
	groupBy := flag.String("group-by", "", "Break counts out by disease or vulnerable group")
	join := flag.String("join", "outer", "Join mode: outer or inner")
	excludeScheduled := flag.Bool("exclude-scheduled", false, "Drop scheduled follow-up visits")
	format := flag.String("format", "table", "Output format: table, csv or parquet")
	out := flag.String("out", "", "Output file (default: stdout)")
	patients := flag.String("patients", "", "Patient sheet URL or CSV path (overrides PATIENT_SHEET_URL)")
	pm25 := flag.String("pm25", "", "Monthly PM2.5 sheet URL or CSV path (overrides PM25_SHEET_URL)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *patients != "" {
		cfg.Sources.PatientSheetURL = *patients
	}
	if *pm25 != "" {
		cfg.Sources.PM25SheetURL = *pm25
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	state := app.DefaultState(cfg)
	if *lag >= 0 {
		state.LagMonths = *lag
	}
	state.ExcludeScheduled = state.ExcludeScheduled || *excludeScheduled
	if state.GroupBy, err = pipeline.ParseGroupField(*groupBy); err == nil {
		state.JoinMode, err = pipeline.ParseJoinMode(*join)
	}
	if err == nil {
		err = state.Validate()
	}
	if err == nil {
		err = state.WithinLimit(cfg.Pipeline.MaxLag)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid option: %v\n", err)
		os.Exit(2)
	}

	// Logs go to stderr so exports can be piped
	logger := logging.NewStructuredLoggerWithFormat("pm25-report", app.Version,
		logging.ParseLevel(cfg.Logging.Level), logging.FormatConsole, os.Stderr)
	if cfg.Logging.Level == "info" {
		logger.SetLevel(logging.WarnLevel)
	}
	metricsCollector := metrics.NewCollector("pm25_report", prometheus.NewRegistry())
	ctx := context.Background()

	loader, closeFn, err := newLoader(cfg, logger, metricsCollector)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open data source: %v\n", err)
		os.Exit(1)
	}
	defer closeFn()

	svc := services.NewDashboardService(loader, logger, metricsCollector)

	var w io.Writer = os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create %s: %v\n", *out, err)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}

	if *format != "table" {
		exportFormat, err := export.ParseFormat(*format)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid option: %v\n", err)
			os.Exit(2)
		}
		rows, notices, err := svc.Monthly(ctx, state)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Report failed: %v\n", err)
			os.Exit(1)
		}
		printNotices(os.Stderr, notices)
		if err := export.Write(w, exportFormat, rows); err != nil {
			fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := printReport(ctx, w, svc, state); err != nil {
		fmt.Fprintf(os.Stderr, "Report failed: %v\n", err)
		os.Exit(1)
	}
}

// newLoader opens the configured data source and returns its cleanup
func newLoader(cfg *config.Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (services.DatasetLoader, func(), error) {
	if cfg.Sources.DataSource == config.DataSourcePostgres {
		db, err := database.NewPostgresDB(app.DatabaseConfig(cfg), logger, metricsCollector)
		if err != nil {
			return nil, nil, err
		}
		repo := repository.NewSurveillanceRepository(db, logger, metricsCollector)
		return services.NewRepositoryLoader(repo, logger, metricsCollector), func() { db.Close() }, nil
	}

	loader, err := app.NewSheetsLoader(cfg, logger, metricsCollector)
	if err != nil {
		return nil, nil, err
	}
	return loader, func() {}, nil
}

func printReport(ctx context.Context, w io.Writer, svc *services.DashboardService, state dashboard.AppState) error {
	overview, err := svc.Render(ctx, state)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "PM2.5 HEALTH SURVEILLANCE - MONTHLY REPORT (lag %d, %s join)\n", state.LagMonths, state.JoinMode)
	fmt.Fprintln(w, rule)

	if t := overview.Totals; t != nil {
		fmt.Fprintf(w, "Visits:          %d\n", t.Visits)
		fmt.Fprintf(w, "Months:          %d\n", t.Months)
		fmt.Fprintf(w, "Patients:        %d\n", t.Patients)
		if t.MeanPM25 != nil {
			fmt.Fprintf(w, "Mean PM2.5:      %.1f µg/m³\n", *t.MeanPM25)
			fmt.Fprintf(w, "Peak PM2.5:      %.1f µg/m³ (%s)\n", *t.PeakPM25, t.PeakPM25Month)
		}
		fmt.Fprintln(w)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MONTH\tGROUP\tVISITS\tPM2.5")
	for _, row := range overview.Rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", row.Month, dash(row.Group), intCell(row.VisitCount), floatCell(row.PM25Value))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	state.Page = dashboard.PageLag
	lagView, err := svc.Render(ctx, state)
	if err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "LAG SEARCH")
	fmt.Fprintln(w, rule)
	if res := lagView.LagSearch; res != nil {
		tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "LAG\tN\tPEARSON R\tP-VALUE\tSPEARMAN RHO")
		for _, l := range res.Lags {
			if l.Result == nil {
				fmt.Fprintf(tw, "%d\t-\t-\t-\t%s\n", l.Lag, dash(l.Reason))
				continue
			}
			fmt.Fprintf(tw, "%d\t%d\t%.3f\t%.4f\t%.3f\n", l.Lag, l.Result.N, l.Result.Pearson, l.Result.PearsonP, l.Result.Spearman)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(w, "\n%s\n", res.Message)
	}

	notices := append(append([]models.Notice{}, overview.Notices...), lagView.Notices...)
	printNotices(w, dedupe(notices))
	return nil
}

func printNotices(w io.Writer, notices []models.Notice) {
	if len(notices) == 0 {
		return
	}
	fmt.Fprintf(w, "\nNotices (%d):\n", len(notices))
	for _, n := range notices {
		fmt.Fprintf(w, "  ⚠ [%s] %s\n", n.Kind, n.Message)
	}
}

func dedupe(notices []models.Notice) []models.Notice {
	seen := make(map[string]bool, len(notices))
	out := notices[:0]
	for _, n := range notices {
		key := string(n.Kind) + "|" + n.Source + "|" + n.Message
		if !seen[key] {
			seen[key] = true
			out = append(out, n)
		}
	}
	return out
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func intCell(v *int) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprint(*v)
}

func floatCell(v *float64) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprintf("%.1f", *v)
}
