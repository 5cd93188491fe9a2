package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pm25-surveillance/internal/app"
	"pm25-surveillance/internal/config"
	"pm25-surveillance/internal/handlers"
	"pm25-surveillance/internal/repository"
	"pm25-surveillance/internal/services"
	"pm25-surveillance/pkg/database"
	"pm25-surveillance/pkg/logging"
	"pm25-surveillance/pkg/metrics"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "pm25-api")

	ctx := context.Background()
	logger.Info(ctx, "[STARTUP] Starting PM2.5 surveillance API server", logging.Fields{
		"version":     app.Version,
		"server_host": cfg.Server.Host,
		"server_port": cfg.Server.Port,
		"data_source": cfg.Sources.DataSource,
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("pm25_surveillance", prometheus.DefaultRegisterer)

	// Select the data source
	var loader services.DatasetLoader
	var summaryService *services.SummaryService

	switch cfg.Sources.DataSource {
	case config.DataSourcePostgres:
		db, err := database.NewPostgresDB(app.DatabaseConfig(cfg), logger, metricsCollector)
		if err != nil {
			logger.Fatal(ctx, "[STARTUP_ERROR] Failed to connect to database", logging.Fields{
				"db_host": cfg.Database.Host,
				"db_name": cfg.Database.Database,
			}, err)
		}
		defer db.Close()

		repo := repository.NewSurveillanceRepository(db, logger, metricsCollector)
		repoLoader := services.NewRepositoryLoader(repo, logger, metricsCollector)
		loader = repoLoader
		summaryService = services.NewSummaryService(repoLoader, repo, logger, metricsCollector)

	default:
		sheetsLoader, err := app.NewSheetsLoader(cfg, logger, metricsCollector)
		if err != nil {
			logger.Fatal(ctx, "[STARTUP_ERROR] Failed to configure sheet loader", logging.Fields{}, err)
		}
		loader = sheetsLoader
	}

	// Initialize services and handlers
	dashboardService := services.NewDashboardService(loader, logger, metricsCollector)
	dashboardHandler := handlers.NewDashboardHandler(dashboardService, summaryService, app.DefaultState(cfg), logger, metricsCollector)

	// Setup router
	router := mux.NewRouter()
	dashboardHandler.RegisterRoutes(router)

	// Prometheus metrics endpoint
	router.Handle("/metrics", promhttp.Handler())

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handlers.Middleware(router, logger, metricsCollector),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{
			"address": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "[SERVER_ERROR] Server failed", logging.Fields{}, err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "[SHUTDOWN] Shutting down server...", logging.Fields{})

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "[SHUTDOWN_ERROR] Server forced to shutdown", logging.Fields{}, err)
	}

	logger.Info(ctx, "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{})
}
