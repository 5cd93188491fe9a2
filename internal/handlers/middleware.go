package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	gorillahandlers "github.com/gorilla/handlers"

	"pm25-surveillance/pkg/logging"
	"pm25-surveillance/pkg/metrics"
)

// RequestIDHeader carries the request ID in both directions
const RequestIDHeader = "X-Request-ID"

type recoveryLogger struct {
	logger *logging.StructuredLogger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error(context.Background(), "[API_PANIC] Recovered from handler panic", logging.Fields{
		"panic": v,
	}, nil)
}

// Middleware wraps the router with request IDs, connection accounting,
// request logging, panic recovery and CORS
func Middleware(next http.Handler, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) http.Handler {
	handler := requestContext(next, logger, metricsCollector)
	handler = gorillahandlers.RecoveryHandler(
		gorillahandlers.RecoveryLogger(recoveryLogger{logger: logger}),
	)(handler)
	return gorillahandlers.CORS(
		gorillahandlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type", RequestIDHeader}),
		gorillahandlers.AllowedMethods([]string{"GET", "OPTIONS"}),
		gorillahandlers.AllowedOrigins([]string{"*"}),
		gorillahandlers.ExposedHeaders([]string{RequestIDHeader, "Content-Disposition"}),
	)(handler)
}

func requestContext(next http.Handler, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)
		ctx := logging.WithRequestID(r.Context(), requestID)

		metricsCollector.ActiveConnections.Inc()
		defer metricsCollector.ActiveConnections.Dec()

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))

		logger.Debug(ctx, "[API_REQUEST] Request served", logging.Fields{
			"method":           r.Method,
			"path":             r.URL.Path,
			"duration_seconds": time.Since(start).Seconds(),
		})
	})
}
