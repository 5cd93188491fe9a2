package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"pm25-surveillance/internal/dashboard"
	"pm25-surveillance/internal/export"
	"pm25-surveillance/internal/models"
	"pm25-surveillance/internal/pipeline"
	"pm25-surveillance/internal/repository"
	"pm25-surveillance/internal/services"
	"pm25-surveillance/pkg/logging"
	"pm25-surveillance/pkg/metrics"
)

// DashboardHandler handles dashboard API endpoints
type DashboardHandler struct {
	dashboardService *services.DashboardService
	summaryService   *services.SummaryService
	defaults         dashboard.AppState
	logger           *logging.StructuredLogger
	metrics          *metrics.Collector
}

// NewDashboardHandler creates a new dashboard handler. summaryService may be
// nil when summaries are not persisted.
func NewDashboardHandler(
	dashboardService *services.DashboardService,
	summaryService *services.SummaryService,
	defaults dashboard.AppState,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *DashboardHandler {
	return &DashboardHandler{
		dashboardService: dashboardService,
		summaryService:   summaryService,
		defaults:         defaults,
		logger:           logger,
		metrics:          metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Code    int    `json:"code"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// MonthlyResponse is the body of GET /api/monthly
type MonthlyResponse struct {
	Rows    []models.MonthlyRow `json:"rows"`
	Notices []models.Notice     `json:"notices"`
}

// CurrentResponse is the body of GET /api/pm25/current
type CurrentResponse struct {
	Current *pipeline.CurrentPM25 `json:"current"`
	AQI     pipeline.AQILevel     `json:"aqi"`
	Notices []models.Notice       `json:"notices"`
}

// ParseState reads the dashboard state from query parameters on top of
// defaults. defaults.MaxLag is the ceiling for both lag and max_lag.
func ParseState(r *http.Request, defaults dashboard.AppState) (dashboard.AppState, error) {
	q := r.URL.Query()
	state := defaults
	var err error

	if page, ok := mux.Vars(r)["page"]; ok {
		if state.Page, err = dashboard.ParsePage(page); err != nil {
			return state, err
		}
	}
	if state.LagMonths, err = queryInt(q.Get("lag"), "lag", state.LagMonths); err != nil {
		return state, err
	}
	if state.MaxLag, err = queryInt(q.Get("max_lag"), "max_lag", state.MaxLag); err != nil {
		return state, err
	}
	if state.LookbackDays, err = queryInt(q.Get("lookback_days"), "lookback_days", state.LookbackDays); err != nil {
		return state, err
	}
	if v := q.Get("group_by"); v != "" {
		if state.GroupBy, err = pipeline.ParseGroupField(v); err != nil {
			return state, err
		}
	}
	if groups := q["group"]; len(groups) > 0 {
		state.Groups = nil
		for _, g := range groups {
			for _, part := range strings.Split(g, ",") {
				if part = strings.TrimSpace(part); part != "" {
					state.Groups = append(state.Groups, part)
				}
			}
		}
	}
	if v := q.Get("exclude_scheduled"); v != "" {
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			return state, &models.ValidationError{Field: "exclude_scheduled", Value: v, Message: "exclude_scheduled must be a boolean"}
		}
		state.ExcludeScheduled = b
	}
	if state.From, err = queryDate(q.Get("from"), "from", state.From); err != nil {
		return state, err
	}
	if state.To, err = queryDate(q.Get("to"), "to", state.To); err != nil {
		return state, err
	}
	if v := q.Get("hn"); v != "" {
		state.HN = strings.TrimSpace(v)
	}
	if v := q.Get("icd10"); v != "" {
		state.ICD10 = strings.TrimSpace(v)
	}
	if v := q.Get("join"); v != "" {
		if state.JoinMode, err = pipeline.ParseJoinMode(v); err != nil {
			return state, err
		}
	}
	if err := state.Validate(); err != nil {
		return state, err
	}
	return state, state.WithinLimit(defaults.MaxLag)
}

func queryInt(raw, field string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback, &models.ValidationError{Field: field, Value: raw, Message: field + " must be an integer"}
	}
	return n, nil
}

func queryDate(raw, field string, fallback *time.Time) (*time.Time, error) {
	if raw == "" {
		return fallback, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return fallback, &models.ValidationError{Field: field, Value: raw, Message: "invalid " + field + " format, expected YYYY-MM-DD"}
	}
	return &t, nil
}

// GetDashboard handles GET /api/dashboard/{page}
func (h *DashboardHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/dashboard/{page}"
	ctx := r.Context()
	defer h.observe(endpoint, time.Now())

	state, err := ParseState(r, h.defaults)
	if err != nil {
		h.sendStateError(w, r, endpoint, err)
		return
	}

	view, err := h.dashboardService.Render(ctx, state)
	if err != nil {
		h.sendServiceError(w, r, endpoint, "[API_DASHBOARD_ERROR] Failed to render dashboard", err)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, view, http.StatusOK)
}

// GetMonthly handles GET /api/monthly
func (h *DashboardHandler) GetMonthly(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/monthly"
	ctx := r.Context()
	defer h.observe(endpoint, time.Now())

	state, err := ParseState(r, h.defaults)
	if err != nil {
		h.sendStateError(w, r, endpoint, err)
		return
	}

	rows, notices, err := h.dashboardService.Monthly(ctx, state)
	if err != nil {
		h.sendServiceError(w, r, endpoint, "[API_MONTHLY_ERROR] Failed to build monthly table", err)
		return
	}
	if rows == nil {
		rows = []models.MonthlyRow{}
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, MonthlyResponse{Rows: rows, Notices: notices}, http.StatusOK)
}

// ExportMonthly handles GET /api/monthly/export
func (h *DashboardHandler) ExportMonthly(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/monthly/export"
	ctx := r.Context()
	defer h.observe(endpoint, time.Now())

	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.sendStateError(w, r, endpoint, err)
		return
	}
	state, err := ParseState(r, h.defaults)
	if err != nil {
		h.sendStateError(w, r, endpoint, err)
		return
	}

	rows, _, err := h.dashboardService.Monthly(ctx, state)
	if err != nil {
		h.sendServiceError(w, r, endpoint, "[API_EXPORT_ERROR] Failed to build monthly table", err)
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, format, rows); err != nil {
		h.logger.Error(ctx, "[API_EXPORT_ERROR] Failed to encode export", logging.Fields{
			"format": string(format),
			"rows":   len(rows),
		}, err)
		h.metrics.RecordAPIError("export_error", endpoint)
		h.sendError(w, r, "failed to encode export", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "monthly."+string(format)))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// GetCurrentPM25 handles GET /api/pm25/current
func (h *DashboardHandler) GetCurrentPM25(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/pm25/current"
	ctx := r.Context()
	defer h.observe(endpoint, time.Now())

	current, notices, err := h.dashboardService.Current(ctx)
	if err != nil {
		h.sendServiceError(w, r, endpoint, "[API_CURRENT_ERROR] Failed to read real-time PM2.5", err)
		return
	}

	response := CurrentResponse{Current: current, Notices: notices}
	if current != nil {
		response.AQI = current.AQI
	} else {
		response.AQI = pipeline.ClassifyAQI(nil)
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, response, http.StatusOK)
}

// GetSummaries handles GET /api/summaries
func (h *DashboardHandler) GetSummaries(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/summaries"
	ctx := r.Context()
	defer h.observe(endpoint, time.Now())

	if h.summaryService == nil {
		h.sendError(w, r, "summaries are only available with DATA_SOURCE=postgres", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	page, limit := pagination(q.Get("page"), q.Get("limit"))
	filter := repository.SummaryFilter{
		Limit:  limit,
		Offset: (page - 1) * limit,
	}

	for _, p := range []struct {
		name string
		dst  **models.MonthKey
	}{{"from", &filter.From}, {"to", &filter.To}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		month, err := models.ParseMonthKey(raw)
		if err != nil {
			h.sendStateError(w, r, endpoint, &models.ValidationError{
				Field: p.name, Value: raw, Message: "invalid " + p.name + " format, expected YYYY-MM",
			})
			return
		}
		*p.dst = &month
	}
	if group := q.Get("group"); group != "" {
		filter.DiseaseGroup = &group
	}

	summaries, total, err := h.summaryService.ListSummaries(ctx, filter)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_SUMMARIES_ERROR] Failed to get summaries", logging.Fields{
			"filter": filter,
		}, err)
		h.metrics.RecordAPIError("internal_error", endpoint)
		h.sendError(w, r, "failed to retrieve summaries", http.StatusInternalServerError)
		return
	}
	if summaries == nil {
		summaries = []models.MonthlySummary{}
	}

	response := PaginatedResponse{
		Data:       summaries,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, response, http.StatusOK)
}

// pagination parses page and limit with defaults of 1 and 100
func pagination(pageStr, limitStr string) (int, int) {
	page := 1
	limit := 100

	if pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}

	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}
	return page, limit
}

// HealthCheck handles GET /health
func (h *DashboardHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := map[string]string{
		"status":      "healthy",
		"data_source": "ok",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK

	if err := h.dashboardService.HealthCheck(ctx); err != nil {
		h.logger.Warn(ctx, "[HEALTH_CHECK] Data source unavailable", logging.Fields{
			"error": err.Error(),
		})
		status["status"] = "degraded"
		status["data_source"] = err.Error()
		code = http.StatusServiceUnavailable
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	h.sendJSON(w, status, code)
}

func (h *DashboardHandler) observe(endpoint string, start time.Time) {
	h.metrics.APIRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// sendStateError answers 400 for validation errors and 500 otherwise
func (h *DashboardHandler) sendStateError(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		h.metrics.RecordAPIError("validation_error", endpoint)
		h.metrics.RecordAPIRequest(endpoint, r.Method, "400")
		h.sendJSON(w, ErrorResponse{
			Error:   http.StatusText(http.StatusBadRequest),
			Message: verr.Message,
			Field:   verr.Field,
			Code:    http.StatusBadRequest,
		}, http.StatusBadRequest)
		return
	}
	h.metrics.RecordAPIError("internal_error", endpoint)
	h.sendError(w, r, err.Error(), http.StatusInternalServerError)
}

// sendServiceError maps a service failure to a response. Validation errors
// are the caller's fault; anything else means the data source is down.
func (h *DashboardHandler) sendServiceError(w http.ResponseWriter, r *http.Request, endpoint, message string, err error) {
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		h.sendStateError(w, r, endpoint, err)
		return
	}
	h.logger.Error(r.Context(), message, logging.Fields{
		"endpoint": endpoint,
	}, err)
	h.metrics.RecordAPIError("data_source_error", endpoint)
	h.sendError(w, r, "data source unavailable", http.StatusServiceUnavailable)
}

// sendJSON sends a JSON response
func (h *DashboardHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *DashboardHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	h.metrics.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

// RegisterRoutes registers all dashboard API routes
func (h *DashboardHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/dashboard", h.GetDashboard).Methods("GET")
	router.HandleFunc("/api/dashboard/{page}", h.GetDashboard).Methods("GET")
	router.HandleFunc("/api/monthly", h.GetMonthly).Methods("GET")
	router.HandleFunc("/api/monthly/export", h.ExportMonthly).Methods("GET")
	router.HandleFunc("/api/pm25/current", h.GetCurrentPM25).Methods("GET")
	router.HandleFunc("/api/summaries", h.GetSummaries).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/api/docs", SwaggerUI).Methods("GET")
	router.HandleFunc("/api/docs/openapi.json", OpenAPISpec).Methods("GET")
}
