package handlers

import (
	"encoding/json"
	"net/http"

	"pm25-surveillance/internal/dashboard"
	"pm25-surveillance/internal/pipeline"
)

type object = map[string]interface{}

func queryParam(name, description string, schema object) object {
	return object{
		"name":        name,
		"in":          "query",
		"description": description,
		"required":    false,
		"schema":      schema,
	}
}

func jsonContent(description string, schema object) object {
	return object{
		"description": description,
		"content": object{
			"application/json": object{"schema": schema},
		},
	}
}

func ref(name string) object {
	return object{"$ref": "#/components/schemas/" + name}
}

func stateParams() []object {
	return []object{
		queryParam("lag", "Months PM2.5 is shifted forward before joining (0-6)", object{"type": "integer", "minimum": 0, "maximum": 6}),
		queryParam("max_lag", "Largest lag tried by the lag search (0-6)", object{"type": "integer", "minimum": 0, "maximum": 6}),
		queryParam("lookback_days", "Re-attendance window in days (7-180, default 30)", object{"type": "integer", "minimum": 7, "maximum": 180}),
		queryParam("group_by", "Segment counts by disease or vulnerable group", object{"type": "string", "enum": pipeline.GroupFieldValues}),
		queryParam("group", "Restrict to these group labels (repeatable or comma separated)", object{"type": "string"}),
		queryParam("exclude_scheduled", "Drop scheduled follow-up visits", object{"type": "boolean"}),
		queryParam("from", "First visit date (YYYY-MM-DD)", object{"type": "string", "format": "date"}),
		queryParam("to", "Last visit date (YYYY-MM-DD)", object{"type": "string", "format": "date"}),
		queryParam("join", "Join mode", object{"type": "string", "enum": []string{"outer", "inner"}}),
	}
}

func errorResponses() object {
	return object{
		"400": jsonContent("Invalid query parameter", ref("Error")),
		"503": jsonContent("Data source unavailable", ref("Error")),
	}
}

func withErrors(ok object) object {
	responses := errorResponses()
	responses["200"] = ok
	return responses
}

// openAPIDocument builds the OpenAPI 3.0 description of the API
func openAPIDocument() object {
	pages := make([]string, len(dashboard.Pages))
	for i, p := range dashboard.Pages {
		pages[i] = string(p)
	}

	dashboardParams := append([]object{{
		"name":     "page",
		"in":       "path",
		"required": true,
		"schema":   object{"type": "string", "enum": pages},
	}}, stateParams()...)
	dashboardParams = append(dashboardParams,
		queryParam("hn", "Patient identifier for the timeline page", object{"type": "string"}),
		queryParam("icd10", "ICD-10 code or prefix for the icd10 page", object{"type": "string"}),
	)

	exportParams := append(stateParams(),
		queryParam("format", "Export format", object{"type": "string", "enum": []string{"csv", "parquet"}, "default": "csv"}))

	nullableNumber := object{"type": "number", "nullable": true}
	nullableInteger := object{"type": "integer", "nullable": true}

	return object{
		"openapi": "3.0.0",
		"info": object{
			"title":       "PM2.5 Health Surveillance API",
			"description": "Monthly hospital visit counts joined with PM2.5 concentration, with lag, correlation and re-attendance analyses",
			"version":     "1.0.0",
		},
		"servers": []map[string]string{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": object{
			"/api/dashboard/{page}": object{"get": object{
				"summary":     "Build a dashboard page",
				"description": "Renders one page from the state given in the query string. Soft failures are reported as notices.",
				"parameters":  dashboardParams,
				"responses":   withErrors(jsonContent("Page view", ref("View"))),
			}},
			"/api/monthly": object{"get": object{
				"summary":    "Monthly joined table",
				"parameters": stateParams(),
				"responses": withErrors(jsonContent("Monthly rows", object{
					"type": "object",
					"properties": object{
						"rows":    object{"type": "array", "items": ref("MonthlyRow")},
						"notices": object{"type": "array", "items": ref("Notice")},
					},
				})),
			}},
			"/api/monthly/export": object{"get": object{
				"summary":    "Export the monthly table",
				"parameters": exportParams,
				"responses": withErrors(object{
					"description": "Monthly table file",
					"content": object{
						"text/csv":                       object{"schema": object{"type": "string"}},
						"application/vnd.apache.parquet": object{"schema": object{"type": "string", "format": "binary"}},
					},
				}),
			}},
			"/api/pm25/current": object{"get": object{
				"summary":   "Newest real-time PM2.5 sample and its AQI band",
				"responses": withErrors(jsonContent("Current PM2.5", object{"type": "object"})),
			}},
			"/api/summaries": object{"get": object{
				"summary": "Persisted monthly summaries",
				"parameters": []object{
					queryParam("from", "First month (YYYY-MM)", object{"type": "string"}),
					queryParam("to", "Last month (YYYY-MM)", object{"type": "string"}),
					queryParam("group", "Disease group", object{"type": "string"}),
					queryParam("page", "Page number (default: 1)", object{"type": "integer", "default": 1}),
					queryParam("limit", "Records per page (default: 100)", object{"type": "integer", "default": 100}),
				},
				"responses": withErrors(jsonContent("Paginated summaries", object{
					"type": "object",
					"properties": object{
						"data":        object{"type": "array", "items": ref("MonthlySummary")},
						"total":       object{"type": "integer"},
						"page":        object{"type": "integer"},
						"limit":       object{"type": "integer"},
						"total_pages": object{"type": "integer"},
					},
				})),
			}},
			"/health": object{"get": object{
				"summary": "Liveness and data source health",
				"responses": object{
					"200": jsonContent("Healthy", object{"type": "object"}),
					"503": jsonContent("Data source unavailable", object{"type": "object"}),
				},
			}},
		},
		"components": object{
			"schemas": object{
				"Error": object{
					"type": "object",
					"properties": object{
						"error":   object{"type": "string"},
						"message": object{"type": "string"},
						"field":   object{"type": "string"},
						"code":    object{"type": "integer"},
					},
				},
				"Notice": object{
					"type": "object",
					"properties": object{
						"kind":    object{"type": "string", "enum": []string{"fetch_failure", "missing_column", "dropped_rows", "insufficient_data", "not_significant", "no_data"}},
						"source":  object{"type": "string"},
						"message": object{"type": "string"},
					},
				},
				"MonthlyRow": object{
					"type": "object",
					"properties": object{
						"month_key":   object{"type": "string", "example": "2024-01"},
						"group":       object{"type": "string"},
						"visit_count": nullableInteger,
						"pm25_value":  nullableNumber,
					},
				},
				"MonthlySummary": object{
					"type": "object",
					"properties": object{
						"id":                 object{"type": "integer"},
						"month_key":          object{"type": "string"},
						"disease_group":      object{"type": "string"},
						"visit_count":        object{"type": "integer"},
						"reattendance_count": object{"type": "integer"},
						"lookback_days":      object{"type": "integer"},
						"pm25_value":         nullableNumber,
					},
				},
				"View": object{
					"type": "object",
					"properties": object{
						"page":    object{"type": "string"},
						"state":   object{"type": "object"},
						"rows":    object{"type": "array", "items": ref("MonthlyRow")},
						"notices": object{"type": "array", "items": ref("Notice")},
					},
				},
			},
		},
	}
}

// OpenAPISpec returns the OpenAPI 3.0 specification for the surveillance API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(openAPIDocument())
}
