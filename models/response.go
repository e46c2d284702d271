package models

// ExtractResponse is the response for POST /api/v1/scrape and POST /api/v1/extract.
type ExtractResponse struct {
	// Success indicates whether the extraction completed without errors.
	Success bool `json:"success"`

	// Result is populated only when Success is true.
	*ExtractResult

	// Error is populated only when Success is false.
	Error *ErrorDetail `json:"error,omitempty"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Busy    bool   `json:"busy"`
	Driver  string `json:"driver"`
	Style   string `json:"llm_style"`
	Model   string `json:"llm_model"`
	Version string `json:"version"`
}
