package models

// HarvestResponse is the response for POST /api/v1/harvest (sync mode).
type HarvestResponse struct {
	Success bool           `json:"success"`
	Output  *HarvestOutput `json:"output,omitempty"`
	Timing  TimingInfo     `json:"timing"`
	Error   *ErrorDetail   `json:"error,omitempty"`
}

// SearchResponse is the response for POST /api/v1/search.
type SearchResponse struct {
	Success      bool                `json:"success"`
	Results      []SearchResultEntry `json:"results"`
	PagesScraped int                 `json:"pages_scraped"`
	StopReason   string              `json:"stop_reason,omitempty"`
	Timing       TimingInfo          `json:"timing"`
	Error        *ErrorDetail        `json:"error,omitempty"`
}

// ExtractResponse is the response for POST /api/v1/extract.
type ExtractResponse struct {
	Success bool                  `json:"success"`
	Record  *PageExtractionRecord `json:"record,omitempty"`
	Cached  bool                  `json:"cached,omitempty"`
	Timing  TimingInfo            `json:"timing"`
	Error   *ErrorDetail          `json:"error,omitempty"`
}

// ErrorResponse is the body of every rejected request.
type ErrorResponse struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error"`
}

// TimingInfo provides duration breakdowns.
type TimingInfo struct {
	TotalMs int64 `json:"total_ms"`
}

// HarvestJobResponse is the immediate response for an async harvest.
type HarvestJobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// HarvestJobStatusResponse is the response for GET /api/v1/harvest/:id.
type HarvestJobStatusResponse struct {
	ID        string         `json:"id"`
	Status    string         `json:"status"`
	Query     string         `json:"query"`
	CreatedAt int64          `json:"created_at"`
	Processed int            `json:"processed"`
	Total     int            `json:"total"`
	Output    *HarvestOutput `json:"output,omitempty"`
	Error     *ErrorDetail   `json:"error,omitempty"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status        string `json:"status"`
	Uptime        string `json:"uptime"`
	BrowserUptime string `json:"browser_uptime"`
	ActiveRuns    int    `json:"active_runs"`
	Sessions      int    `json:"open_sessions"`
	Version       string `json:"version"`
}
