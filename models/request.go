package models

// HarvestRequest is the payload for POST /api/v1/harvest.
type HarvestRequest struct {
	// Query is the free-text search query. Required.
	Query string `json:"query" binding:"required"`

	// TargetCount is the number of sites to discover and extract.
	// Default: 10. Capped by the search page ceiling.
	TargetCount int `json:"target_count,omitempty" binding:"omitempty,min=1,max=200"`

	// Async returns a job id immediately instead of blocking until the run ends.
	Async bool `json:"async,omitempty"`

	// WebhookURL receives harvest.completed / harvest.failed events for async runs.
	WebhookURL    string `json:"webhook_url,omitempty" binding:"omitempty,url"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

// Defaults applies default values to unset fields.
func (r *HarvestRequest) Defaults() {
	if r.TargetCount == 0 {
		r.TargetCount = 10
	}
}

// SearchRequest is the payload for POST /api/v1/search.
type SearchRequest struct {
	Query       string `json:"query" binding:"required"`
	TargetCount int    `json:"target_count,omitempty" binding:"omitempty,min=1,max=200"`
}

// Defaults applies default values to unset fields.
func (r *SearchRequest) Defaults() {
	if r.TargetCount == 0 {
		r.TargetCount = 10
	}
}

// ExtractRequest is the payload for POST /api/v1/extract.
type ExtractRequest struct {
	// URL is the page to extract. Required.
	URL string `json:"url" binding:"required,url"`

	// Title and Snippet optionally attach the search result the URL came from.
	Title   string `json:"title,omitempty"`
	Snippet string `json:"snippet,omitempty"`

	// MaxAgeMs accepts a cached successful record up to this age.
	// 0 always extracts fresh.
	MaxAgeMs int `json:"max_age_ms,omitempty" binding:"omitempty,min=0"`
}

// Entry returns the attached search result, or nil when none was given.
func (r *ExtractRequest) Entry() *SearchResultEntry {
	if r.Title == "" && r.Snippet == "" {
		return nil
	}
	return &SearchResultEntry{URL: r.URL, Title: r.Title, Snippet: r.Snippet}
}
