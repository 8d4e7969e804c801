package models

import (
	"errors"
	"fmt"
	"time"
)

// SnippetNotIdentified replaces snippets too short to carry information.
const SnippetNotIdentified = "snippet not identified"

// SearchResultEntry is one organic result discovered on a search results page.
// URL is absolute (http/https) and unique within a run.
type SearchResultEntry struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// ExtractionStatus is the terminal classification of a single extraction attempt.
type ExtractionStatus string

const (
	StatusSuccess                 ExtractionStatus = "success"
	StatusSuccessViaImage         ExtractionStatus = "success_via_image"
	StatusFailedTimeout           ExtractionStatus = "failed_timeout"
	StatusFailedHTTPStatus        ExtractionStatus = "failed_http_status"
	StatusFailedDNS               ExtractionStatus = "failed_dns"
	StatusFailedConnectionRefused ExtractionStatus = "failed_connection_refused"
	StatusFailedDOMEmpty          ExtractionStatus = "failed_dom_empty"
	StatusFailedOther             ExtractionStatus = "failed_other"
)

// AllStatuses lists every member of the closed status set.
var AllStatuses = []ExtractionStatus{
	StatusSuccess,
	StatusSuccessViaImage,
	StatusFailedTimeout,
	StatusFailedHTTPStatus,
	StatusFailedDNS,
	StatusFailedConnectionRefused,
	StatusFailedDOMEmpty,
	StatusFailedOther,
}

// Valid reports whether s belongs to the closed status set.
func (s ExtractionStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Failed reports whether s is one of the failure variants.
func (s ExtractionStatus) Failed() bool {
	return s.Valid() && s != StatusSuccess && s != StatusSuccessViaImage
}

// ErrStatusAlreadySet is returned when a record is classified twice.
var ErrStatusAlreadySet = errors.New("extraction status already set")

// PageExtractionRecord is the outcome of extracting one URL.
type PageExtractionRecord struct {
	URL            string             `json:"url"`
	SearchResult   *SearchResultEntry `json:"searchResult"`
	ExtractedText  string             `json:"extractedText"`
	Status         ExtractionStatus   `json:"status"`
	ScreenshotPath *string            `json:"screenshotPath"`

	HTTPStatus      int   `json:"httpStatus,omitempty"`
	EstimatedTokens int   `json:"estimatedTokens,omitempty"`
	DurationMs      int64 `json:"durationMs,omitempty"`
}

// NewPageExtractionRecord starts a record for url. The status stays empty
// until SetStatus is called.
func NewPageExtractionRecord(url string, entry *SearchResultEntry) *PageExtractionRecord {
	var sr *SearchResultEntry
	if entry != nil {
		cp := *entry
		sr = &cp
	}
	return &PageExtractionRecord{URL: url, SearchResult: sr}
}

// SetStatus assigns the terminal status. It can only succeed once.
func (r *PageExtractionRecord) SetStatus(s ExtractionStatus) error {
	if !s.Valid() {
		return fmt.Errorf("unknown extraction status %q", s)
	}
	if r.Status != "" {
		return ErrStatusAlreadySet
	}
	r.Status = s
	return nil
}

// HarvestOutput is the single structured record produced by one run.
type HarvestOutput struct {
	OriginalQuery       string                 `json:"originalQuery"`
	CollectionTimestamp time.Time              `json:"collectionTimestamp"`
	TotalTargeted       int                    `json:"totalTargeted"`
	TotalProcessed      int                    `json:"totalProcessed"`
	SiteRecords         []PageExtractionRecord `json:"siteRecords"`
}

// Validate checks the count invariants and that every record is classified.
func (o *HarvestOutput) Validate() error {
	if o.TotalProcessed != len(o.SiteRecords) {
		return fmt.Errorf("totalProcessed %d does not match %d site records", o.TotalProcessed, len(o.SiteRecords))
	}
	if o.TotalProcessed > o.TotalTargeted {
		return fmt.Errorf("totalProcessed %d exceeds totalTargeted %d", o.TotalProcessed, o.TotalTargeted)
	}
	for i, rec := range o.SiteRecords {
		if !rec.Status.Valid() {
			return fmt.Errorf("site record %d (%s) has invalid status %q", i, rec.URL, rec.Status)
		}
	}
	return nil
}

// StatusCounts tallies records per status.
func (o *HarvestOutput) StatusCounts() map[ExtractionStatus]int {
	counts := make(map[ExtractionStatus]int, len(AllStatuses))
	for _, rec := range o.SiteRecords {
		counts[rec.Status]++
	}
	return counts
}
