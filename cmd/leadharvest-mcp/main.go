package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// errorBody mirrors the API error detail.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// searchResult mirrors models.SearchResultEntry.
type searchResult struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// siteRecord mirrors models.PageExtractionRecord.
type siteRecord struct {
	URL            string        `json:"url"`
	SearchResult   *searchResult `json:"searchResult"`
	ExtractedText  string        `json:"extractedText"`
	Status         string        `json:"status"`
	ScreenshotPath *string       `json:"screenshotPath"`
}

// harvestOutput mirrors models.HarvestOutput.
type harvestOutput struct {
	OriginalQuery  string       `json:"originalQuery"`
	TotalTargeted  int          `json:"totalTargeted"`
	TotalProcessed int          `json:"totalProcessed"`
	SiteRecords    []siteRecord `json:"siteRecords"`
}

type harvestJobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type harvestStatusResponse struct {
	ID        string         `json:"id"`
	Status    string         `json:"status"`
	Processed int            `json:"processed"`
	Total     int            `json:"total"`
	Output    *harvestOutput `json:"output"`
	Error     *errorBody     `json:"error"`
}

type searchResponse struct {
	Success      bool           `json:"success"`
	Results      []searchResult `json:"results"`
	PagesScraped int            `json:"pages_scraped"`
	StopReason   string         `json:"stop_reason"`
	Error        *errorBody     `json:"error"`
}

type extractResponse struct {
	Success bool        `json:"success"`
	Record  *siteRecord `json:"record"`
	Error   *errorBody  `json:"error"`
}

func main() {
	apiURL := os.Getenv("LEADHARVEST_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("LEADHARVEST_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "LEADHARVEST_API_KEY is required")
		os.Exit(1)
	}

	s := server.NewMCPServer(
		"leadharvest",
		"0.1.0",
		server.WithToolCapabilities(false),
	)

	harvestTool := mcp.NewTool("harvest_leads",
		mcp.WithDescription("Search the web for a query, visit every result site with a real browser and return the text of each site with its extraction status. Slow: expect several seconds per site."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Free-text search query, e.g. 'empresas de tecnologia em Curitiba'"),
		),
		mcp.WithNumber("target_count",
			mcp.Description("Number of sites to harvest (default: 10)"),
		),
	)
	s.AddTool(harvestTool, handleHarvest(apiURL, apiKey))

	searchTool := mcp.NewTool("search_sites",
		mcp.WithDescription("Run a web search and return the organic result URLs with titles and snippets, excluding social networks, marketplaces and government sites. Does not visit the sites."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Free-text search query"),
		),
		mcp.WithNumber("target_count",
			mcp.Description("Number of results to collect (default: 10)"),
		),
	)
	s.AddTool(searchTool, handleSearch(apiURL, apiKey))

	extractTool := mcp.NewTool("extract_site",
		mcp.WithDescription("Visit one site with a real browser and return its visible text. Falls back to a screenshot description when the page has little text."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the site to extract"),
		),
	)
	s.AddTool(extractTool, handleExtract(apiURL, apiKey))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// apiPost sends a POST request to the LeadHarvest API and returns the response body.
func apiPost(ctx context.Context, client *http.Client, apiURL, apiKey, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// pollJobCompletion polls a job endpoint until status is no longer "processing" or context is cancelled.
func pollJobCompletion(ctx context.Context, client *http.Client, apiURL, apiKey, endpoint string) ([]byte, error) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+endpoint, nil)
			if err != nil {
				return nil, fmt.Errorf("create poll request: %w", err)
			}
			req.Header.Set("X-API-Key", apiKey)

			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("poll request failed: %w", err)
			}

			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("read poll response: %w", err)
			}

			var status struct {
				Status string `json:"status"`
			}
			if err := json.Unmarshal(body, &status); err != nil {
				return nil, fmt.Errorf("parse poll status: %w", err)
			}

			if status.Status != "processing" {
				return body, nil
			}
		}
	}
}

func targetCount(request mcp.CallToolRequest) int {
	return request.GetInt("target_count", 10)
}

func formatError(prefix string, e *errorBody) string {
	if e == nil {
		return prefix
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func writeRecord(sb *strings.Builder, i int, r siteRecord) {
	title := ""
	if r.SearchResult != nil {
		title = r.SearchResult.Title
	}
	fmt.Fprintf(sb, "--- [%d] %s (%s) status=%s ---\n", i+1, title, r.URL, r.Status)
	if r.ExtractedText != "" {
		sb.WriteString(r.ExtractedText)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}

func handleHarvest(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 60 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError("query is required"), nil
		}

		payload := map[string]any{
			"query":        query,
			"target_count": targetCount(request),
			"async":        true,
		}

		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/harvest", payload)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("harvest request failed: %v", err)), nil
		}

		var job harvestJobResponse
		if err := json.Unmarshal(respBody, &job); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse harvest response: %v", err)), nil
		}
		if job.ID == "" {
			return mcp.NewToolResultError("harvest job creation failed: " + string(respBody)), nil
		}

		resultBody, err := pollJobCompletion(ctx, client, apiURL, apiKey, "/api/v1/harvest/"+job.ID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("polling harvest job failed: %v", err)), nil
		}

		var st harvestStatusResponse
		if err := json.Unmarshal(resultBody, &st); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse harvest status: %v", err)), nil
		}
		if st.Output == nil {
			return mcp.NewToolResultError(formatError("harvest failed", st.Error)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Harvest %s: %s (%d/%d sites)\n", st.ID, st.Status, st.Output.TotalProcessed, st.Output.TotalTargeted)
		if st.Error != nil {
			fmt.Fprintf(&sb, "Stopped early: %s\n", formatError("", st.Error))
		}
		sb.WriteString("\n")
		for i, r := range st.Output.SiteRecords {
			writeRecord(&sb, i, r)
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}

func handleSearch(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 300 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError("query is required"), nil
		}

		payload := map[string]any{"query": query, "target_count": targetCount(request)}
		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/search", payload)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search request failed: %v", err)), nil
		}

		var sr searchResponse
		if err := json.Unmarshal(respBody, &sr); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse search response: %v", err)), nil
		}
		if !sr.Success {
			return mcp.NewToolResultError(formatError("search failed", sr.Error)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Found %d sites on %d result pages (stopped: %s)\n\n", len(sr.Results), sr.PagesScraped, sr.StopReason)
		for i, r := range sr.Results {
			fmt.Fprintf(&sb, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Snippet)
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}

func handleExtract(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 180 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/extract", map[string]string{"url": url})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("extract request failed: %v", err)), nil
		}

		var er extractResponse
		if err := json.Unmarshal(respBody, &er); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse extract response: %v", err)), nil
		}
		if !er.Success || er.Record == nil {
			return mcp.NewToolResultError(formatError("extraction failed", er.Error)), nil
		}

		var sb strings.Builder
		writeRecord(&sb, 0, *er.Record)
		return mcp.NewToolResultText(sb.String()), nil
	}
}
