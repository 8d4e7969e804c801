package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"
)

// CLI flags
var (
	apiURL = flag.String("api-url", "http://localhost:8080", "LeadHarvest API base URL")
	apiKey = flag.String("api-key", "", "API key for authenticated requests")
	runs   = flag.Int("runs", 3, "Number of runs per URL for averaging")
	output = flag.String("output", "benchmark-results.json", "JSON output file path")
)

// Test URLs covering the site types the extractor treats differently.
var testURLs = []struct {
	Label string
	URL   string
}{
	{"Static", "https://example.com"},
	{"Business", "https://www.bosch.com.br/"},
	{"SiteBuilder", "https://www.wix.com/"},
	{"Heavy", "https://github.com/go-rod/rod"},
	{"Unresolvable", "https://nao-existe.invalid/"},
}

// --- Request / Response types (mirrors models package) ---

type extractRequest struct {
	URL string `json:"url"`
}

type extractResponse struct {
	Success bool         `json:"success"`
	Record  *record      `json:"record"`
	Timing  timingInfo   `json:"timing"`
	Error   *errorDetail `json:"error,omitempty"`
}

type record struct {
	Status          string  `json:"status"`
	ExtractedText   string  `json:"extractedText"`
	ScreenshotPath  *string `json:"screenshotPath"`
	HTTPStatus      int     `json:"httpStatus"`
	EstimatedTokens int     `json:"estimatedTokens"`
}

type timingInfo struct {
	TotalMs int64 `json:"total_ms"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// --- Benchmark result types ---

type runResult struct {
	Run           int    `json:"run"`
	TotalMs       int64  `json:"total_ms"`
	Status        string `json:"status,omitempty"`
	HTTPStatus    int    `json:"http_status,omitempty"`
	Tokens        int    `json:"tokens"`
	ContentLength int    `json:"content_length"`
	HasScreenshot bool   `json:"has_screenshot"`
	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`
}

type urlAverages struct {
	TotalMs       float64 `json:"total_ms"`
	Tokens        float64 `json:"tokens"`
	ContentLength float64 `json:"content_length"`
}

type urlResult struct {
	URL      string         `json:"url"`
	Label    string         `json:"label"`
	Runs     []runResult    `json:"runs"`
	Statuses map[string]int `json:"statuses"`
	Averages *urlAverages   `json:"averages,omitempty"`
}

type benchmarkReport struct {
	Timestamp  string      `json:"timestamp"`
	APIURL     string      `json:"api_url"`
	RunsPerURL int         `json:"runs_per_url"`
	Results    []urlResult `json:"results"`
}

func main() {
	flag.Parse()

	fmt.Println("=== LeadHarvest Extraction Benchmark ===")
	fmt.Printf("API URL:   %s\n", *apiURL)
	fmt.Printf("Runs/URL:  %d\n", *runs)
	fmt.Printf("Output:    %s\n", *output)
	fmt.Println()

	if err := checkAPI(*apiURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach API at %s: %v\n", *apiURL, err)
		fmt.Fprintf(os.Stderr, "Make sure leadharvest is running (leadharvest -serve)\n")
		os.Exit(1)
	}

	report := benchmarkReport{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		APIURL:     *apiURL,
		RunsPerURL: *runs,
	}

	for _, t := range testURLs {
		fmt.Printf("Benchmarking [%s] %s ...\n", t.Label, t.URL)
		ur := urlResult{URL: t.URL, Label: t.Label, Statuses: map[string]int{}}

		for i := 1; i <= *runs; i++ {
			fmt.Printf("  Run %d/%d ... ", i, *runs)
			rr := benchmarkURL(t.URL, i)
			if rr.Success {
				fmt.Printf("%-18s %dms  %d tokens\n", rr.Status, rr.TotalMs, rr.Tokens)
				ur.Statuses[rr.Status]++
			} else {
				fmt.Printf("ERROR: %s\n", rr.Error)
			}
			ur.Runs = append(ur.Runs, rr)
		}

		ur.Averages = computeAverages(ur.Runs)
		report.Results = append(report.Results, ur)
		fmt.Println()
	}

	printTable(report.Results)

	if err := writeJSON(*output, report); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing JSON output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nDetailed results written to %s\n", *output)
}

func checkAPI(baseURL string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(baseURL + "/api/v1/health")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func benchmarkURL(url string, run int) runResult {
	rr := runResult{Run: run}

	bodyBytes, err := json.Marshal(extractRequest{URL: url})
	if err != nil {
		rr.Error = fmt.Sprintf("marshal error: %v", err)
		return rr
	}

	req, err := http.NewRequest(http.MethodPost, *apiURL+"/api/v1/extract", bytes.NewReader(bodyBytes))
	if err != nil {
		rr.Error = fmt.Sprintf("request error: %v", err)
		return rr
	}
	req.Header.Set("Content-Type", "application/json")
	if *apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+*apiKey)
	}

	client := &http.Client{Timeout: 180 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		rr.Error = fmt.Sprintf("request failed: %v", err)
		return rr
	}
	defer resp.Body.Close()

	var er extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		rr.Error = fmt.Sprintf("decode error: %v", err)
		return rr
	}

	rr.TotalMs = er.Timing.TotalMs
	if er.Error != nil {
		rr.Error = er.Error.Message
	}
	if !er.Success || er.Record == nil {
		return rr
	}

	rr.Success = true
	rr.Status = er.Record.Status
	rr.HTTPStatus = er.Record.HTTPStatus
	rr.Tokens = er.Record.EstimatedTokens
	rr.ContentLength = len(er.Record.ExtractedText)
	rr.HasScreenshot = er.Record.ScreenshotPath != nil
	return rr
}

func computeAverages(runs []runResult) *urlAverages {
	var n int
	var avg urlAverages

	for _, r := range runs {
		if !r.Success {
			continue
		}
		n++
		avg.TotalMs += float64(r.TotalMs)
		avg.Tokens += float64(r.Tokens)
		avg.ContentLength += float64(r.ContentLength)
	}

	if n == 0 {
		return nil
	}

	avg.TotalMs /= float64(n)
	avg.Tokens /= float64(n)
	avg.ContentLength /= float64(n)
	return &avg
}

func printTable(results []urlResult) {
	fmt.Println(strings.Repeat("─", 85))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "URL\tAvg Latency\tTokens\tContent Len\tStatuses\n")
	fmt.Fprintf(w, "───\t───────────\t──────\t───────────\t────────\n")

	for _, r := range results {
		if r.Averages == nil {
			fmt.Fprintf(w, "%s\tERROR\t-\t-\t-\n", truncateURL(r.URL, 40))
			continue
		}
		fmt.Fprintf(w, "%s\t%dms\t%d\t%s\t%s\n",
			truncateURL(r.URL, 40),
			int64(r.Averages.TotalMs),
			int(r.Averages.Tokens),
			formatInt(int(r.Averages.ContentLength)),
			formatStatuses(r.Statuses),
		)
	}

	w.Flush()
	fmt.Println(strings.Repeat("─", 85))
}

// formatStatuses renders e.g. "success×2 failed_timeout×1".
func formatStatuses(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s×%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}

func truncateURL(u string, max int) string {
	if len(u) <= max {
		return u
	}
	return u[:max-3] + "..."
}

func formatInt(n int) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var result []byte
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	return string(result)
}

func writeJSON(path string, report benchmarkReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
