package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/leadharvest/api/handler"
	"github.com/use-agent/leadharvest/api/middleware"
	"github.com/use-agent/leadharvest/cache"
	"github.com/use-agent/leadharvest/config"
	"github.com/use-agent/leadharvest/harvest"
	"github.com/use-agent/leadharvest/models"
	"github.com/use-agent/leadharvest/serp"
)

const testKey = "chave-de-teste"

type stubSessions int

func (s stubSessions) OpenSessions() int { return int(s) }

func (stubSessions) Uptime() time.Duration { return 90 * time.Second }

type stubSearch struct {
	entries []models.SearchResultEntry
	err     error
}

func (s stubSearch) Collect(context.Context, string, int) (*serp.Collection, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &serp.Collection{Entries: s.entries, PagesScraped: 1, StopReason: serp.StopPageLimit}, nil
}

type stubExtract struct{ calls *atomic.Int32 }

func (s stubExtract) Extract(_ context.Context, u string, e *models.SearchResultEntry) (*models.PageExtractionRecord, error) {
	if s.calls != nil {
		s.calls.Add(1)
	}
	rec := models.NewPageExtractionRecord(u, e)
	_ = rec.SetStatus(models.StatusSuccess)
	rec.ExtractedText = "conteúdo de " + u
	return rec, nil
}

func newTestRouter(t *testing.T, search stubSearch, rl config.RateLimitConfig) *gin.Engine {
	t.Helper()
	return newTestRouterWith(t, search, stubExtract{}, rl)
}

func newTestRouterWith(t *testing.T, search stubSearch, ext stubExtract, rl config.RateLimitConfig) *gin.Engine {
	t.Helper()
	cfg := &config.Config{
		Server:    config.ServerConfig{Mode: gin.TestMode},
		Auth:      config.AuthConfig{Enabled: true, APIKeys: []string{testKey}},
		RateLimit: rl,
	}
	jobs := handler.NewJobStore(time.Hour)
	limiter := middleware.NewRateLimiter(rl)
	records := cache.New(10, time.Hour)
	t.Cleanup(func() {
		jobs.Stop()
		limiter.Stop()
		records.Stop()
	})
	return NewRouter(Deps{
		Sessions:  stubSessions(0),
		Pipeline:  harvest.New(search, ext, config.PipelineConfig{Workers: 2}),
		Search:    search,
		Extractor: ext,
		Jobs:      jobs,
		Limiter:   limiter,
		Cache:     records,
		StartTime: time.Now(),
	}, cfg)
}

var openLimits = config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000}

var twoSites = stubSearch{entries: []models.SearchResultEntry{
	{URL: "https://alfa.com.br/", Title: "Alfa", Snippet: "Alfa em Curitiba"},
	{URL: "https://beta.com.br/", Title: "Beta", Snippet: "Beta em Curitiba"},
}}

func do(r http.Handler, method, path, key string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthAndMetricsNeedNoAuth(t *testing.T) {
	r := newTestRouter(t, twoSites, openLimits)

	w := do(r, http.MethodGet, "/api/v1/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health = %d", w.Code)
	}
	var health models.HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "healthy" || health.Version == "" {
		t.Errorf("health = %+v", health)
	}
	if health.BrowserUptime != "1m30s" {
		t.Errorf("BrowserUptime = %q, want 1m30s", health.BrowserUptime)
	}

	if w := do(r, http.MethodGet, "/metrics", "", nil); w.Code != http.StatusOK {
		t.Errorf("metrics = %d", w.Code)
	}
}

func TestAuth(t *testing.T) {
	r := newTestRouter(t, twoSites, openLimits)

	if w := do(r, http.MethodPost, "/api/v1/search", "", models.SearchRequest{Query: "q"}); w.Code != http.StatusUnauthorized {
		t.Errorf("missing key = %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/api/v1/search", "errada", models.SearchRequest{Query: "q"}); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong key = %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", bytes.NewBufferString(`{"query":"q"}`))
	req.Header.Set("Authorization", "Bearer "+testKey)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("bearer key = %d: %s", w.Code, w.Body.String())
	}
}

func TestHarvestSync(t *testing.T) {
	r := newTestRouter(t, twoSites, openLimits)

	w := do(r, http.MethodPost, "/api/v1/harvest", testKey, models.HarvestRequest{Query: "empresas curitiba", TargetCount: 2})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp models.HarvestResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Output == nil {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Output.TotalProcessed != 2 || resp.Output.SiteRecords[0].URL != "https://alfa.com.br/" {
		t.Errorf("output = %+v", resp.Output)
	}
}

func TestHarvestValidation(t *testing.T) {
	r := newTestRouter(t, twoSites, openLimits)

	if w := do(r, http.MethodPost, "/api/v1/harvest", testKey, map[string]any{"target_count": 3}); w.Code != http.StatusBadRequest {
		t.Errorf("missing query = %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/api/v1/extract", testKey, map[string]any{"url": "not a url"}); w.Code != http.StatusBadRequest {
		t.Errorf("bad url = %d", w.Code)
	}
}

func TestHarvestAsync(t *testing.T) {
	r := newTestRouter(t, twoSites, openLimits)

	w := do(r, http.MethodPost, "/api/v1/harvest", testKey, models.HarvestRequest{Query: "q", TargetCount: 2, Async: true})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d", w.Code)
	}
	var job models.HarvestJobResponse
	if err := json.Unmarshal(w.Body.Bytes(), &job); err != nil {
		t.Fatal(err)
	}
	if job.ID == "" || job.Status != handler.JobProcessing {
		t.Fatalf("job = %+v", job)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		w := do(r, http.MethodGet, "/api/v1/harvest/"+job.ID, testKey, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("poll status = %d", w.Code)
		}
		var st models.HarvestJobStatusResponse
		if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
			t.Fatal(err)
		}
		if st.Status == handler.JobCompleted {
			if st.Output == nil || st.Output.TotalProcessed != 2 || st.Processed != 2 {
				t.Errorf("finished job = %+v", st)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("job still %s", st.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHarvestJobNotFound(t *testing.T) {
	r := newTestRouter(t, twoSites, openLimits)
	if w := do(r, http.MethodGet, "/api/v1/harvest/nao-existe", testKey, nil); w.Code != http.StatusNotFound {
		t.Errorf("status = %d", w.Code)
	}
}

func TestSearchErrorMapping(t *testing.T) {
	failing := stubSearch{err: models.NewHarvestError(models.ErrCodeNavigation, "search session unusable", nil)}
	r := newTestRouter(t, failing, openLimits)

	w := do(r, http.MethodPost, "/api/v1/search", testKey, models.SearchRequest{Query: "q"})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", w.Code)
	}
	var resp models.SearchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != models.ErrCodeNavigation {
		t.Errorf("error = %+v", resp.Error)
	}

	w = do(r, http.MethodPost, "/api/v1/harvest", testKey, models.HarvestRequest{Query: "q"})
	if w.Code != http.StatusBadGateway {
		t.Errorf("harvest with failing search = %d", w.Code)
	}
}

func TestExtractEndpoint(t *testing.T) {
	r := newTestRouter(t, twoSites, openLimits)

	w := do(r, http.MethodPost, "/api/v1/extract", testKey, models.ExtractRequest{URL: "https://alfa.com.br/", Title: "Alfa"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp models.ExtractResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Record == nil || resp.Record.Status != models.StatusSuccess || resp.Record.SearchResult == nil {
		t.Errorf("record = %+v", resp.Record)
	}
}

func TestRateLimit(t *testing.T) {
	r := newTestRouter(t, twoSites, config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1})

	if w := do(r, http.MethodPost, "/api/v1/search", testKey, models.SearchRequest{Query: "q"}); w.Code != http.StatusOK {
		t.Fatalf("first request = %d", w.Code)
	}
	w := do(r, http.MethodPost, "/api/v1/search", testKey, models.SearchRequest{Query: "q"})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After missing")
	}
}

func TestExtractEndpoint_ServesCachedRecord(t *testing.T) {
	var calls atomic.Int32
	r := newTestRouterWith(t, twoSites, stubExtract{calls: &calls}, openLimits)

	body := models.ExtractRequest{URL: "https://alfa.com.br/", MaxAgeMs: 60000}
	for i := 0; i < 2; i++ {
		if w := do(r, http.MethodPost, "/api/v1/extract", testKey, body); w.Code != http.StatusOK {
			t.Fatalf("request %d = %d", i, w.Code)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("extractor called %d times, want 1", calls.Load())
	}

	w := do(r, http.MethodPost, "/api/v1/extract", testKey, models.ExtractRequest{URL: "https://alfa.com.br/"})
	var resp models.ExtractResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Cached || calls.Load() != 2 {
		t.Errorf("max_age_ms 0 must extract fresh: cached=%v calls=%d", resp.Cached, calls.Load())
	}
}
