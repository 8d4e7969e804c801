package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/use-agent/leadharvest/config"
	"github.com/use-agent/leadharvest/extractor"
	"github.com/use-agent/leadharvest/models"
	"github.com/use-agent/leadharvest/scraper/scrapertest"
	"github.com/use-agent/leadharvest/serp"
)

type fakeSearch struct {
	entries []models.SearchResultEntry
	err     error
}

func (f fakeSearch) Collect(_ context.Context, _ string, n int) (*serp.Collection, error) {
	if f.err != nil {
		return nil, f.err
	}
	entries := f.entries
	if len(entries) > n {
		entries = entries[:n]
	}
	return &serp.Collection{Entries: entries, PagesScraped: 1, StopReason: serp.StopTargetReached}, nil
}

// fakeExtract classifies every URL as success after a delay that makes
// later entries finish first.
type fakeExtract struct {
	mu      sync.Mutex
	calls   []string
	active  atomic.Int32
	maxSeen atomic.Int32
	panicOn string
	failOn  string
}

func (f *fakeExtract) Extract(ctx context.Context, u string, entry *models.SearchResultEntry) (*models.PageExtractionRecord, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	idx := len(f.calls)
	f.calls = append(f.calls, u)
	f.mu.Unlock()

	if u == f.panicOn {
		panic("boom")
	}
	if u == f.failOn {
		return nil, models.NewHarvestError(models.ErrCodeBrowserCrash, "browser gone", nil)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Duration(10-idx%10) * time.Millisecond):
	}

	rec := models.NewPageExtractionRecord(u, entry)
	_ = rec.SetStatus(models.StatusSuccess)
	rec.ExtractedText = "texto de " + u
	return rec, nil
}

func entries(n int) []models.SearchResultEntry {
	out := make([]models.SearchResultEntry, n)
	for i := range out {
		out[i] = models.SearchResultEntry{
			URL:     fmt.Sprintf("https://empresa%02d.com.br/", i),
			Title:   fmt.Sprintf("Empresa %02d", i),
			Snippet: "Serviços empresariais em Curitiba e região metropolitana.",
		}
	}
	return out
}

func TestRun_KeepsDiscoveryOrderAcrossLanes(t *testing.T) {
	ext := &fakeExtract{}
	p := New(fakeSearch{entries: entries(9)}, ext, config.PipelineConfig{Workers: 3})

	out, err := p.Run(context.Background(), "empresas curitiba", 9)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := out.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if out.TotalTargeted != 9 || out.TotalProcessed != 9 || len(out.SiteRecords) != 9 {
		t.Fatalf("targeted=%d processed=%d records=%d", out.TotalTargeted, out.TotalProcessed, len(out.SiteRecords))
	}
	for i, rec := range out.SiteRecords {
		want := fmt.Sprintf("https://empresa%02d.com.br/", i)
		if rec.URL != want {
			t.Errorf("record[%d] = %s, want %s", i, rec.URL, want)
		}
		if rec.SearchResult == nil || rec.SearchResult.URL != want {
			t.Errorf("record[%d] lost its search result", i)
		}
	}
	if got := ext.maxSeen.Load(); got < 2 || got > 3 {
		t.Errorf("max concurrent extractions = %d, want 2..3", got)
	}
	if out.OriginalQuery != "empresas curitiba" || out.CollectionTimestamp.IsZero() {
		t.Errorf("query = %q, timestamp = %v", out.OriginalQuery, out.CollectionTimestamp)
	}
}

func TestRun_SequentialLaneRespectsPause(t *testing.T) {
	ext := &fakeExtract{}
	p := New(fakeSearch{entries: entries(3)}, ext, config.PipelineConfig{Workers: 1, RequestPause: 40 * time.Millisecond})

	start := time.Now()
	if _, err := p.Run(context.Background(), "q", 3); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("elapsed %v, want at least two pauses", elapsed)
	}
	if ext.maxSeen.Load() != 1 {
		t.Errorf("sequential run had %d concurrent extractions", ext.maxSeen.Load())
	}
}

func TestRun_SharedRateLimit(t *testing.T) {
	t.Run("spaces starts across lanes", func(t *testing.T) {
		ext := &fakeExtract{}
		// 600 per minute is one start every 100ms, whatever the lane count.
		p := New(fakeSearch{entries: entries(4)}, ext, config.PipelineConfig{Workers: 3, RequestsPerMinute: 600})

		start := time.Now()
		out, err := p.Run(context.Background(), "q", 4)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if out.TotalProcessed != 4 {
			t.Errorf("processed = %d, want 4", out.TotalProcessed)
		}
		if elapsed := time.Since(start); elapsed < 250*time.Millisecond {
			t.Errorf("elapsed %v, want three limiter intervals", elapsed)
		}
	})

	t.Run("cancellation ends the wait", func(t *testing.T) {
		ext := &fakeExtract{}
		p := New(fakeSearch{entries: entries(3)}, ext, config.PipelineConfig{Workers: 2, RequestsPerMinute: 1})

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(100*time.Millisecond, cancel)

		start := time.Now()
		out, err := p.Run(ctx, "q", 3)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
		if elapsed := time.Since(start); elapsed > 5*time.Second {
			t.Errorf("Run returned after %v", elapsed)
		}
		if out.TotalProcessed != 1 {
			t.Errorf("processed = %d, want only the first site", out.TotalProcessed)
		}
	})
}

func TestRun_PanicBecomesFailedOther(t *testing.T) {
	es := entries(3)
	ext := &fakeExtract{panicOn: es[1].URL}
	p := New(fakeSearch{entries: es}, ext, config.PipelineConfig{Workers: 1})

	out, err := p.Run(context.Background(), "q", 3)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.TotalProcessed != 3 {
		t.Fatalf("processed = %d", out.TotalProcessed)
	}
	if got := out.SiteRecords[1].Status; got != models.StatusFailedOther {
		t.Errorf("panicking site status = %s", got)
	}
	if out.SiteRecords[2].Status != models.StatusSuccess {
		t.Error("sites after a panic must still be processed")
	}
}

func TestRun_Errors(t *testing.T) {
	t.Run("search failure", func(t *testing.T) {
		p := New(fakeSearch{err: models.NewHarvestError(models.ErrCodeNavigation, "unusable", nil)}, &fakeExtract{}, config.PipelineConfig{})
		out, err := p.Run(context.Background(), "q", 5)
		var he *models.HarvestError
		if !errors.As(err, &he) || he.Code != models.ErrCodeNavigation {
			t.Fatalf("err = %v", err)
		}
		if out.TotalProcessed != 0 || out.TotalTargeted != 0 {
			t.Errorf("output = %+v", out)
		}
	})

	t.Run("infrastructure failure keeps partial output", func(t *testing.T) {
		es := entries(4)
		p := New(fakeSearch{entries: es}, &fakeExtract{failOn: es[2].URL}, config.PipelineConfig{Workers: 1})
		out, err := p.Run(context.Background(), "q", 4)
		if err == nil {
			t.Fatal("expected error")
		}
		if out.TotalProcessed != 2 || out.TotalTargeted != 4 {
			t.Errorf("processed = %d, targeted = %d", out.TotalProcessed, out.TotalTargeted)
		}
		if err := out.Validate(); err != nil {
			t.Errorf("partial output invalid: %v", err)
		}
	})

	t.Run("no results", func(t *testing.T) {
		p := New(fakeSearch{}, &fakeExtract{}, config.PipelineConfig{})
		out, err := p.Run(context.Background(), "q", 5)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if out.TotalProcessed != 0 || out.SiteRecords == nil {
			t.Errorf("output = %+v", out)
		}
	})
}

func TestRun_Progress(t *testing.T) {
	run := NewRun("q", 4)
	if done, total := run.Progress(); done != 0 || total != 0 {
		t.Errorf("fresh run progress = %d/%d", done, total)
	}
	p := New(fakeSearch{entries: entries(4)}, &fakeExtract{}, config.PipelineConfig{Workers: 2})
	if err := p.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if done, total := run.Progress(); done != 4 || total != 4 {
		t.Errorf("progress = %d/%d", done, total)
	}
	if run.Collection() == nil {
		t.Error("collection not kept on the run")
	}
}

const searchHome = `<html><body><form action="/search"><textarea name="q"></textarea></form></body></html>`

func resultBlock(href, title, snippet string) string {
	return `<div class="g"><a href="` + href + `"><h3>` + title + `</h3></a><div class="VwiC3b">` + snippet + `</div></div>`
}

// TestRun_EndToEnd drives the real collector and extractor over a fake browser.
func TestRun_EndToEnd(t *testing.T) {
	const query = "escritórios de contabilidade em Curitiba"
	submit := func(text string) string { return "https://www.google.com/search?q=" + url.QueryEscape(text) }

	results := `<html><body><div id="search"><div id="rso">` +
		resultBlock("https://www.contabil-alfa.com.br/", "Alfa Contabilidade", "Contabilidade para pequenas e médias empresas de Curitiba.") +
		resultBlock("https://www.instagram.com/contabeta", "Beta no Instagram", "Fotos e vídeos do escritório Beta Contábil em Curitiba.") +
		resultBlock("https://gama-contadores.com.br/", "Gama Contadores", "Assessoria fiscal e folha de pagamento para indústrias.") +
		resultBlock("https://delta-fiscal.com.br/", "Delta Fiscal", "Planejamento tributário e abertura de empresas no Paraná.") +
		`</div></div></body></html>`

	alfa := `<html><head><title>Alfa</title></head><body><main>
<h1>Alfa Contabilidade Empresarial em Curitiba</h1>
<p>Cuidamos da contabilidade, do fiscal e da folha de pagamento de mais de trezentas empresas paranaenses.</p>
<p>Atendimento presencial na Avenida Sete de Setembro, 2000, e online para todo o Brasil.</p>
</main></body></html>`

	site := &scrapertest.Site{
		Pages: map[string]*scrapertest.Page{
			serp.Google.HomeURL:                {HTML: searchHome},
			submit(query):                      {HTML: results},
			"https://www.contabil-alfa.com.br/": {HTML: alfa, Status: 200},
			"https://gama-contadores.com.br/":   {HTML: "<html><body>Bad gateway</body></html>", Status: 502},
		},
		SubmitURL: submit,
	}
	opener := &scrapertest.Opener{Site: site}

	collector, err := serp.NewCollector(opener, config.SearchConfig{
		Engine: "google", MaxPages: 1, ResultsPerPage: 10,
		NavigationTimeout: time.Second, ResultsTimeout: time.Second, MinSnippetLength: 20,
	})
	if err != nil {
		t.Fatal(err)
	}
	ext := extractor.New(opener, config.ExtractConfig{
		NavigationTimeout: time.Second, SettleTimeout: time.Second,
		MinTextLength: 150, MaxChars: 15000, MinLineLength: 25, TextFormat: "text",
	}, extractor.Deps{})

	out, err := New(collector, ext, config.PipelineConfig{Workers: 2}).Run(context.Background(), query, 10)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.TotalTargeted != 3 || out.TotalProcessed != 3 {
		t.Fatalf("targeted = %d, processed = %d", out.TotalTargeted, out.TotalProcessed)
	}
	want := []models.ExtractionStatus{models.StatusSuccess, models.StatusFailedHTTPStatus, models.StatusFailedDNS}
	for i, rec := range out.SiteRecords {
		if rec.Status != want[i] {
			t.Errorf("record[%d] %s status = %s, want %s", i, rec.URL, rec.Status, want[i])
		}
		if strings.Contains(rec.URL, "instagram") {
			t.Errorf("excluded domain in output: %s", rec.URL)
		}
	}
	if !opener.AllClosed() {
		t.Error("sessions left open")
	}

	path := filepath.Join(t.TempDir(), "out", "harvest.json")
	if err := WriteJSON(path, out); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	for _, key := range []string{"originalQuery", "collectionTimestamp", "totalTargeted", "totalProcessed", "siteRecords"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("output misses %q", key)
		}
	}
	first := decoded["siteRecords"].([]any)[1].(map[string]any)
	if first["status"] != "failed_http_status" || first["screenshotPath"] != nil {
		t.Errorf("second record = %v", first)
	}
}

func TestWriteJSON_RejectsInvalidOutput(t *testing.T) {
	bad := &models.HarvestOutput{TotalTargeted: 1, TotalProcessed: 2}
	if err := WriteJSON(filepath.Join(t.TempDir(), "x.json"), bad); err == nil {
		t.Error("invalid output must not be written")
	}
}
