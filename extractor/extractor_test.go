package extractor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/use-agent/leadharvest/config"
	"github.com/use-agent/leadharvest/engine"
	"github.com/use-agent/leadharvest/models"
	"github.com/use-agent/leadharvest/scraper/scrapertest"
)

const lawFirmPage = `<html><head><title>Ferraz Advocacia</title></head><body>
<header><nav><a href="/">Início</a> <a href="/contato">Contato</a></nav></header>
<main>
  <h1>Ferraz Advocacia Empresarial em Curitiba</h1>
  <p>Atuamos há mais de vinte anos em direito tributário, trabalhista e societário para empresas do Paraná.</p>
  <p>Nosso escritório fica na Rua XV de Novembro, 1200, Centro. Atendimento de segunda a sexta, das 9h às 18h.</p>
</main>
<footer>© 2024 Ferraz Advocacia</footer>
</body></html>`

// fortyChars renders to exactly 40 characters of text.
const fortyChars = `<html><head><title>Oficina</title></head><body>
<main><p>Oficina Mecânica São Jorge - Curitiba PR</p></main>
</body></html>`

const challengePage = `<html><head><title>Just a moment...</title></head><body>
<div class="cf-turnstile" data-sitekey="x"></div>
<p>Checking if the site connection is secure before proceeding to the page.</p>
</body></html>`

type fakeVision struct {
	desc  string
	err   error
	calls int
}

func (f *fakeVision) Enabled() bool { return true }

func (f *fakeVision) Describe(_ context.Context, png []byte, _ string) (string, error) {
	f.calls++
	if len(png) == 0 {
		return "", errors.New("no image")
	}
	return f.desc, f.err
}

type fakeProber struct {
	res *engine.ProbeResult
	err error
}

func (f fakeProber) Probe(context.Context, string) (*engine.ProbeResult, error) {
	return f.res, f.err
}

func testExtractConfig(t *testing.T) config.ExtractConfig {
	return config.ExtractConfig{
		NavigationTimeout:   time.Second,
		SettleTimeout:       time.Second,
		MinTextLength:       150,
		MaxChars:            15000,
		MinLineLength:       25,
		SocialMinLineLength: 10,
		TextFormat:          "text",
		ArtifactDir:         t.TempDir(),
		ProbeOnFailure:      true,
		ProbeTimeout:        time.Second,
	}
}

func run(t *testing.T, site *scrapertest.Site, cfg config.ExtractConfig, deps Deps, url string) (*models.PageExtractionRecord, *scrapertest.Opener) {
	t.Helper()
	opener := &scrapertest.Opener{Site: site}
	rec, err := New(opener, cfg, deps).Extract(context.Background(), url, &models.SearchResultEntry{URL: url, Title: "t", Snippet: "s"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !opener.AllClosed() {
		t.Error("session was not closed")
	}
	if !rec.Status.Valid() {
		t.Fatalf("invalid status %q", rec.Status)
	}
	return rec, opener
}

func TestExtract_StrongDOM(t *testing.T) {
	const url = "https://ferraz.adv.br/"
	site := &scrapertest.Site{Pages: map[string]*scrapertest.Page{url: {HTML: lawFirmPage, Status: 200}}}
	cfg := testExtractConfig(t)

	rec, _ := run(t, site, cfg, Deps{}, url)

	if rec.Status != models.StatusSuccess {
		t.Fatalf("Status = %s, want success", rec.Status)
	}
	if !strings.HasPrefix(rec.ExtractedText, "Ferraz Advocacia Empresarial em Curitiba") {
		t.Errorf("text = %q", rec.ExtractedText)
	}
	for _, noise := range []string{"Início", "© 2024"} {
		if strings.Contains(rec.ExtractedText, noise) {
			t.Errorf("text contains %q", noise)
		}
	}
	if rec.ScreenshotPath == nil || !strings.HasPrefix(*rec.ScreenshotPath, "screenshots/") {
		t.Fatalf("ScreenshotPath = %v", rec.ScreenshotPath)
	}
	if _, err := os.Stat(filepath.Join(cfg.ArtifactDir, filepath.FromSlash(*rec.ScreenshotPath))); err != nil {
		t.Errorf("screenshot not written: %v", err)
	}
	if rec.SearchResult == nil || rec.SearchResult.Title != "t" {
		t.Errorf("SearchResult = %+v", rec.SearchResult)
	}
	if rec.EstimatedTokens == 0 || rec.HTTPStatus != 200 {
		t.Errorf("EstimatedTokens = %d, HTTPStatus = %d", rec.EstimatedTokens, rec.HTTPStatus)
	}
}

func TestExtract_HTTP503(t *testing.T) {
	const url = "https://fora-do-ar.com.br/"
	site := &scrapertest.Site{Pages: map[string]*scrapertest.Page{
		url: {HTML: "<html><body><h1>Service Unavailable</h1></body></html>", Status: 503},
	}}
	vision := &fakeVision{desc: "should not be used"}

	rec, _ := run(t, site, testExtractConfig(t), Deps{Vision: vision}, url)

	if rec.Status != models.StatusFailedHTTPStatus {
		t.Fatalf("Status = %s, want %s", rec.Status, models.StatusFailedHTTPStatus)
	}
	if rec.ExtractedText == "" || len(rec.ExtractedText) > 120 || !strings.Contains(rec.ExtractedText, "503") {
		t.Errorf("ExtractedText = %q, want a short explanation", rec.ExtractedText)
	}
	if rec.ScreenshotPath != nil {
		t.Errorf("ScreenshotPath = %q, want nil", *rec.ScreenshotPath)
	}
	if vision.calls != 0 {
		t.Errorf("vision called %d times", vision.calls)
	}
}

func TestExtract_TimeoutRetriesOnce(t *testing.T) {
	const url = "https://lento.com.br/"
	site := &scrapertest.Site{Pages: map[string]*scrapertest.Page{
		url: {NavErr: errors.New("navigate: net::ERR_TIMED_OUT")},
	}}

	start := time.Now()
	rec, _ := run(t, site, testExtractConfig(t), Deps{}, url)

	if rec.Status != models.StatusFailedTimeout {
		t.Fatalf("Status = %s, want %s", rec.Status, models.StatusFailedTimeout)
	}
	if got := len(site.Visits()); got != 2 {
		t.Errorf("navigations = %d, want 2", got)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("extraction did not return promptly")
	}
}

func TestExtract_VisionFallback(t *testing.T) {
	const url = "https://oficinasaojorge.com.br/"
	site := &scrapertest.Site{Pages: map[string]*scrapertest.Page{url: {HTML: fortyChars, Status: 200}}}
	desc := strings.Repeat("Auto repair shop offering paint. ", 4)[:120]
	vision := &fakeVision{desc: desc}
	memory := engine.NewHostMemory(time.Hour)
	defer memory.Stop()

	rec, _ := run(t, site, testExtractConfig(t), Deps{Vision: vision, Memory: memory}, url)

	if rec.Status != models.StatusSuccessViaImage {
		t.Fatalf("Status = %s, want %s", rec.Status, models.StatusSuccessViaImage)
	}
	dom := "Oficina Mecânica São Jorge - Curitiba PR"
	if !strings.Contains(rec.ExtractedText, dom) || !strings.Contains(rec.ExtractedText, desc) {
		t.Errorf("ExtractedText = %q, want both DOM text and description", rec.ExtractedText)
	}
	if !strings.Contains(rec.ExtractedText, strings.TrimSpace(visionDivider)) {
		t.Error("DOM text and description are not separated")
	}
	if strings.Index(rec.ExtractedText, dom) > strings.Index(rec.ExtractedText, desc) {
		t.Error("DOM text should come first")
	}
	if rec.ScreenshotPath == nil {
		t.Error("ScreenshotPath missing")
	}
	if vision.calls != 1 {
		t.Errorf("vision calls = %d", vision.calls)
	}
	if memory.Get("oficinasaojorge.com.br") != engine.HintSlow {
		t.Error("weak host should be remembered as slow")
	}
}

func TestExtract_WeakDOMOutcomes(t *testing.T) {
	const url = "https://pequena.com.br/"
	empty := `<html><body><main></main></body></html>`

	tests := []struct {
		name     string
		html     string
		vision   *fakeVision
		want     models.ExtractionStatus
		wantText string
	}{
		{"no vision keeps partial text", fortyChars, nil, models.StatusFailedOther, "Oficina Mecânica São Jorge - Curitiba PR"},
		{"vision error keeps partial text", fortyChars, &fakeVision{err: models.NewHarvestError(models.ErrCodeVisionUnsupported, "bad image", nil)}, models.StatusFailedOther, "Oficina Mecânica São Jorge - Curitiba PR"},
		{"empty without vision", empty, nil, models.StatusFailedDOMEmpty, ""},
		{"empty with failing vision", empty, &fakeVision{err: errors.New("boom")}, models.StatusFailedDOMEmpty, ""},
		{"empty with vision", empty, &fakeVision{desc: "Página com logotipo e telefone."}, models.StatusSuccessViaImage, "Página com logotipo e telefone."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := &scrapertest.Site{Pages: map[string]*scrapertest.Page{url: {HTML: tt.html, Status: 200}}}
			deps := Deps{}
			if tt.vision != nil {
				deps.Vision = tt.vision
			}
			rec, _ := run(t, site, testExtractConfig(t), deps, url)
			if rec.Status != tt.want {
				t.Errorf("Status = %s, want %s", rec.Status, tt.want)
			}
			if rec.ExtractedText != tt.wantText {
				t.Errorf("ExtractedText = %q, want %q", rec.ExtractedText, tt.wantText)
			}
		})
	}
}

func TestExtract_ChallengePageSkipsVision(t *testing.T) {
	const url = "https://protegido.com.br/"
	site := &scrapertest.Site{Pages: map[string]*scrapertest.Page{url: {HTML: challengePage, Status: 200}}}
	vision := &fakeVision{desc: "A verification page."}

	rec, _ := run(t, site, testExtractConfig(t), Deps{Vision: vision}, url)

	if rec.Status != models.StatusFailedOther {
		t.Fatalf("Status = %s", rec.Status)
	}
	if !strings.Contains(rec.ExtractedText, "Cloudflare") {
		t.Errorf("ExtractedText = %q", rec.ExtractedText)
	}
	if vision.calls != 0 {
		t.Error("vision must not describe a challenge page")
	}
}

func TestExtract_NavigationClassification(t *testing.T) {
	tests := []struct {
		name       string
		page       *scrapertest.Page
		prober     Prober
		want       models.ExtractionStatus
		wantStatus int
	}{
		{"unknown host", nil, nil, models.StatusFailedDNS, 0},
		{"refused", &scrapertest.Page{NavErr: errors.New("net::ERR_CONNECTION_REFUSED")}, nil, models.StatusFailedConnectionRefused, 0},
		{"unclassified without probe", &scrapertest.Page{NavErr: errors.New("net::ERR_ABORTED")}, nil, models.StatusFailedOther, 0},
		{"probe finds http status", &scrapertest.Page{NavErr: errors.New("net::ERR_ABORTED")},
			fakeProber{res: &engine.ProbeResult{StatusCode: 403}}, models.StatusFailedHTTPStatus, 403},
		{"probe finds refused", &scrapertest.Page{NavErr: errors.New("net::ERR_ABORTED")},
			fakeProber{err: errors.New("dial tcp 10.0.0.1:443: connect: connection refused")}, models.StatusFailedConnectionRefused, 0},
		{"probe finds nothing", &scrapertest.Page{NavErr: errors.New("net::ERR_ABORTED")},
			fakeProber{res: &engine.ProbeResult{StatusCode: 200}}, models.StatusFailedOther, 0},
	}

	const url = "https://alvo.com.br/"
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := &scrapertest.Site{Pages: map[string]*scrapertest.Page{}}
			if tt.page != nil {
				site.Pages[url] = tt.page
			}
			rec, _ := run(t, site, testExtractConfig(t), Deps{Prober: tt.prober}, url)
			if rec.Status != tt.want {
				t.Errorf("Status = %s, want %s", rec.Status, tt.want)
			}
			if rec.HTTPStatus != tt.wantStatus {
				t.Errorf("HTTPStatus = %d, want %d", rec.HTTPStatus, tt.wantStatus)
			}
			if rec.ExtractedText == "" {
				t.Error("navigation failures carry an explanation")
			}
		})
	}
}

func TestExtract_OpenFailureAndCancellation(t *testing.T) {
	cfg := testExtractConfig(t)

	opener := &scrapertest.Opener{Site: &scrapertest.Site{}, OpenErr: models.NewHarvestError(models.ErrCodeBrowserCrash, "gone", nil)}
	if _, err := New(opener, cfg, Deps{}).Extract(context.Background(), "https://a.com.br/", nil); err == nil {
		t.Error("open failure must propagate")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opener = &scrapertest.Opener{Site: &scrapertest.Site{}}
	if _, err := New(opener, cfg, Deps{}).Extract(ctx, "https://a.com.br/", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// extractWithin fails the test instead of hanging when Extract does not
// return in time.
func extractWithin(t *testing.T, limit time.Duration, ext *Extractor, url string) *models.PageExtractionRecord {
	t.Helper()
	type result struct {
		rec *models.PageExtractionRecord
		err error
	}
	done := make(chan result, 1)
	go func() {
		rec, err := ext.Extract(context.Background(), url, nil)
		done <- result{rec, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("Extract: %v", r.err)
		}
		return r.rec
	case <-time.After(limit):
		t.Fatalf("Extract still blocked after %s", limit)
		return nil
	}
}

func TestExtract_HungRenderer(t *testing.T) {
	const url = "https://travado.com.br/"
	newSite := func() *scrapertest.Site {
		return &scrapertest.Site{Pages: map[string]*scrapertest.Page{url: {HTML: lawFirmPage, Status: 200, Hang: true}}}
	}

	t.Run("per-URL deadline yields failed_timeout", func(t *testing.T) {
		cfg := testExtractConfig(t)
		cfg.ActionTimeout = time.Minute
		cfg.MaxDuration = 200 * time.Millisecond
		opener := &scrapertest.Opener{Site: newSite()}

		rec := extractWithin(t, 5*time.Second, New(opener, cfg, Deps{}), url)

		if rec.Status != models.StatusFailedTimeout {
			t.Fatalf("Status = %s, want failed_timeout", rec.Status)
		}
		if rec.ExtractedText != "site unavailable: extraction exceeded 200ms" {
			t.Errorf("text = %q", rec.ExtractedText)
		}
		if !opener.AllClosed() {
			t.Error("session was not closed")
		}
	})

	t.Run("action timeout bounds each page operation", func(t *testing.T) {
		cfg := testExtractConfig(t)
		cfg.ActionTimeout = 50 * time.Millisecond
		cfg.MaxDuration = 0
		opener := &scrapertest.Opener{Site: newSite()}

		rec := extractWithin(t, 5*time.Second, New(opener, cfg, Deps{}), url)

		// No html and no screenshot came back.
		if rec.Status != models.StatusFailedDOMEmpty {
			t.Fatalf("Status = %s, want failed_dom_empty", rec.Status)
		}
		if rec.ScreenshotPath != nil {
			t.Errorf("ScreenshotPath = %v, want nil", *rec.ScreenshotPath)
		}
	})
}
