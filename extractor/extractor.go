package extractor

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/use-agent/leadharvest/cleaner"
	"github.com/use-agent/leadharvest/config"
	"github.com/use-agent/leadharvest/engine"
	"github.com/use-agent/leadharvest/metrics"
	"github.com/use-agent/leadharvest/models"
	"github.com/use-agent/leadharvest/scraper"
)

// visionDivider separates DOM text from the screenshot description in a
// success_via_image record.
const visionDivider = "\n\n----- page description generated from screenshot -----\n\n"

// maxSteps bounds the state machine; a valid run needs far fewer.
const maxSteps = 16

// Describer turns a screenshot into a text description.
type Describer interface {
	Enabled() bool
	Describe(ctx context.Context, png []byte, pageURL string) (string, error)
}

// Prober asks a host directly how it answers.
type Prober interface {
	Probe(ctx context.Context, rawURL string) (*engine.ProbeResult, error)
}

// Extractor turns one URL into a classified PageExtractionRecord. It is
// safe for concurrent use; every call owns its own browser session.
type Extractor struct {
	opener    scraper.Opener
	text      *cleaner.TextExtractor
	vision    Describer
	prober    Prober
	memory    *engine.HostMemory
	detectors []detector
	cfg       config.ExtractConfig
}

// Deps are the optional collaborators of an Extractor. Nil fields disable
// the feature they provide.
type Deps struct {
	Vision Describer
	Prober Prober
	Memory *engine.HostMemory
}

// New creates an Extractor.
func New(opener scraper.Opener, cfg config.ExtractConfig, deps Deps) *Extractor {
	return &Extractor{
		opener:    opener,
		text:      cleaner.NewTextExtractor(cfg),
		vision:    deps.Vision,
		prober:    deps.Prober,
		memory:    deps.Memory,
		detectors: defaultDetectors(),
		cfg:       cfg,
	}
}

// Extract always returns a record for pageURL unless no session can be
// opened or ctx is cancelled before the record is classified.
func (e *Extractor) Extract(ctx context.Context, pageURL string, entry *models.SearchResultEntry) (*models.PageExtractionRecord, error) {
	start := time.Now()
	log := slog.With("url", pageURL)

	sess, err := e.opener.Open(ctx, scraper.SessionOptions{})
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	// Hard deadline for the whole URL. The parent context may have none.
	runCtx := ctx
	if e.cfg.MaxDuration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.MaxDuration)
		defer cancel()
	}

	ev := Evidence{URL: pageURL, VisionEnabled: e.vision != nil && e.vision.Enabled()}
	var st State = Navigate{}

	for i := 0; i < maxSteps; i++ {
		if _, done := st.(Classified); done {
			break
		}
		if err := ctx.Err(); err != nil {
			log.Info("extraction cancelled", "state", st.stateName())
			return nil, err
		}
		if runCtx.Err() != nil {
			break
		}
		next, nextEv := e.step(runCtx, sess, st, ev)
		log.Debug("extraction step", "from", st.stateName(), "to", next.stateName())
		st, ev = next, nextEv
	}

	final, ok := st.(Classified)
	if !ok {
		final = Classified{Status: models.StatusFailedOther}
	}
	// A step cut short by the deadline leaves partial evidence; anything
	// short of success is reported as the timeout it was.
	if runCtx.Err() != nil && ctx.Err() == nil && final.Status.Failed() {
		log.Warn("extraction deadline exceeded", "state", st.stateName(), "maxDuration", e.cfg.MaxDuration)
		ev.Expired = true
		final = Classified{Status: models.StatusFailedTimeout}
	}

	rec := e.record(pageURL, entry, final.Status, ev)
	rec.DurationMs = time.Since(start).Milliseconds()
	metrics.RecordExtraction(rec)

	log.Info("extraction finished",
		"status", rec.Status,
		"httpStatus", rec.HTTPStatus,
		"chars", len([]rune(rec.ExtractedText)),
		"platform", ev.Platform,
		"durationMs", rec.DurationMs,
	)
	return rec, nil
}

// step runs the I/O of st, records what it observed and hands the evidence
// to decide.
func (e *Extractor) step(ctx context.Context, sess scraper.Session, st State, ev Evidence) (State, Evidence) {
	switch s := st.(type) {
	case Navigate:
		ev = e.navigate(ctx, sess, s, ev)
	case NavigationFailed:
		ev = e.refineNavigation(ctx, ev)
	case Settle:
		ev = e.settle(ctx, sess, ev)
	case CaptureScreenshot:
		ev = e.capture(ctx, sess, ev)
	case ExtractDOM:
		ev = e.extractDOM(ctx, sess, ev)
	case DOMWeak:
		if s.Reason != "marker" {
			e.memory.Set(hostOf(ev.URL), engine.HintSlow)
		}
	case InvokeVision:
		ev = e.describe(ctx, ev)
	}
	return decide(st, ev, e.cfg.MinTextLength), ev
}

func (e *Extractor) navigate(ctx context.Context, sess scraper.Session, s Navigate, ev Evidence) Evidence {
	nctx, cancel := context.WithTimeout(ctx, e.cfg.NavigationTimeout)
	defer cancel()

	ev.Retried = s.Retry
	ev.NavErr = sess.Navigate(nctx, ev.URL, scraper.WaitLoad)

	actx, acancel := e.action(ctx)
	ev.HTTPStatus = sess.StatusCode(actx)
	acancel()

	switch {
	case ev.NavErr != nil:
		ev.NavStatus, ev.NavReason = classifyNavError(ev.NavErr)
	case ev.HTTPStatus >= 400:
		ev.NavStatus, ev.NavReason = models.StatusFailedHTTPStatus, httpStatusReason(ev.HTTPStatus)
	default:
		ev.NavStatus, ev.NavReason = "", ""
	}
	return ev
}

// refineNavigation probes the host when the browser's error could not be
// classified.
func (e *Extractor) refineNavigation(ctx context.Context, ev Evidence) Evidence {
	if ev.NavStatus != models.StatusFailedOther || e.prober == nil || !e.cfg.ProbeOnFailure {
		return ev
	}
	pctx, cancel := context.WithTimeout(ctx, e.cfg.ProbeTimeout)
	defer cancel()

	res, err := e.prober.Probe(pctx, ev.URL)
	switch {
	case err != nil:
		if status, reason := classifyNavError(err); status != models.StatusFailedOther {
			ev.NavStatus, ev.NavReason = status, reason
		}
	case res.StatusCode >= 400:
		ev.HTTPStatus = res.StatusCode
		ev.NavStatus, ev.NavReason = models.StatusFailedHTTPStatus, httpStatusReason(res.StatusCode)
	}
	slog.Debug("navigation failure probed", "url", ev.URL, "status", ev.NavStatus, "probeError", err)
	return ev
}

func (e *Extractor) settle(ctx context.Context, sess scraper.Session, ev Evidence) Evidence {
	if err := sess.Settle(ctx, e.cfg.SettleTimeout); err != nil {
		slog.Debug("page did not settle", "url", ev.URL, "error", err)
	}

	actx, cancel := e.action(ctx)
	html, _ := sess.HTML(actx)
	cancel()
	ev.Platform = detectPlatform(ev.URL, html)
	ev.Pause = e.cfg.ExtraPause
	if ev.Platform != "" || e.memory.Get(hostOf(ev.URL)) == engine.HintSlow {
		ev.Pause = e.cfg.SlowPlatformPause
	}
	_ = sleepCtx(ctx, ev.Pause)
	return ev
}

func (e *Extractor) capture(ctx context.Context, sess scraper.Session, ev Evidence) Evidence {
	actx, cancel := e.action(ctx)
	png, err := sess.Screenshot(actx, true)
	cancel()
	if err != nil {
		slog.Warn("screenshot failed", "url", ev.URL, "error", err)
		return ev
	}
	ev.Screenshot = png

	if e.cfg.ArtifactDir == "" {
		return ev
	}
	name := scraper.ArtifactName("png", hostOf(ev.URL), fmt.Sprintf("%08x", urlHash(ev.URL)))
	path, err := scraper.SaveArtifact(e.cfg.ArtifactDir, "screenshots", name, png)
	if err != nil {
		slog.Warn("screenshot not saved", "url", ev.URL, "error", err)
		return ev
	}
	ev.ScreenshotPath = path
	return ev
}

func (e *Extractor) extractDOM(ctx context.Context, sess scraper.Session, ev Evidence) Evidence {
	actx, cancel := e.action(ctx)
	if err := sess.MarkHidden(actx); err != nil {
		slog.Debug("hidden elements not marked", "url", ev.URL, "error", err)
	}
	cancel()

	actx, cancel = e.action(ctx)
	html, err := sess.HTML(actx)
	cancel()
	if err != nil {
		slog.Warn("page html unavailable", "url", ev.URL, "error", err)
		return ev
	}

	res, err := e.text.Extract(html, ev.URL)
	if err != nil {
		slog.Warn("text extraction failed", "url", ev.URL, "error", err)
	}
	ev.Title = res.Title
	ev.DOMText = res.Text
	ev.Marker = detectMarker(pageSignals{
		Status: ev.HTTPStatus,
		Title:  res.Title,
		HTML:   html,
		Text:   res.Text,
	}, e.detectors)
	return ev
}

func (e *Extractor) describe(ctx context.Context, ev Evidence) Evidence {
	desc, err := e.vision.Describe(ctx, ev.Screenshot, ev.URL)
	ev.Vision, ev.VisionErr = desc, err

	outcome := "ok"
	if err != nil {
		outcome = "error"
		var he *models.HarvestError
		if errors.As(err, &he) && he.Code == models.ErrCodeVisionUnsupported {
			outcome = "unsupported"
		}
		slog.Warn("vision fallback failed", "url", ev.URL, "error", err)
	}
	metrics.VisionCallsTotal.WithLabelValues(outcome).Inc()
	return ev
}

// record builds the final record. The text depends on the status: content
// for successes, a short explanation for navigation failures and marked
// pages, partial DOM text for other failures.
func (e *Extractor) record(pageURL string, entry *models.SearchResultEntry, status models.ExtractionStatus, ev Evidence) *models.PageExtractionRecord {
	rec := models.NewPageExtractionRecord(pageURL, entry)
	_ = rec.SetStatus(status)
	rec.HTTPStatus = ev.HTTPStatus
	if ev.ScreenshotPath != "" {
		p := ev.ScreenshotPath
		rec.ScreenshotPath = &p
	}

	switch status {
	case models.StatusSuccess:
		rec.ExtractedText = ev.DOMText
	case models.StatusSuccessViaImage:
		rec.ExtractedText = mergeVision(ev.DOMText, ev.Vision, e.cfg.MaxChars)
	case models.StatusFailedDOMEmpty:
		rec.ExtractedText = ""
	default:
		switch {
		case ev.Expired:
			rec.ExtractedText = fmt.Sprintf("site unavailable: extraction exceeded %s", e.cfg.MaxDuration)
		case ev.NavStatus != "":
			rec.ExtractedText = navExplanation(ev)
		case ev.Marker != nil && ev.Marker.Challenge:
			rec.ExtractedText = fmt.Sprintf("page blocked by %s bot protection", ev.Marker.Source)
		case ev.Marker != nil:
			rec.ExtractedText = fmt.Sprintf("page shows a %s", ev.Marker.Source)
		default:
			rec.ExtractedText = ev.DOMText
		}
	}
	rec.EstimatedTokens = cleaner.EstimateTokens(rec.ExtractedText)
	return rec
}

// action bounds one page operation after navigation.
func (e *Extractor) action(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.ActionTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.ActionTimeout)
}

func navExplanation(ev Evidence) string {
	reason := ev.NavReason
	if reason == "" {
		reason = "navigation failed"
	}
	if ev.NavStatus == models.StatusFailedTimeout && ev.Retried {
		reason += " (after one retry)"
	}
	return "site unavailable: " + reason
}

// mergeVision keeps the DOM text first and the description after a
// labelled divider.
func mergeVision(domText, vision string, maxChars int) string {
	if domText == "" {
		return cleaner.Truncate(vision, maxChars)
	}
	return cleaner.Truncate(domText+visionDivider+vision, maxChars)
}

func urlHash(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
