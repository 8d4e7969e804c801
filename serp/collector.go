package serp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/use-agent/leadharvest/config"
	"github.com/use-agent/leadharvest/metrics"
	"github.com/use-agent/leadharvest/models"
	"github.com/use-agent/leadharvest/scraper"
)

// Reasons a collection stopped.
const (
	StopTargetReached = "target_reached"
	StopNoResults     = "no_results"
	StopEmptyPage     = "empty_page"
	StopNoNextPage    = "no_next_page"
	StopPageLimit     = "page_limit"
	StopChallenge     = "challenge"
)

const consentTimeout = 5 * time.Second

// Collection is the result of one Collect call. Counters belong to the
// call, never to the Collector.
type Collection struct {
	Entries      []models.SearchResultEntry
	PagesScraped int
	Candidates   int
	Excluded     int
	StopReason   string
}

// Collector drives a paginated search session. It is safe for concurrent
// use; every Collect call opens its own session.
type Collector struct {
	opener  scraper.Opener
	parser  *Parser
	profile Profile
	cfg     config.SearchConfig
}

// NewCollector wires a collector for the configured engine.
func NewCollector(opener scraper.Opener, cfg config.SearchConfig) (*Collector, error) {
	profile, err := ProfileByName(cfg.Engine)
	if err != nil {
		return nil, err
	}
	if cfg.MaxPages < 1 {
		return nil, fmt.Errorf("search max pages must be at least 1, got %d", cfg.MaxPages)
	}
	return &Collector{
		opener:  opener,
		parser:  NewParser(profile, NewDomainFilter(), cfg.MinSnippetLength),
		profile: profile,
		cfg:     cfg,
	}, nil
}

// Collect returns at most targetCount unique, non-excluded results in
// discovery order. targetCount is clamped to the configured ceiling. Only
// an unusable session is an error; weak pages just end collection early.
func (c *Collector) Collect(ctx context.Context, query string, targetCount int) (*Collection, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, models.NewHarvestError(models.ErrCodeInvalidInput, "query must not be empty", nil)
	}
	if targetCount < 1 {
		return nil, models.NewHarvestError(models.ErrCodeInvalidInput, "target count must be at least 1", nil)
	}
	if limit := c.cfg.MaxTargetCount(); limit > 0 && targetCount > limit {
		slog.Info("target count clamped", "requested", targetCount, "limit", limit)
		targetCount = limit
	}

	log := slog.With("engine", c.profile.Name, "query", query)

	sess, err := c.opener.Open(ctx, scraper.SessionOptions{BlockResources: true})
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	if err := c.start(ctx, sess, query, log); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, models.NewHarvestError(models.ErrCodeNavigation, "search session unusable", err)
	}

	coll := &Collection{}
	seen := make(map[string]struct{})

	for pageNum := 1; ; pageNum++ {
		page, err := c.readPage(ctx, sess, pageNum, log)
		if err != nil {
			return nil, err
		}
		coll.PagesScraped = pageNum
		coll.Candidates += page.Candidates
		coll.Excluded += page.Excluded
		metrics.SerpPagesTotal.WithLabelValues(c.profile.Name).Inc()

		added := 0
		for _, e := range page.Entries {
			if len(coll.Entries) >= targetCount {
				break
			}
			key := URLKey(e.URL)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			coll.Entries = append(coll.Entries, e)
			added++
		}

		log.Info("results page parsed",
			"page", pageNum,
			"candidates", page.Candidates,
			"excluded", page.Excluded,
			"added", added,
			"total", len(coll.Entries),
		)

		switch {
		case len(coll.Entries) >= targetCount:
			coll.StopReason = StopTargetReached
		case page.Challenge:
			coll.StopReason = StopChallenge
		case page.NoResults && added == 0:
			coll.StopReason = StopNoResults
		case added == 0:
			coll.StopReason = StopEmptyPage
		case pageNum >= c.cfg.MaxPages:
			coll.StopReason = StopPageLimit
		}
		if coll.StopReason != "" {
			break
		}

		if err := sleepCtx(ctx, c.cfg.PagePause); err != nil {
			return nil, err
		}
		if !c.nextPage(ctx, sess, log) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			coll.StopReason = StopNoNextPage
			break
		}
	}

	metrics.SerpStopsTotal.WithLabelValues(c.profile.Name, coll.StopReason).Inc()
	log.Info("search collection finished",
		"results", len(coll.Entries),
		"pages", coll.PagesScraped,
		"stopReason", coll.StopReason,
	)
	return coll, nil
}

// start reaches the first results page: home page, consent, query. When
// no search box can be used the direct results URL is loaded instead.
func (c *Collector) start(ctx context.Context, sess scraper.Session, query string, log *slog.Logger) error {
	if err := scraper.NavigateLayered(ctx, sess, c.profile.HomeURL, c.cfg.NavigationTimeout); err != nil {
		return err
	}

	c.dismissConsent(ctx, sess, log)

	err := c.submitQuery(ctx, sess, query)
	if err == nil {
		return nil
	}
	log.Warn("search box submission failed, loading results URL directly", "error", err)
	return scraper.NavigateLayered(ctx, sess, c.profile.SearchURL(query, 0), c.cfg.NavigationTimeout)
}

// dismissConsent clicks the first consent control that exists. Failure is
// logged and otherwise ignored.
func (c *Collector) dismissConsent(ctx context.Context, sess scraper.Session, log *slog.Logger) {
	for _, sel := range c.profile.Consent {
		has, err := c.has(ctx, sess, sel)
		if err != nil || !has {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, consentTimeout)
		err = sess.Click(cctx, sel, scraper.WaitNone)
		if err == nil {
			_ = sess.Settle(cctx, consentTimeout)
		}
		cancel()
		if err == nil {
			log.Debug("consent dismissed", "selector", sel)
			return
		}
		log.Debug("consent click failed", "selector", sel, "error", err)
	}
	log.Debug("no consent interstitial dismissed")
}

func (c *Collector) submitQuery(ctx context.Context, sess scraper.Session, query string) error {
	for _, sel := range c.profile.SearchBox {
		has, err := c.has(ctx, sess, sel)
		if err != nil || !has {
			continue
		}
		sctx, cancel := context.WithTimeout(ctx, c.cfg.NavigationTimeout)
		err = sess.Submit(sctx, sel, query, scraper.WaitDOMContentLoaded)
		cancel()
		return err
	}
	return fmt.Errorf("search box: %w", scraper.ErrElementNotFound)
}

// readPage waits for results or an explicit empty marker and parses the
// page, re-waiting up to PageRetries times while the page looks weak.
func (c *Collector) readPage(ctx context.Context, sess scraper.Session, pageNum int, log *slog.Logger) (Page, error) {
	markers := append(append([]string(nil), c.profile.ResultsContainer...), c.profile.NoResults...)

	var last Page
	for attempt := 1; attempt <= c.cfg.PageRetries+1; attempt++ {
		wctx, cancel := context.WithTimeout(ctx, c.cfg.ResultsTimeout)
		_, waitErr := sess.WaitAny(wctx, markers...)
		cancel()
		if ctx.Err() != nil {
			return Page{}, ctx.Err()
		}

		reason := "empty_page"
		if waitErr != nil {
			reason = "no_results_container"
		}

		html, pageURL, err := c.snapshot(ctx, sess)
		if ctx.Err() != nil {
			return Page{}, ctx.Err()
		}
		if err == nil {
			page, perr := c.parser.Parse(html, pageURL)
			if perr == nil {
				last = page
				if page.Challenge {
					log.Warn("search engine challenge detected", "page", pageNum)
					c.diagnose(ctx, sess, pageNum, attempt, "challenge", log)
					return page, nil
				}
				if page.Candidates > 0 || page.NoResults {
					return page, nil
				}
			} else {
				reason = "parse_error"
			}
		} else {
			reason = "html_unavailable"
		}

		log.Warn("results page looks weak", "page", pageNum, "attempt", attempt, "reason", reason, "waitError", waitErr)
		c.diagnose(ctx, sess, pageNum, attempt, reason, log)

		if attempt <= c.cfg.PageRetries {
			_ = sess.Settle(ctx, c.cfg.ResultsTimeout)
		}
	}
	return last, nil
}

// nextPage clicks the first pagination control that works.
func (c *Collector) nextPage(ctx context.Context, sess scraper.Session, log *slog.Logger) bool {
	for _, sel := range c.profile.NextPage {
		has, err := c.has(ctx, sess, sel)
		if err != nil || !has {
			continue
		}
		nctx, cancel := context.WithTimeout(ctx, c.cfg.NavigationTimeout)
		err = sess.Click(nctx, sel, scraper.WaitDOMContentLoaded)
		cancel()
		if err == nil {
			return true
		}
		if errors.Is(err, context.Canceled) {
			return false
		}
		log.Warn("next page click failed", "selector", sel, "error", err)
	}
	return false
}

// diagnose stores a screenshot named after the page, attempt and reason.
func (c *Collector) diagnose(ctx context.Context, sess scraper.Session, pageNum, attempt int, reason string, log *slog.Logger) {
	if c.cfg.DebugDir == "" {
		return
	}
	actx, cancel := context.WithTimeout(ctx, c.cfg.ResultsTimeout)
	png, err := sess.Screenshot(actx, false)
	cancel()
	if err != nil {
		log.Debug("diagnostic screenshot failed", "error", err)
		return
	}
	name := scraper.ArtifactName("png", "serp", fmt.Sprintf("p%02d", pageNum), fmt.Sprintf("a%d", attempt), reason)
	if _, err := scraper.SaveArtifact(c.cfg.DebugDir, "", name, png); err != nil {
		log.Debug("diagnostic screenshot not saved", "error", err)
	}
}

// has and snapshot bound live-page queries so a stalled renderer cannot
// hold the session past ResultsTimeout.
func (c *Collector) has(ctx context.Context, sess scraper.Session, selector string) (bool, error) {
	actx, cancel := context.WithTimeout(ctx, c.cfg.ResultsTimeout)
	defer cancel()
	return sess.Has(actx, selector)
}

func (c *Collector) snapshot(ctx context.Context, sess scraper.Session) (html, pageURL string, err error) {
	actx, cancel := context.WithTimeout(ctx, c.cfg.ResultsTimeout)
	defer cancel()
	html, err = sess.HTML(actx)
	if err != nil {
		return "", "", err
	}
	return html, sess.URL(actx), nil
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
