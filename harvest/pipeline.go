package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/use-agent/leadharvest/config"
	"github.com/use-agent/leadharvest/metrics"
	"github.com/use-agent/leadharvest/models"
	"github.com/use-agent/leadharvest/serp"
)

// Searcher finds the sites to harvest.
type Searcher interface {
	Collect(ctx context.Context, query string, targetCount int) (*serp.Collection, error)
}

// PageExtractor turns one discovered URL into a record.
type PageExtractor interface {
	Extract(ctx context.Context, pageURL string, entry *models.SearchResultEntry) (*models.PageExtractionRecord, error)
}

// Pipeline runs a search and extracts every discovered site. A Pipeline
// holds no per-run state and can serve concurrent runs.
type Pipeline struct {
	search  Searcher
	extract PageExtractor
	cfg     config.PipelineConfig
}

// New creates a Pipeline.
func New(search Searcher, extract PageExtractor, cfg config.PipelineConfig) *Pipeline {
	return &Pipeline{search: search, extract: extract, cfg: cfg}
}

// Run is the state of one harvest. Its counters can be read while the run
// is in progress.
type Run struct {
	Query       string
	TargetCount int
	StartedAt   time.Time

	mu         sync.Mutex
	collection *serp.Collection
	entries    []models.SearchResultEntry
	records    []*models.PageExtractionRecord

	processed atomic.Int32
}

// NewRun prepares a run for query.
func NewRun(query string, targetCount int) *Run {
	return &Run{Query: query, TargetCount: targetCount, StartedAt: time.Now().UTC()}
}

// Progress returns how many sites were processed out of how many were
// found. Total is 0 until the search finished.
func (r *Run) Progress() (processed, total int) {
	r.mu.Lock()
	total = len(r.entries)
	r.mu.Unlock()
	return int(r.processed.Load()), total
}

// Collection is the search outcome, nil before the search finished.
func (r *Run) Collection() *serp.Collection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.collection
}

// Output assembles the HarvestOutput from what the run has done so far.
// Sites never attempted are left out, in discovery order otherwise.
func (r *Run) Output() *models.HarvestOutput {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := &models.HarvestOutput{
		OriginalQuery:       r.Query,
		CollectionTimestamp: r.StartedAt,
		TotalTargeted:       len(r.entries),
		SiteRecords:         make([]models.PageExtractionRecord, 0, len(r.records)),
	}
	for _, rec := range r.records {
		if rec != nil {
			out.SiteRecords = append(out.SiteRecords, *rec)
		}
	}
	out.TotalProcessed = len(out.SiteRecords)
	return out
}

func (r *Run) setCollection(c *serp.Collection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collection = c
	r.entries = c.Entries
	r.records = make([]*models.PageExtractionRecord, len(c.Entries))
}

func (r *Run) setRecord(i int, rec *models.PageExtractionRecord) {
	r.mu.Lock()
	r.records[i] = rec
	r.mu.Unlock()
	r.processed.Add(1)
}

// Run harvests query and returns the output. On error the returned output
// still holds every record completed before the failure.
func (p *Pipeline) Run(ctx context.Context, query string, targetCount int) (*models.HarvestOutput, error) {
	run := NewRun(query, targetCount)
	err := p.Execute(ctx, run)
	return run.Output(), err
}

// Execute drives run to completion. Only search-session failures, session
// start failures during extraction and cancellation are errors; every
// other per-site problem ends up in that site's record.
func (p *Pipeline) Execute(ctx context.Context, run *Run) error {
	metrics.RunsActive.Inc()
	defer metrics.RunsActive.Dec()

	log := slog.With("query", run.Query)

	coll, err := p.search.Collect(ctx, run.Query, run.TargetCount)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	run.setCollection(coll)
	log.Info("search finished, extracting sites",
		"sites", len(coll.Entries),
		"pages", coll.PagesScraped,
		"stopReason", coll.StopReason,
	)

	if err := p.extractAll(ctx, run, coll.Entries); err != nil {
		return err
	}

	out := run.Output()
	if err := out.Validate(); err != nil {
		log.Error("harvest output inconsistent", "error", err)
		return models.NewHarvestError(models.ErrCodeInternal, "inconsistent harvest output", err)
	}

	counts := out.StatusCounts()
	log.Info("harvest finished",
		"targeted", out.TotalTargeted,
		"processed", out.TotalProcessed,
		"success", counts[models.StatusSuccess],
		"successViaImage", counts[models.StatusSuccessViaImage],
		"elapsed", time.Since(run.StartedAt).Round(time.Millisecond),
	)
	return nil
}

// extractAll feeds the entries to the worker lanes. Every lane pauses
// between its own requests; all lanes share the optional rate limit.
func (p *Pipeline) extractAll(ctx context.Context, run *Run, entries []models.SearchResultEntry) error {
	if len(entries) == 0 {
		return nil
	}

	workers := p.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(entries) {
		workers = len(entries)
	}

	var limiter *rate.Limiter
	if p.cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(p.cfg.RequestsPerMinute/60), 1)
	}

	queue := make(chan int, len(entries))
	for i := range entries {
		queue <- i
	}
	close(queue)

	g, gCtx := errgroup.WithContext(ctx)
	for lane := 0; lane < workers; lane++ {
		g.Go(func() error {
			first := true
			for i := range queue {
				if !first {
					if err := sleepCtx(gCtx, p.cfg.RequestPause); err != nil {
						return err
					}
				}
				first = false

				if limiter != nil {
					if err := limiter.Wait(gCtx); err != nil {
						return err
					}
				}

				entry := entries[i]
				rec, err := p.extractOne(gCtx, entry)
				if err != nil {
					return fmt.Errorf("extract %s: %w", entry.URL, err)
				}
				run.setRecord(i, rec)
			}
			return nil
		})
	}
	return g.Wait()
}

// extractOne turns a panic inside the extractor into a failed_other record
// so one bad page cannot end the run.
func (p *Pipeline) extractOne(ctx context.Context, entry models.SearchResultEntry) (rec *models.PageExtractionRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("extraction panicked", "url", entry.URL, "panic", r, "stack", string(debug.Stack()))
			rec = models.NewPageExtractionRecord(entry.URL, &entry)
			_ = rec.SetStatus(models.StatusFailedOther)
			rec.ExtractedText = fmt.Sprintf("internal error during extraction: %v", r)
			metrics.RecordExtraction(rec)
			err = nil
		}
	}()
	return p.extract.Extract(ctx, entry.URL, &entry)
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
