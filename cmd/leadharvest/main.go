package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/leadharvest/api"
	"github.com/use-agent/leadharvest/api/handler"
	"github.com/use-agent/leadharvest/api/middleware"
	"github.com/use-agent/leadharvest/cache"
	"github.com/use-agent/leadharvest/config"
	"github.com/use-agent/leadharvest/engine"
	"github.com/use-agent/leadharvest/extractor"
	"github.com/use-agent/leadharvest/harvest"
	"github.com/use-agent/leadharvest/llm"
	"github.com/use-agent/leadharvest/scraper"
	"github.com/use-agent/leadharvest/serp"
)

// hostMemoryTTL bounds how long a host stays marked as slow.
const hostMemoryTTL = 24 * time.Hour

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup (browser, host
// memory) happens before exit.
func run() int {
	serve := flag.Bool("serve", false, "run the HTTP API instead of a single harvest")
	query := flag.String("query", "", "search query for a single harvest")
	count := flag.Int("count", 10, "number of sites to harvest")
	out := flag.String("out", "", "output JSON path (default from LEADHARVEST_OUTPUT)")
	flag.Parse()

	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()
	if *out != "" {
		cfg.Pipeline.OutputPath = *out
	}

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)

	if !*serve && *query == "" {
		fmt.Fprintln(os.Stderr, "usage: leadharvest -query \"empresas de tecnologia em Curitiba\" [-count 10] [-out harvest.json]")
		fmt.Fprintln(os.Stderr, "       leadharvest -serve")
		return 2
	}

	// ── 3. Initialise scraper (launches browser) ────────────────────
	sc, err := scraper.NewScraper(cfg.Browser)
	if err != nil {
		slog.Error("failed to initialise scraper", "error", err)
		return 1
	}
	defer sc.Close()

	// ── 4. Wire collector, extractor and pipeline ───────────────────
	collector, err := serp.NewCollector(sc, cfg.Search)
	if err != nil {
		slog.Error("invalid search configuration", "error", err)
		return 1
	}

	memory := engine.NewHostMemory(hostMemoryTTL)
	defer memory.Stop()

	deps := extractor.Deps{Memory: memory}
	if cfg.Vision.Enabled() {
		deps.Vision = llm.NewVisionClient(cfg.Vision, nil)
	} else {
		slog.Warn("vision fallback disabled: LEADHARVEST_VISION_API_KEY not set")
	}
	if cfg.Extract.ProbeOnFailure {
		deps.Prober = engine.NewProber(cfg.Extract.ProbeTimeout)
	}
	ext := extractor.New(sc, cfg.Extract, deps)
	pipeline := harvest.New(collector, ext, cfg.Pipeline)

	if *serve {
		return runServer(cfg, sc, collector, ext, pipeline)
	}
	return runOnce(cfg, pipeline, *query, *count)
}

// runOnce executes one harvest and writes the output file. Partial output
// is still written when the run fails midway.
func runOnce(cfg *config.Config, pipeline *harvest.Pipeline, query string, count int) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("leadharvest run starting", "query", query, "count", count, "workers", cfg.Pipeline.Workers)

	out, runErr := pipeline.Run(ctx, query, count)
	if runErr != nil {
		slog.Error("harvest failed", "error", runErr)
	}
	if out != nil && (runErr == nil || out.TotalProcessed > 0) {
		if err := harvest.WriteJSON(cfg.Pipeline.OutputPath, out); err != nil {
			slog.Error("failed to write output", "path", cfg.Pipeline.OutputPath, "error", err)
			return 1
		}
		slog.Info("output written", "path", cfg.Pipeline.OutputPath, "records", out.TotalProcessed)
	}
	if runErr != nil {
		return 1
	}
	return 0
}

func runServer(cfg *config.Config, sc *scraper.Scraper, search harvest.Searcher, ext harvest.PageExtractor, pipeline *harvest.Pipeline) int {
	slog.Info("leadharvest starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"engine", cfg.Search.Engine,
	)

	jobs := handler.NewJobStore(time.Hour)
	defer jobs.Stop()
	limiter := middleware.NewRateLimiter(cfg.RateLimit)
	defer limiter.Stop()
	records := cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL)
	defer records.Stop()

	// ── 5. Setup router ─────────────────────────────────────────────
	router := api.NewRouter(api.Deps{
		Sessions:    sc,
		Pipeline:    pipeline,
		Search:      search,
		Extractor:   ext,
		Jobs:        jobs,
		Limiter:     limiter,
		Cache:       records,
		StartTime:   time.Now(),
		MaxSessions: max(cfg.Pipeline.Workers*4, 8),
	}, cfg)

	// ── 6. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ── 7. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		slog.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		slog.Error("HTTP server error", "error", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	slog.Info("leadharvest stopped")
	return 0
}

// initLogger configures slog based on the LogConfig. Logs go to stderr so
// stdout stays free for tooling.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(os.Stderr, opts)
	} else {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(h))
}
