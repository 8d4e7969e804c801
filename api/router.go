package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/use-agent/leadharvest/api/handler"
	"github.com/use-agent/leadharvest/api/middleware"
	"github.com/use-agent/leadharvest/cache"
	"github.com/use-agent/leadharvest/config"
	"github.com/use-agent/leadharvest/harvest"
)

// Deps are the components the API serves.
type Deps struct {
	Sessions  handler.BrowserStatus
	Pipeline  handler.Runner
	Search    harvest.Searcher
	Extractor harvest.PageExtractor
	Jobs      *handler.JobStore
	Limiter   *middleware.RateLimiter
	Cache     *cache.Cache
	StartTime time.Time

	// MaxSessions marks the service degraded above this many open sessions.
	MaxSessions int
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health and metrics stay outside auth so probes and scrapers always work.
func NewRouter(d Deps, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	v1.GET("/health", handler.Health(d.Sessions, d.Jobs, d.MaxSessions, d.StartTime))

	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	if d.Limiter != nil {
		protected.Use(d.Limiter.Middleware())
	}

	protected.POST("/harvest", handler.Harvest(d.Pipeline, d.Jobs, cfg.Webhook))
	protected.GET("/harvest/:id", handler.GetHarvest(d.Jobs))
	protected.POST("/search", handler.Search(d.Search))
	protected.POST("/extract", handler.Extract(d.Extractor, d.Cache, cfg.Extract.TextFormat))

	return r
}
