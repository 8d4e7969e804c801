package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Search    SearchConfig
	Extract   ExtractConfig
	Vision    VisionConfig
	Pipeline  PipelineConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Log       LogConfig
	Webhook   WebhookConfig
	Cache     CacheConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the Rod browser instance.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// DefaultProxy is the proxy URL for all browser traffic.
	DefaultProxy string

	// Stealth injects the go-rod/stealth evasions into every session.
	Stealth bool // default: true

	// UserAgent overrides the browser user agent. Empty keeps Chromium's.
	UserAgent string

	// AcceptLanguage is sent with every request and drives SERP locale.
	AcceptLanguage string // default: "pt-BR,pt;q=0.9,en;q=0.8"

	ViewportWidth  int // default: 1366
	ViewportHeight int // default: 900

	// BlockedResourceTypes lists resource types blocked in search sessions.
	// default: ["Image", "Font", "Media"]
	BlockedResourceTypes []string

	// BlockAds drops requests to known ad/tracking hosts in search sessions.
	BlockAds bool // default: true
}

// SearchConfig controls the search result collector.
type SearchConfig struct {
	// Engine selects the selector profile: "google" or "bing".
	Engine string // default: "google"

	// MaxPages is the pagination ceiling per run.
	MaxPages int // default: 5

	// ResultsPerPage approximates organic results per page; MaxPages*ResultsPerPage
	// caps the target count.
	ResultsPerPage int // default: 10

	// PageRetries bounds how often a weak results page is re-waited.
	PageRetries int // default: 2

	// NavigationTimeout bounds each layered navigation attempt.
	NavigationTimeout time.Duration // default: 20s

	// ResultsTimeout bounds the wait for a results container or no-results marker.
	ResultsTimeout time.Duration // default: 10s

	// PagePause is the delay between result pages.
	PagePause time.Duration // default: 2s

	// MinSnippetLength is the shortest snippet considered informative.
	MinSnippetLength int // default: 20

	// DebugDir receives diagnostic screenshots. Empty disables them.
	DebugDir string // default: "debug"
}

// ExtractConfig controls per-URL content extraction.
type ExtractConfig struct {
	NavigationTimeout time.Duration // default: 30s
	SettleTimeout     time.Duration // default: 10s

	// ExtraPause is added after settling; SlowPlatformPause replaces it for
	// site builders known to render late.
	ExtraPause        time.Duration // default: 2s
	SlowPlatformPause time.Duration // default: 6s

	// MinTextLength is the shortest DOM text accepted without vision fallback.
	MinTextLength int // default: 150

	// MaxChars truncates the extracted text.
	MaxChars int // default: 15000

	// MinLineLength / SocialMinLineLength drop uninformative lines.
	MinLineLength       int // default: 25
	SocialMinLineLength int // default: 10

	// TextFormat is "text" or "markdown".
	TextFormat string // default: "text"

	// ArtifactDir is where screenshots are written; record paths are relative to it.
	ArtifactDir string // default: "artifacts"

	// ProbeOnFailure refines unclassified navigation errors with an HTTP probe.
	ProbeOnFailure bool // default: true
	ProbeTimeout   time.Duration // default: 8s

	// ActionTimeout bounds each page operation after navigation (HTML,
	// screenshot, status and selector queries).
	ActionTimeout time.Duration // default: 15s

	// MaxDuration is the hard deadline for one URL. Expiry yields a
	// failed_timeout record. 0 disables it.
	MaxDuration time.Duration // default: 90s
}

// VisionConfig controls the screenshot description fallback.
type VisionConfig struct {
	// APIKey enables the fallback when non-empty.
	APIKey    string
	Model     string        // default: "gpt-4o-mini"
	BaseURL   string        // default: "https://api.openai.com/v1"
	Timeout   time.Duration // default: 60s
	MaxTokens int           // default: 700
}

// Enabled reports whether the vision fallback can be used.
func (v VisionConfig) Enabled() bool {
	return v.APIKey != ""
}

// PipelineConfig controls the per-run extraction lanes.
type PipelineConfig struct {
	// Workers is the number of concurrent extraction lanes.
	Workers int // default: 1

	// RequestPause is enforced between two requests of the same lane.
	RequestPause time.Duration // default: 3s

	// RequestsPerMinute caps all lanes together. 0 disables the shared limit.
	RequestsPerMinute float64 // default: 0

	// OutputPath is where the CLI writes the harvest JSON.
	OutputPath string // default: "harvest.json"
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	Enabled bool // default: true
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 // default: 1
	Burst             int     // default: 3
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// CacheConfig controls the extraction record cache of the extract endpoint.
type CacheConfig struct {
	MaxEntries int           // default: 1000; 0 disables caching
	TTL        time.Duration // default: 1h
}

// WebhookConfig sets a default webhook for async runs.
type WebhookConfig struct {
	URL    string
	Secret string
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("LEADHARVEST_HOST", "0.0.0.0"),
			Port: envIntOr("LEADHARVEST_PORT", 8080),
			Mode: envOr("LEADHARVEST_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:       envBoolOr("LEADHARVEST_HEADLESS", true),
			NoSandbox:      envBoolOr("LEADHARVEST_NO_SANDBOX", false),
			BrowserBin:     os.Getenv("LEADHARVEST_BROWSER_BIN"),
			DefaultProxy:   os.Getenv("LEADHARVEST_PROXY"),
			Stealth:        envBoolOr("LEADHARVEST_STEALTH", true),
			UserAgent:      os.Getenv("LEADHARVEST_USER_AGENT"),
			AcceptLanguage: envOr("LEADHARVEST_ACCEPT_LANGUAGE", "pt-BR,pt;q=0.9,en;q=0.8"),
			ViewportWidth:  envIntOr("LEADHARVEST_VIEWPORT_WIDTH", 1366),
			ViewportHeight: envIntOr("LEADHARVEST_VIEWPORT_HEIGHT", 900),
			BlockedResourceTypes: envSliceOr("LEADHARVEST_BLOCKED_RESOURCES", []string{
				"Image", "Font", "Media",
			}),
			BlockAds: envBoolOr("LEADHARVEST_BLOCK_ADS", true),
		},
		Search: SearchConfig{
			Engine:            envOr("LEADHARVEST_SEARCH_ENGINE", "google"),
			MaxPages:          envIntOr("LEADHARVEST_MAX_PAGES", 5),
			ResultsPerPage:    envIntOr("LEADHARVEST_RESULTS_PER_PAGE", 10),
			PageRetries:       envIntOr("LEADHARVEST_PAGE_RETRIES", 2),
			NavigationTimeout: envDurationOr("LEADHARVEST_SEARCH_NAV_TIMEOUT", 20*time.Second),
			ResultsTimeout:    envDurationOr("LEADHARVEST_RESULTS_TIMEOUT", 10*time.Second),
			PagePause:         envDurationOr("LEADHARVEST_PAGE_PAUSE", 2*time.Second),
			MinSnippetLength:  envIntOr("LEADHARVEST_MIN_SNIPPET_LENGTH", 20),
			DebugDir:          envOr("LEADHARVEST_DEBUG_DIR", "debug"),
		},
		Extract: ExtractConfig{
			NavigationTimeout:   envDurationOr("LEADHARVEST_NAV_TIMEOUT", 30*time.Second),
			SettleTimeout:       envDurationOr("LEADHARVEST_SETTLE_TIMEOUT", 10*time.Second),
			ExtraPause:          envDurationOr("LEADHARVEST_EXTRA_PAUSE", 2*time.Second),
			SlowPlatformPause:   envDurationOr("LEADHARVEST_SLOW_PLATFORM_PAUSE", 6*time.Second),
			MinTextLength:       envIntOr("LEADHARVEST_MIN_TEXT_LENGTH", 150),
			MaxChars:            envIntOr("LEADHARVEST_MAX_CHARS", 15000),
			MinLineLength:       envIntOr("LEADHARVEST_MIN_LINE_LENGTH", 25),
			SocialMinLineLength: envIntOr("LEADHARVEST_SOCIAL_MIN_LINE_LENGTH", 10),
			TextFormat:          envOr("LEADHARVEST_TEXT_FORMAT", "text"),
			ArtifactDir:         envOr("LEADHARVEST_ARTIFACT_DIR", "artifacts"),
			ProbeOnFailure:      envBoolOr("LEADHARVEST_PROBE_ON_FAILURE", true),
			ProbeTimeout:        envDurationOr("LEADHARVEST_PROBE_TIMEOUT", 8*time.Second),
			ActionTimeout:       envDurationOr("LEADHARVEST_ACTION_TIMEOUT", 15*time.Second),
			MaxDuration:         envDurationOr("LEADHARVEST_MAX_DURATION", 90*time.Second),
		},
		Vision: VisionConfig{
			APIKey:    os.Getenv("LEADHARVEST_VISION_API_KEY"),
			Model:     envOr("LEADHARVEST_VISION_MODEL", "gpt-4o-mini"),
			BaseURL:   envOr("LEADHARVEST_VISION_BASE_URL", "https://api.openai.com/v1"),
			Timeout:   envDurationOr("LEADHARVEST_VISION_TIMEOUT", 60*time.Second),
			MaxTokens: envIntOr("LEADHARVEST_VISION_MAX_TOKENS", 700),
		},
		Pipeline: PipelineConfig{
			Workers:           envIntOr("LEADHARVEST_WORKERS", 1),
			RequestPause:      envDurationOr("LEADHARVEST_REQUEST_PAUSE", 3*time.Second),
			RequestsPerMinute: envFloatOr("LEADHARVEST_REQUESTS_PER_MINUTE", 0),
			OutputPath:        envOr("LEADHARVEST_OUTPUT", "harvest.json"),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("LEADHARVEST_AUTH_ENABLED", true),
			APIKeys: envSliceOr("LEADHARVEST_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("LEADHARVEST_RATE_RPS", 1.0),
			Burst:             envIntOr("LEADHARVEST_RATE_BURST", 3),
		},
		Log: LogConfig{
			Level:  envOr("LEADHARVEST_LOG_LEVEL", "info"),
			Format: envOr("LEADHARVEST_LOG_FORMAT", "json"),
		},
		Webhook: WebhookConfig{
			URL:    os.Getenv("LEADHARVEST_WEBHOOK_URL"),
			Secret: os.Getenv("LEADHARVEST_WEBHOOK_SECRET"),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("LEADHARVEST_CACHE_MAX_ENTRIES", 1000),
			TTL:        envDurationOr("LEADHARVEST_CACHE_TTL", time.Hour),
		},
	}
}

// MaxTargetCount is the implementation ceiling on results per run.
func (s SearchConfig) MaxTargetCount() int {
	return s.MaxPages * s.ResultsPerPage
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
