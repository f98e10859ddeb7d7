package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Secrets (api keys, DSNs) may be omitted here and supplied through the
// environment instead; see env.go.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	HTTP      HTTPConfig      `json:"http"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Market    MarketConfig    `json:"market"`
	LLM       LLMConfig       `json:"llm"`
	Scraper   ScraperConfig   `json:"scraper"`
	Cache     CacheConfig     `json:"cache"`
	Jobs      JobsConfig      `json:"jobs"`
	Portfolio PortfolioConfig `json:"portfolio"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// HTTPConfig controls the operator/API HTTP server.
// An empty Addr disables the server.
type HTTPConfig struct {
	Addr         string   `json:"addr"`
	ReadTimeout  string   `json:"read_timeout,omitempty"`
	WriteTimeout string   `json:"write_timeout,omitempty"`
	CORSOrigins  []string `json:"cors_origins,omitempty"`
	// Pprof mounts net/http/pprof under /debug/pprof/ when enabled.
	Pprof PprofConfig `json:"pprof"`
}

// PprofConfig guards the profiling endpoints. A non-empty Token is required
// as "Authorization: Bearer <token>" or "?token=".
type PprofConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
}

// SchedulerConfig controls the phase-aligned scheduler.
//
// Alignment:
//   - "once" (default): align the first fire to an interval boundary, then
//     repeat with a fixed period.
//   - "every_tick": recompute the next boundary from the wall clock on every tick.
type SchedulerConfig struct {
	Enabled     bool   `json:"enabled"`
	Alignment   string `json:"alignment,omitempty"`
	TaskTimeout string `json:"task_timeout,omitempty"`
	// Timezone applies to cron schedules only (IANA TZ, e.g. "America/New_York").
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/marketpulse.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // postgres; DATABASE_URL if empty
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

type MarketConfig struct {
	Provider string `json:"provider"` // "yahoo" | "finnhub"
	BaseURL  string `json:"base_url,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

type LLMConfig struct {
	Provider    string   `json:"provider"` // "openai" | "anthropic"
	Model       string   `json:"model,omitempty"`
	BaseURL     string   `json:"base_url,omitempty"`
	APIKey      string   `json:"api_key,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"` // nil means DefaultTemperature
	Timeout     string   `json:"timeout,omitempty"`
}

type ScraperConfig struct {
	UserAgent  string  `json:"user_agent,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
	Timeout    string  `json:"timeout,omitempty"`
	GeneralURL string  `json:"general_url,omitempty"`
	// TickerURL is a fmt template receiving the ticker twice,
	// e.g. "https://finance.yahoo.com/quote/%s/news?p=%s".
	TickerURL string `json:"ticker_url,omitempty"`
	Selector  string `json:"selector,omitempty"`
}

// CacheConfig controls the optional latest-value cache.
type CacheConfig struct {
	Driver string `json:"driver"` // "none" | "memory" | "redis"
	URL    string `json:"url,omitempty"`
	Prefix string `json:"prefix,omitempty"`
	TTL    string `json:"ttl,omitempty"`
}

type JobsConfig struct {
	Snapshot  JobConfig `json:"snapshot"`
	Scrape    JobConfig `json:"scrape"`
	Sentiment JobConfig `json:"sentiment"`
	Cleanup   JobConfig `json:"cleanup"`
}

// JobConfig describes one recurring job.
//
// Schedule accepts an interval ("10s", "every:10m", "01:30") or a cron
// expression ("*/15 * * * *", "cron:0 * * * *", "@hourly").
type JobConfig struct {
	Enabled   bool     `json:"enabled"`
	Schedule  string   `json:"schedule"`
	Tickers   []string `json:"tickers,omitempty"`
	Watchlist []string `json:"watchlist,omitempty"`
	Keep      int      `json:"keep,omitempty"`
	NewsLimit int      `json:"news_limit,omitempty"`
}

type PortfolioConfig struct {
	Path string  `json:"path"`
	Cash float64 `json:"cash,omitempty"`
}
