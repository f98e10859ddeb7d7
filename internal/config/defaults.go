package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultHTTPAddr    = ":5000"
	DefaultKeep        = 200
	DefaultNewsLimit   = 10
	DefaultGeneralURL  = "https://finance.yahoo.com"
	DefaultTickerURL   = "https://finance.yahoo.com/quote/%s/news?p=%s"
	DefaultSelector    = ".js-stream-content a"
	DefaultLLMModel    = "gpt-4o"
	DefaultTemperature = 0.5
)

// Per-field defaults for the duration strings; see Config.Durations.
const (
	DefaultReadTimeout    = 15 * time.Second
	DefaultWriteTimeout   = 3 * time.Minute // sentiment and inference wait on the model
	DefaultBusyTimeout    = time.Second
	DefaultMarketTimeout  = 10 * time.Second
	DefaultLLMTimeout     = 2 * time.Minute
	DefaultScraperTimeout = 15 * time.Second
	DefaultCacheTTL       = 24 * time.Hour
)

// WithDefaults returns a copy with zero values replaced by defaults.
// It never overrides explicit values.
func (c Config) WithDefaults() Config {
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if strings.TrimSpace(c.Scheduler.Alignment) == "" {
		c.Scheduler.Alignment = "once"
	}
	if strings.TrimSpace(c.Market.Provider) == "" {
		c.Market.Provider = "yahoo"
	}
	if strings.TrimSpace(c.LLM.Provider) == "" {
		c.LLM.Provider = "openai"
	}
	if strings.TrimSpace(c.LLM.Model) == "" && strings.EqualFold(c.LLM.Provider, "openai") {
		c.LLM.Model = DefaultLLMModel
	}
	if c.LLM.Temperature == nil {
		t := DefaultTemperature
		c.LLM.Temperature = &t
	}
	if c.Scraper.RatePerSec <= 0 {
		c.Scraper.RatePerSec = 2
	}
	if c.Scraper.Burst <= 0 {
		c.Scraper.Burst = 4
	}
	if strings.TrimSpace(c.Scraper.GeneralURL) == "" {
		c.Scraper.GeneralURL = DefaultGeneralURL
	}
	if strings.TrimSpace(c.Scraper.TickerURL) == "" {
		c.Scraper.TickerURL = DefaultTickerURL
	}
	if strings.TrimSpace(c.Scraper.Selector) == "" {
		c.Scraper.Selector = DefaultSelector
	}
	if strings.TrimSpace(c.Cache.Driver) == "" {
		c.Cache.Driver = "none"
	}
	if strings.TrimSpace(c.Cache.Prefix) == "" {
		c.Cache.Prefix = "marketpulse"
	}
	if strings.TrimSpace(c.Jobs.Snapshot.Schedule) == "" {
		c.Jobs.Snapshot.Schedule = "10s"
	}
	if strings.TrimSpace(c.Jobs.Scrape.Schedule) == "" {
		c.Jobs.Scrape.Schedule = "cron:*/15 * * * *"
	}
	if strings.TrimSpace(c.Jobs.Sentiment.Schedule) == "" {
		c.Jobs.Sentiment.Schedule = "10m"
	}
	if c.Jobs.Sentiment.NewsLimit <= 0 {
		c.Jobs.Sentiment.NewsLimit = DefaultNewsLimit
	}
	if strings.TrimSpace(c.Jobs.Cleanup.Schedule) == "" {
		c.Jobs.Cleanup.Schedule = "1h"
	}
	if c.Jobs.Cleanup.Keep <= 0 {
		c.Jobs.Cleanup.Keep = DefaultKeep
	}
	if strings.TrimSpace(c.Portfolio.Path) == "" {
		c.Portfolio.Path = "data/portfolio.json"
	}
	return c
}

// Validate performs static checks that don't need other packages.
// Schedule strings are validated by the app (it owns the scheduler parser).
func Validate(c *Config) error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := c.Durations(); err != nil {
		return err
	}

	switch strings.ToLower(strings.TrimSpace(c.Scheduler.Alignment)) {
	case "", "once", "every_tick":
	default:
		return fmt.Errorf("scheduler.alignment: unknown value %q (use once|every_tick)", c.Scheduler.Alignment)
	}
	switch strings.ToLower(strings.TrimSpace(c.Market.Provider)) {
	case "", "yahoo", "finnhub":
	default:
		return fmt.Errorf("market.provider: unknown value %q", c.Market.Provider)
	}
	switch strings.ToLower(strings.TrimSpace(c.LLM.Provider)) {
	case "", "openai", "anthropic":
	default:
		return fmt.Errorf("llm.provider: unknown value %q", c.LLM.Provider)
	}
	if t := c.LLM.Temperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("llm.temperature must be within [0, 2]")
	}
	switch strings.ToLower(strings.TrimSpace(c.Cache.Driver)) {
	case "", "none", "memory", "redis":
	default:
		return fmt.Errorf("cache.driver: unknown value %q", c.Cache.Driver)
	}
	if c.Jobs.Cleanup.Keep < 0 {
		return fmt.Errorf("jobs.cleanup.keep must be >= 0")
	}
	if c.Scraper.RatePerSec < 0 {
		return fmt.Errorf("scraper.rate_per_sec must be >= 0")
	}
	return nil
}
