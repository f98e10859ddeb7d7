package config

import (
	"fmt"
	"strings"
	"time"
)

// Durations holds every duration field of a Config, parsed and with the
// defaults applied. A zero TaskTimeout means tasks run without a deadline.
type Durations struct {
	HTTPRead       time.Duration
	HTTPWrite      time.Duration
	TaskTimeout    time.Duration
	StorageBusy    time.Duration
	MarketTimeout  time.Duration
	LLMTimeout     time.Duration
	ScraperTimeout time.Duration
	CacheTTL       time.Duration
}

// Durations parses the duration strings of c. Empty or zero values take the
// package default; negative or malformed values are an error naming the field.
func (c *Config) Durations() (Durations, error) {
	var d Durations
	fields := []struct {
		path string
		raw  string
		def  time.Duration
		dst  *time.Duration
	}{
		{"http.read_timeout", c.HTTP.ReadTimeout, DefaultReadTimeout, &d.HTTPRead},
		{"http.write_timeout", c.HTTP.WriteTimeout, DefaultWriteTimeout, &d.HTTPWrite},
		{"scheduler.task_timeout", c.Scheduler.TaskTimeout, 0, &d.TaskTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout, DefaultBusyTimeout, &d.StorageBusy},
		{"market.timeout", c.Market.Timeout, DefaultMarketTimeout, &d.MarketTimeout},
		{"llm.timeout", c.LLM.Timeout, DefaultLLMTimeout, &d.LLMTimeout},
		{"scraper.timeout", c.Scraper.Timeout, DefaultScraperTimeout, &d.ScraperTimeout},
		{"cache.ttl", c.Cache.TTL, DefaultCacheTTL, &d.CacheTTL},
	}
	for _, f := range fields {
		v, err := parseDuration(f.path, f.raw)
		if err != nil {
			return Durations{}, err
		}
		if v == 0 {
			v = f.def
		}
		*f.dst = v
	}
	return d, nil
}

func parseDuration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return v, nil
}
