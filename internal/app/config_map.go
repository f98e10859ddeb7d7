package app

import (
	"fmt"
	"strings"
	"time"

	"marketpulse/internal/cache"
	"marketpulse/internal/config"
	"marketpulse/internal/httpapi"
	"marketpulse/internal/llm"
	"marketpulse/internal/market"
	"marketpulse/internal/scraper"
	"marketpulse/internal/storage"
	"marketpulse/internal/task/scheduler"
	logx "marketpulse/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		if path == "" {
			path = "./data/marketpulse.jsonl"
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		d, err := cfg.Durations()
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: d.StorageBusy}, true, nil
	case "postgres", "postgresql":
		if strings.TrimSpace(sc.DSN) == "" {
			return storage.Config{}, false, fmt.Errorf("storage.dsn (or DATABASE_URL) is required when storage.driver=postgres")
		}
		return storage.Config{Driver: "postgres", DSN: sc.DSN}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	align, err := scheduler.ParseAlignment(cfg.Scheduler.Alignment)
	if err != nil {
		return scheduler.Config{}, fmt.Errorf("scheduler.alignment: %w", err)
	}
	d, err := cfg.Durations()
	if err != nil {
		return scheduler.Config{}, err
	}
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return scheduler.Config{
		Enabled:     cfg.Scheduler.Enabled,
		Alignment:   align,
		TaskTimeout: d.TaskTimeout,
		Timezone:    tz,
	}, nil
}

func mapMarketConfig(cfg *config.Config) (market.Config, error) {
	d, err := cfg.Durations()
	if err != nil {
		return market.Config{}, err
	}
	return market.Config{
		Provider: cfg.Market.Provider,
		BaseURL:  cfg.Market.BaseURL,
		APIKey:   cfg.Market.APIKey,
		Timeout:  d.MarketTimeout,
	}, nil
}

func mapLLMConfig(cfg *config.Config) (llm.Config, error) {
	d, err := cfg.Durations()
	if err != nil {
		return llm.Config{}, err
	}
	temperature := config.DefaultTemperature
	if cfg.LLM.Temperature != nil {
		temperature = *cfg.LLM.Temperature
	}
	return llm.Config{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Temperature: temperature,
		Timeout:     d.LLMTimeout,
	}, nil
}

func mapScraperConfig(cfg *config.Config) (scraper.Config, error) {
	d, err := cfg.Durations()
	if err != nil {
		return scraper.Config{}, err
	}
	return scraper.Config{
		UserAgent:  cfg.Scraper.UserAgent,
		RatePerSec: cfg.Scraper.RatePerSec,
		Burst:      cfg.Scraper.Burst,
		Timeout:    d.ScraperTimeout,
		Selector:   cfg.Scraper.Selector,
	}, nil
}

func mapCacheConfig(cfg *config.Config) (cache.Config, error) {
	d, err := cfg.Durations()
	if err != nil {
		return cache.Config{}, err
	}
	return cache.Config{
		Driver: cfg.Cache.Driver,
		URL:    cfg.Cache.URL,
		Prefix: cfg.Cache.Prefix,
		TTL:    d.CacheTTL,
	}, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	d, err := cfg.Durations()
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  d.HTTPRead,
		WriteTimeout: d.HTTPWrite,
		CORSOrigins:  cfg.HTTP.CORSOrigins,
		Debug:        strings.EqualFold(strings.TrimSpace(cfg.Logging.Level), "debug"),
	}, nil
}

// validateConfig runs the checks that need other packages: schedules parse,
// durations map and the timezone loads.
func validateConfig(cfg *config.Config) error {
	jobs := map[string]config.JobConfig{
		"snapshot":  cfg.Jobs.Snapshot,
		"scrape":    cfg.Jobs.Scrape,
		"sentiment": cfg.Jobs.Sentiment,
		"cleanup":   cfg.Jobs.Cleanup,
	}
	for name, j := range jobs {
		if !j.Enabled {
			continue
		}
		if err := scheduler.ValidateSchedule(j.Schedule); err != nil {
			return fmt.Errorf("jobs.%s.schedule: %w", name, err)
		}
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapMarketConfig(cfg); err != nil {
		return err
	}
	if _, err := mapLLMConfig(cfg); err != nil {
		return err
	}
	if _, err := mapScraperConfig(cfg); err != nil {
		return err
	}
	if _, err := mapCacheConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	return nil
}
