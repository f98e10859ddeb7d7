package config

import (
	"reflect"
	"slices"
	"sort"
	"strings"

	logx "marketpulse/pkg/logx"
)

// SummarizeConfigChange returns (1) a sorted list of changed sections and
// (2) safe structured attrs for logging. Secrets (api keys, DSNs, cache URLs)
// are reported only as "<field>_set" booleans.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof.Enabled),
			logx.Bool("http.pprof_token_set", newCfg.HTTP.Pprof.Token != ""),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.alignment", newCfg.Scheduler.Alignment),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if oldCfg.Storage.Driver != newCfg.Storage.Driver ||
		oldCfg.Storage.Path != newCfg.Storage.Path ||
		oldCfg.Storage.BusyTimeout != newCfg.Storage.BusyTimeout ||
		oldCfg.Storage.DSN != newCfg.Storage.DSN {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(newCfg.Storage.DSN) != ""),
		)
	}

	if oldCfg.Market != newCfg.Market {
		changed = append(changed, "market")
		attrs = append(attrs,
			logx.String("market.provider", newCfg.Market.Provider),
			logx.Bool("market.api_key_set", newCfg.Market.APIKey != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.LLM, newCfg.LLM) {
		changed = append(changed, "llm")
		attrs = append(attrs,
			logx.String("llm.provider", newCfg.LLM.Provider),
			logx.String("llm.model", newCfg.LLM.Model),
			logx.Bool("llm.api_key_set", newCfg.LLM.APIKey != ""),
		)
	}

	if oldCfg.Scraper != newCfg.Scraper {
		changed = append(changed, "scraper")
		attrs = append(attrs, logx.Float64("scraper.rate_per_sec", newCfg.Scraper.RatePerSec))
	}

	if oldCfg.Cache != newCfg.Cache {
		changed = append(changed, "cache")
		attrs = append(attrs,
			logx.String("cache.driver", newCfg.Cache.Driver),
			logx.Bool("cache.url_set", newCfg.Cache.URL != ""),
		)
	}

	if jobs := diffJobs(oldCfg.Jobs, newCfg.Jobs); len(jobs) > 0 {
		changed = append(changed, "jobs")
		attrs = append(attrs, logx.Strs("jobs.changed", jobs))
	}

	if oldCfg.Portfolio != newCfg.Portfolio {
		changed = append(changed, "portfolio")
	}

	sort.Strings(changed)
	return changed, attrs
}

// ChangedJobs lists job names whose definition differs between two configs.
// The scrape job is also listed when the page URLs it is built from change.
func ChangedJobs(oldCfg, newCfg *Config) []string {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	out := diffJobs(oldCfg.Jobs, newCfg.Jobs)
	urlsChanged := oldCfg.Scraper.GeneralURL != newCfg.Scraper.GeneralURL ||
		oldCfg.Scraper.TickerURL != newCfg.Scraper.TickerURL
	if urlsChanged && !slices.Contains(out, "scrape") {
		out = append(out, "scrape")
	}
	return out
}

func diffJobs(o, n JobsConfig) []string {
	out := make([]string, 0, 4)
	if !reflect.DeepEqual(o.Snapshot, n.Snapshot) {
		out = append(out, "snapshot")
	}
	if !reflect.DeepEqual(o.Scrape, n.Scrape) {
		out = append(out, "scrape")
	}
	if !reflect.DeepEqual(o.Sentiment, n.Sentiment) {
		out = append(out, "sentiment")
	}
	if !reflect.DeepEqual(o.Cleanup, n.Cleanup) {
		out = append(out, "cleanup")
	}
	return out
}
