package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads KEY=VALUE files into the process environment.
// Missing files are ignored; variables already set are not overridden.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// applyEnvOverrides fills secrets and a few operational knobs from the environment.
//
// MARKETPULSE_* variables always win. The conventional provider variables
// (OPENAI_API_KEY, DATABASE_URL, ...) only fill empty fields.
func applyEnvOverrides(cfg *Config) {
	overrides := map[string]*string{
		"MARKETPULSE_LOG_LEVEL":       &cfg.Logging.Level,
		"MARKETPULSE_HTTP_ADDR":       &cfg.HTTP.Addr,
		"MARKETPULSE_STORAGE_DRIVER":  &cfg.Storage.Driver,
		"MARKETPULSE_STORAGE_PATH":    &cfg.Storage.Path,
		"MARKETPULSE_STORAGE_DSN":     &cfg.Storage.DSN,
		"MARKETPULSE_MARKET_PROVIDER": &cfg.Market.Provider,
		"MARKETPULSE_MARKET_API_KEY":  &cfg.Market.APIKey,
		"MARKETPULSE_LLM_PROVIDER":    &cfg.LLM.Provider,
		"MARKETPULSE_LLM_MODEL":       &cfg.LLM.Model,
		"MARKETPULSE_LLM_API_KEY":     &cfg.LLM.APIKey,
		"MARKETPULSE_CACHE_URL":       &cfg.Cache.URL,
		"MARKETPULSE_PPROF_TOKEN":     &cfg.HTTP.Pprof.Token,
	}
	for env, ptr := range overrides {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*ptr = v
		}
	}

	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = os.Getenv("DATABASE_URL")
	}
	if cfg.Cache.URL == "" {
		cfg.Cache.URL = os.Getenv("REDIS_URL")
	}
	if cfg.Market.APIKey == "" && strings.EqualFold(strings.TrimSpace(cfg.Market.Provider), "finnhub") {
		cfg.Market.APIKey = os.Getenv("FINNHUB_API_KEY")
	}
	if cfg.LLM.APIKey == "" {
		switch strings.ToLower(strings.TrimSpace(cfg.LLM.Provider)) {
		case "anthropic":
			cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		default:
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
			if cfg.LLM.APIKey == "" {
				cfg.LLM.APIKey = os.Getenv("OPENAI_TOKEN")
			}
		}
	}
}
