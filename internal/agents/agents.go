// Package agents holds the scheduled jobs of the daemon. Each agent exposes
// a scheduler.Runnable and a direct entry point used by the HTTP API.
package agents

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"marketpulse/internal/cache"
	"marketpulse/internal/llm"
	"marketpulse/internal/scraper"
	"marketpulse/internal/task/scheduler"
	logx "marketpulse/pkg/logx"
)

// ErrNoNews reports that no usable article was found for a ticker.
var ErrNoNews = errors.New("agents: no news articles found")

// ErrTickerRequired is returned when a ticker argument is blank.
var ErrTickerRequired = errors.New("agents: ticker is required")

// PageScraper is the subset of *scraper.Scraper used by the agents.
type PageScraper interface {
	Summary(ctx context.Context, url string) string
	Headlines(ctx context.Context, pageURL, ticker string) ([]scraper.Headline, error)
}

// Analyst is the subset of *llm.Client used by the agents.
type Analyst interface {
	Sentiment(ctx context.Context, ticker string, articles []llm.Article) (llm.Sentiment, error)
	Advise(ctx context.Context, in llm.AdviceInput) (llm.Decision, error)
}

func defaults(log logx.Logger, c cache.Cache, clk clockwork.Clock) (logx.Logger, cache.Cache, clockwork.Clock) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if c == nil {
		c = cache.Nop{}
	}
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return log, c, clk
}

// stampFor prefers the boundary the scheduler fired for over the wall clock,
// so records of one tick share a timestamp.
func stampFor(ctx context.Context, clk clockwork.Clock) time.Time {
	if t, ok := scheduler.TickTime(ctx); ok {
		return t
	}
	return clk.Now()
}

func normTicker(t string) (string, error) {
	t = strings.ToUpper(strings.TrimSpace(t))
	if t == "" {
		return "", ErrTickerRequired
	}
	return t, nil
}

func normTickers(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, t := range in {
		t, err := normTicker(t)
		if err != nil {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
