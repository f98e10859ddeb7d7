package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"

	"marketpulse/internal/storage"
	"marketpulse/internal/task/scheduler"
	logx "marketpulse/pkg/logx"
)

const newsSource = "Yahoo Finance"

type ScrapeConfig struct {
	GeneralURL string
	// TickerURL is a fmt template that receives the ticker twice.
	TickerURL string
	Watchlist []string
}

// Scraper collects headlines from the general finance page and the news
// page of every watchlist ticker.
type Scraper struct {
	cfg   ScrapeConfig
	pages PageScraper
	store storage.Store
	clock clockwork.Clock
	log   logx.Logger
}

func NewScraper(cfg ScrapeConfig, pages PageScraper, store storage.Store, clk clockwork.Clock, log logx.Logger) *Scraper {
	log, _, clk = defaults(log, nil, clk)
	cfg.Watchlist = normTickers(cfg.Watchlist)
	return &Scraper{cfg: cfg, pages: pages, store: store, clock: clk, log: log.With(logx.String("comp", "agent.scrape"))}
}

// Run scrapes the general page, then each watchlist ticker. Failures are
// collected and returned together after every page was attempted.
func (a *Scraper) Run(ctx context.Context) error {
	var errs []error
	if strings.TrimSpace(a.cfg.GeneralURL) != "" {
		if _, err := a.scrape(ctx, a.cfg.GeneralURL, storage.GeneralTicker, ""); err != nil {
			errs = append(errs, err)
		}
	}
	for _, t := range a.cfg.Watchlist {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		url := fmt.Sprintf(a.cfg.TickerURL, t, t)
		if _, err := a.scrape(ctx, url, t, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ScrapeTicker scrapes one ticker's news page and returns the number of new rows.
func (a *Scraper) ScrapeTicker(ctx context.Context, ticker string) (int, error) {
	ticker, err := normTicker(ticker)
	if err != nil {
		return 0, err
	}
	return a.scrape(ctx, fmt.Sprintf(a.cfg.TickerURL, ticker, ticker), ticker, ticker)
}

func (a *Scraper) scrape(ctx context.Context, pageURL, tag, filter string) (int, error) {
	hs, err := a.pages.Headlines(ctx, pageURL, filter)
	if err != nil {
		return 0, fmt.Errorf("scrape %s: %w", tag, err)
	}
	if len(hs) == 0 {
		a.log.Info("no news articles found", logx.String("ticker", tag))
		return 0, nil
	}
	at := stampFor(ctx, a.clock)
	items := make([]storage.News, 0, len(hs))
	for _, h := range hs {
		items = append(items, storage.News{
			Title:  h.Title,
			Link:   h.Link,
			Source: newsSource,
			Ticker: tag,
			At:     at,
		})
	}
	n, err := a.store.AppendNews(ctx, items)
	if err != nil {
		return n, fmt.Errorf("store news %s: %w", tag, err)
	}
	if skipped := len(items) - n; skipped > 0 {
		a.log.Debug("duplicate news skipped", logx.String("ticker", tag), logx.Int("skipped", skipped))
	}
	a.log.Info("news scraped", logx.String("ticker", tag), logx.Int("found", len(items)), logx.Int("inserted", n))
	return n, nil
}

func (a *Scraper) Task() scheduler.Runnable { return scheduler.RunnableFunc(a.Run) }
