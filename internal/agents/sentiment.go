package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"marketpulse/internal/cache"
	"marketpulse/internal/llm"
	"marketpulse/internal/market"
	"marketpulse/internal/storage"
	"marketpulse/internal/task/scheduler"
	logx "marketpulse/pkg/logx"
)

const maxConcurrentSummaries = 4

// Sentimenter scores the recent news of a ticker with the language model.
type Sentimenter struct {
	src       market.Source
	pages     PageScraper
	analyst   Analyst
	store     storage.Store
	cache     cache.Cache
	newsLimit int
	clock     clockwork.Clock
	log       logx.Logger
}

func NewSentimenter(src market.Source, pages PageScraper, analyst Analyst, store storage.Store, c cache.Cache, newsLimit int, clk clockwork.Clock, log logx.Logger) *Sentimenter {
	log, c, clk = defaults(log, c, clk)
	if newsLimit <= 0 {
		newsLimit = 10
	}
	return &Sentimenter{
		src: src, pages: pages, analyst: analyst, store: store, cache: c,
		newsLimit: newsLimit, clock: clk,
		log: log.With(logx.String("comp", "agent.sentiment")),
	}
}

// Analyze searches news for ticker, scrapes article summaries concurrently,
// asks the model for a verdict and stores it. ErrNoNews is returned when no
// article with a link was found.
func (a *Sentimenter) Analyze(ctx context.Context, ticker string) (storage.Sentiment, error) {
	ticker, err := normTicker(ticker)
	if err != nil {
		return storage.Sentiment{}, err
	}
	refs, err := a.src.News(ctx, ticker, a.newsLimit)
	if err != nil {
		return storage.Sentiment{}, fmt.Errorf("news %s: %w", ticker, err)
	}
	valid := refs[:0:0]
	for _, r := range refs {
		if strings.TrimSpace(r.Link) != "" {
			valid = append(valid, r)
		}
	}
	if len(valid) == 0 {
		return storage.Sentiment{}, fmt.Errorf("%s: %w", ticker, ErrNoNews)
	}

	articles := make([]llm.Article, len(valid))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSummaries)
	for i, r := range valid {
		g.Go(func() error {
			articles[i] = llm.Article{Title: r.Title, Summary: a.pages.Summary(gctx, r.Link)}
			return nil
		})
	}
	_ = g.Wait()

	verdict, err := a.analyst.Sentiment(ctx, ticker, articles)
	if err != nil {
		return storage.Sentiment{}, err
	}
	rec, err := a.store.AppendSentiment(ctx, storage.Sentiment{
		Ticker:  ticker,
		Label:   verdict.Label,
		Score:   verdict.Score,
		Summary: verdict.Explanation,
		At:      stampFor(ctx, a.clock),
	})
	if err != nil {
		return storage.Sentiment{}, fmt.Errorf("store sentiment %s: %w", ticker, err)
	}
	if err := a.cache.Put(ctx, cache.KindSentiment, ticker, rec); err != nil {
		a.log.Warn("cache sentiment failed", logx.String("ticker", ticker), logx.Err(err))
	}
	a.log.Info("sentiment stored",
		logx.String("ticker", ticker),
		logx.String("sentiment", rec.Label),
		logx.Float64("score", rec.Score),
		logx.Int("articles", len(articles)),
	)
	return rec, nil
}

// Task analyzes every ticker in turn.
func (a *Sentimenter) Task(tickers []string) scheduler.Runnable {
	tickers = normTickers(tickers)
	return scheduler.RunnableFunc(func(ctx context.Context) error {
		var errs []error
		for _, t := range tickers {
			if _, err := a.Analyze(ctx, t); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
