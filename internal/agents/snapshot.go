package agents

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"

	"marketpulse/internal/cache"
	"marketpulse/internal/market"
	"marketpulse/internal/storage"
	"marketpulse/internal/task/scheduler"
	logx "marketpulse/pkg/logx"
)

// Snapshotter stores the current quote of a ticker.
type Snapshotter struct {
	src   market.Source
	store storage.Store
	cache cache.Cache
	clock clockwork.Clock
	log   logx.Logger
}

func NewSnapshotter(src market.Source, store storage.Store, c cache.Cache, clk clockwork.Clock, log logx.Logger) *Snapshotter {
	log, c, clk = defaults(log, c, clk)
	return &Snapshotter{src: src, store: store, cache: c, clock: clk, log: log.With(logx.String("comp", "agent.snapshot"))}
}

// Capture fetches the quote for ticker and appends a snapshot.
func (a *Snapshotter) Capture(ctx context.Context, ticker string) (storage.Snapshot, error) {
	ticker, err := normTicker(ticker)
	if err != nil {
		return storage.Snapshot{}, err
	}
	q, err := a.src.Quote(ctx, ticker)
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("quote %s: %w", ticker, err)
	}
	snap, err := a.store.AppendSnapshot(ctx, storage.Snapshot{
		Ticker: ticker,
		At:     stampFor(ctx, a.clock),
		Quote:  q.Payload(),
	})
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("store snapshot %s: %w", ticker, err)
	}
	if err := a.cache.Put(ctx, cache.KindSnapshot, ticker, snap); err != nil {
		a.log.Warn("cache snapshot failed", logx.String("ticker", ticker), logx.Err(err))
	}
	a.log.Debug("snapshot stored", logx.String("ticker", ticker), logx.Int64("id", snap.ID), logx.Float64("price", q.Price))
	return snap, nil
}

// Task captures every ticker in turn; one failing ticker does not skip the others.
func (a *Snapshotter) Task(tickers []string) scheduler.Runnable {
	tickers = normTickers(tickers)
	return scheduler.RunnableFunc(func(ctx context.Context) error {
		var errs []error
		for _, t := range tickers {
			if _, err := a.Capture(ctx, t); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
