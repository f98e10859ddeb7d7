package agents

import (
	"context"
	"fmt"

	"marketpulse/internal/storage"
	"marketpulse/internal/task/scheduler"
	logx "marketpulse/pkg/logx"
)

// Cleaner keeps only the most recent records per ticker.
type Cleaner struct {
	store storage.Store
	keep  int
	log   logx.Logger
}

func NewCleaner(store storage.Store, keep int, log logx.Logger) *Cleaner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Cleaner{store: store, keep: keep, log: log.With(logx.String("comp", "agent.cleanup"))}
}

func (a *Cleaner) Clean(ctx context.Context) (storage.PruneResult, error) {
	res, err := a.store.Prune(ctx, a.keep)
	if err != nil {
		return storage.PruneResult{}, fmt.Errorf("prune keep=%d: %w", a.keep, err)
	}
	a.log.Info("old records removed",
		logx.Int("keep", a.keep),
		logx.Int64("snapshots", res.Snapshots),
		logx.Int64("sentiments", res.Sentiments),
	)
	return res, nil
}

func (a *Cleaner) Task() scheduler.Runnable {
	return scheduler.RunnableFunc(func(ctx context.Context) error {
		_, err := a.Clean(ctx)
		return err
	})
}
