package storage

import (
	"context"
	"errors"
	"strings"

	logx "marketpulse/pkg/logx"
)

// Store is the persistence API used by the agents and the HTTP API.
type Store interface {
	AppendSnapshot(ctx context.Context, s Snapshot) (Snapshot, error)
	AppendSentiment(ctx context.Context, s Sentiment) (Sentiment, error)
	// AppendNews inserts items, skipping links already stored.
	AppendNews(ctx context.Context, items []News) (inserted int, err error)
	LatestSnapshots(ctx context.Context, ticker string, limit int) ([]Snapshot, error)
	LatestSentiments(ctx context.Context, ticker string, limit int) ([]Sentiment, error)
	// Prune keeps the most recent keep snapshots and sentiments per ticker.
	Prune(ctx context.Context, keep int) (PruneResult, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(context.Background(), cfg, log)
	case "postgres", "postgresql":
		return openPostgres(context.Background(), cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
