package storage

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	// ErrInvalidKeep is returned by Prune for keep <= 0.
	ErrInvalidKeep = errors.New("storage: keep must be > 0")
)

// GeneralTicker tags news scraped from the general finance homepage.
const GeneralTicker = "GENERAL"

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path
//   - "postgres": PostgreSQL at DSN
//   - "file": JSON Lines files next to Path
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Snapshot is a point-in-time market quote for one ticker.
// Quote is the provider's payload, stored as-is.
type Snapshot struct {
	ID     int64           `json:"id"`
	Ticker string          `json:"ticker"`
	At     time.Time       `json:"timestamp"`
	Quote  json.RawMessage `json:"quote"`
}

// Sentiment is one language-model verdict on a ticker's recent news.
type Sentiment struct {
	ID      int64     `json:"id"`
	Ticker  string    `json:"ticker"`
	Label   string    `json:"sentiment"`
	Score   float64   `json:"score"`
	Summary string    `json:"summary"`
	At      time.Time `json:"timestamp"`
}

// News is a scraped headline. Link is unique across the collection.
type News struct {
	ID      int64     `json:"id"`
	Title   string    `json:"title"`
	Summary string    `json:"summary"`
	Link    string    `json:"link"`
	Source  string    `json:"source"`
	Ticker  string    `json:"ticker"`
	At      time.Time `json:"date"`
}

// PruneResult counts the rows removed by Prune.
type PruneResult struct {
	Snapshots  int64 `json:"snapshotDeleted"`
	Sentiments int64 `json:"sentimentDeleted"`
}
