// Package market fetches quotes, news references and daily history for a
// ticker from a configurable provider (Yahoo Finance or Finnhub).
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "marketpulse/pkg/logx"
)

// ErrNotFound reports an unknown ticker or an empty upstream answer.
var ErrNotFound = errors.New("market: ticker not found")

// Source is the quote source used by the agents.
type Source interface {
	Quote(ctx context.Context, ticker string) (Quote, error)
	News(ctx context.Context, ticker string, limit int) ([]NewsRef, error)
	History(ctx context.Context, ticker string, from, to time.Time) ([]Bar, error)
}

// Quote is a point-in-time market quote. Raw keeps the provider payload so
// snapshots store exactly what the provider returned.
type Quote struct {
	Ticker        string          `json:"ticker"`
	Price         float64         `json:"price"`
	Change        float64         `json:"change"`
	ChangePercent float64         `json:"changePercent"`
	Open          float64         `json:"open,omitempty"`
	High          float64         `json:"high,omitempty"`
	Low           float64         `json:"low,omitempty"`
	PrevClose     float64         `json:"previousClose,omitempty"`
	Currency      string          `json:"currency,omitempty"`
	At            time.Time       `json:"marketTime"`
	Raw           json.RawMessage `json:"raw,omitempty"`
}

// Payload returns the JSON blob persisted with a snapshot.
func (q Quote) Payload() json.RawMessage {
	if len(q.Raw) > 0 {
		return q.Raw
	}
	b, err := json.Marshal(q)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

// NewsRef is a headline pointing at an article.
type NewsRef struct {
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Publisher   string    `json:"publisher"`
	Summary     string    `json:"summary,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
}

// Bar is one daily OHLCV candle.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

type Config struct {
	Provider string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
}

// New builds the configured provider.
func New(cfg Config, log logx.Logger) (Source, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	switch p := strings.ToLower(strings.TrimSpace(cfg.Provider)); p {
	case "", "yahoo":
		return NewYahoo(cfg, log.With(logx.String("provider", "yahoo"))), nil
	case "finnhub":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("finnhub api key is required (market.api_key or FINNHUB_API_KEY)")
		}
		return NewFinnhub(cfg, log.With(logx.String("provider", "finnhub"))), nil
	default:
		return nil, fmt.Errorf("unknown market provider: %s", p)
	}
}

func normTicker(t string) (string, error) {
	t = strings.ToUpper(strings.TrimSpace(t))
	if t == "" {
		return "", errors.New("market: ticker required")
	}
	return t, nil
}
