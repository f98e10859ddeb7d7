// Package cache keeps the latest snapshot and sentiment per ticker for quick
// reads by the HTTP API. Entries are JSON encoded.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	logx "marketpulse/pkg/logx"
)

// Kinds of cached records.
const (
	KindSnapshot  = "snapshot"
	KindSentiment = "sentiment"
)

const (
	DefaultPrefix = "marketpulse"
	DefaultTTL    = 24 * time.Hour
)

type Cache interface {
	Put(ctx context.Context, kind, ticker string, v any) error
	// Get decodes the entry into dst and reports whether it existed.
	Get(ctx context.Context, kind, ticker string, dst any) (bool, error)
	Close() error
}

type Config struct {
	Driver string
	URL    string
	Prefix string
	TTL    time.Duration
}

// Open returns the configured cache. "none" or an empty driver yields Nop.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Cache, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Prefix) == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	switch d := strings.ToLower(strings.TrimSpace(cfg.Driver)); d {
	case "", "none":
		return Nop{}, nil
	case "memory":
		return NewMemory(cfg.Prefix, cfg.TTL), nil
	case "redis":
		return OpenRedis(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown cache driver: %s", d)
	}
}

// Key builds "<prefix>:<kind>:<TICKER>".
func Key(prefix, kind, ticker string) string {
	return prefix + ":" + kind + ":" + strings.ToUpper(strings.TrimSpace(ticker))
}

// Nop drops writes and never hits.
type Nop struct{}

func (Nop) Put(context.Context, string, string, any) error         { return nil }
func (Nop) Get(context.Context, string, string, any) (bool, error) { return false, nil }
func (Nop) Close() error                                           { return nil }

// Memory is an in-process cache with the same key and TTL semantics as Redis.
type Memory struct {
	prefix string
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]memEntry
}

type memEntry struct {
	b       []byte
	expires time.Time
}

func NewMemory(prefix string, ttl time.Duration) *Memory {
	return &Memory{prefix: prefix, ttl: ttl, now: time.Now, entries: map[string]memEntry{}}
}

func (m *Memory) Put(_ context.Context, kind, ticker string, v any) error {
	b, err := encode(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[Key(m.prefix, kind, ticker)] = memEntry{b: b, expires: m.now().Add(m.ttl)}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, kind, ticker string, dst any) (bool, error) {
	k := Key(m.prefix, kind, ticker)
	m.mu.Lock()
	e, ok := m.entries[k]
	if ok && !m.now().Before(e.expires) {
		delete(m.entries, k)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, decode(e.b, dst)
}

func (m *Memory) Close() error { return nil }
