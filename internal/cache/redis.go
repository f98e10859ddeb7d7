package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "marketpulse/pkg/logx"
)

type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    logx.Logger
}

// OpenRedis connects using a redis:// URL, or a bare host:port address.
func OpenRedis(ctx context.Context, cfg Config, log logx.Logger) (*Redis, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("cache: redis url is required (cache.url or REDIS_URL)")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		opt = &redis.Options{Addr: url}
	}
	client := redis.NewClient(opt)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}
	log.Info("redis cache connected", logx.String("addr", opt.Addr), logx.Int("db", opt.DB))
	return &Redis{client: client, prefix: cfg.Prefix, ttl: cfg.TTL, log: log}, nil
}

func (r *Redis) Put(ctx context.Context, kind, ticker string, v any) error {
	b, err := encode(v)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, Key(r.prefix, kind, ticker), b, r.ttl).Err()
}

func (r *Redis) Get(ctx context.Context, kind, ticker string, dst any) (bool, error) {
	b, err := r.client.Get(ctx, Key(r.prefix, kind, ticker)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, decode(b, dst)
}

func (r *Redis) Close() error { return r.client.Close() }

func encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cache: encode: %w", err)
	}
	return b, nil
}

func decode(b []byte, dst any) error {
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("cache: decode: %w", err)
	}
	return nil
}
