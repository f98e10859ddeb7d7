// Package llm talks to a chat-completion model to score news sentiment and
// produce trading decisions.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "marketpulse/pkg/logx"
)

// ErrEmptyResponse reports a completion without any text.
var ErrEmptyResponse = errors.New("llm: empty response")

// Request is a single-turn completion.
type Request struct {
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Completer is implemented by every provider.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

type Config struct {
	Provider    string
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float64
	Timeout     time.Duration
}

const (
	DefaultOpenAIModel    = "gpt-4o"
	DefaultAnthropicModel = "claude-sonnet-4-20250514"
	defaultMaxTokens      = 2048
)

// New builds the configured provider.
func New(cfg Config, log logx.Logger) (Completer, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("llm %s: api key is required", cfg.Provider)
	}
	switch p := strings.ToLower(strings.TrimSpace(cfg.Provider)); p {
	case "", "openai":
		return NewOpenAI(cfg, log.With(logx.String("provider", "openai"))), nil
	case "anthropic":
		return NewAnthropic(cfg, log.With(logx.String("provider", "anthropic"))), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", p)
	}
}

// Client couples a provider with the prompts used by the agents.
type Client struct {
	c           Completer
	temperature float64
	log         logx.Logger
}

func NewClient(c Completer, temperature float64, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{c: c, temperature: temperature, log: log}
}

func (c *Client) complete(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	out, err := c.c.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", ErrEmptyResponse
	}
	c.log.Debug("completion done", logx.Duration("took", time.Since(start)), logx.Int("chars", len(out)))
	return out, nil
}

// stripFences removes markdown code fences (``` or ```json) around a reply.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "```") {
		return s
	}
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```JSON", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}
