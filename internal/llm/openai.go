package llm

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	logx "marketpulse/pkg/logx"
)

// OpenAI works with api.openai.com and any OpenAI-compatible endpoint.
type OpenAI struct {
	client *openai.Client
	model  string
	log    logx.Logger
}

func NewOpenAI(cfg Config, log logx.Logger) *OpenAI {
	oc := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		oc.BaseURL = base
	}
	if cfg.Timeout > 0 {
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAI{client: openai.NewClientWithConfig(oc), model: model, log: log}
}

func (p *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	oreq := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	}
	// go-openai drops a zero temperature from the payload.
	oreq.Temperature = float32(req.Temperature)
	if oreq.Temperature == 0 {
		oreq.Temperature = math.SmallestNonzeroFloat32
	}
	if req.MaxTokens > 0 {
		oreq.MaxTokens = req.MaxTokens
	}
	resp, err := p.client.CreateChatCompletion(ctx, oreq)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}
