package llm

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Labels of the closed sentiment set.
const (
	Bullish = "bullish"
	Bearish = "bearish"
	Neutral = "neutral"
)

// Article is one news item fed to the sentiment prompt.
type Article struct {
	Title   string
	Summary string
}

// Sentiment is the normalized model verdict.
type Sentiment struct {
	Label       string  `json:"sentiment"`
	Score       float64 `json:"score"`
	Explanation string  `json:"explanation"`
}

var (
	reLabel  = regexp.MustCompile(`(?i)(bullish|bearish|neutral)`)
	reNumber = regexp.MustCompile(`-?\d+(\.\d+)?`)
)

// SentimentPrompt renders the analysis prompt for ticker over articles.
func SentimentPrompt(ticker string, articles []Article) string {
	blocks := make([]string, 0, len(articles))
	for _, a := range articles {
		blocks = append(blocks, fmt.Sprintf("Title: %s\nSummary: %s", a.Title, a.Summary))
	}
	return fmt.Sprintf(`Analyze the sentiment of the following news articles for the stock "%s". `+
		`Determine if the overall sentiment is bullish, bearish, or neutral, and provide a sentiment score `+
		`between -1 (very bearish) and 1 (very bullish). Also, provide a brief explanation of your analysis. `+
		`Respond in JSON format with keys "sentiment", "score", and "explanation".`+"\n\n%s",
		ticker, strings.Join(blocks, "\n\n"))
}

// Sentiment asks the model for a verdict on articles about ticker.
func (c *Client) Sentiment(ctx context.Context, ticker string, articles []Article) (Sentiment, error) {
	out, err := c.complete(ctx, Request{Prompt: SentimentPrompt(ticker, articles), Temperature: c.temperature})
	if err != nil {
		return Sentiment{}, fmt.Errorf("sentiment %s: %w", ticker, err)
	}
	return ParseSentiment(out), nil
}

// ParseSentiment reads a model reply. Replies that are not a JSON object
// fall back to the first label word and the first number in the text, with
// the whole reply kept as the explanation.
func ParseSentiment(reply string) Sentiment {
	text := stripFences(reply)
	var s Sentiment
	if gjson.Valid(text) && gjson.Parse(text).IsObject() {
		doc := gjson.Parse(text)
		s = Sentiment{
			Label:       doc.Get("sentiment").String(),
			Score:       doc.Get("score").Float(),
			Explanation: doc.Get("explanation").String(),
		}
	} else {
		s = Sentiment{Label: Neutral, Explanation: text}
		if m := reLabel.FindString(text); m != "" {
			s.Label = m
		}
		if m := reNumber.FindString(text); m != "" {
			s.Score, _ = strconv.ParseFloat(m, 64)
		}
	}
	s.Label = NormalizeLabel(s.Label)
	s.Score = clampScore(s.Score)
	return s
}

// NormalizeLabel lowercases l and maps anything outside the closed set to neutral.
func NormalizeLabel(l string) string {
	switch l = strings.ToLower(strings.TrimSpace(l)); l {
	case Bullish, Bearish, Neutral:
		return l
	default:
		return Neutral
	}
}

func clampScore(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	case v < -1:
		return -1
	default:
		return v
	}
}
