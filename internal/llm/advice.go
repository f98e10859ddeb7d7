package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const adviceTemperature = 0.7

// Decision is the trading recommendation returned by the model.
type Decision struct {
	Decision string  `json:"decision"`
	Quantity float64 `json:"quantity"`
	Analysis string  `json:"analysis"`
}

// AdviceInput carries the market context rendered into the prompt. Quote,
// History and Portfolio are serialized as JSON.
type AdviceInput struct {
	Ticker    string
	Quote     any
	History   any
	Portfolio any
	Cash      float64
}

// ParseError keeps the raw reply of a response that could not be decoded.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string { return "llm: unparseable response: " + e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

func AdvicePrompt(in AdviceInput) (string, error) {
	quote, err := json.Marshal(in.Quote)
	if err != nil {
		return "", fmt.Errorf("encode quote: %w", err)
	}
	hist, err := json.Marshal(in.History)
	if err != nil {
		return "", fmt.Errorf("encode history: %w", err)
	}
	pf, err := json.Marshal(in.Portfolio)
	if err != nil {
		return "", fmt.Errorf("encode portfolio: %w", err)
	}
	var b strings.Builder
	b.WriteString("You are a trading assistant. Given the following data:\n")
	fmt.Fprintf(&b, "Ticker: %s\n", in.Ticker)
	fmt.Fprintf(&b, "Current Data: %s\n", quote)
	fmt.Fprintf(&b, "Historical Data (Last Year): %s\n", hist)
	fmt.Fprintf(&b, "Portfolio: %s\n", pf)
	fmt.Fprintf(&b, "Cash (USD): $%.2f\n", in.Cash)
	fmt.Fprintf(&b, "Based on this data, provide a trading decision for %s.\n", in.Ticker)
	b.WriteString("Respond in **JSON format** with:\n")
	b.WriteString(`- "decision": "wait", "sell", or "buy"` + "\n")
	b.WriteString(`- "quantity": The number of shares to buy/sell, -1 if wait, can be fractional. You cannot spend more than the cash we have.` + "\n")
	b.WriteString(`- "analysis": Your reasoning.` + "\n")
	b.WriteString("Only return JSON, no additional commentary or formatting.\n")
	return b.String(), nil
}

// Advise asks the model for a trading decision. A reply that does not
// decode into a Decision yields a *ParseError.
func (c *Client) Advise(ctx context.Context, in AdviceInput) (Decision, error) {
	prompt, err := AdvicePrompt(in)
	if err != nil {
		return Decision{}, err
	}
	out, err := c.complete(ctx, Request{Prompt: prompt, Temperature: adviceTemperature})
	if err != nil {
		return Decision{}, fmt.Errorf("advise %s: %w", in.Ticker, err)
	}
	return ParseDecision(out)
}

func ParseDecision(reply string) (Decision, error) {
	text := stripFences(reply)
	var d Decision
	if err := json.Unmarshal([]byte(text), &d); err != nil {
		return Decision{}, &ParseError{Raw: text, Err: err}
	}
	d.Decision = strings.ToLower(strings.TrimSpace(d.Decision))
	switch d.Decision {
	case "wait", "sell", "buy":
	default:
		return Decision{}, &ParseError{Raw: text, Err: fmt.Errorf("unknown decision %q", d.Decision)}
	}
	return d, nil
}
