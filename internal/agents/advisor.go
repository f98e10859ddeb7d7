package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/jonboulle/clockwork"

	"marketpulse/internal/llm"
	"marketpulse/internal/market"
	logx "marketpulse/pkg/logx"
)

// Portfolio is the on-disk holdings file read by the advisor.
type Portfolio struct {
	Cash      float64    `json:"cash"`
	Positions []Position `json:"positions"`
}

type Position struct {
	Ticker   string  `json:"ticker"`
	Quantity float64 `json:"quantity"`
	AvgPrice float64 `json:"avgPrice,omitempty"`
}

// LoadPortfolio reads path. A missing file yields an empty portfolio.
func LoadPortfolio(path string) (Portfolio, error) {
	pf := Portfolio{Positions: []Position{}}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return pf, nil
	}
	if err != nil {
		return pf, err
	}
	if err := json.Unmarshal(b, &pf); err != nil {
		return Portfolio{Positions: []Position{}}, fmt.Errorf("portfolio %s: %w", path, err)
	}
	if pf.Positions == nil {
		pf.Positions = []Position{}
	}
	return pf, nil
}

// Advisor asks the model for a trading decision on one ticker.
type Advisor struct {
	src           market.Source
	analyst       Analyst
	portfolioPath string
	// cash overrides the portfolio file when > 0.
	cash  float64
	clock clockwork.Clock
	log   logx.Logger
}

func NewAdvisor(src market.Source, analyst Analyst, portfolioPath string, cash float64, clk clockwork.Clock, log logx.Logger) *Advisor {
	log, _, clk = defaults(log, nil, clk)
	return &Advisor{
		src: src, analyst: analyst, portfolioPath: portfolioPath, cash: cash, clock: clk,
		log: log.With(logx.String("comp", "agent.advisor")),
	}
}

// Advise loads the portfolio, the current quote and one year of daily bars,
// then returns the model decision. Unparseable replies surface as *llm.ParseError.
func (a *Advisor) Advise(ctx context.Context, ticker string) (llm.Decision, error) {
	ticker, err := normTicker(ticker)
	if err != nil {
		return llm.Decision{}, err
	}
	pf, err := LoadPortfolio(a.portfolioPath)
	if err != nil {
		a.log.Warn("portfolio unreadable; using empty portfolio", logx.String("path", a.portfolioPath), logx.Err(err))
	}
	q, err := a.src.Quote(ctx, ticker)
	if err != nil {
		return llm.Decision{}, fmt.Errorf("quote %s: %w", ticker, err)
	}
	to := a.clock.Now()
	bars, err := a.src.History(ctx, ticker, to.AddDate(-1, 0, 0), to)
	if err != nil {
		return llm.Decision{}, fmt.Errorf("history %s: %w", ticker, err)
	}
	cash := pf.Cash
	if a.cash > 0 {
		cash = a.cash
	}
	d, err := a.analyst.Advise(ctx, llm.AdviceInput{
		Ticker:    ticker,
		Quote:     q.Payload(),
		History:   bars,
		Portfolio: pf,
		Cash:      cash,
	})
	if err != nil {
		return llm.Decision{}, err
	}
	a.log.Info("decision", logx.String("ticker", ticker), logx.String("decision", d.Decision), logx.Float64("quantity", d.Quantity))
	return d, nil
}
