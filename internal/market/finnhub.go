package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	finnhub "github.com/Finnhub-Stock-API/finnhub-go/v2"

	logx "marketpulse/pkg/logx"
)

// Finnhub serves quotes, company news and daily candles from finnhub.io.
type Finnhub struct {
	api *finnhub.DefaultApiService
	log logx.Logger
	now func() time.Time
}

func NewFinnhub(cfg Config, log logx.Logger) *Finnhub {
	fc := finnhub.NewConfiguration()
	fc.AddDefaultHeader("X-Finnhub-Token", cfg.APIKey)
	fc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		fc.Servers = finnhub.ServerConfigurations{{URL: base}}
	}
	return &Finnhub{api: finnhub.NewAPIClient(fc).DefaultApi, log: log, now: time.Now}
}

func (f *Finnhub) Quote(ctx context.Context, ticker string) (Quote, error) {
	ticker, err := normTicker(ticker)
	if err != nil {
		return Quote{}, err
	}
	res, _, err := f.api.Quote(ctx).Symbol(ticker).Execute()
	if err != nil {
		return Quote{}, fmt.Errorf("finnhub quote %s: %w", ticker, err)
	}
	return quoteFromFinnhub(ticker, res)
}

// quoteFromFinnhub maps the /quote payload. Finnhub answers unknown symbols
// with an all-zero quote instead of an error.
func quoteFromFinnhub(ticker string, res finnhub.Quote) (Quote, error) {
	q := Quote{
		Ticker:        ticker,
		Price:         float64(res.GetC()),
		Change:        float64(res.GetD()),
		ChangePercent: float64(res.GetDp()),
		Open:          float64(res.GetO()),
		High:          float64(res.GetH()),
		Low:           float64(res.GetL()),
		PrevClose:     float64(res.GetPc()),
	}
	if q.Price == 0 && q.PrevClose == 0 {
		return Quote{}, fmt.Errorf("%w: %s", ErrNotFound, ticker)
	}
	if raw, err := json.Marshal(res); err == nil {
		q.Raw = raw
	}
	return q, nil
}

func (f *Finnhub) News(ctx context.Context, ticker string, limit int) ([]NewsRef, error) {
	ticker, err := normTicker(ticker)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	to := f.now().UTC()
	from := to.AddDate(0, 0, -7)
	res, _, err := f.api.CompanyNews(ctx).Symbol(ticker).
		From(from.Format(time.DateOnly)).
		To(to.Format(time.DateOnly)).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("finnhub company news %s: %w", ticker, err)
	}
	return newsFromFinnhub(res, limit), nil
}

func newsFromFinnhub(res []finnhub.CompanyNews, limit int) []NewsRef {
	out := make([]NewsRef, 0, min(len(res), limit))
	for _, n := range res {
		ref := NewsRef{Publisher: "Unknown"}
		if n.Headline != nil {
			ref.Title = *n.Headline
		}
		if n.Url != nil {
			ref.Link = *n.Url
		}
		if n.Source != nil && *n.Source != "" {
			ref.Publisher = *n.Source
		}
		if n.Summary != nil {
			ref.Summary = *n.Summary
		}
		if n.Datetime != nil {
			ref.PublishedAt = time.Unix(*n.Datetime, 0).UTC()
		}
		out = append(out, ref)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PublishedAt.After(out[j].PublishedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (f *Finnhub) History(ctx context.Context, ticker string, from, to time.Time) ([]Bar, error) {
	ticker, err := normTicker(ticker)
	if err != nil {
		return nil, err
	}
	res, _, err := f.api.StockCandles(ctx).Symbol(ticker).Resolution("D").From(from.Unix()).To(to.Unix()).Execute()
	if err != nil {
		return nil, fmt.Errorf("finnhub candles %s: %w", ticker, err)
	}
	return barsFromFinnhub(ticker, res)
}

func barsFromFinnhub(ticker string, res finnhub.StockCandles) ([]Bar, error) {
	if res.GetS() == "no_data" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ticker)
	}
	ts := res.GetT()
	o, h, l, c, v := res.GetO(), res.GetH(), res.GetL(), res.GetC(), res.GetV()
	bars := make([]Bar, 0, len(ts))
	for i, t := range ts {
		if i >= len(c) {
			break
		}
		b := Bar{Time: time.Unix(t, 0).UTC(), Close: float64(c[i])}
		if i < len(o) {
			b.Open = float64(o[i])
		}
		if i < len(h) {
			b.High = float64(h[i])
		}
		if i < len(l) {
			b.Low = float64(l[i])
		}
		if i < len(v) {
			b.Volume = int64(v[i])
		}
		bars = append(bars, b)
	}
	return bars, nil
}
