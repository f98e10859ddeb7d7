package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	logx "marketpulse/pkg/logx"
)

const (
	defaultYahooBase = "https://query1.finance.yahoo.com"
	browserUA        = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	maxBody          = 4 << 20
)

// Yahoo reads the public chart and search endpoints and reshapes their JSON
// with gjson paths.
type Yahoo struct {
	base string
	http *http.Client
	log  logx.Logger
}

func NewYahoo(cfg Config, log logx.Logger) *Yahoo {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultYahooBase
	}
	return &Yahoo{base: base, http: &http.Client{Timeout: cfg.Timeout}, log: log}
}

func (y *Yahoo) get(ctx context.Context, path string, q url.Values) (gjson.Result, int, error) {
	u := y.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return gjson.Result{}, 0, err
	}
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Accept", "application/json")

	resp, err := y.http.Do(req)
	if err != nil {
		return gjson.Result{}, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return gjson.Result{}, resp.StatusCode, err
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, resp.StatusCode, fmt.Errorf("yahoo %s: status %d: non-JSON body", path, resp.StatusCode)
	}
	return gjson.ParseBytes(body), resp.StatusCode, nil
}

// chart fetches /v8/finance/chart and returns its first result.
func (y *Yahoo) chart(ctx context.Context, ticker string, q url.Values) (gjson.Result, error) {
	doc, status, err := y.get(ctx, "/v8/finance/chart/"+url.PathEscape(ticker), q)
	if err != nil {
		return gjson.Result{}, err
	}
	if code := doc.Get("chart.error.code").String(); code != "" {
		if strings.EqualFold(code, "Not Found") {
			return gjson.Result{}, fmt.Errorf("%w: %s", ErrNotFound, ticker)
		}
		return gjson.Result{}, fmt.Errorf("yahoo chart %s: %s: %s", ticker, code, doc.Get("chart.error.description").String())
	}
	if status == http.StatusNotFound {
		return gjson.Result{}, fmt.Errorf("%w: %s", ErrNotFound, ticker)
	}
	if status >= 300 {
		return gjson.Result{}, fmt.Errorf("yahoo chart %s: status %d", ticker, status)
	}
	res := doc.Get("chart.result.0")
	if !res.Exists() {
		return gjson.Result{}, fmt.Errorf("%w: %s", ErrNotFound, ticker)
	}
	return res, nil
}

func (y *Yahoo) Quote(ctx context.Context, ticker string) (Quote, error) {
	ticker, err := normTicker(ticker)
	if err != nil {
		return Quote{}, err
	}
	res, err := y.chart(ctx, ticker, url.Values{"range": {"1d"}, "interval": {"1d"}})
	if err != nil {
		return Quote{}, err
	}
	meta := res.Get("meta")
	q := Quote{
		Ticker:    ticker,
		Price:     meta.Get("regularMarketPrice").Float(),
		High:      meta.Get("regularMarketDayHigh").Float(),
		Low:       meta.Get("regularMarketDayLow").Float(),
		PrevClose: meta.Get("chartPreviousClose").Float(),
		Currency:  meta.Get("currency").String(),
		Open:      res.Get("indicators.quote.0.open.0").Float(),
		Raw:       []byte(meta.Raw),
	}
	if pc := meta.Get("previousClose"); pc.Exists() {
		q.PrevClose = pc.Float()
	}
	if ts := meta.Get("regularMarketTime").Int(); ts > 0 {
		q.At = time.Unix(ts, 0).UTC()
	}
	if q.PrevClose != 0 {
		q.Change = q.Price - q.PrevClose
		q.ChangePercent = q.Change / q.PrevClose * 100
	}
	return q, nil
}

func (y *Yahoo) News(ctx context.Context, ticker string, limit int) ([]NewsRef, error) {
	ticker, err := normTicker(ticker)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	doc, status, err := y.get(ctx, "/v1/finance/search", url.Values{
		"q":           {ticker},
		"newsCount":   {strconv.Itoa(limit)},
		"quotesCount": {"0"},
	})
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, fmt.Errorf("yahoo search %s: status %d", ticker, status)
	}

	out := []NewsRef{}
	doc.Get("news").ForEach(func(_, n gjson.Result) bool {
		ref := NewsRef{
			Title:     n.Get("title").String(),
			Link:      n.Get("link").String(),
			Publisher: n.Get("publisher").String(),
		}
		if ref.Publisher == "" {
			ref.Publisher = "Unknown"
		}
		if ts := n.Get("providerPublishTime").Int(); ts > 0 {
			ref.PublishedAt = time.Unix(ts, 0).UTC()
		}
		out = append(out, ref)
		return len(out) < limit
	})
	return out, nil
}

func (y *Yahoo) History(ctx context.Context, ticker string, from, to time.Time) ([]Bar, error) {
	ticker, err := normTicker(ticker)
	if err != nil {
		return nil, err
	}
	res, err := y.chart(ctx, ticker, url.Values{
		"period1":  {strconv.FormatInt(from.Unix(), 10)},
		"period2":  {strconv.FormatInt(to.Unix(), 10)},
		"interval": {"1d"},
	})
	if err != nil {
		return nil, err
	}
	ts := res.Get("timestamp").Array()
	q := res.Get("indicators.quote.0")
	opens, highs, lows := q.Get("open").Array(), q.Get("high").Array(), q.Get("low").Array()
	closes, vols := q.Get("close").Array(), q.Get("volume").Array()

	bars := make([]Bar, 0, len(ts))
	for i, t := range ts {
		// Yahoo pads halted sessions with nulls.
		if i >= len(closes) || closes[i].Type == gjson.Null {
			continue
		}
		bars = append(bars, Bar{
			Time:   time.Unix(t.Int(), 0).UTC(),
			Open:   at(opens, i).Float(),
			High:   at(highs, i).Float(),
			Low:    at(lows, i).Float(),
			Close:  closes[i].Float(),
			Volume: at(vols, i).Int(),
		})
	}
	return bars, nil
}

func at(rs []gjson.Result, i int) gjson.Result {
	if i < len(rs) {
		return rs[i]
	}
	return gjson.Result{}
}
