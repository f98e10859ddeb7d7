// Package scraper fetches finance pages and extracts headlines and article
// summaries with goquery. Outbound requests share one rate limiter.
package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	logx "marketpulse/pkg/logx"
)

// NoSummary is returned by Summary when nothing usable could be extracted.
const NoSummary = "Summary not available."

const (
	DefaultSelector  = ".js-stream-content a"
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	defaultAccept    = "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8"
	maxPage          = 8 << 20
)

type Config struct {
	UserAgent  string
	RatePerSec float64
	Burst      int
	Timeout    time.Duration
	Selector   string
}

// Headline is one link scraped from a listing page.
type Headline struct {
	Title string
	Link  string
}

type Scraper struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	http *http.Client
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) *Scraper {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scraper{log: log}
	s.Apply(cfg)
	return s
}

// Apply swaps headers, selector and throttle at runtime.
func (s *Scraper) Apply(cfg Config) {
	cfg = normalize(cfg)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
	s.http = &http.Client{Timeout: cfg.Timeout}
}

func normalize(cfg Config) Config {
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if strings.TrimSpace(cfg.Selector) == "" {
		cfg.Selector = DefaultSelector
	}
	return cfg
}

func (s *Scraper) current() (Config, *rate.Limiter, *http.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.limiter, s.http
}

func (s *Scraper) fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	cfg, lim, client := s.current()
	if err := lim.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", cfg.UserAgent)
	req.Header.Set("Accept", defaultAccept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GET %s: status %d", pageURL, resp.StatusCode)
	}
	return goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPage))
}

// Summary extracts a short description of the article at pageURL, trying
// the meta description, the first paragraph and the first article paragraph
// in that order. Fetch failures yield NoSummary.
func (s *Scraper) Summary(ctx context.Context, pageURL string) string {
	doc, err := s.fetch(ctx, pageURL)
	if err != nil {
		s.log.Debug("summary fetch failed", logx.String("url", pageURL), logx.Err(err))
		return NoSummary
	}
	return summarize(doc)
}

func summarize(doc *goquery.Document) string {
	if v, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	if v := strings.TrimSpace(doc.Find("p").First().Text()); v != "" {
		return v
	}
	if v := strings.TrimSpace(doc.Find("article p").First().Text()); v != "" {
		return v
	}
	return NoSummary
}

// Headlines scrapes the links matching the configured selector on pageURL.
// Relative links resolve against pageURL. A non-empty ticker keeps only
// titles mentioning it, case-insensitively.
func (s *Scraper) Headlines(ctx context.Context, pageURL, ticker string) ([]Headline, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("page url: %w", err)
	}
	doc, err := s.fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	cfg, _, _ := s.current()
	return extractHeadlines(doc, base, cfg.Selector, ticker), nil
}

func extractHeadlines(doc *goquery.Document, base *url.URL, selector, ticker string) []Headline {
	needle := strings.ToUpper(strings.TrimSpace(ticker))
	seen := map[string]struct{}{}
	out := []Headline{}
	doc.Find(selector).Each(func(_ int, a *goquery.Selection) {
		title := strings.Join(strings.Fields(a.Text()), " ")
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if title == "" || href == "" {
			return
		}
		if needle != "" && !strings.Contains(strings.ToUpper(title), needle) {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		link := base.ResolveReference(ref).String()
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		out = append(out, Headline{Title: title, Link: link})
	})
	return out
}
