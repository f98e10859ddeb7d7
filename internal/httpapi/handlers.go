package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"marketpulse/internal/agents"
	"marketpulse/internal/cache"
	"marketpulse/internal/llm"
	"marketpulse/internal/market"
	"marketpulse/internal/storage"
	logx "marketpulse/pkg/logx"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

type handlers struct {
	d Deps
}

func tickerParam(c *gin.Context) string {
	return strings.ToUpper(strings.TrimSpace(c.Query("ticker")))
}

func getQueryInt(key string, def int, c *gin.Context) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": what + " is not configured"})
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.d.Started).Round(time.Second).String(),
	})
}

func (h *handlers) snapshot(c *gin.Context) {
	ticker := tickerParam(c)
	if ticker == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ticker query parameter is required"})
		return
	}
	if h.d.Snapshots == nil {
		unavailable(c, "snapshot agent")
		return
	}
	snap, err := h.d.Snapshots.Capture(c.Request.Context(), ticker)
	if err != nil {
		h.d.Log.Error("snapshot failed", logx.String("ticker", ticker), logx.Err(err))
		status := http.StatusInternalServerError
		if errors.Is(err, market.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (h *handlers) ticker(c *gin.Context) {
	ticker := tickerParam(c)
	if ticker == "" {
		c.String(http.StatusBadRequest, "Ticker query parameter is required.")
		return
	}
	if h.d.Sentiment == nil {
		unavailable(c, "sentiment agent")
		return
	}
	rec, err := h.d.Sentiment.Analyze(c.Request.Context(), ticker)
	switch {
	case errors.Is(err, agents.ErrNoNews):
		c.String(http.StatusNotFound, "No news articles found.")
		return
	case err != nil:
		h.d.Log.Error("sentiment failed", logx.String("ticker", ticker), logx.Err(err))
		c.String(http.StatusInternalServerError, "Failed to process sentiment.")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Sentiment analysis completed successfully.",
		"data":    rec,
	})
}

func (h *handlers) clean(c *gin.Context) {
	if h.d.Cleaner == nil {
		unavailable(c, "cleanup agent")
		return
	}
	res, err := h.d.Cleaner.Clean(c.Request.Context())
	if err != nil {
		h.d.Log.Error("cleanup failed", logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":          "Cleanup completed successfully.",
		"sentimentDeleted": res.Sentiments,
		"snapshotDeleted":  res.Snapshots,
	})
}

func (h *handlers) inference(c *gin.Context) {
	ticker := tickerParam(c)
	if ticker == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ticker query parameter is required"})
		return
	}
	if h.d.Advisor == nil {
		unavailable(c, "advisor")
		return
	}
	d, err := h.d.Advisor.Advise(c.Request.Context(), ticker)
	if err != nil {
		var pe *llm.ParseError
		if errors.As(err, &pe) {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":       "Failed to parse model response",
				"rawResponse": pe.Raw,
			})
			return
		}
		h.d.Log.Error("inference failed", logx.String("ticker", ticker), logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *handlers) listSnapshots(c *gin.Context) {
	ticker := tickerParam(c)
	if ticker == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ticker query parameter is required"})
		return
	}
	if h.d.Store == nil {
		unavailable(c, "storage")
		return
	}
	limit := min(getQueryInt("limit", defaultListLimit, c), maxListLimit)
	items, err := h.d.Store.LatestSnapshots(c.Request.Context(), ticker, limit)
	if err != nil {
		h.d.Log.Error("list snapshots failed", logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if items == nil {
		items = []storage.Snapshot{}
	}
	c.JSON(http.StatusOK, gin.H{"ticker": ticker, "items": items, "limit": limit})
}

func (h *handlers) listSentiments(c *gin.Context) {
	ticker := tickerParam(c)
	if ticker == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ticker query parameter is required"})
		return
	}
	if h.d.Store == nil {
		unavailable(c, "storage")
		return
	}
	limit := min(getQueryInt("limit", defaultListLimit, c), maxListLimit)
	items, err := h.d.Store.LatestSentiments(c.Request.Context(), ticker, limit)
	if err != nil {
		h.d.Log.Error("list sentiments failed", logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if items == nil {
		items = []storage.Sentiment{}
	}
	c.JSON(http.StatusOK, gin.H{"ticker": ticker, "items": items, "limit": limit})
}

type latestResponse struct {
	Ticker    string             `json:"ticker"`
	Snapshot  *storage.Snapshot  `json:"snapshot"`
	Sentiment *storage.Sentiment `json:"sentiment"`
}

func (h *handlers) latest(c *gin.Context) {
	ticker := tickerParam(c)
	if ticker == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ticker query parameter is required"})
		return
	}
	if h.d.Cache == nil {
		unavailable(c, "cache")
		return
	}
	ctx := c.Request.Context()
	res := latestResponse{Ticker: ticker}

	var snap storage.Snapshot
	ok, err := h.d.Cache.Get(ctx, cache.KindSnapshot, ticker, &snap)
	if err != nil {
		h.d.Log.Warn("cache read failed", logx.String("kind", cache.KindSnapshot), logx.Err(err))
	} else if ok {
		res.Snapshot = &snap
	}
	var sent storage.Sentiment
	ok, err = h.d.Cache.Get(ctx, cache.KindSentiment, ticker, &sent)
	if err != nil {
		h.d.Log.Warn("cache read failed", logx.String("kind", cache.KindSentiment), logx.Err(err))
	} else if ok {
		res.Sentiment = &sent
	}

	if res.Snapshot == nil && res.Sentiment == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no cached data for " + ticker})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) schedules(c *gin.Context) {
	if h.d.Schedules == nil {
		unavailable(c, "scheduler")
		return
	}
	c.JSON(http.StatusOK, h.d.Schedules.Snapshot())
}
