// Package httpapi exposes the agents, stored records and scheduler state
// over a small gin HTTP API.
package httpapi

import (
	"context"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"marketpulse/internal/llm"
	"marketpulse/internal/storage"
	"marketpulse/internal/task/scheduler"
	logx "marketpulse/pkg/logx"
)

type SnapshotCapturer interface {
	Capture(ctx context.Context, ticker string) (storage.Snapshot, error)
}

type SentimentAnalyzer interface {
	Analyze(ctx context.Context, ticker string) (storage.Sentiment, error)
}

type Pruner interface {
	Clean(ctx context.Context) (storage.PruneResult, error)
}

type Advisor interface {
	Advise(ctx context.Context, ticker string) (llm.Decision, error)
}

// Reader is the read side of storage.Store.
type Reader interface {
	LatestSnapshots(ctx context.Context, ticker string, limit int) ([]storage.Snapshot, error)
	LatestSentiments(ctx context.Context, ticker string, limit int) ([]storage.Sentiment, error)
}

// LatestCache is the read side of cache.Cache.
type LatestCache interface {
	Get(ctx context.Context, kind, ticker string, dst any) (bool, error)
}

type ScheduleReporter interface {
	Snapshot() scheduler.Snapshot
}

// Deps wires the handlers. Nil members answer 503.
type Deps struct {
	Snapshots  SnapshotCapturer
	Sentiment  SentimentAnalyzer
	Cleaner    Pruner
	Advisor    Advisor
	Store      Reader
	Cache      LatestCache
	Schedules  ScheduleReporter
	Log        logx.Logger
	Started    time.Time
	PprofToken string
	Pprof      bool
}

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
	// Debug keeps gin in debug mode (route dump, warnings on stdout).
	Debug bool
}

// NewRouter builds the gin engine with CORS, recovery and request logging.
func NewRouter(cfg Config, d Deps) *gin.Engine {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Started.IsZero() {
		d.Started = time.Now()
	}
	if gin.Mode() != gin.TestMode {
		gin.SetMode(ginMode(cfg.Debug))
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(d.Log))
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	h := &handlers{d: d}
	r.GET("/healthz", h.health)
	r.GET("/snapshot", h.snapshot)
	r.GET("/ticker", h.ticker)
	r.GET("/clean", h.clean)
	r.GET("/inference", h.inference)
	r.GET("/snapshots", h.listSnapshots)
	r.GET("/sentiments", h.listSentiments)
	r.GET("/latest", h.latest)
	r.GET("/schedules", h.schedules)
	if d.Pprof {
		mountPprof(r, d.PprofToken)
	}
	return r
}

func ginMode(debug bool) string {
	if debug {
		return gin.DebugMode
	}
	return gin.ReleaseMode
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods: []string{"GET", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	clean := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			clean = append(clean, o)
		}
	}
	if len(clean) == 0 || (len(clean) == 1 && clean[0] == "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = clean
	}
	return c
}

func requestLogger(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []logx.Field{
			logx.String("method", c.Request.Method),
			logx.String("path", c.Request.URL.Path),
			logx.Int("status", status),
			logx.Duration("took", time.Since(start)),
		}
		if status >= 500 {
			log.Warn("http request", fields...)
			return
		}
		log.Debug("http request", fields...)
	}
}
