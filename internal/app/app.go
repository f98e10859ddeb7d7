package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"marketpulse/internal/agents"
	"marketpulse/internal/cache"
	"marketpulse/internal/config"
	"marketpulse/internal/httpapi"
	"marketpulse/internal/llm"
	"marketpulse/internal/market"
	"marketpulse/internal/runtime/supervisor"
	"marketpulse/internal/scraper"
	"marketpulse/internal/storage"
	"marketpulse/internal/task/scheduler"
	logx "marketpulse/pkg/logx"
	"marketpulse/pkg/systemd"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	clock clockwork.Clock

	store   storage.Store
	cache   cache.Cache
	source  market.Source
	pages   *scraper.Scraper
	analyst *llm.Client

	sched  *scheduler.Service
	jobs   *jobs
	server *httpapi.Server

	started time.Time
}

// Option tweaks New. Mostly used by tests.
type Option func(*options)

type options struct {
	clock clockwork.Clock
}

// WithClock injects the clock used by the scheduler and the agents.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	o := options{clock: clockwork.NewRealClock()}
	for _, fn := range opts {
		fn(&o)
	}

	if err := config.LoadEnvFiles(".env"); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validateConfig(cfg) })
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	alog := log.With(logx.String("comp", "app"))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     alog,
		logs:    logSvc,
		clock:   o.clock,
	}
	ok := false
	defer func() {
		if !ok {
			a.closeResources()
		}
	}()

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		a.store = st
		alog.Info("storage enabled", logx.String("driver", sc.Driver))
	} else {
		alog.Warn("storage disabled; recurring jobs and store-backed endpoints are off")
	}

	cc, err := mapCacheConfig(cfg)
	if err != nil {
		return nil, err
	}
	if a.cache, err = cache.Open(ctx, cc, log.With(logx.String("comp", "cache"))); err != nil {
		return nil, err
	}

	mc, err := mapMarketConfig(cfg)
	if err != nil {
		return nil, err
	}
	if a.source, err = market.New(mc, log.With(logx.String("comp", "market"))); err != nil {
		return nil, err
	}

	sc, err := mapScraperConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.pages = scraper.New(sc, log.With(logx.String("comp", "scraper")))

	lc, err := mapLLMConfig(cfg)
	if err != nil {
		return nil, err
	}
	if completer, err := llm.New(lc, log.With(logx.String("comp", "llm"))); err != nil {
		// the daemon still captures snapshots and news without a model
		alog.Warn("language model unavailable; sentiment and inference are off", logx.Err(err))
	} else {
		a.analyst = llm.NewClient(completer, lc.Temperature, log.With(logx.String("comp", "llm")))
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.sched = scheduler.New(schedCfg, log.With(logx.String("comp", "scheduler")), scheduler.WithClock(a.clock))
	a.jobs = newJobs(a, log.With(logx.String("comp", "jobs")))

	hc, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.server = httpapi.NewServer(hc, httpapi.NewRouter(hc, a.httpDeps(cfg)), log.With(logx.String("comp", "http")))

	ok = true
	return a, nil
}

// httpDeps only sets the members whose backing component exists, so the
// handlers can answer 503 for the rest.
func (a *App) httpDeps(cfg *config.Config) httpapi.Deps {
	d := httpapi.Deps{
		Cache:      a.cache,
		Schedules:  a.sched,
		Log:        a.log.With(logx.String("comp", "http")),
		Started:    a.clock.Now(),
		Pprof:      cfg.HTTP.Pprof.Enabled,
		PprofToken: cfg.HTTP.Pprof.Token,
	}
	if a.store != nil {
		d.Store = a.store
		d.Snapshots = agents.NewSnapshotter(a.source, a.store, a.cache, a.clock, a.log)
		d.Cleaner = liveCleaner{a: a}
		if a.analyst != nil {
			d.Sentiment = a.jobs.sentimenter(cfg)
		}
	}
	if a.analyst != nil {
		d.Advisor = agents.NewAdvisor(a.source, a.analyst, cfg.Portfolio.Path, cfg.Portfolio.Cash, a.clock, a.log)
	}
	return d
}

// liveCleaner prunes with the keep value of the current config.
type liveCleaner struct{ a *App }

func (c liveCleaner) Clean(ctx context.Context) (storage.PruneResult, error) {
	keep := config.DefaultKeep
	if cfg := c.a.cfgm.Get(); cfg != nil {
		keep = cfg.Jobs.Cleanup.Keep
	}
	return agents.NewCleaner(c.a.store, keep, c.a.log).Clean(ctx)
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Scheduler exposes the scheduler for status reporting.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.started = a.clock.Now()

	cfg := a.cfgm.Get()
	if err := a.jobs.sync(cfg, nil); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())

	a.sup.Go("http.serve", a.server.Serve)
	a.sup.Go("config.watch", a.cfgm.Watch)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub, cfg)
		return nil
	})
	a.sup.GoRestart("systemd.watchdog", func(c context.Context) error {
		return systemd.Watchdog(c, a.log.With(logx.String("comp", "systemd")))
	})

	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("systemd notified ready")
	}
	a.log.Info("app started", logx.Strs("jobs", a.sched.Names()))
	return nil
}

// reloadLoop applies accepted config versions until ctx is done.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config, lastApplied *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.apply(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// apply pushes the live-reloadable sections of newCfg into the running components.
func (a *App) apply(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	for _, s := range sections {
		switch s {
		case "storage", "cache", "market", "llm", "http", "portfolio":
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if sc, err := mapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.sched.Enabled()
		a.sched.Apply(sc)
		switch {
		case wasEnabled && !sc.Enabled:
			a.log.Info("scheduler disabled via config")
			stopCtx, cancel := context.WithTimeout(a.sup.Context(), 3*time.Second)
			_ = a.sched.Stop(stopCtx)
			cancel()
		case !wasEnabled && sc.Enabled:
			a.log.Info("scheduler enabled via config")
			a.sched.Start(a.sup.Context())
		}
	}

	if sc, err := mapScraperConfig(newCfg); err != nil {
		a.log.Warn("invalid scraper config; keeping previous", logx.Err(err))
	} else {
		a.pages.Apply(sc)
	}

	if err := a.jobs.sync(newCfg, config.ChangedJobs(oldCfg, newCfg)); err != nil {
		a.log.Warn("job re-registration failed", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
				max = time.Until(dl)
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step failed", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step timed out", logx.String("name", name), logx.Duration("took", time.Since(start)))
			errs = append(errs, fmt.Errorf("%s: %w", name, stepCtx.Err()))
		}
	}

	step("scheduler", 10*time.Second, a.sched.Stop)
	step("supervisor", 5*time.Second, a.sup.Stop)
	step("resources", 3*time.Second, func(context.Context) error {
		a.closeResources()
		return nil
	})

	a.log.Info("stopped", logx.String("reason", string(reason)))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

func (a *App) closeResources() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
		a.store = nil
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn("cache close failed", logx.Err(err))
		}
		a.cache = nil
	}
}
