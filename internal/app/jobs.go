package app

import (
	"errors"
	"fmt"

	"marketpulse/internal/agents"
	"marketpulse/internal/config"
	"marketpulse/internal/task/scheduler"
	logx "marketpulse/pkg/logx"
)

// Job names double as scheduler task names.
const (
	jobSnapshot  = "snapshot"
	jobScrape    = "scrape"
	jobSentiment = "sentiment"
	jobCleanup   = "cleanup"
)

var allJobs = []string{jobSnapshot, jobScrape, jobSentiment, jobCleanup}

// jobs binds the configured recurring jobs to scheduler tasks.
type jobs struct {
	a   *App
	log logx.Logger
}

func newJobs(a *App, log logx.Logger) *jobs {
	return &jobs{a: a, log: log}
}

func jobConfig(cfg *config.Config, name string) config.JobConfig {
	switch name {
	case jobSnapshot:
		return cfg.Jobs.Snapshot
	case jobScrape:
		return cfg.Jobs.Scrape
	case jobSentiment:
		return cfg.Jobs.Sentiment
	case jobCleanup:
		return cfg.Jobs.Cleanup
	}
	return config.JobConfig{}
}

// sync (re)registers the named jobs from cfg. A nil names slice means every
// job. Disabled or unbuildable jobs are removed from the scheduler; the
// others are upserted, which re-aligns them to their next boundary.
func (j *jobs) sync(cfg *config.Config, names []string) error {
	if cfg == nil {
		return nil
	}
	if names == nil {
		names = allJobs
	}
	var errs []error
	for _, name := range names {
		jc := jobConfig(cfg, name)
		if !jc.Enabled {
			if j.a.sched.Remove(name) {
				j.log.Info("job disabled", logx.String("job", name))
			}
			continue
		}
		action, reason := j.build(cfg, name)
		if action == nil {
			j.a.sched.Remove(name)
			j.log.Warn("job skipped", logx.String("job", name), logx.String("reason", reason))
			continue
		}
		if err := j.a.sched.ScheduleSpec(name, jc.Schedule, action); err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", name, err))
			continue
		}
		j.log.Info("job registered", logx.String("job", name), logx.String("schedule", jc.Schedule))
	}
	return errors.Join(errs...)
}

// build returns the action for a job, or nil and the reason it cannot run.
func (j *jobs) build(cfg *config.Config, name string) (scheduler.Runnable, string) {
	a := j.a
	if a.store == nil {
		return nil, "storage disabled"
	}
	jc := jobConfig(cfg, name)
	switch name {
	case jobSnapshot:
		if len(jc.Tickers) == 0 {
			return nil, "no tickers"
		}
		return agents.NewSnapshotter(a.source, a.store, a.cache, a.clock, a.log).Task(jc.Tickers), ""
	case jobScrape:
		return agents.NewScraper(agents.ScrapeConfig{
			GeneralURL: cfg.Scraper.GeneralURL,
			TickerURL:  cfg.Scraper.TickerURL,
			Watchlist:  jc.Watchlist,
		}, a.pages, a.store, a.clock, a.log).Task(), ""
	case jobSentiment:
		if a.analyst == nil {
			return nil, "language model unavailable"
		}
		if len(jc.Tickers) == 0 {
			return nil, "no tickers"
		}
		return j.sentimenter(cfg).Task(jc.Tickers), ""
	case jobCleanup:
		return agents.NewCleaner(a.store, jc.Keep, a.log).Task(), ""
	}
	return nil, "unknown job"
}

func (j *jobs) sentimenter(cfg *config.Config) *agents.Sentimenter {
	a := j.a
	return agents.NewSentimenter(a.source, a.pages, a.analyst, a.store, a.cache, cfg.Jobs.Sentiment.NewsLimit, a.clock, a.log)
}
