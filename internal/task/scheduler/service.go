package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	logx "marketpulse/pkg/logx"
)

// Service owns the registered tasks and their armed triggers.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	cfg   Config
	loc   *time.Location
	clock clockwork.Clock

	parser cron.Parser
	tasks  map[string]*task

	// runCtx is the parent of every trigger loop while the service is running.
	runCtx    context.Context
	runCancel context.CancelFunc

	loops    sync.WaitGroup
	inflight sync.WaitGroup
}

// Option configures a Service at construction.
type Option func(*Service)

// WithClock replaces the wall clock. Tests pass a clockwork fake clock.
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// New returns a stopped scheduler. Tasks may be registered before Start.
func New(cfg Config, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Alignment == "" {
		cfg.Alignment = AlignOnce
	}
	s := &Service{
		cfg:    cfg,
		log:    log,
		clock:  clockwork.NewRealClock(),
		parser: cronParser,
		tasks:  map[string]*task{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Running reports whether triggers are armed.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningLocked()
}

// runningLocked is false once the Start context is done, even before the
// AfterFunc hook has cleared the run state.
func (s *Service) runningLocked() bool {
	return s.runCtx != nil && s.runCtx.Err() == nil
}

// resetRunLocked forgets the run context and marks every task unarmed.
func (s *Service) resetRunLocked() context.CancelFunc {
	cancel := s.runCancel
	s.runCtx, s.runCancel = nil, nil
	for _, t := range s.tasks {
		t.cancel = nil
		t.stats.setNext(time.Time{})
	}
	return cancel
}

// Apply swaps the scheduler config. Alignment, timezone and timeout changes
// re-arm running tasks; in-flight invocations are not interrupted.
func (s *Service) Apply(cfg Config) {
	if cfg.Alignment == "" {
		cfg.Alignment = AlignOnce
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cfg
	s.cfg = cfg
	if !s.runningLocked() {
		return
	}
	if old.Alignment != cfg.Alignment ||
		strings.TrimSpace(old.Timezone) != strings.TrimSpace(cfg.Timezone) ||
		old.TaskTimeout != cfg.TaskTimeout {
		s.loc = s.loadLocationLocked()
		for _, t := range s.tasks {
			s.disarmLocked(t)
			s.armLocked(t)
		}
		s.log.Info("service re-armed",
			logx.String("alignment", string(cfg.Alignment)),
			logx.String("tz", s.loc.String()),
			logx.Int("tasks", len(s.tasks)),
		)
	}
}

// Start arms every registered task. Tasks registered later are armed at
// registration time. Phase alignment is computed when a task is armed.
//
// Cancelling ctx stops the triggers the same way Stop does, without waiting
// for in-flight actions.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runningLocked() {
		return
	}
	if s.runCtx != nil {
		// the previous Start context was cancelled; the hook has not run yet
		if cancel := s.resetRunLocked(); cancel != nil {
			cancel()
		}
	}
	s.log.Debug("start requested", logx.Bool("enabled", s.cfg.Enabled), logx.String("tz", strings.TrimSpace(s.cfg.Timezone)))
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled; tasks stay registered but unarmed", logx.Int("tasks", len(s.tasks)))
		return
	}

	s.loc = s.loadLocationLocked()
	runCtx, runCancel := context.WithCancel(ctx)
	s.runCtx, s.runCancel = runCtx, runCancel
	context.AfterFunc(runCtx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.runCtx == runCtx {
			s.resetRunLocked()
			s.log.Info("service stopped by context")
		}
	})
	for _, t := range s.tasks {
		s.armLocked(t)
	}
	s.log.Info("service started",
		logx.String("tz", s.loc.String()),
		logx.String("alignment", string(s.cfg.Alignment)),
		logx.Int("tasks", len(s.tasks)),
	)
}

// Stop disarms every task and waits for in-flight actions until ctx is done.
// Registered tasks are kept so a later Start re-arms them.
func (s *Service) Stop(ctx context.Context) error {
	start := s.clock.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	cancel := s.resetRunLocked()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.loops.Wait()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("stop timed out waiting for in-flight tasks", logx.Err(ctx.Err()))
		return ctx.Err()
	}

	s.log.Info("service stopped", logx.Duration("took", s.clock.Since(start)))
	return nil
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
