package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	logx "marketpulse/pkg/logx"
)

// Schedule registers an interval task. The first tick lands on the next epoch
// boundary that is a multiple of every; later ticks follow every after that.
//
// Registration is an upsert by name: an existing task with the same name is
// disarmed and replaced (its in-flight invocations finish normally).
func (s *Service) Schedule(name string, every time.Duration, action Runnable) error {
	name = strings.TrimSpace(name)
	if err := validate(name, action); err != nil {
		return err
	}
	if every <= 0 {
		return fmt.Errorf("%w: interval must be > 0 (got %s)", ErrInvalidArgument, every)
	}
	return s.register(&task{
		name:   name,
		kind:   kindInterval,
		every:  every,
		spec:   "@every " + every.String(),
		action: action,
	})
}

// ScheduleCron registers a task driven by a cron expression (5 or 6 fields,
// or a descriptor such as "@hourly"). "@every <d>" is treated as an interval
// and gets boundary alignment like Schedule.
func (s *Service) ScheduleCron(name, spec string, action Runnable) error {
	name = strings.TrimSpace(name)
	spec = strings.TrimSpace(spec)
	if err := validate(name, action); err != nil {
		return err
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("%w: cron %q: %v", ErrInvalidArgument, spec, err)
	}
	if cd, ok := sched.(cron.ConstantDelaySchedule); ok {
		return s.Schedule(name, cd.Delay, action)
	}
	return s.register(&task{
		name:   name,
		kind:   kindCron,
		spec:   spec,
		cron:   sched,
		action: action,
	})
}

// ScheduleSpec parses raw with ParseSchedule and registers the matching kind.
func (s *Service) ScheduleSpec(name, raw string, action Runnable) error {
	ps, err := ParseSchedule(raw)
	if err != nil {
		return err
	}
	switch ps.Kind {
	case SpecCron:
		return s.ScheduleCron(name, ps.Cron, action)
	case SpecInterval:
		return s.Schedule(name, ps.Every, action)
	default:
		return fmt.Errorf("%w: unsupported schedule kind", ErrInvalidArgument)
	}
}

// Remove stops future ticks of the named task. In-flight invocations run to
// completion. It returns true if a task was registered under name.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	t, ok := s.tasks[name]
	if ok {
		s.disarmLocked(t)
		delete(s.tasks, name)
	}
	s.mu.Unlock()

	if ok {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return ok
}

// Names returns the registered task names, sorted.
func (s *Service) Names() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		out = append(out, name)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

func validate(name string, action Runnable) error {
	if name == "" {
		return fmt.Errorf("%w: name required", ErrInvalidArgument)
	}
	if action == nil {
		return fmt.Errorf("%w: action required for %q", ErrInvalidArgument, name)
	}
	return nil
}

func (s *Service) register(t *task) error {
	t.stats = &taskStats{}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.tasks[t.name]; ok {
		s.disarmLocked(old)
	}
	s.tasks[t.name] = t
	if s.runningLocked() {
		s.armLocked(t)
	}

	args := []logx.Field{logx.String("name", t.name), logx.String("kind", t.kind.String()), logx.String("spec", t.spec)}
	if next := t.stats.next(); !next.IsZero() {
		args = append(args, logx.Time("next", next))
	}
	s.log.Debug("schedule registered", args...)
	return nil
}

// armLocked starts the trigger loop of t. Call with s.mu held and the service running.
func (s *Service) armLocked(t *task) {
	ctx, cancel := context.WithCancel(s.runCtx)
	t.cancel = cancel

	run := runParams{
		alignment: s.cfg.Alignment,
		timeout:   s.cfg.TaskTimeout,
		loc:       s.loc,
	}
	// The first boundary and its timer are set up here, so the task is
	// observably armed as soon as registration returns.
	now := s.clock.Now()
	var first time.Time
	switch t.kind {
	case kindCron:
		first = t.cron.Next(now.In(run.loc))
	default:
		first = NextBoundary(now, t.every)
	}
	if first.IsZero() {
		s.log.Warn("cron schedule has no future activation", logx.String("name", t.name), logx.String("spec", t.spec))
		return
	}
	t.stats.setNext(first)
	timer := s.clock.NewTimer(first.Sub(now))

	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		defer timer.Stop()
		switch t.kind {
		case kindCron:
			s.cronLoop(ctx, t, run, timer, first)
		default:
			s.intervalLoop(ctx, t, run, timer, first)
		}
	}()
}

// disarmLocked stops the trigger loop of t without waiting for it.
func (s *Service) disarmLocked(t *task) {
	if t.cancel != nil {
		t.cancel()
	}
	t.cancel = nil
	t.stats.setNext(time.Time{})
}

type runParams struct {
	alignment Alignment
	timeout   time.Duration
	loc       *time.Location
}

// wait blocks until c delivers or ctx is done. A cancelled ctx always wins,
// so no tick fires after Remove or Stop returned.
func wait(ctx context.Context, c <-chan time.Time) bool {
	select {
	case <-ctx.Done():
		return false
	case <-c:
		return ctx.Err() == nil
	}
}

func (s *Service) intervalLoop(ctx context.Context, t *task, run runParams, timer clockwork.Timer, due time.Time) {
	if !wait(ctx, timer.Chan()) {
		return
	}

	if run.alignment == AlignEveryTick {
		for {
			s.fire(ctx, t, run, due)

			now := s.clock.Now()
			due = NextBoundary(now, t.every)
			t.stats.setNext(due)
			timer.Reset(due.Sub(now))
			if !wait(ctx, timer.Chan()) {
				return
			}
		}
	}

	// Fixed period from the first boundary; phase is not recomputed.
	ticker := s.clock.NewTicker(t.every)
	defer ticker.Stop()
	for {
		s.fire(ctx, t, run, due)

		due = due.Add(t.every)
		t.stats.setNext(due)
		if !wait(ctx, ticker.Chan()) {
			return
		}
	}
}

func (s *Service) cronLoop(ctx context.Context, t *task, run runParams, timer clockwork.Timer, due time.Time) {
	for {
		if !wait(ctx, timer.Chan()) {
			return
		}
		s.fire(ctx, t, run, due)

		now := s.clock.Now()
		due = t.cron.Next(now.In(run.loc))
		if due.IsZero() {
			t.stats.setNext(time.Time{})
			return
		}
		t.stats.setNext(due)
		timer.Reset(due.Sub(now))
	}
}

// fire starts one invocation of t in its own goroutine.
func (s *Service) fire(ctx context.Context, t *task, run runParams, due time.Time) {
	s.inflight.Add(1)
	t.stats.inFlight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer t.stats.inFlight.Add(-1)
		s.invoke(ctx, t, run, due)
	}()
}

// invoke is the fault boundary around a single tick. Nothing the action
// returns or panics with reaches the trigger loop.
func (s *Service) invoke(parent context.Context, t *task, run runParams, due time.Time) {
	// Removal or shutdown must not cancel work already started.
	ctx := withTick(context.WithoutCancel(parent), due)
	if run.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, run.timeout)
		defer cancel()
	}

	start := s.clock.Now()
	var (
		err      error
		panicked bool
		stack    string
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				err = fmt.Errorf("panic: %v", r)
				stack = string(debug.Stack())
			}
		}()
		err = t.action.Run(ctx)
	}()
	took := s.clock.Since(start)
	t.stats.record(start, took, err, panicked)

	log := s.log.With(logx.String("task", t.name), logx.Time("due", due))
	switch {
	case panicked:
		log.Error("task panicked", logx.Err(err), logx.Duration("took", took), logx.Stack(stack))
	case err != nil:
		log.Warn("task failed", logx.Err(err), logx.Duration("took", took))
	default:
		log.Debug("task done", logx.Duration("took", took))
	}
}

type tickKey struct{}

func withTick(ctx context.Context, due time.Time) context.Context {
	return context.WithValue(ctx, tickKey{}, due)
}

// TickTime returns the boundary the current invocation was due at.
// ok is false outside a scheduled invocation.
func TickTime(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(tickKey{}).(time.Time)
	return t, ok
}
