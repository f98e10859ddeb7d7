package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidArgument is returned by the registration calls when a task cannot
// be armed (non-positive interval, empty name, nil action, bad cron spec).
var ErrInvalidArgument = errors.New("scheduler: invalid argument")

// Runnable is the unit of work bound to a task.
// Run is expected to handle its own faults; the scheduler only logs and counts
// what comes back.
type Runnable interface {
	Run(ctx context.Context) error
}

// RunnableFunc adapts a plain function to Runnable.
type RunnableFunc func(ctx context.Context) error

func (f RunnableFunc) Run(ctx context.Context) error { return f(ctx) }

// Alignment selects how interval tasks keep their phase after the first fire.
type Alignment string

const (
	// AlignOnce aligns the first fire to a boundary and then repeats with a
	// fixed period. Timer jitter may accumulate over long uptimes.
	AlignOnce Alignment = "once"
	// AlignEveryTick recomputes the next boundary from the clock after every fire.
	AlignEveryTick Alignment = "every_tick"
)

// ParseAlignment maps a config value to an Alignment. Empty means AlignOnce.
func ParseAlignment(s string) (Alignment, error) {
	switch Alignment(s) {
	case "", AlignOnce:
		return AlignOnce, nil
	case AlignEveryTick:
		return AlignEveryTick, nil
	default:
		return "", errors.New("unknown alignment " + s)
	}
}

// Config controls the scheduler service.
type Config struct {
	Enabled   bool
	Alignment Alignment
	// TaskTimeout bounds a single invocation. Zero means no timeout.
	TaskTimeout time.Duration
	// Timezone applies to cron tasks only (IANA TZ, e.g. "America/New_York").
	Timezone string
}

type taskKind int

const (
	kindInterval taskKind = iota
	kindCron
)

func (k taskKind) String() string {
	if k == kindCron {
		return "cron"
	}
	return "interval"
}

// task is one registered schedule. cancel is only set while the task is armed.
type task struct {
	name   string
	kind   taskKind
	every  time.Duration
	spec   string
	cron   cron.Schedule
	action Runnable

	cancel context.CancelFunc

	stats *taskStats
}

// taskStats are the per-task counters. Overlapping invocations update them
// concurrently, so every field is an atomic or guarded by mu.
type taskStats struct {
	runs     atomic.Uint64
	failures atomic.Uint64
	panics   atomic.Uint64
	inFlight atomic.Int64
	nextFire atomic.Int64 // unix nanos, 0 when unarmed

	mu           sync.Mutex
	lastFire     time.Time
	lastDuration time.Duration
	lastErr      string
}

func (st *taskStats) setNext(t time.Time) {
	if t.IsZero() {
		st.nextFire.Store(0)
		return
	}
	st.nextFire.Store(t.UnixNano())
}

func (st *taskStats) next() time.Time {
	n := st.nextFire.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (st *taskStats) record(fired time.Time, took time.Duration, err error, panicked bool) {
	st.runs.Add(1)
	if panicked {
		st.panics.Add(1)
	} else if err != nil {
		st.failures.Add(1)
	}
	st.mu.Lock()
	st.lastFire = fired
	st.lastDuration = took
	if err != nil {
		st.lastErr = err.Error()
	} else {
		st.lastErr = ""
	}
	st.mu.Unlock()
}

// TaskInfo is the observable state of one task.
type TaskInfo struct {
	Name         string        `json:"name"`
	Kind         string        `json:"kind"`
	Spec         string        `json:"spec"`
	Every        time.Duration `json:"every,omitempty"`
	Armed        bool          `json:"armed"`
	NextFire     time.Time     `json:"next_fire,omitempty"`
	LastFire     time.Time     `json:"last_fire,omitempty"`
	LastDuration time.Duration `json:"last_duration,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	Runs         uint64        `json:"runs"`
	Failures     uint64        `json:"failures"`
	Panics       uint64        `json:"panics"`
	InFlight     int64         `json:"in_flight"`
}

// Snapshot is a point-in-time view of the scheduler.
type Snapshot struct {
	Enabled     bool          `json:"enabled"`
	Running     bool          `json:"running"`
	Alignment   Alignment     `json:"alignment"`
	Timezone    string        `json:"timezone"`
	TaskTimeout time.Duration `json:"task_timeout,omitempty"`
	Tasks       []TaskInfo    `json:"tasks"`
}
