package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	logx "marketpulse/pkg/logx"
)

// t0 is epoch-ms 1700000003500 (2023-11-14T22:13:23.5Z).
var t0 = time.UnixMilli(1700000003500)

func newTestService(t *testing.T, alignment Alignment) (*Service, *clockwork.FakeClock) {
	t.Helper()
	clk := clockwork.NewFakeClockAt(t0)
	s := New(Config{Enabled: true, Alignment: alignment, Timezone: "UTC"}, logx.Nop(), WithClock(clk))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s, clk
}

func blockUntil(t *testing.T, clk *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := clk.BlockUntilContext(ctx, n); err != nil {
		t.Fatalf("waiting for %d timers: %v", n, err)
	}
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for tick")
	}
	var zero T
	return zero
}

func expectNone[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected tick: %v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never met: %s", what)
}

// recordNow returns an action that reports the clock time of each tick.
func recordNow(clk clockwork.Clock) (Runnable, <-chan time.Time) {
	ch := make(chan time.Time, 64)
	return RunnableFunc(func(ctx context.Context) error {
		ch <- clk.Now()
		return nil
	}), ch
}

func TestScheduleRejectsInvalidArguments(t *testing.T) {
	t.Parallel()
	s, clk := newTestService(t, AlignOnce)
	noop := RunnableFunc(func(context.Context) error { return nil })

	tests := []struct {
		name   string
		label  string
		every  time.Duration
		action Runnable
	}{
		{name: "zero interval", label: "bad", every: 0, action: noop},
		{name: "negative interval", label: "bad", every: -5 * time.Millisecond, action: noop},
		{name: "empty name", label: "  ", every: time.Second, action: noop},
		{name: "nil action", label: "bad", every: time.Second, action: nil},
	}
	for _, tt := range tests {
		if err := s.Schedule(tt.label, tt.every, tt.action); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("%s: err = %v, want ErrInvalidArgument", tt.name, err)
		}
	}

	s.Start(context.Background())
	if names := s.Names(); len(names) != 0 {
		t.Fatalf("rejected tasks were registered: %v", names)
	}
	// No timer may be armed.
	blockUntil(t, clk, 0)
	if err := s.ScheduleCron("bad", "not a cron", noop); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("ScheduleCron err = %v, want ErrInvalidArgument", err)
	}
	if err := s.ScheduleSpec("bad", "soon", noop); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("ScheduleSpec err = %v, want ErrInvalidArgument", err)
	}
}

func TestFirstFireAlignedToBoundary(t *testing.T) {
	t.Parallel()
	s, clk := newTestService(t, AlignOnce)
	action, fires := recordNow(clk)

	if err := s.Schedule("snapshot", 10*time.Second, action); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	s.Start(context.Background())
	blockUntil(t, clk, 1)

	info, ok := s.Task("snapshot")
	if !ok || !info.Armed {
		t.Fatalf("task not armed: %+v", info)
	}
	if got := info.NextFire.UnixMilli(); got != 1700000010000 {
		t.Fatalf("NextFire = %d, want 1700000010000", got)
	}

	clk.Advance(6499 * time.Millisecond)
	expectNone(t, fires)
	clk.Advance(time.Millisecond)
	first := recv(t, fires)
	if first.UnixMilli() != 1700000010000 {
		t.Fatalf("first fire = %d, want 1700000010000", first.UnixMilli())
	}

	// Later ticks follow the fixed period with no phase drift.
	for n := 1; n <= 5; n++ {
		blockUntil(t, clk, 1)
		clk.Advance(10 * time.Second)
		got := recv(t, fires)
		want := first.Add(time.Duration(n) * 10 * time.Second)
		if !got.Equal(want) {
			t.Fatalf("tick %d at %d, want %d", n, got.UnixMilli(), want.UnixMilli())
		}
	}
}

func TestLongIntervalFirstFire(t *testing.T) {
	t.Parallel()
	s, clk := newTestService(t, AlignOnce)
	action, fires := recordNow(clk)

	if err := s.Schedule("scrape", 600*time.Second, action); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	s.Start(context.Background())
	blockUntil(t, clk, 1)

	clk.Advance(396499 * time.Millisecond)
	expectNone(t, fires)
	clk.Advance(time.Millisecond)
	if got := recv(t, fires).UnixMilli(); got != 1700000400000 {
		t.Fatalf("first fire = %d, want 1700000400000", got)
	}
}

func TestFailingTicksDoNotStopLaterTicks(t *testing.T) {
	t.Parallel()
	s, clk := newTestService(t, AlignOnce)

	ticks := make(chan int, 16)
	n := 0
	action := RunnableFunc(func(ctx context.Context) error {
		n++ // ticks are spaced by the test; no overlap here
		k := n
		ticks <- k
		switch k {
		case 2:
			return errors.New("upstream 503")
		case 3:
			panic("boom")
		}
		return nil
	})
	if err := s.Schedule("flaky", 10*time.Second, action); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	s.Start(context.Background())

	blockUntil(t, clk, 1)
	clk.Advance(6500 * time.Millisecond)
	for want := 1; want <= 4; want++ {
		if got := recv(t, ticks); got != want {
			t.Fatalf("tick = %d, want %d", got, want)
		}
		eventually(t, "tick recorded", func() bool {
			info, _ := s.Task("flaky")
			return info.Runs == uint64(want)
		})
		if want < 4 {
			blockUntil(t, clk, 1)
			clk.Advance(10 * time.Second)
		}
	}

	info, _ := s.Task("flaky")
	if info.Failures != 1 || info.Panics != 1 {
		t.Fatalf("failures=%d panics=%d, want 1/1", info.Failures, info.Panics)
	}
	if info.LastError != "" {
		t.Fatalf("LastError = %q after a successful tick", info.LastError)
	}
	if !info.Armed {
		t.Fatal("task disarmed after failures")
	}
}

func TestMultipleIntervalsShareBoundaries(t *testing.T) {
	t.Parallel()
	s, clk := newTestService(t, AlignOnce)
	fastAction, fast := recordNow(clk)
	slowAction, slow := recordNow(clk)

	if err := s.Schedule("fast", 10*time.Second, fastAction); err != nil {
		t.Fatalf("Schedule fast: %v", err)
	}
	if err := s.Schedule("slow", 30*time.Second, slowAction); err != nil {
		t.Fatalf("Schedule slow: %v", err)
	}
	s.Start(context.Background())

	fastTimes := map[int64]bool{}
	var slowTimes []int64
	step := 6500 * time.Millisecond
	for i := 0; i < 9; i++ {
		blockUntil(t, clk, 2)
		clk.Advance(step)
		step = 10 * time.Second

		ft := recv(t, fast).UnixMilli()
		fastTimes[ft] = true
		if ft%30000 == 0 {
			slowTimes = append(slowTimes, recv(t, slow).UnixMilli())
		}
	}
	expectNone(t, slow)

	if len(slowTimes) != 3 {
		t.Fatalf("slow fired %d times, want 3", len(slowTimes))
	}
	for _, st := range slowTimes {
		if !fastTimes[st] {
			t.Fatalf("slow fire %d is not a fast fire time", st)
		}
	}
}

func TestOverlappingTicksRunConcurrently(t *testing.T) {
	t.Parallel()
	s, clk := newTestService(t, AlignOnce)

	started := make(chan struct{}, 4)
	release := make(chan struct{})
	action := RunnableFunc(func(ctx context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	})
	if err := s.Schedule("slow-io", 10*time.Second, action); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	s.Start(context.Background())

	blockUntil(t, clk, 1)
	clk.Advance(6500 * time.Millisecond)
	recv(t, started)
	blockUntil(t, clk, 1)
	clk.Advance(10 * time.Second)
	recv(t, started)

	eventually(t, "two in flight", func() bool {
		info, _ := s.Task("slow-io")
		return info.InFlight == 2
	})
	close(release)
	eventually(t, "both finished", func() bool {
		info, _ := s.Task("slow-io")
		return info.InFlight == 0 && info.Runs == 2
	})
}

func TestRemoveStopsFutureTicksButNotInFlight(t *testing.T) {
	t.Parallel()
	s, clk := newTestService(t, AlignOnce)

	started := make(chan struct{}, 4)
	release := make(chan struct{})
	ctxErr := make(chan error, 4)
	action := RunnableFunc(func(ctx context.Context) error {
		started <- struct{}{}
		<-release
		ctxErr <- ctx.Err()
		return nil
	})
	if err := s.Schedule("cleanup", 10*time.Second, action); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	s.Start(context.Background())

	blockUntil(t, clk, 1)
	clk.Advance(6500 * time.Millisecond)
	recv(t, started)

	if !s.Remove("cleanup") {
		t.Fatal("Remove returned false for a registered task")
	}
	if s.Remove("cleanup") {
		t.Fatal("second Remove returned true")
	}
	blockUntil(t, clk, 0)
	clk.Advance(10 * time.Second)
	expectNone(t, started)

	close(release)
	if err := recv(t, ctxErr); err != nil {
		t.Fatalf("in-flight action context cancelled: %v", err)
	}
}

func TestScheduleUpsertsByName(t *testing.T) {
	t.Parallel()
	s, clk := newTestService(t, AlignOnce)
	first, firstFires := recordNow(clk)
	second, secondFires := recordNow(clk)

	s.Start(context.Background())
	if err := s.Schedule("job", 10*time.Second, first); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := s.Schedule("job", 20*time.Second, second); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if names := s.Names(); len(names) != 1 {
		t.Fatalf("Names = %v, want one task", names)
	}

	blockUntil(t, clk, 1)
	clk.Advance(16500 * time.Millisecond) // t0 -> 1700000020000
	if got := recv(t, secondFires).UnixMilli(); got != 1700000020000 {
		t.Fatalf("replacement fired at %d", got)
	}
	expectNone(t, firstFires)
}

func TestEveryTickAlignment(t *testing.T) {
	t.Parallel()
	s, clk := newTestService(t, AlignEveryTick)

	type tick struct{ now, due time.Time }
	ticks := make(chan tick, 8)
	action := RunnableFunc(func(ctx context.Context) error {
		due, ok := TickTime(ctx)
		if !ok {
			return errors.New("no tick time")
		}
		ticks <- tick{now: clk.Now(), due: due}
		return nil
	})
	if err := s.Schedule("snapshot", 10*time.Second, action); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	s.Start(context.Background())

	blockUntil(t, clk, 1)
	clk.Advance(6500 * time.Millisecond)
	for n := 0; n < 3; n++ {
		got := recv(t, ticks)
		want := int64(1700000010000) + int64(n)*10000
		if got.now.UnixMilli() != want || got.due.UnixMilli() != want {
			t.Fatalf("tick %d: now=%d due=%d, want %d", n, got.now.UnixMilli(), got.due.UnixMilli(), want)
		}
		blockUntil(t, clk, 1)
		clk.Advance(10 * time.Second)
	}
}

func TestCronTaskUsesInjectedClock(t *testing.T) {
	t.Parallel()
	s, clk := newTestService(t, AlignOnce)
	action, fires := recordNow(clk)

	if err := s.ScheduleSpec("scrape", "cron:*/1 * * * *", action); err != nil {
		t.Fatalf("ScheduleSpec: %v", err)
	}
	s.Start(context.Background())
	blockUntil(t, clk, 1)

	info, _ := s.Task("scrape")
	if info.Kind != "cron" || info.NextFire.UnixMilli() != 1700000040000 {
		t.Fatalf("info = %+v", info)
	}
	clk.Advance(36500 * time.Millisecond)
	if got := recv(t, fires).UnixMilli(); got != 1700000040000 {
		t.Fatalf("first cron fire = %d", got)
	}
	blockUntil(t, clk, 1)
	clk.Advance(time.Minute)
	if got := recv(t, fires).UnixMilli(); got != 1700000100000 {
		t.Fatalf("second cron fire = %d", got)
	}
}

func TestCronEveryDescriptorIsAligned(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t, AlignOnce)
	noop := RunnableFunc(func(context.Context) error { return nil })

	if err := s.ScheduleCron("snap", "@every 10s", noop); err != nil {
		t.Fatalf("ScheduleCron: %v", err)
	}
	s.Start(context.Background())
	info, _ := s.Task("snap")
	if info.Kind != "interval" || info.Every != 10*time.Second {
		t.Fatalf("info = %+v", info)
	}
	if info.NextFire.UnixMilli() != 1700000010000 {
		t.Fatalf("NextFire = %d", info.NextFire.UnixMilli())
	}
}

func TestStopWaitsForInFlight(t *testing.T) {
	t.Parallel()
	s, clk := newTestService(t, AlignOnce)

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	action := RunnableFunc(func(ctx context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	})
	if err := s.Schedule("slow", 10*time.Second, action); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	s.Start(context.Background())
	blockUntil(t, clk, 1)
	clk.Advance(6500 * time.Millisecond)
	recv(t, started)

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Stop(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop = %v, want deadline exceeded", err)
	}
	if s.Running() {
		t.Fatal("service still running after Stop")
	}

	close(release)
	ctx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if names := s.Names(); len(names) != 1 {
		t.Fatalf("Stop must keep registrations, got %v", names)
	}
}

func TestDisabledServiceKeepsTasksUnarmed(t *testing.T) {
	t.Parallel()
	clk := clockwork.NewFakeClockAt(t0)
	s := New(Config{Enabled: false}, logx.Nop(), WithClock(clk))
	noop := RunnableFunc(func(context.Context) error { return nil })

	if err := s.Schedule("snapshot", 10*time.Second, noop); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	s.Start(context.Background())
	if s.Running() {
		t.Fatal("disabled service must not run")
	}
	snap := s.Snapshot()
	if len(snap.Tasks) != 1 || snap.Tasks[0].Armed {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Alignment != AlignOnce {
		t.Fatalf("alignment default = %q", snap.Alignment)
	}
}

func TestTickTimeOutsideInvocation(t *testing.T) {
	t.Parallel()
	if _, ok := TickTime(context.Background()); ok {
		t.Fatal("TickTime reported a tick outside an invocation")
	}
}

func TestCancelledStartContextStopsService(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t, AlignOnce)
	noop := RunnableFunc(func(context.Context) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	if err := s.Schedule("snapshot", 10*time.Second, noop); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if !s.Running() {
		t.Fatal("service should run after Start")
	}

	cancel()
	if s.Running() {
		t.Fatal("service still running after its context was cancelled")
	}
	if err := s.Schedule("cleanup", time.Hour, noop); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	eventually(t, "tasks unarmed", func() bool {
		for _, ti := range s.Snapshot().Tasks {
			if ti.Armed || !ti.NextFire.IsZero() {
				return false
			}
		}
		return true
	})

	// a fresh Start re-arms everything
	s.Start(context.Background())
	for _, ti := range s.Snapshot().Tasks {
		if !ti.Armed || ti.NextFire.IsZero() {
			t.Fatalf("task %s not re-armed: %+v", ti.Name, ti)
		}
	}
}
