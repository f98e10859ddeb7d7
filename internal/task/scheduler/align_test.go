package scheduler

import (
	"testing"
	"time"
)

func TestFirstDelayScenarios(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		nowMs     int64
		every     time.Duration
		wantDelay time.Duration
		wantMs    int64
	}{
		{name: "snapshot 10s", nowMs: 1700000003500, every: 10 * time.Second, wantDelay: 6500 * time.Millisecond, wantMs: 1700000010000},
		{name: "scrape 10m", nowMs: 1700000003500, every: 600 * time.Second, wantDelay: 396500 * time.Millisecond, wantMs: 1700000400000},
		{name: "on boundary waits a full interval", nowMs: 1700000010000, every: 10 * time.Second, wantDelay: 10 * time.Second, wantMs: 1700000020000},
		{name: "one ms before boundary", nowMs: 1700000009999, every: 10 * time.Second, wantDelay: time.Millisecond, wantMs: 1700000010000},
		{name: "before epoch", nowMs: -3500, every: 10 * time.Second, wantDelay: 3500 * time.Millisecond, wantMs: 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			now := time.UnixMilli(tt.nowMs)
			if got := FirstDelay(now, tt.every); got != tt.wantDelay {
				t.Fatalf("FirstDelay = %v, want %v", got, tt.wantDelay)
			}
			if got := NextBoundary(now, tt.every).UnixMilli(); got != tt.wantMs {
				t.Fatalf("NextBoundary = %d, want %d", got, tt.wantMs)
			}
		})
	}
}

// Every boundary is a multiple of the interval and at most one interval away.
func TestNextBoundaryProperties(t *testing.T) {
	t.Parallel()
	intervals := []time.Duration{time.Millisecond, 7 * time.Millisecond, time.Second, 10 * time.Second, 37 * time.Second, time.Hour}
	start := time.UnixMilli(1700000003500)
	for _, every := range intervals {
		for i := int64(0); i < 200; i++ {
			now := start.Add(time.Duration(i*7919) * time.Millisecond)
			next := NextBoundary(now, every)
			if next.UnixNano()%int64(every) != 0 {
				t.Fatalf("NextBoundary(%v, %v) = %v is not aligned", now, every, next)
			}
			d := next.Sub(now)
			if d <= 0 || d > every {
				t.Fatalf("delay %v outside (0, %v]", d, every)
			}
		}
	}
}

func TestFirstDelayNonPositiveInterval(t *testing.T) {
	t.Parallel()
	if d := FirstDelay(time.Now(), 0); d != 0 {
		t.Fatalf("FirstDelay(0) = %v", d)
	}
}
