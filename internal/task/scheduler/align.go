package scheduler

import "time"

// NextBoundary returns the smallest instant strictly after now that is an
// exact multiple of every on the Unix epoch clock. every must be positive.
//
// When now already sits on a boundary the result is now+every, so the delay
// until the returned instant is always within (0, every].
func NextBoundary(now time.Time, every time.Duration) time.Time {
	return now.Add(FirstDelay(now, every))
}

// FirstDelay returns every - (now mod every), computed on epoch nanoseconds.
func FirstDelay(now time.Time, every time.Duration) time.Duration {
	if every <= 0 {
		return 0
	}
	rem := time.Duration(now.UnixNano() % int64(every))
	if rem < 0 {
		// pre-1970 instants: Go's % keeps the dividend's sign
		rem += every
	}
	return every - rem
}
