package timeutil

import "time"

// Limiter gates a periodic job to at most one run per interval. The first
// Allow always succeeds. Not goroutine-safe; owned by the supervisor loop.
type Limiter struct {
	interval time.Duration
	next     time.Time
	now      func() time.Time
}

// NewLimiter creates a limiter for the given interval.
func NewLimiter(interval time.Duration) *Limiter {
	return &Limiter{interval: interval, now: time.Now}
}

// Allow reports whether the job may run now and, if so, starts the next
// cool-down window.
func (l *Limiter) Allow() bool {
	now := l.now()
	if now.Before(l.next) {
		return false
	}
	l.next = now.Add(l.interval)
	return true
}
