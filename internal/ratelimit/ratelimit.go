package ratelimit

import (
	"sync"
	"time"
)

type entry struct {
	count       int
	windowStart time.Time
}

// Limiter is a fixed-window per-source-address throttle. The first request
// from a new or expired-window address resets the counter; once the counter
// exceeds the maximum within the window, admission is refused until the
// window elapses.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	window  time.Duration
	max     int
	now     func() time.Time
}

func NewLimiter(window time.Duration, max int) *Limiter {
	return &Limiter{
		entries: make(map[string]*entry),
		window:  window,
		max:     max,
		now:     time.Now,
	}
}

// Admit reports whether a request from the source address is allowed and
// records it. Unknown addresses are treated as new.
func (l *Limiter) Admit(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[addr]
	if !ok || now.Sub(e.windowStart) > l.window {
		l.entries[addr] = &entry{count: 1, windowStart: now}
		return true
	}

	if e.count >= l.max {
		return false
	}
	e.count++
	return true
}

// Prune drops entries whose window has long elapsed and returns the count.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-2 * l.window)
	count := 0
	for addr, e := range l.entries {
		if e.windowStart.Before(cutoff) {
			delete(l.entries, addr)
			count++
		}
	}
	return count
}
