package handlers

import (
	"strings"
	"sync"
	"time"
)

// rateLimiter gates inbound carrier webhook deliveries per carrier.
type rateLimiter interface {
	Allow(key string) bool
}

// fixedWindowLimiter counts deliveries per key inside a fixed window.
// Carrier webhook volume is low enough that coarse windows are fine;
// the point is to keep a misbehaving integration from flooding us.
type fixedWindowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]countingWindow
}

type countingWindow struct {
	count  int
	endsAt time.Time
}

func newFixedWindowLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]countingWindow),
	}
}

func (l *fixedWindowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	if key = strings.TrimSpace(key); key == "" {
		key = "unknown"
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.windows[key]
	if !ok || now.After(current.endsAt) {
		l.dropClosedWindows(now)
		l.windows[key] = countingWindow{count: 1, endsAt: now.Add(l.window)}
		return true
	}
	if current.count >= l.limit {
		return false
	}
	current.count++
	l.windows[key] = current
	return true
}

func (l *fixedWindowLimiter) dropClosedWindows(now time.Time) {
	for key, w := range l.windows {
		if now.After(w.endsAt) {
			delete(l.windows, key)
		}
	}
}
