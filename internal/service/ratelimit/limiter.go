package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultIdle is how long an unused bucket is kept.
const DefaultIdle = 10 * time.Minute

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// Limiter hands out one token bucket per key, all with the same shape. API
// callers get one key per user; anonymous callers get a fresh id per
// session, so buckets idle for longer than idle are swept.
type Limiter struct {
	mu        sync.Mutex
	m         map[string]*bucket
	every     time.Duration
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// New creates a limiter allowing one event per interval with the given burst.
// A non-positive interval disables limiting.
func New(every time.Duration, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		m:     make(map[string]*bucket),
		every: every,
		burst: burst,
		idle:  DefaultIdle,
		now:   time.Now,
	}
}

// For returns the bucket for key, creating it on first use.
func (l *Limiter) For(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.idle {
		l.sweepLocked(now)
	}
	b, ok := l.m[key]
	if !ok {
		limit := rate.Inf
		if l.every > 0 {
			limit = rate.Every(l.every)
		}
		b = &bucket{lim: rate.NewLimiter(limit, l.burst)}
		l.m[key] = b
	}
	b.seen = now
	return b.lim
}

func (l *Limiter) sweepLocked(now time.Time) {
	for k, b := range l.m {
		if now.Sub(b.seen) >= l.idle {
			delete(l.m, k)
		}
	}
	l.lastSweep = now
}

// Allow reports whether one event for key may happen now.
func (l *Limiter) Allow(key string) bool {
	return l.For(key).Allow()
}

// Len returns how many keys have buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
