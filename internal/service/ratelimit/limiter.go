package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	lim  *rate.Limiter
	seen time.Time
}

// Limiter keeps one token bucket per key, typically a client IP. Buckets
// idle longer than ttl are evicted on the next sweep.
type Limiter struct {
	rps   rate.Limit
	burst int
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	m         map[string]*entry
	lastSweep time.Time
}

type Option func(*Limiter)

// WithIdleTTL sets how long an unused bucket is kept.
func WithIdleTTL(d time.Duration) Option { return func(l *Limiter) { l.ttl = d } }

func WithClock(now func() time.Time) Option { return func(l *Limiter) { l.now = now } }

// New returns a limiter allowing rps requests per second per key with the
// given burst. rps <= 0 disables limiting.
func New(rps float64, burst int, opts ...Option) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	l := &Limiter{
		rps:   rate.Limit(rps),
		burst: burst,
		ttl:   10 * time.Minute,
		now:   time.Now,
		m:     make(map[string]*entry),
	}
	for _, o := range opts {
		o(l)
	}
	l.lastSweep = l.now()
	return l
}

// Allow returns true if one token can be consumed for key.
func (l *Limiter) Allow(key string) bool {
	if l == nil || l.rps <= 0 {
		return true
	}
	now := l.now()
	l.mu.Lock()
	e, ok := l.m[key]
	if !ok {
		e = &entry{lim: rate.NewLimiter(l.rps, l.burst)}
		l.m[key] = e
	}
	e.seen = now
	if now.Sub(l.lastSweep) >= l.ttl {
		for k, v := range l.m {
			if now.Sub(v.seen) >= l.ttl {
				delete(l.m, k)
			}
		}
		l.lastSweep = now
	}
	lim := e.lim
	l.mu.Unlock()
	return lim.AllowN(now, 1)
}

// Len is the number of live buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
