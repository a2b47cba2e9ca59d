package gateway

import (
	"sync"

	"golang.org/x/time/rate"
)

// maxTrackedKeys caps the limiter map so rotating source keys cannot exhaust
// memory.
const maxTrackedKeys = 4096

// keyedLimiter applies a per-key token bucket to webhook sources. Safe for
// concurrent use.
type keyedLimiter struct {
	mu    sync.Mutex
	limit rate.Limit
	burst int
	keys  map[string]*rate.Limiter
}

// newKeyedLimiter allows rpm requests per minute per key, with a small burst.
func newKeyedLimiter(rpm int) *keyedLimiter {
	if rpm <= 0 {
		rpm = 60
	}
	return &keyedLimiter{
		limit: rate.Limit(float64(rpm) / 60.0),
		burst: max(rpm/6, 5),
		keys:  make(map[string]*rate.Limiter),
	}
}

// Allow reports whether the key may proceed.
func (l *keyedLimiter) Allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.keys[key]
	if !ok {
		// Hard eviction at the cap; stale keys refill anyway.
		if len(l.keys) >= maxTrackedKeys {
			for k := range l.keys {
				delete(l.keys, k)
				break
			}
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.keys[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
