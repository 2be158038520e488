package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttler lets the first call under a key through, then suppresses calls
// until delay has elapsed since the last one that fired.
type Throttler struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

func NewThrottler() *Throttler {
	return &Throttler{limiters: make(map[string]*rate.Limiter), now: time.Now}
}

// WithClock replaces the time source, for tests.
func (t *Throttler) WithClock(now func() time.Time) *Throttler {
	t.now = now
	return t
}

// Allow reports whether a call under key may fire now.
func (t *Throttler) Allow(key string, delay time.Duration) bool {
	t.mu.Lock()
	l, ok := t.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(delay), 1)
		t.limiters[key] = l
	} else if l.Limit() != rate.Every(delay) {
		l.SetLimitAt(t.now(), rate.Every(delay))
	}
	t.mu.Unlock()
	return l.AllowN(t.now(), 1)
}

// Throttle runs fn when Allow permits and reports whether it ran.
func (t *Throttler) Throttle(key string, delay time.Duration, fn func()) bool {
	if !t.Allow(key, delay) {
		return false
	}
	fn()
	return true
}

// Forget drops the limiter for key.
func (t *Throttler) Forget(key string) {
	t.mu.Lock()
	delete(t.limiters, key)
	t.mu.Unlock()
}

// KeyedLimiter is a per-key token bucket used for request rate limiting.
type KeyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func NewKeyedLimiter(rps float64, burst int) *KeyedLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &KeyedLimiter{limiters: make(map[string]*rate.Limiter), limit: rate.Limit(rps), burst: burst}
}

func (k *KeyedLimiter) Allow(key string) bool {
	k.mu.Lock()
	l, ok := k.limiters[key]
	if !ok {
		l = rate.NewLimiter(k.limit, k.burst)
		k.limiters[key] = l
	}
	k.mu.Unlock()
	return l.Allow()
}
