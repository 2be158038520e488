// Package cache holds the TTL store for fetched story collections and the
// feed caches built on top of it.
package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTTL is the validity window of a cached collection.
const DefaultTTL = 5 * time.Minute

type entry[V any] struct {
	data     V
	storedAt time.Time
}

// Store is a TTL cache with expiry-on-read and hit/miss counters.
// An entry is valid while now - storedAt < ttl.
type Store[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	ttl     time.Duration
	now     func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

func NewStore[V any](ttl time.Duration) *Store[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store[V]{entries: make(map[string]entry[V]), ttl: ttl, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (s *Store[V]) WithClock(now func() time.Time) *Store[V] {
	s.now = now
	return s
}

// Get returns the stored value, or ok=false when absent or expired.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if ok && s.now().Sub(e.storedAt) >= s.ttl {
		delete(s.entries, key)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		s.misses.Add(1)
		var zero V
		return zero, false
	}
	s.hits.Add(1)
	return e.data, true
}

// Set always overwrites.
func (s *Store[V]) Set(key string, v V) {
	s.mu.Lock()
	s.entries[key] = entry[V]{data: v, storedAt: s.now()}
	s.mu.Unlock()
}

func (s *Store[V]) Delete(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// DeletePrefix drops every key starting with prefix and returns the count.
func (s *Store[V]) DeletePrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

func (s *Store[V]) Clear() {
	s.mu.Lock()
	s.entries = make(map[string]entry[V])
	s.mu.Unlock()
}

// Sweep purges expired entries and returns how many were removed.
func (s *Store[V]) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.entries {
		if now.Sub(e.storedAt) >= s.ttl {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// StartSweeper runs Sweep every interval until the returned stop func is called.
func (s *Store[V]) StartSweeper(interval time.Duration) func(context.Context) error {
	if interval <= 0 {
		interval = time.Minute
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
	var once sync.Once
	return func(ctx context.Context) error {
		once.Do(func() { close(stop) })
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stats is a snapshot of the store counters.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Entries int     `json:"entries"`
	HitRate float64 `json:"hit_rate"`
}

func (s *Store[V]) Stats() Stats {
	s.mu.Lock()
	n := len(s.entries)
	s.mu.Unlock()
	st := Stats{Hits: s.hits.Load(), Misses: s.misses.Load(), Entries: n}
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRate = float64(st.Hits) / float64(total)
	}
	return st
}

func (s *Store[V]) ResetStats() {
	s.hits.Store(0)
	s.misses.Store(0)
}
