// Package ratelimit implements the sliding-window limiter behind the tool
// guardrails. Buckets are keyed "prefix:identifier"; a bucket admits at most
// limit requests in any trailing window.
package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Decision describes the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset is when the oldest counted request leaves the window.
	Reset time.Time
}

// Limiter is implemented by every rate-limit backend.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// SlidingWindow is an in-memory sliding-log limiter. Safe for concurrent use.
type SlidingWindow struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	hits   []time.Time
	window time.Duration
}

// NewSlidingWindow creates an empty limiter.
func NewSlidingWindow() *SlidingWindow {
	return &SlidingWindow{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (l *SlidingWindow) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Allow records a request for key and reports whether it fits the window.
// Rejected requests are not counted.
func (l *SlidingWindow) Allow(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{}
		l.buckets[key] = b
	}
	b.window = window
	b.evict(now)

	d := Decision{Limit: limit}
	if len(b.hits) >= limit {
		d.Allowed = false
		d.Remaining = 0
		d.Reset = b.hits[0].Add(window)
		return d, nil
	}

	b.hits = append(b.hits, now)
	d.Allowed = true
	d.Remaining = limit - len(b.hits)
	d.Reset = b.hits[0].Add(window)
	return d, nil
}

// evict drops hits older than the window.
func (b *bucket) evict(now time.Time) {
	cutoff := now.Add(-b.window)
	i := sort.Search(len(b.hits), func(i int) bool { return b.hits[i].After(cutoff) })
	if i > 0 {
		b.hits = append(b.hits[:0], b.hits[i:]...)
	}
}

// Sweep removes buckets with no hits inside their window and returns how
// many were removed.
func (l *SlidingWindow) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, b := range l.buckets {
		b.evict(now)
		if len(b.hits) == 0 {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live buckets.
func (l *SlidingWindow) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
