// Package ratelimit implements a per-key sliding-window rate limiter used to
// bound calls to expensive collaborators (upstream price feed, AI ranking).
// Purely in-memory; state does not survive a restart, which is fine for
// abuse mitigation but not for billing-grade accounting.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Clock abstracts time for deterministic testing.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Decision is the outcome of a single Check call.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration // whole seconds, only set on denial
	Remaining  int
}

// Limiter admits at most limit calls per key within any trailing window.
// Sliding timestamp log, not fixed buckets: a fixed window admits up to
// 2x limit across a bucket boundary, the log does not.
type Limiter struct {
	limit  int
	window time.Duration
	clock  Clock

	mu        sync.Mutex
	entries   map[string][]time.Time
	lastSweep time.Time
}

func New(limit int, window time.Duration) *Limiter {
	return NewWithClock(limit, window, realClock{})
}

func NewWithClock(limit int, window time.Duration, clock Clock) *Limiter {
	return &Limiter{
		limit:     limit,
		window:    window,
		clock:     clock,
		entries:   make(map[string][]time.Time),
		lastSweep: clock.Now(),
	}
}

// Check prunes the key's log, admits and appends now if a slot is free, and
// otherwise denies with the time until the oldest admission leaves the
// window. The whole read-prune-append sequence runs under one mutex so two
// concurrent checks can never both take the last slot.
func (l *Limiter) Check(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.maybeSweep(now)

	log := prune(l.entries[key], now.Add(-l.window))

	if len(log) >= l.limit {
		l.entries[key] = log
		oldest := log[0]
		retry := oldest.Add(l.window).Sub(now)
		return Decision{
			Allowed:    false,
			RetryAfter: ceilSeconds(retry),
		}
	}

	log = append(log, now)
	l.entries[key] = log
	return Decision{Allowed: true, Remaining: l.limit - len(log)}
}

// Len reports how many keys currently hold state, for monitoring the
// sweep behaviour.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Reset clears a key's admission log.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// maybeSweep drops idle keys at most once per window so the map stays
// bounded by the set of recently active keys. Called with l.mu held.
func (l *Limiter) maybeSweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	cutoff := now.Add(-l.window)
	for key, log := range l.entries {
		if len(log) == 0 || log[len(log)-1].Before(cutoff) {
			delete(l.entries, key)
		}
	}
	l.lastSweep = now
}

func prune(log []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(log) && !log[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return log
	}
	return append(log[:0:0], log[i:]...)
}

func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	return time.Duration(math.Ceil(d.Seconds())) * time.Second
}
