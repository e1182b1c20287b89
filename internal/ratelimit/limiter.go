// Package ratelimit provides an in-memory sliding-window rate limiter.
//
// The limiter keeps a log of request timestamps per "{clientID}:{endpoint}"
// key. A key that meets its limit inside the window is blocked outright for
// a configurable duration, and stale entries are swept opportunistically on
// a small fraction of calls. State is per-instance; multi-instance
// deployments should use the Redis-backed limiter in internal/cache.
package ratelimit

import (
	"math/rand"
	"sync"
	"time"
)

// DefaultCleanupChance is the probability of a sweep per Allow call.
const DefaultCleanupChance = 0.01

// Rule defines the limit applied to a key.
type Rule struct {
	// Window is the sliding window length.
	Window time.Duration
	// Limit is the max requests allowed inside the window.
	Limit int
	// BlockDuration is how long a key stays blocked after exceeding
	// the limit. Zero means no block escalation; the key recovers as
	// soon as timestamps age out of the window.
	BlockDuration time.Duration
}

// Result contains the outcome of a rate limit check.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// entry tracks the request log and block state for one key.
type entry struct {
	timestamps   []time.Time
	blockedUntil time.Time
}

// Limiter is a thread-safe sliding-window-log rate limiter.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry

	// now and chance are injectable for deterministic tests.
	now           func() time.Time
	cleanupChance float64
	rnd           func() float64
}

// New creates a Limiter.
func New() *Limiter {
	return &Limiter{
		entries:       make(map[string]*entry),
		now:           time.Now,
		cleanupChance: DefaultCleanupChance,
		rnd:           rand.Float64,
	}
}

// Key builds the limiter key for a client and endpoint pair.
func Key(clientID, endpoint string) string {
	return clientID + ":" + endpoint
}

// Allow checks and records a request for the given key under rule.
func (l *Limiter) Allow(key string, rule Rule) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if l.rnd() < l.cleanupChance {
		l.sweepLocked(now, rule.Window)
	}

	e, ok := l.entries[key]
	if !ok {
		e = &entry{}
		l.entries[key] = e
	}

	// An active block rejects without touching the log.
	if e.blockedUntil.After(now) {
		return Result{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: e.blockedUntil.Sub(now),
			ResetAt:    e.blockedUntil,
		}
	}

	e.prune(now, rule.Window)

	if len(e.timestamps) >= rule.Limit {
		if rule.BlockDuration > 0 {
			e.blockedUntil = now.Add(rule.BlockDuration)
			return Result{
				Allowed:    false,
				Remaining:  0,
				RetryAfter: rule.BlockDuration,
				ResetAt:    e.blockedUntil,
			}
		}

		// No block configured: the caller may retry once the oldest
		// timestamp leaves the window.
		resetAt := e.timestamps[0].Add(rule.Window)
		return Result{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: resetAt.Sub(now),
			ResetAt:    resetAt,
		}
	}

	e.timestamps = append(e.timestamps, now)

	return Result{
		Allowed:   true,
		Remaining: rule.Limit - len(e.timestamps),
		ResetAt:   e.timestamps[0].Add(rule.Window),
	}
}

// prune drops timestamps older than the window.
func (e *entry) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(e.timestamps) && !e.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		e.timestamps = append(e.timestamps[:0], e.timestamps[i:]...)
	}
}

// sweepLocked removes entries with no recent activity and no active block.
// Must be called with l.mu held.
func (l *Limiter) sweepLocked(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	for key, e := range l.entries {
		if e.blockedUntil.After(now) {
			continue
		}
		if len(e.timestamps) > 0 && e.timestamps[len(e.timestamps)-1].After(cutoff) {
			continue
		}
		delete(l.entries, key)
	}
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
