// Package ratelimit provides an in-memory sliding window limiter keyed by
// arbitrary strings such as client IPs or normalized email addresses.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter implements a sliding window rate limiter
type Limiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	cleanup  time.Time
	now      func() time.Time
}

// New creates a limiter allowing limit events per key within window.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		cleanup:  time.Now(),
		now:      time.Now,
	}
}

// Allow checks if an event for the given key is allowed and records it if so.
func (rl *Limiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.window)

	if now.Sub(rl.cleanup) > time.Minute {
		for k, times := range rl.requests {
			filtered := filterTimes(times, windowStart)
			if len(filtered) == 0 {
				delete(rl.requests, k)
			} else {
				rl.requests[k] = filtered
			}
		}
		rl.cleanup = now
	}

	times := filterTimes(rl.requests[key], windowStart)

	if len(times) >= rl.limit {
		rl.requests[key] = times
		return false
	}

	rl.requests[key] = append(times, now)
	return true
}

func (rl *Limiter) Window() time.Duration {
	return rl.window
}

func filterTimes(times []time.Time, cutoff time.Time) []time.Time {
	result := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			result = append(result, t)
		}
	}
	return result
}
