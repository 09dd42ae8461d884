package gate

import (
	"sync"
	"time"
)

// Category is a rate-limit bucket. Message types map onto categories in the
// capability table; types with no category are never limited.
type Category string

const (
	CategoryAction     Category = "action"
	CategoryChat       Category = "chat"
	CategoryPrivileged Category = "privileged_command"
)

// Limit is max events per window.
type Limit struct {
	Window time.Duration
	Max    int
}

// RateLimiter applies a sliding-window limit per (participant, category).
// The window is exact: each allowed event's timestamp is kept until it ages
// out, so the Nth+1 event inside one window is always rejected.
type RateLimiter struct {
	now    func() time.Time
	limits map[Category]Limit

	mu      sync.Mutex
	history map[limiterKey][]time.Time
}

type limiterKey struct {
	participantID string
	category      Category
}

func NewRateLimiter(now func() time.Time, limits map[Category]Limit) *RateLimiter {
	return &RateLimiter{
		now:     now,
		limits:  limits,
		history: map[limiterKey][]time.Time{},
	}
}

// Allow records one event and reports whether it fits the window.
func (rl *RateLimiter) Allow(participantID string, cat Category) bool {
	lim, limited := rl.limits[cat]
	if !limited || lim.Max <= 0 {
		return true
	}
	now := rl.now()
	cutoff := now.Add(-lim.Window)
	key := limiterKey{participantID: participantID, category: cat}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	events := rl.history[key]
	kept := events[:0]
	for _, t := range events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= lim.Max {
		rl.history[key] = kept
		return false
	}
	rl.history[key] = append(kept, now)
	return true
}

// Forget drops a participant's buckets when their connection goes away.
func (rl *RateLimiter) Forget(participantID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for k := range rl.history {
		if k.participantID == participantID {
			delete(rl.history, k)
		}
	}
}
