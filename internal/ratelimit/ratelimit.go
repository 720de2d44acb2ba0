// Package ratelimit provides per-user sliding-window rate limiting for
// abuse-prone bot actions.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Limiter decides whether a user may perform an action right now. Allow
// records the attempt when it is permitted; a denied attempt is not recorded
// and does not extend the window.
type Limiter interface {
	// Allow reports whether userID may perform action, and if not, how long
	// until the oldest recorded attempt leaves the window.
	Allow(userID uint, action string) (ok bool, retryAfter time.Duration)

	// Peek reports the same decision as Allow without recording an attempt.
	Peek(userID uint, action string) (ok bool, retryAfter time.Duration)
}

// Rule bounds one action to at most Max attempts per sliding Window.
type Rule struct {
	Max    int
	Window time.Duration
}

// Memory is an in-process Limiter keeping per-user attempt timestamps.
// Actions without a configured rule are always allowed.
type Memory struct {
	mu       sync.Mutex
	rules    map[string]Rule
	attempts map[string][]time.Time
	now      func() time.Time
}

// Opts configures a Memory limiter.
type Opts struct {
	Rules map[string]Rule
	Now   func() time.Time
}

// NewMemory creates an in-memory limiter from the given rules.
func NewMemory(opts Opts) (*Memory, error) {
	if len(opts.Rules) == 0 {
		return nil, fmt.Errorf("ratelimit: at least one rule is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Memory{
		rules:    opts.Rules,
		attempts: make(map[string][]time.Time),
		now:      now,
	}, nil
}

// Allow implements Limiter.
func (m *Memory) Allow(userID uint, action string) (bool, time.Duration) {
	return m.check(userID, action, true)
}

// Peek implements Limiter.
func (m *Memory) Peek(userID uint, action string) (bool, time.Duration) {
	return m.check(userID, action, false)
}

func (m *Memory) check(userID uint, action string, record bool) (bool, time.Duration) {
	rule, ok := m.rules[action]
	if !ok {
		return true, 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := fmt.Sprintf("%d:%s", userID, action)
	now := m.now()
	cutoff := now.Add(-rule.Window)

	kept := m.attempts[key][:0]
	for _, t := range m.attempts[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= rule.Max {
		m.attempts[key] = kept
		return false, kept[0].Sub(cutoff)
	}

	if record {
		kept = append(kept, now)
	}
	m.attempts[key] = kept
	return true, 0
}

// PruneEmpty drops tracking state for users whose recorded attempts have all
// aged out of their windows. Intended to run periodically from a sweep loop.
func (m *Memory) PruneEmpty() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	pruned := 0
	for key, times := range m.attempts {
		live := false
		for action, rule := range m.rules {
			if len(key) > len(action) && key[len(key)-len(action):] == action {
				cutoff := now.Add(-rule.Window)
				for _, t := range times {
					if t.After(cutoff) {
						live = true
						break
					}
				}
				break
			}
		}
		if !live {
			delete(m.attempts, key)
			pruned++
		}
	}
	return pruned
}
