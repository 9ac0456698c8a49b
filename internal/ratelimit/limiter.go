// Package ratelimit provides sliding-window admission control keyed by a
// client identifier. State is process-local and never persisted; sharing the
// window across multiple server processes would need an external store.
package ratelimit

import (
	"math/rand"
	"sync"
	"time"
)

const (
	// Window is the trailing interval the limiter counts requests in.
	Window = 10 * time.Second
	// MaxRequests is the admission ceiling per identifier per window.
	MaxRequests = 20

	// sweepProbability is the chance a Check triggers a full-map sweep of
	// identifiers whose entries have all expired. Bounds memory growth
	// without a background task.
	sweepProbability = 0.01
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Limiter admits at most MaxRequests calls per identifier in any trailing
// Window. The zero value is not usable; construct with New.
type Limiter struct {
	clock Clock
	max   int
	win   time.Duration

	mu      sync.Mutex
	windows map[string][]time.Time
	rnd     *rand.Rand
}

// New returns a Limiter with the default window and ceiling.
func New() *Limiter {
	return NewWithClock(realClock{})
}

// NewWithClock returns a Limiter using the given clock (for testing window
// expiry deterministically).
func NewWithClock(clock Clock) *Limiter {
	return &Limiter{
		clock:   clock,
		max:     MaxRequests,
		win:     Window,
		windows: make(map[string][]time.Time),
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Check records an admission attempt for identifier and reports whether it is
// allowed. Entries older than the window are pruned first, the pruned count is
// tested against the ceiling, and only admitted attempts are recorded: the
// first 20 calls inside a window succeed and the 21st is rejected.
func (l *Limiter) Check(identifier string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	cutoff := now.Add(-l.win)

	entries := l.windows[identifier]
	kept := entries[:0]
	for _, ts := range entries {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if l.rnd.Float64() < sweepProbability {
		l.sweepLocked(cutoff)
	}

	if len(kept) >= l.max {
		l.windows[identifier] = kept
		return false
	}

	l.windows[identifier] = append(kept, now)
	return true
}

// sweepLocked removes identifiers whose entries have all aged out.
// Caller must hold mu.
func (l *Limiter) sweepLocked(cutoff time.Time) {
	for id, entries := range l.windows {
		live := false
		for _, ts := range entries {
			if ts.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(l.windows, id)
		}
	}
}

// Sweep removes all fully expired identifiers immediately. Exposed so tests
// and shutdown paths do not depend on the opportunistic trigger.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked(l.clock.Now().Add(-l.win))
}

// Tracked returns the number of identifiers currently held in the window map.
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
