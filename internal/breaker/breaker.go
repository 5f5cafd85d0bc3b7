// Package breaker tracks upstream auth failures and decides when to stop
// calling the provider.
//
// It is a leaky bucket, not an open/half-open/closed state machine: each 403
// adds one, each successful call drains one, and calls are refused while the
// level is at or above the threshold. Nothing drains it while it refuses
// calls, so once tripped it stays tripped until Reset (token rotation) or a
// restart.
package breaker

import "sync"

const DefaultThreshold = 5

type Governor struct {
	mu        sync.Mutex
	count     int
	threshold int
}

// New returns a Governor tripping at threshold; non-positive values use DefaultThreshold.
func New(threshold int) *Governor {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Governor{threshold: threshold}
}

func (g *Governor) RecordAuthFailure() {
	g.mu.Lock()
	g.count++
	g.mu.Unlock()
}

// RecordSuccess drains one failure, never below zero.
func (g *Governor) RecordSuccess() {
	g.mu.Lock()
	if g.count > 0 {
		g.count--
	}
	g.mu.Unlock()
}

// Tripped reports whether upstream calls must be skipped.
func (g *Governor) Tripped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count >= g.threshold
}

func (g *Governor) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

func (g *Governor) Threshold() int { return g.threshold }

// Reset empties the bucket.
func (g *Governor) Reset() {
	g.mu.Lock()
	g.count = 0
	g.mu.Unlock()
}
