// Package ratelimit implements the minimum-interval gate that spaces out
// frontier queries.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of asking the gate whether a query may run.
type Decision struct {
	Proceed  bool
	DeferFor time.Duration
}

// Gate enforces a minimum delay between query attempts. The timestamp advances
// when an attempt is admitted, not when it succeeds, so a failing store is
// never queried in a tight loop.
type Gate struct {
	mu       sync.Mutex
	minDelay time.Duration
	last     time.Time
	set      bool
}

// NewGate creates a Gate. A non-positive minDelay admits every attempt.
func NewGate(minDelay time.Duration) *Gate {
	if minDelay < 0 {
		minDelay = 0
	}
	return &Gate{minDelay: minDelay}
}

// ShouldProceed admits an attempt at now or reports how long to wait.
func (g *Gate) ShouldProceed(now time.Time) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.set {
		elapsed := now.Sub(g.last)
		if elapsed < g.minDelay {
			return Decision{DeferFor: g.minDelay - elapsed}
		}
	}
	g.last = now
	g.set = true
	return Decision{Proceed: true}
}

// Last returns the time of the last admitted attempt.
func (g *Gate) Last() (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last, g.set
}

// MinDelay returns the configured interval.
func (g *Gate) MinDelay() time.Duration {
	return g.minDelay
}
