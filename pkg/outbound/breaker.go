// Package outbound implements the rate-limited, resilient outbound
// client shared by every external call the orchestrator makes (LLM,
// TTS, MCP-over-HTTP, vision) — per-service priority queue, pacing,
// retry/backoff, and a circuit breaker (spec.md §4.4).
package outbound

import (
	"sync"
	"time"

	taskerrors "github.com/kadirpekel/taskorch/pkg/errors"
)

// BreakerState is one of the three circuit-breaker states.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// Breaker is a per-service circuit breaker, implemented as an explicit
// state struct rather than pulled from a library (spec.md §4.4; no
// breaker package appears anywhere in the reference stack).
type Breaker struct {
	mu sync.Mutex

	state BreakerState

	failureThreshold int
	successThreshold int
	resetTimeout     time.Duration

	consecutiveFailures  int
	consecutiveSuccesses int
	openedAt             time.Time
}

// NewBreaker builds a Breaker in the closed state with spec defaults:
// failureThreshold=5, successThreshold=2, resetTimeout=60s.
func NewBreaker() *Breaker {
	return &Breaker{
		state:            BreakerClosed,
		failureThreshold: 5,
		successThreshold: 2,
		resetTimeout:     60 * time.Second,
	}
}

// State returns the breaker's current state, transitioning Open ->
// Half-Open first if resetTimeout has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked()
	return b.state
}

func (b *Breaker) maybeHalfOpenLocked() {
	if b.state == BreakerOpen && time.Since(b.openedAt) >= b.resetTimeout {
		b.state = BreakerHalfOpen
		b.consecutiveSuccesses = 0
	}
}

// Allow reports whether a call may proceed, returning CircuitOpenError
// if the breaker is open.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked()

	if b.state == BreakerOpen {
		remaining := b.resetTimeout - time.Since(b.openedAt)
		if remaining < 0 {
			remaining = 0
		}
		return taskerrors.NewCircuitOpenError("", remaining)
	}
	return nil
}

// RecordSuccess reports a successful call outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	switch b.state {
	case BreakerHalfOpen:
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.successThreshold {
			b.state = BreakerClosed
			b.consecutiveSuccesses = 0
		}
	case BreakerOpen:
		// A success should not occur while open (Allow rejects first),
		// but treat it as Closed defensively.
		b.state = BreakerClosed
	}
}

// RecordFailure reports a failed call outcome.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerHalfOpen:
		b.trip()
	case BreakerClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.failureThreshold {
			b.trip()
		}
	}
}

func (b *Breaker) trip() {
	b.state = BreakerOpen
	b.openedAt = time.Now()
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
}
