package provider

import (
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// circuitBreaker is a small per-provider {closed,open,half_open} state
// machine. It opens after consecutiveFailures and stays open for
// coolDown before allowing one half-open trial call through.
type circuitBreaker struct {
	mu                  sync.Mutex
	state               breakerState
	consecutiveFailures int
	failureThreshold    int
	coolDown            time.Duration
	openedAt            time.Time
}

func newCircuitBreaker(failureThreshold int, coolDown time.Duration) *circuitBreaker {
	return &circuitBreaker{failureThreshold: failureThreshold, coolDown: coolDown}
}

// Allow reports whether a call may proceed right now. An open breaker
// past its cool-down transitions to half-open and allows exactly the
// call that observes the transition.
func (b *circuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerHalfOpen:
		return false // a trial call is already in flight
	case breakerOpen:
		if time.Since(b.openedAt) >= b.coolDown {
			b.state = breakerHalfOpen
			return true
		}
		return false
	}
	return false
}

// RecordSuccess closes the breaker and resets the failure counter.
func (b *circuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = breakerClosed
	b.consecutiveFailures = 0
}

// RecordFailure increments the failure counter and opens the breaker
// once the threshold is reached (or immediately, if the failing call was
// the half-open trial).
func (b *circuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		b.state = breakerOpen
		b.openedAt = time.Now()
		return
	}

	b.consecutiveFailures++
	if b.consecutiveFailures >= b.failureThreshold {
		b.state = breakerOpen
		b.openedAt = time.Now()
	}
}

// State reports the breaker's current state as a string for logging and
// health reporting.
func (b *circuitBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}
