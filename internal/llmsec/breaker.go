package llmsec

import (
	"sync"
	"time"
)

// localBreaker is the same {closed,open,half_open} shape as
// internal/provider's circuit breaker, duplicated in miniature here
// rather than imported: the two breakers guard different failure
// domains (vendor data APIs vs. the LLM adapter) and pulling in
// internal/provider just for this one type would couple two otherwise
// independent packages.
type localBreaker struct {
	mu                  sync.Mutex
	open                bool
	halfOpen            bool
	consecutiveFailures int
	threshold           int
	coolDown            time.Duration
	openedAt            time.Time
}

func newLocalBreaker(threshold int, coolDown time.Duration) *localBreaker {
	return &localBreaker{threshold: threshold, coolDown: coolDown}
}

func (b *localBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return true
	}
	if b.halfOpen {
		return false
	}
	if time.Since(b.openedAt) >= b.coolDown {
		b.halfOpen = true
		return true
	}
	return false
}

func (b *localBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = false
	b.halfOpen = false
	b.consecutiveFailures = 0
}

func (b *localBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.halfOpen {
		b.open = true
		b.halfOpen = false
		b.openedAt = time.Now()
		return
	}
	b.consecutiveFailures++
	if b.consecutiveFailures >= b.threshold {
		b.open = true
		b.openedAt = time.Now()
	}
}
