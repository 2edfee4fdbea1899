package clients

import (
	"sync"
	"time"

	pkgerrors "github.com/anshulkhatri/cartful-backend/pkg/errors"
)

// ErrBreakerOpen is returned without touching the network while a
// collaborator is cooling down.
var ErrBreakerOpen = pkgerrors.New(pkgerrors.CodeDependency, "collaborator circuit open")

// breaker is a minimal consecutive-failure circuit breaker. After threshold
// consecutive failures the circuit opens for cooldown, then allows a single
// probe.
type breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  int
	openUntil time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &breaker{threshold: threshold, cooldown: cooldown}
}

func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return true
	}
	if time.Now().After(b.openUntil) {
		// half-open: let one probe through
		b.openUntil = time.Time{}
		b.failures = b.threshold - 1
		return true
	}
	return false
}

func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}

func (b *breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = time.Now().Add(b.cooldown)
	}
}
