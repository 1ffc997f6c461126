package notify

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while a Breaker is rejecting deliveries.
var ErrCircuitOpen = errors.New("notify: circuit breaker is open")

// BreakerState is the state of a Breaker.
type BreakerState int

const (
	// BreakerClosed delivers every notification and counts failures.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects notifications without calling the downstream notifier.
	BreakerOpen
	// BreakerHalfOpen lets probe deliveries through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker wraps a Notifier with a circuit breaker. After failureThreshold
// consecutive failures it stops calling the downstream notifier for
// openTimeout, then lets probes through until successThreshold of them
// succeed. Stage changes therefore do not wait on a sink that is down.
type Breaker struct {
	next             Notifier
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	now              func() time.Time

	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
}

// NewBreaker wraps next. Non-positive arguments fall back to 5 failures,
// 1 success and 30 seconds.
func NewBreaker(next Notifier, failureThreshold, successThreshold int, openTimeout time.Duration) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 5
	}
	if successThreshold < 1 {
		successThreshold = 1
	}
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}
	return &Breaker{
		next:             next,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openTimeout:      openTimeout,
		now:              time.Now,
	}
}

// Notify delivers n unless the circuit is open.
func (b *Breaker) Notify(ctx context.Context, n Notification) error {
	if !b.allow() {
		return ErrCircuitOpen
	}
	err := b.next.Notify(ctx, n)
	b.record(err)
	return err
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()
	return b.state
}

// HealthCheck forwards to the wrapped notifier when it supports health
// checks.
func (b *Breaker) HealthCheck(ctx context.Context) error {
	if hc, ok := b.next.(interface{ HealthCheck(context.Context) error }); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()
	return b.state != BreakerOpen
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		switch b.state {
		case BreakerClosed:
			b.failures = 0
		case BreakerHalfOpen:
			b.successes++
			if b.successes >= b.successThreshold {
				b.state = BreakerClosed
				b.failures = 0
				b.successes = 0
			}
		}
		return
	}

	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.openLocked()
		}
	case BreakerHalfOpen:
		b.openLocked()
	}
}

// refreshLocked moves an expired open circuit to half-open.
func (b *Breaker) refreshLocked() {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.openTimeout {
		b.state = BreakerHalfOpen
		b.successes = 0
	}
}

func (b *Breaker) openLocked() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.successes = 0
}
