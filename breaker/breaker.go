// Package breaker implements the per-upstream circuit breaker state
// machine that gates outbound calls: a closed/open/half_open state
// machine tracking consecutive failures and successes. Half-open probing
// is gated by a golang.org/x/time/rate limiter so a recovering upstream
// sees one probe at a time instead of every queued request at once.
package breaker

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// State is the breaker's discrete state.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Config configures the thresholds driving state transitions.
type Config struct {
	FailureThreshold int           // consecutive failures to trip closed -> open
	RecoveryTimeout  time.Duration // open -> half_open after this elapses
	SuccessThreshold int           // consecutive half_open successes to close
}

// DefaultConfig returns reasonable defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 2,
	}
}

// Breaker is a single upstream's circuit breaker.
type Breaker struct {
	cfg Config

	mu                   sync.Mutex
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	openedAt             time.Time

	// probeLimiter admits at most one half_open probe per RecoveryTimeout
	// (a token bucket of size 1), whether or not the previous probe has
	// finished, rather than letting every concurrent caller hit a
	// still-recovering upstream at once.
	probeLimiter *rate.Limiter
}

// New constructs a Breaker in the closed state.
func New(cfg Config) *Breaker {
	return &Breaker{
		cfg:          cfg,
		state:        Closed,
		probeLimiter: rate.NewLimiter(rate.Every(cfg.RecoveryTimeout), 1),
	}
}

// CanExecute returns a boolean snapshot of whether a call should proceed.
// Observing open -> half_open transition lazily: if the recovery timeout
// has elapsed since the breaker tripped, the next call is allowed through
// as a single probe.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Closed:
		return true
	case HalfOpen:
		return b.probeLimiter.Allow()
	case Open:
		if time.Since(b.openedAt) >= b.cfg.RecoveryTimeout {
			b.state = HalfOpen
			b.consecutiveSuccesses = 0
			b.probeLimiter.Allow() // consume the first probe's token immediately
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess drives the half_open -> closed transition and resets the
// failure counter in all states.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	switch b.state {
	case HalfOpen:
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.consecutiveSuccesses = 0
		}
	case Open:
		// Shouldn't normally happen (CanExecute would have blocked), but a
		// success here still means the upstream recovered.
		b.state = Closed
	}
}

// RecordFailure drives the closed -> open transition, and returns
// half_open -> open immediately on any half_open failure, resetting the
// recovery timer.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveSuccesses = 0

	switch b.state {
	case HalfOpen:
		b.state = Open
		b.openedAt = time.Now()
	case Closed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.state = Open
			b.openedAt = time.Now()
		}
	case Open:
		b.openedAt = time.Now()
	}
}

// State returns the current state without mutating it (no lazy
// open -> half_open observation — use CanExecute for that).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ReadyToProbe reports whether an open breaker has cleared its recovery
// timeout and should be reconsidered as a dispatch candidate, without
// performing the admission itself or consuming a probe token (see
// CanExecute). Always false outside the open state.
func (b *Breaker) ReadyToProbe() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Open {
		return false
	}
	return time.Since(b.openedAt) >= b.cfg.RecoveryTimeout
}

// Reset returns the breaker to closed with cleared counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
	b.probeLimiter = rate.NewLimiter(rate.Every(b.cfg.RecoveryTimeout), 1)
}
