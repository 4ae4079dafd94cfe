// Package ratelimit implements a sliding-window call limiter used as a
// cheap local pre-flight check before a provider adapter even attempts an
// upstream call.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/aimux/gateway/errors"
)

// Limiter is a sliding-window rate limiter: at most maxCalls may occur in
// any trailing window of the configured duration.
type Limiter struct {
	maxCalls int
	window   time.Duration

	mu        sync.Mutex
	callTimes []time.Time
	timeNow   func() time.Time
}

// New constructs a Limiter allowing maxCalls per window.
func New(maxCalls int, window time.Duration) *Limiter {
	return &Limiter{
		maxCalls: maxCalls,
		window:   window,
		timeNow:  time.Now,
	}
}

// NewWithClock is New with an injectable clock, for deterministic tests.
func NewWithClock(maxCalls int, window time.Duration, now func() time.Time) *Limiter {
	return &Limiter{
		maxCalls: maxCalls,
		window:   window,
		timeNow:  now,
	}
}

// Allow records a call if the window has headroom, returning an error if
// the window is already at capacity.
func (l *Limiter) Allow() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.timeNow()
	l.removeExpiredLocked(now)

	if len(l.callTimes) >= l.maxCalls {
		oldest := l.callTimes[0]
		retryAfter := l.window - now.Sub(oldest)
		return errors.WithDetail(
			errors.Newf("rate limit exceeded: %d calls in %s window", l.maxCalls, l.window),
			"retry after "+retryAfter.Round(time.Millisecond).String(),
		)
	}

	l.callTimes = append(l.callTimes, now)
	return nil
}

// Wait blocks, polling every 50ms, until Allow would succeed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		if err := l.Allow(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (l *Limiter) removeExpiredLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for ; i < len(l.callTimes); i++ {
		if l.callTimes[i].After(cutoff) {
			break
		}
	}
	l.callTimes = l.callTimes[i:]
}

// Reset clears all recorded call times.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callTimes = nil
}

// Stats returns the number of calls currently counted in the window and
// the remaining headroom before Allow would reject.
func (l *Limiter) Stats() (callsInWindow, remaining int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removeExpiredLocked(l.timeNow())
	callsInWindow = len(l.callTimes)
	remaining = l.maxCalls - callsInWindow
	if remaining < 0 {
		remaining = 0
	}
	return callsInWindow, remaining
}
