// Package pool implements the per-host connection pool: shares
// *http.Client objects among callers keyed by upstream host, enforces a
// total entry limit (MaxConnections) across all hosts, and reaps idle/aged
// entries. There is no separate per-host limit. The idle reaper
// runs as a supervisor.Worker spawned by the caller.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/aimux/gateway/errors"
	"github.com/aimux/gateway/internal/httpclient"
)

// Entry is a pooled upstream HTTP client bound to one host.
type Entry struct {
	Host         string
	Client       *httpclient.SaferClient
	CreatedAt    time.Time
	LastUsedAt   time.Time
	RequestCount int
	Healthy      bool

	checkedOut bool
}

func (e *Entry) expired(now time.Time, maxAge, idleTimeout time.Duration) bool {
	if maxAge > 0 && now.Sub(e.CreatedAt) > maxAge {
		return true
	}
	if idleTimeout > 0 && now.Sub(e.LastUsedAt) > idleTimeout {
		return true
	}
	return false
}

// Config bounds the pool's behavior.
type Config struct {
	MaxConnections      int
	MaxAge              time.Duration
	IdleTimeout         time.Duration
	MaxRequestsPerEntry int
	ClientTimeout       time.Duration
}

// Pool is a shared set of per-host HTTP clients.
type Pool struct {
	cfg Config

	mu       sync.Mutex
	cond     *sync.Cond
	entries  map[string][]*Entry // free entries per host
	total    int                 // count of all entries (free + checked out)
	closed   bool
}

// New constructs a Pool.
func New(cfg Config) *Pool {
	p := &Pool{cfg: cfg, entries: make(map[string][]*Entry)}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Acquire returns a ready entry bound to host. A free entry is reused if
// one exists; otherwise, if the pool is below cap, a new entry is
// created; otherwise the caller blocks until an entry is released or
// deadline elapses.
func (p *Pool) Acquire(ctx context.Context, host string, deadline time.Time) (*Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if p.closed {
			return nil, errors.New("pool is shut down")
		}

		if e := p.takeFreeLocked(host); e != nil {
			return e, nil
		}

		if p.cfg.MaxConnections <= 0 || p.total < p.cfg.MaxConnections {
			e := p.newEntryLocked(host)
			return e, nil
		}

		if !p.waitLocked(ctx, deadline) {
			return nil, errors.Newf("timed out acquiring connection for host %q", host)
		}
	}
}

func (p *Pool) takeFreeLocked(host string) *Entry {
	free := p.entries[host]
	now := time.Now()
	for len(free) > 0 {
		e := free[len(free)-1]
		free = free[:len(free)-1]
		p.entries[host] = free
		if e.expired(now, p.cfg.MaxAge, p.cfg.IdleTimeout) {
			p.total--
			continue
		}
		e.checkedOut = true
		return e
	}
	return nil
}

func (p *Pool) newEntryLocked(host string) *Entry {
	timeout := p.cfg.ClientTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	e := &Entry{
		Host:       host,
		Client:     httpclient.NewSaferClient(timeout),
		CreatedAt:  time.Now(),
		LastUsedAt: time.Now(),
		Healthy:    true,
		checkedOut: true,
	}
	p.total++
	return e
}

// waitLocked blocks on p.cond until woken or the deadline/ctx elapses.
// Returns false on timeout/cancellation. Must be called with p.mu held;
// re-acquires it before returning.
func (p *Pool) waitLocked(ctx context.Context, deadline time.Time) bool {
	woken := make(chan struct{})
	timer := time.AfterFunc(time.Until(deadline), func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer timer.Stop()

	go func() {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		case <-woken:
		}
	}()

	p.cond.Wait()
	close(woken)

	if time.Now().After(deadline) {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	default:
		return true
	}
}

// Release returns entry to the pool. If ok is false, or the entry exceeds
// any cap (age, request count), it is retired instead of pooled.
func (p *Pool) Release(e *Entry, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e.checkedOut = false
	e.LastUsedAt = time.Now()
	e.RequestCount++
	e.Healthy = ok

	retire := !ok ||
		e.expired(time.Now(), p.cfg.MaxAge, p.cfg.IdleTimeout) ||
		(p.cfg.MaxRequestsPerEntry > 0 && e.RequestCount >= p.cfg.MaxRequestsPerEntry) ||
		p.closed

	if retire {
		p.total--
		p.cond.Signal()
		return
	}

	p.entries[e.Host] = append(p.entries[e.Host], e)
	p.cond.Signal()
}

// ReapIdle retires every free entry past its idle timeout or max age.
// Intended to run on an interval inside a supervised worker.
func (p *Pool) ReapIdle() (reaped int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for host, free := range p.entries {
		kept := free[:0]
		for _, e := range free {
			if e.expired(now, p.cfg.MaxAge, p.cfg.IdleTimeout) {
				p.total--
				reaped++
				continue
			}
			kept = append(kept, e)
		}
		p.entries[host] = kept
	}
	return reaped
}

// Shutdown refuses new acquisitions and retires all currently-free
// entries. Entries still checked out are retired as they're released.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for host := range p.entries {
		p.total -= len(p.entries[host])
	}
	p.entries = make(map[string][]*Entry)
	p.cond.Broadcast()
}

// InFlight returns the number of entries currently checked out.
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	free := 0
	for _, es := range p.entries {
		free += len(es)
	}
	return p.total - free
}

// Total returns the total number of live entries (free + checked out).
func (p *Pool) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}
