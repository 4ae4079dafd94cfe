// Package router implements the dispatch policy: selects an adapter per
// attempt, consults the cache and circuit breaker, drives retries with
// jittered backoff, and records outcomes into provider state, the circuit
// breaker, and the metrics aggregator.
package router

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/aimux/gateway/breaker"
	"github.com/aimux/gateway/cache"
	"github.com/aimux/gateway/pool"
	"github.com/aimux/gateway/provider"
)

// Observer receives outcome records for every completed attempt and
// request. The Router holds this capability and the metrics aggregator
// implements it, so neither package needs to import the other.
type Observer interface {
	ObserveAttempt(providerName, modelUsed string, outcome provider.Status, kind provider.ErrorKind, latency time.Duration, tokens provider.Tokens)
}

// RetryConfig configures backoff between attempts.
type RetryConfig struct {
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	JitterFraction float64
}

// Config configures the Router's policy knobs.
type Config struct {
	Retry RetryConfig
}

// providerEntry bundles everything the Router tracks per registered
// provider: the adapter, its mutable state, and its breaker.
type providerEntry struct {
	adapter provider.Adapter
	mu      sync.Mutex
	state   provider.State
	breaker *breaker.Breaker
}

// Router owns dispatch policy across a registry of provider adapters.
type Router struct {
	cfg      Config
	registry *provider.Registry
	pool     *pool.Pool
	cache    *cache.Cache
	observer Observer

	mu       sync.RWMutex
	entries  map[string]*providerEntry
}

// New constructs a Router. cacheStore and observer may be nil to disable
// caching or metrics observation respectively.
func New(cfg Config, registry *provider.Registry, p *pool.Pool, cacheStore *cache.Cache, observer Observer, breakerCfg breaker.Config) *Router {
	r := &Router{
		cfg:      cfg,
		registry: registry,
		pool:     p,
		cache:    cacheStore,
		observer: observer,
		entries:  make(map[string]*providerEntry),
	}
	for _, a := range registry.All() {
		r.entries[a.Name()] = &providerEntry{
			adapter: a,
			state:   provider.State{Healthy: true, BreakerState: provider.BreakerClosed},
			breaker: breaker.New(breakerCfg),
		}
	}
	return r
}

// Dispatch runs the full selection/retry loop for req and returns the
// final CanonicalResponse.
func (r *Router) Dispatch(ctx context.Context, req provider.CanonicalRequest) provider.CanonicalResponse {
	tried := make(map[string]bool)

	if !req.Params.Stream && r.cache != nil {
		if resp, ok := r.cache.Get(req.Fingerprint); ok {
			return resp
		}
	}

	for attempt := 0; ; attempt++ {
		req.Attempt = attempt

		if time.Now().After(req.Deadline) {
			return provider.CanonicalResponse{Status: provider.StatusLocalError, ErrorKind: provider.ErrorKindCancelled}
		}

		candidates := r.buildCandidates(req, tried, attempt)
		if len(candidates) == 0 {
			kind := provider.ErrorKindServer
			if r.allFilteredByRateLimit(req, tried) {
				kind = provider.ErrorKindRateLimit
			}
			return provider.CanonicalResponse{Status: provider.StatusLocalError, ErrorKind: kind}
		}

		chosen := candidates[0]
		tried[chosen.adapter.Name()] = true

		resp := r.attempt(ctx, req, chosen)

		if resp.Status == provider.StatusSuccess {
			if !req.Params.Stream && r.cache != nil {
				r.cache.Put(req.Fingerprint, resp, 0, estimateSize(resp))
			}
			return resp
		}

		if resp.ErrorKind == provider.ErrorKindCancelled || !resp.ErrorKind.Retriable() {
			return resp
		}

		if !r.retryBudgetRemains(req, attempt) {
			return resp
		}

		r.backoffSleep(ctx, attempt, req.Deadline)
	}
}

// buildCandidates implements the selection algorithm: filter by model
// support, health, and breaker/rate state, relaxing health constraints on
// the first attempt if nothing else qualifies, then sort by priority.
func (r *Router) buildCandidates(req provider.CanonicalRequest, tried map[string]bool, attempt int) []*providerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	relaxed := false
	candidates := r.filterCandidates(req, tried, relaxed)
	if len(candidates) == 0 && attempt == 0 {
		relaxed = true
		candidates = r.filterCandidates(req, tried, relaxed)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.adapter.Descriptor().Priority != b.adapter.Descriptor().Priority {
			return a.adapter.Descriptor().Priority < b.adapter.Descriptor().Priority
		}
		if a.state.RateLimitRemaining != b.state.RateLimitRemaining {
			return a.state.RateLimitRemaining > b.state.RateLimitRemaining
		}
		if a.state.P95LatencyMS != b.state.P95LatencyMS {
			return a.state.P95LatencyMS < b.state.P95LatencyMS
		}
		return a.adapter.Name() < b.adapter.Name()
	})
	return candidates
}

func (r *Router) filterCandidates(req provider.CanonicalRequest, tried map[string]bool, relaxHealth bool) []*providerEntry {
	var out []*providerEntry
	for name, e := range r.entries {
		if tried[name] {
			continue
		}
		if !e.adapter.Supports(req.Model) {
			continue
		}
		e.mu.Lock()
		healthy := e.state.Healthy
		bstate := e.state.BreakerState
		rateOK := e.state.RateLimitRemaining > 0 || time.Now().After(e.state.RateLimitResetAt)
		e.mu.Unlock()

		// bstate is a cache refreshed only when this provider is actually
		// chosen and attempted, so a breaker that tripped open and has since
		// cleared its recovery timeout would otherwise never be reconsidered.
		// ReadyToProbe consults the live breaker to catch that case without
		// mutating it or consuming a probe token.
		if bstate == provider.BreakerOpen && !e.breaker.ReadyToProbe() {
			continue
		}
		if !relaxHealth {
			if !healthy || bstate == provider.BreakerHalfOpen || !rateOK {
				continue
			}
		} else {
			if !rateOK {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

func (r *Router) allFilteredByRateLimit(req provider.CanonicalRequest, tried map[string]bool) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	any := false
	for name, e := range r.entries {
		if tried[name] || !e.adapter.Supports(req.Model) {
			continue
		}
		any = true
		e.mu.Lock()
		rateOK := e.state.RateLimitRemaining > 0 || time.Now().After(e.state.RateLimitResetAt)
		e.mu.Unlock()
		if rateOK {
			return false
		}
	}
	return any
}

// attempt executes a single dispatch attempt against chosen.
func (r *Router) attempt(ctx context.Context, req provider.CanonicalRequest, chosen *providerEntry) provider.CanonicalResponse {
	if !chosen.breaker.CanExecute() {
		return provider.CanonicalResponse{Status: provider.StatusLocalError, ErrorKind: provider.ErrorKindServer, ProviderUsed: chosen.adapter.Name()}
	}

	deadline := req.Deadline
	if adapterDeadline := time.Now().Add(chosen.adapter.Descriptor().Timeout); chosen.adapter.Descriptor().Timeout > 0 && adapterDeadline.Before(deadline) {
		deadline = adapterDeadline
	}
	attemptCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	host := chosen.adapter.Descriptor().Endpoint
	entry, err := r.pool.Acquire(attemptCtx, host, deadline)
	if err != nil {
		return r.recordOutcome(chosen, provider.CanonicalResponse{
			Status: provider.StatusLocalError, ErrorKind: provider.ErrorKindTimeout, ProviderUsed: chosen.adapter.Name(),
		}, false)
	}

	body, headers, path, err := chosen.adapter.Encode(req)
	if err != nil {
		r.pool.Release(entry, true)
		return r.recordOutcome(chosen, provider.CanonicalResponse{
			Status: provider.StatusLocalError, ErrorKind: provider.ErrorKindInternal, ProviderUsed: chosen.adapter.Name(),
		}, false)
	}

	start := time.Now()
	statusCode, respHeaders, respBody, callErr := chosen.adapter.Do(attemptCtx, body, headers, path)
	latency := time.Since(start)

	if callErr != nil {
		ok := attemptCtx.Err() == nil
		r.pool.Release(entry, ok)
		kind := provider.ErrorKindConnection
		if attemptCtx.Err() != nil {
			kind = provider.ErrorKindTimeout
			if ctx.Err() != nil {
				kind = provider.ErrorKindCancelled
			}
		}
		return r.recordOutcome(chosen, provider.CanonicalResponse{
			Status: provider.StatusUpstreamError, ErrorKind: kind, ProviderUsed: chosen.adapter.Name(), LatencyMS: latency.Milliseconds(),
		}, false)
	}
	r.pool.Release(entry, statusCode < 500)

	resp := chosen.adapter.Decode(statusCode, respHeaders, respBody)
	resp.ProviderUsed = chosen.adapter.Name()
	resp.LatencyMS = latency.Milliseconds()

	rs := chosen.adapter.RateStatus()
	chosen.mu.Lock()
	chosen.state.RateLimitRemaining = rs.Remaining
	chosen.state.RateLimitResetAt = rs.ResetAt
	chosen.mu.Unlock()

	return r.recordOutcome(chosen, resp, resp.Status == provider.StatusSuccess)
}

// recordOutcome updates provider state, the breaker, and the metrics
// observer for one attempt's result.
func (r *Router) recordOutcome(chosen *providerEntry, resp provider.CanonicalResponse, success bool) provider.CanonicalResponse {
	chosen.mu.Lock()
	if success {
		chosen.state.ConsecutiveFailures = 0
		chosen.state.Healthy = true
	} else if resp.Status == provider.StatusUpstreamError {
		chosen.state.ConsecutiveFailures++
	}
	chosen.mu.Unlock()

	if success {
		chosen.breaker.RecordSuccess()
	} else if resp.Status == provider.StatusUpstreamError {
		chosen.breaker.RecordFailure()
	}

	chosen.mu.Lock()
	chosen.state.BreakerState = provider.BreakerState(chosen.breaker.State())
	chosen.mu.Unlock()

	if r.observer != nil {
		r.observer.ObserveAttempt(chosen.adapter.Name(), resp.ModelUsed, resp.Status, resp.ErrorKind, time.Duration(resp.LatencyMS)*time.Millisecond, resp.Tokens)
	}
	return resp
}

func (r *Router) retryBudgetRemains(req provider.CanonicalRequest, attempt int) bool {
	if time.Now().After(req.Deadline) {
		return false
	}
	maxRetries := 3
	r.mu.RLock()
	for _, e := range r.entries {
		if mr := e.adapter.Descriptor().MaxRetries; mr > 0 && mr < maxRetries {
			maxRetries = mr
		}
	}
	r.mu.RUnlock()
	return attempt < maxRetries
}

func (r *Router) backoffSleep(ctx context.Context, attempt int, deadline time.Time) {
	base := r.cfg.Retry.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	maxDelay := r.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	delay := base * time.Duration(1<<uint(attempt))
	if delay > maxDelay {
		delay = maxDelay
	}
	jitterFrac := r.cfg.Retry.JitterFraction
	if jitterFrac <= 0 {
		jitterFrac = 0.2
	}
	jitter := time.Duration((rand.Float64()*2 - 1) * jitterFrac * float64(delay))
	delay += jitter
	if delay < 0 {
		delay = 0
	}

	remaining := time.Until(deadline)
	if delay > remaining {
		delay = remaining
	}
	if delay <= 0 {
		return
	}

	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

func estimateSize(resp provider.CanonicalResponse) int {
	size := 0
	for _, b := range resp.Content {
		size += len(b.Text)
	}
	return size + 256
}

// ProviderState returns a snapshot of one provider's mutable state.
func (r *Router) ProviderState(name string) (provider.State, bool) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return provider.State{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, true
}
