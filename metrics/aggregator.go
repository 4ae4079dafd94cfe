package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/aimux/gateway/provider"
)

// providerCounters is the mutable per-provider accumulator. Counters are
// plain int64s updated under a short per-provider lock rather than
// lock-free atomics, matching the spec's "single-writer or striped lock"
// allowance for eventually-consistent metric reads. ObserveAttempt takes
// this lock, plus the aggregator's lock only to look up (or, the first time
// a provider is seen, create) the entry; Snapshot takes it once per
// provider to copy the counters.
type providerCounters struct {
	mu             sync.Mutex
	requests       int64
	successes      int64
	failuresByKind map[provider.ErrorKind]int64
	tokensInput    int64
	tokensOutput   int64
	totalCost      float64
	windowStart    time.Time
	windowCount    int64
	latencies      *latencyWindow
}

func newProviderCounters() *providerCounters {
	return &providerCounters{
		failuresByKind: make(map[provider.ErrorKind]int64),
		windowStart:    time.Now(),
		latencies:      newLatencyWindow(512),
	}
}

type endpointCounters struct {
	mu              sync.Mutex
	requests        int64
	totalDurationMS int64
	statusBreakdown map[int]int64
}

func newEndpointCounters() *endpointCounters {
	return &endpointCounters{statusBreakdown: make(map[int]int64)}
}

// Aggregator implements router.Observer and centralizes the counters the
// dashboard views are derived from.
type Aggregator struct {
	startedAt time.Time
	sequence  uint64

	mu        sync.RWMutex
	providers map[string]*providerCounters
	endpoints map[string]*endpointCounters

	activeConnections int64

	historyMu sync.Mutex
	history   map[string]*ring
}

// seriesNames are the five historical dashboard series.
var seriesNames = []string{"avg_response_time_ms", "success_rate", "requests_per_minute", "cpu_percent", "memory_percent"}

// New constructs an Aggregator.
func New() *Aggregator {
	a := &Aggregator{
		startedAt: time.Now(),
		providers: make(map[string]*providerCounters),
		endpoints: make(map[string]*endpointCounters),
		history:   make(map[string]*ring),
	}
	for _, name := range seriesNames {
		a.history[name] = newRing(60)
	}
	return a
}

func (a *Aggregator) providerCounter(name string) *providerCounters {
	a.mu.RLock()
	pc, ok := a.providers[name]
	a.mu.RUnlock()
	if ok {
		return pc
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if pc, ok := a.providers[name]; ok {
		return pc
	}
	pc = newProviderCounters()
	a.providers[name] = pc
	return pc
}

func (a *Aggregator) endpointCounter(path string) *endpointCounters {
	a.mu.RLock()
	ec, ok := a.endpoints[path]
	a.mu.RUnlock()
	if ok {
		return ec
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if ec, ok := a.endpoints[path]; ok {
		return ec
	}
	ec = newEndpointCounters()
	a.endpoints[path] = ec
	return ec
}

// ObserveAttempt records one completed dispatch attempt. Implements
// router.Observer; called on the hot path and must not block.
func (a *Aggregator) ObserveAttempt(providerName, modelUsed string, outcome provider.Status, kind provider.ErrorKind, latency time.Duration, tokens provider.Tokens) {
	pc := a.providerCounter(providerName)
	cost := estimateCost(modelUsed, tokens.Input, tokens.Output)

	pc.mu.Lock()
	pc.requests++
	if outcome == provider.StatusSuccess {
		pc.successes++
	} else if kind != provider.ErrorKindNone {
		pc.failuresByKind[kind]++
	}
	pc.tokensInput += int64(tokens.Input)
	pc.tokensOutput += int64(tokens.Output)
	pc.totalCost += cost
	pc.windowCount++
	pc.latencies.add(float64(latency.Milliseconds()))
	pc.mu.Unlock()
}

// ObserveRequest records one completed inbound HTTP request.
func (a *Aggregator) ObserveRequest(path string, statusCode int, duration time.Duration) {
	ec := a.endpointCounter(path)
	ec.mu.Lock()
	ec.requests++
	ec.totalDurationMS += duration.Milliseconds()
	ec.statusBreakdown[statusCode]++
	ec.mu.Unlock()
}

// ConnectionOpened/ConnectionClosed track the active WebSocket connection
// count surfaced in SystemSnapshot.
func (a *Aggregator) ConnectionOpened() { atomic.AddInt64(&a.activeConnections, 1) }
func (a *Aggregator) ConnectionClosed() { atomic.AddInt64(&a.activeConnections, -1) }

// providerSnapshot derives a ProviderSnapshot from accumulated counters.
func (a *Aggregator) providerSnapshot(name string, pc *providerCounters, elapsed time.Duration) ProviderSnapshot {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	snap := ProviderSnapshot{
		Name:           name,
		Requests:       pc.requests,
		Successes:      pc.successes,
		TokensInput:    pc.tokensInput,
		TokensOutput:   pc.tokensOutput,
		TotalCost:      pc.totalCost,
		FailuresByKind: make(map[string]int64, len(pc.failuresByKind)),
	}
	var failures int64
	for kind, n := range pc.failuresByKind {
		snap.FailuresByKind[string(kind)] = n
		failures += n
	}
	snap.Failures = failures

	if pc.requests > 0 {
		snap.SuccessRate = float64(pc.successes) / float64(pc.requests)
	}

	elapsedSeconds := elapsed.Seconds()
	if elapsedSeconds > 0 {
		snap.RequestsPerSec = float64(pc.requests) / elapsedSeconds
		snap.RequestsPerMin = snap.RequestsPerSec * 60
		snap.RequestsPerHour = snap.RequestsPerSec * 3600
	}
	if elapsedSeconds > 0 {
		snap.CostPerHour = pc.totalCost / elapsedSeconds * 3600
	}

	snap.AvgLatencyMS, snap.P50LatencyMS, snap.P95LatencyMS, snap.P99LatencyMS = pc.latencies.percentiles()
	return snap
}

func (a *Aggregator) endpointSnapshot(path string, ec *endpointCounters) EndpointSnapshot {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	snap := EndpointSnapshot{
		Path:            path,
		Requests:        ec.requests,
		StatusBreakdown: make(map[int]int64, len(ec.statusBreakdown)),
	}
	for code, n := range ec.statusBreakdown {
		snap.StatusBreakdown[code] = n
	}
	if ec.requests > 0 {
		snap.AvgDurationMS = float64(ec.totalDurationMS) / float64(ec.requests)
	}
	return snap
}

// Snapshot assembles the current MetricsSnapshot, including system
// sampling and the historical rings.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	providerNames := make([]string, 0, len(a.providers))
	providerCs := make(map[string]*providerCounters, len(a.providers))
	for name, pc := range a.providers {
		providerNames = append(providerNames, name)
		providerCs[name] = pc
	}
	endpointPaths := make([]string, 0, len(a.endpoints))
	endpointCs := make(map[string]*endpointCounters, len(a.endpoints))
	for path, ec := range a.endpoints {
		endpointPaths = append(endpointPaths, path)
		endpointCs[path] = ec
	}
	a.mu.RUnlock()

	elapsed := time.Since(a.startedAt)

	providers := make(map[string]ProviderSnapshot, len(providerNames))
	var totalRPS float64
	for _, name := range providerNames {
		ps := a.providerSnapshot(name, providerCs[name], elapsed)
		providers[name] = ps
		totalRPS += ps.RequestsPerSec
	}

	endpoints := make(map[string]EndpointSnapshot, len(endpointPaths))
	for _, path := range endpointPaths {
		endpoints[path] = a.endpointSnapshot(path, endpointCs[path])
	}

	system := a.sampleSystem()
	system.ActiveConnections = int(atomic.LoadInt64(&a.activeConnections))
	system.TotalRPS = totalRPS
	system.UptimeSeconds = elapsed.Seconds()

	seq := atomic.AddUint64(&a.sequence, 1)

	return Snapshot{
		Timestamp: time.Now(),
		Sequence:  seq,
		Providers: providers,
		Endpoints: endpoints,
		System:    system,
		History:   a.historySnapshot(),
	}
}
