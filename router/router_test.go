package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimux/gateway/breaker"
	"github.com/aimux/gateway/cache"
	"github.com/aimux/gateway/pool"
	"github.com/aimux/gateway/provider"
)

// scriptedAdapter replays a sequence of (statusCode, callErr) results
// across successive Do calls, repeating the final entry once exhausted.
type scriptedAdapter struct {
	name     string
	models   []string
	priority int
	timeout  time.Duration

	codes []int
	errs  []error
	calls int

	rate provider.RateStatus
}

func (a *scriptedAdapter) Name() string { return a.name }
func (a *scriptedAdapter) Descriptor() provider.Descriptor {
	return provider.Descriptor{Name: a.name, Endpoint: "https://" + a.name + ".example.test", Models: a.models, Priority: a.priority, Timeout: a.timeout}
}
func (a *scriptedAdapter) Encode(req provider.CanonicalRequest) ([]byte, map[string]string, string, error) {
	return []byte("{}"), nil, "/v1/messages", nil
}
func (a *scriptedAdapter) Decode(statusCode int, headers map[string][]string, body []byte) provider.CanonicalResponse {
	if statusCode >= 500 {
		return provider.CanonicalResponse{Status: provider.StatusUpstreamError, ErrorKind: provider.ErrorKindServer}
	}
	if statusCode == 429 {
		return provider.CanonicalResponse{Status: provider.StatusUpstreamError, ErrorKind: provider.ErrorKindRateLimit}
	}
	if statusCode == 401 {
		return provider.CanonicalResponse{Status: provider.StatusUpstreamError, ErrorKind: provider.ErrorKindAuth}
	}
	return provider.CanonicalResponse{Status: provider.StatusSuccess, ModelUsed: a.models[0]}
}
func (a *scriptedAdapter) Do(ctx context.Context, body []byte, headers map[string]string, path string) (int, map[string][]string, []byte, error) {
	idx := a.calls
	if idx >= len(a.codes) {
		idx = len(a.codes) - 1
	}
	a.calls++
	var err error
	if idx < len(a.errs) {
		err = a.errs[idx]
	}
	return a.codes[idx], nil, nil, err
}
func (a *scriptedAdapter) Probe(ctx context.Context) bool  { return true }
func (a *scriptedAdapter) RateStatus() provider.RateStatus { return a.rate }
func (a *scriptedAdapter) Supports(modelID string) bool {
	for _, m := range a.models {
		if m == modelID {
			return true
		}
	}
	return false
}

var _ provider.Adapter = (*scriptedAdapter)(nil)

func testRouter(t *testing.T, adapters []provider.Adapter, cacheStore *cache.Cache) *Router {
	t.Helper()
	reg := provider.NewRegistry()
	for _, a := range adapters {
		require.NoError(t, reg.Register(a))
	}
	p := pool.New(pool.Config{MaxConnections: 16})
	cfg := Config{Retry: RetryConfig{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, JitterFraction: 0}}
	return New(cfg, reg, p, cacheStore, nil, breaker.Config{FailureThreshold: 3, RecoveryTimeout: 50 * time.Millisecond, SuccessThreshold: 1})
}

func testRequest(model string) provider.CanonicalRequest {
	return provider.CanonicalRequest{
		Model:       model,
		Messages:    []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
		Fingerprint: "fp-" + model,
		Deadline:    time.Now().Add(2 * time.Second),
	}
}

func TestDispatch_HappyPathReturnsSuccess(t *testing.T) {
	a := &scriptedAdapter{name: "p1", models: []string{"m1"}, codes: []int{200}}
	r := testRouter(t, []provider.Adapter{a}, nil)

	resp := r.Dispatch(context.Background(), testRequest("m1"))

	assert.Equal(t, provider.StatusSuccess, resp.Status)
	assert.Equal(t, "p1", resp.ProviderUsed)
}

func TestDispatch_NoCandidateSupportsModel(t *testing.T) {
	a := &scriptedAdapter{name: "p1", models: []string{"m1"}, codes: []int{200}}
	r := testRouter(t, []provider.Adapter{a}, nil)

	resp := r.Dispatch(context.Background(), testRequest("unknown-model"))

	assert.Equal(t, provider.StatusLocalError, resp.Status)
}

// A lone provider that fails is never retried against itself: once an
// adapter is attempted it is excluded from later candidate rounds within
// the same Dispatch call, so "retry" means failover to a different
// provider, not a second attempt against the same one.
func TestDispatch_SingleProviderFailureExhaustsImmediately(t *testing.T) {
	a := &scriptedAdapter{name: "p1", models: []string{"m1"}, codes: []int{500}}
	r := testRouter(t, []provider.Adapter{a}, nil)

	resp := r.Dispatch(context.Background(), testRequest("m1"))

	assert.Equal(t, provider.StatusLocalError, resp.Status)
	assert.Equal(t, provider.ErrorKindServer, resp.ErrorKind)
	assert.Equal(t, 1, a.calls)
}

func TestDispatch_NonRetriableErrorReturnsImmediately(t *testing.T) {
	a := &scriptedAdapter{name: "p1", models: []string{"m1"}, codes: []int{401}}
	r := testRouter(t, []provider.Adapter{a}, nil)

	resp := r.Dispatch(context.Background(), testRequest("m1"))

	assert.Equal(t, provider.ErrorKindAuth, resp.ErrorKind)
	assert.Equal(t, 1, a.calls, "auth errors should not be retried")
}

func TestDispatch_FailsOverToSecondProvider(t *testing.T) {
	bad := &scriptedAdapter{name: "bad", models: []string{"m1"}, priority: 1, codes: []int{500, 500, 500, 500}}
	good := &scriptedAdapter{name: "good", models: []string{"m1"}, priority: 2, codes: []int{200}}
	r := testRouter(t, []provider.Adapter{bad, good}, nil)

	resp := r.Dispatch(context.Background(), testRequest("m1"))

	assert.Equal(t, provider.StatusSuccess, resp.Status)
	assert.Equal(t, "good", resp.ProviderUsed)
}

func TestDispatch_ConnectionErrorTriggersFailover(t *testing.T) {
	bad := &scriptedAdapter{
		name: "bad", models: []string{"m1"}, priority: 1,
		codes: []int{0},
		errs:  []error{errors.New("connection refused")},
	}
	good := &scriptedAdapter{name: "good", models: []string{"m1"}, priority: 2, codes: []int{200}}
	r := testRouter(t, []provider.Adapter{bad, good}, nil)

	resp := r.Dispatch(context.Background(), testRequest("m1"))

	assert.Equal(t, provider.StatusSuccess, resp.Status)
	assert.Equal(t, "good", resp.ProviderUsed)
	assert.Equal(t, 1, bad.calls)
}

func TestDispatch_CacheHitSkipsUpstreamCall(t *testing.T) {
	a := &scriptedAdapter{name: "p1", models: []string{"m1"}, codes: []int{200}}
	c := cache.New(cache.Config{MaxEntries: 10, DefaultTTL: time.Minute, MaxTTL: time.Hour})
	r := testRouter(t, []provider.Adapter{a}, c)

	req := testRequest("m1")
	r.Dispatch(context.Background(), req)
	r.Dispatch(context.Background(), req)

	assert.Equal(t, 1, a.calls, "second identical request should be served from cache")
}

func TestDispatch_StreamingRequestsBypassCache(t *testing.T) {
	a := &scriptedAdapter{name: "p1", models: []string{"m1"}, codes: []int{200}}
	c := cache.New(cache.Config{MaxEntries: 10, DefaultTTL: time.Minute, MaxTTL: time.Hour})
	r := testRouter(t, []provider.Adapter{a}, c)

	req := testRequest("m1")
	req.Params.Stream = true
	r.Dispatch(context.Background(), req)
	r.Dispatch(context.Background(), req)

	assert.Equal(t, 2, a.calls, "streaming responses must never be served from cache")
}

func TestDispatch_ExpiredDeadlineReturnsCancelled(t *testing.T) {
	a := &scriptedAdapter{name: "p1", models: []string{"m1"}, codes: []int{200}}
	r := testRouter(t, []provider.Adapter{a}, nil)

	req := testRequest("m1")
	req.Deadline = time.Now().Add(-time.Second)

	resp := r.Dispatch(context.Background(), req)
	assert.Equal(t, provider.ErrorKindCancelled, resp.ErrorKind)
}

func TestDispatch_BreakerOpensAfterRepeatedFailuresAndFailsOverNext(t *testing.T) {
	// "bad" is tried at most once per Dispatch call (a failed adapter is
	// excluded from later candidate rounds within that call), so tripping
	// its breaker over a failure threshold of 3 takes three separate
	// Dispatch calls, each failing over to "good".
	bad := &scriptedAdapter{name: "bad", models: []string{"m1"}, priority: 1, codes: []int{500}}
	good := &scriptedAdapter{name: "good", models: []string{"m1"}, priority: 2, codes: []int{200}}
	r := testRouter(t, []provider.Adapter{bad, good}, nil)

	for i := 0; i < 3; i++ {
		resp := r.Dispatch(context.Background(), testRequest("m1"))
		assert.Equal(t, provider.StatusSuccess, resp.Status, "each call should fail over to good")
	}

	state, ok := r.ProviderState("bad")
	require.True(t, ok)
	assert.Equal(t, provider.BreakerOpen, state.BreakerState)
	assert.Equal(t, 3, bad.calls)
}

func TestDispatch_BreakerClosesAgainAfterProbeSucceeds(t *testing.T) {
	// Single provider: three separate Dispatch calls trip the breaker open,
	// then once the recovery timeout elapses the next call's success should
	// close it again (half_open -> closed).
	a := &scriptedAdapter{name: "p1", models: []string{"m1"}, codes: []int{500, 500, 500, 200}}
	r := testRouter(t, []provider.Adapter{a}, nil)

	for i := 0; i < 3; i++ {
		r.Dispatch(context.Background(), testRequest("m1"))
	}
	state, ok := r.ProviderState("p1")
	require.True(t, ok)
	require.Equal(t, provider.BreakerOpen, state.BreakerState)

	time.Sleep(60 * time.Millisecond) // exceeds testRouter's 50ms RecoveryTimeout

	resp := r.Dispatch(context.Background(), testRequest("m1"))
	assert.Equal(t, provider.StatusSuccess, resp.Status)

	state, ok = r.ProviderState("p1")
	require.True(t, ok)
	assert.Equal(t, provider.BreakerClosed, state.BreakerState)
}

func TestProviderState_UnknownProviderReturnsFalse(t *testing.T) {
	r := testRouter(t, nil, nil)
	_, ok := r.ProviderState("nonexistent")
	assert.False(t, ok)
}
