package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimux/gateway/breaker"
	"github.com/aimux/gateway/cache"
	"github.com/aimux/gateway/config"
	"github.com/aimux/gateway/internal/corectx"
	"github.com/aimux/gateway/metrics"
	"github.com/aimux/gateway/pool"
	"github.com/aimux/gateway/provider"
	"github.com/aimux/gateway/router"
)

// fakeAdapter is a minimal provider.Adapter stand-in whose Do never reaches
// a real network, so these tests exercise routing/wire-translation rather
// than any upstream.
type fakeAdapter struct {
	name       string
	models     []string
	statusCode int
	content    []provider.ContentBlock
	errKind    provider.ErrorKind
	callCount  *int
}

func (a *fakeAdapter) Name() string { return a.name }
func (a *fakeAdapter) Descriptor() provider.Descriptor {
	return provider.Descriptor{Name: a.name, Endpoint: "https://" + a.name + ".example.test", Models: a.models, Priority: 1, Timeout: 2 * time.Second}
}
func (a *fakeAdapter) Encode(req provider.CanonicalRequest) ([]byte, map[string]string, string, error) {
	return []byte("{}"), nil, "/v1/messages", nil
}
func (a *fakeAdapter) Decode(statusCode int, headers map[string][]string, body []byte) provider.CanonicalResponse {
	if a.errKind != "" {
		return provider.CanonicalResponse{Status: provider.StatusUpstreamError, ErrorKind: a.errKind, ErrorDetail: "synthetic failure"}
	}
	return provider.CanonicalResponse{Status: provider.StatusSuccess, Content: a.content, ModelUsed: a.models[0], Tokens: provider.Tokens{Input: 3, Output: 5}}
}
func (a *fakeAdapter) Do(ctx context.Context, body []byte, headers map[string]string, path string) (int, map[string][]string, []byte, error) {
	if a.callCount != nil {
		*a.callCount++
	}
	return a.statusCode, nil, nil, nil
}
func (a *fakeAdapter) Probe(ctx context.Context) bool        { return true }
func (a *fakeAdapter) RateStatus() provider.RateStatus       { return provider.RateStatus{Remaining: 100} }
func (a *fakeAdapter) Supports(modelID string) bool {
	for _, m := range a.models {
		if m == modelID {
			return true
		}
	}
	return false
}

func testGateway(t *testing.T, cfg config.Config, adapters ...*fakeAdapter) *Gateway {
	t.Helper()
	registry := provider.NewRegistry()
	for _, a := range adapters {
		require.NoError(t, registry.Register(a))
	}
	p := pool.New(pool.Config{MaxConnections: 4, ClientTimeout: time.Second})
	var c *cache.Cache
	if cfg.Cache.Enabled {
		c = cache.New(cache.Config{MaxEntries: 64, DefaultTTL: time.Minute, MaxTTL: time.Hour})
	}
	agg := metrics.New()
	r := router.New(router.Config{}, registry, p, c, agg, breaker.DefaultConfig())

	cctx := corectx.New(nil, &cfg, agg)
	return New(cctx, cfg, Dependencies{Router: r, Registry: registry, Cache: c, Aggregator: agg})
}

func baseConfig() config.Config {
	cfg := config.Default()
	cfg.Request.MaxConcurrent = 256
	cfg.Request.DefaultTimeoutMS = 5000
	return cfg
}

func TestHandleMessages_HappyPath(t *testing.T) {
	adapter := &fakeAdapter{
		name: "p1", models: []string{"claude-3-5-haiku-20241022"}, statusCode: 200,
		content: []provider.ContentBlock{{Type: "text", Text: "hello there"}},
	}
	g := testGateway(t, baseConfig(), adapter)

	body := `{"model":"claude-3-5-haiku-20241022","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/anthropic/v1/messages", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	g.mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var wr wireResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wr))
	assert.Equal(t, "p1", wr.ProviderUsed)
	require.Len(t, wr.Content, 1)
	assert.Equal(t, "hello there", wr.Content[0].Text)
	assert.Equal(t, 5, wr.Usage.OutputTokens)
}

func TestHandleMessages_MissingFieldsRejected(t *testing.T) {
	g := testGateway(t, baseConfig())

	req := httptest.NewRequest(http.MethodPost, "/anthropic/v1/messages", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	g.mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleMessages_UpstreamAuthErrorMapsTo401(t *testing.T) {
	adapter := &fakeAdapter{
		name: "p1", models: []string{"m1"}, statusCode: 401, errKind: provider.ErrorKindAuth,
	}
	g := testGateway(t, baseConfig(), adapter)

	body := `{"model":"m1","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/anthropic/v1/messages", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	g.mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var we wireError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &we))
	assert.Equal(t, "auth", we.Error.Type)
}

func TestHandleMessages_NoProviderSupportsModelIs5xx(t *testing.T) {
	adapter := &fakeAdapter{name: "p1", models: []string{"other-model"}, statusCode: 200}
	g := testGateway(t, baseConfig(), adapter)

	body := `{"model":"unsupported-model","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/anthropic/v1/messages", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	g.mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleMessages_CacheHitSkipsSecondUpstreamCall(t *testing.T) {
	calls := 0
	adapter := &fakeAdapter{
		name: "p1", models: []string{"m1"}, statusCode: 200, callCount: &calls,
		content: []provider.ContentBlock{{Type: "text", Text: "cached reply"}},
	}
	cfg := baseConfig()
	cfg.Cache.Enabled = true
	g := testGateway(t, cfg, adapter)

	body := `{"model":"m1","messages":[{"role":"user","content":"same question"}]}`

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/anthropic/v1/messages", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		g.mux().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 1, calls, "second identical request should be served from cache")
}

func TestWithAdmission_RejectsBadBearerToken(t *testing.T) {
	cfg := baseConfig()
	cfg.Auth.BearerToken = "secret-token"
	g := testGateway(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/anthropic/v1/models", nil)
	rec := httptest.NewRecorder()
	g.mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWithAdmission_AcceptsValidBearerToken(t *testing.T) {
	cfg := baseConfig()
	cfg.Auth.BearerToken = "secret-token"
	adapter := &fakeAdapter{name: "p1", models: []string{"m1"}}
	g := testGateway(t, cfg, adapter)

	req := httptest.NewRequest(http.MethodGet, "/anthropic/v1/models", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	g.mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWithAdmission_RejectsOverConcurrencyCap(t *testing.T) {
	cfg := baseConfig()
	cfg.Request.MaxConcurrent = 1
	g := testGateway(t, cfg)

	atomicOverCap(t, g)
}

// atomicOverCap pins g.inFlight above the cap before issuing a request, to
// deterministically exercise the 429 path without needing two concurrent
// in-flight goroutines racing the cap boundary.
func atomicOverCap(t *testing.T, g *Gateway) {
	t.Helper()
	g.inFlight = int64(g.cfg.Request.MaxConcurrent)

	req := httptest.NewRequest(http.MethodGet, "/anthropic/v1/models", nil)
	rec := httptest.NewRecorder()
	g.mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestHandleModels_ListsUnionOfAdapters(t *testing.T) {
	a1 := &fakeAdapter{name: "p1", models: []string{"model-a", "model-b"}}
	a2 := &fakeAdapter{name: "p2", models: []string{"model-b", "model-c"}}
	g := testGateway(t, baseConfig(), a1, a2)

	req := httptest.NewRequest(http.MethodGet, "/anthropic/v1/models", nil)
	rec := httptest.NewRecorder()
	g.mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data []map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Data, 3) // model-a, model-b, model-c deduplicated
}

func TestHandleHealth_ReportsProviderState(t *testing.T) {
	a1 := &fakeAdapter{name: "p1", models: []string{"m1"}}
	g := testGateway(t, baseConfig(), a1)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	g.mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var hr healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hr))
	require.Len(t, hr.Providers, 1)
	assert.Equal(t, "p1", hr.Providers[0].Name)
	assert.True(t, hr.Providers[0].Healthy)
}

func TestHandleMetrics_DisabledWhenAggregatorNil(t *testing.T) {
	g := testGateway(t, baseConfig())
	g.agg = nil

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	g.mux().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusForKind_MapsEveryKnownKind(t *testing.T) {
	cases := map[provider.ErrorKind]int{
		provider.ErrorKindTimeout:     http.StatusGatewayTimeout,
		provider.ErrorKindRateLimit:   http.StatusTooManyRequests,
		provider.ErrorKindAuth:        http.StatusUnauthorized,
		provider.ErrorKindBadResponse: http.StatusBadGateway,
		provider.ErrorKindServer:      http.StatusBadGateway,
		provider.ErrorKindConnection:  http.StatusBadGateway,
		provider.ErrorKindCancelled:   499,
		provider.ErrorKindInternal:    http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, statusForKind(kind), "kind=%s", kind)
	}
}
