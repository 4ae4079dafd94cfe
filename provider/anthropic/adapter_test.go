package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimux/gateway/internal/httpclient"
	"github.com/aimux/gateway/provider"
)

func testDescriptor(endpoint string) provider.Descriptor {
	return provider.Descriptor{
		Name:       "anthropic-primary",
		Endpoint:   endpoint,
		Credential: "test-key",
		Models:     []string{"claude-3-5-sonnet-20241022"},
	}
}

func TestAdapter_EncodeDecode_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))

		var wr wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&wr))
		assert.Equal(t, "claude-3-5-sonnet-20241022", wr.Model)
		assert.Equal(t, "be terse", wr.System)

		resp := wireResponse{
			Model:   wr.Model,
			Content: []wireContent{{Type: "text", Text: "hi there"}},
			Usage:   wireUsage{InputTokens: 5, OutputTokens: 3},
		}
		w.Header().Set("anthropic-ratelimit-requests-remaining", "42")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	a := New(testDescriptor(server.URL))
	a.SetClient(httpclient.WrapClient(server.Client()))

	req := provider.CanonicalRequest{
		Model:  "claude-3-5-sonnet-20241022",
		System: "be terse",
		Messages: []provider.Message{
			{Role: provider.RoleUser, Content: "hello"},
		},
		Params: provider.Params{MaxTokens: 100},
	}

	body, headers, path, err := a.Encode(req)
	require.NoError(t, err)
	assert.Equal(t, "/v1/messages", path)
	assert.Equal(t, "test-key", headers["x-api-key"])

	status, respHeaders, respBody, err := a.Do(context.Background(), body, headers, path)
	require.NoError(t, err)

	resp := a.Decode(status, respHeaders, respBody)
	assert.Equal(t, provider.StatusSuccess, resp.Status)
	assert.Equal(t, "hi there", resp.Content[0].Text)
	assert.Equal(t, 8, resp.Tokens.Total)
	assert.Equal(t, 42, a.RateStatus().Remaining)
}

func TestAdapter_Decode_ErrorKinds(t *testing.T) {
	a := New(testDescriptor("https://example.invalid"))

	cases := []struct {
		name       string
		statusCode int
		body       string
		wantKind   provider.ErrorKind
	}{
		{"unauthorized", 401, `{"error":{"message":"bad key"}}`, provider.ErrorKindAuth},
		{"forbidden", 403, `{"error":{"message":"forbidden"}}`, provider.ErrorKindAuth},
		{"rate limited", 429, `{"error":{"message":"slow down"}}`, provider.ErrorKindRateLimit},
		{"server error", 500, `{"error":{"message":"oops"}}`, provider.ErrorKindServer},
		{"bad request", 400, `{"error":{"message":"bad"}}`, provider.ErrorKindServer},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := a.Decode(tc.statusCode, nil, []byte(tc.body))
			assert.Equal(t, provider.StatusUpstreamError, resp.Status)
			assert.Equal(t, tc.wantKind, resp.ErrorKind)
		})
	}
}

func TestAdapter_Decode_BadResponse(t *testing.T) {
	a := New(testDescriptor("https://example.invalid"))
	resp := a.Decode(200, nil, []byte("not json"))
	assert.Equal(t, provider.ErrorKindBadResponse, resp.ErrorKind)
}

func TestAdapter_Supports(t *testing.T) {
	a := New(testDescriptor("https://example.invalid"))
	assert.True(t, a.Supports("claude-3-5-sonnet-20241022"))
	assert.False(t, a.Supports("gpt-4o"))
}

func TestAdapter_RateStatus_ReflectsLocalLimiterBeforeHeaderArrives(t *testing.T) {
	descriptor := testDescriptor("https://example.invalid")
	descriptor.MaxRPS = 2
	a := New(descriptor)

	rs := a.RateStatus()
	assert.Equal(t, 2, rs.Remaining, "with no header yet, RateStatus should report the local limiter's headroom")
}

func TestAdapter_Do_RejectsOnceLocalLimiterBudgetExhausted(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(wireResponse{Content: []wireContent{{Type: "text", Text: "hi"}}})
	}))
	defer server.Close()

	descriptor := testDescriptor(server.URL)
	descriptor.MaxRPS = 1
	a := New(descriptor)
	a.SetClient(httpclient.WrapClient(server.Client()))

	_, _, _, err := a.Do(context.Background(), []byte("{}"), nil, "/v1/messages")
	require.NoError(t, err)

	_, _, _, err = a.Do(context.Background(), []byte("{}"), nil, "/v1/messages")
	assert.Error(t, err, "a second call within the same window should be rejected locally")
	assert.Equal(t, 1, calls, "the rejected call must never reach the upstream server")
}

func TestAdapter_Encode_SystemMessageFallback(t *testing.T) {
	a := New(testDescriptor("https://example.invalid"))
	req := provider.CanonicalRequest{
		Model: "claude-3-5-sonnet-20241022",
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: "from message list"},
			{Role: provider.RoleUser, Content: "hi"},
		},
	}
	body, _, _, err := a.Encode(req)
	require.NoError(t, err)

	var wr wireRequest
	require.NoError(t, json.Unmarshal(body, &wr))
	assert.Equal(t, "from message list", wr.System)
	assert.Len(t, wr.Messages, 1)
	assert.Equal(t, 4096, wr.MaxTokens)
}
