// Package openrouter implements the OpenRouter provider adapter: the
// OpenAI-compatible chat/completions wire shape, bearer-token auth, and
// X-RateLimit-Remaining-derived throttling surfaced through
// provider.Adapter's RateStatus.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/aimux/gateway/internal/httpclient"
	"github.com/aimux/gateway/provider"
	"github.com/aimux/gateway/ratelimit"
)

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type wireChoice struct {
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type wireResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []wireChoice `json:"choices"`
	Usage   wireUsage    `json:"usage"`
}

type wireError struct {
	Error struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Adapter is the OpenRouter provider variant.
type Adapter struct {
	descriptor provider.Descriptor
	client     *httpclient.SaferClient
	limiter    *ratelimit.Limiter

	mu             sync.Mutex
	rate           provider.RateStatus
	rateFromHeader bool
}

// New constructs an OpenRouter adapter. descriptor.Endpoint defaults to
// the public OpenRouter API base URL if empty. When descriptor.MaxRPS is
// set, a local sliding-window limiter pre-flights every call so bursts get
// absorbed before the vendor's own rate_status headers would catch them.
func New(descriptor provider.Descriptor) *Adapter {
	if descriptor.Endpoint == "" {
		descriptor.Endpoint = "https://openrouter.ai/api"
	}
	timeout := descriptor.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	a := &Adapter{
		descriptor: descriptor,
		client:     httpclient.NewSaferClient(timeout),
	}
	if descriptor.MaxRPS > 0 {
		a.limiter = ratelimit.New(descriptor.MaxRPS, time.Second)
	}
	return a
}

func (a *Adapter) Name() string                    { return a.descriptor.Name }
func (a *Adapter) Descriptor() provider.Descriptor { return a.descriptor }

// SetClient replaces the adapter's own SaferClient, used in tests to point at an
// httptest server without tripping SSRF localhost protection.
func (a *Adapter) SetClient(c *httpclient.SaferClient) { a.client = c }

func (a *Adapter) Supports(modelID string) bool {
	return a.descriptor.SupportsModel(modelID)
}

func (a *Adapter) Encode(req provider.CanonicalRequest) ([]byte, map[string]string, string, error) {
	wr := wireRequest{
		Model:       req.Model,
		MaxTokens:   req.Params.MaxTokens,
		Temperature: req.Params.Temperature,
		TopP:        req.Params.TopP,
		Stop:        req.Params.StopSequences,
		Stream:      req.Params.Stream,
	}
	if req.System != "" {
		wr.Messages = append(wr.Messages, wireMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		wr.Messages = append(wr.Messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(wr)
	if err != nil {
		return nil, nil, "", err
	}

	headers := map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + a.descriptor.Credential,
		"HTTP-Referer":  "https://github.com/aimux/gateway",
		"X-Title":       "aimux-gateway",
	}
	return body, headers, "/v1/chat/completions", nil
}

func (a *Adapter) Do(ctx context.Context, body []byte, headers map[string]string, path string) (int, map[string][]string, []byte, error) {
	if a.limiter != nil {
		if err := a.limiter.Allow(); err != nil {
			return 0, nil, nil, err
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.descriptor.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, nil, err
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, resp.Header, nil, err
	}
	return resp.StatusCode, resp.Header, respBody, nil
}

func (a *Adapter) Decode(statusCode int, headers map[string][]string, body []byte) provider.CanonicalResponse {
	resp := provider.CanonicalResponse{StatusCode: statusCode}
	a.updateRateFromHeaders(headers)

	switch {
	case statusCode == 401 || statusCode == 403:
		resp.Status = provider.StatusUpstreamError
		resp.ErrorKind = provider.ErrorKindAuth
		resp.ErrorDetail = decodeErrorDetail(body)
		return resp
	case statusCode == 429:
		resp.Status = provider.StatusUpstreamError
		resp.ErrorKind = provider.ErrorKindRateLimit
		resp.ErrorDetail = decodeErrorDetail(body)
		return resp
	case statusCode >= 500:
		resp.Status = provider.StatusUpstreamError
		resp.ErrorKind = provider.ErrorKindServer
		resp.ErrorDetail = decodeErrorDetail(body)
		return resp
	case statusCode >= 400:
		resp.Status = provider.StatusUpstreamError
		resp.ErrorKind = provider.ErrorKindServer
		resp.ErrorDetail = decodeErrorDetail(body)
		return resp
	}

	var wr wireResponse
	if err := json.Unmarshal(body, &wr); err != nil || len(wr.Choices) == 0 {
		resp.Status = provider.StatusUpstreamError
		resp.ErrorKind = provider.ErrorKindBadResponse
		return resp
	}

	resp.Status = provider.StatusSuccess
	resp.ModelUsed = wr.Model
	resp.Tokens = provider.Tokens{
		Input:  wr.Usage.PromptTokens,
		Output: wr.Usage.CompletionTokens,
		Total:  wr.Usage.TotalTokens,
	}
	resp.Content = append(resp.Content, provider.ContentBlock{
		Type: "text",
		Text: wr.Choices[0].Message.Content,
	})
	return resp
}

func decodeErrorDetail(body []byte) string {
	var we wireError
	if err := json.Unmarshal(body, &we); err == nil && we.Error.Message != "" {
		return we.Error.Message
	}
	return string(body)
}

// updateRateFromHeaders parses OpenRouter's X-RateLimit-Remaining and
// X-RateLimit-Reset response headers.
func (a *Adapter) updateRateFromHeaders(headers map[string][]string) {
	h := http.Header(headers)
	remaining := h.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return
	}
	n, err := strconv.Atoi(remaining)
	if err != nil {
		return
	}

	resetAt := time.Now().Add(time.Minute)
	if resetMS := h.Get("X-RateLimit-Reset"); resetMS != "" {
		if ms, err := strconv.ParseInt(resetMS, 10, 64); err == nil {
			resetAt = time.UnixMilli(ms)
		}
	}

	a.mu.Lock()
	a.rate.Remaining = n
	a.rate.ResetAt = resetAt
	a.rateFromHeader = true
	a.mu.Unlock()
}

// RateStatus reports the adapter's header-derived rate status, or, until
// the vendor has sent one, the local limiter's own headroom.
func (a *Adapter) RateStatus() provider.RateStatus {
	a.mu.Lock()
	rs, fromHeader := a.rate, a.rateFromHeader
	a.mu.Unlock()

	if a.limiter != nil && !fromHeader {
		_, remaining := a.limiter.Stats()
		rs.Remaining = remaining
		if rs.ResetAt.IsZero() {
			rs.ResetAt = time.Now().Add(time.Second)
		}
	}
	return rs
}

func (a *Adapter) Probe(ctx context.Context) bool {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.descriptor.Endpoint+"/v1/models", nil)
	if err != nil {
		return false
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.descriptor.Credential)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

var _ provider.Adapter = (*Adapter)(nil)
