// Package anthropic implements the Anthropic Messages API provider
// adapter: request/response shapes, SSRF-safe client construction, and
// retryable-error classification, exposed as a provider.Adapter
// (encode/decode/probe/rate_status/supports).
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aimux/gateway/internal/httpclient"
	"github.com/aimux/gateway/provider"
	"github.com/aimux/gateway/ratelimit"
)

const apiVersion = "2023-06-01"

// wireRequest is the Anthropic Messages API request shape.
type wireRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Messages    []wireMessage `json:"messages"`
	System      string        `json:"system,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
	StopSequences []string    `json:"stop_sequences,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// wireResponse is the Anthropic Messages API response shape.
type wireResponse struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	Role         string        `json:"role"`
	Content      []wireContent `json:"content"`
	Model        string        `json:"model"`
	StopReason   string        `json:"stop_reason"`
	StopSequence string        `json:"stop_sequence"`
	Usage        wireUsage     `json:"usage"`
}

type wireContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type wireError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Adapter is the Anthropic provider variant.
type Adapter struct {
	descriptor provider.Descriptor
	client     *httpclient.SaferClient
	limiter    *ratelimit.Limiter

	mu             sync.Mutex
	rate           provider.RateStatus
	rateFromHeader bool
}

// New constructs an Anthropic adapter. descriptor.Endpoint defaults to
// the public Anthropic API base URL if empty. When descriptor.MaxRPS is
// set, a local sliding-window limiter pre-flights every call so bursts get
// absorbed before the vendor's own rate_status headers would catch them.
func New(descriptor provider.Descriptor) *Adapter {
	if descriptor.Endpoint == "" {
		descriptor.Endpoint = "https://api.anthropic.com"
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
		Model:         req.Model,
		MaxTokens:     req.Params.MaxTokens,
		System:        req.System,
		Temperature:   req.Params.Temperature,
		TopP:          req.Params.TopP,
		StopSequences: req.Params.StopSequences,
		Stream:        req.Params.Stream,
	}
	if wr.MaxTokens <= 0 {
		wr.MaxTokens = 4096
	}
	for _, m := range req.Messages {
		if m.Role == provider.RoleSystem {
			if wr.System == "" {
				wr.System = m.Content
			}
			continue
		}
		wr.Messages = append(wr.Messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(wr)
	if err != nil {
		return nil, nil, "", err
	}

	headers := map[string]string{
		"Content-Type":      "application/json",
		"x-api-key":         a.descriptor.Credential,
		"anthropic-version": apiVersion,
	}
	return body, headers, "/v1/messages", nil
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

	switch {
	case statusCode == 401 || statusCode == 403:
		resp.Status = provider.StatusUpstreamError
		resp.ErrorKind = provider.ErrorKindAuth
		resp.ErrorDetail = decodeErrorDetail(body)
		return resp
	case statusCode == 429 || http.Header(headers).Get("x-ratelimit-remaining") == "0":
		resp.Status = provider.StatusUpstreamError
		resp.ErrorKind = provider.ErrorKindRateLimit
		resp.ErrorDetail = decodeErrorDetail(body)
		a.updateRateFromHeaders(headers)
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
	if err := json.Unmarshal(body, &wr); err != nil {
		resp.Status = provider.StatusUpstreamError
		resp.ErrorKind = provider.ErrorKindBadResponse
		return resp
	}

	resp.Status = provider.StatusSuccess
	resp.ModelUsed = wr.Model
	resp.Tokens = provider.Tokens{
		Input:  wr.Usage.InputTokens,
		Output: wr.Usage.OutputTokens,
		Total:  wr.Usage.InputTokens + wr.Usage.OutputTokens,
	}
	for _, c := range wr.Content {
		resp.Content = append(resp.Content, provider.ContentBlock{Type: c.Type, Text: c.Text})
	}

	a.updateRateFromHeaders(headers)
	return resp
}

func decodeErrorDetail(body []byte) string {
	var we wireError
	if err := json.Unmarshal(body, &we); err == nil && we.Error.Message != "" {
		return we.Error.Message
	}
	return string(body)
}

func (a *Adapter) updateRateFromHeaders(headers map[string][]string) {
	h := http.Header(headers)
	remaining := h.Get("anthropic-ratelimit-requests-remaining")
	if remaining == "" {
		return
	}
	n := 0
	for _, c := range remaining {
		if c < '0' || c > '9' {
			return
		}
		n = n*10 + int(c-'0')
	}
	a.mu.Lock()
	a.rate.Remaining = n
	a.rate.ResetAt = time.Now().Add(time.Minute)
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
	_, headers, _, err := a.Do(ctx, nil, map[string]string{
		"x-api-key":         a.descriptor.Credential,
		"anthropic-version": apiVersion,
	}, "/v1/models")
	if err != nil {
		return isRetryableNetworkError(err)
	}
	return headers != nil
}

// isRetryableNetworkError classifies timeouts, connection resets, and DNS
// failures as worth retrying.
func isRetryableNetworkError(err error) bool {
	if err == nil {
		return true
	}
	var netErr net.Error
	if ok := asNetError(err, &netErr); ok && netErr.Timeout() {
		return true
	}
	if strings.Contains(err.Error(), "connection reset") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), syscall.ECONNREFUSED.Error()) {
		return true
	}
	return false
}

func asNetError(err error, target *net.Error) bool {
	for err != nil {
		if ne, ok := err.(net.Error); ok {
			*target = ne
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

var _ provider.Adapter = (*Adapter)(nil)
