// Package gateway implements the externally visible HTTP surface: the
// Anthropic-compatible messages API, health/metrics/provider endpoints,
// and the metrics WebSocket feed. The feed is backed by a register/
// unregister/broadcast hub over a client set, using gorilla/websocket for
// the connections themselves.
package gateway

import "time"

// wireMessage is the Anthropic-compatible request body for
// POST /anthropic/v1/messages.
type wireMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type wireRequest struct {
	Model         string        `json:"model"`
	Messages      []wireMessage `json:"messages"`
	System        string        `json:"system,omitempty"`
	MaxTokens     int           `json:"max_tokens,omitempty"`
	Temperature   float64       `json:"temperature,omitempty"`
	TopP          float64       `json:"top_p,omitempty"`
	StopSequences []string      `json:"stop_sequences,omitempty"`
	Stream        bool          `json:"stream,omitempty"`
}

type wireContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// wireResponse is the Anthropic-compatible non-streaming response shape.
type wireResponse struct {
	ID          string             `json:"id"`
	Type        string             `json:"type"`
	Role        string             `json:"role"`
	Content     []wireContentBlock `json:"content"`
	Model       string             `json:"model"`
	StopReason  string             `json:"stop_reason"`
	Usage       wireUsage          `json:"usage"`
	ProviderUsed string            `json:"provider_used,omitempty"`
}

type wireErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// wireError is the Anthropic-compatible error envelope.
type wireError struct {
	Type  string          `json:"type"`
	Error wireErrorDetail `json:"error"`
}

// healthProviderView is one provider's readiness snapshot for GET /health.
type healthProviderView struct {
	Name         string `json:"name"`
	Healthy      bool   `json:"healthy"`
	BreakerState string `json:"breaker_state"`
}

type healthResponse struct {
	Status    string               `json:"status"`
	UptimeSec float64              `json:"uptime_seconds"`
	Providers []healthProviderView `json:"providers"`
}

// wsClientMessage is the envelope of client -> server messages on /ws; the
// gateway only reads its type to classify them. The server -> client
// payload is assembled by the metrics package and passed through verbatim.
type wsClientMessage struct {
	Type string `json:"type"`
}

const shutdownTimeout = 10 * time.Second
