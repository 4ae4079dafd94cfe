// Package provider defines the canonical request/response shapes the
// Router and Gateway exchange with per-vendor Adapters, and the Adapter
// capability-set contract itself: no inheritance, one variant struct per
// vendor, selected by name through a registry.
package provider

import (
	"context"
	"time"
)

// Role is a message's speaker in a CanonicalRequest.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one turn of conversation.
type Message struct {
	Role    Role
	Content string
}

// Params carries generation parameters that are meaningful across vendors.
type Params struct {
	MaxTokens     int
	Temperature   float64
	TopP          float64
	StopSequences []string
	Stream        bool
}

// CanonicalRequest is what the Router sees after the Gateway has
// normalized the client's wire payload.
type CanonicalRequest struct {
	Model       string
	Messages    []Message
	System      string
	Params      Params
	Fingerprint string
	Deadline    time.Time
	Attempt     int
}

// Status is the outcome of a dispatch attempt.
type Status string

const (
	StatusSuccess      Status = "success"
	StatusUpstreamError Status = "upstream_error"
	StatusLocalError   Status = "local_error"
)

// ErrorKind classifies a non-success CanonicalResponse and is carried
// across retry boundaries so the retry policy can decide whether to
// retry without re-inspecting raw status codes.
type ErrorKind string

const (
	ErrorKindNone        ErrorKind = ""
	ErrorKindTimeout     ErrorKind = "timeout"
	ErrorKindConnection  ErrorKind = "connection"
	ErrorKindAuth        ErrorKind = "auth"
	ErrorKindRateLimit   ErrorKind = "rate_limit"
	ErrorKindServer      ErrorKind = "server"
	ErrorKindBadResponse ErrorKind = "bad_response"
	ErrorKindCancelled   ErrorKind = "cancelled"
	ErrorKindConfig      ErrorKind = "config"
	ErrorKindInternal    ErrorKind = "internal"
)

// Retriable reports whether the Router's retry policy considers this kind
// worth another attempt.
func (k ErrorKind) Retriable() bool {
	switch k {
	case ErrorKindTimeout, ErrorKindConnection, ErrorKindServer, ErrorKindRateLimit:
		return true
	default:
		return false
	}
}

// Tokens reports usage, zero when the upstream did not report it.
type Tokens struct {
	Input  int
	Output int
	Total  int
}

// CanonicalResponse is what an Adapter's decode produces and the Router
// returns to the Gateway.
type CanonicalResponse struct {
	Status       Status
	Content      []ContentBlock
	ModelUsed    string
	ProviderUsed string
	LatencyMS    int64
	StatusCode   int
	Tokens       Tokens
	ErrorKind    ErrorKind
	ErrorDetail  string
}

// ContentBlock is one opaque unit of reply content, re-encoded for the
// client by the Gateway.
type ContentBlock struct {
	Type string
	Text string
}

// BreakerState mirrors breaker.State without importing the breaker
// package, so ProviderState stays a plain data type.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// Descriptor is the immutable-after-registration configuration of one
// upstream provider.
type Descriptor struct {
	Name        string
	Endpoint    string
	Credential  string
	GroupID     string
	Models      []string
	Priority    int
	Timeout     time.Duration
	MaxRetries  int
	MaxRPS      int
}

// SupportsModel reports whether this descriptor lists the given model.
func (d Descriptor) SupportsModel(model string) bool {
	for _, m := range d.Models {
		if m == model {
			return true
		}
	}
	return false
}

// State is the Router-owned mutable health view of one provider. All
// mutation happens under the owning Router's per-provider exclusion; see
// router package.
type State struct {
	Healthy             bool
	ConsecutiveFailures int
	RateLimitRemaining  int
	RateLimitResetAt    time.Time
	BreakerState        BreakerState
	P95LatencyMS        int64
}

// RateStatus is an adapter's last self-reported rate-limit headroom.
type RateStatus struct {
	Remaining int
	ResetAt   time.Time
}

// Adapter is the per-vendor capability set: encode, decode, probe,
// rate_status, supports. Adding a provider means adding a variant that
// implements this interface; no other component changes.
type Adapter interface {
	// Name is the adapter's unique registry key, matching its Descriptor.
	Name() string

	// Descriptor returns the immutable registration info for this adapter.
	Descriptor() Descriptor

	// Encode shapes the vendor payload and attaches auth headers, returning
	// the request body, header set, and URL path to call.
	Encode(req CanonicalRequest) (body []byte, headers map[string]string, path string, err error)

	// Decode extracts content, token counts, and error kind from a raw
	// upstream HTTP reply.
	Decode(statusCode int, headers map[string][]string, body []byte) CanonicalResponse

	// Do issues the encoded call against the adapter's upstream, honoring
	// ctx's deadline, and returns the raw status/headers/body for Decode.
	Do(ctx context.Context, body []byte, headers map[string]string, path string) (statusCode int, respHeaders map[string][]string, respBody []byte, err error)

	// Probe is a lightweight health check suitable for periodic scheduling.
	Probe(ctx context.Context) bool

	// RateStatus returns the last observed rate-limit headroom.
	RateStatus() RateStatus

	// Supports is a cheap membership test against the adapter's model list.
	Supports(modelID string) bool
}
