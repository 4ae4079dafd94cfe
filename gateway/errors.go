package gateway

import (
	"net/http"

	"github.com/aimux/gateway/provider"
)

// statusForKind translates an error_kind to an HTTP status.
func statusForKind(kind provider.ErrorKind) int {
	switch kind {
	case provider.ErrorKindTimeout:
		return http.StatusGatewayTimeout
	case provider.ErrorKindRateLimit:
		return http.StatusTooManyRequests
	case provider.ErrorKindAuth:
		return http.StatusUnauthorized
	case provider.ErrorKindBadResponse:
		return http.StatusBadGateway
	case provider.ErrorKindServer, provider.ErrorKindConnection:
		return http.StatusBadGateway
	case provider.ErrorKindCancelled:
		return 499 // client closed request, nginx's convention; no stdlib constant exists
	default:
		return http.StatusInternalServerError
	}
}

// wireErrorFor builds the Anthropic-shaped error envelope the client
// expects.
func wireErrorFor(kind provider.ErrorKind, detail string) wireError {
	if detail == "" {
		detail = string(kind)
	}
	return wireError{
		Type: "error",
		Error: wireErrorDetail{
			Type:    string(kind),
			Message: detail,
		},
	}
}
