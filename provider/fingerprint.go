package provider

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Fingerprint computes the deterministic cache/correlation key for a
// request: a SHA-256 over the model plus a stable serialization of
// messages and the cache-relevant subset of params (max_tokens,
// temperature, top_p, stop_sequences). Streaming and other non-semantic params
// are deliberately excluded.
func Fingerprint(model string, messages []Message, params Params) string {
	h := sha256.New()
	fmt.Fprintf(h, "model=%s\n", model)
	for _, m := range messages {
		fmt.Fprintf(h, "msg=%s:%s\n", m.Role, m.Content)
	}
	fmt.Fprintf(h, "max_tokens=%d\n", params.MaxTokens)
	fmt.Fprintf(h, "temperature=%g\n", params.Temperature)
	fmt.Fprintf(h, "top_p=%g\n", params.TopP)
	fmt.Fprintf(h, "stop=%s\n", strings.Join(params.StopSequences, ","))
	return hex.EncodeToString(h.Sum(nil))
}
