package gateway

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aimux/gateway/provider"
)

// handleMessages implements POST /anthropic/v1/messages: parse the
// Anthropic-shaped body, normalize to CanonicalRequest, dispatch through
// the Router, and re-encode the result (or stream it as SSE).
func (g *Gateway) handleMessages(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		g.writeWireError(w, http.StatusMethodNotAllowed, provider.ErrorKindInternal, "method not allowed")
		return
	}

	var wr wireRequest
	if err := json.NewDecoder(req.Body).Decode(&wr); err != nil {
		g.writeWireError(w, http.StatusBadRequest, provider.ErrorKindBadResponse, "malformed request body")
		return
	}
	if wr.Model == "" || len(wr.Messages) == 0 {
		g.writeWireError(w, http.StatusBadRequest, provider.ErrorKindBadResponse, "model and messages are required")
		return
	}

	canonical := toCanonicalRequest(wr, g.requestDeadline(req))

	if wr.Stream {
		g.streamMessages(w, req, canonical)
		return
	}

	resp := g.r.Dispatch(req.Context(), canonical)
	if resp.Status != provider.StatusSuccess {
		g.writeWireError(w, statusForKind(resp.ErrorKind), resp.ErrorKind, resp.ErrorDetail)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, toWireResponse(resp, wr.Model))
}

func toCanonicalRequest(wr wireRequest, deadline time.Time) provider.CanonicalRequest {
	messages := make([]provider.Message, 0, len(wr.Messages))
	system := wr.System
	for _, m := range wr.Messages {
		text := contentToText(m.Content)
		if m.Role == "system" && system == "" {
			system = text
			continue
		}
		messages = append(messages, provider.Message{Role: provider.Role(m.Role), Content: text})
	}

	params := provider.Params{
		MaxTokens:     wr.MaxTokens,
		Temperature:   wr.Temperature,
		TopP:          wr.TopP,
		StopSequences: wr.StopSequences,
		Stream:        wr.Stream,
	}

	return provider.CanonicalRequest{
		Model:       wr.Model,
		Messages:    messages,
		System:      system,
		Params:      params,
		Fingerprint: provider.Fingerprint(wr.Model, messages, params),
		Deadline:    deadline,
	}
}

// contentToText flattens the wire format's string|array content field into
// plain text; array elements are expected to be {"type":"text","text":...}
// blocks.
func contentToText(content interface{}) string {
	switch v := content.(type) {
	case string:
		return v
	case []interface{}:
		var sb strings.Builder
		for _, item := range v {
			block, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			if text, ok := block["text"].(string); ok {
				sb.WriteString(text)
			}
		}
		return sb.String()
	default:
		return ""
	}
}

func toWireResponse(resp provider.CanonicalResponse, requestedModel string) wireResponse {
	blocks := make([]wireContentBlock, 0, len(resp.Content))
	for _, b := range resp.Content {
		blocks = append(blocks, wireContentBlock{Type: b.Type, Text: b.Text})
	}
	model := resp.ModelUsed
	if model == "" {
		model = requestedModel
	}
	return wireResponse{
		ID:         "msg_" + randomID(),
		Type:       "message",
		Role:       "assistant",
		Content:    blocks,
		Model:      model,
		StopReason: "end_turn",
		Usage: wireUsage{
			InputTokens:  resp.Tokens.Input,
			OutputTokens: resp.Tokens.Output,
		},
		ProviderUsed: resp.ProviderUsed,
	}
}

// streamMessages dispatches the request and re-frames the (non-streaming,
// since no adapter implements chunked upstream reads) result as an
// Anthropic-compatible SSE event sequence, so clients coded against the
// streaming contract still work. Backpressure: if the client disconnects
// mid-write, the flush loop exits and the dispatch's context cancellation
// is what would have aborted an actual upstream stream.
func (g *Gateway) streamMessages(w http.ResponseWriter, req *http.Request, creq provider.CanonicalRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.writeWireError(w, http.StatusInternalServerError, provider.ErrorKindInternal, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	resp := g.r.Dispatch(req.Context(), creq)
	bw := bufio.NewWriter(w)

	writeEvent := func(event string, data interface{}) bool {
		payload, _ := json.Marshal(data)
		fmt.Fprintf(bw, "event: %s\ndata: %s\n\n", event, payload)
		if err := bw.Flush(); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if resp.Status != provider.StatusSuccess {
		writeEvent("error", wireErrorFor(resp.ErrorKind, resp.ErrorDetail))
		return
	}

	wireResp := toWireResponse(resp, creq.Model)
	if !writeEvent("message_start", map[string]interface{}{"type": "message_start", "message": wireResp}) {
		return
	}
	for i, block := range wireResp.Content {
		if !writeEvent("content_block_delta", map[string]interface{}{
			"type":  "content_block_delta",
			"index": i,
			"delta": map[string]string{"type": "text_delta", "text": block.Text},
		}) {
			return
		}
	}
	if !writeEvent("message_delta", map[string]interface{}{
		"type":  "message_delta",
		"delta": map[string]string{"stop_reason": wireResp.StopReason},
		"usage": wireResp.Usage,
	}) {
		return
	}
	writeEvent("message_stop", map[string]string{"type": "message_stop"})
}

// handleModels implements GET /anthropic/v1/models: the deduplicated union
// of every registered adapter's model list.
func (g *Gateway) handleModels(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		g.writeWireError(w, http.StatusMethodNotAllowed, provider.ErrorKindInternal, "method not allowed")
		return
	}
	seen := make(map[string]bool)
	var models []string
	for _, list := range g.registry.Models() {
		for _, m := range list {
			if !seen[m] {
				seen[m] = true
				models = append(models, m)
			}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]interface{}{"object": "list", "data": modelEntries(models)})
}

func modelEntries(models []string) []map[string]string {
	out := make([]map[string]string, 0, len(models))
	for _, m := range models {
		out = append(out, map[string]string{"id": m, "object": "model"})
	}
	return out
}

// handleHealth implements GET /health: liveness plus per-provider
// readiness.
func (g *Gateway) handleHealth(w http.ResponseWriter, req *http.Request) {
	var views []healthProviderView
	for _, a := range g.registry.All() {
		state, _ := g.r.ProviderState(a.Name())
		views = append(views, healthProviderView{
			Name:         a.Name(),
			Healthy:      state.Healthy,
			BreakerState: string(state.BreakerState),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, healthResponse{Status: "ok", UptimeSec: time.Since(startedAt).Seconds(), Providers: views})
}

var startedAt = time.Now()
