package gateway

import (
	"net/http"
	"strings"

	"github.com/aimux/gateway/provider"
)

// handleMetrics implements GET /metrics: the full current snapshot (spec
// §4.H), the same Snapshot the WebSocket broadcaster ticks out, without the
// broadcaster's "type" field.
func (g *Gateway) handleMetrics(w http.ResponseWriter, req *http.Request) {
	if g.agg == nil {
		g.writeWireError(w, http.StatusServiceUnavailable, provider.ErrorKindInternal, "metrics disabled")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, g.agg.Snapshot())
}

// handleMetricsComprehensive implements GET /metrics/comprehensive: the
// snapshot plus the registered providers' current health, for dashboards
// that want both derived counters and breaker/health state in one call.
func (g *Gateway) handleMetricsComprehensive(w http.ResponseWriter, req *http.Request) {
	if g.agg == nil {
		g.writeWireError(w, http.StatusServiceUnavailable, provider.ErrorKindInternal, "metrics disabled")
		return
	}
	snap := g.agg.Snapshot()
	var views []healthProviderView
	for _, a := range g.registry.All() {
		state, _ := g.r.ProviderState(a.Name())
		views = append(views, healthProviderView{Name: a.Name(), Healthy: state.Healthy, BreakerState: string(state.BreakerState)})
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]interface{}{
		"snapshot":  snap,
		"providers": views,
	})
}

// handleMetricsHistory implements GET /metrics/history: just the bounded
// historical rings, for trend-line widgets that don't need the full
// snapshot on every poll.
func (g *Gateway) handleMetricsHistory(w http.ResponseWriter, req *http.Request) {
	if g.agg == nil {
		g.writeWireError(w, http.StatusServiceUnavailable, provider.ErrorKindInternal, "metrics disabled")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, g.agg.Snapshot().History)
}

// handleMetricsProvider implements GET /metrics/provider/{name}: one
// provider's derived snapshot, 404 if the name isn't registered.
func (g *Gateway) handleMetricsProvider(w http.ResponseWriter, req *http.Request) {
	if g.agg == nil {
		g.writeWireError(w, http.StatusServiceUnavailable, provider.ErrorKindInternal, "metrics disabled")
		return
	}
	name := strings.TrimPrefix(req.URL.Path, "/metrics/provider/")
	if name == "" {
		g.writeWireError(w, http.StatusBadRequest, provider.ErrorKindBadResponse, "provider name required")
		return
	}
	snap, ok := g.agg.Snapshot().Providers[name]
	if !ok {
		g.writeWireError(w, http.StatusNotFound, provider.ErrorKindBadResponse, "unknown provider "+name)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, snap)
}

// handleProviders implements GET /providers: the descriptors of the
// adapters registered at startup. POST, PUT and DELETE do not create,
// update or delete providers; they answer 501 Not Implemented.
func (g *Gateway) handleProviders(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		var descriptors []provider.Descriptor
		for _, a := range g.registry.All() {
			descriptors = append(descriptors, a.Descriptor())
		}
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, descriptors)
	default:
		// Vendor adapters are built only by cmd/aimux-gateway's startup
		// wiring, so the provider set cannot change at runtime; these verbs
		// answer 501 rather than 404.
		g.writeWireError(w, http.StatusNotImplemented, provider.ErrorKindInternal, "dynamic provider mutation is not supported")
	}
}

// handleWS implements GET /ws: upgrades to the dashboard WebSocket feed
// after the same bearer-auth check the REST endpoints apply.
func (g *Gateway) handleWS(w http.ResponseWriter, req *http.Request) {
	if g.cfg.Auth.BearerToken != "" {
		token := req.URL.Query().Get("token")
		if token == "" {
			token = strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
		}
		if token != g.cfg.Auth.BearerToken {
			g.writeWireError(w, http.StatusUnauthorized, provider.ErrorKindAuth, "invalid or missing bearer token")
			return
		}
	}
	g.hub.serveWS(w, req)
}
