package gateway

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aimux/gateway/cache"
	"github.com/aimux/gateway/config"
	"github.com/aimux/gateway/internal/corectx"
	"github.com/aimux/gateway/logger"
	"github.com/aimux/gateway/metrics"
	"github.com/aimux/gateway/provider"
	"github.com/aimux/gateway/router"
	"github.com/aimux/gateway/supervisor"
)

// Gateway is the HTTP front door: admission control, the Anthropic-
// compatible wire translation, and the metrics dashboard feed.
type Gateway struct {
	ctx      *corectx.Context
	cfg      config.Config
	r        *router.Router
	registry *provider.Registry
	cache    *cache.Cache
	agg      *metrics.Aggregator
	hub      *hub

	inFlight int64
	sup      *supervisor.Supervisor

	httpServer *http.Server
}

// Dependencies bundles the already-constructed components a Gateway needs;
// cmd/aimux-gateway wires these from config before calling New.
type Dependencies struct {
	Router     *router.Router
	Registry   *provider.Registry
	Cache      *cache.Cache
	Aggregator *metrics.Aggregator
	Supervisor *supervisor.Supervisor
}

// New constructs a Gateway ready to Start. Aggregator/Cache may be nil if
// those features are disabled in config.
func New(cctx *corectx.Context, cfg config.Config, deps Dependencies) *Gateway {
	g := &Gateway{
		ctx:      cctx,
		cfg:      cfg,
		r:        deps.Router,
		registry: deps.Registry,
		cache:    deps.Cache,
		agg:      deps.Aggregator,
		sup:      deps.Supervisor,
	}
	g.hub = newHub(cctx.Sugar(), cfg.Metrics.MaxWSConnections, g.connectionOpened, g.connectionClosed)
	return g
}

func (g *Gateway) connectionOpened() {
	if g.agg != nil {
		g.agg.ConnectionOpened()
	}
}

func (g *Gateway) connectionClosed() {
	if g.agg != nil {
		g.agg.ConnectionClosed()
	}
}

// Broadcast implements metrics.Broadcaster by fanning a message out to
// every connected dashboard WebSocket client via the hub.
func (g *Gateway) Broadcast(message []byte) {
	g.hub.Broadcast(message)
}

// mux builds the gateway's routing table.
func (g *Gateway) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/anthropic/v1/messages", g.withAdmission(g.handleMessages))
	mux.HandleFunc("/anthropic/v1/models", g.withAdmission(g.handleModels))
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/metrics", g.handleMetrics)
	mux.HandleFunc("/metrics/comprehensive", g.handleMetricsComprehensive)
	mux.HandleFunc("/metrics/history", g.handleMetricsHistory)
	mux.HandleFunc("/metrics/provider/", g.handleMetricsProvider)
	mux.HandleFunc("/providers", g.handleProviders)
	mux.HandleFunc("/ws", g.handleWS)
	return mux
}

// Run starts the hub loop and the HTTP listener; blocks until the server
// stops.
func (g *Gateway) Run() error {
	go g.hub.run()

	addr := g.cfg.Listen.BindAddress + ":" + itoa(g.cfg.Listen.Port)
	g.httpServer = &http.Server{
		Addr:              addr,
		Handler:           g.mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.ctx.Sugar().Infow("gateway listening", logger.FieldSymbol, logger.SymbolGateway, "addr", addr)

	err := g.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully drains the HTTP server and the WebSocket hub: stop
// accepting new work first, then tear down connections, then background
// services.
func (g *Gateway) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error
	if g.httpServer != nil {
		err = g.httpServer.Shutdown(ctx)
	}
	g.hub.Stop()
	return err
}

// withAdmission wraps a handler with correlation-id assignment, bearer
// auth, the global concurrency cap, and payload-size bounding.
func (g *Gateway) withAdmission(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		correlationID := uuid.NewString()
		req = req.WithContext(context.WithValue(req.Context(), correlationIDKey{}, correlationID))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		if g.cfg.Auth.BearerToken != "" {
			if req.Header.Get("Authorization") != "Bearer "+g.cfg.Auth.BearerToken {
				g.writeWireError(rec, http.StatusUnauthorized, provider.ErrorKindAuth, "invalid or missing bearer token")
				g.observeRequest(req, rec, start)
				return
			}
		}

		maxConcurrent := int64(g.cfg.Request.MaxConcurrent)
		if maxConcurrent > 0 {
			current := atomic.AddInt64(&g.inFlight, 1)
			defer atomic.AddInt64(&g.inFlight, -1)
			if current > maxConcurrent {
				g.writeWireError(rec, http.StatusTooManyRequests, provider.ErrorKindRateLimit, "gateway at capacity, retry")
				g.observeRequest(req, rec, start)
				return
			}
		}

		if g.cfg.Request.MaxBodyBytes > 0 {
			req.Body = http.MaxBytesReader(rec, req.Body, int64(g.cfg.Request.MaxBodyBytes))
		}

		next(rec, req)
		g.observeRequest(req, rec, start)
	}
}

func (g *Gateway) observeRequest(req *http.Request, rec *statusRecorder, start time.Time) {
	if g.agg != nil {
		g.agg.ObserveRequest(req.URL.Path, rec.status, time.Since(start))
	}
}

// statusRecorder captures the status code a handler writes, since
// http.ResponseWriter exposes no getter for it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

type correlationIDKey struct{}

func correlationIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return v
	}
	return ""
}

// requestDeadline computes min(client deadline, configured request
// timeout).
func (g *Gateway) requestDeadline(req *http.Request) time.Time {
	deadline := time.Now().Add(g.cfg.RequestTimeout())
	if clientDeadline, ok := req.Context().Deadline(); ok && clientDeadline.Before(deadline) {
		deadline = clientDeadline
	}
	return deadline
}

func (g *Gateway) writeWireError(w http.ResponseWriter, status int, kind provider.ErrorKind, detail string) {
	w.Header().Set("Content-Type", "application/json")
	if kind == provider.ErrorKindRateLimit {
		w.Header().Set("Retry-After", "1")
	}
	w.WriteHeader(status)
	writeJSON(w, wireErrorFor(kind, detail))
}
