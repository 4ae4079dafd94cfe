// Package corectx carries the gateway's shared, request-independent
// dependencies — logger, config, metrics observer — by explicit reference
// instead of package-level globals. The Gateway receives a *Context; the
// Router, Pool and Supervisor receive their dependencies as explicit
// constructor arguments. The package-global logger in logger/ is still used
// by cmd/ and by config.Watcher.
package corectx

import (
	"go.uber.org/zap"

	"github.com/aimux/gateway/config"
	"github.com/aimux/gateway/router"
)

// Context bundles the logger, config and metrics observer handed to the
// Gateway at construction time.
type Context struct {
	Log      *zap.SugaredLogger
	Config   *config.Config
	Observer router.Observer
}

// New builds a Context from its three parts. Observer may be nil for
// components that run without metrics wiring (e.g. isolated unit tests).
func New(log *zap.SugaredLogger, cfg *config.Config, observer router.Observer) *Context {
	return &Context{Log: log, Config: cfg, Observer: observer}
}

// WithObserver returns a shallow copy of c with Observer replaced, useful
// when the Metrics Aggregator is constructed after the initial Context
// (it depends on nothing else, but everything else's Router wants it).
func (c *Context) WithObserver(observer router.Observer) *Context {
	cp := *c
	cp.Observer = observer
	return &cp
}

// Sugar returns the bundled logger, or a no-op logger if none was set, so
// callers never need a nil check before logging.
func (c *Context) Sugar() *zap.SugaredLogger {
	if c == nil || c.Log == nil {
		return zap.NewNop().Sugar()
	}
	return c.Log
}
