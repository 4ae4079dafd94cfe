package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aimux/gateway/breaker"
	"github.com/aimux/gateway/cache"
	"github.com/aimux/gateway/config"
	"github.com/aimux/gateway/errors"
	"github.com/aimux/gateway/gateway"
	"github.com/aimux/gateway/internal/corectx"
	"github.com/aimux/gateway/logger"
	"github.com/aimux/gateway/metrics"
	"github.com/aimux/gateway/pool"
	"github.com/aimux/gateway/provider"
	"github.com/aimux/gateway/provider/anthropic"
	"github.com/aimux/gateway/provider/openrouter"
	"github.com/aimux/gateway/router"
	"github.com/aimux/gateway/supervisor"
	"github.com/aimux/gateway/worker"
)

var configPath string

// ServeCmd starts the gateway's HTTP server: it loads and validates
// configuration, wires up the provider registry, connection pool, cache,
// and metrics aggregator, runs the server in a goroutine, and traps
// SIGINT/SIGTERM for graceful shutdown with a second-signal force-exit.
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Start the gateway's HTTP server",
	RunE:    runServe,
}

func init() {
	ServeCmd.Flags().StringVar(&configPath, "config", "gateway.toml", "path to the gateway's TOML configuration file")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	registry := provider.NewRegistry()
	for _, pc := range cfg.Providers {
		adapter, err := buildAdapter(pc)
		if err != nil {
			return errors.Wrapf(err, "failed to build provider %q", pc.Name)
		}
		if err := registry.Register(adapter); err != nil {
			return errors.Wrapf(err, "failed to register provider %q", pc.Name)
		}
	}

	connPool := pool.New(pool.Config{
		MaxConnections:      cfg.Pool.MaxConnections,
		MaxAge:              config.DurationFromMS(cfg.Pool.MaxAgeMS),
		IdleTimeout:         config.DurationFromMS(cfg.Pool.IdleTimeoutMS),
		MaxRequestsPerEntry: cfg.Pool.MaxRequestsPerEntry,
	})

	var respCache *cache.Cache
	if cfg.Cache.Enabled {
		respCache = cache.New(cache.Config{
			MaxEntries:        cfg.Cache.MaxEntries,
			MaxBytes:          cfg.Cache.MaxBytes,
			DefaultTTL:        config.DurationFromMS(cfg.Cache.DefaultTTLMS),
			MaxTTL:            config.DurationFromMS(cfg.Cache.MaxTTLMS),
			ScanInterval:      config.DurationFromMS(cfg.Cache.ScanIntervalMS),
			HitRateThreshold:  cfg.Cache.HitRateThreshold,
			AdaptiveTTLFactor: 1,
		})
	}

	agg := metrics.New()

	breakerCfg := breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  config.DurationFromMS(cfg.Breaker.RecoveryTimeoutMS),
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
	}
	routerCfg := router.Config{
		Retry: router.RetryConfig{
			BaseDelay:      config.DurationFromMS(cfg.Retry.BaseDelayMS),
			MaxDelay:       config.DurationFromMS(cfg.Retry.MaxDelayMS),
			JitterFraction: cfg.Retry.JitterFraction,
		},
	}
	r := router.New(routerCfg, registry, connPool, respCache, agg, breakerCfg)

	sup := supervisor.New(logger.Logger)
	if _, err := sup.Spawn("pool-reaper", "retires idle/aged pooled connections", poolReaperBody(connPool, config.DurationFromMS(cfg.Pool.IdleTimeoutMS))); err != nil {
		return errors.Wrap(err, "failed to start pool reaper")
	}
	if respCache != nil {
		if _, err := sup.Spawn("cache-scanner", "evicts expired and cold cache entries", cacheScanBody(respCache, config.DurationFromMS(cfg.Cache.ScanIntervalMS))); err != nil {
			return errors.Wrap(err, "failed to start cache scanner")
		}
	}
	if _, err := agg.StartSampler(sup, config.DurationFromMS(cfg.Metrics.SampleIntervalMS)); err != nil {
		return errors.Wrap(err, "failed to start metrics sampler")
	}

	cctx := corectx.New(logger.Logger, &cfg, agg)
	gw := gateway.New(cctx, cfg, gateway.Dependencies{
		Router:     r,
		Registry:   registry,
		Cache:      respCache,
		Aggregator: agg,
		Supervisor: sup,
	})

	if _, err := agg.StartBroadcaster(sup, config.DurationFromMS(cfg.Metrics.BroadcastIntervalMS), gw); err != nil {
		return errors.Wrap(err, "failed to start metrics broadcaster")
	}

	printStartupBanner(cfg)

	errCh := make(chan error, 1)
	go func() { errCh <- gw.Run() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "gateway failed to start")
		}
		return nil
	case <-sigCh:
		logger.Infow("shutdown signal received, draining", logger.FieldSymbol, logger.SymbolGateway)
		done := make(chan error, 1)
		go func() { done <- gw.Stop() }()

		select {
		case err := <-done:
			sup.Shutdown(10 * time.Second)
			if err != nil {
				return fmt.Errorf("shutdown error: %w", err)
			}
			logger.Infow("gateway stopped cleanly", logger.FieldSymbol, logger.SymbolGateway)
			return nil
		case <-sigCh:
			logger.Warnw("second signal received, forcing exit", logger.FieldSymbol, logger.SymbolGateway)
			os.Exit(1)
			return nil
		}
	}
}

func buildAdapter(pc config.ProviderConfig) (provider.Adapter, error) {
	descriptor := provider.Descriptor{
		Name:       pc.Name,
		Endpoint:   pc.Endpoint,
		Credential: pc.Credential,
		GroupID:    pc.GroupID,
		Models:     pc.Models,
		Priority:   pc.Priority,
		Timeout:    config.DurationFromMS(pc.TimeoutMS),
		MaxRetries: pc.MaxRetries,
		MaxRPS:     pc.MaxRPS,
	}
	switch pc.Kind {
	case "anthropic":
		return anthropic.New(descriptor), nil
	case "openrouter":
		return openrouter.New(descriptor), nil
	default:
		return nil, errors.Newf("unknown provider kind %q", pc.Kind)
	}
}

func poolReaperBody(p *pool.Pool, interval time.Duration) worker.Body {
	if interval <= 0 {
		interval = time.Minute
	}
	return func(stop worker.StopSignal, touch func()) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for !stop.Stopped() {
			<-ticker.C
			if stop.Stopped() {
				return nil
			}
			p.ReapIdle()
			touch()
		}
		return nil
	}
}

func cacheScanBody(c *cache.Cache, interval time.Duration) worker.Body {
	if interval <= 0 {
		interval = time.Minute
	}
	return func(stop worker.StopSignal, touch func()) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for !stop.Stopped() {
			<-ticker.C
			if stop.Stopped() {
				return nil
			}
			c.Scan()
			touch()
		}
		return nil
	}
}
