// Package config defines the gateway's configuration schema and loads it
// via viper, layering TOML sources under an environment-variable overlay.
package config

import "time"

// ProviderConfig is one upstream provider entry under providers[].
type ProviderConfig struct {
	Name       string   `mapstructure:"name"`
	Kind       string   `mapstructure:"kind"` // "anthropic" | "openrouter"
	Endpoint   string   `mapstructure:"endpoint"`
	Credential string   `mapstructure:"credential"`
	GroupID    string   `mapstructure:"group_id"`
	Models     []string `mapstructure:"models"`
	Priority   int      `mapstructure:"priority"`
	TimeoutMS  int      `mapstructure:"timeout_ms"`
	MaxRetries int      `mapstructure:"max_retries"`
	MaxRPS     int      `mapstructure:"max_rps"`
}

// RequestConfig bounds inbound request handling.
type RequestConfig struct {
	MaxConcurrent     int `mapstructure:"max_concurrent"`
	DefaultTimeoutMS  int `mapstructure:"default_timeout_ms"`
	MaxBodyBytes      int `mapstructure:"max_body_bytes"`
}

// RetryConfig configures the Router's backoff policy.
type RetryConfig struct {
	BaseDelayMS    int     `mapstructure:"base_delay_ms"`
	MaxDelayMS     int     `mapstructure:"max_delay_ms"`
	JitterFraction float64 `mapstructure:"jitter_fraction"`
}

// CacheConfig configures the Response Cache.
type CacheConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	MaxEntries       int     `mapstructure:"max_entries"`
	MaxBytes         int64   `mapstructure:"max_bytes"`
	DefaultTTLMS     int     `mapstructure:"default_ttl_ms"`
	MaxTTLMS         int     `mapstructure:"max_ttl_ms"`
	ScanIntervalMS   int     `mapstructure:"scan_interval_ms"`
	HitRateThreshold float64 `mapstructure:"hit_rate_threshold"`
}

// PoolConfig configures the Connection Pool.
type PoolConfig struct {
	MaxConnections      int `mapstructure:"max_connections"`
	MaxAgeMS            int `mapstructure:"max_age_ms"`
	IdleTimeoutMS       int `mapstructure:"idle_timeout_ms"`
	MaxRequestsPerEntry int `mapstructure:"max_requests_per_entry"`
}

// BreakerConfig configures the Circuit Breaker.
type BreakerConfig struct {
	FailureThreshold  int `mapstructure:"failure_threshold"`
	RecoveryTimeoutMS int `mapstructure:"recovery_timeout_ms"`
	SuccessThreshold  int `mapstructure:"success_threshold"`
}

// MetricsConfig configures the Metrics Aggregator.
type MetricsConfig struct {
	SampleIntervalMS    int `mapstructure:"sample_interval_ms"`
	BroadcastIntervalMS int `mapstructure:"broadcast_interval_ms"`
	HistoryPoints       int `mapstructure:"history_points"`
	MaxWSConnections    int `mapstructure:"max_ws_connections"`
}

// AuthConfig configures the Gateway's admission auth.
type AuthConfig struct {
	BearerToken string `mapstructure:"bearer_token"`
}

// ListenConfig configures the HTTP listener.
type ListenConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	Port        int    `mapstructure:"port"`
}

// Config is the gateway's fully-parsed, validated configuration.
type Config struct {
	Providers []ProviderConfig `mapstructure:"providers"`
	Request   RequestConfig    `mapstructure:"request"`
	Retry     RetryConfig      `mapstructure:"retry"`
	Cache     CacheConfig      `mapstructure:"cache"`
	Pool      PoolConfig       `mapstructure:"pool"`
	Breaker   BreakerConfig    `mapstructure:"breaker"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
	Auth      AuthConfig       `mapstructure:"auth"`
	Listen    ListenConfig     `mapstructure:"listen"`
}

func millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// RequestTimeout returns request.default_timeout_ms as a Duration.
func (c Config) RequestTimeout() time.Duration { return millis(c.Request.DefaultTimeoutMS) }

// Default returns a Config with every field set to the gateway's built-in
// defaults. Load starts from this before applying files/env overlays.
func Default() Config {
	return Config{
		Request: RequestConfig{
			MaxConcurrent:    256,
			DefaultTimeoutMS: 60_000,
			MaxBodyBytes:     1 << 20,
		},
		Retry: RetryConfig{
			BaseDelayMS:    100,
			MaxDelayMS:     5_000,
			JitterFraction: 0.2,
		},
		Cache: CacheConfig{
			Enabled:          true,
			MaxEntries:       10_000,
			MaxBytes:         64 << 20,
			DefaultTTLMS:     300_000,
			MaxTTLMS:         3_600_000,
			ScanIntervalMS:   60_000,
			HitRateThreshold: 0.1,
		},
		Pool: PoolConfig{
			MaxConnections:      128,
			MaxAgeMS:            600_000,
			IdleTimeoutMS:       90_000,
			MaxRequestsPerEntry: 10_000,
		},
		Breaker: BreakerConfig{
			FailureThreshold:  5,
			RecoveryTimeoutMS: 30_000,
			SuccessThreshold:  2,
		},
		Metrics: MetricsConfig{
			SampleIntervalMS:    60_000,
			BroadcastIntervalMS: 2_000,
			HistoryPoints:       60,
			MaxWSConnections:    100,
		},
		Listen: ListenConfig{
			BindAddress: "0.0.0.0",
			Port:        8089,
		},
	}
}
