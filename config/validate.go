package config

import "github.com/aimux/gateway/errors"

// Validate checks the parsed configuration for startup-time invariants
// (non-empty required fields, positive bounds), aggregating every problem
// found into a single error so the CLI can report them all at once instead
// of failing one field at a time across repeated restarts.
func (c Config) Validate() error {
	var problems []string

	if len(c.Providers) == 0 {
		problems = append(problems, "at least one provider must be configured")
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			problems = append(problems, "provider entry missing name")
			continue
		}
		if seen[p.Name] {
			problems = append(problems, "duplicate provider name: "+p.Name)
		}
		seen[p.Name] = true
		if p.Kind != "anthropic" && p.Kind != "openrouter" {
			problems = append(problems, "provider "+p.Name+": unsupported kind "+p.Kind)
		}
		if p.Credential == "" {
			problems = append(problems, "provider "+p.Name+": missing credential")
		}
		if len(p.Models) == 0 {
			problems = append(problems, "provider "+p.Name+": must list at least one model")
		}
	}

	if c.Request.MaxConcurrent <= 0 {
		problems = append(problems, "request.max_concurrent must be positive")
	}
	if c.Request.DefaultTimeoutMS <= 0 {
		problems = append(problems, "request.default_timeout_ms must be positive")
	}
	if c.Request.MaxBodyBytes <= 0 {
		problems = append(problems, "request.max_body_bytes must be positive")
	}

	if c.Cache.Enabled && c.Cache.MaxTTLMS > 0 && c.Cache.DefaultTTLMS > c.Cache.MaxTTLMS {
		problems = append(problems, "cache.default_ttl_ms must not exceed cache.max_ttl_ms")
	}

	if c.Pool.MaxConnections <= 0 {
		problems = append(problems, "pool.max_connections must be positive")
	}

	if c.Breaker.FailureThreshold <= 0 {
		problems = append(problems, "breaker.failure_threshold must be positive")
	}
	if c.Breaker.SuccessThreshold <= 0 {
		problems = append(problems, "breaker.success_threshold must be positive")
	}

	if c.Listen.Port <= 0 || c.Listen.Port > 65535 {
		problems = append(problems, "listen.port must be between 1 and 65535")
	}

	if len(problems) == 0 {
		return nil
	}

	err := errors.Newf("invalid configuration: %d problem(s) found", len(problems))
	for _, p := range problems {
		err = errors.WithDetail(err, p)
	}
	return err
}
