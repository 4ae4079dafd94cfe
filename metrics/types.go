// Package metrics implements the Metrics Aggregator: ingestion of
// per-attempt and per-request outcomes under short per-provider and
// per-endpoint locks, windowed
// percentile derivation, system resource sampling, and a bounded
// 60-point-per-series history feeding the dashboard WebSocket broadcast.
// It implements router.Observer without the router package importing
// metrics, avoiding a Router/Aggregator/Gateway import cycle.
package metrics

import "time"

// ProviderSnapshot is the point-in-time derived view of one provider's
// counters.
type ProviderSnapshot struct {
	Name             string             `json:"name"`
	Requests         int64              `json:"requests"`
	Successes        int64              `json:"successes"`
	Failures         int64              `json:"failures"`
	FailuresByKind   map[string]int64   `json:"failures_by_kind"`
	SuccessRate      float64            `json:"success_rate"`
	RequestsPerSec   float64            `json:"requests_per_second"`
	RequestsPerMin   float64            `json:"requests_per_minute"`
	RequestsPerHour  float64            `json:"requests_per_hour"`
	AvgLatencyMS     float64            `json:"avg_latency_ms"`
	P50LatencyMS     float64            `json:"p50_latency_ms"`
	P95LatencyMS     float64            `json:"p95_latency_ms"`
	P99LatencyMS     float64            `json:"p99_latency_ms"`
	TokensInput      int64              `json:"tokens_input"`
	TokensOutput     int64              `json:"tokens_output"`
	CostPerHour      float64            `json:"cost_per_hour"`
	TotalCost        float64            `json:"total_cost"`
}

// EndpointSnapshot is the derived view of one HTTP endpoint's counters.
type EndpointSnapshot struct {
	Path           string  `json:"path"`
	Requests       int64   `json:"requests"`
	AvgDurationMS  float64 `json:"avg_duration_ms"`
	StatusBreakdown map[int]int64 `json:"status_breakdown"`
}

// SystemSnapshot is the current resource-usage view.
type SystemSnapshot struct {
	CPUPercent        float64       `json:"cpu_percent"`
	MemoryUsedBytes   uint64        `json:"memory_used_bytes"`
	MemoryTotalBytes  uint64        `json:"memory_total_bytes"`
	MemoryPercent     float64       `json:"memory_percent"`
	UptimeSeconds     float64       `json:"uptime_seconds"`
	ActiveConnections int           `json:"active_connections"`
	TotalRPS          float64       `json:"total_rps"`
}

// HistoricalSeries is a bounded ring of per-minute samples for one
// dashboard trend line, capped at 60 points.
type HistoricalSeries struct {
	Label  string    `json:"label"`
	Points []float64 `json:"points"`
}

// Snapshot is the full metrics snapshot sent on each broadcast tick and
// returned by the HTTP metrics endpoints.
type Snapshot struct {
	Timestamp  time.Time                   `json:"timestamp"`
	Sequence   uint64                      `json:"sequence"`
	Providers  map[string]ProviderSnapshot `json:"providers"`
	Endpoints  map[string]EndpointSnapshot `json:"endpoints"`
	System     SystemSnapshot              `json:"system"`
	History    []HistoricalSeries          `json:"history"`
}
