package metrics

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aimux/gateway/errors"
)

// sampleSystem gathers current CPU/memory usage via gopsutil, which
// abstracts the platform difference so no per-OS build tags are needed.
func (a *Aggregator) sampleSystem() SystemSnapshot {
	var snap SystemSnapshot

	if v, err := mem.VirtualMemory(); err == nil {
		snap.MemoryUsedBytes = v.Used
		snap.MemoryTotalBytes = v.Total
		snap.MemoryPercent = v.UsedPercent
	}

	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		snap.CPUPercent = pcts[0]
	}

	return snap
}

// AdvanceHistory samples the current derived view and appends one point to
// each of the five historical series. Intended to be called once per
// sampling interval by a supervised worker.
func (a *Aggregator) AdvanceHistory() {
	snap := a.Snapshot()

	var avgLatency, successRate, rpm float64
	if len(snap.Providers) > 0 {
		for _, p := range snap.Providers {
			avgLatency += p.AvgLatencyMS
			successRate += p.SuccessRate
			rpm += p.RequestsPerMin
		}
		avgLatency /= float64(len(snap.Providers))
		successRate /= float64(len(snap.Providers))
	}

	a.historyMu.Lock()
	defer a.historyMu.Unlock()
	a.history["avg_response_time_ms"].advance(avgLatency)
	a.history["success_rate"].advance(successRate)
	a.history["requests_per_minute"].advance(rpm)
	a.history["cpu_percent"].advance(snap.System.CPUPercent)
	a.history["memory_percent"].advance(snap.System.MemoryPercent)
}

// historySnapshot returns a read-only copy of every historical series.
func (a *Aggregator) historySnapshot() []HistoricalSeries {
	a.historyMu.Lock()
	defer a.historyMu.Unlock()

	out := make([]HistoricalSeries, 0, len(seriesNames))
	for _, name := range seriesNames {
		out = append(out, HistoricalSeries{Label: name, Points: a.history[name].snapshot()})
	}
	return out
}

// errSamplingUnavailable is logged as a warning by the sampler worker when
// sampleSystem reports no memory total. sampleSystem itself degrades
// silently and returns zeroed fields; the worker keeps running and does not
// return this error.
var errSamplingUnavailable = errors.New("system metrics temporarily unavailable")
