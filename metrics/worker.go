package metrics

import (
	"encoding/json"
	"time"

	"github.com/aimux/gateway/logger"
	"github.com/aimux/gateway/supervisor"
	"github.com/aimux/gateway/worker"
)

// Broadcaster is the capability the Gateway's WebSocket hub exposes;
// metrics depends only on this narrow interface so that it never imports
// the gateway package.
type Broadcaster interface {
	Broadcast(message []byte)
}

// StartSampler spawns a supervised Worker that periodically samples system
// resources and advances the five historical series.
func (a *Aggregator) StartSampler(sup *supervisor.Supervisor, interval time.Duration) (*worker.Worker, error) {
	if interval <= 0 {
		interval = time.Minute
	}
	return sup.Spawn("metrics-sampler", "samples system resources and advances historical series", func(stop worker.StopSignal, touch func()) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for !stop.Stopped() {
			<-ticker.C
			if stop.Stopped() {
				return nil
			}
			before := a.sampleSystem()
			if before.MemoryTotalBytes == 0 {
				logger.Warnf("%s %v", logger.SymbolWorker, errSamplingUnavailable)
			}
			a.AdvanceHistory()
			touch()
		}
		return nil
	})
}

// StartBroadcaster spawns a supervised Worker that wakes at interval,
// assembles a Snapshot, and hands it to b as JSON.
func (a *Aggregator) StartBroadcaster(sup *supervisor.Supervisor, interval time.Duration, b Broadcaster) (*worker.Worker, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return sup.Spawn("metrics-broadcaster", "broadcasts metrics snapshots to connected dashboards", func(stop worker.StopSignal, touch func()) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for !stop.Stopped() {
			<-ticker.C
			if stop.Stopped() {
				return nil
			}
			snap := a.Snapshot()
			payload, err := json.Marshal(struct {
				Type string `json:"type"`
				Snapshot
			}{Type: "comprehensive_metrics", Snapshot: snap})
			if err != nil {
				return err
			}
			b.Broadcast(payload)
			touch()
		}
		return nil
	})
}
