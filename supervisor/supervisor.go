// Package supervisor owns the set of supervised workers and guarantees
// orderly shutdown: a registry of heterogeneous named workers (pool
// reaper, cache scanner, metrics sampler and broadcaster) that are asked to
// stop gracefully; a worker that does not exit in time is marked timed out
// and logged as leaked, and its goroutine is left running.
package supervisor

import (
	"sync"
	"time"

	"github.com/aimux/gateway/errors"
	"github.com/aimux/gateway/worker"
	"go.uber.org/zap"
)

const defaultUnhealthyActivityAge = 2 * time.Minute

// Supervisor is a registry of Workers with orderly-shutdown semantics.
type Supervisor struct {
	mu      sync.RWMutex
	workers map[string]*worker.Worker
	logger  *zap.SugaredLogger

	unhealthyActivityAge time.Duration
}

// New constructs an empty Supervisor.
func New(logger *zap.SugaredLogger) *Supervisor {
	return &Supervisor{
		workers:              make(map[string]*worker.Worker),
		logger:               logger,
		unhealthyActivityAge: defaultUnhealthyActivityAge,
	}
}

// Spawn registers a new named worker and starts it immediately. Names must
// be unique among currently-registered workers.
func (s *Supervisor) Spawn(name, description string, body worker.Body) (*worker.Worker, error) {
	s.mu.Lock()
	if _, exists := s.workers[name]; exists {
		s.mu.Unlock()
		return nil, errors.Newf("worker %q already registered", name)
	}
	w := worker.New(name, description, s.logger)
	s.workers[name] = w
	s.mu.Unlock()

	if err := w.Start(body); err != nil {
		return nil, err
	}
	if s.logger != nil {
		s.logger.Infow("worker spawned", "worker", name)
	}
	return w, nil
}

// Shutdown requests stop on all workers concurrently, waits up to timeout
// per worker, and returns the count that failed to stop cleanly. Those
// workers are force-retired: their handle stays in the registry marked
// with a timeout status and the leak is logged.
func (s *Supervisor) Shutdown(timeout time.Duration) int {
	s.mu.RLock()
	workers := make([]*worker.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.mu.RUnlock()

	for _, w := range workers {
		w.RequestStop()
	}

	var wg sync.WaitGroup
	failures := make(chan string, len(workers))
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			if err := w.Join(timeout); err != nil {
				failures <- w.Name
			}
		}(w)
	}
	wg.Wait()
	close(failures)

	leaked := 0
	for name := range failures {
		leaked++
		if s.logger != nil {
			s.logger.Warnw("worker leaked on shutdown", "worker", name, "timeout", timeout)
		}
	}
	return leaked
}

// Health returns the names of workers whose activity age exceeds the
// unhealthy threshold while running, or whose status is error/timeout.
func (s *Supervisor) Health() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var unhealthy []string
	for name, w := range s.workers {
		if !w.Healthy(s.unhealthyActivityAge) {
			unhealthy = append(unhealthy, name)
		}
	}
	return unhealthy
}

// SetUnhealthyActivityAge overrides the activity-age threshold used by
// Health and the health-monitor worker.
func (s *Supervisor) SetUnhealthyActivityAge(d time.Duration) {
	s.unhealthyActivityAge = d
}

// StartHealthMonitor spawns a worker that periodically calls Health and
// logs a warning for every unhealthy worker found.
func (s *Supervisor) StartHealthMonitor(interval time.Duration) (*worker.Worker, error) {
	return s.Spawn("health-monitor", "periodically audits worker activity age", func(stop worker.StopSignal, touch func()) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for !stop.Stopped() {
			<-ticker.C
			if stop.Stopped() {
				return nil
			}
			for _, name := range s.Health() {
				if s.logger != nil {
					s.logger.Warnw("unhealthy worker detected", "worker", name)
				}
			}
			touch()
		}
		return nil
	})
}

// Get returns a registered worker's info snapshot, if it exists.
func (s *Supervisor) Get(name string) (worker.Info, bool) {
	s.mu.RLock()
	w, ok := s.workers[name]
	s.mu.RUnlock()
	if !ok {
		return worker.Info{}, false
	}
	return w.Info(), true
}

// Snapshot returns info for every registered worker.
func (s *Supervisor) Snapshot() []worker.Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]worker.Info, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w.Info())
	}
	return out
}
