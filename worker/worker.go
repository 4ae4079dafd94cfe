// Package worker implements the supervised worker primitive: a named,
// long-running task with a cooperative stop signal and observable health
// counters, shared by the connection pool's idle reaper, the response
// cache's scanner, and the metrics aggregator's sampler and broadcaster.
package worker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/aimux/gateway/errors"
	"go.uber.org/zap"
)

// Status is the lifecycle state of a Worker.
type Status int

const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
	StatusError
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	case StatusError:
		return "error"
	case StatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// StopSignal is the read-only view of a worker's stop request a body
// observes between units of work.
type StopSignal interface {
	Stopped() bool
}

// Info is a point-in-time snapshot of a Worker's health.
type Info struct {
	Name                string
	Description         string
	Status              Status
	StartedAt           time.Time
	ActivityAge         time.Duration
	OperationsCompleted int64
	LastError           error
}

// Body is the function a Worker executes. It MUST check stop.Stopped()
// between units of work and return promptly once it is set.
type Body func(stop StopSignal, touch func()) error

// Worker is a named long-running task with observable health.
type Worker struct {
	Name        string
	Description string

	mu           sync.Mutex
	status       Status
	startedAt    time.Time
	lastActivity atomic.Int64 // unix nano
	stopRequested atomic.Bool
	operations   atomic.Int64
	lastErr      error

	done   chan struct{}
	logger *zap.SugaredLogger
}

// New constructs a Worker in the stopped state.
func New(name, description string, logger *zap.SugaredLogger) *Worker {
	return &Worker{
		Name:        name,
		Description: description,
		status:      StatusStopped,
		logger:      logger,
	}
}

func (w *Worker) Stopped() bool { return w.stopRequested.Load() }

// Start begins execution of body in its own goroutine. It fails if the
// worker is already running.
func (w *Worker) Start(body Body) error {
	w.mu.Lock()
	if w.status == StatusStarting || w.status == StatusRunning || w.status == StatusStopping {
		w.mu.Unlock()
		return errors.Newf("worker %q already running", w.Name)
	}
	w.status = StatusStarting
	w.startedAt = time.Now()
	w.stopRequested.Store(false)
	w.lastActivity.Store(w.startedAt.UnixNano())
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.run(body)
	return nil
}

func (w *Worker) run(body Body) {
	w.mu.Lock()
	w.status = StatusRunning
	w.mu.Unlock()

	touch := func() {
		w.lastActivity.Store(time.Now().UnixNano())
		w.operations.Add(1)
	}

	err := w.runBody(body, touch)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.status = StatusError
		w.lastErr = err
		if w.logger != nil {
			w.logger.Errorw("worker exited with error", "worker", w.Name, "error", err)
		}
	} else {
		w.status = StatusStopped
	}
	close(w.done)
}

// runBody recovers from panics in the body, converting them into a
// terminal error rather than crashing the process.
func (w *Worker) runBody(body Body, touch func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("worker %q panicked: %v", w.Name, r)
		}
	}()
	return body(w, touch)
}

// RequestStop sets the stop signal without blocking.
func (w *Worker) RequestStop() {
	w.stopRequested.Store(true)
	w.mu.Lock()
	if w.status == StatusRunning {
		w.status = StatusStopping
	}
	w.mu.Unlock()
}

// Join waits up to timeout for the body to exit.
func (w *Worker) Join(timeout time.Duration) error {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		w.mu.Lock()
		w.status = StatusTimeout
		w.mu.Unlock()
		return errors.Newf("worker %q did not stop within %s", w.Name, timeout)
	}
}

// Info returns a snapshot of the worker's health.
func (w *Worker) Info() Info {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Info{
		Name:                w.Name,
		Description:         w.Description,
		Status:              w.status,
		StartedAt:           w.startedAt,
		ActivityAge:         time.Since(time.Unix(0, w.lastActivity.Load())),
		OperationsCompleted: w.operations.Load(),
		LastError:           w.lastErr,
	}
}

// Healthy reports whether the worker's activity age is within the given
// threshold while running. Non-running workers are never flagged unhealthy
// by activity age alone.
func (w *Worker) Healthy(maxActivityAge time.Duration) bool {
	info := w.Info()
	if info.Status != StatusRunning {
		return info.Status != StatusError && info.Status != StatusTimeout
	}
	return info.ActivityAge <= maxActivityAge
}
