package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimux/gateway/worker"
)

func runUntilStopped() worker.Body {
	return func(stop worker.StopSignal, touch func()) error {
		for !stop.Stopped() {
			touch()
			time.Sleep(5 * time.Millisecond)
		}
		return nil
	}
}

func TestSupervisor_Spawn_RegistersAndStartsWorker(t *testing.T) {
	s := New(nil)
	w, err := s.Spawn("reaper", "idle reaper", runUntilStopped())
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, worker.StatusRunning, w.Info().Status)

	s.Shutdown(time.Second)
}

func TestSupervisor_Spawn_RejectsDuplicateName(t *testing.T) {
	s := New(nil)
	_, err := s.Spawn("dup", "first", runUntilStopped())
	require.NoError(t, err)

	_, err = s.Spawn("dup", "second", runUntilStopped())
	assert.Error(t, err)

	s.Shutdown(time.Second)
}

func TestSupervisor_Shutdown_StopsAllWorkersAndReportsNoLeaks(t *testing.T) {
	s := New(nil)
	_, err := s.Spawn("a", "worker a", runUntilStopped())
	require.NoError(t, err)
	_, err = s.Spawn("b", "worker b", runUntilStopped())
	require.NoError(t, err)

	leaked := s.Shutdown(time.Second)
	assert.Equal(t, 0, leaked)

	for _, info := range s.Snapshot() {
		assert.Equal(t, worker.StatusStopped, info.Status)
	}
}

func TestSupervisor_Shutdown_ReportsLeakedWorkerThatIgnoresStop(t *testing.T) {
	s := New(nil)
	_, err := s.Spawn("stuck", "never stops", func(stop worker.StopSignal, touch func()) error {
		<-make(chan struct{})
		return nil
	})
	require.NoError(t, err)

	leaked := s.Shutdown(20 * time.Millisecond)
	assert.Equal(t, 1, leaked)
}

func TestSupervisor_Health_FlagsUnhealthyWorker(t *testing.T) {
	s := New(nil)
	s.SetUnhealthyActivityAge(time.Millisecond)

	release := make(chan struct{})
	_, err := s.Spawn("idle", "stops touching after start", func(stop worker.StopSignal, touch func()) error {
		touch()
		<-release
		return nil
	})
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, []string{"idle"}, s.Health())

	close(release)
	s.Shutdown(time.Second)
}

func TestSupervisor_Get_ReturnsFalseForUnknownWorker(t *testing.T) {
	s := New(nil)
	_, ok := s.Get("nonexistent")
	assert.False(t, ok)
}

func TestSupervisor_Snapshot_IncludesEveryRegisteredWorker(t *testing.T) {
	s := New(nil)
	_, err := s.Spawn("a", "worker a", runUntilStopped())
	require.NoError(t, err)
	_, err = s.Spawn("b", "worker b", runUntilStopped())
	require.NoError(t, err)

	snapshot := s.Snapshot()
	assert.Len(t, snapshot, 2)

	s.Shutdown(time.Second)
}

func TestSupervisor_StartHealthMonitor_LogsUnhealthyWorkersPeriodically(t *testing.T) {
	s := New(nil)
	s.SetUnhealthyActivityAge(time.Millisecond)

	release := make(chan struct{})
	_, err := s.Spawn("idle", "stops touching after start", func(stop worker.StopSignal, touch func()) error {
		touch()
		<-release
		return nil
	})
	require.NoError(t, err)

	monitor, err := s.StartHealthMonitor(5 * time.Millisecond)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, worker.StatusRunning, monitor.Info().Status)

	close(release)
	s.Shutdown(time.Second)
}
