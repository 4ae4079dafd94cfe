package worker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDeliberate = errors.New("deliberate failure")

func TestWorker_StartsInStoppedState(t *testing.T) {
	w := New("test", "a worker", nil)
	assert.Equal(t, StatusStopped, w.Info().Status)
}

func TestWorker_Start_TransitionsToRunningAndTracksOperations(t *testing.T) {
	w := New("test", "a worker", nil)

	err := w.Start(func(stop StopSignal, touch func()) error {
		for !stop.Stopped() {
			touch()
			time.Sleep(5 * time.Millisecond)
		}
		return nil
	})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	info := w.Info()
	assert.Equal(t, StatusRunning, info.Status)
	assert.Greater(t, info.OperationsCompleted, int64(0))

	w.RequestStop()
	require.NoError(t, w.Join(time.Second))
	assert.Equal(t, StatusStopped, w.Info().Status)
}

func TestWorker_Start_RejectsWhileAlreadyRunning(t *testing.T) {
	w := New("test", "a worker", nil)
	require.NoError(t, w.Start(func(stop StopSignal, touch func()) error {
		<-make(chan struct{})
		return nil
	}))

	err := w.Start(func(stop StopSignal, touch func()) error { return nil })
	assert.Error(t, err)

	w.RequestStop()
}

func TestWorker_Run_RecoversFromPanic(t *testing.T) {
	w := New("panicky", "panics immediately", nil)

	require.NoError(t, w.Start(func(stop StopSignal, touch func()) error {
		panic("boom")
	}))

	require.NoError(t, w.Join(time.Second))
	info := w.Info()
	assert.Equal(t, StatusError, info.Status)
	assert.Error(t, info.LastError)
}

func TestWorker_Run_BodyErrorSetsErrorStatus(t *testing.T) {
	w := New("failing", "returns an error", nil)

	require.NoError(t, w.Start(func(stop StopSignal, touch func()) error {
		return errDeliberate
	}))

	require.NoError(t, w.Join(time.Second))
	info := w.Info()
	assert.Equal(t, StatusError, info.Status)
	assert.ErrorIs(t, info.LastError, errDeliberate)
}

func TestWorker_Join_TimesOutWhenBodyNeverStops(t *testing.T) {
	w := New("stuck", "ignores stop requests", nil)
	require.NoError(t, w.Start(func(stop StopSignal, touch func()) error {
		<-make(chan struct{})
		return nil
	}))

	err := w.Join(20 * time.Millisecond)
	assert.Error(t, err)
	assert.Equal(t, StatusTimeout, w.Info().Status)
}

func TestWorker_Healthy_FalseWhenActivityStale(t *testing.T) {
	w := New("idle", "stops touching", nil)
	release := make(chan struct{})
	require.NoError(t, w.Start(func(stop StopSignal, touch func()) error {
		touch()
		<-release
		return nil
	}))

	time.Sleep(10 * time.Millisecond)
	assert.False(t, w.Healthy(time.Millisecond))

	close(release)
	w.RequestStop()
	require.NoError(t, w.Join(time.Second))
}

func TestWorker_Healthy_NonRunningWorkerIgnoresActivityAge(t *testing.T) {
	w := New("fresh", "never started", nil)
	assert.True(t, w.Healthy(time.Nanosecond))
}
