package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testConfig() Config {
	return Config{
		FailureThreshold: 3,
		RecoveryTimeout:  20 * time.Millisecond,
		SuccessThreshold: 2,
	}
}

func TestBreaker_StartsClosed(t *testing.T) {
	b := New(testConfig())
	assert.Equal(t, Closed, b.State())
	assert.True(t, b.CanExecute())
}

func TestBreaker_TripsOpenAfterConsecutiveFailures(t *testing.T) {
	b := New(testConfig())

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, Closed, b.State(), "below threshold, stays closed")

	b.RecordFailure()
	assert.Equal(t, Open, b.State())
	assert.False(t, b.CanExecute())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New(testConfig())

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	assert.Equal(t, Closed, b.State(), "success should have reset the consecutive-failure streak")
}

func TestBreaker_OpenTransitionsToHalfOpenAfterRecoveryTimeout(t *testing.T) {
	b := New(testConfig())
	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()
	require := assert.New(t)
	require.Equal(Open, b.State())

	time.Sleep(25 * time.Millisecond)

	require.True(b.CanExecute())
	require.Equal(HalfOpen, b.State())
}

func TestBreaker_HalfOpen_GatesConcurrentProbesToOne(t *testing.T) {
	b := New(testConfig())
	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()
	time.Sleep(25 * time.Millisecond)

	require := assert.New(t)
	require.True(b.CanExecute(), "first call transitions to half_open and consumes the probe token")
	require.False(b.CanExecute(), "a second concurrent caller should not also get a probe")
}

func TestBreaker_HalfOpen_SuccessThresholdClosesBreaker(t *testing.T) {
	b := New(testConfig())
	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()
	time.Sleep(25 * time.Millisecond)
	b.CanExecute() // enter half_open

	b.RecordSuccess()
	assert.Equal(t, HalfOpen, b.State(), "below success threshold, stays half_open")

	b.RecordSuccess()
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpen_FailureReopensImmediately(t *testing.T) {
	b := New(testConfig())
	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()
	time.Sleep(25 * time.Millisecond)
	b.CanExecute() // enter half_open

	b.RecordFailure()
	assert.Equal(t, Open, b.State())
}

func TestBreaker_Reset_ReturnsToClosedWithFreshProbeBudget(t *testing.T) {
	b := New(testConfig())
	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()

	b.Reset()

	assert.Equal(t, Closed, b.State())
	assert.True(t, b.CanExecute())
}

func TestBreaker_ReadyToProbe_FalseWhileClosedOrHalfOpen(t *testing.T) {
	b := New(testConfig())
	assert.False(t, b.ReadyToProbe(), "closed breakers are not probe candidates")

	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()
	time.Sleep(25 * time.Millisecond)
	b.CanExecute() // enter half_open
	assert.False(t, b.ReadyToProbe(), "half_open breakers are already admitting via CanExecute")
}

func TestBreaker_ReadyToProbe_TrueOnceRecoveryTimeoutElapses(t *testing.T) {
	b := New(testConfig())
	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()
	assert.False(t, b.ReadyToProbe(), "recovery timeout has not elapsed yet")

	time.Sleep(25 * time.Millisecond)
	assert.True(t, b.ReadyToProbe())
}
