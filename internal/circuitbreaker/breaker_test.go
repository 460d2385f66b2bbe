package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(threshold int, recovery time.Duration) Config {
	return Config{
		Name:             "test",
		FailureThreshold: threshold,
		RecoveryTimeout:  recovery,
	}
}

func TestOpensAtFailureThreshold(t *testing.T) {
	cb := New(testConfig(3, time.Minute))

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Allow())
		cb.OnFailure()
		assert.Equal(t, StateClosed, cb.State())
	}

	require.NoError(t, cb.Allow())
	cb.OnFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := New(testConfig(2, time.Minute))

	require.NoError(t, cb.Allow())
	cb.OnFailure()
	require.NoError(t, cb.Allow())
	cb.OnSuccess()
	require.NoError(t, cb.Allow())
	cb.OnFailure()

	assert.Equal(t, StateClosed, cb.State(), "non-consecutive failures must not trip the breaker")
}

func TestHalfOpenAdmitsSingleTrial(t *testing.T) {
	cb := New(testConfig(1, 10*time.Millisecond))

	require.NoError(t, cb.Allow())
	cb.OnFailure()
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Allow())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen, "only one trial call at a time")
}

func TestHalfOpenSuccessCloses(t *testing.T) {
	cb := New(testConfig(1, 10*time.Millisecond))
	require.NoError(t, cb.Allow())
	cb.OnFailure()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Allow())
	cb.OnSuccess()

	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Allow())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := New(testConfig(1, 10*time.Millisecond))
	require.NoError(t, cb.Allow())
	cb.OnFailure()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Allow())
	cb.OnFailure()

	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestStateChangeCallback(t *testing.T) {
	var transitions []string
	cfg := testConfig(1, 10*time.Millisecond)
	cfg.OnStateChange = func(name string, from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}
	cb := New(cfg)

	require.NoError(t, cb.Allow())
	cb.OnFailure()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Allow())
	cb.OnSuccess()

	assert.Equal(t, []string{
		"CLOSED->OPEN",
		"OPEN->HALF_OPEN",
		"HALF_OPEN->CLOSED",
	}, transitions)
}
