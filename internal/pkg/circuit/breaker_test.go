package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("grid", 3, time.Minute)
	cb.SetStateChangeHandler(func(string, State, State) {})

	assert.True(t, cb.Allow())
	cb.RecordFailure()
	cb.RecordFailure()
	assert.True(t, cb.Allow())
	cb.RecordFailure()
	assert.False(t, cb.Allow())
	assert.Equal(t, "OPEN", cb.Snapshot().State)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker("grid", 1, 10*time.Millisecond)
	cb.SetStateChangeHandler(func(string, State, State) {})

	cb.RecordFailure()
	assert.False(t, cb.Allow())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, cb.Allow())
	assert.Equal(t, "HALF-OPEN", cb.Snapshot().State)

	cb.RecordSuccess()
	snap := cb.Snapshot()
	assert.Equal(t, "CLOSED", snap.State)
	assert.Equal(t, 0, snap.Failures)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("grid", 1, 5*time.Millisecond)
	cb.SetStateChangeHandler(func(string, State, State) {})

	cb.RecordFailure()
	time.Sleep(10 * time.Millisecond)
	assert.True(t, cb.Allow())
	cb.RecordFailure()
	assert.False(t, cb.Allow())
}
