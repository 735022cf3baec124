package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker("jobboard", 3, time.Minute, 0.5)
	for i := 0; i < 3; i++ {
		require.True(t, cb.CanExecute())
		cb.RecordFailure()
	}
	assert.Equal(t, StateOpen, cb.GetState())
	assert.False(t, cb.CanExecute())
}

func TestCircuitBreakerCallRecordsOutcome(t *testing.T) {
	cb := NewCircuitBreaker("llm", 2, time.Minute, 0.5)
	err := cb.Call("chat", func() error { return errors.New("boom") })
	assert.EqualError(t, err, "boom")
	err = cb.Call("chat", func() error { return errors.New("boom") })
	assert.Error(t, err)
	assert.Equal(t, StateOpen, cb.GetState())

	err = cb.Call("chat", func() error { return nil })
	assert.ErrorContains(t, err, "circuit breaker is open")
}

func TestCircuitBreakerHalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreaker("jobboard", 1, time.Millisecond, 0.5)
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.GetState())
	time.Sleep(5 * time.Millisecond)
	require.True(t, cb.CanExecute())
	assert.Equal(t, StateHalfOpen, cb.GetState())
}
