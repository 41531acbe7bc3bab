package fault

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor() *Executor {
	return NewExecutor(fastPolicy(3), DefaultBreakerConfig())
}

func TestExecutor_SuccessRecordsOnBreaker(t *testing.T) {
	e := newTestExecutor()

	e.Breaker("llm:gemini").RecordFailure()
	e.Breaker("llm:gemini").RecordFailure()

	err := e.Execute(context.Background(), "llm.generate", "llm:gemini", func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)

	// Closed-state success resets the failure count.
	assert.Equal(t, 0, e.Breaker("llm:gemini").Snapshot().Failures)
}

func TestExecutor_BreakerOpensMidRetryAndAborts(t *testing.T) {
	e := newTestExecutor()
	br := e.Breaker("llm:gemini")
	br.RecordFailure()
	br.RecordFailure()
	br.RecordFailure()

	calls := 0
	err := e.Execute(context.Background(), "llm.generate", "llm:gemini", func(ctx context.Context) error {
		calls++
		return New(KindDependency, "status 503")
	})

	// Attempts 1 and 2 push the failure count to 5; attempt 3 is gated out.
	assert.Equal(t, 2, calls)
	require.Error(t, err)
	assert.Equal(t, KindCircuitOpen, KindOf(err))
	assert.Equal(t, StateOpen, br.State())
}

func TestExecutor_OpenBreakerFailsFastWithoutCalling(t *testing.T) {
	e := newTestExecutor()
	br := e.Breaker("redis")
	for i := 0; i < 5; i++ {
		br.RecordFailure()
	}

	calls := 0
	err := e.Execute(context.Background(), "bus.append", "redis", func(ctx context.Context) error {
		calls++
		return nil
	})

	assert.Equal(t, 0, calls)
	assert.Equal(t, KindCircuitOpen, KindOf(err))
}

func TestExecutor_NonRetryableSingleAttempt(t *testing.T) {
	e := newTestExecutor()

	calls := 0
	err := e.Execute(context.Background(), "audit.log", "postgres", func(ctx context.Context) error {
		calls++
		return New(KindValidation, "duplicate message id")
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, 1, e.Breaker("postgres").Snapshot().Failures)
}

func TestExecutor_EmptyBreakerNameSkipsGating(t *testing.T) {
	e := newTestExecutor()

	calls := 0
	err := e.Execute(context.Background(), "vector.upsert", "", func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return New(KindDependency, "transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Empty(t, e.Snapshot())
}

func TestExecutor_SnapshotListsKnownBreakers(t *testing.T) {
	e := newTestExecutor()
	e.Breaker("redis")
	e.Breaker("postgres").RecordFailure()

	snaps := e.Snapshot()
	require.Len(t, snaps, 2)
	assert.Equal(t, StateClosed, snaps["redis"].State)
	assert.Equal(t, 1, snaps["postgres"].Failures)
}
