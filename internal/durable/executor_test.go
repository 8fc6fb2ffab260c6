// internal/durable/executor_test.go
package durable

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStep(t *testing.T) {
	ctx := context.Background()

	t.Run("runs the function once and memoizes its output", func(t *testing.T) {
		exec := NewExecutor(NewMemoryBackend())
		runID := uuid.New()
		calls := 0

		fn := func(ctx context.Context) (int, error) {
			calls++
			return 42, nil
		}

		out, err := Step(ctx, exec, runID, "the-step", fn)
		require.NoError(t, err)
		assert.Equal(t, 42, out)

		out, err = Step(ctx, exec, runID, "the-step", fn)
		require.NoError(t, err)
		assert.Equal(t, 42, out)
		assert.Equal(t, 1, calls, "replay must not re-run the step")
	})

	t.Run("different step keys run independently", func(t *testing.T) {
		exec := NewExecutor(NewMemoryBackend())
		runID := uuid.New()
		calls := 0

		fn := func(ctx context.Context) (string, error) {
			calls++
			return "out", nil
		}

		_, err := Step(ctx, exec, runID, "a", fn)
		require.NoError(t, err)
		_, err = Step(ctx, exec, runID, "b", fn)
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("different run ids do not share memoized output", func(t *testing.T) {
		exec := NewExecutor(NewMemoryBackend())
		calls := 0

		fn := func(ctx context.Context) (int, error) {
			calls++
			return calls, nil
		}

		first, err := Step(ctx, exec, uuid.New(), "step", fn)
		require.NoError(t, err)
		second, err := Step(ctx, exec, uuid.New(), "step", fn)
		require.NoError(t, err)
		assert.Equal(t, 1, first)
		assert.Equal(t, 2, second)
	})

	t.Run("failures are not memoized", func(t *testing.T) {
		exec := NewExecutor(NewMemoryBackend())
		runID := uuid.New()
		calls := 0
		boom := errors.New("transient failure")

		fn := func(ctx context.Context) (int, error) {
			calls++
			if calls == 1 {
				return 0, boom
			}
			return 7, nil
		}

		_, err := Step(ctx, exec, runID, "flaky", fn)
		assert.ErrorIs(t, err, boom)

		out, err := Step(ctx, exec, runID, "flaky", fn)
		require.NoError(t, err)
		assert.Equal(t, 7, out)
		assert.Equal(t, 2, calls)
	})

	t.Run("rejects an empty step key", func(t *testing.T) {
		exec := NewExecutor(NewMemoryBackend())
		_, err := Step(ctx, exec, uuid.New(), "", func(ctx context.Context) (int, error) {
			return 0, nil
		})
		assert.Error(t, err)
	})
}

func TestRand(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the same draw on replay", func(t *testing.T) {
		exec := NewExecutor(NewMemoryBackend())
		runID := uuid.New()

		first, err := exec.Rand(ctx, runID, "draw")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, first, 0.0)
		assert.Less(t, first, 1.0)

		second, err := exec.Rand(ctx, runID, "draw")
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("draws are independent per key", func(t *testing.T) {
		exec := NewExecutor(NewMemoryBackend())
		runID := uuid.New()

		// Two keys can collide by chance; a hundred all-equal cannot.
		values := map[float64]struct{}{}
		for i := 0; i < 100; i++ {
			v, err := exec.Rand(ctx, runID, uuid.NewString())
			require.NoError(t, err)
			values[v] = struct{}{}
		}
		assert.Greater(t, len(values), 1)
	})
}

func TestActorState(t *testing.T) {
	ctx := context.Background()

	type state struct {
		Count int `json:"count"`
	}

	t.Run("returns nil when no state exists", func(t *testing.T) {
		exec := NewExecutor(NewMemoryBackend())
		got, err := GetActorState[state](ctx, exec, "actor-1")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("round-trips and clears state", func(t *testing.T) {
		exec := NewExecutor(NewMemoryBackend())

		require.NoError(t, SetActorState(ctx, exec, "actor-1", &state{Count: 3}))
		got, err := GetActorState[state](ctx, exec, "actor-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 3, got.Count)

		require.NoError(t, exec.Backend().ClearActorState(ctx, "actor-1"))
		got, err = GetActorState[state](ctx, exec, "actor-1")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestScheduleAndCancelInvocation(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	backend := NewMemoryBackend()
	exec := NewExecutorWithClock(backend, func() time.Time { return now })

	id, err := exec.ScheduleInvocation(ctx, "actor-1", "handler", now.Add(time.Hour))
	require.NoError(t, err)

	// Not due yet.
	claimed, err := backend.ClaimDueTimer(ctx, now)
	require.NoError(t, err)
	assert.Nil(t, claimed)

	require.NoError(t, exec.CancelInvocation(ctx, id))
	status, ok := backend.TimerStatus(id)
	require.True(t, ok)
	assert.Equal(t, "cancelled", status)

	// A cancelled timer never fires even once due.
	claimed, err = backend.ClaimDueTimer(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestCancelInvocationAfterClaimIsNoop(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	backend := NewMemoryBackend()
	exec := NewExecutorWithClock(backend, func() time.Time { return now })

	id, err := exec.ScheduleInvocation(ctx, "actor-1", "handler", now)
	require.NoError(t, err)

	claimed, err := backend.ClaimDueTimer(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// Cancellation raced a firing that was already claimed.
	require.NoError(t, exec.CancelInvocation(ctx, id))
	status, _ := backend.TimerStatus(id)
	assert.Equal(t, "firing", status)
}
