// internal/cron/cron_test.go
package cron

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github-star-browser/internal/durable"
)

// MockDispatcher is a mock of the Dispatcher interface.
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Send(ctx context.Context, service, method, key string, payload json.RawMessage) error {
	args := m.Called(ctx, service, method, key, payload)
	return args.Error(0)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestActor(now time.Time, dispatcher Dispatcher) (*Actor, *durable.MemoryBackend) {
	backend := durable.NewMemoryBackend()
	exec := durable.NewExecutorWithClock(backend, func() time.Time { return now })
	return NewActor(exec, dispatcher, testLogger()), backend
}

func hourlyRequest(id string) JobRequest {
	return JobRequest{
		ID:             id,
		CronExpression: "0 * * * *",
		Service:        "github-jobs",
		Method:         "sync-starred-repos",
		Payload:        json.RawMessage(`{}`),
	}
}

func TestActor_Initiate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	t.Run("schedules the first execution strictly after now", func(t *testing.T) {
		actor, backend := newTestActor(now, new(MockDispatcher))

		info, err := actor.Initiate(ctx, "job-1", hourlyRequest("job-1"))
		require.NoError(t, err)

		next, err := time.Parse(time.RFC3339, info.NextExecutionTime)
		require.NoError(t, err)
		assert.True(t, next.After(now), "next execution must be strictly in the future")
		assert.Equal(t, time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC), next)

		status, ok := backend.TimerStatus(info.NextExecutionID)
		require.True(t, ok)
		assert.Equal(t, "pending", status)
	})

	t.Run("fails terminally when the job already exists", func(t *testing.T) {
		actor, _ := newTestActor(now, new(MockDispatcher))

		first, err := actor.Initiate(ctx, "job-1", hourlyRequest("job-1"))
		require.NoError(t, err)

		_, err = actor.Initiate(ctx, "job-1", hourlyRequest("job-1"))
		assert.ErrorIs(t, err, ErrJobExists)
		assert.True(t, durable.IsTerminal(err))

		// The original schedule survives the rejected second initiate.
		info, err := actor.GetInfo(ctx, "job-1")
		require.NoError(t, err)
		require.NotNil(t, info)
		assert.Equal(t, first.NextExecutionID, info.NextExecutionID)
	})

	t.Run("fails terminally on an invalid cron expression", func(t *testing.T) {
		actor, _ := newTestActor(now, new(MockDispatcher))

		req := hourlyRequest("job-1")
		req.CronExpression = "not a cron"
		_, err := actor.Initiate(ctx, "job-1", req)
		assert.Error(t, err)
		assert.True(t, durable.IsTerminal(err))

		info, err := actor.GetInfo(ctx, "job-1")
		require.NoError(t, err)
		assert.Nil(t, info, "no state must persist for a rejected job")
	})
}

// failingStateBackend fails actor-state writes on demand.
type failingStateBackend struct {
	*durable.MemoryBackend
	failSet bool
}

func (b *failingStateBackend) SetActorState(ctx context.Context, actorKey string, state []byte) error {
	if b.failSet {
		return errors.New("state write failed")
	}
	return b.MemoryBackend.SetActorState(ctx, actorKey, state)
}

func TestActor_ScheduleUnwindsOnStateFailure(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	backend := &failingStateBackend{MemoryBackend: durable.NewMemoryBackend(), failSet: true}
	exec := durable.NewExecutorWithClock(backend, func() time.Time { return now })
	actor := NewActor(exec, new(MockDispatcher), testLogger())

	_, err := actor.Initiate(ctx, "job-1", hourlyRequest("job-1"))
	require.Error(t, err)

	// The failed initiate must not leave a live timer behind.
	assert.Empty(t, backend.PendingTimers())

	info, err := actor.GetInfo(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestActor_Execute(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	t.Run("dispatches the target and schedules the next occurrence", func(t *testing.T) {
		dispatcher := new(MockDispatcher)
		dispatcher.On("Send", ctx, "github-jobs", "sync-starred-repos", "", mock.Anything).Return(nil).Once()
		actor, _ := newTestActor(now, dispatcher)

		before, err := actor.Initiate(ctx, "job-1", hourlyRequest("job-1"))
		require.NoError(t, err)

		require.NoError(t, actor.Execute(ctx, "job-1"))

		after, err := actor.GetInfo(ctx, "job-1")
		require.NoError(t, err)
		require.NotNil(t, after)
		assert.NotEqual(t, before.NextExecutionID, after.NextExecutionID)
		dispatcher.AssertExpectations(t)
	})

	t.Run("reschedules even when dispatch fails", func(t *testing.T) {
		dispatcher := new(MockDispatcher)
		dispatcher.On("Send", ctx, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(assert.AnError).Once()
		actor, _ := newTestActor(now, dispatcher)

		_, err := actor.Initiate(ctx, "job-1", hourlyRequest("job-1"))
		require.NoError(t, err)

		require.NoError(t, actor.Execute(ctx, "job-1"))

		info, err := actor.GetInfo(ctx, "job-1")
		require.NoError(t, err)
		require.NotNil(t, info, "a failed dispatch must not break the chain")
		dispatcher.AssertExpectations(t)
	})

	t.Run("fails terminally when no state exists", func(t *testing.T) {
		dispatcher := new(MockDispatcher)
		actor, _ := newTestActor(now, dispatcher)

		err := actor.Execute(ctx, "never-initiated")
		assert.ErrorIs(t, err, ErrJobNotFound)
		assert.True(t, durable.IsTerminal(err))
		dispatcher.AssertNotCalled(t, "Send")
	})
}

func TestActor_Cancel(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	t.Run("clears state and cancels the pending invocation", func(t *testing.T) {
		dispatcher := new(MockDispatcher)
		actor, backend := newTestActor(now, dispatcher)

		info, err := actor.Initiate(ctx, "job-1", hourlyRequest("job-1"))
		require.NoError(t, err)

		require.NoError(t, actor.Cancel(ctx, "job-1"))

		got, err := actor.GetInfo(ctx, "job-1")
		require.NoError(t, err)
		assert.Nil(t, got)

		status, _ := backend.TimerStatus(info.NextExecutionID)
		assert.Equal(t, "cancelled", status)

		// An orphaned firing after cancellation must not resurrect the job.
		err = actor.Execute(ctx, "job-1")
		assert.ErrorIs(t, err, ErrJobNotFound)
		dispatcher.AssertNotCalled(t, "Send")
	})

	t.Run("cancelling a missing job is a no-op", func(t *testing.T) {
		actor, _ := newTestActor(now, new(MockDispatcher))
		assert.NoError(t, actor.Cancel(ctx, "missing"))
	})

	t.Run("a firing claimed before cancel does not reschedule", func(t *testing.T) {
		dispatcher := new(MockDispatcher)
		actor, backend := newTestActor(now, dispatcher)

		info, err := actor.Initiate(ctx, "job-1", hourlyRequest("job-1"))
		require.NoError(t, err)

		// The worker claims the timer, then Cancel races in before the
		// handler runs.
		claimed, err := backend.ClaimDueTimer(ctx, now.Add(time.Hour))
		require.NoError(t, err)
		require.NotNil(t, claimed)
		assert.Equal(t, info.NextExecutionID, claimed.ID)

		require.NoError(t, actor.Cancel(ctx, "job-1"))

		err = actor.Execute(ctx, claimed.ActorKey)
		assert.ErrorIs(t, err, ErrJobNotFound)
		assert.Empty(t, backend.PendingTimers(), "no zombie reschedule after cancel")
	})
}

func TestRunDispatcher(t *testing.T) {
	ctx := context.Background()
	backend := durable.NewMemoryBackend()
	exec := durable.NewExecutor(backend)

	d := NewRunDispatcher(exec)
	d.Route("github-jobs", "sync-starred-repos", "github-jobs.sync-starred-repos")

	t.Run("enqueues a run for a routed target", func(t *testing.T) {
		err := d.Send(ctx, "github-jobs", "sync-starred-repos", "", json.RawMessage(`{}`))
		assert.NoError(t, err)
	})

	t.Run("rejects an unrouted target", func(t *testing.T) {
		err := d.Send(ctx, "github-jobs", "nope", "", nil)
		assert.Error(t, err)
	})
}
