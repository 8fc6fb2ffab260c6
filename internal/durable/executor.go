// internal/durable/executor.go
package durable

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// Executor is the handle workflow and actor code uses to reach the
// substrate. Its clock is injectable so tests and replay are deterministic.
type Executor struct {
	backend Backend
	now     func() time.Time
}

func NewExecutor(backend Backend) *Executor {
	return &Executor{backend: backend, now: time.Now}
}

// NewExecutorWithClock creates an executor with a fixed notion of time.
func NewExecutorWithClock(backend Backend, now func() time.Time) *Executor {
	return &Executor{backend: backend, now: now}
}

// Now returns the executor's current time. Actor handlers must use this
// instead of time.Now so scheduling decisions replay deterministically.
func (e *Executor) Now() time.Time {
	return e.now()
}

func (e *Executor) Backend() Backend {
	return e.backend
}

// Step runs fn exactly once per (runID, stepKey), memoizing its successful
// output. On replay the cached result is returned without re-running fn.
//
// Go does not support type parameters on methods, so this is a
// package-level generic.
func Step[T any](ctx context.Context, e *Executor, runID uuid.UUID, stepKey string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if stepKey == "" {
		return zero, fmt.Errorf("durable: stepKey must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	cached, ok, err := e.backend.GetStep(ctx, runID, stepKey)
	if err != nil {
		return zero, fmt.Errorf("load step %q: %w", stepKey, err)
	}
	if ok {
		var out T
		if err := json.Unmarshal(cached, &out); err != nil {
			return zero, fmt.Errorf("unmarshal step %q output: %w", stepKey, err)
		}
		return out, nil
	}

	out, err := fn(ctx)
	if err != nil {
		return zero, err
	}

	outputJSON, err := json.Marshal(out)
	if err != nil {
		return zero, fmt.Errorf("marshal step %q output: %w", stepKey, err)
	}
	if err := e.backend.PutStep(ctx, runID, stepKey, outputJSON); err != nil {
		return zero, fmt.Errorf("persist step %q output: %w", stepKey, err)
	}
	return out, nil
}

// Rand returns a replay-safe draw in [0,1) for (runID, key). The first call
// rolls and records the value; later calls return the recorded one.
func (e *Executor) Rand(ctx context.Context, runID uuid.UUID, key string) (float64, error) {
	if key == "" {
		return 0, fmt.Errorf("durable: rand key must not be empty")
	}

	v, ok, err := e.backend.GetRand(ctx, runID, key)
	if err != nil {
		return 0, fmt.Errorf("load rand %q: %w", key, err)
	}
	if ok {
		return v, nil
	}

	v = rand.Float64()
	if err := e.backend.PutRand(ctx, runID, key, v); err != nil {
		return 0, fmt.Errorf("persist rand %q: %w", key, err)
	}
	return v, nil
}

// ScheduleInvocation arranges a delayed invocation of the named actor
// handler and returns its cancellable id.
func (e *Executor) ScheduleInvocation(ctx context.Context, actorKey, handler string, fireAt time.Time) (uuid.UUID, error) {
	t := Timer{
		ID:       uuid.New(),
		ActorKey: actorKey,
		Handler:  handler,
		FireAt:   fireAt,
	}
	if err := e.backend.ScheduleTimer(ctx, t); err != nil {
		return uuid.Nil, err
	}
	return t.ID, nil
}

// CancelInvocation best-effort cancels a pending delayed invocation.
// Cancelling an already-fired invocation is a no-op.
func (e *Executor) CancelInvocation(ctx context.Context, id uuid.UUID) error {
	return e.backend.CancelTimer(ctx, id)
}

// EnqueueRun queues a workflow run for the worker and returns its run id.
func (e *Executor) EnqueueRun(ctx context.Context, workflow string, input any) (uuid.UUID, error) {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal run input: %w", err)
	}
	r := Run{
		ID:       uuid.New(),
		Workflow: workflow,
		Input:    inputJSON,
	}
	if err := e.backend.EnqueueRun(ctx, r); err != nil {
		return uuid.Nil, err
	}
	return r.ID, nil
}

// GetActorState loads and decodes an actor's state, returning nil when no
// state exists.
func GetActorState[T any](ctx context.Context, e *Executor, actorKey string) (*T, error) {
	raw, ok, err := e.backend.GetActorState(ctx, actorKey)
	if err != nil {
		return nil, fmt.Errorf("load actor state %q: %w", actorKey, err)
	}
	if !ok {
		return nil, nil
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal actor state %q: %w", actorKey, err)
	}
	return &out, nil
}

// SetActorState encodes and stores an actor's state.
func SetActorState[T any](ctx context.Context, e *Executor, actorKey string, state *T) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal actor state %q: %w", actorKey, err)
	}
	return e.backend.SetActorState(ctx, actorKey, raw)
}
