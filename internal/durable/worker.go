// internal/durable/worker.go
package durable

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ActorHandlerFunc is a delayed-invocation target, keyed by actor key.
type ActorHandlerFunc func(ctx context.Context, actorKey string) error

// WorkflowFunc is a workflow entry point. Output is returned as JSON and
// recorded on the run.
type WorkflowFunc func(ctx context.Context, runID uuid.UUID, input []byte) ([]byte, error)

// WorkerConfig configures the polling worker.
type WorkerConfig struct {
	PollInterval time.Duration // defaults to 1s
	MaxAttempts  int           // run attempts before permanent failure; defaults to 10
}

// Worker drives the substrate: it claims due timers and dispatches them to
// registered actor handlers, and claims queued runs and executes registered
// workflows. Terminal errors fail immediately; anything else is retried
// with capped exponential backoff.
type Worker struct {
	exec      *Executor
	logger    *slog.Logger
	config    WorkerConfig
	handlers  map[string]ActorHandlerFunc
	workflows map[string]WorkflowFunc
}

func NewWorker(exec *Executor, logger *slog.Logger, config WorkerConfig) *Worker {
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 10
	}
	return &Worker{
		exec:      exec,
		logger:    logger,
		config:    config,
		handlers:  map[string]ActorHandlerFunc{},
		workflows: map[string]WorkflowFunc{},
	}
}

// RegisterActorHandler registers a delayed-invocation target. Must be
// called before Run.
func (w *Worker) RegisterActorHandler(name string, fn ActorHandlerFunc) {
	w.handlers[name] = fn
}

// RegisterWorkflow registers a workflow entry point. Must be called before
// Run.
func (w *Worker) RegisterWorkflow(name string, fn WorkflowFunc) {
	w.workflows[name] = fn
}

// Run polls until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick drains everything currently due. Exposed so tests (and the
// integration harness) can step the worker without real time passing.
func (w *Worker) Tick(ctx context.Context) {
	for w.processOneTimer(ctx) {
	}
	for w.processOneRun(ctx) {
	}
}

func (w *Worker) processOneTimer(ctx context.Context) bool {
	t, err := w.exec.Backend().ClaimDueTimer(ctx, w.exec.Now())
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("Failed to claim timer", "error", err)
		}
		return false
	}
	if t == nil {
		return false
	}

	handler, ok := w.handlers[t.Handler]
	if !ok {
		w.logger.Error("No handler registered for timer", "handler", t.Handler, "timer_id", t.ID)
		_ = w.exec.Backend().CompleteTimer(ctx, t.ID)
		return true
	}

	err = handler(ctx, t.ActorKey)
	switch {
	case err == nil:
		_ = w.exec.Backend().CompleteTimer(ctx, t.ID)
	case IsTerminal(err):
		// A terminal failure of a fired invocation is final: the actor
		// decided this firing must not happen (e.g. it was cancelled).
		w.logger.Warn("Timer invocation failed terminally", "handler", t.Handler, "actor_key", t.ActorKey, "error", err)
		_ = w.exec.Backend().CompleteTimer(ctx, t.ID)
	default:
		retryAt := w.exec.Now().Add(retryBackoff(t.Attempts))
		w.logger.Error("Timer invocation failed, retrying", "handler", t.Handler, "actor_key", t.ActorKey, "attempt", t.Attempts, "retry_at", retryAt, "error", err)
		_ = w.exec.Backend().RetryTimer(ctx, t.ID, retryAt)
	}
	return true
}

func (w *Worker) processOneRun(ctx context.Context) bool {
	r, err := w.exec.Backend().ClaimDueRun(ctx, w.exec.Now())
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("Failed to claim run", "error", err)
		}
		return false
	}
	if r == nil {
		return false
	}

	wf, ok := w.workflows[r.Workflow]
	if !ok {
		msg := fmt.Sprintf("no workflow registered: %s", r.Workflow)
		w.logger.Error("Unknown workflow", "workflow", r.Workflow, "run_id", r.ID)
		_ = w.exec.Backend().FailRun(ctx, r.ID, msg, nil)
		return true
	}

	output, err := wf(ctx, r.ID, r.Input)
	switch {
	case err == nil:
		_ = w.exec.Backend().CompleteRun(ctx, r.ID, output)
	case IsTerminal(err):
		w.logger.Warn("Run failed terminally", "workflow", r.Workflow, "run_id", r.ID, "error", err)
		_ = w.exec.Backend().FailRun(ctx, r.ID, err.Error(), nil)
	case r.Attempts >= w.config.MaxAttempts:
		w.logger.Error("Run exhausted retries", "workflow", r.Workflow, "run_id", r.ID, "attempts", r.Attempts, "error", err)
		_ = w.exec.Backend().FailRun(ctx, r.ID, err.Error(), nil)
	default:
		retryAt := w.exec.Now().Add(retryBackoff(r.Attempts))
		w.logger.Error("Run failed, retrying", "workflow", r.Workflow, "run_id", r.ID, "attempt", r.Attempts, "retry_at", retryAt, "error", err)
		_ = w.exec.Backend().FailRun(ctx, r.ID, err.Error(), &retryAt)
	}
	return true
}

// retryBackoff doubles per attempt starting at one second, capped at five
// minutes.
func retryBackoff(attempt int) time.Duration {
	d := time.Second
	for i := 1; i < attempt && d < 5*time.Minute; i++ {
		d *= 2
	}
	if d > 5*time.Minute {
		d = 5 * time.Minute
	}
	return d
}
