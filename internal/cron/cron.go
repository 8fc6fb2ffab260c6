// Package cron implements a self-rescheduling cron job as a durable actor.
//
// Each job is an addressable state machine keyed by job id. Initiate
// computes the first occurrence and schedules a delayed self-invocation of
// Execute; every Execute dispatches the job's target and schedules the next
// occurrence, so the chain continues until Cancel clears the state. An
// Execute that finds no state fails terminally without rescheduling, which
// is what makes cancellation safe against an in-flight firing.
package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github-star-browser/internal/durable"
)

// HandlerExecute is the actor handler name under which Execute is
// registered with the durable worker.
const HandlerExecute = "cron.execute"

var (
	// ErrJobExists is returned by Initiate when the job id is taken.
	ErrJobExists = errors.New("job already exists for this ID")
	// ErrJobNotFound is returned by Execute on a cancelled or never
	// initiated job.
	ErrJobNotFound = errors.New("job not found")
)

// parser accepts standard five-field cron expressions.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// JobRequest is the invariant definition of a scheduled job.
type JobRequest struct {
	ID             string          `json:"id"`
	CronExpression string          `json:"cron_expression"`
	Service        string          `json:"service"`
	Method         string          `json:"method"`
	Key            string          `json:"key,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// JobInfo is the persisted actor state of a scheduled job.
type JobInfo struct {
	Request           JobRequest `json:"request"`
	NextExecutionTime string     `json:"next_execution_time"`
	NextExecutionID   uuid.UUID  `json:"next_execution_id"`
}

// Dispatcher delivers a job firing to its configured target.
type Dispatcher interface {
	Send(ctx context.Context, service, method, key string, payload json.RawMessage) error
}

// Actor hosts the cron job state machines. Mutating handlers on the same
// job id are serialized by a per-key mutex; GetInfo reads concurrently.
type Actor struct {
	exec       *durable.Executor
	dispatcher Dispatcher
	logger     *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewActor(exec *durable.Executor, dispatcher Dispatcher, logger *slog.Logger) *Actor {
	return &Actor{
		exec:       exec,
		dispatcher: dispatcher,
		logger:     logger,
		locks:      map[string]*sync.Mutex{},
	}
}

func (a *Actor) lock(jobID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.locks[jobID]
	if !ok {
		m = &sync.Mutex{}
		a.locks[jobID] = m
	}
	return m
}

func stateKey(jobID string) string {
	return "cron-job/" + jobID
}

// Initiate creates the job and schedules its first execution. It fails
// terminally if a job already exists under this id; callers wanting
// idempotence must check GetInfo first.
func (a *Actor) Initiate(ctx context.Context, jobID string, request JobRequest) (JobInfo, error) {
	m := a.lock(jobID)
	m.Lock()
	defer m.Unlock()

	existing, err := durable.GetActorState[JobInfo](ctx, a.exec, stateKey(jobID))
	if err != nil {
		return JobInfo{}, err
	}
	if existing != nil {
		return JobInfo{}, durable.NewTerminalError(ErrJobExists)
	}

	info, err := a.scheduleNextExecution(ctx, jobID, request)
	if err != nil {
		return JobInfo{}, err
	}

	a.logger.Info("Cron job initiated", "job_id", jobID, "cron", request.CronExpression, "next_execution", info.NextExecutionTime)
	return info, nil
}

// Execute is the delayed self-invocation target. It fails terminally when
// no state exists: the job was cancelled (or never initiated) and this
// firing is orphaned, so it must not reschedule. Otherwise it dispatches
// the configured target fire-and-forget and arranges the next firing.
func (a *Actor) Execute(ctx context.Context, jobID string) error {
	m := a.lock(jobID)
	m.Lock()
	defer m.Unlock()

	state, err := durable.GetActorState[JobInfo](ctx, a.exec, stateKey(jobID))
	if err != nil {
		return err
	}
	if state == nil {
		return durable.NewTerminalError(ErrJobNotFound)
	}

	req := state.Request
	if err := a.dispatcher.Send(ctx, req.Service, req.Method, req.Key, req.Payload); err != nil {
		// Target dispatch failure must never block rescheduling.
		a.logger.Error("Cron job dispatch failed", "job_id", jobID, "service", req.Service, "method", req.Method, "error", err)
	}

	info, err := a.scheduleNextExecution(ctx, jobID, req)
	if err != nil {
		return err
	}
	a.logger.Info("Cron job executed", "job_id", jobID, "next_execution", info.NextExecutionTime)
	return nil
}

// Cancel best-effort cancels the pending delayed invocation and clears all
// state. If the firing already raced past cancellation, its own state check
// in Execute prevents a zombie reschedule.
func (a *Actor) Cancel(ctx context.Context, jobID string) error {
	m := a.lock(jobID)
	m.Lock()
	defer m.Unlock()

	state, err := durable.GetActorState[JobInfo](ctx, a.exec, stateKey(jobID))
	if err != nil {
		return err
	}
	if state != nil {
		if err := a.exec.CancelInvocation(ctx, state.NextExecutionID); err != nil {
			a.logger.Warn("Failed to cancel pending execution", "job_id", jobID, "error", err)
		}
	}

	if err := a.exec.Backend().ClearActorState(ctx, stateKey(jobID)); err != nil {
		return err
	}
	a.logger.Info("Cron job cancelled", "job_id", jobID)
	return nil
}

// GetInfo returns the job state, or nil when the job does not exist.
// Read-only; safe to call while a mutating handler is running.
func (a *Actor) GetInfo(ctx context.Context, jobID string) (*JobInfo, error) {
	return durable.GetActorState[JobInfo](ctx, a.exec, stateKey(jobID))
}

// scheduleNextExecution computes the next occurrence strictly after the
// executor's current time, schedules the delayed self-invocation and
// persists the resulting state.
func (a *Actor) scheduleNextExecution(ctx context.Context, jobID string, request JobRequest) (JobInfo, error) {
	now := a.exec.Now().UTC()

	schedule, err := parser.Parse(request.CronExpression)
	if err != nil {
		return JobInfo{}, durable.Terminalf("invalid cron expression %q: %w", request.CronExpression, err)
	}
	next := schedule.Next(now)

	executionID, err := a.exec.ScheduleInvocation(ctx, jobID, HandlerExecute, next)
	if err != nil {
		return JobInfo{}, fmt.Errorf("schedule next execution: %w", err)
	}

	info := JobInfo{
		Request:           request,
		NextExecutionTime: next.Format(time.RFC3339),
		NextExecutionID:   executionID,
	}
	if err := durable.SetActorState(ctx, a.exec, stateKey(jobID), &info); err != nil {
		// Unwind the invocation we just scheduled; otherwise a retried
		// firing would leave a live orphan timer behind.
		if cerr := a.exec.CancelInvocation(ctx, executionID); cerr != nil {
			a.logger.Warn("Failed to cancel orphaned execution", "job_id", jobID, "error", cerr)
		}
		return JobInfo{}, err
	}
	return info, nil
}
