// Package setup manages the well-known daily sync job: an idempotent
// bootstrap over the (non-idempotent) cron actor, plus teardown and status.
package setup

import (
	"context"
	"encoding/json"
	"log/slog"

	"github-star-browser/internal/cron"
)

// DailyJobID is the stable id of the daily starred-repos sync job.
const DailyJobID = "update-user-starred-repos-daily"

// dailyCronExpression fires at 00:00 UTC.
const dailyCronExpression = "0 0 * * *"

// Target of the daily job.
const (
	TargetService = "github-jobs"
	TargetMethod  = "sync-starred-repos"
)

// JobController is the cron-actor surface the setup workflow consumes.
type JobController interface {
	Initiate(ctx context.Context, jobID string, request cron.JobRequest) (cron.JobInfo, error)
	Cancel(ctx context.Context, jobID string) error
	GetInfo(ctx context.Context, jobID string) (*cron.JobInfo, error)
}

// InitializeResult reports the outcome of Initialize.
type InitializeResult struct {
	Status            string `json:"status"` // "already_exists" or "created"
	JobID             string `json:"job_id"`
	NextExecutionTime string `json:"next_execution_time,omitempty"`
}

// TeardownResult reports the outcome of Teardown.
type TeardownResult struct {
	Status string `json:"status"` // "not_found" or "cancelled"
	JobID  string `json:"job_id"`
}

// StatusResult reports whether the daily job exists and its state.
type StatusResult struct {
	Initialized bool          `json:"initialized"`
	JobID       string        `json:"job_id"`
	Job         *cron.JobInfo `json:"job,omitempty"`
}

// Service is the admin workflow over the daily sync job.
type Service struct {
	jobs     JobController
	cronExpr string
	logger   *slog.Logger
}

// NewService builds the admin workflow. cronExpr overrides the default
// daily schedule when non-empty.
func NewService(jobs JobController, cronExpr string, logger *slog.Logger) *Service {
	if cronExpr == "" {
		cronExpr = dailyCronExpression
	}
	return &Service{jobs: jobs, cronExpr: cronExpr, logger: logger}
}

// Initialize ensures exactly one daily job exists. Idempotent at this level
// even though Initiate is not: existence is checked first.
func (s *Service) Initialize(ctx context.Context) (InitializeResult, error) {
	existing, err := s.jobs.GetInfo(ctx, DailyJobID)
	if err != nil {
		return InitializeResult{}, err
	}
	if existing != nil {
		return InitializeResult{
			Status:            "already_exists",
			JobID:             DailyJobID,
			NextExecutionTime: existing.NextExecutionTime,
		}, nil
	}

	info, err := s.jobs.Initiate(ctx, DailyJobID, cron.JobRequest{
		ID:             DailyJobID,
		CronExpression: s.cronExpr,
		Service:        TargetService,
		Method:         TargetMethod,
		Payload:        json.RawMessage(`{}`),
	})
	if err != nil {
		return InitializeResult{}, err
	}

	s.logger.Info("Daily sync job created", "job_id", DailyJobID, "next_execution", info.NextExecutionTime)
	return InitializeResult{
		Status:            "created",
		JobID:             DailyJobID,
		NextExecutionTime: info.NextExecutionTime,
	}, nil
}

// Teardown cancels the daily job if it exists.
func (s *Service) Teardown(ctx context.Context) (TeardownResult, error) {
	existing, err := s.jobs.GetInfo(ctx, DailyJobID)
	if err != nil {
		return TeardownResult{}, err
	}
	if existing == nil {
		return TeardownResult{Status: "not_found", JobID: DailyJobID}, nil
	}

	if err := s.jobs.Cancel(ctx, DailyJobID); err != nil {
		return TeardownResult{}, err
	}
	return TeardownResult{Status: "cancelled", JobID: DailyJobID}, nil
}

// Status is a read-only passthrough of the daily job's info.
func (s *Service) Status(ctx context.Context) (StatusResult, error) {
	job, err := s.jobs.GetInfo(ctx, DailyJobID)
	if err != nil {
		return StatusResult{}, err
	}
	return StatusResult{
		Initialized: job != nil,
		JobID:       DailyJobID,
		Job:         job,
	}, nil
}
