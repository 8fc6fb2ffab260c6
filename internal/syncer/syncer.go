// internal/syncer/syncer.go
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github-star-browser/internal/database"
	"github-star-browser/internal/durable"
	gh "github-star-browser/internal/github"
	"github-star-browser/internal/model"
)

// WorkflowSyncStarred is the durable workflow name of the top-level sync
// entry point; the daily cron job targets it.
const WorkflowSyncStarred = "github-jobs.sync-starred-repos"

// GithubAPI is the provider-client surface the syncer consumes.
type GithubAPI interface {
	ListStarredPage(ctx context.Context, page, perPage int) ([]model.StarredItem, bool, error)
	FetchReadme(ctx context.Context, owner, name string) (string, error)
}

// SyncInput is the input of one sync run. Force bypasses the
// non-production guard.
type SyncInput struct {
	Force bool `json:"force,omitempty"`
}

// Config carries the sync policy knobs.
type Config struct {
	// Production gates the workflow: outside production an unforced run
	// is a no-op, protecting the real GitHub API during development.
	Production bool
	PageSize   int
	// ReadmeMaxAge is the staleness threshold for README refreshes.
	ReadmeMaxAge time.Duration
}

// Service is the GitHub sync workflow: paginated starred-list ingestion
// with idempotent upserts and staleness-weighted README refreshes.
type Service struct {
	exec   *durable.Executor
	db     database.Querier
	gh     GithubAPI
	logger *slog.Logger
	config Config
}

func NewService(exec *durable.Executor, db database.Querier, ghClient GithubAPI, logger *slog.Logger, config Config) *Service {
	if config.PageSize <= 0 {
		config.PageSize = 100
	}
	if config.ReadmeMaxAge <= 0 {
		config.ReadmeMaxAge = 30 * 24 * time.Hour
	}
	return &Service{
		exec:   exec,
		db:     db,
		gh:     ghClient,
		logger: logger,
		config: config,
	}
}

// Register wires the workflow entry point into the durable worker.
func (s *Service) Register(w *durable.Worker) {
	w.RegisterWorkflow(WorkflowSyncStarred, func(ctx context.Context, runID uuid.UUID, input []byte) ([]byte, error) {
		var in SyncInput
		if len(input) > 0 {
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, durable.Terminalf("decode sync input: %w", err)
			}
		}
		result, err := s.SyncStarred(ctx, runID, in)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	})
}

// TriggerSync enqueues an on-demand sync run and returns its run id.
func (s *Service) TriggerSync(ctx context.Context, force bool) (uuid.UUID, error) {
	return s.exec.EnqueueRun(ctx, WorkflowSyncStarred, SyncInput{Force: force})
}

// starredPage is the memoized result of one page fetch.
type starredPage struct {
	Items   []model.StarredItem `json:"items"`
	HasNext bool                `json:"has_next"`
}

// SyncStarred brings the repo store into agreement with the provider's
// starred list. Each page fetch is its own memoized step, so a replayed run
// never re-hits the network for pages already fetched; each page's upserts
// are awaited before the next page is requested.
func (s *Service) SyncStarred(ctx context.Context, runID uuid.UUID, input SyncInput) (model.SyncResult, error) {
	if !input.Force && !s.config.Production {
		s.logger.Info("Skipping starred sync outside production", "run_id", runID)
		return model.SyncResult{Skipped: true, Reason: "environment is not production"}, nil
	}

	var result model.SyncResult
	page := 1
	for {
		fetched, err := durable.Step(ctx, s.exec, runID, fmt.Sprintf("fetch-starred-page-%d", page), func(ctx context.Context) (starredPage, error) {
			items, hasNext, err := s.gh.ListStarredPage(ctx, page, s.config.PageSize)
			if err != nil {
				return starredPage{}, err
			}
			return starredPage{Items: items, HasNext: hasNext}, nil
		})
		if err != nil {
			return model.SyncResult{}, err
		}

		result.TotalStarred += len(fetched.Items)

		pageResult, err := s.UpsertPage(ctx, runID, fetched.Items)
		if err != nil {
			return model.SyncResult{}, err
		}
		result.ReposProcessed += pageResult.Processed
		result.ReadmesUpdated += pageResult.ReadmesUpdated

		if !fetched.HasNext {
			break
		}
		page++
	}

	result.Pages = page
	s.logger.Info("Starred sync finished",
		"run_id", runID,
		"pages", result.Pages,
		"total_starred", result.TotalStarred,
		"readmes_updated", result.ReadmesUpdated)
	return result, nil
}

// UpsertPage applies one page of starred items. Each repo's upsert is a
// memoized step keyed by full name, so a retried page only re-applies
// writes for repos not yet committed; the staleness decision is likewise
// memoized because it is probabilistic and replay must reuse the original
// outcome.
func (s *Service) UpsertPage(ctx context.Context, runID uuid.UUID, items []model.StarredItem) (model.PageResult, error) {
	var result model.PageResult
	for _, item := range items {
		item := item

		row, err := durable.Step(ctx, s.exec, runID, "repo-"+item.FullName, func(ctx context.Context) (database.UpsertStarredRepoRow, error) {
			return s.db.UpsertStarredRepo(ctx, database.UpsertStarredRepoParams{
				FullName:    item.FullName,
				ExternalID:  item.ExternalID,
				Name:        item.Name,
				Description: item.Description,
				Metadata:    item.Metadata,
				StarredAt:   item.StarredAt,
			})
		})
		if err != nil {
			return model.PageResult{}, err
		}
		result.Processed++

		refresh, err := durable.Step(ctx, s.exec, runID, "readme-decide-"+item.FullName, func(ctx context.Context) (bool, error) {
			draw, err := s.exec.Rand(ctx, runID, "readme-draw-"+item.FullName)
			if err != nil {
				return false, err
			}
			return shouldRefreshReadme(row.ReadmeUpdatedAt, s.exec.Now(), s.config.ReadmeMaxAge, draw), nil
		})
		if err != nil {
			return model.PageResult{}, err
		}
		if !refresh {
			continue
		}

		readmeResult, err := s.RefreshReadme(ctx, runID, item.FullName)
		if err != nil {
			return model.PageResult{}, err
		}
		if !readmeResult.Skipped {
			result.ReadmesUpdated++
		}
	}
	return result, nil
}

// RefreshReadme fetches and persists one repository's README. A missing or
// access-blocked README is a benign outcome: the result is "skipped" and no
// state changes. Any other fetch error propagates for the worker's retry
// policy.
func (s *Service) RefreshReadme(ctx context.Context, runID uuid.UUID, fullName string) (model.ReadmeResult, error) {
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || name == "" {
		return model.ReadmeResult{}, durable.Terminalf("invalid repository full name: %q", fullName)
	}

	content, err := durable.Step(ctx, s.exec, runID, "fetch-readme-"+fullName, func(ctx context.Context) (*string, error) {
		text, err := s.gh.FetchReadme(ctx, owner, name)
		if err != nil {
			if errors.Is(err, gh.ErrReadmeUnavailable) {
				return nil, nil
			}
			return nil, err
		}
		return &text, nil
	})
	if err != nil {
		return model.ReadmeResult{}, err
	}

	if content == nil {
		s.logger.Debug("README unavailable", "repo", fullName)
		return model.ReadmeResult{Skipped: true}, nil
	}

	id, err := durable.Step(ctx, s.exec, runID, "update-readme-db-"+fullName, func(ctx context.Context) (int64, error) {
		return s.db.UpdateReadme(ctx, fullName, *content)
	})
	if err != nil {
		return model.ReadmeResult{}, err
	}

	return model.ReadmeResult{UpdatedID: id}, nil
}
