// internal/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github-star-browser/internal/database"
	"github-star-browser/internal/setup"
)

// Admin is the setup-workflow surface exposed over HTTP.
type Admin interface {
	Initialize(ctx context.Context) (setup.InitializeResult, error)
	Teardown(ctx context.Context) (setup.TeardownResult, error)
	Status(ctx context.Context) (setup.StatusResult, error)
}

// SyncTrigger enqueues a sync run on demand.
type SyncTrigger interface {
	TriggerSync(ctx context.Context, force bool) (uuid.UUID, error)
}

// Handler is the container for API dependencies.
type Handler struct {
	db     database.Querier
	admin  Admin
	sync   SyncTrigger
	logger *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(db database.Querier, admin Admin, sync SyncTrigger, logger *slog.Logger) http.Handler {
	h := &Handler{
		db:     db,
		admin:  admin,
		sync:   sync,
		logger: logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger) // Chi's default logger
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// API Routes
	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/repos", h.listRepos)
		r.Get("/repos/search", h.listRepos)
		r.Get("/repos/count", h.countRepos)
		r.Get("/repos/{owner}/{name}", h.getRepo)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/job", h.initializeJob)
			r.Get("/job", h.jobStatus)
			r.Delete("/job", h.teardownJob)
			r.Post("/sync", h.triggerSync)
		})
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listRepos handles listing and searching of starred repos. It serves both
// /repos and /repos/search; search is a list with a non-empty q.
// GET /v1/repos?q=&limit=&offset=&sort_by=&sort_order=
func (h *Handler) listRepos(w http.ResponseWriter, r *http.Request) {
	params := database.ListReposParams{
		Query:     r.URL.Query().Get("q"),
		Limit:     queryInt(r, "limit", 30, 100),
		Offset:    queryInt(r, "offset", 0, 1<<30),
		SortBy:    r.URL.Query().Get("sort_by"),
		SortOrder: r.URL.Query().Get("sort_order"),
	}

	repos, err := h.db.ListRepos(r.Context(), params)
	if err != nil {
		h.logger.Error("Failed to list repos", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	total, err := h.db.CountRepos(r.Context(), params.Query)
	if err != nil {
		h.logger.Error("Failed to count repos", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"repos":    repos,
		"total":    total,
		"has_more": int64(params.Offset+len(repos)) < total,
	})
}

// countRepos returns the number of stored repos, optionally filtered.
// GET /v1/repos/count?q=
func (h *Handler) countRepos(w http.ResponseWriter, r *http.Request) {
	total, err := h.db.CountRepos(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.logger.Error("Failed to count repos", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int64{"total": total})
}

// getRepo returns a single repo by its full name.
// GET /v1/repos/{owner}/{name}
func (h *Handler) getRepo(w http.ResponseWriter, r *http.Request) {
	fullName := chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "name")

	repo, err := h.db.GetRepoByFullName(r.Context(), fullName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "Repository not found")
			return
		}
		h.logger.Error("Failed to get repository", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, repo)
}

// initializeJob ensures the daily sync job exists.
// POST /v1/admin/job
func (h *Handler) initializeJob(w http.ResponseWriter, r *http.Request) {
	result, err := h.admin.Initialize(r.Context())
	if err != nil {
		h.logger.Error("Failed to initialize daily job", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// jobStatus reports the daily sync job's state.
// GET /v1/admin/job
func (h *Handler) jobStatus(w http.ResponseWriter, r *http.Request) {
	result, err := h.admin.Status(r.Context())
	if err != nil {
		h.logger.Error("Failed to get job status", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// teardownJob cancels the daily sync job.
// DELETE /v1/admin/job
func (h *Handler) teardownJob(w http.ResponseWriter, r *http.Request) {
	result, err := h.admin.Teardown(r.Context())
	if err != nil {
		h.logger.Error("Failed to tear down daily job", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// triggerSync enqueues a sync run.
// POST /v1/admin/sync?force=true
func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"

	runID, err := h.sync.TriggerSync(r.Context(), force)
	if err != nil {
		h.logger.Error("Failed to enqueue sync run", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]any{
		"run_id": runID,
		"force":  force,
	})
}

func queryInt(r *http.Request, name string, def, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 || v > max {
		return def
	}
	return v
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
