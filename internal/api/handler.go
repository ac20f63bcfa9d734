// internal/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5"

	custom_errors "github.com/Lucky43620/OdooDevLogs/internal/errors"
	"github.com/Lucky43620/OdooDevLogs/internal/ingest"
	"github.com/Lucky43620/OdooDevLogs/internal/job"
	"github.com/Lucky43620/OdooDevLogs/internal/model"
	"github.com/Lucky43620/OdooDevLogs/internal/store"
)

// Querier is the read-side store surface the API serves from.
type Querier interface {
	ListRepositories(ctx context.Context) ([]model.Repository, error)
	ListBranches(ctx context.Context, repoID int64) ([]model.Branch, error)
	GetBranchByName(ctx context.Context, repoID int64, name string) (model.Branch, error)
	ListCommits(ctx context.Context, p store.ListCommitsParams) ([]model.Commit, error)
	GetCommitByID(ctx context.Context, id int64) (model.Commit, error)
	ListFileChanges(ctx context.Context, commitID int64) ([]model.FileChange, error)
	UniqueCommits(ctx context.Context, branchID, otherBranchID int64, limit int) ([]model.Commit, error)
	BranchStats(ctx context.Context, branchID int64) (model.BranchStats, error)
	SummaryStats(ctx context.Context) (model.SummaryStats, error)
	TopContributors(ctx context.Context, limit int) ([]model.ContributorStats, error)
	ListModules(ctx context.Context) ([]model.ModuleInfo, error)
	Timeline(ctx context.Context, branchID int64, days int) ([]model.TimelinePoint, error)
	ModuleStats(ctx context.Context, branchName string) ([]model.ModuleStats, error)
	ListImportLogs(ctx context.Context, limit int) ([]model.ImportLog, error)
}

// JobControl is the controller surface behind the admin fetch endpoints.
type JobControl interface {
	Start(spec ingest.JobSpec) (int64, error)
	Status(cursor int) job.Status
	Cancel() error
}

// Admin is the ingestor surface behind registration and backfill.
type Admin interface {
	RegisterRepository(ctx context.Context, fullName string) (model.Repository, error)
	BackfillModules(ctx context.Context, fullName string) (int, error)
}

// Handler is the container for API dependencies.
type Handler struct {
	db     Querier
	jobs   JobControl
	admin  Admin
	logger *slog.Logger

	defaultRepos    []string
	defaultBranches []string
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(db Querier, jobs JobControl, admin Admin, defaultRepos, defaultBranches []string, logger *slog.Logger) http.Handler {
	h := &Handler{
		db:              db,
		jobs:            jobs,
		admin:           admin,
		logger:          logger,
		defaultRepos:    defaultRepos,
		defaultBranches: defaultBranches,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.healthCheck)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/repositories", h.getRepositories)
		r.Get("/repositories/{repoID}/branches", h.getBranches)
		r.Get("/branches/{branchID}/commits", h.getCommits)
		r.Get("/commits/{commitID}", h.getCommitDetail)
		r.Get("/compare", h.compareBranches)
		r.Get("/stats/summary", h.getSummaryStats)
		r.Get("/stats/top-contributors", h.getTopContributors)
		r.Get("/modules", h.getModules)
		r.Get("/analytics/timeline", h.getTimeline)
		r.Get("/analytics/modules", h.getModuleAnalytics)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/init", h.initRepositories)
		r.Post("/fetch", h.startFetch)
		r.Get("/fetch/status", h.fetchStatus)
		r.Post("/fetch/cancel", h.cancelFetch)
		r.Get("/fetch/history", h.fetchHistory)
		r.Post("/modules/backfill", h.backfillModules)
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// getRepositories lists every tracked repository.
// GET /v1/repositories
func (h *Handler) getRepositories(w http.ResponseWriter, r *http.Request) {
	repos, err := h.db.ListRepositories(r.Context())
	if err != nil {
		h.internalError(w, "Failed to list repositories", err)
		return
	}
	respondWithJSON(w, http.StatusOK, repos)
}

// getBranches lists a repository's branches, default branch first.
// GET /v1/repositories/{repoID}/branches
func (h *Handler) getBranches(w http.ResponseWriter, r *http.Request) {
	repoID, ok := h.pathID(w, r, "repoID")
	if !ok {
		return
	}
	branches, err := h.db.ListBranches(r.Context(), repoID)
	if err != nil {
		h.internalError(w, "Failed to list branches", err)
		return
	}
	respondWithJSON(w, http.StatusOK, branches)
}

// getCommits lists a branch's commits with pagination and filters.
// GET /v1/branches/{branchID}/commits?limit=N&offset=N&author=X&search=Y
func (h *Handler) getCommits(w http.ResponseWriter, r *http.Request) {
	branchID, ok := h.pathID(w, r, "branchID")
	if !ok {
		return
	}

	limit, ok := h.queryInt(w, r, "limit", 100, 1, 1000)
	if !ok {
		return
	}
	offset, ok := h.queryInt(w, r, "offset", 0, 0, 1<<30)
	if !ok {
		return
	}

	commits, err := h.db.ListCommits(r.Context(), store.ListCommitsParams{
		BranchID: branchID,
		Limit:    limit,
		Offset:   offset,
		Author:   r.URL.Query().Get("author"),
		Search:   r.URL.Query().Get("search"),
	})
	if err != nil {
		h.internalError(w, "Failed to list commits", err)
		return
	}
	respondWithJSON(w, http.StatusOK, commits)
}

type commitDetailResponse struct {
	model.Commit
	FilesChanged []model.FileChange `json:"files_changed"`
}

// getCommitDetail returns one commit with its file changes.
// GET /v1/commits/{commitID}
func (h *Handler) getCommitDetail(w http.ResponseWriter, r *http.Request) {
	commitID, ok := h.pathID(w, r, "commitID")
	if !ok {
		return
	}

	commit, err := h.db.GetCommitByID(r.Context(), commitID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "Commit not found")
			return
		}
		h.internalError(w, "Failed to get commit", err)
		return
	}

	files, err := h.db.ListFileChanges(r.Context(), commitID)
	if err != nil {
		h.internalError(w, "Failed to get file changes", err)
		return
	}

	respondWithJSON(w, http.StatusOK, commitDetailResponse{Commit: commit, FilesChanged: files})
}

type compareSide struct {
	Name          string            `json:"name"`
	Stats         model.BranchStats `json:"stats"`
	UniqueCommits []model.Commit    `json:"unique_commits"`
}

// compareBranches lists commits unique to each of two branches of one
// repository plus per-branch stats.
// GET /v1/compare?repo_id=N&branch1=X&branch2=Y&limit=N
func (h *Handler) compareBranches(w http.ResponseWriter, r *http.Request) {
	repoID, err := strconv.ParseInt(r.URL.Query().Get("repo_id"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid 'repo_id' parameter")
		return
	}
	name1 := r.URL.Query().Get("branch1")
	name2 := r.URL.Query().Get("branch2")
	if name1 == "" || name2 == "" {
		respondWithError(w, http.StatusBadRequest, "'branch1' and 'branch2' are required")
		return
	}
	limit, ok := h.queryInt(w, r, "limit", 500, 1, 5000)
	if !ok {
		return
	}

	ctx := r.Context()
	sides := make([]compareSide, 2)
	ids := make([]int64, 2)
	for i, name := range []string{name1, name2} {
		branch, err := h.db.GetBranchByName(ctx, repoID, name)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				respondWithError(w, http.StatusNotFound, "Branch not found: "+name)
				return
			}
			h.internalError(w, "Failed to resolve branch", err)
			return
		}
		ids[i] = branch.ID
		sides[i].Name = name
	}

	for i := range sides {
		other := ids[1-i]
		stats, err := h.db.BranchStats(ctx, ids[i])
		if err != nil {
			h.internalError(w, "Failed to compute branch stats", err)
			return
		}
		unique, err := h.db.UniqueCommits(ctx, ids[i], other, limit)
		if err != nil {
			h.internalError(w, "Failed to list unique commits", err)
			return
		}
		sides[i].Stats = stats
		sides[i].UniqueCommits = unique
	}

	respondWithJSON(w, http.StatusOK, map[string]compareSide{
		"branch1": sides[0],
		"branch2": sides[1],
	})
}

// getSummaryStats returns store-wide totals.
// GET /v1/stats/summary
func (h *Handler) getSummaryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.SummaryStats(r.Context())
	if err != nil {
		h.internalError(w, "Failed to compute summary stats", err)
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

// getTopContributors returns the author leaderboard.
// GET /v1/stats/top-contributors?limit=N
func (h *Handler) getTopContributors(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.queryInt(w, r, "limit", 10, 1, 100)
	if !ok {
		return
	}
	authors, err := h.db.TopContributors(r.Context(), limit)
	if err != nil {
		h.internalError(w, "Failed to list top contributors", err)
		return
	}
	respondWithJSON(w, http.StatusOK, authors)
}

// getModules lists every detected module.
// GET /v1/modules
func (h *Handler) getModules(w http.ResponseWriter, r *http.Request) {
	modules, err := h.db.ListModules(r.Context())
	if err != nil {
		h.internalError(w, "Failed to list modules", err)
		return
	}
	respondWithJSON(w, http.StatusOK, modules)
}

// getTimeline groups a branch's recent commits by day.
// GET /v1/analytics/timeline?branch_id=N&days=N
func (h *Handler) getTimeline(w http.ResponseWriter, r *http.Request) {
	branchID, err := strconv.ParseInt(r.URL.Query().Get("branch_id"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid 'branch_id' parameter")
		return
	}
	days, ok := h.queryInt(w, r, "days", 30, 1, 365)
	if !ok {
		return
	}

	timeline, err := h.db.Timeline(r.Context(), branchID, days)
	if err != nil {
		h.internalError(w, "Failed to compute timeline", err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"branch_id": branchID,
		"days":      days,
		"timeline":  timeline,
	})
}

// getModuleAnalytics aggregates per-module activity on one branch.
// GET /v1/analytics/modules?branch_name=X
func (h *Handler) getModuleAnalytics(w http.ResponseWriter, r *http.Request) {
	branchName := r.URL.Query().Get("branch_name")
	if branchName == "" {
		respondWithError(w, http.StatusBadRequest, "'branch_name' is required")
		return
	}

	stats, err := h.db.ModuleStats(r.Context(), branchName)
	if err != nil {
		h.internalError(w, "Failed to compute module stats", err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"branch":  branchName,
		"modules": stats,
	})
}

// initRepositories registers the configured (or requested) repositories and
// their branches from the remote API.
// POST /admin/init
func (h *Handler) initRepositories(w http.ResponseWriter, r *http.Request) {
	repos := h.defaultRepos
	if body, ok := h.decodeOptionalBody(w, r); ok && len(body.Repositories) > 0 {
		repos = body.Repositories
	} else if !ok {
		return
	}

	registered := make([]model.Repository, 0, len(repos))
	for _, fullName := range repos {
		repo, err := h.admin.RegisterRepository(r.Context(), fullName)
		if err != nil {
			h.internalError(w, "Failed to register repository "+fullName, err)
			return
		}
		registered = append(registered, repo)
	}
	respondWithJSON(w, http.StatusOK, registered)
}

type fetchRequest struct {
	Repositories []string `json:"repositories"`
	Branches     []string `json:"branches"`
}

// startFetch launches an ingestion job over the requested (or default)
// repositories and branches.
// POST /admin/fetch?mode=incremental|full
func (h *Handler) startFetch(w http.ResponseWriter, r *http.Request) {
	mode, err := ingest.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	spec := ingest.JobSpec{
		Mode:         mode,
		Repositories: h.defaultRepos,
		Branches:     h.defaultBranches,
	}
	body, ok := h.decodeOptionalBody(w, r)
	if !ok {
		return
	}
	if len(body.Repositories) > 0 {
		spec.Repositories = body.Repositories
	}
	if len(body.Branches) > 0 {
		spec.Branches = body.Branches
	}

	runID, err := h.jobs.Start(spec)
	if err != nil {
		if errors.Is(err, custom_errors.ErrAlreadyRunning) {
			respondWithError(w, http.StatusConflict, "An ingestion run is already in progress")
			return
		}
		h.internalError(w, "Failed to start ingestion job", err)
		return
	}

	respondWithJSON(w, http.StatusAccepted, map[string]any{
		"status": "started",
		"mode":   mode,
		"run_id": runID,
	})
}

// fetchStatus tails the current run's progress log.
// GET /admin/fetch/status?cursor=N
func (h *Handler) fetchStatus(w http.ResponseWriter, r *http.Request) {
	cursor := 0
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondWithError(w, http.StatusBadRequest, "Invalid 'cursor' parameter")
			return
		}
		cursor = n
	}
	respondWithJSON(w, http.StatusOK, h.jobs.Status(cursor))
}

// cancelFetch requests termination of the active run. An idle slot is an
// explicit "not running" result, not an error.
// POST /admin/fetch/cancel
func (h *Handler) cancelFetch(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.Cancel(); err != nil {
		if errors.Is(err, custom_errors.ErrNoActiveRun) {
			respondWithJSON(w, http.StatusOK, map[string]string{"status": "not_running", "message": "no run in progress"})
			return
		}
		h.internalError(w, "Failed to cancel ingestion job", err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// fetchHistory returns recent import_log rows.
// GET /admin/fetch/history?limit=N
func (h *Handler) fetchHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.queryInt(w, r, "limit", 10, 1, 100)
	if !ok {
		return
	}
	logs, err := h.db.ListImportLogs(r.Context(), limit)
	if err != nil {
		h.internalError(w, "Failed to list import logs", err)
		return
	}

	type historyEntry struct {
		model.ImportLog
		DurationSeconds *float64 `json:"duration_seconds"`
	}
	entries := make([]historyEntry, len(logs))
	for i, l := range logs {
		entries[i].ImportLog = l
		if l.EndedAt != nil {
			d := l.EndedAt.Sub(l.StartedAt).Seconds()
			entries[i].DurationSeconds = &d
		}
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

// backfillModules re-derives module rows from stored file changes.
// POST /admin/modules/backfill
func (h *Handler) backfillModules(w http.ResponseWriter, r *http.Request) {
	repos := h.defaultRepos
	if body, ok := h.decodeOptionalBody(w, r); ok && len(body.Repositories) > 0 {
		repos = body.Repositories
	} else if !ok {
		return
	}

	counts := make(map[string]int, len(repos))
	for _, fullName := range repos {
		n, err := h.admin.BackfillModules(r.Context(), fullName)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				respondWithError(w, http.StatusNotFound, "Repository not registered: "+fullName)
				return
			}
			h.internalError(w, "Failed to backfill modules for "+fullName, err)
			return
		}
		counts[fullName] = n
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"modules": counts})
}

// decodeOptionalBody parses an optional JSON body. A missing or empty body
// yields a zero request. The bool reports whether the caller should proceed.
func (h *Handler) decodeOptionalBody(w http.ResponseWriter, r *http.Request) (fetchRequest, bool) {
	var body fetchRequest
	if r.Body == nil {
		return body, true
	}
	err := json.NewDecoder(r.Body).Decode(&body)
	if err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON body")
		return body, false
	}
	return body, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid '"+param+"' parameter")
		return 0, false
	}
	return id, true
}

func (h *Handler) queryInt(w http.ResponseWriter, r *http.Request, param string, def, min, max int) (int, bool) {
	raw := r.URL.Query().Get(param)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min || n > max {
		respondWithError(w, http.StatusBadRequest,
			"Invalid '"+param+"' parameter. Must be an integer between "+strconv.Itoa(min)+" and "+strconv.Itoa(max)+".")
		return 0, false
	}
	return n, true
}

func (h *Handler) internalError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, "error", err)
	respondWithError(w, http.StatusInternalServerError, "Internal server error")
}
