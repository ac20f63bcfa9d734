// internal/ingest/ingest.go

// Package ingest pulls commit history from the remote hosting API into the
// store, branch by branch. Incremental runs stop at the newest locally
// stored commit by exact SHA match; a force-pushed branch whose history was
// rewritten can therefore over- or under-import. That is a known
// limitation, not handled here.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"

	custom_errors "github.com/Lucky43620/OdooDevLogs/internal/errors"
	"github.com/Lucky43620/OdooDevLogs/internal/github"
	"github.com/Lucky43620/OdooDevLogs/internal/model"
	"github.com/Lucky43620/OdooDevLogs/internal/module"
	"github.com/Lucky43620/OdooDevLogs/internal/store"
)

// Mode selects the traversal policy for a run.
type Mode string

const (
	// ModeIncremental walks newest-first and stops at the stored cursor SHA.
	ModeIncremental Mode = "incremental"
	// ModeFull walks the entire remote listing (subject to the branch cap).
	ModeFull Mode = "full"
)

// ParseMode validates a mode string, defaulting empty to incremental.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", string(ModeIncremental):
		return ModeIncremental, nil
	case string(ModeFull):
		return ModeFull, nil
	}
	return "", fmt.Errorf("unknown ingestion mode %q", s)
}

// Store is the persistence surface the ingestor writes through.
type Store interface {
	GetRepositoryByFullName(ctx context.Context, fullName string) (model.Repository, error)
	GetBranchByName(ctx context.Context, repoID int64, name string) (model.Branch, error)
	UpsertRepository(ctx context.Context, repo *model.Repository) (model.Repository, error)
	UpsertBranch(ctx context.Context, branch model.Branch) (model.Branch, error)
	LatestCommitForBranch(ctx context.Context, branchID int64) (model.Commit, error)
	UpsertCommit(ctx context.Context, c model.Commit) (int64, bool, error)
	InsertFileChanges(ctx context.Context, commitID int64, files []model.FileChange) error
	InsertModule(ctx context.Context, repoID int64, name, pathPrefix string) error
	ListChangedFilenames(ctx context.Context, repoID int64) ([]string, error)
	CreateImportLog(ctx context.Context, repoID int64, branchName string) (int64, error)
	CloseImportLog(ctx context.Context, id int64, status string, totalCommits int, errorMessage *string) error
}

// CommitSource yields pages of a branch's commits, newest-first.
type CommitSource interface {
	NextPage(ctx context.Context) ([]model.Commit, error)
}

// Remote is the hosting API surface the ingestor consumes. Quota probing is
// not part of it; the Limiter takes a QuotaFunc directly.
type Remote interface {
	GetRepository(ctx context.Context, owner, name string) (*model.Repository, error)
	ListBranches(ctx context.Context, owner, name string) ([]github.RemoteBranch, error)
	BranchCommits(owner, name, branch string) CommitSource
	GetCommitDetail(ctx context.Context, owner, name, sha string) (*github.CommitDetail, error)
}

// RemoteClient adapts *github.Client to the Remote interface.
type RemoteClient struct {
	*github.Client
}

// BranchCommits returns the client's pager as a CommitSource.
func (r RemoteClient) BranchCommits(owner, name, branch string) CommitSource {
	return r.Client.BranchCommits(owner, name, branch)
}

// ProgressLog receives human-readable progress lines during a run.
type ProgressLog interface {
	Append(line string)
}

type nopProgress struct{}

func (nopProgress) Append(string) {}

// Options tunes a run.
type Options struct {
	// MaxCommitsPerBranch caps imported commits per branch; 0 = unlimited.
	MaxCommitsPerBranch int
	// PatchMaxLen truncates stored patch text to this many bytes.
	PatchMaxLen int
}

// Result summarizes one (repository, branch) run.
type Result struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Files    int `json:"files"`
}

// Ingestor walks remote commit listings and persists them.
type Ingestor struct {
	store   Store
	remote  Remote
	limiter *Limiter
	logger  *slog.Logger
	opts    Options
}

// NewIngestor creates an Ingestor.
func NewIngestor(st Store, remote Remote, limiter *Limiter, logger *slog.Logger, opts Options) *Ingestor {
	return &Ingestor{
		store:   st,
		remote:  remote,
		limiter: limiter,
		logger:  logger,
		opts:    opts,
	}
}

// SplitFullName splits "owner/name" into its parts.
func SplitFullName(fullName string) (owner, name string, err error) {
	parts := strings.Split(fullName, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", &custom_errors.ErrInvalidRepoFormat{Repo: fullName}
	}
	return parts[0], parts[1], nil
}

// Run ingests one (repository, branch) pair. The repository and branch must
// already be registered locally. Every run gets an import_log row: opened
// as running, closed exactly once as success or failed.
func (ing *Ingestor) Run(ctx context.Context, repoFullName, branchName string, mode Mode, progress ProgressLog) (Result, error) {
	if progress == nil {
		progress = nopProgress{}
	}
	logger := ing.logger.With("repo", repoFullName, "branch", branchName, "mode", string(mode))

	var res Result

	owner, name, err := SplitFullName(repoFullName)
	if err != nil {
		return res, err
	}

	repo, err := ing.store.GetRepositoryByFullName(ctx, repoFullName)
	if errors.Is(err, pgx.ErrNoRows) {
		// Nothing to reference an import_log row against.
		return res, &custom_errors.NotFoundError{Kind: "repository", Name: repoFullName}
	} else if err != nil {
		return res, err
	}

	branch, err := ing.store.GetBranchByName(ctx, repo.ID, branchName)
	if errors.Is(err, pgx.ErrNoRows) {
		nfErr := &custom_errors.NotFoundError{Kind: "branch", Name: repoFullName + "/" + branchName}
		ing.recordFailedRun(ctx, repo.ID, branchName, nfErr, logger)
		return res, nfErr
	} else if err != nil {
		return res, err
	}

	var cursor *model.Commit
	if mode == ModeIncremental {
		last, err := ing.store.LatestCommitForBranch(ctx, branch.ID)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			logger.Info("No stored commits for branch, importing full history")
		case err != nil:
			return res, err
		default:
			cursor = &last
			logger.Info("Incremental run from stored cursor", "cursor_sha", shortSHA(last.SHA))
			progress.Append(fmt.Sprintf("%s/%s: incremental from %s", repoFullName, branchName, shortSHA(last.SHA)))
		}
	}

	logID, err := ing.store.CreateImportLog(ctx, repo.ID, branchName)
	if err != nil {
		return res, err
	}

	progress.Append(fmt.Sprintf("%s/%s: run started (%s)", repoFullName, branchName, mode))

	runErr := ing.walk(ctx, owner, name, repo, branch, cursor, progress, logger, &res)
	if runErr != nil {
		msg := runErr.Error()
		if closeErr := ing.store.CloseImportLog(ctx, logID, model.ImportStatusFailed, res.Imported, &msg); closeErr != nil {
			logger.Error("Failed to close import log", "error", closeErr)
		}
		progress.Append(fmt.Sprintf("%s/%s: FAILED: %s", repoFullName, branchName, msg))
		return res, runErr
	}

	if err := ing.store.CloseImportLog(ctx, logID, model.ImportStatusSuccess, res.Imported, nil); err != nil {
		logger.Error("Failed to close import log", "error", err)
	}

	logger.Info("Run finished", "imported", res.Imported, "skipped", res.Skipped, "files", res.Files)
	progress.Append(fmt.Sprintf("%s/%s: done, %d imported, %d skipped, %d files",
		repoFullName, branchName, res.Imported, res.Skipped, res.Files))
	return res, nil
}

// walk iterates the remote listing newest-first, persisting commits until
// the listing is exhausted, the cursor is reached, or the cap is hit.
func (ing *Ingestor) walk(ctx context.Context, owner, name string, repo model.Repository, branch model.Branch,
	cursor *model.Commit, progress ProgressLog, logger *slog.Logger, res *Result) error {

	pager := ing.remote.BranchCommits(owner, name, branch.Name)
	processed := 0

	for {
		if err := ing.limiter.Wait(ctx); err != nil {
			return err
		}

		page, err := pager.NextPage(ctx)
		if err != nil {
			return &custom_errors.RemoteAPIError{Op: "list commits", Err: err}
		}
		if len(page) == 0 {
			return nil
		}

		for _, summary := range page {
			if err := ctx.Err(); err != nil {
				return err
			}

			if cursor != nil && summary.SHA == cursor.SHA {
				logger.Info("Last known commit reached", "sha", shortSHA(summary.SHA))
				progress.Append(fmt.Sprintf("%s/%s: last known commit reached (%s)",
					repo.FullName, branch.Name, shortSHA(summary.SHA)))
				return nil
			}

			if err := ing.limiter.Wait(ctx); err != nil {
				return err
			}

			imported, nfiles, err := ing.ingestCommit(ctx, owner, name, repo, branch, summary)
			if err != nil {
				if errors.Is(err, custom_errors.ErrStorageExhausted) || errors.Is(err, context.Canceled) {
					return err
				}
				var remoteErr *custom_errors.RemoteAPIError
				if errors.As(err, &remoteErr) {
					return err
				}
				// Transient write failure: this commit is abandoned, the
				// run continues with the next one.
				logger.Warn("Skipping commit after write failure", "sha", shortSHA(summary.SHA), "error", err)
				res.Skipped++
				continue
			}

			processed++
			if imported {
				res.Imported++
				res.Files += nfiles
				if res.Imported%50 == 0 {
					progress.Append(fmt.Sprintf("%s/%s: %d commits imported", repo.FullName, branch.Name, res.Imported))
				}
			} else {
				res.Skipped++
			}

			if processed%100 == 0 {
				progress.Append(fmt.Sprintf("%s/%s: processed %d commits (%d new, %d existing)",
					repo.FullName, branch.Name, processed, res.Imported, res.Skipped))
			}

			if ing.opts.MaxCommitsPerBranch > 0 && res.Imported >= ing.opts.MaxCommitsPerBranch {
				logger.Warn("Per-branch commit cap reached", "cap", ing.opts.MaxCommitsPerBranch)
				progress.Append(fmt.Sprintf("%s/%s: cap of %d commits reached",
					repo.FullName, branch.Name, ing.opts.MaxCommitsPerBranch))
				return nil
			}
		}
	}
}

// ingestCommit fetches one commit's detail and persists it. The commit row
// upsert reports whether a new row was created; only then are its file
// changes stored and module detection run.
func (ing *Ingestor) ingestCommit(ctx context.Context, owner, name string, repo model.Repository,
	branch model.Branch, summary model.Commit) (imported bool, nfiles int, err error) {

	detail, err := ing.remote.GetCommitDetail(ctx, owner, name, summary.SHA)
	if err != nil {
		return false, 0, &custom_errors.RemoteAPIError{Op: "get commit " + shortSHA(summary.SHA), Err: err}
	}

	c := detail.Commit
	c.RepoID = repo.ID
	c.BranchID = branch.ID

	commitID, inserted, err := ing.store.UpsertCommit(ctx, c)
	if err != nil {
		return false, 0, classifyWriteError(err)
	}
	if !inserted {
		// Existing SHA: only the branch reference moved.
		return false, 0, nil
	}

	files := detail.Files
	filenames := make([]string, len(files))
	for i := range files {
		files[i].Patch = truncatePatch(files[i].Patch, ing.opts.PatchMaxLen)
		filenames[i] = files[i].Filename
	}

	if err := ing.store.InsertFileChanges(ctx, commitID, files); err != nil {
		return false, 0, classifyWriteError(err)
	}

	for _, modName := range module.DetectAll(filenames) {
		if err := ing.store.InsertModule(ctx, repo.ID, modName, module.PathPrefix(modName)); err != nil {
			if exhausted := classifyWriteError(err); errors.Is(exhausted, custom_errors.ErrStorageExhausted) {
				return false, 0, exhausted
			}
			ing.logger.Warn("Failed to record detected module", "module", modName, "error", err)
		}
	}

	return true, len(files), nil
}

// recordFailedRun opens and immediately closes a failed import_log row so
// the audit trail records runs that never reached the remote API.
func (ing *Ingestor) recordFailedRun(ctx context.Context, repoID int64, branchName string, cause error, logger *slog.Logger) {
	logID, err := ing.store.CreateImportLog(ctx, repoID, branchName)
	if err != nil {
		logger.Error("Failed to open import log", "error", err)
		return
	}
	msg := cause.Error()
	if err := ing.store.CloseImportLog(ctx, logID, model.ImportStatusFailed, 0, &msg); err != nil {
		logger.Error("Failed to close import log", "error", err)
	}
}

func classifyWriteError(err error) error {
	if store.IsStorageExhausted(err) {
		return fmt.Errorf("%w: %v", custom_errors.ErrStorageExhausted, err)
	}
	return err
}

// truncatePatch caps patch text at maxLen bytes. The cut backs off to the
// previous rune boundary so a multi-byte rune straddling the cap is dropped
// whole; Postgres rejects TEXT that is not valid UTF-8.
func truncatePatch(patch *string, maxLen int) *string {
	if patch == nil || maxLen <= 0 || len(*patch) <= maxLen {
		return patch
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart((*patch)[cut]) {
		cut--
	}
	truncated := (*patch)[:cut]
	return &truncated
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
