// internal/store/store.go

// Package store is the persistence layer over PostgreSQL. Conflicts are
// resolved with single-statement upserts, never read-modify-write across a
// whole run, so a crash mid-run leaves partially-imported but individually
// valid rows.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Lucky43620/OdooDevLogs/internal/model"
)

// Store wraps a pgx connection pool with typed queries for every entity.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store over the given pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// IsStorageExhausted reports whether err is the out-of-disk condition
// (SQLSTATE 53100, or the OS-level message surfaced through the driver).
func IsStorageExhausted(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "53100" {
		return true
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "no space left on device")
}

// UpsertRepository inserts a repository, refreshing its mutable metadata
// when the full name already exists.
func (s *Store) UpsertRepository(ctx context.Context, repo *model.Repository) (model.Repository, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO repositories (full_name, description, default_branch, html_url, clone_url, pushed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (full_name) DO UPDATE SET
			description = EXCLUDED.description,
			default_branch = EXCLUDED.default_branch,
			pushed_at = EXCLUDED.pushed_at,
			updated_at = EXCLUDED.updated_at
		RETURNING id, full_name, description, default_branch, html_url, clone_url, pushed_at, created_at, updated_at`,
		repo.FullName, repo.Description, repo.DefaultBranch, repo.HTMLURL, repo.CloneURL,
		repo.PushedAt, repo.CreatedAt, repo.UpdatedAt)
	return scanRepository(row)
}

// UpsertBranch inserts a branch, refreshing the head SHA and default flag
// when (repo, name) already exists.
func (s *Store) UpsertBranch(ctx context.Context, branch model.Branch) (model.Branch, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO branches (repo_id, name, is_default, last_commit_sha)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (repo_id, name) DO UPDATE SET
			last_commit_sha = EXCLUDED.last_commit_sha,
			is_default = EXCLUDED.is_default
		RETURNING id, repo_id, name, is_default, last_commit_sha`,
		branch.RepoID, branch.Name, branch.IsDefault, branch.LastCommitSHA)

	var b model.Branch
	err := row.Scan(&b.ID, &b.RepoID, &b.Name, &b.IsDefault, &b.LastCommitSHA)
	return b, err
}

// GetRepositoryByFullName resolves a locally registered repository.
func (s *Store) GetRepositoryByFullName(ctx context.Context, fullName string) (model.Repository, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, full_name, description, default_branch, html_url, clone_url, pushed_at, created_at, updated_at
		FROM repositories WHERE full_name = $1`, fullName)
	return scanRepository(row)
}

// GetBranchByName resolves a branch of a registered repository.
func (s *Store) GetBranchByName(ctx context.Context, repoID int64, name string) (model.Branch, error) {
	var b model.Branch
	err := s.pool.QueryRow(ctx, `
		SELECT id, repo_id, name, is_default, last_commit_sha
		FROM branches WHERE repo_id = $1 AND name = $2`, repoID, name).
		Scan(&b.ID, &b.RepoID, &b.Name, &b.IsDefault, &b.LastCommitSHA)
	return b, err
}

// LatestCommitForBranch returns the branch's commit with the newest
// committed date, i.e. the incremental cursor. pgx.ErrNoRows when the
// branch has no stored commits yet.
func (s *Store) LatestCommitForBranch(ctx context.Context, branchID int64) (model.Commit, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+commitColumns+`
		FROM commits WHERE branch_id = $1
		ORDER BY committed_date DESC
		LIMIT 1`, branchID)
	return scanCommit(row)
}

// UpsertCommit inserts a commit row. When the SHA already exists, only the
// branch reference is moved; message, author and stats of an immutable
// commit are never overwritten. The returned flag reports whether the row
// is new (xmax = 0 only holds for freshly inserted tuples).
func (s *Store) UpsertCommit(ctx context.Context, c model.Commit) (int64, bool, error) {
	var (
		id       int64
		inserted bool
	)
	err := s.pool.QueryRow(ctx, `
		INSERT INTO commits (
			repo_id, branch_id, sha, html_url, message,
			author_name, author_email, committer_name, committer_email,
			authored_date, committed_date,
			comment_count, additions, deletions, total_changes,
			parent_count, is_merge
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (sha) DO UPDATE SET branch_id = EXCLUDED.branch_id
		RETURNING id, (xmax = 0)`,
		c.RepoID, c.BranchID, c.SHA, c.HTMLURL, c.Message,
		c.AuthorName, c.AuthorEmail, c.CommitterName, c.CommitterEmail,
		c.AuthoredDate, c.CommittedDate,
		c.CommentCount, c.Additions, c.Deletions, c.TotalChanges,
		c.ParentCount, c.IsMerge).
		Scan(&id, &inserted)
	return id, inserted, err
}

// InsertFileChanges writes a commit's changed files in one transaction.
// Full duplicates on (commit_id, filename) are suppressed, not merged. On
// any failure the whole batch rolls back and the error is returned to the
// caller, which decides whether the run continues.
func (s *Store) InsertFileChanges(ctx context.Context, commitID int64, files []model.FileChange) error {
	if len(files) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // Rollback is a no-op if the transaction is already committed.

	batch := &pgx.Batch{}
	for _, f := range files {
		batch.Queue(`
			INSERT INTO file_changes (
				commit_id, filename, status, additions, deletions, changes, patch,
				previous_filename, blob_url, raw_url, contents_url
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (commit_id, filename) DO NOTHING`,
			commitID, f.Filename, f.Status, f.Additions, f.Deletions, f.Changes, f.Patch,
			f.PreviousFilename, f.BlobURL, f.RawURL, f.ContentsURL)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// InsertModule records a detected module; first writer wins, later
// detections of the same (repo, name) are no-ops.
func (s *Store) InsertModule(ctx context.Context, repoID int64, name, pathPrefix string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO modules (repo_id, name, path_prefix)
		VALUES ($1, $2, $3)
		ON CONFLICT (repo_id, name) DO NOTHING`,
		repoID, name, pathPrefix)
	return err
}

// ListChangedFilenames returns the distinct changed-file paths stored for a
// repository, for module backfills over already-ingested history.
func (s *Store) ListChangedFilenames(ctx context.Context, repoID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT fc.filename
		FROM file_changes fc
		JOIN commits c ON c.id = fc.commit_id
		WHERE c.repo_id = $1
		ORDER BY fc.filename`, repoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var filenames []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		filenames = append(filenames, f)
	}
	return filenames, rows.Err()
}

// CreateImportLog opens the audit row for one ingestion attempt.
func (s *Store) CreateImportLog(ctx context.Context, repoID int64, branchName string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO import_log (repo_id, branch_name, status)
		VALUES ($1, $2, 'running')
		RETURNING id`, repoID, branchName).Scan(&id)
	return id, err
}

// CloseImportLog closes a running audit row exactly once; closed rows are
// immutable.
func (s *Store) CloseImportLog(ctx context.Context, id int64, status string, totalCommits int, errorMessage *string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE import_log
		SET status = $2, total_commits_imported = $3, ended_at = NOW(), error_message = $4
		WHERE id = $1 AND status = 'running'`,
		id, status, totalCommits, errorMessage)
	return err
}

// ListImportLogs returns the most recent ingestion attempts, newest first.
func (s *Store) ListImportLogs(ctx context.Context, limit int) ([]model.ImportLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, repo_id, branch_name, status, started_at, ended_at, total_commits_imported, error_message
		FROM import_log
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []model.ImportLog
	for rows.Next() {
		var l model.ImportLog
		if err := rows.Scan(&l.ID, &l.RepoID, &l.BranchName, &l.Status, &l.StartedAt,
			&l.EndedAt, &l.TotalCommitsImported, &l.ErrorMessage); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

const commitColumns = `id, repo_id, branch_id, sha, html_url, message,
	author_name, author_email, committer_name, committer_email,
	authored_date, committed_date,
	comment_count, additions, deletions, total_changes, parent_count, is_merge`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommit(row rowScanner) (model.Commit, error) {
	var c model.Commit
	err := row.Scan(&c.ID, &c.RepoID, &c.BranchID, &c.SHA, &c.HTMLURL, &c.Message,
		&c.AuthorName, &c.AuthorEmail, &c.CommitterName, &c.CommitterEmail,
		&c.AuthoredDate, &c.CommittedDate,
		&c.CommentCount, &c.Additions, &c.Deletions, &c.TotalChanges, &c.ParentCount, &c.IsMerge)
	return c, err
}

func scanRepository(row rowScanner) (model.Repository, error) {
	var r model.Repository
	err := row.Scan(&r.ID, &r.FullName, &r.Description, &r.DefaultBranch, &r.HTMLURL,
		&r.CloneURL, &r.PushedAt, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}
