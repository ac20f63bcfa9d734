// internal/store/reads.go
package store

import (
	"context"
	"fmt"

	"github.com/Lucky43620/OdooDevLogs/internal/model"
)

// ListRepositories returns every tracked repository, ordered by full name.
func (s *Store) ListRepositories(ctx context.Context) ([]model.Repository, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, full_name, description, default_branch, html_url, clone_url, pushed_at, created_at, updated_at
		FROM repositories
		ORDER BY full_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []model.Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

// ListBranches returns a repository's branches, default branch first.
func (s *Store) ListBranches(ctx context.Context, repoID int64) ([]model.Branch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, repo_id, name, is_default, last_commit_sha
		FROM branches
		WHERE repo_id = $1
		ORDER BY is_default DESC, name`, repoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var branches []model.Branch
	for rows.Next() {
		var b model.Branch
		if err := rows.Scan(&b.ID, &b.RepoID, &b.Name, &b.IsDefault, &b.LastCommitSHA); err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

// ListCommitsParams filters and paginates a branch's commit listing.
type ListCommitsParams struct {
	BranchID int64
	Limit    int
	Offset   int
	Author   string // substring match on author name, case-insensitive
	Search   string // substring match on commit message, case-insensitive
}

// ListCommits returns a branch's commits newest-first with optional
// author/message filters.
func (s *Store) ListCommits(ctx context.Context, p ListCommitsParams) ([]model.Commit, error) {
	query := `SELECT ` + commitColumns + ` FROM commits WHERE branch_id = $1`
	args := []any{p.BranchID}

	if p.Author != "" {
		args = append(args, "%"+p.Author+"%")
		query += fmt.Sprintf(" AND author_name ILIKE $%d", len(args))
	}
	if p.Search != "" {
		args = append(args, "%"+p.Search+"%")
		query += fmt.Sprintf(" AND message ILIKE $%d", len(args))
	}

	args = append(args, p.Limit, p.Offset)
	query += fmt.Sprintf(" ORDER BY committed_date DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commits []model.Commit
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}
	return commits, rows.Err()
}

// GetCommitByID returns one stored commit.
func (s *Store) GetCommitByID(ctx context.Context, id int64) (model.Commit, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+commitColumns+` FROM commits WHERE id = $1`, id)
	return scanCommit(row)
}

// ListFileChanges returns a commit's changed files ordered by filename.
func (s *Store) ListFileChanges(ctx context.Context, commitID int64) ([]model.FileChange, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, commit_id, filename, status, additions, deletions, changes, patch,
		       previous_filename, blob_url, raw_url, contents_url
		FROM file_changes
		WHERE commit_id = $1
		ORDER BY filename`, commitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []model.FileChange
	for rows.Next() {
		var f model.FileChange
		if err := rows.Scan(&f.ID, &f.CommitID, &f.Filename, &f.Status, &f.Additions,
			&f.Deletions, &f.Changes, &f.Patch, &f.PreviousFilename,
			&f.BlobURL, &f.RawURL, &f.ContentsURL); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// UniqueCommits returns commits present on branchID whose SHA does not
// appear on otherBranchID, newest first.
func (s *Store) UniqueCommits(ctx context.Context, branchID, otherBranchID int64, limit int) ([]model.Commit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+commitColumns+`
		FROM commits
		WHERE branch_id = $1
		  AND sha NOT IN (SELECT sha FROM commits WHERE branch_id = $2)
		ORDER BY committed_date DESC
		LIMIT $3`, branchID, otherBranchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commits []model.Commit
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}
	return commits, rows.Err()
}

// BranchStats aggregates one branch's commit totals.
func (s *Store) BranchStats(ctx context.Context, branchID int64) (model.BranchStats, error) {
	var st model.BranchStats
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(additions), 0),
		       COALESCE(SUM(deletions), 0),
		       COUNT(DISTINCT author_name)
		FROM commits
		WHERE branch_id = $1`, branchID).
		Scan(&st.TotalCommits, &st.TotalAdditions, &st.TotalDeletions, &st.UniqueAuthors)
	return st, err
}

// SummaryStats returns the store-wide rollup.
func (s *Store) SummaryStats(ctx context.Context) (model.SummaryStats, error) {
	var st model.SummaryStats
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM repositories),
			(SELECT COUNT(*) FROM branches),
			(SELECT COUNT(*) FROM commits),
			(SELECT COUNT(*) FROM file_changes),
			(SELECT COUNT(DISTINCT author_name) FROM commits),
			(SELECT COALESCE(SUM(additions), 0) FROM commits),
			(SELECT COALESCE(SUM(deletions), 0) FROM commits)`).
		Scan(&st.TotalRepositories, &st.TotalBranches, &st.TotalCommits, &st.TotalFileChanges,
			&st.UniqueAuthors, &st.TotalAdditions, &st.TotalDeletions)
	return st, err
}

// TopContributors returns the author leaderboard by commit count.
func (s *Store) TopContributors(ctx context.Context, limit int) ([]model.ContributorStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT author_name,
		       COUNT(*),
		       COALESCE(SUM(additions), 0),
		       COALESCE(SUM(deletions), 0)
		FROM commits
		WHERE author_name IS NOT NULL
		GROUP BY author_name
		ORDER BY COUNT(*) DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []model.ContributorStats
	for rows.Next() {
		var c model.ContributorStats
		if err := rows.Scan(&c.Author, &c.Commits, &c.Additions, &c.Deletions); err != nil {
			return nil, err
		}
		stats = append(stats, c)
	}
	return stats, rows.Err()
}

// ListModules returns every detected module with its repository.
func (s *Store) ListModules(ctx context.Context) ([]model.ModuleInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.name, m.path_prefix, r.full_name
		FROM modules m
		JOIN repositories r ON r.id = m.repo_id
		ORDER BY m.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var modules []model.ModuleInfo
	for rows.Next() {
		var m model.ModuleInfo
		if err := rows.Scan(&m.Name, &m.PathPrefix, &m.Repository); err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

// Timeline groups a branch's recent commits by day.
func (s *Store) Timeline(ctx context.Context, branchID int64, days int) ([]model.TimelinePoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DATE(committed_date),
		       COUNT(*),
		       COALESCE(SUM(additions), 0),
		       COALESCE(SUM(deletions), 0),
		       COUNT(DISTINCT author_name)
		FROM commits
		WHERE branch_id = $1
		  AND committed_date >= NOW() - ($2 || ' days')::interval
		GROUP BY DATE(committed_date)
		ORDER BY DATE(committed_date) DESC`, branchID, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []model.TimelinePoint
	for rows.Next() {
		var p model.TimelinePoint
		if err := rows.Scan(&p.Date, &p.CommitCount, &p.TotalAdditions, &p.TotalDeletions, &p.AuthorCount); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// ModuleStats aggregates file changes per detected module on one branch,
// attributing a file change to a module when the filename falls under the
// module's path prefix.
func (s *Store) ModuleStats(ctx context.Context, branchName string) ([]model.ModuleStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.name,
		       COUNT(DISTINCT fc.commit_id),
		       COALESCE(SUM(fc.additions), 0),
		       COALESCE(SUM(fc.deletions), 0),
		       COUNT(DISTINCT c.author_name),
		       MAX(c.committed_date)
		FROM modules m
		JOIN file_changes fc ON fc.filename LIKE m.path_prefix || '%'
		JOIN commits c ON c.id = fc.commit_id AND c.repo_id = m.repo_id
		JOIN branches b ON b.id = c.branch_id
		WHERE b.name = $1
		GROUP BY m.name
		HAVING COUNT(DISTINCT fc.commit_id) > 0
		ORDER BY COUNT(DISTINCT fc.commit_id) DESC
		LIMIT 50`, branchName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []model.ModuleStats
	for rows.Next() {
		var m model.ModuleStats
		if err := rows.Scan(&m.Module, &m.Commits, &m.Additions, &m.Deletions, &m.Contributors, &m.LastModified); err != nil {
			return nil, err
		}
		stats = append(stats, m)
	}
	return stats, rows.Err()
}
