// internal/model/models.go
package model

import "time"

// Repository is a tracked source repository (e.g. odoo/odoo).
type Repository struct {
	ID            int64      `json:"id"`
	FullName      string     `json:"full_name"`
	Description   *string    `json:"description"`
	DefaultBranch string     `json:"default_branch"`
	HTMLURL       string     `json:"html_url"`
	CloneURL      string     `json:"clone_url,omitempty"`
	PushedAt      *time.Time `json:"pushed_at,omitempty"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

// Branch is a branch of a tracked repository.
type Branch struct {
	ID            int64  `json:"id"`
	RepoID        int64  `json:"repo_id"`
	Name          string `json:"name"`
	IsDefault     bool   `json:"is_default"`
	LastCommitSHA string `json:"last_commit_sha"`
}

// Commit is one stored commit. The SHA is globally unique; a commit seen on
// two branches keeps a single row whose branch_id is the last writer's.
type Commit struct {
	ID             int64      `json:"id"`
	RepoID         int64      `json:"repo_id"`
	BranchID       int64      `json:"branch_id"`
	SHA            string     `json:"sha"`
	HTMLURL        string     `json:"html_url"`
	Message        string     `json:"message"`
	AuthorName     *string    `json:"author_name"`
	AuthorEmail    *string    `json:"author_email"`
	CommitterName  *string    `json:"committer_name,omitempty"`
	CommitterEmail *string    `json:"committer_email,omitempty"`
	AuthoredDate   *time.Time `json:"authored_date,omitempty"`
	CommittedDate  *time.Time `json:"committed_date"`
	CommentCount   int        `json:"comment_count,omitempty"`
	Additions      int        `json:"additions"`
	Deletions      int        `json:"deletions"`
	TotalChanges   int        `json:"total_changes"`
	ParentCount    int        `json:"parent_count"`
	IsMerge        bool       `json:"is_merge"`
}

// FileChange is one changed file of a commit, as reported by the remote API.
// Patch text is truncated to the configured cap before storage.
type FileChange struct {
	ID               int64   `json:"id"`
	CommitID         int64   `json:"commit_id"`
	Filename         string  `json:"filename"`
	Status           string  `json:"status"`
	Additions        int     `json:"additions"`
	Deletions        int     `json:"deletions"`
	Changes          int     `json:"changes"`
	Patch            *string `json:"patch,omitempty"`
	PreviousFilename *string `json:"previous_filename,omitempty"`
	BlobURL          *string `json:"blob_url,omitempty"`
	RawURL           *string `json:"raw_url,omitempty"`
	ContentsURL      *string `json:"contents_url,omitempty"`
}

// Module is a code module inferred from file paths during ingestion; it is
// derived data, never authoritative.
type Module struct {
	ID         int64  `json:"id"`
	RepoID     int64  `json:"repo_id"`
	Name       string `json:"name"`
	PathPrefix string `json:"path_prefix"`
}

// ModuleInfo is one row of the module listing, joined with its repository.
type ModuleInfo struct {
	Name       string `json:"name"`
	PathPrefix string `json:"path"`
	Repository string `json:"repo"`
}

// ImportLog statuses.
const (
	ImportStatusRunning = "running"
	ImportStatusSuccess = "success"
	ImportStatusFailed  = "failed"
)

// ImportLog is the audit row for one ingestion attempt on one
// (repository, branch) pair. Once closed it is immutable.
type ImportLog struct {
	ID                   int64      `json:"id"`
	RepoID               int64      `json:"repo_id"`
	BranchName           string     `json:"branch_name"`
	Status               string     `json:"status"`
	StartedAt            time.Time  `json:"started_at"`
	EndedAt              *time.Time `json:"ended_at"`
	TotalCommitsImported int        `json:"total_commits_imported"`
	ErrorMessage         *string    `json:"error_message"`
}

// BranchStats aggregates one branch for the compare endpoint.
type BranchStats struct {
	TotalCommits   int64 `json:"total_commits"`
	TotalAdditions int64 `json:"total_additions"`
	TotalDeletions int64 `json:"total_deletions"`
	UniqueAuthors  int64 `json:"unique_authors"`
}

// SummaryStats is the store-wide rollup.
type SummaryStats struct {
	TotalRepositories int64 `json:"total_repositories"`
	TotalBranches     int64 `json:"total_branches"`
	TotalCommits      int64 `json:"total_commits"`
	TotalFileChanges  int64 `json:"total_file_changes"`
	UniqueAuthors     int64 `json:"unique_authors"`
	TotalAdditions    int64 `json:"total_additions"`
	TotalDeletions    int64 `json:"total_deletions"`
}

// ContributorStats is one row of the author leaderboard.
type ContributorStats struct {
	Author    string `json:"author"`
	Commits   int64  `json:"commits"`
	Additions int64  `json:"additions"`
	Deletions int64  `json:"deletions"`
}

// TimelinePoint is one day of commit activity on a branch.
type TimelinePoint struct {
	Date           time.Time `json:"date"`
	CommitCount    int64     `json:"commit_count"`
	TotalAdditions int64     `json:"total_additions"`
	TotalDeletions int64     `json:"total_deletions"`
	AuthorCount    int64     `json:"author_count"`
}

// ModuleStats aggregates file changes attributed to one module on a branch.
type ModuleStats struct {
	Module       string     `json:"module"`
	Commits      int64      `json:"commits"`
	Additions    int64      `json:"additions"`
	Deletions    int64      `json:"deletions"`
	Contributors int64      `json:"contributors"`
	LastModified *time.Time `json:"last_modified"`
}
