// internal/github/client.go
package github

import (
	"context"
	"log/slog"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	"github.com/Lucky43620/OdooDevLogs/internal/model"
)

const perPage = 100 // GitHub API maximum

// Client is a wrapper around the go-github client.
type Client struct {
	gh     *github.Client
	logger *slog.Logger
}

// NewClient creates and configures a new Client instance.
// The provided token is used to create an authenticated http.Client.
func NewClient(token string, logger *slog.Logger) *Client {
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)

	return &Client{
		gh:     github.NewClient(tc),
		logger: logger,
	}
}

// WithBaseURL points the client at a different API root, e.g. a GitHub
// Enterprise instance or a test server.
func (c *Client) WithBaseURL(baseURL string) error {
	gh, err := c.gh.WithEnterpriseURLs(baseURL, baseURL)
	if err != nil {
		return err
	}
	c.gh = gh
	return nil
}

// GetRepository fetches repository metadata and translates it to our internal model.
func (c *Client) GetRepository(ctx context.Context, owner, name string) (*model.Repository, error) {
	repo, _, err := c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, err
	}
	return toInternalRepository(repo), nil
}

// RemoteBranch is one branch head as reported by the hosting API.
type RemoteBranch struct {
	Name      string
	CommitSHA string
}

// ListBranches fetches every branch of a repository, following pagination.
func (c *Client) ListBranches(ctx context.Context, owner, name string) ([]RemoteBranch, error) {
	opts := &github.BranchListOptions{
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	var branches []RemoteBranch
	for {
		page, resp, err := c.gh.Repositories.ListBranches(ctx, owner, name, opts)
		if err != nil {
			return nil, err
		}
		for _, b := range page {
			branches = append(branches, RemoteBranch{
				Name:      b.GetName(),
				CommitSHA: b.GetCommit().GetSHA(),
			})
		}
		if resp.NextPage == 0 {
			return branches, nil
		}
		opts.Page = resp.NextPage
	}
}

// CommitDetail is one commit with its aggregate stats and changed files.
type CommitDetail struct {
	Commit model.Commit
	Files  []model.FileChange
}

// CommitPager walks a branch's commit history newest-first, one API page at
// a time. Each call site gets an independent pager, so a restarted run
// begins again from the branch head.
type CommitPager struct {
	client *Client
	owner  string
	name   string
	branch string
	page   int
	done   bool
}

// BranchCommits returns a pager over the branch's commits, newest-first.
// The ordering is the hosting API's; it is not re-sorted locally.
func (c *Client) BranchCommits(owner, name, branch string) *CommitPager {
	return &CommitPager{client: c, owner: owner, name: name, branch: branch}
}

// NextPage fetches the next page of commits. It returns an empty slice once
// the listing is exhausted.
func (p *CommitPager) NextPage(ctx context.Context) ([]model.Commit, error) {
	if p.done {
		return nil, nil
	}

	opts := &github.CommitsListOptions{
		SHA:         p.branch,
		ListOptions: github.ListOptions{PerPage: perPage, Page: p.page},
	}
	p.client.logger.Debug("Fetching commits page",
		"owner", p.owner, "repo", p.name, "branch", p.branch, "page", p.page)

	commits, resp, err := p.client.gh.Repositories.ListCommits(ctx, p.owner, p.name, opts)
	if err != nil {
		return nil, err
	}

	out := make([]model.Commit, 0, len(commits))
	for _, commit := range commits {
		out = append(out, toInternalCommit(commit))
	}

	if resp.NextPage == 0 {
		p.done = true
	} else {
		p.page = resp.NextPage
	}
	return out, nil
}

// GetCommitDetail fetches one commit with its stats and full changed-file
// list, following file pagination for very large commits.
func (c *Client) GetCommitDetail(ctx context.Context, owner, name, sha string) (*CommitDetail, error) {
	opts := &github.ListOptions{PerPage: perPage}

	var detail *CommitDetail
	for {
		commit, resp, err := c.gh.Repositories.GetCommit(ctx, owner, name, sha, opts)
		if err != nil {
			return nil, err
		}
		if detail == nil {
			d := CommitDetail{Commit: toInternalCommit(commit)}
			d.Commit.Additions = commit.GetStats().GetAdditions()
			d.Commit.Deletions = commit.GetStats().GetDeletions()
			d.Commit.TotalChanges = commit.GetStats().GetTotal()
			detail = &d
		}
		for _, f := range commit.Files {
			detail.Files = append(detail.Files, toInternalFileChange(f))
		}
		if resp.NextPage == 0 {
			return detail, nil
		}
		opts.Page = resp.NextPage
	}
}

// RateLimitRemaining queries the remaining core API quota.
func (c *Client) RateLimitRemaining(ctx context.Context) (int, error) {
	limits, _, err := c.gh.RateLimit.Get(ctx)
	if err != nil {
		return 0, err
	}
	return limits.GetCore().Remaining, nil
}

// toInternalRepository translates a github.Repository object to our internal model.Repository.
func toInternalRepository(r *github.Repository) *model.Repository {
	repo := &model.Repository{
		FullName:      r.GetFullName(),
		Description:   r.Description,
		DefaultBranch: r.GetDefaultBranch(),
		HTMLURL:       r.GetHTMLURL(),
		CloneURL:      r.GetCloneURL(),
	}
	if t := r.GetPushedAt(); !t.IsZero() {
		repo.PushedAt = &t.Time
	}
	if t := r.GetCreatedAt(); !t.IsZero() {
		repo.CreatedAt = &t.Time
	}
	if t := r.GetUpdatedAt(); !t.IsZero() {
		repo.UpdatedAt = &t.Time
	}
	return repo
}

// toInternalCommit translates a github.RepositoryCommit object to our internal model.Commit.
func toInternalCommit(c *github.RepositoryCommit) model.Commit {
	commit := model.Commit{
		SHA:          c.GetSHA(),
		HTMLURL:      c.GetHTMLURL(),
		Message:      c.GetCommit().GetMessage(),
		CommentCount: c.GetCommit().GetCommentCount(),
		ParentCount:  len(c.Parents),
		IsMerge:      len(c.Parents) > 1,
	}
	if author := c.GetCommit().GetAuthor(); author != nil {
		commit.AuthorName = author.Name
		commit.AuthorEmail = author.Email
		if d := author.GetDate(); !d.IsZero() {
			commit.AuthoredDate = &d.Time
		}
	}
	if committer := c.GetCommit().GetCommitter(); committer != nil {
		commit.CommitterName = committer.Name
		commit.CommitterEmail = committer.Email
		if d := committer.GetDate(); !d.IsZero() {
			commit.CommittedDate = &d.Time
		}
	}
	return commit
}

// toInternalFileChange translates a github.CommitFile to our internal model.FileChange.
func toInternalFileChange(f *github.CommitFile) model.FileChange {
	return model.FileChange{
		Filename:         f.GetFilename(),
		Status:           f.GetStatus(),
		Additions:        f.GetAdditions(),
		Deletions:        f.GetDeletions(),
		Changes:          f.GetChanges(),
		Patch:            f.Patch,
		PreviousFilename: f.PreviousFilename,
		BlobURL:          f.BlobURL,
		RawURL:           f.RawURL,
		ContentsURL:      f.ContentsURL,
	}
}
