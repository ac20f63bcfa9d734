//go:build integration

// cmd/service/integration_test.go
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/Lucky43620/OdooDevLogs/internal/github"
	"github.com/Lucky43620/OdooDevLogs/internal/ingest"
	"github.com/Lucky43620/OdooDevLogs/internal/store"
)

func setupTestDatabase(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()

	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(context.Background()))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	m, err := migrate.New("file://../../migrations", connStr)
	require.NoError(t, err)
	require.NoError(t, m.Up())

	dbpool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(dbpool.Close)

	return dbpool
}

// newMockGitHub serves a two-commit repository with one branch.
func newMockGitHub(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/test-owner/test-repo", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{
			"full_name": "test-owner/test-repo",
			"description": "fixture",
			"default_branch": "main",
			"html_url": "https://example.com/test-owner/test-repo"
		}`)
	})
	mux.HandleFunc("/api/v3/repos/test-owner/test-repo/branches", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `[{"name": "main", "commit": {"sha": "def456"}}]`)
	})
	mux.HandleFunc("/api/v3/repos/test-owner/test-repo/commits", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `[
			{
				"sha": "def456",
				"html_url": "https://example.com/c/def456",
				"commit": {
					"message": "fix: a bug",
					"author": {"name": "tester", "email": "t@t.com", "date": "2024-01-02T12:00:00Z"},
					"committer": {"name": "tester", "email": "t@t.com", "date": "2024-01-02T12:00:00Z"}
				},
				"parents": [{"sha": "abc123"}]
			},
			{
				"sha": "abc123",
				"html_url": "https://example.com/c/abc123",
				"commit": {
					"message": "feat: new feature",
					"author": {"name": "tester", "email": "t@t.com", "date": "2024-01-01T12:00:00Z"},
					"committer": {"name": "tester", "email": "t@t.com", "date": "2024-01-01T12:00:00Z"}
				},
				"parents": []
			}
		]`)
	})
	mux.HandleFunc("/api/v3/repos/test-owner/test-repo/commits/def456", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{
			"sha": "def456",
			"commit": {"message": "fix: a bug", "committer": {"name": "tester", "email": "t@t.com", "date": "2024-01-02T12:00:00Z"}},
			"stats": {"additions": 3, "deletions": 1, "total": 4},
			"files": [{"filename": "addons/sale/models/sale.py", "status": "modified", "additions": 3, "deletions": 1, "changes": 4, "patch": "@@ -1 +1 @@"}]
		}`)
	})
	mux.HandleFunc("/api/v3/repos/test-owner/test-repo/commits/abc123", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{
			"sha": "abc123",
			"commit": {"message": "feat: new feature", "committer": {"name": "tester", "email": "t@t.com", "date": "2024-01-01T12:00:00Z"}},
			"stats": {"additions": 10, "deletions": 0, "total": 10},
			"files": [{"filename": "odoo/addons/mail/models/mail.py", "status": "added", "additions": 10}]
		}`)
	})
	mux.HandleFunc("/api/v3/rate_limit", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"resources": {"core": {"limit": 5000, "remaining": 5000, "reset": 1714550000}}}`)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestIngestion_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	dbpool := setupTestDatabase(ctx, t)
	server := newMockGitHub(t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ghClient := github.NewClient("", logger)
	require.NoError(t, ghClient.WithBaseURL(server.URL))

	st := store.New(dbpool)
	limiter := ingest.NewLimiter(ghClient.RateLimitRemaining, 100, time.Minute, logger)
	ingestor := ingest.NewIngestor(st, ingest.RemoteClient{Client: ghClient}, limiter, logger,
		ingest.Options{PatchMaxLen: 50000})

	// Register the repository and its branches from the mock API.
	repo, err := ingestor.RegisterRepository(ctx, "test-owner/test-repo")
	require.NoError(t, err)
	assert.Equal(t, "test-owner/test-repo", repo.FullName)

	branch, err := st.GetBranchByName(ctx, repo.ID, "main")
	require.NoError(t, err)
	assert.True(t, branch.IsDefault)
	assert.Equal(t, "def456", branch.LastCommitSHA)

	// First run imports the full history.
	res, err := ingestor.Run(ctx, "test-owner/test-repo", "main", ingest.ModeFull, nil)
	require.NoError(t, err)
	assert.Equal(t, ingest.Result{Imported: 2, Skipped: 0, Files: 2}, res)

	commits, err := st.ListCommits(ctx, store.ListCommitsParams{BranchID: branch.ID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, "def456", commits[0].SHA, "listing is newest first")
	assert.Equal(t, "abc123", commits[1].SHA)
	assert.Equal(t, "fix: a bug", commits[0].Message)
	assert.Equal(t, 3, commits[0].Additions)

	files, err := st.ListFileChanges(ctx, commits[0].ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "addons/sale/models/sale.py", files[0].Filename)

	// Both module path layouts were detected during ingestion.
	modules, err := st.ListModules(ctx)
	require.NoError(t, err)
	names := make([]string, len(modules))
	for i, m := range modules {
		names[i] = m.Name
	}
	assert.ElementsMatch(t, []string{"sale", "mail"}, names)

	// The audit trail records the run as successful.
	logs, err := st.ListImportLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "success", logs[0].Status)
	assert.Equal(t, 2, logs[0].TotalCommitsImported)
	assert.NotNil(t, logs[0].EndedAt)

	// A second incremental run stops at the stored cursor without importing.
	res, err = ingestor.Run(ctx, "test-owner/test-repo", "main", ingest.ModeIncremental, nil)
	require.NoError(t, err)
	assert.Equal(t, ingest.Result{}, res)

	logs, err = st.ListImportLogs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}
