// internal/ingest/ingest_test.go
package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	custom_errors "github.com/Lucky43620/OdooDevLogs/internal/errors"
	"github.com/Lucky43620/OdooDevLogs/internal/github"
	"github.com/Lucky43620/OdooDevLogs/internal/model"
)

// MockStore is a mock of the Store interface.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetRepositoryByFullName(ctx context.Context, fullName string) (model.Repository, error) {
	args := m.Called(ctx, fullName)
	return args.Get(0).(model.Repository), args.Error(1)
}
func (m *MockStore) GetBranchByName(ctx context.Context, repoID int64, name string) (model.Branch, error) {
	args := m.Called(ctx, repoID, name)
	return args.Get(0).(model.Branch), args.Error(1)
}
func (m *MockStore) UpsertRepository(ctx context.Context, repo *model.Repository) (model.Repository, error) {
	args := m.Called(ctx, repo)
	return args.Get(0).(model.Repository), args.Error(1)
}
func (m *MockStore) UpsertBranch(ctx context.Context, branch model.Branch) (model.Branch, error) {
	args := m.Called(ctx, branch)
	return args.Get(0).(model.Branch), args.Error(1)
}
func (m *MockStore) LatestCommitForBranch(ctx context.Context, branchID int64) (model.Commit, error) {
	args := m.Called(ctx, branchID)
	return args.Get(0).(model.Commit), args.Error(1)
}
func (m *MockStore) UpsertCommit(ctx context.Context, c model.Commit) (int64, bool, error) {
	args := m.Called(ctx, c)
	return args.Get(0).(int64), args.Bool(1), args.Error(2)
}
func (m *MockStore) InsertFileChanges(ctx context.Context, commitID int64, files []model.FileChange) error {
	args := m.Called(ctx, commitID, files)
	return args.Error(0)
}
func (m *MockStore) InsertModule(ctx context.Context, repoID int64, name, pathPrefix string) error {
	args := m.Called(ctx, repoID, name, pathPrefix)
	return args.Error(0)
}
func (m *MockStore) ListChangedFilenames(ctx context.Context, repoID int64) ([]string, error) {
	args := m.Called(ctx, repoID)
	return args.Get(0).([]string), args.Error(1)
}
func (m *MockStore) CreateImportLog(ctx context.Context, repoID int64, branchName string) (int64, error) {
	args := m.Called(ctx, repoID, branchName)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockStore) CloseImportLog(ctx context.Context, id int64, status string, totalCommits int, errorMessage *string) error {
	args := m.Called(ctx, id, status, totalCommits, errorMessage)
	return args.Error(0)
}

// MockRemote is a mock of the Remote interface.
type MockRemote struct {
	mock.Mock
}

func (m *MockRemote) GetRepository(ctx context.Context, owner, name string) (*model.Repository, error) {
	args := m.Called(ctx, owner, name)
	return args.Get(0).(*model.Repository), args.Error(1)
}
func (m *MockRemote) ListBranches(ctx context.Context, owner, name string) ([]github.RemoteBranch, error) {
	args := m.Called(ctx, owner, name)
	return args.Get(0).([]github.RemoteBranch), args.Error(1)
}
func (m *MockRemote) BranchCommits(owner, name, branch string) CommitSource {
	args := m.Called(owner, name, branch)
	return args.Get(0).(CommitSource)
}
func (m *MockRemote) GetCommitDetail(ctx context.Context, owner, name, sha string) (*github.CommitDetail, error) {
	args := m.Called(ctx, owner, name, sha)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*github.CommitDetail), args.Error(1)
}
// fakePager replays fixed pages of commits.
type fakePager struct {
	pages [][]model.Commit
	next  int
}

func (p *fakePager) NextPage(context.Context) ([]model.Commit, error) {
	if p.next >= len(p.pages) {
		return nil, nil
	}
	page := p.pages[p.next]
	p.next++
	return page, nil
}

func newTestIngestor(st Store, remote Remote, opts Options) *Ingestor {
	limiter := NewLimiter(func(context.Context) (int, error) { return 5000, nil }, 100, time.Minute, testLogger())
	return NewIngestor(st, remote, limiter, testLogger(), opts)
}

func mkCommit(sha string, daysAgo int) model.Commit {
	ts := time.Now().Add(-time.Duration(daysAgo) * 24 * time.Hour)
	return model.Commit{SHA: sha, Message: "commit " + sha, CommittedDate: &ts}
}

func mkDetail(sha string, files ...model.FileChange) *github.CommitDetail {
	return &github.CommitDetail{
		Commit: model.Commit{SHA: sha, Message: "commit " + sha, Additions: 1, Deletions: 1, TotalChanges: 2},
		Files:  files,
	}
}

const (
	testRepoID   = int64(1)
	testBranchID = int64(2)
	testLogID    = int64(7)
)

func expectResolution(st *MockStore) {
	st.On("GetRepositoryByFullName", mock.Anything, "odoo/odoo").
		Return(model.Repository{ID: testRepoID, FullName: "odoo/odoo"}, nil)
	st.On("GetBranchByName", mock.Anything, testRepoID, "17.0").
		Return(model.Branch{ID: testBranchID, RepoID: testRepoID, Name: "17.0"}, nil)
	st.On("CreateImportLog", mock.Anything, testRepoID, "17.0").Return(testLogID, nil)
}

func TestIngestor_Run_IncrementalStopsAtCursor(t *testing.T) {
	ctx := context.Background()
	st := new(MockStore)
	remote := new(MockRemote)

	expectResolution(st)
	st.On("LatestCommitForBranch", mock.Anything, testBranchID).Return(mkCommit("bbb", 1), nil)

	remote.On("BranchCommits", "odoo", "odoo", "17.0").
		Return(&fakePager{pages: [][]model.Commit{{mkCommit("ccc", 0), mkCommit("bbb", 1), mkCommit("aaa", 2)}}})
	remote.On("GetCommitDetail", mock.Anything, "odoo", "odoo", "ccc").Return(mkDetail("ccc"), nil).Once()

	st.On("UpsertCommit", mock.Anything, mock.Anything).Return(int64(11), true, nil).Once()
	st.On("InsertFileChanges", mock.Anything, int64(11), mock.Anything).Return(nil).Once()
	st.On("CloseImportLog", mock.Anything, testLogID, model.ImportStatusSuccess, 1, (*string)(nil)).Return(nil).Once()

	ing := newTestIngestor(st, remote, Options{PatchMaxLen: 50000})
	res, err := ing.Run(ctx, "odoo/odoo", "17.0", ModeIncremental, nil)

	require.NoError(t, err)
	assert.Equal(t, Result{Imported: 1, Skipped: 0, Files: 0}, res)
	remote.AssertNotCalled(t, "GetCommitDetail", mock.Anything, "odoo", "odoo", "bbb")
	remote.AssertNotCalled(t, "GetCommitDetail", mock.Anything, "odoo", "odoo", "aaa")
	st.AssertExpectations(t)
	remote.AssertExpectations(t)
}

func TestIngestor_Run_IncrementalCursorIsNewest(t *testing.T) {
	ctx := context.Background()
	st := new(MockStore)
	remote := new(MockRemote)

	expectResolution(st)
	st.On("LatestCommitForBranch", mock.Anything, testBranchID).Return(mkCommit("ccc", 0), nil)

	remote.On("BranchCommits", "odoo", "odoo", "17.0").
		Return(&fakePager{pages: [][]model.Commit{{mkCommit("ccc", 0), mkCommit("bbb", 1)}}})

	st.On("CloseImportLog", mock.Anything, testLogID, model.ImportStatusSuccess, 0, (*string)(nil)).Return(nil).Once()

	ing := newTestIngestor(st, remote, Options{PatchMaxLen: 50000})
	res, err := ing.Run(ctx, "odoo/odoo", "17.0", ModeIncremental, nil)

	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	remote.AssertNotCalled(t, "GetCommitDetail", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	st.AssertNotCalled(t, "UpsertCommit", mock.Anything, mock.Anything)
	st.AssertExpectations(t)
}

func TestIngestor_Run_FullRerunSkipsExistingCommits(t *testing.T) {
	ctx := context.Background()
	st := new(MockStore)
	remote := new(MockRemote)

	expectResolution(st)
	remote.On("BranchCommits", "odoo", "odoo", "17.0").
		Return(&fakePager{pages: [][]model.Commit{{mkCommit("ccc", 0), mkCommit("bbb", 1), mkCommit("aaa", 2)}}})
	for _, sha := range []string{"ccc", "bbb", "aaa"} {
		remote.On("GetCommitDetail", mock.Anything, "odoo", "odoo", sha).Return(mkDetail(sha), nil).Once()
	}

	// Every SHA already stored: the upsert only moves the branch reference.
	st.On("UpsertCommit", mock.Anything, mock.Anything).Return(int64(11), false, nil).Times(3)
	st.On("CloseImportLog", mock.Anything, testLogID, model.ImportStatusSuccess, 0, (*string)(nil)).Return(nil).Once()

	ing := newTestIngestor(st, remote, Options{PatchMaxLen: 50000})
	res, err := ing.Run(ctx, "odoo/odoo", "17.0", ModeFull, nil)

	require.NoError(t, err)
	assert.Equal(t, Result{Imported: 0, Skipped: 3, Files: 0}, res)
	st.AssertNotCalled(t, "InsertFileChanges", mock.Anything, mock.Anything, mock.Anything)
	st.AssertExpectations(t)
}

func TestIngestor_Run_PerBranchCap(t *testing.T) {
	ctx := context.Background()
	st := new(MockStore)
	remote := new(MockRemote)

	expectResolution(st)
	remote.On("BranchCommits", "odoo", "odoo", "17.0").
		Return(&fakePager{pages: [][]model.Commit{{mkCommit("ccc", 0), mkCommit("bbb", 1), mkCommit("aaa", 2)}}})
	remote.On("GetCommitDetail", mock.Anything, "odoo", "odoo", mock.Anything).
		Return(mkDetail("any"), nil)

	st.On("UpsertCommit", mock.Anything, mock.Anything).Return(int64(11), true, nil)
	st.On("InsertFileChanges", mock.Anything, int64(11), mock.Anything).Return(nil)
	st.On("CloseImportLog", mock.Anything, testLogID, model.ImportStatusSuccess, 2, (*string)(nil)).Return(nil).Once()

	ing := newTestIngestor(st, remote, Options{MaxCommitsPerBranch: 2, PatchMaxLen: 50000})
	res, err := ing.Run(ctx, "odoo/odoo", "17.0", ModeFull, nil)

	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	st.AssertNumberOfCalls(t, "UpsertCommit", 2)
	st.AssertExpectations(t)
}

func TestIngestor_Run_PatchTruncation(t *testing.T) {
	ctx := context.Background()
	st := new(MockStore)
	remote := new(MockRemote)

	longPatch := strings.Repeat("x", 30)
	detail := mkDetail("ccc", model.FileChange{Filename: "addons/sale/models/sale.py", Status: "modified", Patch: &longPatch})

	expectResolution(st)
	remote.On("BranchCommits", "odoo", "odoo", "17.0").
		Return(&fakePager{pages: [][]model.Commit{{mkCommit("ccc", 0)}}})
	remote.On("GetCommitDetail", mock.Anything, "odoo", "odoo", "ccc").Return(detail, nil).Once()

	st.On("UpsertCommit", mock.Anything, mock.Anything).Return(int64(11), true, nil).Once()
	st.On("InsertFileChanges", mock.Anything, int64(11), mock.MatchedBy(func(files []model.FileChange) bool {
		return len(files) == 1 && files[0].Patch != nil && len(*files[0].Patch) == 10
	})).Return(nil).Once()
	st.On("InsertModule", mock.Anything, testRepoID, "sale", "addons/sale/").Return(nil).Once()
	st.On("CloseImportLog", mock.Anything, testLogID, model.ImportStatusSuccess, 1, (*string)(nil)).Return(nil).Once()

	ing := newTestIngestor(st, remote, Options{PatchMaxLen: 10})
	res, err := ing.Run(ctx, "odoo/odoo", "17.0", ModeFull, nil)

	require.NoError(t, err)
	assert.Equal(t, Result{Imported: 1, Skipped: 0, Files: 1}, res)
	st.AssertExpectations(t)
}

func TestTruncatePatch(t *testing.T) {
	strPtr := func(s string) *string { return &s }

	tests := []struct {
		name   string
		patch  *string
		maxLen int
		want   *string
	}{
		{"nil patch", nil, 10, nil},
		{"under cap", strPtr("short"), 10, strPtr("short")},
		{"exactly cap", strPtr("0123456789"), 10, strPtr("0123456789")},
		{"ascii over cap", strPtr("0123456789abc"), 10, strPtr("0123456789")},
		{"zero cap disables truncation", strPtr("0123456789abc"), 0, strPtr("0123456789abc")},
		{"multibyte rune at boundary dropped whole", strPtr("xxxxxxxxx" + "é" + "tail"), 10, strPtr("xxxxxxxxx")},
		{"multibyte rune before boundary kept", strPtr("xxxxxxxx" + "é" + "tail"), 10, strPtr("xxxxxxxx" + "é")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncatePatch(tt.patch, tt.maxLen)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
			assert.True(t, utf8.ValidString(*got))
		})
	}
}

func TestIngestor_Run_BranchNotFoundIsLoggedAsFailed(t *testing.T) {
	ctx := context.Background()
	st := new(MockStore)
	remote := new(MockRemote)

	st.On("GetRepositoryByFullName", mock.Anything, "odoo/odoo").
		Return(model.Repository{ID: testRepoID, FullName: "odoo/odoo"}, nil)
	st.On("GetBranchByName", mock.Anything, testRepoID, "ghost").
		Return(model.Branch{}, pgx.ErrNoRows)
	st.On("CreateImportLog", mock.Anything, testRepoID, "ghost").Return(testLogID, nil).Once()
	st.On("CloseImportLog", mock.Anything, testLogID, model.ImportStatusFailed, 0, mock.Anything).Return(nil).Once()

	ing := newTestIngestor(st, remote, Options{PatchMaxLen: 50000})
	_, err := ing.Run(ctx, "odoo/odoo", "ghost", ModeIncremental, nil)

	var nfErr *custom_errors.NotFoundError
	require.ErrorAs(t, err, &nfErr)
	assert.Equal(t, "branch", nfErr.Kind)
	remote.AssertNotCalled(t, "BranchCommits", mock.Anything, mock.Anything, mock.Anything)
	st.AssertExpectations(t)
}

func TestIngestor_RunJob_StorageExhaustionAbortsRemainingBranches(t *testing.T) {
	ctx := context.Background()
	st := new(MockStore)
	remote := new(MockRemote)

	st.On("GetRepositoryByFullName", mock.Anything, "odoo/odoo").
		Return(model.Repository{ID: testRepoID, FullName: "odoo/odoo"}, nil)
	for i, branch := range []string{"16.0", "17.0"} {
		st.On("GetBranchByName", mock.Anything, testRepoID, branch).
			Return(model.Branch{ID: int64(10 + i), RepoID: testRepoID, Name: branch}, nil)
		st.On("CreateImportLog", mock.Anything, testRepoID, branch).Return(int64(100 + i), nil)
		remote.On("BranchCommits", "odoo", "odoo", branch).
			Return(&fakePager{pages: [][]model.Commit{{mkCommit("sha-"+branch, 0)}}})
		remote.On("GetCommitDetail", mock.Anything, "odoo", "odoo", "sha-"+branch).
			Return(mkDetail("sha-"+branch), nil)
	}

	// Branch 1 imports cleanly.
	st.On("UpsertCommit", mock.Anything, mock.MatchedBy(func(c model.Commit) bool { return c.BranchID == 10 })).
		Return(int64(11), true, nil).Once()
	st.On("InsertFileChanges", mock.Anything, int64(11), mock.Anything).Return(nil).Once()
	st.On("CloseImportLog", mock.Anything, int64(100), model.ImportStatusSuccess, 1, (*string)(nil)).Return(nil).Once()

	// Branch 2 hits a full disk.
	diskFull := &pgconn.PgError{Code: "53100", Message: "could not extend file: No space left on device"}
	st.On("UpsertCommit", mock.Anything, mock.MatchedBy(func(c model.Commit) bool { return c.BranchID == 11 })).
		Return(int64(0), false, diskFull).Once()
	st.On("CloseImportLog", mock.Anything, int64(101), model.ImportStatusFailed, 0, mock.Anything).Return(nil).Once()

	ing := newTestIngestor(st, remote, Options{PatchMaxLen: 50000})
	err := ing.RunJob(ctx, JobSpec{
		Mode:         ModeFull,
		Repositories: []string{"odoo/odoo"},
		Branches:     []string{"16.0", "17.0", "18.0"},
	}, nil)

	require.ErrorIs(t, err, custom_errors.ErrStorageExhausted)
	// Branch 3 was never attempted: no lookup and no import log row.
	st.AssertNotCalled(t, "GetBranchByName", mock.Anything, testRepoID, "18.0")
	st.AssertNotCalled(t, "CreateImportLog", mock.Anything, testRepoID, "18.0")
	st.AssertExpectations(t)
}

func TestIngestor_RunJob_OrdinaryFailureContinuesWithNextPair(t *testing.T) {
	ctx := context.Background()
	st := new(MockStore)
	remote := new(MockRemote)

	st.On("GetRepositoryByFullName", mock.Anything, "odoo/odoo").
		Return(model.Repository{ID: testRepoID, FullName: "odoo/odoo"}, nil)
	for i, branch := range []string{"16.0", "17.0"} {
		st.On("GetBranchByName", mock.Anything, testRepoID, branch).
			Return(model.Branch{ID: int64(10 + i), RepoID: testRepoID, Name: branch}, nil)
		st.On("CreateImportLog", mock.Anything, testRepoID, branch).Return(int64(100 + i), nil)
	}

	// Branch 1 fails at the remote listing.
	remote.On("BranchCommits", "odoo", "odoo", "16.0").Return(&errPager{err: errors.New("boom: 502")})
	st.On("CloseImportLog", mock.Anything, int64(100), model.ImportStatusFailed, 0, mock.Anything).Return(nil).Once()

	// Branch 2 finishes with nothing to do.
	remote.On("BranchCommits", "odoo", "odoo", "17.0").Return(&fakePager{})
	st.On("CloseImportLog", mock.Anything, int64(101), model.ImportStatusSuccess, 0, (*string)(nil)).Return(nil).Once()

	ing := newTestIngestor(st, remote, Options{PatchMaxLen: 50000})
	err := ing.RunJob(ctx, JobSpec{
		Mode:         ModeFull,
		Repositories: []string{"odoo/odoo"},
		Branches:     []string{"16.0", "17.0"},
	}, nil)

	require.NoError(t, err, "a per-branch remote failure is scoped to its pair")
	st.AssertExpectations(t)
}

type errPager struct{ err error }

func (p *errPager) NextPage(context.Context) ([]model.Commit, error) { return nil, p.err }
