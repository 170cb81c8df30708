// internal/database/sqlite_test.go
package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scm-graph-fetcher/internal/database"
	"scm-graph-fetcher/internal/database/dbtest"
	"scm-graph-fetcher/internal/model"
)

func TestSQLiteStore_RepositoryRoundTrip(t *testing.T) {
	store := dbtest.NewSQLiteStore(t)
	ctx := context.Background()
	seen := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

	repo := model.Repository{
		Name:          "api",
		Workspace:     "acme",
		MainBranch:    "main",
		MainBranchURL: "https://bitbucket.org/acme/api/branch/main",
		RepoURL:       "https://bitbucket.org/acme/api",
		SeenAt:        seen,
	}

	exists, err := store.RepositoryExists(ctx, repo.RepoURL)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.CreateRepository(ctx, repo))

	exists, err = store.RepositoryExists(ctx, repo.RepoURL)
	require.NoError(t, err)
	assert.True(t, exists)

	repos, err := store.ListRepositories(ctx)
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.True(t, seen.Equal(repos[0].SeenAt))
	repos[0].SeenAt = seen
	assert.Equal(t, repo, repos[0])
}

func TestSQLiteStore_NaturalKeysAreUnique(t *testing.T) {
	store := dbtest.NewSQLiteStore(t)
	ctx := context.Background()

	branch := model.Branch{Name: "main", Repo: "api", URL: "https://bitbucket.org/acme/api/branch/main", SeenAt: time.Now()}
	require.NoError(t, store.CreateBranch(ctx, branch))
	assert.Error(t, store.CreateBranch(ctx, branch), "unique index backs the existence check")

	link := model.BranchCommitLink{BranchName: "main", CommitHash: "abc"}
	require.NoError(t, store.CreateBranchCommitLink(ctx, link))
	assert.Error(t, store.CreateBranchCommitLink(ctx, link))
}

func TestSQLiteStore_BranchesByRepo(t *testing.T) {
	store := dbtest.NewSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, b := range []model.Branch{
		{Name: "main", Repo: "api", URL: "u1", SeenAt: now},
		{Name: "main", Repo: "web", URL: "u2", SeenAt: now},
		{Name: "feature", Repo: "api", URL: "u3", SeenAt: now},
	} {
		require.NoError(t, store.CreateBranch(ctx, b))
	}

	branches, err := store.ListBranchesByRepo(ctx, "api")

	require.NoError(t, err)
	require.Len(t, branches, 2)
	assert.Equal(t, "main", branches[0].Name, "listing order is insertion order")
	assert.Equal(t, "feature", branches[1].Name)
}

func TestSQLiteStore_CommitsByEmail(t *testing.T) {
	store := dbtest.NewSQLiteStore(t)
	ctx := context.Background()
	older := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	newer := older.Add(36 * time.Hour)

	for _, c := range []model.Commit{
		{Hash: "a1", Date: older, Author: "Jane", Email: "jane@example.com", DiffLink: "d1", RepoURL: "r"},
		{Hash: "b2", Date: newer, Author: "Jane", Email: "jane@example.com", DiffLink: "d2", RepoURL: "r"},
		{Hash: "c3", Date: newer, Author: "Bob", Email: "bob@example.com", DiffLink: "d3", RepoURL: "r"},
	} {
		require.NoError(t, store.CreateCommit(ctx, c))
	}

	commits, err := store.ListCommitsByEmail(ctx, "jane@example.com")

	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, "b2", commits[0].Hash, "newest first")
	assert.True(t, newer.Equal(commits[0].Date))
	assert.Equal(t, "a1", commits[1].Hash)
}

func TestSQLiteStore_LinksAndCounts(t *testing.T) {
	store := dbtest.NewSQLiteStore(t)
	ctx := context.Background()

	rb := model.RepositoryBranchLink{RepoName: "api", BranchName: "main"}
	exists, err := store.RepositoryBranchLinkExists(ctx, rb)
	require.NoError(t, err)
	assert.False(t, exists)
	require.NoError(t, store.CreateRepositoryBranchLink(ctx, rb))
	exists, err = store.RepositoryBranchLinkExists(ctx, rb)
	require.NoError(t, err)
	assert.True(t, exists)

	bc := model.BranchCommitLink{BranchName: "main", CommitHash: "abc"}
	require.NoError(t, store.CreateBranchCommitLink(ctx, bc))
	exists, err = store.BranchCommitLinkExists(ctx, bc)
	require.NoError(t, err)
	assert.True(t, exists)

	counts, err := store.CountRows(ctx)
	require.NoError(t, err)
	assert.Equal(t, database.TableCounts{RepositoryBranchLinks: 1, BranchCommitLinks: 1}, counts)
}

func TestSQLiteStore_InTxRollsBackOnError(t *testing.T) {
	store := dbtest.NewSQLiteStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.InTx(ctx, func(q database.Querier) error {
		require.NoError(t, q.CreateCommit(ctx, model.Commit{Hash: "a", Date: time.Now(), DiffLink: "d"}))
		return boom
	})

	assert.ErrorIs(t, err, boom)
	counts, err := store.CountRows(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Commits)
}

func TestMigrate_IsRepeatable(t *testing.T) {
	path := t.TempDir() + "/database.db"
	require.NoError(t, database.Migrate("sqlite://"+path))
	require.NoError(t, database.Migrate("sqlite://"+path))
}

func TestBackendFor(t *testing.T) {
	b, err := database.BackendFor("postgres://u:p@localhost/db")
	require.NoError(t, err)
	assert.Equal(t, database.BackendPostgres, b)

	b, err = database.BackendFor("sqlite:///tmp/database.db")
	require.NoError(t, err)
	assert.Equal(t, database.BackendSQLite, b)

	_, err = database.BackendFor("mysql://localhost/db")
	assert.Error(t, err)
}
