// internal/database/database.go
package database

import (
	"context"
	"fmt"
	"strings"

	"scm-graph-fetcher/internal/model"
)

// Querier is the parameterized existence-check / insert / select contract the
// ingestion pipeline and the read API depend on. Implemented by PostgreSQL and
// SQLite backends, and by a transaction of either.
type Querier interface {
	// Repositories
	RepositoryExists(ctx context.Context, repoURL string) (bool, error)
	CreateRepository(ctx context.Context, repo model.Repository) error
	ListRepositories(ctx context.Context) ([]model.Repository, error)

	// Branches
	BranchExists(ctx context.Context, url string) (bool, error)
	CreateBranch(ctx context.Context, branch model.Branch) error
	ListBranchesByRepo(ctx context.Context, repoName string) ([]model.Branch, error)

	// Commits
	CommitExists(ctx context.Context, diffLink string) (bool, error)
	CreateCommit(ctx context.Context, commit model.Commit) error
	ListCommitsByEmail(ctx context.Context, email string) ([]model.Commit, error)

	// Links
	RepositoryBranchLinkExists(ctx context.Context, link model.RepositoryBranchLink) (bool, error)
	CreateRepositoryBranchLink(ctx context.Context, link model.RepositoryBranchLink) error
	BranchCommitLinkExists(ctx context.Context, link model.BranchCommitLink) (bool, error)
	CreateBranchCommitLink(ctx context.Context, link model.BranchCommitLink) error

	CountRows(ctx context.Context) (TableCounts, error)
}

// Store is a Querier bound to a connection, able to run a function inside a
// single transaction.
type Store interface {
	Querier
	InTx(ctx context.Context, fn func(q Querier) error) error
	Ping(ctx context.Context) error
	Close() error
}

// TableCounts holds the row count of every table.
type TableCounts struct {
	Repositories          int64 `json:"repositories"`
	Branches              int64 `json:"branches"`
	Commits               int64 `json:"commits"`
	RepositoryBranchLinks int64 `json:"repository_branch_links"`
	BranchCommitLinks     int64 `json:"branch_commit_links"`
}

// Table names.
const (
	RepositoriesTable          = "repositories"
	BranchesTable              = "branches"
	CommitsTable               = "commits"
	RepositoryBranchLinksTable = "link_repo_branches"
	BranchCommitLinksTable     = "link_branch_commits"
)

// Backend is the storage engine selected by a database URL.
type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendSQLite   Backend = "sqlite"
)

// BackendFor picks the backend from the URL scheme.
func BackendFor(dbURL string) (Backend, error) {
	switch {
	case strings.HasPrefix(dbURL, "postgres://"), strings.HasPrefix(dbURL, "postgresql://"):
		return BackendPostgres, nil
	case strings.HasPrefix(dbURL, "sqlite://"):
		return BackendSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database url scheme: %q", schemeOf(dbURL))
	}
}

// Open connects to the store named by dbURL. The schema must already be
// migrated (see Migrate).
func Open(ctx context.Context, dbURL string) (Store, error) {
	backend, err := BackendFor(dbURL)
	if err != nil {
		return nil, err
	}
	switch backend {
	case BackendPostgres:
		return OpenPostgres(ctx, dbURL)
	default:
		return OpenSQLite(strings.TrimPrefix(dbURL, "sqlite://"))
	}
}

func schemeOf(dbURL string) string {
	scheme, _, found := strings.Cut(dbURL, "://")
	if !found {
		return ""
	}
	return scheme
}
