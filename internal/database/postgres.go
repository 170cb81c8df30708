// internal/database/postgres.go
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"scm-graph-fetcher/internal/model"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries runs the store contract against a pool or a transaction.
type Queries struct {
	db DBTX
}

// New wraps a pool or a transaction.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// PostgresStore is the pgx-backed Store.
type PostgresStore struct {
	*Queries
	pool *pgxpool.Pool
}

// OpenPostgres connects a pool and verifies it with a ping.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgresStore(pool), nil
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{Queries: New(pool), pool: pool}
}

// InTx runs fn inside one transaction, committing only if fn succeeds.
func (s *PostgresStore) InTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // Rollback is a no-op if the transaction is already committed.

	if err := fn(New(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (q *Queries) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var found bool
	if err := q.db.QueryRow(ctx, query, args...).Scan(&found); err != nil {
		return false, err
	}
	return found, nil
}

func (q *Queries) RepositoryExists(ctx context.Context, repoURL string) (bool, error) {
	return q.exists(ctx, `SELECT EXISTS(SELECT 1 FROM repositories WHERE repo_url = $1)`, repoURL)
}

func (q *Queries) CreateRepository(ctx context.Context, repo model.Repository) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO repositories (name, workspace, main_branch, main_branch_url, repo_url, seen_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		repo.Name, repo.Workspace, repo.MainBranch, repo.MainBranchURL, repo.RepoURL, repo.SeenAt,
	)
	return err
}

func (q *Queries) ListRepositories(ctx context.Context) ([]model.Repository, error) {
	rows, err := q.db.Query(ctx,
		`SELECT name, workspace, main_branch, main_branch_url, repo_url, seen_at
		 FROM repositories ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Repository, error) {
		var r model.Repository
		err := row.Scan(&r.Name, &r.Workspace, &r.MainBranch, &r.MainBranchURL, &r.RepoURL, &r.SeenAt)
		return r, err
	})
}

func (q *Queries) BranchExists(ctx context.Context, url string) (bool, error) {
	return q.exists(ctx, `SELECT EXISTS(SELECT 1 FROM branches WHERE url = $1)`, url)
}

func (q *Queries) CreateBranch(ctx context.Context, branch model.Branch) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO branches (name, repo, url, seen_at) VALUES ($1, $2, $3, $4)`,
		branch.Name, branch.Repo, branch.URL, branch.SeenAt,
	)
	return err
}

func (q *Queries) ListBranchesByRepo(ctx context.Context, repoName string) ([]model.Branch, error) {
	rows, err := q.db.Query(ctx,
		`SELECT name, repo, url, seen_at FROM branches WHERE repo = $1 ORDER BY id`, repoName)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Branch, error) {
		var b model.Branch
		err := row.Scan(&b.Name, &b.Repo, &b.URL, &b.SeenAt)
		return b, err
	})
}

func (q *Queries) CommitExists(ctx context.Context, diffLink string) (bool, error) {
	return q.exists(ctx, `SELECT EXISTS(SELECT 1 FROM commits WHERE diff_link = $1)`, diffLink)
}

func (q *Queries) CreateCommit(ctx context.Context, c model.Commit) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO commits (hash, message, summary, date, author, email, diff_link, repo_url)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.Hash, c.Message, c.Summary, c.Date, c.Author, c.Email, c.DiffLink, c.RepoURL,
	)
	return err
}

func (q *Queries) ListCommitsByEmail(ctx context.Context, email string) ([]model.Commit, error) {
	rows, err := q.db.Query(ctx,
		`SELECT hash, message, summary, date, author, email, diff_link, repo_url
		 FROM commits WHERE email = $1 ORDER BY date DESC, id`, email)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Commit, error) {
		var c model.Commit
		err := row.Scan(&c.Hash, &c.Message, &c.Summary, &c.Date, &c.Author, &c.Email, &c.DiffLink, &c.RepoURL)
		return c, err
	})
}

func (q *Queries) RepositoryBranchLinkExists(ctx context.Context, link model.RepositoryBranchLink) (bool, error) {
	return q.exists(ctx,
		`SELECT EXISTS(SELECT 1 FROM link_repo_branches WHERE repo_name = $1 AND branch_name = $2)`,
		link.RepoName, link.BranchName)
}

func (q *Queries) CreateRepositoryBranchLink(ctx context.Context, link model.RepositoryBranchLink) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO link_repo_branches (repo_name, branch_name) VALUES ($1, $2)`,
		link.RepoName, link.BranchName)
	return err
}

func (q *Queries) BranchCommitLinkExists(ctx context.Context, link model.BranchCommitLink) (bool, error) {
	return q.exists(ctx,
		`SELECT EXISTS(SELECT 1 FROM link_branch_commits WHERE branch_name = $1 AND commit_hash = $2)`,
		link.BranchName, link.CommitHash)
}

func (q *Queries) CreateBranchCommitLink(ctx context.Context, link model.BranchCommitLink) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO link_branch_commits (branch_name, commit_hash) VALUES ($1, $2)`,
		link.BranchName, link.CommitHash)
	return err
}

func (q *Queries) CountRows(ctx context.Context) (TableCounts, error) {
	var c TableCounts
	err := q.db.QueryRow(ctx, countRowsQuery).Scan(
		&c.Repositories, &c.Branches, &c.Commits, &c.RepositoryBranchLinks, &c.BranchCommitLinks,
	)
	return c, err
}

const countRowsQuery = `SELECT
	(SELECT COUNT(*) FROM repositories),
	(SELECT COUNT(*) FROM branches),
	(SELECT COUNT(*) FROM commits),
	(SELECT COUNT(*) FROM link_repo_branches),
	(SELECT COUNT(*) FROM link_branch_commits)`
