// internal/database/sqlite.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"scm-graph-fetcher/internal/model"
)

// sqlTX is satisfied by both *sql.DB and *sql.Tx.
type sqlTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteQueries struct {
	db sqlTX
}

// SQLiteStore is the file-backed Store.
type SQLiteStore struct {
	*sqliteQueries
	db *sql.DB
}

// OpenSQLite opens the database file at path in WAL mode.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &SQLiteStore{sqliteQueries: &sqliteQueries{db: db}, db: db}, nil
}

// InTx runs fn inside one transaction, committing only if fn succeeds.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(&sqliteQueries{db: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Timestamps are stored as fixed-width UTC RFC 3339 text so that lexical
// order is chronological order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func (q *sqliteQueries) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var found bool
	if err := q.db.QueryRowContext(ctx, query, args...).Scan(&found); err != nil {
		return false, err
	}
	return found, nil
}

func (q *sqliteQueries) RepositoryExists(ctx context.Context, repoURL string) (bool, error) {
	return q.exists(ctx, `SELECT EXISTS(SELECT 1 FROM repositories WHERE repo_url = ?)`, repoURL)
}

func (q *sqliteQueries) CreateRepository(ctx context.Context, repo model.Repository) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO repositories (name, workspace, main_branch, main_branch_url, repo_url, seen_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		repo.Name, repo.Workspace, repo.MainBranch, repo.MainBranchURL, repo.RepoURL, formatTime(repo.SeenAt),
	)
	return err
}

func (q *sqliteQueries) ListRepositories(ctx context.Context) ([]model.Repository, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT name, workspace, main_branch, main_branch_url, repo_url, seen_at
		 FROM repositories ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []model.Repository
	for rows.Next() {
		var r model.Repository
		var seenAt string
		if err := rows.Scan(&r.Name, &r.Workspace, &r.MainBranch, &r.MainBranchURL, &r.RepoURL, &seenAt); err != nil {
			return nil, err
		}
		if r.SeenAt, err = parseTime(seenAt); err != nil {
			return nil, fmt.Errorf("repository %s seen_at: %w", r.RepoURL, err)
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

func (q *sqliteQueries) BranchExists(ctx context.Context, url string) (bool, error) {
	return q.exists(ctx, `SELECT EXISTS(SELECT 1 FROM branches WHERE url = ?)`, url)
}

func (q *sqliteQueries) CreateBranch(ctx context.Context, branch model.Branch) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO branches (name, repo, url, seen_at) VALUES (?, ?, ?, ?)`,
		branch.Name, branch.Repo, branch.URL, formatTime(branch.SeenAt),
	)
	return err
}

func (q *sqliteQueries) ListBranchesByRepo(ctx context.Context, repoName string) ([]model.Branch, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT name, repo, url, seen_at FROM branches WHERE repo = ? ORDER BY id`, repoName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var branches []model.Branch
	for rows.Next() {
		var b model.Branch
		var seenAt string
		if err := rows.Scan(&b.Name, &b.Repo, &b.URL, &seenAt); err != nil {
			return nil, err
		}
		if b.SeenAt, err = parseTime(seenAt); err != nil {
			return nil, fmt.Errorf("branch %s seen_at: %w", b.URL, err)
		}
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

func (q *sqliteQueries) CommitExists(ctx context.Context, diffLink string) (bool, error) {
	return q.exists(ctx, `SELECT EXISTS(SELECT 1 FROM commits WHERE diff_link = ?)`, diffLink)
}

func (q *sqliteQueries) CreateCommit(ctx context.Context, c model.Commit) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO commits (hash, message, summary, date, author, email, diff_link, repo_url)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Hash, c.Message, c.Summary, formatTime(c.Date), c.Author, c.Email, c.DiffLink, c.RepoURL,
	)
	return err
}

func (q *sqliteQueries) ListCommitsByEmail(ctx context.Context, email string) ([]model.Commit, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT hash, message, summary, date, author, email, diff_link, repo_url
		 FROM commits WHERE email = ? ORDER BY date DESC, id`, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commits []model.Commit
	for rows.Next() {
		var c model.Commit
		var date string
		if err := rows.Scan(&c.Hash, &c.Message, &c.Summary, &date, &c.Author, &c.Email, &c.DiffLink, &c.RepoURL); err != nil {
			return nil, err
		}
		if c.Date, err = parseTime(date); err != nil {
			return nil, fmt.Errorf("commit %s date: %w", c.DiffLink, err)
		}
		commits = append(commits, c)
	}
	return commits, rows.Err()
}

func (q *sqliteQueries) RepositoryBranchLinkExists(ctx context.Context, link model.RepositoryBranchLink) (bool, error) {
	return q.exists(ctx,
		`SELECT EXISTS(SELECT 1 FROM link_repo_branches WHERE repo_name = ? AND branch_name = ?)`,
		link.RepoName, link.BranchName)
}

func (q *sqliteQueries) CreateRepositoryBranchLink(ctx context.Context, link model.RepositoryBranchLink) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO link_repo_branches (repo_name, branch_name) VALUES (?, ?)`,
		link.RepoName, link.BranchName)
	return err
}

func (q *sqliteQueries) BranchCommitLinkExists(ctx context.Context, link model.BranchCommitLink) (bool, error) {
	return q.exists(ctx,
		`SELECT EXISTS(SELECT 1 FROM link_branch_commits WHERE branch_name = ? AND commit_hash = ?)`,
		link.BranchName, link.CommitHash)
}

func (q *sqliteQueries) CreateBranchCommitLink(ctx context.Context, link model.BranchCommitLink) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO link_branch_commits (branch_name, commit_hash) VALUES (?, ?)`,
		link.BranchName, link.CommitHash)
	return err
}

func (q *sqliteQueries) CountRows(ctx context.Context) (TableCounts, error) {
	var c TableCounts
	err := q.db.QueryRowContext(ctx, countRowsQuery).Scan(
		&c.Repositories, &c.Branches, &c.Commits, &c.RepositoryBranchLinks, &c.BranchCommitLinks,
	)
	return c, err
}
