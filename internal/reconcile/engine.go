// internal/reconcile/engine.go

// Package reconcile writes fetched records into the store exactly once per
// natural key.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"scm-graph-fetcher/internal/database"
	"scm-graph-fetcher/internal/metrics"
	"scm-graph-fetcher/internal/model"
)

// Outcome reports which rows a single reconcile call inserted.
type Outcome struct {
	EntityInserted bool
	LinkInserted   bool
}

// Tally counts inserted and skipped rows per table.
type Tally struct {
	Inserted database.TableCounts `json:"inserted"`
	Skipped  database.TableCounts `json:"skipped"`
}

// Add merges other into t.
func (t *Tally) Add(other Tally) {
	addCounts(&t.Inserted, other.Inserted)
	addCounts(&t.Skipped, other.Skipped)
}

func addCounts(dst *database.TableCounts, src database.TableCounts) {
	dst.Repositories += src.Repositories
	dst.Branches += src.Branches
	dst.Commits += src.Commits
	dst.RepositoryBranchLinks += src.RepositoryBranchLinks
	dst.BranchCommitLinks += src.BranchCommitLinks
}

func (t *Tally) count(table string, inserted bool) {
	counts := &t.Skipped
	if inserted {
		counts = &t.Inserted
	}
	switch table {
	case database.RepositoriesTable:
		counts.Repositories++
	case database.BranchesTable:
		counts.Branches++
	case database.CommitsTable:
		counts.Commits++
	case database.RepositoryBranchLinksTable:
		counts.RepositoryBranchLinks++
	case database.BranchCommitLinksTable:
		counts.BranchCommitLinks++
	}
}

// Engine reconciles records against a Store. Entity and association checks
// are independent: an association is inserted when missing even if its entity
// already existed. Existing rows are never updated.
type Engine struct {
	store   database.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewEngine creates an Engine. m may be nil.
func NewEngine(store database.Store, logger *slog.Logger, m *metrics.Metrics) *Engine {
	return &Engine{store: store, logger: logger, metrics: m}
}

// Repository inserts repo unless a repository with the same URL exists.
func (e *Engine) Repository(ctx context.Context, repo model.Repository, tally *Tally) (Outcome, error) {
	var out Outcome
	err := e.store.InTx(ctx, func(q database.Querier) error {
		inserted, err := ensure(ctx,
			func() (bool, error) { return q.RepositoryExists(ctx, repo.RepoURL) },
			func() error { return q.CreateRepository(ctx, repo) },
		)
		out.EntityInserted = inserted
		return err
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("reconcile repository %s: %w", repo.RepoURL, err)
	}

	e.record(tally, database.RepositoriesTable, out.EntityInserted, "repo", repo.Name)
	return out, nil
}

// Branch inserts the branch and its repository link, each unless present.
func (e *Engine) Branch(ctx context.Context, rec model.BranchRecord, tally *Tally) (Outcome, error) {
	var out Outcome
	err := e.store.InTx(ctx, func(q database.Querier) error {
		var err error
		out.EntityInserted, err = ensure(ctx,
			func() (bool, error) { return q.BranchExists(ctx, rec.Branch.URL) },
			func() error { return q.CreateBranch(ctx, rec.Branch) },
		)
		if err != nil {
			return err
		}
		out.LinkInserted, err = ensure(ctx,
			func() (bool, error) { return q.RepositoryBranchLinkExists(ctx, rec.Link) },
			func() error { return q.CreateRepositoryBranchLink(ctx, rec.Link) },
		)
		return err
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("reconcile branch %s: %w", rec.Branch.URL, err)
	}

	e.record(tally, database.BranchesTable, out.EntityInserted, "branch", rec.Branch.URL)
	e.record(tally, database.RepositoryBranchLinksTable, out.LinkInserted, "repo", rec.Link.RepoName, "branch", rec.Link.BranchName)
	return out, nil
}

// Commit inserts the commit and its branch link, each unless present.
func (e *Engine) Commit(ctx context.Context, rec model.CommitRecord, tally *Tally) (Outcome, error) {
	var out Outcome
	err := e.store.InTx(ctx, func(q database.Querier) error {
		var err error
		out.EntityInserted, err = ensure(ctx,
			func() (bool, error) { return q.CommitExists(ctx, rec.Commit.DiffLink) },
			func() error { return q.CreateCommit(ctx, rec.Commit) },
		)
		if err != nil {
			return err
		}
		out.LinkInserted, err = ensure(ctx,
			func() (bool, error) { return q.BranchCommitLinkExists(ctx, rec.Link) },
			func() error { return q.CreateBranchCommitLink(ctx, rec.Link) },
		)
		return err
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("reconcile commit %s: %w", rec.Commit.DiffLink, err)
	}

	e.record(tally, database.CommitsTable, out.EntityInserted, "commit", rec.Commit.Hash)
	e.record(tally, database.BranchCommitLinksTable, out.LinkInserted, "branch", rec.Link.BranchName, "commit", rec.Link.CommitHash)
	return out, nil
}

func (e *Engine) record(tally *Tally, table string, inserted bool, attrs ...any) {
	if tally != nil {
		tally.count(table, inserted)
	}
	e.metrics.Row(table, inserted)

	if inserted {
		e.logger.Debug("Inserted row", append([]any{"table", table}, attrs...)...)
	} else {
		e.logger.Debug("Row already present", append([]any{"table", table}, attrs...)...)
	}
}

// ensure runs create when exists reports false. It returns whether a row was created.
func ensure(ctx context.Context, exists func() (bool, error), create func() error) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	found, err := exists()
	if err != nil {
		return false, err
	}
	if found {
		return false, nil
	}
	if err := create(); err != nil {
		return false, err
	}
	return true, nil
}
