// internal/syncer/syncer.go
package syncer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"scm-graph-fetcher/internal/database"
	custom_errors "scm-graph-fetcher/internal/errors"
	"scm-graph-fetcher/internal/metrics"
	"scm-graph-fetcher/internal/model"
	"scm-graph-fetcher/internal/reconcile"
)

// ErrRunInProgress is returned by RunOnce while another run holds the syncer.
var ErrRunInProgress = errors.New("a sync run is already in progress")

// Source is a remote SCM provider.
type Source interface {
	Repositories(ctx context.Context) ([]model.Repository, error)
	Branches(ctx context.Context, repo model.Repository) iter.Seq2[model.BranchRecord, error]
	Commits(ctx context.Context, repo model.Repository, branch model.Branch) iter.Seq2[model.CommitRecord, error]
}

// Options tune a Syncer.
type Options struct {
	// MainBranchOnly synthesizes each repository's main branch instead of
	// listing its refs.
	MainBranchOnly bool
	// Interval between runs started by Start.
	Interval time.Duration
}

// Syncer orchestrates the fetching and storing of data.
type Syncer struct {
	source  Source
	store   database.Store
	engine  *reconcile.Engine
	logger  *slog.Logger
	metrics *metrics.Metrics
	opts    Options
	now     func() time.Time

	running sync.Mutex

	lastMu sync.RWMutex
	last   *Summary
}

// NewSyncer creates a new Syncer instance. m may be nil.
func NewSyncer(source Source, store database.Store, logger *slog.Logger, m *metrics.Metrics, opts Options) *Syncer {
	return &Syncer{
		source:  source,
		store:   store,
		engine:  reconcile.NewEngine(store, logger, m),
		logger:  logger,
		metrics: m,
		opts:    opts,
		now:     time.Now,
	}
}

// Start runs a sync immediately and then on every interval until ctx is done.
func (s *Syncer) Start(ctx context.Context) {
	s.logger.Info("Starting syncer", "interval", s.opts.Interval.String(), "main_branch_only", s.opts.MainBranchOnly)
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.runScheduled(ctx) // Initial sync

	for {
		select {
		case <-ticker.C:
			s.runScheduled(ctx)
		case <-ctx.Done():
			s.logger.Info("Syncer shutting down", "reason", ctx.Err())
			return
		}
	}
}

func (s *Syncer) runScheduled(ctx context.Context) {
	_, err := s.RunOnce(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrRunInProgress):
		s.logger.Warn("Skipping tick, previous run still in progress")
	case errors.Is(err, context.Canceled):
		s.logger.Info("Sync run interrupted")
	default:
		s.logger.Error("Sync run aborted", "error", err)
	}
}

// LastSummary returns the summary of the most recent finished run.
func (s *Syncer) LastSummary() (Summary, bool) {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if s.last == nil {
		return Summary{}, false
	}
	return *s.last, true
}

// RunOnce performs one full pass: repositories, then branches of every
// persisted repository, then commits of every persisted branch. Unit failures
// are recorded in the summary; the returned error is set only when the run
// was aborted.
func (s *Syncer) RunOnce(ctx context.Context) (Summary, error) {
	if !s.running.TryLock() {
		return Summary{}, ErrRunInProgress
	}
	defer s.running.Unlock()

	sum := &Summary{RunID: uuid.NewString(), StartedAt: s.now()}
	logger := s.logger.With("run_id", sum.RunID)
	logger.Info("Starting new sync cycle")

	err := s.run(ctx, logger, sum)

	sum.FinishedAt = s.now()
	s.metrics.RunFinished(sum.Duration().Seconds(), err != nil, float64(sum.FinishedAt.Unix()))
	if err != nil {
		logger.Error("Sync cycle aborted", "phase", sum.Phase, "error", err, "summary", sum)
	} else {
		logger.Info("Sync cycle finished", "summary", sum)
	}

	s.lastMu.Lock()
	s.last = sum
	s.lastMu.Unlock()

	return *sum, err
}

func (s *Syncer) run(ctx context.Context, logger *slog.Logger, sum *Summary) error {
	sum.Phase = PhaseRepositories
	if err := s.syncRepositories(ctx, logger, sum); err != nil {
		return err
	}

	repos, err := s.store.ListRepositories(ctx)
	if err != nil {
		return fmt.Errorf("list persisted repositories: %w", err)
	}
	model.SortRepositories(repos)

	sum.Phase = PhaseBranches
	for i, repo := range repos {
		if err := ctx.Err(); err != nil {
			return err
		}
		logger.Info("Syncing branches", "repo", repo.Name, "progress", fmt.Sprintf("%d/%d", i+1, len(repos)))

		unit := UnitResult{Phase: PhaseBranches, Repository: repo.Name}
		unit.Err = s.syncBranches(ctx, repo, &unit.Tally)
		if err := s.record(ctx, logger, sum, unit); err != nil {
			return err
		}
	}

	sum.Phase = PhaseCommits
	for i, repo := range repos {
		branches, err := s.store.ListBranchesByRepo(ctx, repo.Name)
		if err != nil {
			return fmt.Errorf("list persisted branches of %s: %w", repo.Name, err)
		}
		for j, branch := range branches {
			if err := ctx.Err(); err != nil {
				return err
			}
			logger.Info("Syncing commits",
				"repo", repo.Name, "branch", branch.Name,
				"progress", fmt.Sprintf("repo %d/%d, branch %d/%d", i+1, len(repos), j+1, len(branches)))

			unit := UnitResult{Phase: PhaseCommits, Repository: repo.Name, Branch: branch.Name}
			unit.Err = s.syncCommits(ctx, repo, branch, &unit.Tally)
			if err := s.record(ctx, logger, sum, unit); err != nil {
				return err
			}
		}
	}

	sum.Phase = PhaseDone
	return nil
}

// syncRepositories fetches every repository and reconciles each one. The
// fetch failing aborts the run; a single reconcile failing does not.
func (s *Syncer) syncRepositories(ctx context.Context, logger *slog.Logger, sum *Summary) error {
	repos, err := s.source.Repositories(ctx)
	if err != nil {
		return fmt.Errorf("fetch repositories: %w", err)
	}
	logger.Info("Found repositories", "count", len(repos))

	for _, repo := range repos {
		unit := UnitResult{Phase: PhaseRepositories, Repository: repo.Name}
		_, unit.Err = s.engine.Repository(ctx, repo, &unit.Tally)
		if err := s.record(ctx, logger, sum, unit); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) syncBranches(ctx context.Context, repo model.Repository, tally *reconcile.Tally) error {
	if s.opts.MainBranchOnly {
		rec, ok := model.MainBranchRecord(repo, s.now())
		if !ok {
			s.logger.Debug("Repository has no main branch", "repo", repo.Name)
			return nil
		}
		_, err := s.engine.Branch(ctx, rec, tally)
		return err
	}

	for rec, err := range s.source.Branches(ctx, repo) {
		if err != nil {
			return fmt.Errorf("fetch branches: %w", err)
		}
		if _, err := s.engine.Branch(ctx, rec, tally); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) syncCommits(ctx context.Context, repo model.Repository, branch model.Branch, tally *reconcile.Tally) error {
	for rec, err := range s.source.Commits(ctx, repo, branch) {
		if err != nil {
			return fmt.Errorf("fetch commits: %w", err)
		}
		if _, err := s.engine.Commit(ctx, rec, tally); err != nil {
			return err
		}
	}
	return nil
}

// record adds unit to the summary. A unit that failed because ctx ended
// aborts the run instead of counting as a failure.
func (s *Syncer) record(ctx context.Context, logger *slog.Logger, sum *Summary, unit UnitResult) error {
	if unit.Err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if unit.Err != nil {
		unit.Err = &custom_errors.UnitError{
			Phase:      string(unit.Phase),
			Repository: unit.Repository,
			Branch:     unit.Branch,
			Err:        unit.Err,
		}
		sum.Failed++
		s.metrics.UnitFailed(string(unit.Phase))
		logger.Error("Unit failed, continuing", "phase", unit.Phase, "repo", unit.Repository, "branch", unit.Branch, "error", unit.Err)
	}
	sum.Tally.Add(unit.Tally)
	sum.Units = append(sum.Units, unit)
	return nil
}
