// internal/syncer/summary.go
package syncer

import (
	"log/slog"
	"time"

	"scm-graph-fetcher/internal/reconcile"
)

// Phase is a stage of an ingestion run.
type Phase string

const (
	PhaseRepositories Phase = "repositories"
	PhaseBranches     Phase = "branches"
	PhaseCommits      Phase = "commits"
	PhaseDone         Phase = "done"
)

// UnitResult is the outcome of one unit of work: one repository in the
// repository and branch phases, one branch in the commit phase.
type UnitResult struct {
	Phase      Phase           `json:"phase"`
	Repository string          `json:"repository"`
	Branch     string          `json:"branch,omitempty"`
	Tally      reconcile.Tally `json:"tally"`
	Err        error           `json:"-"`
}

// Summary describes a finished run. Phase is the last phase entered; it is
// PhaseDone only for runs that were not aborted.
type Summary struct {
	RunID      string          `json:"run_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Phase      Phase           `json:"phase"`
	Tally      reconcile.Tally `json:"tally"`
	Units      []UnitResult    `json:"-"`
	Failed     int             `json:"failed_units"`
}

func (s Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Errors returns the failures of the failed units.
func (s Summary) Errors() []error {
	var errs []error
	for _, u := range s.Units {
		if u.Err != nil {
			errs = append(errs, u.Err)
		}
	}
	return errs
}

// LogValue implements slog.LogValuer.
func (s *Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("phase", string(s.Phase)),
		slog.Duration("duration", s.Duration()),
		slog.Int("units", len(s.Units)),
		slog.Int("failed_units", s.Failed),
		slog.Group("inserted",
			slog.Int64("repositories", s.Tally.Inserted.Repositories),
			slog.Int64("branches", s.Tally.Inserted.Branches),
			slog.Int64("commits", s.Tally.Inserted.Commits),
			slog.Int64("repository_branch_links", s.Tally.Inserted.RepositoryBranchLinks),
			slog.Int64("branch_commit_links", s.Tally.Inserted.BranchCommitLinks),
		),
		slog.Group("skipped",
			slog.Int64("repositories", s.Tally.Skipped.Repositories),
			slog.Int64("branches", s.Tally.Skipped.Branches),
			slog.Int64("commits", s.Tally.Skipped.Commits),
			slog.Int64("repository_branch_links", s.Tally.Skipped.RepositoryBranchLinks),
			slog.Int64("branch_commit_links", s.Tally.Skipped.BranchCommitLinks),
		),
	)
}
