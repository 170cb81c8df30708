// internal/syncer/syncer_test.go
package syncer

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scm-graph-fetcher/internal/database"
	"scm-graph-fetcher/internal/database/dbtest"
	custom_errors "scm-graph-fetcher/internal/errors"
	"scm-graph-fetcher/internal/model"
)

// fakeSource serves canned records keyed by repository and "repo/branch".
type fakeSource struct {
	repos      []model.Repository
	reposErr   error
	branches   map[string][]model.BranchRecord
	commits    map[string][]model.CommitRecord
	commitErrs map[string]error

	branchCalls int
	commitCalls []string
}

func (f *fakeSource) Repositories(ctx context.Context) ([]model.Repository, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.repos, f.reposErr
}

func (f *fakeSource) Branches(_ context.Context, repo model.Repository) iter.Seq2[model.BranchRecord, error] {
	f.branchCalls++
	return seqOf(f.branches[repo.Name], nil)
}

func (f *fakeSource) Commits(_ context.Context, repo model.Repository, branch model.Branch) iter.Seq2[model.CommitRecord, error] {
	key := repo.Name + "/" + branch.Name
	f.commitCalls = append(f.commitCalls, key)
	return seqOf(f.commits[key], f.commitErrs[key])
}

func seqOf[T any](items []T, err error) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
		if err != nil {
			var zero T
			yield(zero, err)
		}
	}
}

var seen = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func repo(name, mainBranch string) model.Repository {
	url := "https://bitbucket.org/acme/" + name
	return model.Repository{
		Name:          name,
		Workspace:     "acme",
		MainBranch:    mainBranch,
		MainBranchURL: url + "/branch/" + mainBranch,
		RepoURL:       url,
		SeenAt:        seen,
	}
}

func commit(repoName, branch, hash, email string) model.CommitRecord {
	return model.CommitRecord{
		Commit: model.Commit{
			Hash:     hash,
			Message:  "change " + hash,
			Summary:  "change " + hash,
			Date:     seen.Add(-time.Hour),
			Author:   "Dev",
			Email:    email,
			DiffLink: "https://bitbucket.org/acme/shared/commits/" + hash,
			RepoURL:  "https://bitbucket.org/acme/" + repoName,
		},
		Link: model.BranchCommitLink{BranchName: branch, CommitHash: hash},
	}
}

// twoRepoScenario has two repositories whose main branches share one commit.
func twoRepoScenario() *fakeSource {
	return &fakeSource{
		repos: []model.Repository{repo("web", "master"), repo("api", "main")},
		commits: map[string][]model.CommitRecord{
			"api/main":   {commit("api", "main", "c1", "a@x.io"), commit("api", "main", "c2", "b@x.io")},
			"web/master": {commit("web", "master", "c2", "b@x.io"), commit("web", "master", "c3", "a@x.io")},
		},
	}
}

func newTestSyncer(t *testing.T, source Source, opts Options) (*Syncer, database.Store) {
	t.Helper()
	store := dbtest.NewSQLiteStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewSyncer(source, store, logger, nil, opts)
	s.now = func() time.Time { return seen }
	return s, store
}

func TestSyncer_EndToEndScenario(t *testing.T) {
	ctx := context.Background()
	source := twoRepoScenario()
	s, store := newTestSyncer(t, source, Options{MainBranchOnly: true})

	sum, err := s.RunOnce(ctx)

	require.NoError(t, err)
	assert.Equal(t, PhaseDone, sum.Phase)
	assert.Zero(t, sum.Failed)
	assert.NotEmpty(t, sum.RunID)

	counts, err := store.CountRows(ctx)
	require.NoError(t, err)
	assert.Equal(t, database.TableCounts{
		Repositories:          2,
		Branches:              2,
		Commits:               3,
		RepositoryBranchLinks: 2,
		BranchCommitLinks:     4,
	}, counts)
	assert.Equal(t, counts, sum.Tally.Inserted)
	assert.Equal(t, database.TableCounts{Commits: 1}, sum.Tally.Skipped, "the shared commit is stored once")

	assert.Zero(t, source.branchCalls, "main-branch-only mode never lists refs")
	assert.Equal(t, []string{"api/main", "web/master"}, source.commitCalls, "repositories are walked in name order")
}

func TestSyncer_Idempotent(t *testing.T) {
	ctx := context.Background()
	s, store := newTestSyncer(t, twoRepoScenario(), Options{MainBranchOnly: true})

	_, err := s.RunOnce(ctx)
	require.NoError(t, err)
	first, err := store.CountRows(ctx)
	require.NoError(t, err)

	sum, err := s.RunOnce(ctx)
	require.NoError(t, err)
	second, err := store.CountRows(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, database.TableCounts{}, sum.Tally.Inserted)
}

func TestSyncer_ListsBranchesWhenNotMainOnly(t *testing.T) {
	ctx := context.Background()
	api := repo("api", "main")
	source := &fakeSource{
		repos: []model.Repository{api},
		branches: map[string][]model.BranchRecord{
			"api": {
				{Branch: model.Branch{Name: "main", Repo: "api", URL: api.MainBranchURL}, Link: model.RepositoryBranchLink{RepoName: "api", BranchName: "main"}},
				{Branch: model.Branch{Name: "feature", Repo: "api", URL: api.RepoURL + "/branch/feature"}, Link: model.RepositoryBranchLink{RepoName: "api", BranchName: "feature"}},
			},
		},
		commits: map[string][]model.CommitRecord{
			"api/main":    {commit("api", "main", "c1", "a@x.io")},
			"api/feature": {commit("api", "feature", "c1", "a@x.io"), commit("api", "feature", "c2", "a@x.io")},
		},
	}
	s, store := newTestSyncer(t, source, Options{MainBranchOnly: false})

	_, err := s.RunOnce(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, source.branchCalls)
	counts, err := store.CountRows(ctx)
	require.NoError(t, err)
	assert.Equal(t, database.TableCounts{
		Repositories:          1,
		Branches:              2,
		Commits:               2,
		RepositoryBranchLinks: 2,
		BranchCommitLinks:     3,
	}, counts)
}

func TestSyncer_RepositoryWithoutMainBranchYieldsNoBranches(t *testing.T) {
	ctx := context.Background()
	bare := repo("bare", "")
	bare.MainBranchURL = ""
	s, store := newTestSyncer(t, &fakeSource{repos: []model.Repository{bare}}, Options{MainBranchOnly: true})

	sum, err := s.RunOnce(ctx)

	require.NoError(t, err)
	assert.Zero(t, sum.Failed)
	counts, err := store.CountRows(ctx)
	require.NoError(t, err)
	assert.Equal(t, database.TableCounts{Repositories: 1}, counts)
}

func TestSyncer_UnitFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	source := twoRepoScenario()
	apiErr := &custom_errors.APIError{StatusCode: 500, Message: "boom"}
	source.commitErrs = map[string]error{"api/main": apiErr}
	s, store := newTestSyncer(t, source, Options{MainBranchOnly: true})

	sum, err := s.RunOnce(ctx)

	require.NoError(t, err, "unit failures do not abort the run")
	assert.Equal(t, PhaseDone, sum.Phase)
	assert.Equal(t, 1, sum.Failed)

	errs := sum.Errors()
	require.Len(t, errs, 1)
	var unitErr *custom_errors.UnitError
	require.ErrorAs(t, errs[0], &unitErr)
	assert.Equal(t, "commits", unitErr.Phase)
	assert.Equal(t, "api", unitErr.Repository)
	assert.Equal(t, "main", unitErr.Branch)
	assert.ErrorIs(t, errs[0], apiErr)

	counts, err := store.CountRows(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts.Commits, "records before the failure and other branches are kept")
}

func TestSyncer_RepositoryFetchFailureAborts(t *testing.T) {
	fetchErr := errors.New("dns failure")
	s, _ := newTestSyncer(t, &fakeSource{reposErr: fetchErr}, Options{MainBranchOnly: true})

	sum, err := s.RunOnce(context.Background())

	assert.ErrorIs(t, err, fetchErr)
	assert.Equal(t, PhaseRepositories, sum.Phase)

	last, ok := s.LastSummary()
	require.True(t, ok)
	assert.Equal(t, sum.RunID, last.RunID)
}

func TestSyncer_CancelledContextAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, _ := newTestSyncer(t, twoRepoScenario(), Options{MainBranchOnly: true})

	_, err := s.RunOnce(ctx)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestSyncer_RejectsOverlappingRuns(t *testing.T) {
	s, _ := newTestSyncer(t, twoRepoScenario(), Options{MainBranchOnly: true})
	s.running.Lock()
	defer s.running.Unlock()

	_, err := s.RunOnce(context.Background())

	assert.ErrorIs(t, err, ErrRunInProgress)
	_, ok := s.LastSummary()
	assert.False(t, ok)
}

func TestSyncer_StartRunsImmediatelyAndStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s, store := newTestSyncer(t, twoRepoScenario(), Options{MainBranchOnly: true, Interval: time.Hour})

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, ok := s.LastSummary()
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	counts, err := store.CountRows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.Repositories)
}
