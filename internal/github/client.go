// internal/github/client.go
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	custom_errors "scm-graph-fetcher/internal/errors"
	"scm-graph-fetcher/internal/metrics"
	"scm-graph-fetcher/internal/model"
	"scm-graph-fetcher/internal/paginate"
)

// Options configure a Client.
type Options struct {
	Token string
	// BaseURL points the client at a GitHub Enterprise host. Empty means github.com.
	BaseURL string

	PageSize         int
	BranchPageLimit  int
	CommitPageLimit  int
	CommitMonthLimit int
	IgnoredRepos     map[string]struct{}

	BackoffBase       time.Duration
	MaxRetries        int
	RequestsPerSecond float64
	Timeout           time.Duration
}

// Client is a wrapper around the go-github client.
type Client struct {
	gh      *github.Client
	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *metrics.Metrics

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates and configures a new Client instance.
// The provided token is used to create an authenticated http.Client.
func NewClient(opts Options, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: opts.Token},
	)
	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = opts.Timeout

	gh := github.NewClient(tc)
	if opts.BaseURL != "" {
		var err error
		if gh, err = gh.WithEnterpriseURLs(opts.BaseURL, opts.BaseURL); err != nil {
			return nil, fmt.Errorf("github base url: %w", err)
		}
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 10
	}

	return &Client{
		gh:      gh,
		opts:    opts,
		limiter: paginate.NewLimiter(opts.RequestsPerSecond),
		logger:  logger.With("provider", "github"),
		metrics: m,
		now:     time.Now,
	}, nil
}

// Repositories lists the repositories of the authenticated user, minus the
// ignored ones, sorted case-insensitively by name.
func (c *Client) Repositories(ctx context.Context) ([]model.Repository, error) {
	seenAt := c.now()
	p := newPaginator(c, "repositories", func(ctx context.Context, cursor string) (paginate.Page[model.Repository], error) {
		opts := &github.RepositoryListByAuthenticatedUserOptions{
			Sort:        "updated",
			Direction:   "desc",
			ListOptions: c.listOptions(cursor),
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return paginate.Page[model.Repository]{}, err
		}
		repos, resp, err := c.gh.Repositories.ListByAuthenticatedUser(ctx, opts)
		if err != nil {
			return paginate.Page[model.Repository]{}, mapError(err)
		}
		c.metrics.PageFetched("repositories")

		page := paginate.Page[model.Repository]{Next: nextCursor(resp)}
		for _, r := range repos {
			repo, err := toInternalRepository(r, seenAt)
			if err != nil {
				return paginate.Page[model.Repository]{}, err
			}
			page.Values = append(page.Values, repo)
		}
		return page, nil
	}, paginate.Options[model.Repository]{})

	all, err := p.All(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}

	repos := make([]model.Repository, 0, len(all))
	for _, repo := range all {
		if _, ignored := c.opts.IgnoredRepos[repo.Name]; ignored {
			c.logger.Debug("Skipping ignored repository", "repo", repo.Name)
			continue
		}
		repos = append(repos, repo)
	}
	model.SortRepositories(repos)

	c.logger.Info("Fetched repositories", "count", len(repos), "ignored", len(all)-len(repos))
	return repos, nil
}

// Branches lazily lists the branches of repo, capped at BranchPageLimit pages.
func (c *Client) Branches(ctx context.Context, repo model.Repository) iter.Seq2[model.BranchRecord, error] {
	seenAt := c.now()
	p := newPaginator(c, "branches", func(ctx context.Context, cursor string) (paginate.Page[model.BranchRecord], error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return paginate.Page[model.BranchRecord]{}, err
		}
		branches, resp, err := c.gh.Repositories.ListBranches(ctx, repo.Workspace, repo.Name,
			&github.BranchListOptions{ListOptions: c.listOptions(cursor)})
		if err != nil {
			return paginate.Page[model.BranchRecord]{}, mapError(err)
		}
		c.metrics.PageFetched("branches")

		page := paginate.Page[model.BranchRecord]{Next: nextCursor(resp)}
		for _, b := range branches {
			rec, err := toBranchRecord(b, repo, seenAt)
			if err != nil {
				return paginate.Page[model.BranchRecord]{}, err
			}
			page.Values = append(page.Values, rec)
		}
		return page, nil
	}, paginate.Options[model.BranchRecord]{MaxPages: c.opts.BranchPageLimit})

	return p.Values(ctx, "")
}

// Commits lazily lists the commits reachable from branch, newest first.
func (c *Client) Commits(ctx context.Context, repo model.Repository, branch model.Branch) iter.Seq2[model.CommitRecord, error] {
	p := newPaginator(c, "commits", func(ctx context.Context, cursor string) (paginate.Page[model.CommitRecord], error) {
		opts := &github.CommitsListOptions{
			SHA:         branch.Name,
			ListOptions: c.listOptions(cursor),
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return paginate.Page[model.CommitRecord]{}, err
		}
		commits, resp, err := c.gh.Repositories.ListCommits(ctx, repo.Workspace, repo.Name, opts)
		if err != nil {
			return paginate.Page[model.CommitRecord]{}, mapError(err)
		}
		c.metrics.PageFetched("commits")

		page := paginate.Page[model.CommitRecord]{Next: nextCursor(resp)}
		for _, rc := range commits {
			rec, err := toCommitRecord(rc, repo, branch)
			if err != nil {
				return paginate.Page[model.CommitRecord]{}, err
			}
			page.Values = append(page.Values, rec)
		}
		return page, nil
	}, paginate.Options[model.CommitRecord]{
		MaxPages:  c.opts.CommitPageLimit,
		StopAfter: paginate.MonthWindow(c.opts.CommitMonthLimit, c.now),
	})

	return p.Values(ctx, "")
}

func newPaginator[T any](c *Client, resource string, fetch paginate.FetchFunc[T], opts paginate.Options[T]) *paginate.Paginator[T] {
	opts.BackoffBase = c.opts.BackoffBase
	opts.MaxRetries = c.opts.MaxRetries
	opts.Sleep = c.sleep
	opts.OnRateLimited = func(delay time.Duration) {
		c.metrics.RateLimited(resource, delay.Seconds())
	}
	return paginate.New(fetch, c.logger.With("resource", resource), opts)
}

// listOptions turns a page-number cursor into list options. An empty cursor
// is the first page.
func (c *Client) listOptions(cursor string) github.ListOptions {
	page, _ := strconv.Atoi(cursor)
	return github.ListOptions{PerPage: c.opts.PageSize, Page: page}
}

func nextCursor(resp *github.Response) string {
	if resp == nil || resp.NextPage == 0 {
		return ""
	}
	return strconv.Itoa(resp.NextPage)
}

// mapError translates go-github failures into the shared error taxonomy.
func mapError(err error) error {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return fmt.Errorf("%w: %v", custom_errors.ErrRateLimited, err)
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		if respErr.Response.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %v", custom_errors.ErrRateLimited, err)
		}
		apiErr := &custom_errors.APIError{StatusCode: respErr.Response.StatusCode, Message: respErr.Message}
		if respErr.Response.Request != nil {
			apiErr.URL = respErr.Response.Request.URL.String()
		}
		return apiErr
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &custom_errors.DecodeError{Err: err}
	}
	return err
}

// toInternalRepository translates a github.Repository object to our internal model.Repository.
func toInternalRepository(r *github.Repository, seenAt time.Time) (model.Repository, error) {
	switch {
	case r.GetName() == "":
		return model.Repository{}, &custom_errors.DecodeError{Field: "name", Reason: "missing"}
	case r.GetOwner().GetLogin() == "":
		return model.Repository{}, &custom_errors.DecodeError{Field: "owner.login", Reason: "missing"}
	case r.GetHTMLURL() == "":
		return model.Repository{}, &custom_errors.DecodeError{Field: "html_url", Reason: "missing"}
	}

	repo := model.Repository{
		Name:      model.NormalizeRepoName(r.GetName()),
		Workspace: r.GetOwner().GetLogin(),
		RepoURL:   r.GetHTMLURL(),
		SeenAt:    seenAt,
	}
	if main := r.GetDefaultBranch(); main != "" {
		repo.MainBranch = main
		repo.MainBranchURL = repo.RepoURL + "/tree/" + main
	}
	return repo, nil
}

func toBranchRecord(b *github.Branch, repo model.Repository, seenAt time.Time) (model.BranchRecord, error) {
	if b.GetName() == "" {
		return model.BranchRecord{}, &custom_errors.DecodeError{Field: "name", Reason: "missing"}
	}
	return model.BranchRecord{
		Branch: model.Branch{
			Name:   b.GetName(),
			Repo:   repo.Name,
			URL:    repo.RepoURL + "/tree/" + b.GetName(),
			SeenAt: seenAt,
		},
		Link: model.RepositoryBranchLink{RepoName: repo.Name, BranchName: b.GetName()},
	}, nil
}

// toCommitRecord translates a github.RepositoryCommit object to our internal model.
func toCommitRecord(c *github.RepositoryCommit, repo model.Repository, branch model.Branch) (model.CommitRecord, error) {
	date := c.GetCommit().GetAuthor().GetDate().Time
	switch {
	case c.GetSHA() == "":
		return model.CommitRecord{}, &custom_errors.DecodeError{Field: "sha", Reason: "missing"}
	case c.GetHTMLURL() == "":
		return model.CommitRecord{}, &custom_errors.DecodeError{Field: "html_url", Reason: "missing"}
	case date.IsZero():
		return model.CommitRecord{}, &custom_errors.DecodeError{Field: "commit.author.date", Reason: "missing"}
	}

	message := c.GetCommit().GetMessage()
	return model.CommitRecord{
		Commit: model.Commit{
			Hash:     c.GetSHA(),
			Message:  message,
			Summary:  model.FirstLine(message),
			Date:     date,
			Author:   strings.TrimSpace(c.GetCommit().GetAuthor().GetName()),
			Email:    strings.ToLower(strings.TrimSpace(c.GetCommit().GetAuthor().GetEmail())),
			DiffLink: c.GetHTMLURL(),
			RepoURL:  repo.RepoURL,
		},
		Link: model.BranchCommitLink{BranchName: branch.Name, CommitHash: c.GetSHA()},
	}, nil
}
