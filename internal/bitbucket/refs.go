// internal/bitbucket/refs.go
package bitbucket

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strconv"

	"scm-graph-fetcher/internal/model"
	"scm-graph-fetcher/internal/paginate"
)

func (c *Client) repoPath(repo model.Repository) string {
	return c.baseURL + "/repositories/" + url.PathEscape(repo.Workspace) + "/" + url.PathEscape(repo.Name)
}

// Branches lazily lists the refs of repo, capped at BranchPageLimit pages.
func (c *Client) Branches(ctx context.Context, repo model.Repository) iter.Seq2[model.BranchRecord, error] {
	seenAt := c.now()
	fetch := fetchPage(c, "branches", func(url string, r refJSON) (model.BranchRecord, error) {
		return decodeBranch(url, r, repo, seenAt)
	})
	p := newPaginator(c, "branches", fetch, paginate.Options[model.BranchRecord]{
		MaxPages: c.opts.BranchPageLimit,
	})

	start := fmt.Sprintf("%s/refs?pagelen=%d", c.repoPath(repo), c.opts.PageSize)
	return p.Values(ctx, start)
}

// Commits lazily lists the commits reachable from branch, newest first. The
// walk is capped at CommitPageLimit pages and, when CommitMonthLimit is set,
// ends after the first page reaching past the month window.
func (c *Client) Commits(ctx context.Context, repo model.Repository, branch model.Branch) iter.Seq2[model.CommitRecord, error] {
	fetch := fetchPage(c, "commits", func(url string, cj commitJSON) (model.CommitRecord, error) {
		return decodeCommit(url, cj, repo, branch)
	})
	p := newPaginator(c, "commits", fetch, paginate.Options[model.CommitRecord]{
		MaxPages:  c.opts.CommitPageLimit,
		StopAfter: paginate.MonthWindow(c.opts.CommitMonthLimit, c.now),
	})

	q := url.Values{}
	q.Set("pagelen", strconv.Itoa(c.opts.PageSize))
	q.Set("sort", "-date")
	start := c.repoPath(repo) + "/commits/" + url.PathEscape(branch.Name) + "?" + q.Encode()
	return p.Values(ctx, start)
}
