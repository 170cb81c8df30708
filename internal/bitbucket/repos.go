// internal/bitbucket/repos.go
package bitbucket

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"scm-graph-fetcher/internal/model"
	"scm-graph-fetcher/internal/paginate"
)

const epochAfter = "1970-01-01T00:00:00"

// repoQuery holds the parameters every repository page is requested with.
func (c *Client) repoQuery(after string) url.Values {
	q := url.Values{}
	q.Set("role", "member")
	q.Set("pagelen", strconv.Itoa(c.opts.PageSize))
	q.Set("sort", "-updated_on")
	q.Set("after", after)
	return q
}

// rewriteRepoCursor keeps the next link's own query (its page marker), takes
// its after value and re-applies the base parameters.
func (c *Client) rewriteRepoCursor(next string) (string, error) {
	u, err := url.Parse(next)
	if err != nil {
		return "", err
	}
	q := u.Query()
	after := q.Get("after")
	if after == "" {
		after = epochAfter
	}
	for key, values := range c.repoQuery(after) {
		q[key] = values
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Repositories lists every repository the user is a member of, minus the
// ignored ones, sorted case-insensitively by name.
func (c *Client) Repositories(ctx context.Context) ([]model.Repository, error) {
	seenAt := c.now()
	fetch := fetchPage(c, "repositories", func(url string, r repositoryJSON) (model.Repository, error) {
		return decodeRepository(url, r, seenAt)
	})
	p := newPaginator(c, "repositories", fetch, paginate.Options[model.Repository]{
		RewriteCursor: c.rewriteRepoCursor,
	})

	start := c.baseURL + "/repositories?" + c.repoQuery(epochAfter).Encode()
	all, err := p.All(ctx, start)
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
