// internal/bitbucket/client.go

// Package bitbucket reads repositories, branches and commits from the
// Bitbucket Cloud 2.0 REST API.
package bitbucket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	custom_errors "scm-graph-fetcher/internal/errors"
	"scm-graph-fetcher/internal/metrics"
	"scm-graph-fetcher/internal/paginate"
)

const DefaultBaseURL = "https://api.bitbucket.org/2.0"

// Options configure a Client. Either AccessToken or Username and Password
// must be set.
type Options struct {
	BaseURL     string
	Username    string
	Password    string
	AccessToken string

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

// Client talks to the Bitbucket API.
type Client struct {
	http    *http.Client
	baseURL string
	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *metrics.Metrics

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Client. A bearer token, when present, wins over basic
// auth. m may be nil.
func NewClient(opts Options, logger *slog.Logger, m *metrics.Metrics) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 10
	}

	httpClient := &http.Client{}
	if opts.AccessToken != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.AccessToken})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}
	httpClient.Timeout = opts.Timeout

	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		opts:    opts,
		limiter: paginate.NewLimiter(opts.RequestsPerSecond),
		logger:  logger.With("provider", "bitbucket"),
		metrics: m,
		now:     time.Now,
	}
}

// getJSON fetches url and decodes the body into out. A 429 becomes
// ErrRateLimited, any other non-2xx an *APIError, and an undecodable body a
// *DecodeError.
func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.opts.AccessToken == "" {
		req.SetBasicAuth(c.opts.Username, c.opts.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return custom_errors.ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &custom_errors.APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			URL:        url,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &custom_errors.DecodeError{URL: url, Err: err}
	}
	return nil
}

// fetchPage returns a FetchFunc that decodes a {values, next} envelope of W
// and converts each value with convert. A conversion error fails the whole page.
func fetchPage[W, T any](c *Client, resource string, convert func(url string, w W) (T, error)) paginate.FetchFunc[T] {
	return func(ctx context.Context, url string) (paginate.Page[T], error) {
		var env envelope[W]
		if err := c.getJSON(ctx, url, &env); err != nil {
			return paginate.Page[T]{}, err
		}
		c.metrics.PageFetched(resource)

		values := make([]T, 0, len(env.Values))
		for _, w := range env.Values {
			v, err := convert(url, w)
			if err != nil {
				return paginate.Page[T]{}, err
			}
			values = append(values, v)
		}
		return paginate.Page[T]{Values: values, Next: env.Next}, nil
	}
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
