// internal/paginate/paginator.go
package paginate

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	custom_errors "scm-graph-fetcher/internal/errors"
)

// Page is one decoded page of a cursor-linked collection.
// An empty Next means the collection is exhausted.
type Page[T any] struct {
	Values []T
	Next   string
}

// FetchFunc fetches the page addressed by cursor. It returns
// custom_errors.ErrRateLimited on a 429 and a *custom_errors.DecodeError when
// the body cannot be decoded.
type FetchFunc[T any] func(ctx context.Context, cursor string) (Page[T], error)

// Options tune a Paginator. The zero value paginates without limits.
type Options[T any] struct {
	// MaxPages stops after that many pages when > 0.
	MaxPages int
	// BackoffBase is the first delay after a 429.
	BackoffBase time.Duration
	// MaxRetries fails the sequence after that many consecutive 429s when > 0.
	MaxRetries int
	// RewriteCursor, if set, maps a page's Next cursor to the next request target.
	RewriteCursor func(next string) (string, error)
	// StopAfter, if set, ends the sequence after the page it returns true for.
	StopAfter func(Page[T]) bool
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRateLimited is called before each backoff sleep.
	OnRateLimited func(delay time.Duration)
}

// Paginator walks a cursor-linked collection one page at a time.
type Paginator[T any] struct {
	fetch  FetchFunc[T]
	opts   Options[T]
	logger *slog.Logger
}

// New creates a Paginator around fetch.
func New[T any](fetch FetchFunc[T], logger *slog.Logger, opts Options[T]) *Paginator[T] {
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 10 * time.Second
	}
	return &Paginator[T]{fetch: fetch, opts: opts, logger: logger}
}

// Pages returns the lazy sequence of pages starting at start. Decode failures
// end the sequence silently (after a warning); any other error is yielded once
// and ends it.
func (p *Paginator[T]) Pages(ctx context.Context, start string) iter.Seq2[Page[T], error] {
	return func(yield func(Page[T], error) bool) {
		bo := NewBackoff(p.opts.BackoffBase)
		cursor := start

		for pageNumber := 1; ; pageNumber++ {
			p.logger.Debug("Fetching page", "page", pageNumber, "cursor", cursor)

			page, err := p.fetchWithBackoff(ctx, cursor, bo)
			if err != nil {
				if custom_errors.IsDecode(err) {
					p.logger.Warn("Malformed page, treating as end of results", "page", pageNumber, "error", err)
					return
				}
				yield(Page[T]{}, err)
				return
			}

			if !yield(page, nil) {
				return
			}

			if page.Next == "" {
				return
			}
			if p.opts.MaxPages > 0 && pageNumber >= p.opts.MaxPages {
				p.logger.Debug("Hit page limit", "limit", p.opts.MaxPages)
				return
			}
			if p.opts.StopAfter != nil && p.opts.StopAfter(page) {
				p.logger.Debug("Stop condition reached", "page", pageNumber)
				return
			}

			cursor = page.Next
			if p.opts.RewriteCursor != nil {
				cursor, err = p.opts.RewriteCursor(page.Next)
				if err != nil {
					yield(Page[T]{}, fmt.Errorf("rewrite cursor %q: %w", page.Next, err))
					return
				}
			}
		}
	}
}

// All drains Pages into a slice of values.
func (p *Paginator[T]) All(ctx context.Context, start string) ([]T, error) {
	var all []T
	for page, err := range p.Pages(ctx, start) {
		if err != nil {
			return all, err
		}
		all = append(all, page.Values...)
	}
	return all, nil
}

// Values flattens Pages into a lazy sequence of items.
func (p *Paginator[T]) Values(ctx context.Context, start string) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for page, err := range p.Pages(ctx, start) {
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			for _, v := range page.Values {
				if !yield(v, nil) {
					return
				}
			}
		}
	}
}

// fetchWithBackoff retries the same cursor while the remote keeps answering 429.
func (p *Paginator[T]) fetchWithBackoff(ctx context.Context, cursor string, bo *Backoff) (Page[T], error) {
	retries := 0
	for {
		page, err := p.fetch(ctx, cursor)
		if err == nil {
			bo.Reset()
			return page, nil
		}
		if !errors.Is(err, custom_errors.ErrRateLimited) {
			return Page[T]{}, err
		}

		retries++
		if p.opts.MaxRetries > 0 && retries > p.opts.MaxRetries {
			return Page[T]{}, fmt.Errorf("gave up after %d rate-limited attempts: %w", p.opts.MaxRetries, err)
		}

		delay := bo.Next()
		p.logger.Info("Rate limited, backing off", "delay", delay.String(), "attempt", retries)
		if p.opts.OnRateLimited != nil {
			p.opts.OnRateLimited(delay)
		}
		if err := p.opts.Sleep(ctx, delay); err != nil {
			return Page[T]{}, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
