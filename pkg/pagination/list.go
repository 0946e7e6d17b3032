package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNoMorePages is returned by LoadMore when the last envelope had no next link.
	ErrNoMorePages = errors.New("no more pages")

	// ErrFetchInProgress is returned when a load is already running.
	ErrFetchInProgress = errors.New("fetch already in progress")

	// ErrSuperseded is returned when Load restarted the list while a fetch ran.
	ErrSuperseded = errors.New("list reloaded while fetching")
)

// LinkFetcher fetches the envelope behind an absolute page URL.
type LinkFetcher interface {
	FetchLink(ctx context.Context, link string) (*Envelope, error)
}

// LinkFetcherFunc adapts a function to the LinkFetcher interface.
type LinkFetcherFunc func(ctx context.Context, link string) (*Envelope, error)

// FetchLink calls f.
func (f LinkFetcherFunc) FetchLink(ctx context.Context, link string) (*Envelope, error) {
	return f(ctx, link)
}

// List is a next-link paginated list. Results accumulate across pages and at
// most one fetch runs at a time.
type List struct {
	fetcher LinkFetcher

	mu           sync.Mutex
	generation   uint64
	results      []jsoniter.RawMessage
	count        int
	next         string
	loading      bool
	fetchingMore bool
	err          error
}

// NewList creates an empty list.
func NewList(fetcher LinkFetcher) *List {
	return &List{fetcher: fetcher}
}

// Load discards the accumulated results and loads the first page. A load-more
// still in flight is dropped when it resolves.
func (l *List) Load(ctx context.Context, firstURL string) error {
	l.mu.Lock()
	l.generation++
	gen := l.generation
	l.results = nil
	l.count = 0
	l.next = ""
	l.loading = true
	l.fetchingMore = false
	l.err = nil
	l.mu.Unlock()

	env, err := l.fetcher.FetchLink(ctx, firstURL)
	return l.apply(gen, "load", firstURL, env, err)
}

// LoadMore follows the next link and appends its results. A failure keeps the
// accumulated results; calling LoadMore again retries the same link.
func (l *List) LoadMore(ctx context.Context) error {
	l.mu.Lock()
	if l.loading || l.fetchingMore {
		l.mu.Unlock()
		return ErrFetchInProgress
	}
	if l.next == "" {
		l.mu.Unlock()
		return ErrNoMorePages
	}
	l.fetchingMore = true
	gen := l.generation
	link := l.next
	l.mu.Unlock()

	env, err := l.fetcher.FetchLink(ctx, link)
	return l.apply(gen, "load_more", link, env, err)
}

func (l *List) apply(gen uint64, kind, link string, env *Envelope, err error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if gen != l.generation {
		pagesTotal.WithLabelValues("list", "stale").Inc()
		log.Debug().
			Str("link", link).
			Str("kind", kind).
			Msg("Discarded page of a reloaded list")
		return ErrSuperseded
	}

	l.loading = false
	l.fetchingMore = false

	if err == nil && env == nil {
		err = errors.New("empty envelope")
	}
	if err != nil {
		l.err = fmt.Errorf("%s %s: %w", kind, link, err)
		pagesTotal.WithLabelValues("list", "failure").Inc()
		log.Warn().
			Err(err).
			Str("link", link).
			Str("kind", kind).
			Msg("List page fetch failed")
		return l.err
	}

	merged := make([]jsoniter.RawMessage, 0, len(l.results)+len(env.Results))
	merged = append(merged, l.results...)
	merged = append(merged, env.Results...)
	l.results = merged
	l.count = env.Count
	l.next = env.Next
	l.err = nil
	pagesTotal.WithLabelValues("list", "success").Inc()

	log.Debug().
		Str("kind", kind).
		Int("results", len(env.Results)).
		Int("total", len(l.results)).
		Bool("has_more", l.next != "").
		Msg("List page loaded")
	return nil
}

// Results returns the accumulated results. The returned slice is not shared
// with the list.
func (l *List) Results() []jsoniter.RawMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]jsoniter.RawMessage, len(l.results))
	copy(out, l.results)
	return out
}

// Len returns the number of accumulated results.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.results)
}

// Count returns the total reported by the server.
func (l *List) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// HasMore reports whether a next link is known.
func (l *List) HasMore() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.next != ""
}

// IsLoading reports whether the first page is being fetched.
func (l *List) IsLoading() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loading
}

// IsFetchingMore reports whether a load-more is in flight.
func (l *List) IsFetchingMore() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fetchingMore
}

// Err returns the last fetch error, cleared by the next success.
func (l *List) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}
