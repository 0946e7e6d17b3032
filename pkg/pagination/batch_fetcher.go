package pagination

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Config holds batch fetcher configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel requests
	MaxConcurrency int
	// Timeout per page fetch
	Timeout time.Duration
	// MaxPages caps FetchPages when it is called with maxPages <= 0
	MaxPages int
}

// DefaultConfig returns the warmer defaults for the feed API
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        15 * time.Second,
		MaxPages:       10,
	}
}

// PageFetcher fetches one numbered page of a listing whose query is already bound
type PageFetcher interface {
	FetchPage(ctx context.Context, pageNum int) (*Envelope, error)
}

// PageFetcherFunc adapts a function to the PageFetcher interface.
type PageFetcherFunc func(ctx context.Context, pageNum int) (*Envelope, error)

// FetchPage calls f.
func (f PageFetcherFunc) FetchPage(ctx context.Context, pageNum int) (*Envelope, error) {
	return f(ctx, pageNum)
}

// BatchFetcher handles parallel fetching of multiple pages
type BatchFetcher struct {
	fetcher PageFetcher
	config  Config
}

// NewBatchFetcher creates a new batch fetcher
func NewBatchFetcher(fetcher PageFetcher, config Config) *BatchFetcher {
	defaults := DefaultConfig()
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxPages <= 0 {
		config.MaxPages = defaults.MaxPages
	}

	return &BatchFetcher{
		fetcher: fetcher,
		config:  config,
	}
}

// FetchPages fetches up to maxPages pages in parallel and returns
// pageNumber -> envelope. On error the pages fetched so far are returned
// together with the error.
func (bf *BatchFetcher) FetchPages(ctx context.Context, maxPages int) (map[int]*Envelope, error) {
	start := time.Now()
	if maxPages <= 0 {
		maxPages = bf.config.MaxPages
	}

	// The first page tells us the page size and whether more exist.
	first, err := bf.fetchOne(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch first page: %w", err)
	}

	results := map[int]*Envelope{1: first}
	totalPages := estimatePages(first, maxPages)

	log.Info().
		Int("count", first.Count).
		Int("page_size", len(first.Results)).
		Int("pages", totalPages).
		Msg("Starting parallel page fetch")

	if totalPages == 1 {
		log.Info().
			Int("pages", 1).
			Dur("duration", time.Since(start)).
			Msg("Fetch complete (single page)")
		return results, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bf.config.MaxConcurrency)

	for page := 2; page <= totalPages; page++ {
		g.Go(func() error {
			env, err := bf.fetchOne(gctx, page)
			if err != nil {
				return fmt.Errorf("page %d: %w", page, err)
			}
			mu.Lock()
			results[page] = env
			mu.Unlock()
			return nil
		})
	}

	err = g.Wait()
	trimAfterLast(results)

	if err != nil {
		log.Warn().
			Err(err).
			Int("fetched_pages", len(results)).
			Int("total_pages", totalPages).
			Msg("Batch fetch failed - returning partial results")
		return results, fmt.Errorf("batch fetch (partial data: %d/%d pages): %w", len(results), totalPages, err)
	}

	log.Info().
		Int("pages", len(results)).
		Int("total", totalPages).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return results, nil
}

func (bf *BatchFetcher) fetchOne(ctx context.Context, page int) (*Envelope, error) {
	pageCtx, cancel := context.WithTimeout(ctx, bf.config.Timeout)
	defer cancel()

	env, err := bf.fetcher.FetchPage(pageCtx, page)
	if err == nil && env == nil {
		err = fmt.Errorf("empty envelope")
	}
	if err != nil {
		pagesTotal.WithLabelValues("batch", "failure").Inc()
		log.Debug().Err(err).Int("page", page).Msg("Page fetch failed")
		return nil, err
	}
	pagesTotal.WithLabelValues("batch", "success").Inc()
	return env, nil
}

// estimatePages derives the page count from the first envelope, capped at
// maxPages. Without a usable count the cap is the estimate.
func estimatePages(first *Envelope, maxPages int) int {
	if !first.HasNext() || maxPages <= 1 {
		return 1
	}
	size := len(first.Results)
	if first.Count <= 0 || size == 0 {
		return maxPages
	}
	pages := (first.Count + size - 1) / size
	if pages < 2 {
		// The server announced a next page the count does not account for.
		pages = 2
	}
	if pages > maxPages {
		pages = maxPages
	}
	return pages
}

// trimAfterLast drops pages beyond the first page that has no next link.
func trimAfterLast(results map[int]*Envelope) {
	pages := make([]int, 0, len(results))
	for p := range results {
		pages = append(pages, p)
	}
	sort.Ints(pages)

	for _, p := range pages {
		if results[p].HasNext() {
			continue
		}
		for _, q := range pages {
			if q > p {
				delete(results, q)
			}
		}
		return
	}
}
