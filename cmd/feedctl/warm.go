package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Sternrassler/unifeed/pkg/pagination"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newWarmCmd(a *app) *cobra.Command {
	var (
		ff          *filterFlags
		pages       int
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Fetch the first feed pages in parallel",
		Long: `Fetch feed pages 1..N in parallel for the given filters. With --redis the
responses land in the shared cache, so browsing sessions and the proxy start warm.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pages < 1 {
				return fmt.Errorf("--pages must be >= 1 (got %d)", pages)
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			api, rdb, closeAPI, err := a.newClient(ctx)
			if err != nil {
				return err
			}
			defer closeAPI()
			if rdb == nil {
				log.Warn().Msg("No redis configured - warmed pages are not kept")
			}

			filters, err := ff.filters(api.LoggedIn())
			if err != nil {
				return err
			}
			if filters.HidesLoadMore() {
				return fmt.Errorf("my hubs needs a token")
			}

			bf := pagination.NewBatchFetcher(api.FeedPages(filters), pagination.Config{
				MaxConcurrency: concurrency,
				Timeout:        a.cfg.Timeout,
				MaxPages:       pages,
			})

			start := time.Now()
			results, fetchErr := bf.FetchPages(ctx, pages)

			nums := make([]int, 0, len(results))
			docs := 0
			for n, env := range results {
				nums = append(nums, n)
				docs += len(env.Results)
			}
			sort.Ints(nums)

			out := cmd.OutOrStdout()
			for _, n := range nums {
				fmt.Fprintf(out, "page %d: %d documents\n", n, len(results[n].Results))
			}
			info.Fprintf(out, "warmed %d pages (%d documents) for %s in %v\n",
				len(nums), docs, filters, time.Since(start).Round(time.Millisecond))

			return fetchErr
		},
	}

	ff = addFilterFlags(cmd)
	cmd.Flags().IntVar(&pages, "pages", 5, "Number of pages to fetch")
	cmd.Flags().IntVar(&concurrency, "concurrency", pagination.DefaultConfig().MaxConcurrency, "Parallel requests")
	return cmd
}
