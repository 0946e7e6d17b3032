// Package pagination walks the next-link envelopes returned by the feed API.
//
// Every list endpoint answers with the same envelope:
//
//	{"count": 137, "next": "https://.../?page=3", "previous": "...", "results": [...]}
//
// Two consumers are provided:
//
//   - List follows "next" one page at a time. It backs the simpler paginated
//     lists (author comments, contributions, bounties) that do not need the
//     reveal batching of the main feed.
//   - BatchFetcher loads pages 1..N in parallel with bounded concurrency. It is
//     used to warm the response cache ahead of traffic.
//
// Example usage:
//
//	list := pagination.NewList(apiClient)
//	if err := list.Load(ctx, apiClient.ContributionsURL(authorID, "comment")); err != nil {
//		return err
//	}
//	for list.HasMore() {
//		if err := list.LoadMore(ctx); err != nil {
//			break
//		}
//	}
//
//	warmer := pagination.NewBatchFetcher(pageFetcher, pagination.DefaultConfig())
//	pages, err := warmer.FetchPages(ctx, 10)
//
// The batch fetcher:
//   - Fetches the first page to learn the item count and page size
//   - Runs the remaining pages through an errgroup with a concurrency limit
//   - Applies a timeout per page
//   - Stops at the first page that has no next link
//   - Returns partial results alongside the first error
package pagination
