// Package feed implements the incremental pagination and prefetch controller
// behind the unified document feed.
//
// A Controller owns one feed view. It reconciles three cursors:
//
//   - the server page cursor (next page to request, 20 items per page by default)
//   - the local reveal cursor (multiples of a 10-item reveal batch)
//   - the filter set, whose changes start a new epoch
//
// Example usage:
//
//	ctrl, err := feed.New(gateway, feed.DefaultConfig(), feed.DefaultFilters())
//	if err != nil {
//		return err
//	}
//	defer ctrl.Close()
//
//	ctrl.Mount()
//	for view := range ctrl.Updates() {
//		render(view.Items)
//	}
//
// The controller:
//   - fetches page 1 on mount, unless it was created with server-loaded data
//   - reveals buffered items without network I/O
//   - issues at most one fetch per epoch at a time
//   - starts a new epoch from page 1 whenever the filters change
//   - discards any result whose epoch tag is no longer current
//
// There is no network cancellation on filter change: superseded fetches run to
// completion and their results are dropped by the epoch check.
package feed
