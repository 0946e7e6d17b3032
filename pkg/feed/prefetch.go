package feed

import (
	"time"
)

type fetchKind string

const (
	kindInitial  fetchKind = "initial"
	kindLoadMore fetchKind = "load_more"
	kindPrefetch fetchKind = "prefetch"
)

// ticket tags a fetch with the epoch and page it was issued for.
type ticket struct {
	epoch uint64
	page  int
	kind  fetchKind
}

// schedulePrefetchLocked issues a background fetch when the trigger holds.
// It runs after every reveal advance and every successful fetch.
func (c *Controller) schedulePrefetchLocked() {
	if !c.state.ShouldPrefetch() {
		return
	}
	c.logger.Debug().
		Uint64("epoch", c.state.Epoch).
		Int("page", c.state.ServerPage).
		Int("cursor", c.state.LocalCursor).
		Int("items", len(c.state.Items)).
		Msg("Prefetch triggered")
	c.startFetchLocked(kindPrefetch)
}

// startFetchLocked marks the next server page as in flight and fetches it in
// a goroutine. Callers guarantee no other fetch of the epoch is running.
func (c *Controller) startFetchLocked(kind fetchKind) {
	t := ticket{
		epoch: c.state.Epoch,
		page:  c.state.ServerPage,
		kind:  kind,
	}
	c.state = c.state.beginFetch()
	filters := c.filters

	c.wg.Add(1)
	go c.fetch(t, filters)
}

func (c *Controller) fetch(t ticket, filters Filters) {
	defer c.wg.Done()

	start := time.Now()
	page, err := c.gateway.FetchPage(c.ctx, t.page, filters)
	fetchDuration.WithLabelValues(string(t.kind)).Observe(time.Since(start).Seconds())

	c.resolve(t, page, err)
}

// resolve applies a fetch result if its epoch is still current.
func (c *Controller) resolve(t ticket, page Page, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	if t.epoch != c.state.Epoch {
		staleResultsTotal.Inc()
		fetchesTotal.WithLabelValues(string(t.kind), "stale").Inc()
		c.logger.Debug().
			Err(&FetchError{Kind: ErrorKindStaleResult, Epoch: t.epoch, Page: t.page, Err: ErrStaleResult}).
			Uint64("current_epoch", c.state.Epoch).
			Msg("Discarded stale fetch result")
		return
	}

	if err != nil {
		fe := &FetchError{
			Kind:    ErrorKindFetchFailure,
			Epoch:   t.epoch,
			Page:    t.page,
			Initial: t.page == 1,
			Err:     err,
		}
		fetchesTotal.WithLabelValues(string(t.kind), "failure").Inc()
		c.logger.Warn().
			Err(err).
			Uint64("epoch", t.epoch).
			Int("page", t.page).
			Str("kind", string(t.kind)).
			Msg("Feed page fetch failed")

		c.state = c.state.FailFetch(fe)
		if fe.Initial {
			c.phase = PhaseStable
		}
		c.publishLocked()
		return
	}

	fetchesTotal.WithLabelValues(string(t.kind), "success").Inc()
	c.state = c.state.AppendPage(page.Items, page.HasMore)
	c.phase = PhaseStable

	c.logger.Info().
		Uint64("epoch", t.epoch).
		Int("page", t.page).
		Int("items", len(page.Items)).
		Int("total", len(c.state.Items)).
		Bool("has_more", c.state.HasMore).
		Msg("Feed page loaded")

	c.schedulePrefetchLocked()
	c.publishLocked()
}
