package feed

// SetFilters applies a new filter tuple. Any change starts a new epoch from
// page 1 and supersedes whatever is in flight; an identical tuple is a no-op.
// It returns true when a new epoch started.
func (c *Controller) SetFilters(filters Filters) (bool, error) {
	filters, err := filters.Normalize()
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, ErrClosed
	}
	if filters == c.filters {
		return false, nil
	}

	previous := c.filters
	c.filters = filters
	if !c.mounted {
		if c.state.ServerLoaded {
			// Seeded data belongs to the previous filters; Mount fetches page 1 instead.
			fresh := NewState(c.config)
			fresh.Epoch = c.state.Epoch
			c.state = fresh
			c.logger.Info().
				Str("from", previous.String()).
				Str("to", filters.String()).
				Msg("Dropped server-loaded data after filter change before mount")
		}
		return false, nil
	}

	c.logger.Info().
		Str("from", previous.String()).
		Str("to", filters.String()).
		Msg("Filters changed")
	c.startEpochLocked("filters")
	c.publishLocked()
	return true, nil
}

// Filters returns the current filter tuple.
func (c *Controller) Filters() Filters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filters
}

// Hydrate replaces the view wholesale with freshly server-rendered data, as
// after a navigation that re-ran server loading. The new epoch starts stable.
func (c *Controller) Hydrate(filters Filters, page Page) error {
	filters, err := filters.Normalize()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	c.filters = filters
	c.state = c.state.Reset().AppendPage(page.Items, page.HasMore)
	c.state.ServerLoaded = true
	c.phase = PhaseStable
	epochsTotal.WithLabelValues("hydrate").Inc()

	c.logger.Info().
		Uint64("epoch", c.state.Epoch).
		Int("items", len(page.Items)).
		Msg("Hydrated with server-loaded data")

	if c.mounted {
		c.schedulePrefetchLocked()
	}
	c.publishLocked()
	return nil
}

// startEpochLocked resets the state for a new epoch and fetches page 1.
func (c *Controller) startEpochLocked(reason string) {
	c.state = c.state.Reset()
	c.phase = PhaseInvalidating
	epochsTotal.WithLabelValues(reason).Inc()

	c.logger.Info().
		Uint64("epoch", c.state.Epoch).
		Str("reason", reason).
		Str("filters", c.filters.String()).
		Msg("Started feed epoch")

	c.startFetchLocked(kindInitial)
}
