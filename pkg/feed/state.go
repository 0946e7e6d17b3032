package feed

// State is the pagination state of one feed view for one epoch. It is a value
// type: every transition returns a new State and Items is never mutated in place.
type State struct {
	// Epoch is the filter generation the state belongs to.
	Epoch uint64

	// ServerPage is the next server page to request (1-indexed).
	ServerPage int

	// LocalCursor counts reveal batches; LocalCursor*batch items are eligible
	// for rendering, clamped to len(Items).
	LocalCursor int

	// Items accumulates every fetched page of the epoch.
	Items []Document

	// HasMore is what the server last reported. Once false it stays false
	// for the rest of the epoch.
	HasMore bool

	// IsLoading is true only while page 1 of the epoch is being fetched.
	IsLoading bool

	// IsLoadingMore is true while the viewer is waiting on a fetch because
	// the buffered items are exhausted.
	IsLoadingMore bool

	// Fetching is true while any fetch for this epoch is in flight.
	Fetching bool

	// ServerLoaded marks a state seeded with server-rendered data.
	ServerLoaded bool

	// Err is the last fetch failure of the epoch, cleared by the next success.
	Err error

	pageSize  int
	batchSize int
	ahead     int
}

// NewState returns the pre-mount state: epoch 0, nothing fetched, not loading.
func NewState(cfg Config) State {
	return State{
		ServerPage:  1,
		LocalCursor: 1,
		Items:       []Document{},
		HasMore:     true,
		pageSize:    cfg.ServerPageSize,
		batchSize:   cfg.RevealBatchSize,
		ahead:       cfg.PrefetchAhead,
	}
}

// Reset returns the initial state of the next epoch.
func (s State) Reset() State {
	return State{
		Epoch:       s.Epoch + 1,
		ServerPage:  1,
		LocalCursor: 1,
		Items:       []Document{},
		HasMore:     true,
		IsLoading:   true,
		pageSize:    s.pageSize,
		batchSize:   s.batchSize,
		ahead:       s.ahead,
	}
}

// AppendPage returns the state after a page of the current epoch arrived.
func (s State) AppendPage(items []Document, hasMore bool) State {
	merged := make([]Document, 0, len(s.Items)+len(items))
	merged = append(merged, s.Items...)
	merged = append(merged, items...)

	next := s
	next.Items = merged
	next.ServerPage = s.ServerPage + 1
	next.HasMore = s.HasMore && hasMore
	next.IsLoading = false
	next.IsLoadingMore = false
	next.Fetching = false
	next.Err = nil
	return next.clampCursor()
}

// FailFetch returns the state after the in-flight fetch failed. The server
// cursor and HasMore are kept so that a later trigger retries the same page.
func (s State) FailFetch(err error) State {
	next := s
	next.IsLoading = false
	next.IsLoadingMore = false
	next.Fetching = false
	next.Err = err
	return next.clampCursor()
}

// AdvanceReveal moves the reveal cursor one batch forward. It is a no-op unless
// buffered items remain hidden, or a fetch in flight will satisfy the advance
// without promising more than one batch beyond the buffer.
func (s State) AdvanceReveal() State {
	if !s.canAdvance() {
		return s
	}
	next := s
	next.LocalCursor++
	return next
}

func (s State) canAdvance() bool {
	shown := s.LocalCursor * s.batchSize
	if shown < len(s.Items) {
		return true
	}
	return s.Fetching && shown <= len(s.Items)
}

// beginFetch marks a fetch of ServerPage as in flight.
func (s State) beginFetch() State {
	next := s
	next.Fetching = true
	if s.ServerPage == 1 {
		next.IsLoading = true
		next.IsLoadingMore = false
	} else if s.exhausted() {
		next.IsLoadingMore = true
	}
	return next
}

// clampCursor keeps LocalCursor*batch below len(Items)+batch once no fetch
// will satisfy an optimistic advance.
func (s State) clampCursor() State {
	limit := (len(s.Items) + s.batchSize - 1) / s.batchSize
	if limit < 1 {
		limit = 1
	}
	if s.LocalCursor > limit {
		s.LocalCursor = limit
	}
	return s
}

// exhausted reports whether every buffered item is already revealed.
func (s State) exhausted() bool {
	return s.LocalCursor*s.batchSize >= len(s.Items)
}

// Visible is the number of items eligible for rendering.
func (s State) Visible() int {
	shown := s.LocalCursor * s.batchSize
	if shown > len(s.Items) {
		return len(s.Items)
	}
	return shown
}

// Buffered is the number of fetched items not yet revealed.
func (s State) Buffered() int {
	return len(s.Items) - s.Visible()
}

// ShouldPrefetch evaluates the prefetch trigger:
//
//	(serverPage-ahead)*pageSize - batch <= localCursor*batch && hasMore && !fetching
//
// With ahead=0 the trigger only holds once the reveal cursor has been pushed
// past the buffer, so the next page is requested by the "load more" that
// exhausts it. ahead=1 keeps one extra server page buffered.
func (s State) ShouldPrefetch() bool {
	if !s.HasMore || s.Fetching || s.IsLoading {
		return false
	}
	threshold := (s.ServerPage-s.ahead)*s.pageSize - s.batchSize
	return threshold <= s.LocalCursor*s.batchSize
}

// CanLoadMore reports whether a "load more" would change anything.
func (s State) CanLoadMore() bool {
	if s.IsLoading || s.IsLoadingMore {
		return false
	}
	if s.LocalCursor*s.batchSize < len(s.Items) {
		return true
	}
	return s.HasMore
}
