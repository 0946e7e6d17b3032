package feed

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Gateway performs one paginated GET. It must be safe to call repeatedly with
// different pages; failures are treated opaquely.
type Gateway interface {
	FetchPage(ctx context.Context, page int, filters Filters) (Page, error)
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, page int, filters Filters) (Page, error)

// FetchPage calls f.
func (f GatewayFunc) FetchPage(ctx context.Context, page int, filters Filters) (Page, error) {
	return f(ctx, page, filters)
}

// Config holds controller configuration.
type Config struct {
	// ServerPageSize is the number of items per server page.
	ServerPageSize int

	// RevealBatchSize is the number of items one "load more" reveals.
	RevealBatchSize int

	// PrefetchAhead is the number of extra server pages kept buffered
	// ahead of the reveal cursor (0 or 1).
	PrefetchAhead int
}

// DefaultConfig returns the sizes used by the unified document feed.
func DefaultConfig() Config {
	return Config{
		ServerPageSize:  20,
		RevealBatchSize: 10,
		PrefetchAhead:   0,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ServerPageSize <= 0 {
		return fmt.Errorf("server_page_size must be > 0 (got %d)", c.ServerPageSize)
	}
	if c.RevealBatchSize <= 0 {
		return fmt.Errorf("reveal_batch_size must be > 0 (got %d)", c.RevealBatchSize)
	}
	if c.PrefetchAhead < 0 || c.PrefetchAhead > 1 {
		return fmt.Errorf("prefetch_ahead must be 0 or 1 (got %d)", c.PrefetchAhead)
	}
	return nil
}

// Option customises a Controller.
type Option func(*Controller)

// WithInitialPage seeds the controller with server-rendered data. Mount will
// not fetch page 1; only a later filter change does.
func WithInitialPage(page Page) Option {
	return func(c *Controller) {
		seeded := page
		c.initial = &seeded
	}
}

// WithLogger sets the base logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithViewID overrides the generated view identifier used in logs.
func WithViewID(id string) Option {
	return func(c *Controller) {
		c.viewID = id
	}
}

// Controller drives one feed view. All transitions happen under mu, in the
// order the triggering events arrive.
type Controller struct {
	gateway Gateway
	config  Config
	logger  zerolog.Logger
	viewID  string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	state   State
	filters Filters
	phase   Phase
	seq     uint64
	mounted bool
	closed  bool
	initial *Page
	updates chan View
}

// New creates a controller for one feed view. Nothing is fetched until Mount.
func New(gateway Gateway, cfg Config, filters Filters, opts ...Option) (*Controller, error) {
	if gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	filters, err := filters.Normalize()
	if err != nil {
		return nil, fmt.Errorf("invalid filters: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		gateway: gateway,
		config:  cfg,
		logger:  log.With().Str("component", "feed-controller").Logger(),
		ctx:     ctx,
		cancel:  cancel,
		state:   NewState(cfg),
		filters: filters,
		phase:   PhaseStable,
		updates: make(chan View, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.viewID == "" {
		c.viewID = uuid.NewString()
	}
	c.logger = c.logger.With().Str("view_id", c.viewID).Logger()

	if c.initial != nil {
		c.state = c.state.Reset().AppendPage(c.initial.Items, c.initial.HasMore)
		c.state.ServerLoaded = true
		epochsTotal.WithLabelValues("server_loaded").Inc()
	}

	return c, nil
}

// ViewID returns the identifier of this feed view.
func (c *Controller) ViewID() string {
	return c.viewID
}

// Mount starts the view: page 1 of the first epoch is fetched unless the
// controller was seeded with server-rendered data. Calling it again is a no-op.
func (c *Controller) Mount() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.mounted {
		return
	}
	c.mounted = true

	if c.state.ServerLoaded {
		c.logger.Info().
			Uint64("epoch", c.state.Epoch).
			Int("items", len(c.state.Items)).
			Msg("Mounted with server-loaded data")
		c.schedulePrefetchLocked()
		c.publishLocked()
		return
	}

	c.startEpochLocked("mount")
	c.publishLocked()
}

// LoadMore is the viewer's "load more" action. It returns true when the state
// changed. Buffered items are revealed without network I/O; an exhausted
// buffer triggers the shared fetch path, which never runs twice at once.
func (c *Controller) LoadMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || !c.mounted || c.filters.HidesLoadMore() {
		return false
	}

	s := c.state
	switch {
	case s.IsLoading:
		return false

	case !s.exhausted():
		c.state = s.AdvanceReveal()
		revealsTotal.WithLabelValues("buffered").Inc()
		c.logger.Debug().
			Uint64("epoch", s.Epoch).
			Int("cursor", c.state.LocalCursor).
			Int("visible", c.state.Visible()).
			Msg("Revealed buffered items")
		c.schedulePrefetchLocked()

	case s.HasMore && !s.Fetching:
		kind := kindLoadMore
		if s.ServerPage == 1 {
			kind = kindInitial
		}
		c.startFetchLocked(kind)
		c.advanceOptimisticLocked()

	case s.HasMore && s.Fetching && !s.IsLoadingMore:
		// A background prefetch is already running; the viewer now waits on it.
		c.state.IsLoadingMore = true
		c.advanceOptimisticLocked()

	default:
		return false
	}

	c.publishLocked()
	return true
}

func (c *Controller) advanceOptimisticLocked() {
	before := c.state.LocalCursor
	c.state = c.state.AdvanceReveal()
	if c.state.LocalCursor != before {
		revealsTotal.WithLabelValues("optimistic").Inc()
		c.logger.Debug().
			Uint64("epoch", c.state.Epoch).
			Int("cursor", c.state.LocalCursor).
			Msg("Advanced reveal cursor ahead of fetch")
	}
}

// View returns the current presentation view.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// State returns a copy of the current pagination state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Updates delivers views as they change. The channel holds one view and
// coalesces: a slow reader only sees the latest. It is closed by Close.
func (c *Controller) Updates() <-chan View {
	return c.updates
}

// Wait blocks until no fetch goroutine of this controller is running.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close unmounts the view. In-flight fetches see a cancelled context and their
// results are dropped.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.closed = true
	c.cancel()
	close(c.updates)
	c.mu.Unlock()

	c.wg.Wait()
	c.logger.Info().Msg("Feed view closed")
	return nil
}

func (c *Controller) viewLocked() View {
	s := c.state
	n := s.Visible()
	visible := s.Items[:n:n]

	v := View{
		Items:         visible,
		IsLoading:     s.IsLoading,
		IsLoadingMore: s.IsLoadingMore,
		CanLoadMore:   c.mounted && s.CanLoadMore() && !c.filters.HidesLoadMore(),
		HasMore:       s.HasMore,
		Buffered:      s.Buffered(),
		InFlight:      s.Fetching,
		Filters:       c.filters,
		Epoch:         s.Epoch,
		Phase:         c.phase,
		Err:           s.Err,
		Seq:           c.seq,
	}
	if fe, ok := s.Err.(*FetchError); ok && fe.Initial && len(s.Items) == 0 {
		v.Failed = true
	}
	return v
}

// publishLocked replaces any unread view with the current one. Called with mu
// held, so views are delivered in transition order.
func (c *Controller) publishLocked() {
	if c.closed {
		return
	}
	c.seq++
	v := c.viewLocked()

	select {
	case <-c.updates:
	default:
	}
	select {
	case c.updates <- v:
	default:
	}
}
