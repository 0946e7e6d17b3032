package feed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway hands every call to the test, which decides when and how it
// resolves.
type fakeGateway struct {
	calls chan *pendingCall
	count atomic.Int32
}

type pendingCall struct {
	page    int
	filters Filters
	result  chan fakeResult
}

type fakeResult struct {
	page Page
	err  error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{calls: make(chan *pendingCall, 16)}
}

func (g *fakeGateway) FetchPage(ctx context.Context, page int, filters Filters) (Page, error) {
	g.count.Add(1)
	call := &pendingCall{page: page, filters: filters, result: make(chan fakeResult, 1)}
	g.calls <- call

	select {
	case r := <-call.result:
		return r.page, r.err
	case <-ctx.Done():
		return Page{}, ctx.Err()
	}
}

func (g *fakeGateway) next(t *testing.T) *pendingCall {
	t.Helper()
	select {
	case call := <-g.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("expected a gateway call")
		return nil
	}
}

func (g *fakeGateway) expectNoCall(t *testing.T) {
	t.Helper()
	select {
	case call := <-g.calls:
		t.Fatalf("unexpected gateway call for page %d", call.page)
	case <-time.After(50 * time.Millisecond):
	}
}

func (c *pendingCall) respond(items []Document, hasMore bool) {
	c.result <- fakeResult{page: Page{Items: items, HasMore: hasMore}}
}

func (c *pendingCall) fail(err error) {
	c.result <- fakeResult{err: err}
}

func newTestController(t *testing.T, gw Gateway, cfg Config, filters Filters, opts ...Option) *Controller {
	t.Helper()
	ctrl, err := New(gw, cfg, filters, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctrl.Close() })
	return ctrl
}

func waitFor(t *testing.T, ctrl *Controller, cond func(v View) bool) View {
	t.Helper()
	require.Eventually(t, func() bool { return cond(ctrl.View()) }, 2*time.Second, 5*time.Millisecond)
	return ctrl.View()
}

func settled(v View) bool { return !v.InFlight }

// mountFirstPage mounts ctrl and answers page 1 with items.
func mountFirstPage(t *testing.T, ctrl *Controller, gw *fakeGateway, items []Document, hasMore bool) View {
	t.Helper()
	ctrl.Mount()
	call := gw.next(t)
	require.Equal(t, 1, call.page)
	call.respond(items, hasMore)
	return waitFor(t, ctrl, func(v View) bool { return !v.IsLoading })
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, DefaultConfig(), DefaultFilters())
	assert.Error(t, err)

	_, err = New(newFakeGateway(), Config{ServerPageSize: 20, RevealBatchSize: 0}, DefaultFilters())
	assert.Error(t, err)

	_, err = New(newFakeGateway(), Config{ServerPageSize: 20, RevealBatchSize: 10, PrefetchAhead: 2}, DefaultFilters())
	assert.Error(t, err)

	bad := DefaultFilters()
	bad.Ordering = "random"
	_, err = New(newFakeGateway(), DefaultConfig(), bad)
	assert.Error(t, err)
}

func TestController_PreMount(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw, DefaultConfig(), DefaultFilters())

	v := ctrl.View()
	assert.Equal(t, uint64(0), v.Epoch)
	assert.False(t, v.IsLoading)
	assert.False(t, v.CanLoadMore)
	assert.False(t, ctrl.LoadMore())

	changed, err := ctrl.SetFilters(Filters{DocType: DocTypePaper, Ordering: OrderingNew, TimeScope: TimeScopeWeek})
	require.NoError(t, err)
	assert.False(t, changed, "filters before mount only take effect at mount")
	gw.expectNoCall(t)

	ctrl.Mount()
	call := gw.next(t)
	assert.Equal(t, DocTypePaper, call.filters.DocType)
	assert.Equal(t, uint64(1), ctrl.View().Epoch)
}

func TestController_MountLoadsFirstPage(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw, DefaultConfig(), DefaultFilters())

	ctrl.Mount()
	v := ctrl.View()
	assert.True(t, v.IsLoading)
	assert.False(t, v.IsLoadingMore)
	assert.Equal(t, PhaseInvalidating, v.Phase)

	call := gw.next(t)
	call.respond(docs(1, 20), true)
	v = waitFor(t, ctrl, func(v View) bool { return !v.IsLoading })

	assert.Len(t, v.Items, 10)
	assert.Equal(t, 10, v.Buffered)
	assert.True(t, v.CanLoadMore)
	assert.Equal(t, PhaseStable, v.Phase)

	ctrl.Mount()
	gw.expectNoCall(t)
}

// Twenty items per page, ten per reveal, two pages on the server.
func TestController_RevealAndFetchSequence(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw, DefaultConfig(), DefaultFilters())
	mountFirstPage(t, ctrl, gw, docs(1, 20), true)

	// #1 reveals the buffer without network I/O.
	require.True(t, ctrl.LoadMore())
	v := ctrl.View()
	assert.Len(t, v.Items, 20)
	assert.False(t, v.IsLoadingMore)
	gw.expectNoCall(t)

	// #2 exhausts the buffer and waits on page 2.
	require.True(t, ctrl.LoadMore())
	v = ctrl.View()
	assert.True(t, v.IsLoadingMore)
	assert.False(t, v.IsLoading)
	assert.False(t, v.CanLoadMore)
	assert.Len(t, v.Items, 20)

	call := gw.next(t)
	require.Equal(t, 2, call.page)
	call.respond(docs(21, 20), false)
	v = waitFor(t, ctrl, func(v View) bool { return !v.IsLoadingMore })
	assert.Len(t, v.Items, 30)
	assert.False(t, v.HasMore)

	// #3 reveals the rest.
	require.True(t, ctrl.LoadMore())
	v = ctrl.View()
	assert.Len(t, v.Items, 40)
	assert.False(t, v.CanLoadMore)

	// #4 and #5 change nothing.
	assert.False(t, ctrl.LoadMore())
	assert.False(t, ctrl.LoadMore())
	gw.expectNoCall(t)

	v = ctrl.View()
	assert.Len(t, v.Items, 40)
	assert.Equal(t, int32(2), gw.count.Load())
	for i, d := range v.Items {
		assert.Equal(t, int64(i+1), d.ID)
	}
}

func TestController_BufferedRevealIsIdempotentOnNetwork(t *testing.T) {
	gw := newFakeGateway()
	cfg := Config{ServerPageSize: 50, RevealBatchSize: 10}
	ctrl := newTestController(t, gw, cfg, DefaultFilters())
	mountFirstPage(t, ctrl, gw, docs(1, 50), true)

	for i := 2; i <= 5; i++ {
		require.True(t, ctrl.LoadMore())
		assert.Len(t, ctrl.View().Items, i*10)
	}
	gw.expectNoCall(t)
	assert.Equal(t, int32(1), gw.count.Load())
}

func TestController_NoDuplicateInFlightFetch(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw, DefaultConfig(), DefaultFilters())
	mountFirstPage(t, ctrl, gw, docs(1, 20), true)

	require.True(t, ctrl.LoadMore())
	require.True(t, ctrl.LoadMore())
	for i := 0; i < 5; i++ {
		assert.False(t, ctrl.LoadMore())
	}

	call := gw.next(t)
	assert.Equal(t, 2, call.page)
	gw.expectNoCall(t)

	call.respond(docs(21, 20), true)
	waitFor(t, ctrl, settled)
	assert.Equal(t, int32(2), gw.count.Load())
}

func TestController_StaleResultDiscarded(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw, DefaultConfig(), DefaultFilters())
	mountFirstPage(t, ctrl, gw, docs(1, 20), true)

	require.True(t, ctrl.LoadMore())
	require.True(t, ctrl.LoadMore())
	page2 := gw.next(t)
	require.Equal(t, 2, page2.page)

	// The viewer switches to papers while page 2 of the old epoch is in flight.
	papers := DefaultFilters()
	papers.DocType = DocTypePaper
	changed, err := ctrl.SetFilters(papers)
	require.NoError(t, err)
	require.True(t, changed)

	v := ctrl.View()
	assert.Equal(t, uint64(2), v.Epoch)
	assert.True(t, v.IsLoading)
	assert.False(t, v.IsLoadingMore)
	assert.Empty(t, v.Items)
	assert.Equal(t, PhaseInvalidating, v.Phase)

	page1 := gw.next(t)
	require.Equal(t, 1, page1.page)
	assert.Equal(t, DocTypePaper, page1.filters.DocType)

	// The old page lands after the new epoch started and is dropped.
	page2.respond(docs(1000, 20), true)
	gw.expectNoCall(t)
	v = ctrl.View()
	assert.Empty(t, v.Items)
	assert.True(t, v.IsLoading)
	assert.NoError(t, v.Err)

	page1.respond(docs(500, 20), true)
	v = waitFor(t, ctrl, func(v View) bool { return !v.IsLoading })
	require.Len(t, v.Items, 10)
	assert.Equal(t, int64(500), v.Items[0].ID)
	assert.Equal(t, PhaseStable, v.Phase)
	for _, d := range v.Items {
		assert.Less(t, d.ID, int64(1000), "item from a superseded epoch leaked into the view")
	}
}

func TestController_StaleFailureDiscarded(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw, DefaultConfig(), DefaultFilters())
	ctrl.Mount()
	old := gw.next(t)

	hub := DefaultFilters()
	hub.HubID = 7
	_, err := ctrl.SetFilters(hub)
	require.NoError(t, err)
	current := gw.next(t)
	assert.Equal(t, int64(7), current.filters.HubID)

	old.fail(errors.New("connection reset"))
	gw.expectNoCall(t)
	v := ctrl.View()
	assert.NoError(t, v.Err)
	assert.False(t, v.Failed)
	assert.True(t, v.IsLoading)

	current.respond(docs(1, 5), false)
	v = waitFor(t, ctrl, settled)
	assert.Len(t, v.Items, 5)
}

func TestController_IdenticalFiltersNoOp(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw, DefaultConfig(), DefaultFilters())
	mountFirstPage(t, ctrl, gw, docs(1, 20), true)

	changed, err := ctrl.SetFilters(DefaultFilters())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, uint64(1), ctrl.View().Epoch)
	gw.expectNoCall(t)

	_, err = ctrl.SetFilters(Filters{DocType: "videos", Ordering: OrderingHot, TimeScope: TimeScopeDay})
	assert.Error(t, err)
}

func TestController_HasMoreStaysFalse(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw, DefaultConfig(), DefaultFilters())
	mountFirstPage(t, ctrl, gw, docs(1, 15), false)

	assert.True(t, ctrl.LoadMore())
	assert.Len(t, ctrl.View().Items, 15)
	for i := 0; i < 3; i++ {
		assert.False(t, ctrl.LoadMore())
	}
	gw.expectNoCall(t)

	v := ctrl.View()
	assert.False(t, v.HasMore)
	assert.False(t, v.CanLoadMore)
}

func TestController_RevealBound(t *testing.T) {
	gw := newFakeGateway()
	cfg := DefaultConfig()
	ctrl := newTestController(t, gw, cfg, DefaultFilters())
	mountFirstPage(t, ctrl, gw, docs(1, 20), true)

	check := func() {
		s := ctrl.State()
		limit := len(s.Items) + cfg.RevealBatchSize
		assert.LessOrEqual(t, s.LocalCursor*cfg.RevealBatchSize, limit)
		if !s.Fetching {
			assert.LessOrEqual(t, s.LocalCursor*cfg.RevealBatchSize, len(s.Items)+cfg.RevealBatchSize-1)
		}
	}

	next := 21
	for round := 0; round < 4; round++ {
		for i := 0; i < 6; i++ {
			ctrl.LoadMore()
			check()
		}
		call := gw.next(t)
		call.respond(docs(next, 20), true)
		next += 20
		waitFor(t, ctrl, settled)
		check()
	}

	s := ctrl.State()
	assert.Len(t, s.Items, 100)
	assert.Equal(t, 6, s.ServerPage)
}

func TestController_InitialFailure(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw, DefaultConfig(), DefaultFilters())

	ctrl.Mount()
	gw.next(t).fail(errors.New("503 service unavailable"))
	v := waitFor(t, ctrl, func(v View) bool { return !v.IsLoading })

	assert.True(t, v.Failed)
	assert.False(t, v.Empty())
	assert.Equal(t, PhaseStable, v.Phase)

	var fe *FetchError
	require.ErrorAs(t, v.Err, &fe)
	assert.Equal(t, ErrorKindFetchFailure, fe.Kind)
	assert.Equal(t, 1, fe.Page)
	assert.True(t, fe.Initial)
	assert.False(t, IsStale(v.Err))

	// Retry through load more.
	require.True(t, v.CanLoadMore)
	require.True(t, ctrl.LoadMore())
	assert.True(t, ctrl.View().IsLoading)

	call := gw.next(t)
	assert.Equal(t, 1, call.page)
	call.respond(docs(1, 20), true)
	v = waitFor(t, ctrl, func(v View) bool { return !v.IsLoading })
	assert.False(t, v.Failed)
	assert.NoError(t, v.Err)
	assert.Len(t, v.Items, 10)
}

func TestController_EmptyFeed(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw, DefaultConfig(), DefaultFilters())

	v := mountFirstPage(t, ctrl, gw, nil, false)
	assert.True(t, v.Empty())
	assert.False(t, v.Failed)
	assert.False(t, v.CanLoadMore)
}

func TestController_LoadMoreFailureKeepsItems(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw, DefaultConfig(), DefaultFilters())
	mountFirstPage(t, ctrl, gw, docs(1, 20), true)

	require.True(t, ctrl.LoadMore())
	require.True(t, ctrl.LoadMore())
	gw.next(t).fail(errors.New("timeout"))
	v := waitFor(t, ctrl, settled)

	assert.Len(t, v.Items, 20)
	assert.False(t, v.IsLoadingMore)
	assert.False(t, v.Failed)
	assert.Error(t, v.Err)
	assert.True(t, v.CanLoadMore)
	assert.Equal(t, 2, ctrl.State().LocalCursor)

	require.True(t, ctrl.LoadMore())
	call := gw.next(t)
	assert.Equal(t, 2, call.page)
	call.respond(docs(21, 20), true)
	v = waitFor(t, ctrl, settled)
	assert.Len(t, v.Items, 30)
	assert.NoError(t, v.Err)
}

func TestController_EagerPrefetch(t *testing.T) {
	gw := newFakeGateway()
	cfg := DefaultConfig()
	cfg.PrefetchAhead = 1
	ctrl := newTestController(t, gw, cfg, DefaultFilters())
	mountFirstPage(t, ctrl, gw, docs(1, 20), true)

	// Page 2 is requested in the background right after page 1.
	prefetch := gw.next(t)
	require.Equal(t, 2, prefetch.page)
	v := ctrl.View()
	assert.True(t, v.InFlight)
	assert.False(t, v.IsLoadingMore)
	assert.True(t, v.CanLoadMore)

	require.True(t, ctrl.LoadMore())
	assert.False(t, ctrl.View().IsLoadingMore)

	// The buffer runs out; the viewer now waits on the running prefetch.
	require.True(t, ctrl.LoadMore())
	assert.True(t, ctrl.View().IsLoadingMore)
	assert.False(t, ctrl.LoadMore())
	gw.expectNoCall(t)

	prefetch.respond(docs(21, 20), true)
	v = waitFor(t, ctrl, func(v View) bool { return !v.IsLoadingMore })
	assert.Len(t, v.Items, 30)

	// Page 3 follows, again without the viewer waiting.
	page3 := gw.next(t)
	assert.Equal(t, 3, page3.page)
	assert.False(t, ctrl.View().IsLoadingMore)
	page3.respond(docs(41, 20), false)
	waitFor(t, ctrl, settled)
	gw.expectNoCall(t)
}

func TestController_ServerLoaded(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw, DefaultConfig(), DefaultFilters(),
		WithInitialPage(Page{Items: docs(1, 20), HasMore: true}))

	ctrl.Mount()
	gw.expectNoCall(t)

	v := ctrl.View()
	assert.Len(t, v.Items, 10)
	assert.False(t, v.IsLoading)
	assert.True(t, ctrl.State().ServerLoaded)

	require.True(t, ctrl.LoadMore())
	require.True(t, ctrl.LoadMore())
	assert.Equal(t, 2, gw.next(t).page)

	questions := DefaultFilters()
	questions.DocType = DocTypeQuestion
	changed, err := ctrl.SetFilters(questions)
	require.NoError(t, err)
	require.True(t, changed)

	call := gw.next(t)
	assert.Equal(t, 1, call.page)
	assert.Equal(t, DocTypeQuestion, call.filters.DocType)
	assert.False(t, ctrl.State().ServerLoaded)
}

func TestController_ServerLoadedFilterChangeBeforeMount(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw, DefaultConfig(), DefaultFilters(),
		WithInitialPage(Page{Items: docs(1, 20), HasMore: true}))

	papers := DefaultFilters()
	papers.DocType = DocTypePaper
	changed, err := ctrl.SetFilters(papers)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.False(t, ctrl.State().ServerLoaded)
	assert.Empty(t, ctrl.View().Items)

	ctrl.Mount()
	call := gw.next(t)
	assert.Equal(t, 1, call.page)
	assert.Equal(t, DocTypePaper, call.filters.DocType)

	call.respond(docs(500, 20), true)
	v := waitFor(t, ctrl, func(v View) bool { return !v.IsLoading })
	require.Len(t, v.Items, 10)
	assert.Equal(t, int64(500), v.Items[0].ID)
	assert.Equal(t, papers, v.Filters)
}

func TestController_EmptyFilterValuesMatchDefaults(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw, DefaultConfig(), Filters{})
	assert.Equal(t, DefaultFilters(), ctrl.Filters())

	mountFirstPage(t, ctrl, gw, docs(1, 20), true)

	changed, err := ctrl.SetFilters(DefaultFilters())
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = ctrl.SetFilters(Filters{DocType: "PAPER"})
	require.NoError(t, err)
	require.True(t, changed)
	call := gw.next(t)
	assert.Equal(t, DocTypePaper, call.filters.DocType)
	assert.Equal(t, OrderingHot, call.filters.Ordering)
	assert.Equal(t, TimeScopeDay, call.filters.TimeScope)
}

func TestController_Hydrate(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw, DefaultConfig(), DefaultFilters())
	ctrl.Mount()
	inflight := gw.next(t)

	top := DefaultFilters()
	top.Ordering = OrderingTop
	require.NoError(t, ctrl.Hydrate(top, Page{Items: docs(300, 20), HasMore: true}))

	v := ctrl.View()
	assert.Equal(t, uint64(2), v.Epoch)
	assert.Equal(t, PhaseStable, v.Phase)
	assert.False(t, v.IsLoading)
	require.Len(t, v.Items, 10)
	assert.Equal(t, int64(300), v.Items[0].ID)
	assert.Equal(t, top, ctrl.Filters())

	inflight.respond(docs(1, 20), true)
	gw.expectNoCall(t)
	assert.Equal(t, int64(300), ctrl.View().Items[0].ID)
}

func TestController_MyHubsLoggedOutHidesLoadMore(t *testing.T) {
	gw := newFakeGateway()
	filters := DefaultFilters()
	filters.SubscribedHubs = true
	ctrl := newTestController(t, gw, DefaultConfig(), filters)

	v := mountFirstPage(t, ctrl, gw, docs(1, 20), true)
	assert.False(t, v.CanLoadMore)
	assert.False(t, ctrl.LoadMore())
	assert.Len(t, ctrl.View().Items, 10)

	filters.LoggedIn = true
	changed, err := ctrl.SetFilters(filters)
	require.NoError(t, err)
	require.True(t, changed)
	gw.next(t).respond(docs(1, 20), true)
	v = waitFor(t, ctrl, func(v View) bool { return !v.IsLoading })
	assert.True(t, v.CanLoadMore)
}

func TestController_Updates(t *testing.T) {
	gw := newFakeGateway()
	ctrl := newTestController(t, gw, DefaultConfig(), DefaultFilters())

	ctrl.Mount()
	first := <-ctrl.Updates()
	assert.True(t, first.IsLoading)

	gw.next(t).respond(docs(1, 20), true)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case v := <-ctrl.Updates():
			assert.Greater(t, v.Seq, first.Seq)
			if !v.IsLoading {
				assert.Len(t, v.Items, 10)
				return
			}
		case <-deadline:
			t.Fatal("no settled view published")
		}
	}
}

func TestController_Close(t *testing.T) {
	gw := newFakeGateway()
	ctrl, err := New(gw, DefaultConfig(), DefaultFilters(), WithViewID("test-view"))
	require.NoError(t, err)
	assert.Equal(t, "test-view", ctrl.ViewID())

	ctrl.Mount()
	gw.next(t)

	require.NoError(t, ctrl.Close())

	for range ctrl.Updates() {
	}
	assert.False(t, ctrl.LoadMore())
	assert.ErrorIs(t, ctrl.Close(), ErrClosed)

	_, err = ctrl.SetFilters(Filters{DocType: DocTypePaper, Ordering: OrderingHot, TimeScope: TimeScopeDay})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, ctrl.Hydrate(DefaultFilters(), Page{}), ErrClosed)
}

func TestGatewayFunc(t *testing.T) {
	var got int
	gw := GatewayFunc(func(_ context.Context, page int, _ Filters) (Page, error) {
		got = page
		return Page{Items: docs(1, 3)}, nil
	})

	ctrl := newTestController(t, gw, DefaultConfig(), DefaultFilters())
	ctrl.Mount()
	ctrl.Wait()

	assert.Equal(t, 1, got)
	assert.Len(t, ctrl.View().Items, 3)
	assert.False(t, ctrl.View().HasMore)
}
