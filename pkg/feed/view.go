package feed

// Phase is the state of the filter invalidation machine.
type Phase int

const (
	// PhaseStable means the current epoch has its first page (or its
	// first-page error) and only incremental fetches may be in flight.
	PhaseStable Phase = iota

	// PhaseInvalidating means the epoch was reset and page 1 is in flight.
	PhaseInvalidating
)

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case PhaseStable:
		return "stable"
	case PhaseInvalidating:
		return "invalidating"
	default:
		return "unknown"
	}
}

// View is what the presentation layer renders. Items is already sliced to the
// reveal cursor.
type View struct {
	Items         []Document
	IsLoading     bool
	IsLoadingMore bool
	CanLoadMore   bool

	HasMore bool

	// Buffered counts fetched items that are not revealed yet.
	Buffered int

	// InFlight is true while a fetch for the current epoch is running,
	// including background prefetches the viewer is not waiting on.
	InFlight bool

	Filters Filters
	Epoch   uint64
	Phase   Phase

	// Err is the last fetch failure of the epoch.
	Err error

	// Failed marks a first-page failure: an error feed, not an empty one.
	Failed bool

	// Seq increases with every published view of a controller.
	Seq uint64
}

// Empty reports a settled epoch with no results.
func (v View) Empty() bool {
	return !v.IsLoading && !v.Failed && len(v.Items) == 0 && v.Buffered == 0
}
