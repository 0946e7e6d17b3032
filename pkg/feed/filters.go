package feed

import (
	"fmt"
	"strings"
)

// DocType is the document-type filter of the feed.
type DocType string

const (
	DocTypeAll        DocType = "all"
	DocTypePaper      DocType = "paper"
	DocTypePosts      DocType = "posts"
	DocTypeHypothesis DocType = "hypothesis"
	DocTypeQuestion   DocType = "question"
	DocTypeBounties   DocType = "bounties"
)

// Ordering is the sort sub-filter.
type Ordering string

const (
	OrderingHot       Ordering = "hot"
	OrderingNew       Ordering = "new"
	OrderingTop       Ordering = "top"
	OrderingDiscussed Ordering = "discussed"
)

// TimeScope is the time-window sub-filter.
type TimeScope string

const (
	TimeScopeDay   TimeScope = "day"
	TimeScopeWeek  TimeScope = "week"
	TimeScopeMonth TimeScope = "month"
	TimeScopeYear  TimeScope = "year"
	TimeScopeAll   TimeScope = "all"
)

// Filters is the watched tuple of filter dimensions. It only holds primitive
// values so that a change is detected with plain struct inequality.
type Filters struct {
	DocType DocType

	// HubID selects a single hub; 0 means all hubs.
	HubID int64

	// LoggedIn is part of the tuple because the server personalises results.
	LoggedIn bool

	// SubscribedHubs restricts the feed to the viewer's hubs ("my hubs").
	SubscribedHubs bool

	Ordering  Ordering
	TimeScope TimeScope
}

// DefaultFilters returns the filters a feed starts with.
func DefaultFilters() Filters {
	return Filters{
		DocType:   DocTypeAll,
		Ordering:  OrderingHot,
		TimeScope: TimeScopeDay,
	}
}

// Validate reports unknown filter values.
func (f Filters) Validate() error {
	_, err := f.Normalize()
	return err
}

// Normalize returns the canonical form of f: empty dimensions take their
// defaults and values are lower-cased, so equal feeds compare equal.
func (f Filters) Normalize() (Filters, error) {
	var err error
	if f.DocType, err = ParseDocType(string(f.DocType)); err != nil {
		return Filters{}, err
	}
	if f.Ordering, err = ParseOrdering(string(f.Ordering)); err != nil {
		return Filters{}, err
	}
	if f.TimeScope, err = ParseTimeScope(string(f.TimeScope)); err != nil {
		return Filters{}, err
	}
	if f.HubID < 0 {
		return Filters{}, fmt.Errorf("hub id must be >= 0 (got %d)", f.HubID)
	}
	return f, nil
}

// HidesLoadMore reports whether "load more" is hidden regardless of buffered
// data: a logged-out viewer on the "my hubs" scope has no hubs to page through.
func (f Filters) HidesLoadMore() bool {
	return f.SubscribedHubs && !f.LoggedIn
}

// String renders the filters for logs.
func (f Filters) String() string {
	hub := "all"
	if f.HubID > 0 {
		hub = fmt.Sprintf("%d", f.HubID)
	}
	return fmt.Sprintf("type=%s hub=%s sort=%s time=%s my_hubs=%t logged_in=%t",
		f.DocType, hub, f.Ordering, f.TimeScope, f.SubscribedHubs, f.LoggedIn)
}

// ParseDocType parses a document-type filter value.
func ParseDocType(s string) (DocType, error) {
	switch d := DocType(strings.ToLower(strings.TrimSpace(s))); d {
	case DocTypeAll, DocTypePaper, DocTypePosts, DocTypeHypothesis, DocTypeQuestion, DocTypeBounties:
		return d, nil
	case "":
		return DocTypeAll, nil
	default:
		return "", fmt.Errorf("unknown document type %q", s)
	}
}

// ParseOrdering parses a sort sub-filter value.
func ParseOrdering(s string) (Ordering, error) {
	switch o := Ordering(strings.ToLower(strings.TrimSpace(s))); o {
	case OrderingHot, OrderingNew, OrderingTop, OrderingDiscussed:
		return o, nil
	case "":
		return OrderingHot, nil
	default:
		return "", fmt.Errorf("unknown ordering %q", s)
	}
}

// ParseTimeScope parses a time-window sub-filter value.
func ParseTimeScope(s string) (TimeScope, error) {
	switch t := TimeScope(strings.ToLower(strings.TrimSpace(s))); t {
	case TimeScopeDay, TimeScopeWeek, TimeScopeMonth, TimeScopeYear, TimeScopeAll:
		return t, nil
	case "":
		return TimeScopeDay, nil
	default:
		return "", fmt.Errorf("unknown time scope %q", s)
	}
}
