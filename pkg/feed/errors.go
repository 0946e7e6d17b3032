package feed

import (
	"errors"
	"fmt"
)

// ErrorKind classifies controller errors.
type ErrorKind string

const (
	// ErrorKindFetchFailure is a network or HTTP failure of a page fetch.
	ErrorKindFetchFailure ErrorKind = "fetch_failure"

	// ErrorKindStaleResult marks a result dropped because its epoch was
	// superseded. It is never shown to the viewer.
	ErrorKindStaleResult ErrorKind = "stale_result_discarded"
)

var (
	// ErrStaleResult is wrapped by FetchErrors of kind ErrorKindStaleResult.
	ErrStaleResult = errors.New("stale result discarded")

	// ErrClosed is returned by operations on a closed controller.
	ErrClosed = errors.New("feed controller closed")
)

// FetchError describes a failed or discarded page fetch of one epoch.
type FetchError struct {
	Kind  ErrorKind
	Epoch uint64
	Page  int

	// Initial is true for page 1, whose failure leaves the feed in an error
	// state rather than an empty one.
	Initial bool

	Err error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("feed %s (epoch %d, page %d): %v", e.Kind, e.Epoch, e.Page, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsStale reports whether err marks a discarded stale result.
func IsStale(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind == ErrorKindStaleResult
	}
	return errors.Is(err, ErrStaleResult)
}
