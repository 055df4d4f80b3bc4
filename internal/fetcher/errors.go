package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Fetch-stage error kinds. They are always per source and never abort a batch.
var (
	ErrNetwork    = errors.New("network error")
	ErrTimeout    = errors.New("timeout")
	ErrParse      = errors.New("parse error")
	ErrExtraction = errors.New("extraction error")
)

// FetchError describes why one source could not be fetched.
type FetchError struct {
	Kind     error // one of the Err* kinds above
	SourceID string
	URL      string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %s (%s): %v", e.Kind, e.SourceID, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is reports whether target is this error's kind.
func (e *FetchError) Is(target error) bool {
	return target == e.Kind
}

func newFetchError(kind error, sourceID, url string, err error) *FetchError {
	return &FetchError{Kind: kind, SourceID: sourceID, URL: url, Err: err}
}

// classifyTransport maps a transport failure to ErrTimeout or ErrNetwork.
func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	return ErrNetwork
}
