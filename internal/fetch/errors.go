package fetch

import (
	"errors"
	"fmt"
)

// Sentinel errors for fetch operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnsupportedScheme indicates the resource URL uses a scheme outside
	// the allow-list.
	ErrUnsupportedScheme = errors.New("unsupported URL scheme")

	// ErrDataTooBig indicates the source exceeds the configured maximum
	// content length and excerpting is disabled.
	ErrDataTooBig = errors.New("source exceeds maximum content length")

	// ErrTimeout indicates the download exceeded its per-connection timeout.
	ErrTimeout = errors.New("download timed out")
)

// HTTPError carries the failing request URL, status, and a bounded copy of
// the response body for diagnostics.
type HTTPError struct {
	URL    string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("fetching %s: status %d: %s", e.URL, e.Status, e.Body)
}
