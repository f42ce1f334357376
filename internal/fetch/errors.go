package fetch

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/heimdex/heimdex-composer/internal/logging"
)

// ErrTooLarge is wrapped by FetchError when a source exceeds the byte cap.
var ErrTooLarge = errors.New("source exceeds size limit")

// Failure reasons carried by FetchError.
const (
	ReasonInvalidURL = "invalid_url"
	ReasonNetwork    = "network"
	ReasonStatus     = "status"
	ReasonTooLarge   = "too_large"
	ReasonTimeout    = "timeout"
	ReasonWrite      = "write"
	ReasonEmpty      = "empty"
)

// FetchError describes why one source could not be retrieved. It is scoped to
// a single segment.
type FetchError struct {
	URL        string
	Reason     string
	StatusCode int
	Err        error
}

// Error omits the URL's query string, which often carries a signature.
func (e *FetchError) Error() string {
	u := logging.SanitizeURL(e.URL)
	switch e.Reason {
	case ReasonStatus:
		return fmt.Sprintf("fetch %s: HTTP %d", u, e.StatusCode)
	default:
		if e.Err != nil {
			return fmt.Sprintf("fetch %s: %s: %v", u, e.Reason, e.Err)
		}
		return fmt.Sprintf("fetch %s: %s", u, e.Reason)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable returns true for network errors, server errors (5xx) and 429.
// Client errors, oversize or empty sources and an exhausted time budget are
// permanent.
func (e *FetchError) Retryable() bool {
	switch e.Reason {
	case ReasonNetwork:
		return true
	case ReasonStatus:
		return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}
