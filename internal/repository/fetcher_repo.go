package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/user/sitemap-crawler/internal/entity"
)

var (
	ErrFetchTimeout     = errors.New("fetch timed out")
	ErrNetwork          = errors.New("network error")
	ErrBadStatus        = errors.New("unexpected HTTP status")
	ErrBodyTooLarge     = errors.New("response body too large")
	ErrTooManyRedirects = errors.New("too many redirects")
	ErrNavigationFailed = errors.New("browser navigation failed")
)

// Fetch failure kinds, also used as metric labels.
const (
	KindTimeout    = "timeout"
	KindNetwork    = "network"
	KindStatus     = "status"
	KindTooLarge   = "too_large"
	KindRedirect   = "redirect"
	KindNavigation = "navigation"
)

// FetchError is the failure branch of a fetch. Callers match it with
// errors.As, or match the wrapped sentinel with errors.Is.
type FetchError struct {
	URL        string
	Kind       string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s (status %d)", e.URL, e.Err, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the fetch may succeed: timeouts,
// connection failures and 5xx responses.
func (e *FetchError) Temporary() bool {
	switch e.Kind {
	case KindTimeout, KindNetwork:
		return true
	case KindStatus:
		return e.StatusCode >= 500
	}
	return false
}

// FailureKind classifies err for logging and metrics.
func FailureKind(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return "unknown"
}

// Fetcher defines the contract for retrieving a single page.
type Fetcher interface {
	// Fetch retrieves url following redirects. Failures are returned as
	// *FetchError.
	Fetch(ctx context.Context, url string) (*entity.FetchResult, error)
}
