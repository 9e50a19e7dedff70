package driver

import (
	"context"
	"errors"
	"time"
)

// WaitStrategy names the readiness condition a navigation waits for before it
// counts as complete. Browser-backed drivers map these onto real page
// lifecycle events; the HTTP driver completes once the response body has been
// read and records the requested strategy for diagnostics only.
type WaitStrategy string

const (
	// WaitDOMContentLoaded completes as soon as the document has been parsed.
	WaitDOMContentLoaded WaitStrategy = "domcontentloaded"
	// WaitLoad completes when the page and its subresources have loaded.
	WaitLoad WaitStrategy = "load"
	// WaitNetworkIdle completes once the network goes quiet, for pages that
	// assemble themselves through script.
	WaitNetworkIdle WaitStrategy = "networkidle"
)

// Navigation is the outcome of a completed page navigation. FinalURL is the
// URL the navigation settled on after redirects.
type Navigation struct {
	StatusCode int
	FinalURL   string
}

// ErrNoPage is returned by Title and Anchors before any navigation has
// completed on the driver.
var ErrNoPage = errors.New("driver: no page loaded")

// PageDriver is the capability the crawler walks a site through: navigate to
// a URL, read the loaded page's title, and list its anchor targets. Anchors
// returns raw href attribute values; resolving them against the page URL is
// the caller's concern. Implementations surface failures as errors, never as
// silent zero values.
type PageDriver interface {
	Navigate(ctx context.Context, url string, wait WaitStrategy, timeout time.Duration) (*Navigation, error)
	Title(ctx context.Context) (string, error)
	Anchors(ctx context.Context) ([]string, error)
}
