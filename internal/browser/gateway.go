// Package browser connects to remote headless Chrome instances over the
// DevTools protocol and executes page captures against them.
package browser

import (
	"context"
	"time"
)

// Endpoint identifies one remote browser instance.
type Endpoint struct {
	URL    string
	SlowMo time.Duration // artificial delay before each page operation
}

// Gateway opens sessions against remote browsers. It is the only seam
// between the dispatch subsystem and the CDP library, which keeps workers
// testable without a live Chrome.
type Gateway interface {
	Connect(ctx context.Context, ep Endpoint) (Session, error)
}

// Session is a live connection to one browser. A session stays open for the
// owning worker's entire lifetime; individual pages are scoped to a single
// capture attempt.
type Session interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is one browser tab. Every operation honors the caller's context
// deadline; a lost wall-clock race surfaces as context.DeadlineExceeded.
type Page interface {
	SetViewport(ctx context.Context, width, height int) error
	SetUserAgent(ctx context.Context, userAgent string) error
	// Navigate drives the main frame to url and returns the main-frame
	// HTTP status code and status text (0 and "" when the navigation
	// produced no response).
	Navigate(ctx context.Context, url string) (int, string, error)
	// WaitDynamicContent parks in an in-page timer for d, giving scripts a
	// chance to settle after the navigation barrier.
	WaitDynamicContent(ctx context.Context, d time.Duration) error
	HideScrollbars(ctx context.Context) error
	Screenshot(ctx context.Context, format string, quality int, fullPage bool) ([]byte, error)
	HTML(ctx context.Context) (string, error)
	Close() error
}
