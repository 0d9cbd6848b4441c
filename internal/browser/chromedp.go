package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// connectProbeTimeout bounds the initial handshake with a remote browser.
const connectProbeTimeout = 15 * time.Second

// CDPGateway is the chromedp-backed Gateway implementation.
type CDPGateway struct{}

// NewCDPGateway creates a gateway that dials remote browsers via
// chromedp's remote allocator.
func NewCDPGateway() *CDPGateway {
	return &CDPGateway{}
}

// Connect attaches to the remote browser at ep and verifies the connection
// with a bounded about:blank navigation.
func (g *CDPGateway) Connect(ctx context.Context, ep Endpoint) (Session, error) {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), ep.URL)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	probeCtx, probeCancel := context.WithTimeout(browserCtx, connectProbeTimeout)
	defer probeCancel()
	stop := context.AfterFunc(ctx, probeCancel)
	defer stop()

	if err := chromedp.Run(probeCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("connect to browser %s: %w", ep.URL, err)
	}

	slog.Debug("browser session established", "endpoint", ep.URL)
	return &cdpSession{
		endpoint:      ep,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

type cdpSession struct {
	endpoint      Endpoint
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

// NewPage opens a fresh tab in the session's browser.
func (s *cdpSession) NewPage(ctx context.Context) (Page, error) {
	if err := s.browserCtx.Err(); err != nil {
		return nil, fmt.Errorf("browser session closed: %w", err)
	}
	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx)
	return &cdpPage{
		ctx:    tabCtx,
		cancel: tabCancel,
		slowMo: s.endpoint.SlowMo,
	}, nil
}

// Close tears down the browser connection. Pages opened from this session
// become unusable.
func (s *cdpSession) Close() error {
	s.browserCancel()
	s.allocCancel()
	return nil
}

type cdpPage struct {
	ctx    context.Context
	cancel context.CancelFunc
	slowMo time.Duration
}

// bind derives a run context from the tab that is additionally cancelled
// when the caller's context expires, so the caller's deadline wins the race
// against any in-flight CDP command. The returned stop func releases the
// watcher; timers never outlive the operation.
func (p *cdpPage) bind(ctx context.Context) (context.Context, context.CancelFunc, func() bool) {
	runCtx, cancel := context.WithCancel(p.ctx)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, cancel, stop
}

func (p *cdpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	if p.slowMo > 0 {
		select {
		case <-time.After(p.slowMo):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	runCtx, cancel, stop := p.bind(ctx)
	defer cancel()
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		// Prefer the caller's typed deadline error over the cascade the
		// cancelled CDP command reports.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

func (p *cdpPage) SetViewport(ctx context.Context, width, height int) error {
	return p.run(ctx, emulation.SetDeviceMetricsOverride(int64(width), int64(height), 1, false))
}

func (p *cdpPage) SetUserAgent(ctx context.Context, userAgent string) error {
	return p.run(ctx, emulation.SetUserAgentOverride(userAgent))
}

func (p *cdpPage) Navigate(ctx context.Context, url string) (int, string, error) {
	if p.slowMo > 0 {
		select {
		case <-time.After(p.slowMo):
		case <-ctx.Done():
			return 0, "", ctx.Err()
		}
	}
	runCtx, cancel, stop := p.bind(ctx)
	defer cancel()
	defer stop()

	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(url))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, "", ctxErr
		}
		return 0, "", err
	}
	if resp == nil {
		return 0, "", nil
	}
	return int(resp.Status), resp.StatusText, nil
}

func (p *cdpPage) WaitDynamicContent(ctx context.Context, d time.Duration) error {
	expr := fmt.Sprintf("new Promise(resolve => setTimeout(resolve, %d))", d.Milliseconds())
	return p.run(ctx, chromedp.Evaluate(expr, nil,
		func(ep *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
			return ep.WithAwaitPromise(true)
		}))
}

const hideScrollbarsScript = `(() => {
	const style = document.createElement('style');
	style.textContent = '::-webkit-scrollbar { display: none !important; }';
	document.head.appendChild(style);
})()`

func (p *cdpPage) HideScrollbars(ctx context.Context) error {
	return p.run(ctx, chromedp.Evaluate(hideScrollbarsScript, nil))
}

func (p *cdpPage) Screenshot(ctx context.Context, format string, quality int, fullPage bool) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		params := page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormat(format)).
			WithCaptureBeyondViewport(fullPage)
		if format == "jpeg" && quality > 0 {
			params = params.WithQuality(int64(quality))
		}
		var err error
		buf, err = params.Do(c)
		return err
	}))
	return buf, err
}

func (p *cdpPage) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		node, err := dom.GetDocument().Do(c)
		if err != nil {
			return err
		}
		html, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(c)
		return err
	}))
	return html, err
}

// Close discards the tab. Errors from the browser side are deliberately
// swallowed; the tab context is gone either way.
func (p *cdpPage) Close() error {
	p.cancel()
	return nil
}
