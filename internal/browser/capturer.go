package browser

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"icc.tech/webcapture-agent/internal/capture"
)

// defaultDynamicWait is the fixed settle time granted to in-page scripts
// after a successful navigation.
const defaultDynamicWait = 3 * time.Second

// CapturerConfig carries the per-attempt capture parameters.
type CapturerConfig struct {
	OutputDir       string
	PageLoadTimeout time.Duration
	CaptureTimeout  time.Duration
	ViewportWidth   int
	ViewportHeight  int
	UserAgent       string
	FullPage        bool
	Quality         int // jpeg only, 1-100, 0 = browser default
	DynamicWait     time.Duration
}

// Capturer executes one capture attempt against one browser session.
type Capturer struct {
	cfg CapturerConfig
}

// NewCapturer creates a capturer. A zero DynamicWait falls back to the
// fixed 3 s settle time.
func NewCapturer(cfg CapturerConfig) *Capturer {
	if cfg.DynamicWait == 0 {
		cfg.DynamicWait = defaultDynamicWait
	}
	return &Capturer{cfg: cfg}
}

// Capture runs the full capture pipeline for task on sess: open page, set
// viewport and user-agent, bounded navigation, HTTP status classification,
// dynamic-content wait, scrollbar hiding, artifact extraction and
// persistence. The page is closed on every exit path and all failures are
// materialized into the result; Capture never returns an error.
func (c *Capturer) Capture(ctx context.Context, sess Session, task capture.Task, workerID string) capture.Result {
	start := time.Now()
	res := capture.Result{Task: task, WorkerID: workerID}

	pg, err := sess.NewPage(ctx)
	if err != nil {
		return c.fail(res, start, err, nil)
	}
	defer pg.Close()

	if err := pg.SetViewport(ctx, c.cfg.ViewportWidth, c.cfg.ViewportHeight); err != nil {
		return c.fail(res, start, err, nil)
	}
	if c.cfg.UserAgent != "" {
		if err := pg.SetUserAgent(ctx, c.cfg.UserAgent); err != nil {
			return c.fail(res, start, err, nil)
		}
	}

	navCtx, navCancel := context.WithTimeout(ctx, c.cfg.PageLoadTimeout)
	status, statusText, err := pg.Navigate(navCtx, task.URL)
	navCancel()
	if err != nil {
		return c.fail(res, start, err, capture.NewTimeoutError(int(c.cfg.PageLoadTimeout.Milliseconds()), "navigation"))
	}

	res.HTTPStatusCode = status
	if status < 200 || status >= 300 {
		res.Status = capture.StatusHTTPError
		res.Error = capture.NewHTTPError(status, statusText)
		return c.finish(res, start)
	}

	if err := pg.WaitDynamicContent(ctx, c.cfg.DynamicWait); err != nil {
		return c.fail(res, start, err, nil)
	}
	if err := pg.HideScrollbars(ctx); err != nil {
		return c.fail(res, start, err, nil)
	}

	if task.Options.PNG {
		path, err := c.saveScreenshot(ctx, pg, task, "png")
		if err != nil {
			return c.fail(res, start, err, capture.NewTimeoutError(int(c.cfg.CaptureTimeout.Milliseconds()), "png capture"))
		}
		res.PNGPath = path
	}
	if task.Options.JPEG {
		path, err := c.saveScreenshot(ctx, pg, task, "jpeg")
		if err != nil {
			return c.fail(res, start, err, capture.NewTimeoutError(int(c.cfg.CaptureTimeout.Milliseconds()), "jpeg capture"))
		}
		res.JPEGPath = path
	}
	if task.Options.HTML {
		path, err := c.saveHTML(ctx, pg, task)
		if err != nil {
			return c.fail(res, start, err, capture.NewTimeoutError(int(c.cfg.CaptureTimeout.Milliseconds()), "html capture"))
		}
		res.HTMLPath = path
	}

	res.Status = capture.StatusSuccess
	return c.finish(res, start)
}

func (c *Capturer) saveScreenshot(ctx context.Context, pg Page, task capture.Task, format string) (string, error) {
	capCtx, cancel := context.WithTimeout(ctx, c.cfg.CaptureTimeout)
	defer cancel()

	data, err := pg.Screenshot(capCtx, format, c.cfg.Quality, c.cfg.FullPage)
	if err != nil {
		return "", err
	}
	return c.write(task, format, data)
}

func (c *Capturer) saveHTML(ctx context.Context, pg Page, task capture.Task) (string, error) {
	capCtx, cancel := context.WithTimeout(ctx, c.cfg.CaptureTimeout)
	defer cancel()

	html, err := pg.HTML(capCtx)
	if err != nil {
		return "", err
	}
	return c.write(task, "html", []byte(html))
}

func (c *Capturer) write(task capture.Task, ext string, data []byte) (string, error) {
	name := capture.GenerateFilename(task.TaskID, task.CorrelationID, task.Labels, ext)
	path := filepath.Join(c.cfg.OutputDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// fail materializes err into the result. When the failure is the caller's
// lost wall-clock race and a prepared timeout detail is supplied, that
// detail wins over the generic classification so the result carries the
// configured bound.
func (c *Capturer) fail(res capture.Result, start time.Time, err error, onDeadline *capture.ErrorDetails) capture.Result {
	if onDeadline != nil && errors.Is(err, context.DeadlineExceeded) {
		res.Error = onDeadline
	} else {
		res.Error = capture.FromError(err)
	}

	if res.Error.Type == capture.ErrorTypeTimeout {
		res.Status = capture.StatusTimeout
	} else {
		res.Status = capture.StatusFailed
	}

	// Non-success results carry no artifact paths even when earlier
	// formats were already written.
	res.PNGPath, res.JPEGPath, res.HTMLPath = "", "", ""

	slog.Debug("capture attempt failed",
		"task_id", res.Task.TaskID,
		"url", res.Task.URL,
		"error_type", res.Error.Type,
		"error", res.Error.Message,
	)
	return c.finish(res, start)
}

func (c *Capturer) finish(res capture.Result, start time.Time) capture.Result {
	res.ProcessingTimeMs = time.Since(start).Milliseconds()
	res.Timestamp = time.Now().UTC()
	return res
}
