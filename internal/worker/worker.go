package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"icc.tech/webcapture-agent/internal/browser"
	"icc.tech/webcapture-agent/internal/capture"
)

// maxErrorHistory bounds each worker's retained error records.
const maxErrorHistory = 10

// Capturer executes one capture attempt against a session. Implemented by
// browser.Capturer; faked in tests.
type Capturer interface {
	Capture(ctx context.Context, sess browser.Session, task capture.Task, workerID string) capture.Result
}

// Info is a self-consistent snapshot of one worker. ErrorHistory is a
// defensive copy; callers cannot mutate worker state through it.
type Info struct {
	ID              string
	BrowserEndpoint string
	Status          Status
	ProcessedCount  int
	ErrorCount      int
	ErrorHistory    []capture.ErrorRecord // newest first
}

// Worker owns one browser session and executes one capture at a time.
type Worker struct {
	id       string
	endpoint browser.Endpoint
	gateway  browser.Gateway
	capturer Capturer
	status   *StatusManager

	mu             sync.Mutex
	session        browser.Session
	processedCount int
	errorCount     int
	errorHistory   []capture.ErrorRecord
}

// New creates a worker bound to one browser endpoint, in the stopped state.
func New(id string, ep browser.Endpoint, gw browser.Gateway, c Capturer) *Worker {
	return &Worker{
		id:       id,
		endpoint: ep,
		gateway:  gw,
		capturer: c,
		status:   NewStatusManager(),
	}
}

// ID returns the worker id.
func (w *Worker) ID() string { return w.id }

// Healthy reports whether the worker participates in dispatch.
func (w *Worker) Healthy() bool { return w.status.Healthy() }

// Connect opens the worker's browser session. On success the worker moves
// stopped → idle; on failure it moves to error and records the failure.
func (w *Worker) Connect(ctx context.Context) bool {
	sess, err := w.gateway.Connect(ctx, w.endpoint)
	if err != nil {
		slog.Warn("worker failed to connect",
			"worker", w.id, "endpoint", w.endpoint.URL, "error", err)
		w.mustTransition(StatusError)
		w.recordError(capture.FromError(err), nil)
		return false
	}

	w.mu.Lock()
	w.session = sess
	w.mu.Unlock()

	w.mustTransition(StatusIdle)
	slog.Info("worker connected", "worker", w.id, "endpoint", w.endpoint.URL)
	return true
}

// Disconnect closes the session best-effort and stops the worker.
func (w *Worker) Disconnect() {
	w.mu.Lock()
	sess := w.session
	w.session = nil
	w.mu.Unlock()

	if sess != nil {
		if err := sess.Close(); err != nil {
			slog.Debug("session close error ignored", "worker", w.id, "error", err)
		}
	}
	w.mustTransition(StatusStopped)
	slog.Info("worker disconnected", "worker", w.id)
}

// Process runs one capture attempt. A worker that is not healthy or has no
// session produces a synthetic internal failure without touching counters
// or state. A failure whose message indicates a dropped session moves the
// worker to error; every other outcome returns it to idle.
func (w *Worker) Process(ctx context.Context, task capture.Task) capture.Result {
	w.mu.Lock()
	sess := w.session
	w.mu.Unlock()

	if !w.status.Healthy() || sess == nil {
		return capture.Result{
			Task:      task,
			Status:    capture.StatusFailed,
			Error:     capture.NewInternalError("worker is not available"),
			Timestamp: time.Now().UTC(),
			WorkerID:  w.id,
		}
	}

	w.mustTransition(StatusBusy)
	res := w.capture(ctx, sess, task)

	w.mu.Lock()
	w.processedCount++
	w.mu.Unlock()

	if res.Status != capture.StatusSuccess {
		ref := &capture.TaskRef{TaskID: task.TaskID, URL: task.URL, Labels: task.Labels}
		w.recordError(res.Error, ref)
	}

	if res.Error != nil && capture.IndicatesDisconnect(res.Error.Message) {
		slog.Warn("worker session lost, leaving dispatch",
			"worker", w.id, "task_id", task.TaskID, "error", res.Error.Message)
		w.mustTransition(StatusError)
	} else {
		w.mustTransition(StatusIdle)
	}

	return res
}

// capture invokes the capturer, converting a panic into a failed result so
// no failure crosses the dispatch-loop boundary as anything but a value.
func (w *Worker) capture(ctx context.Context, sess browser.Session, task capture.Task) (res capture.Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("capture panicked", "worker", w.id, "task_id", task.TaskID, "panic", r)
			res = capture.Result{
				Task:      task,
				Status:    capture.StatusFailed,
				Error:     capture.NewInternalError(fmt.Sprintf("capture panic: %v", r)),
				Timestamp: time.Now().UTC(),
				WorkerID:  w.id,
			}
		}
	}()
	return w.capturer.Capture(ctx, sess, task, w.id)
}

// recordError increments the error counter and prepends a record to the
// bounded history, dropping the oldest entry on overflow.
func (w *Worker) recordError(details *capture.ErrorDetails, ref *capture.TaskRef) {
	if details == nil {
		details = capture.NewInternalError("unknown error")
	}
	rec := capture.ErrorRecord{
		Error:     details,
		Timestamp: time.Now().UTC(),
		Task:      ref,
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.errorCount++
	w.errorHistory = append([]capture.ErrorRecord{rec}, w.errorHistory...)
	if len(w.errorHistory) > maxErrorHistory {
		w.errorHistory = w.errorHistory[:maxErrorHistory]
	}
}

// Info returns a snapshot taken under the worker's lock.
func (w *Worker) Info() Info {
	w.mu.Lock()
	defer w.mu.Unlock()

	history := make([]capture.ErrorRecord, len(w.errorHistory))
	copy(history, w.errorHistory)

	return Info{
		ID:              w.id,
		BrowserEndpoint: w.endpoint.URL,
		Status:          w.status.Status(),
		ProcessedCount:  w.processedCount,
		ErrorCount:      w.errorCount,
		ErrorHistory:    history,
	}
}

// mustTransition applies a state change that the caller knows to be legal.
// An illegal transition here is a bug in the dispatch logic, not a runtime
// condition, so it fails loudly.
func (w *Worker) mustTransition(to Status) {
	if err := w.status.Transition(to); err != nil {
		panic(err)
	}
}
