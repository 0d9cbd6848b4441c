package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"icc.tech/webcapture-agent/internal/browser"
	"icc.tech/webcapture-agent/internal/capture"
)

func poolConfig(endpoints int, maxRetries int, rejectDup bool) PoolConfig {
	cfg := PoolConfig{
		MaxRetries:          maxRetries,
		QueuePollInterval:   time.Millisecond,
		RejectDuplicateURLs: rejectDup,
	}
	for i := 0; i < endpoints; i++ {
		cfg.Endpoints = append(cfg.Endpoints, browser.Endpoint{URL: "http://browser:9222"})
	}
	return cfg
}

// waitFor polls until cond holds or the deadline expires.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition never met: %s", msg)
}

func TestPool_ConnectFailsWithZeroHealthyWorkers(t *testing.T) {
	gw := &fakeGateway{err: errors.New("connection refused")}
	p := NewPool(poolConfig(2, 0, false), gw, &scriptedCapturer{script: []capture.Result{successResult()}})

	if err := p.Connect(context.Background()); err == nil {
		t.Fatal("Connect must fail when no worker is healthy")
	}
}

func TestPool_ConnectPartialFailure(t *testing.T) {
	// First dial fails, the rest succeed.
	gw := &flakyGateway{failFirst: 1}
	p := NewPool(poolConfig(2, 0, false), gw, &scriptedCapturer{script: []capture.Result{successResult()}})

	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	st := p.Status()
	if st.HealthyWorkers != 1 || st.TotalWorkers != 2 {
		t.Errorf("healthy/total: got %d/%d, want 1/2", st.HealthyWorkers, st.TotalWorkers)
	}
}

// flakyGateway fails the first failFirst Connect calls.
type flakyGateway struct {
	fakeGateway
	failFirst int
	calls     int
}

func (g *flakyGateway) Connect(ctx context.Context, ep browser.Endpoint) (browser.Session, error) {
	g.mu.Lock()
	g.calls++
	fail := g.calls <= g.failFirst
	g.mu.Unlock()
	if fail {
		return nil, errors.New("connection refused")
	}
	return g.fakeGateway.Connect(ctx, ep)
}

func startedPool(t *testing.T, cfg PoolConfig, c Capturer) *Pool {
	t.Helper()
	p := NewPool(cfg, &fakeGateway{}, c)
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	p.Start()
	t.Cleanup(func() { p.Shutdown(context.Background()) })
	return p
}

func TestPool_HappyPath(t *testing.T) {
	cap := &scriptedCapturer{script: []capture.Result{successResult()}}
	p := startedPool(t, poolConfig(1, 0, false), cap)

	if err := p.Enqueue(capture.Task{TaskID: "t1", URL: "https://example.com", Options: capture.Options{PNG: true}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, func() bool { return p.Status().Queue.Completed == 1 }, "task completed")

	st := p.Status()
	if st.Queue.Pending != 0 || st.Queue.Processing != 0 {
		t.Errorf("queue: %+v", st.Queue)
	}
	w := st.Workers[0]
	if w.ProcessedCount != 1 || w.ErrorCount != 0 {
		t.Errorf("worker counters: %+v", w)
	}
}

func TestPool_RetryThenSucceed(t *testing.T) {
	cap := &scriptedCapturer{script: []capture.Result{timeoutResult(), successResult()}}
	p := startedPool(t, poolConfig(1, 2, false), cap)

	p.Enqueue(capture.Task{TaskID: "t1", URL: "https://example.com", Options: capture.Options{PNG: true}})

	waitFor(t, func() bool { return p.Status().Queue.Completed == 1 }, "task completed after retry")

	st := p.Status()
	w := st.Workers[0]
	if w.ProcessedCount != 2 {
		t.Errorf("ProcessedCount: got %d, want 2", w.ProcessedCount)
	}
	if w.ErrorCount != 1 {
		t.Errorf("ErrorCount: got %d, want 1", w.ErrorCount)
	}
	if len(w.ErrorHistory) != 1 {
		t.Errorf("ErrorHistory length: got %d, want 1", len(w.ErrorHistory))
	}
}

func TestPool_ExhaustRetries(t *testing.T) {
	cap := &scriptedCapturer{script: []capture.Result{{Status: capture.StatusFailed, Error: capture.NewInternalError("boom")}}}
	p := startedPool(t, poolConfig(1, 1, false), cap)

	p.Enqueue(capture.Task{TaskID: "t1", URL: "https://example.com", Options: capture.Options{PNG: true}})

	waitFor(t, func() bool { return p.Status().Queue.Completed == 1 }, "task terminal after retries exhausted")

	st := p.Status()
	w := st.Workers[0]
	if w.ProcessedCount != 2 {
		t.Errorf("ProcessedCount: got %d, want 2 (maxRetries+1 attempts)", w.ProcessedCount)
	}
	if w.ErrorCount != 2 {
		t.Errorf("ErrorCount: got %d, want 2", w.ErrorCount)
	}
}

func TestPool_HTTPErrorRetriedLikeAnyFailure(t *testing.T) {
	httpRes := capture.Result{
		Status:         capture.StatusHTTPError,
		HTTPStatusCode: 503,
		Error:          capture.NewHTTPError(503, ""),
	}
	cap := &scriptedCapturer{script: []capture.Result{httpRes}}
	p := startedPool(t, poolConfig(1, 2, false), cap)

	p.Enqueue(capture.Task{TaskID: "t1", URL: "https://example.com", Options: capture.Options{PNG: true}})

	waitFor(t, func() bool { return p.Status().Queue.Completed == 1 }, "http-error task terminal")

	if got := p.Status().Workers[0].ProcessedCount; got != 3 {
		t.Errorf("ProcessedCount: got %d, want 3 attempts", got)
	}
}

func TestPool_DuplicateURLRejection(t *testing.T) {
	// Block the single worker so the first task stays in processing.
	gate := make(chan struct{})
	cap := &blockingCapturer{gate: gate}
	p := startedPool(t, poolConfig(1, 0, true), cap)

	if err := p.Enqueue(capture.Task{TaskID: "t1", URL: "https://u.example", Options: capture.Options{PNG: true}}); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}

	waitFor(t, func() bool { return p.Status().Queue.Processing == 1 }, "first task picked up")

	err := p.Enqueue(capture.Task{TaskID: "t2", URL: "https://u.example", Options: capture.Options{PNG: true}})
	if err == nil {
		t.Fatal("duplicate URL must be rejected while in flight")
	}
	if got, want := err.Error(), "URL already in queue: https://u.example"; got != want {
		t.Errorf("error: got %q, want %q", got, want)
	}

	close(gate)
	waitFor(t, func() bool { return p.Status().Queue.Completed == 1 }, "first task completed")

	if err := p.Enqueue(capture.Task{TaskID: "t3", URL: "https://u.example", Options: capture.Options{PNG: true}}); err != nil {
		t.Errorf("resubmission after completion must be accepted: %v", err)
	}
}

// blockingCapturer parks until its gate closes, then succeeds.
type blockingCapturer struct {
	gate chan struct{}
}

func (c *blockingCapturer) Capture(_ context.Context, _ browser.Session, task capture.Task, workerID string) capture.Result {
	<-c.gate
	res := successResult()
	res.Task = task
	res.WorkerID = workerID
	return res
}

func TestPool_WorkerLeavingDispatchDropsHealthyCount(t *testing.T) {
	cap := &scriptedCapturer{script: []capture.Result{connectionResult()}}
	p := startedPool(t, poolConfig(1, 0, false), cap)

	p.Enqueue(capture.Task{TaskID: "t1", URL: "https://example.com", Options: capture.Options{PNG: true}})

	waitFor(t, func() bool { return p.Status().HealthyWorkers == 0 }, "worker left healthy set")

	st := p.Status()
	if st.Queue.Completed != 1 {
		t.Errorf("task must still be accounted terminal, queue: %+v", st.Queue)
	}
	if !st.Running {
		t.Error("pool keeps running with zero healthy workers")
	}
}

func TestPool_StartIdempotent(t *testing.T) {
	cap := &scriptedCapturer{script: []capture.Result{successResult()}}
	p := NewPool(poolConfig(1, 0, false), &fakeGateway{}, cap)
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	p.Start()
	p.Start() // must not spawn a second dispatch loop

	p.Enqueue(capture.Task{TaskID: "t1", URL: "https://example.com", Options: capture.Options{PNG: true}})
	waitFor(t, func() bool { return p.Status().Queue.Completed == 1 }, "task completed")

	if got := p.Status().Workers[0].ProcessedCount; got != 1 {
		t.Errorf("task processed %d times, want exactly once", got)
	}
	p.Shutdown(context.Background())
}

func TestPool_ShutdownStopsDispatchAndDisconnects(t *testing.T) {
	cap := &scriptedCapturer{script: []capture.Result{successResult()}}
	gw := &fakeGateway{}
	p := NewPool(poolConfig(2, 0, false), gw, cap)
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	p.Start()

	p.Shutdown(context.Background())

	st := p.Status()
	if st.Running {
		t.Error("pool must report not running after shutdown")
	}
	for _, w := range st.Workers {
		if w.Status != StatusStopped {
			t.Errorf("worker %s: status %q, want stopped", w.ID, w.Status)
		}
	}
	for _, s := range gw.sessions {
		if !s.isClosed() {
			t.Error("all sessions must be closed after shutdown")
		}
	}
}
