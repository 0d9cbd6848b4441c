package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"icc.tech/webcapture-agent/internal/browser"
	"icc.tech/webcapture-agent/internal/capture"
	"icc.tech/webcapture-agent/internal/metrics"
	"icc.tech/webcapture-agent/internal/queue"
)

// PoolConfig carries the dispatch policy knobs.
type PoolConfig struct {
	Endpoints           []browser.Endpoint
	MaxRetries          int
	QueuePollInterval   time.Duration
	RejectDuplicateURLs bool
}

// PoolStatus is an aggregate snapshot across the queue and all workers.
type PoolStatus struct {
	Queue          queue.Snapshot
	HealthyWorkers int
	TotalWorkers   int
	Running        bool
	Workers        []Info
}

// Pool owns the task queue and all workers, one per configured browser
// endpoint, and runs one dispatch loop per healthy worker.
type Pool struct {
	cfg     PoolConfig
	queue   *queue.Queue
	workers []*Worker

	running atomic.Bool
	started atomic.Bool
	wg      sync.WaitGroup
}

// NewPool constructs workers worker-1..N from the configured endpoints.
// Workers start in the stopped state; call Connect before Start.
func NewPool(cfg PoolConfig, gw browser.Gateway, c Capturer) *Pool {
	p := &Pool{
		cfg:   cfg,
		queue: queue.New(),
	}
	for i, ep := range cfg.Endpoints {
		p.workers = append(p.workers, New(fmt.Sprintf("worker-%d", i+1), ep, gw, c))
	}
	return p
}

// Connect attempts to open every worker's browser session in parallel.
// Workers that fail stay in error state and are never dispatched to; the
// pool only fails when no worker at all became healthy.
func (p *Pool) Connect(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		g.Go(func() error {
			w.Connect(gctx)
			return nil
		})
	}
	g.Wait()

	healthy := p.healthyCount()
	metrics.HealthyWorkers.Set(float64(healthy))
	if healthy == 0 {
		return fmt.Errorf("no browser endpoint reachable (%d configured)", len(p.workers))
	}

	slog.Info("worker pool connected",
		"healthy", healthy, "total", len(p.workers))
	return nil
}

// Start spawns one dispatch loop per currently-healthy worker. Idempotent
// against repeated calls.
func (p *Pool) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	p.running.Store(true)

	for _, w := range p.workers {
		if !w.Healthy() {
			continue
		}
		p.wg.Add(1)
		go p.dispatchLoop(w)
	}
	slog.Info("worker pool started", "workers", p.healthyCount())
}

// dispatchLoop pulls tasks for one worker until the pool stops or the
// worker leaves the healthy set. A worker that drops to error state is not
// restarted for the process lifetime.
func (p *Pool) dispatchLoop(w *Worker) {
	defer p.wg.Done()
	defer func() {
		metrics.HealthyWorkers.Set(float64(p.healthyCount()))
		slog.Info("dispatch loop exited", "worker", w.ID())
	}()

	for p.running.Load() && w.Healthy() {
		task, ok := p.queue.Dequeue()
		if !ok {
			time.Sleep(p.cfg.QueuePollInterval)
			continue
		}

		res := w.Process(context.Background(), task)

		metrics.CapturesTotal.WithLabelValues(w.ID(), string(res.Status)).Inc()
		metrics.CaptureDurationSeconds.WithLabelValues(w.ID()).
			Observe(float64(res.ProcessingTimeMs) / 1000)

		if res.Status != capture.StatusSuccess && task.RetryCount < p.cfg.MaxRetries {
			p.queue.Requeue(task)
			metrics.RetriesTotal.Inc()
			slog.Info("task requeued",
				"task_id", task.TaskID,
				"url", task.URL,
				"attempt", task.RetryCount+1,
				"status", res.Status,
			)
		} else {
			p.queue.MarkComplete(task.TaskID)
			p.logTerminal(res)
		}
		p.publishQueueDepth()

		if !w.Healthy() {
			break
		}
	}
}

func (p *Pool) logTerminal(res capture.Result) {
	if res.Status == capture.StatusSuccess {
		slog.Info("capture completed",
			"task_id", res.Task.TaskID,
			"url", res.Task.URL,
			"worker", res.WorkerID,
			"duration_ms", res.ProcessingTimeMs,
			"png", res.PNGPath,
			"jpeg", res.JPEGPath,
			"html", res.HTMLPath,
		)
		return
	}
	slog.Warn("capture failed terminally",
		"task_id", res.Task.TaskID,
		"url", res.Task.URL,
		"worker", res.WorkerID,
		"status", res.Status,
		"attempts", res.Task.RetryCount+1,
		"error", errMessage(res.Error),
	)
}

func errMessage(d *capture.ErrorDetails) string {
	if d == nil {
		return ""
	}
	return d.Message
}

// Enqueue applies the duplicate-URL policy and appends the task.
func (p *Pool) Enqueue(t capture.Task) error {
	if p.cfg.RejectDuplicateURLs {
		if !p.queue.EnqueueIfAbsent(t) {
			return fmt.Errorf("URL already in queue: %s", t.URL)
		}
	} else {
		p.queue.Enqueue(t)
	}
	p.publishQueueDepth()
	slog.Debug("task enqueued", "task_id", t.TaskID, "url", t.URL)
	return nil
}

// Running reports whether the pool accepts dispatch work.
func (p *Pool) Running() bool {
	return p.running.Load()
}

// Status assembles a snapshot across the queue and every worker. Worker
// infos are value copies; callers cannot mutate pool state through them.
func (p *Pool) Status() PoolStatus {
	st := PoolStatus{
		Queue:        p.queue.Snapshot(),
		TotalWorkers: len(p.workers),
		Running:      p.running.Load(),
	}
	for _, w := range p.workers {
		info := w.Info()
		if info.Status == StatusIdle || info.Status == StatusBusy {
			st.HealthyWorkers++
		}
		st.Workers = append(st.Workers, info)
	}
	return st
}

// Shutdown stops dispatch, waits for in-flight captures to finish and
// disconnects every worker in parallel. Safe to call once.
func (p *Pool) Shutdown(ctx context.Context) {
	slog.Info("worker pool shutting down")
	p.running.Store(false)
	p.wg.Wait()

	g, _ := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		g.Go(func() error {
			w.Disconnect()
			return nil
		})
	}
	g.Wait()
	metrics.HealthyWorkers.Set(0)
	slog.Info("worker pool stopped")
}

func (p *Pool) healthyCount() int {
	n := 0
	for _, w := range p.workers {
		if w.Healthy() {
			n++
		}
	}
	return n
}

func (p *Pool) publishQueueDepth() {
	snap := p.queue.Snapshot()
	metrics.QueueDepth.WithLabelValues("pending").Set(float64(snap.Pending))
	metrics.QueueDepth.WithLabelValues("processing").Set(float64(snap.Processing))
	metrics.QueueDepth.WithLabelValues("completed").Set(float64(snap.Completed))
}
