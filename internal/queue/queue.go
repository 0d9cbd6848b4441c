// Package queue implements the FIFO capture task queue.
//
// Tasks move through three disjoint partitions: pending (awaiting dispatch),
// processing (held by exactly one worker) and completed (terminal). A URL
// multiset over pending ∪ processing backs the duplicate-rejection check in
// O(1). All operations are individually atomic under one mutex.
package queue

import (
	"sync"

	"icc.tech/webcapture-agent/internal/capture"
)

// Snapshot is a consistent view of the queue counts.
type Snapshot struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
}

// Queue is the FIFO task queue shared between the submission path and all
// worker dispatch loops.
type Queue struct {
	mu         sync.Mutex
	pending    []capture.Task
	processing map[string]capture.Task
	completed  map[string]struct{}
	urls       map[string]int // URL → occurrences in pending ∪ processing
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		processing: make(map[string]capture.Task),
		completed:  make(map[string]struct{}),
		urls:       make(map[string]int),
	}
}

// Enqueue appends a task to the pending tail. Callers validate; the queue
// does not.
func (q *Queue) Enqueue(t capture.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = append(q.pending, t)
	q.urls[t.URL]++
}

// EnqueueIfAbsent appends a task unless its URL is already pending or
// processing. Check and append happen under the same lock acquisition, so
// concurrent submissions of one URL admit exactly one task.
func (q *Queue) EnqueueIfAbsent(t capture.Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.urls[t.URL] > 0 {
		return false
	}
	q.pending = append(q.pending, t)
	q.urls[t.URL]++
	return true
}

// Dequeue removes the pending head and atomically moves it into processing.
// Returns false when no task is pending. Exactly one caller observes each
// task.
func (q *Queue) Dequeue() (capture.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return capture.Task{}, false
	}
	t := q.pending[0]
	q.pending = q.pending[1:]
	q.processing[t.TaskID] = t
	return t, true
}

// Requeue moves a processing task back to the pending tail with its retry
// count incremented. A retried task goes behind all currently pending tasks.
func (q *Queue) Requeue(t capture.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.processing, t.TaskID)
	t.RetryCount++
	q.pending = append(q.pending, t)
}

// MarkComplete moves a processing task into the completed set and releases
// its URL from the presence index. Idempotent: completing an unknown or
// already-completed task id is a no-op.
func (q *Queue) MarkComplete(taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.processing[taskID]
	if !ok {
		return
	}
	delete(q.processing, taskID)
	if q.urls[t.URL] <= 1 {
		delete(q.urls, t.URL)
	} else {
		q.urls[t.URL]--
	}
	q.completed[taskID] = struct{}{}
}

// HasURL reports whether any pending or processing task carries url.
// Completed tasks do not count.
func (q *Queue) HasURL(url string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.urls[url] > 0
}

// Snapshot returns the current partition counts as one consistent view.
func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Snapshot{
		Pending:    len(q.pending),
		Processing: len(q.processing),
		Completed:  len(q.completed),
	}
}
