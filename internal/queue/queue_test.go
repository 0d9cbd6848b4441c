package queue

import (
	"fmt"
	"sync"
	"testing"

	"icc.tech/webcapture-agent/internal/capture"
)

func testTask(id, url string) capture.Task {
	return capture.Task{
		TaskID:  id,
		URL:     url,
		Options: capture.Options{PNG: true},
	}
}

func TestQueue_FIFO(t *testing.T) {
	q := New()
	q.Enqueue(testTask("a", "https://a.example"))
	q.Enqueue(testTask("b", "https://b.example"))
	q.Enqueue(testTask("c", "https://c.example"))

	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.Dequeue()
		if !ok {
			t.Fatalf("Dequeue: queue unexpectedly empty, want %q", want)
		}
		if got.TaskID != want {
			t.Errorf("Dequeue: got %q, want %q", got.TaskID, want)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Error("Dequeue on empty queue should report no task")
	}
}

func TestQueue_DequeueExchange(t *testing.T) {
	q := New()
	q.Enqueue(testTask("t1", "https://example.com"))

	got, ok := q.Dequeue()
	if !ok {
		t.Fatal("expected a task")
	}
	snap := q.Snapshot()
	if snap.Pending != 0 || snap.Processing != 1 {
		t.Errorf("snapshot after dequeue: %+v", snap)
	}
	if !q.HasURL(got.URL) {
		t.Error("URL must remain present while processing")
	}
}

func TestQueue_HasURL(t *testing.T) {
	q := New()
	if q.HasURL("https://example.com") {
		t.Error("empty queue should not report URL presence")
	}

	q.Enqueue(testTask("t1", "https://example.com"))
	if !q.HasURL("https://example.com") {
		t.Error("pending task URL should be present")
	}

	task, _ := q.Dequeue()
	if !q.HasURL("https://example.com") {
		t.Error("processing task URL should be present")
	}

	q.MarkComplete(task.TaskID)
	if q.HasURL("https://example.com") {
		t.Error("completed task URL should not be present")
	}
}

func TestQueue_HasURL_DuplicateEntries(t *testing.T) {
	q := New()
	q.Enqueue(testTask("t1", "https://example.com"))
	q.Enqueue(testTask("t2", "https://example.com"))

	a, _ := q.Dequeue()
	q.MarkComplete(a.TaskID)
	if !q.HasURL("https://example.com") {
		t.Error("second task still pending, URL must stay present")
	}

	b, _ := q.Dequeue()
	q.MarkComplete(b.TaskID)
	if q.HasURL("https://example.com") {
		t.Error("all tasks done, URL must be released")
	}
}

func TestQueue_EnqueueIfAbsent(t *testing.T) {
	q := New()
	if !q.EnqueueIfAbsent(testTask("t1", "https://example.com")) {
		t.Fatal("first enqueue must be admitted")
	}
	if q.EnqueueIfAbsent(testTask("t2", "https://example.com")) {
		t.Error("same URL must be refused while pending")
	}

	task, _ := q.Dequeue()
	if q.EnqueueIfAbsent(testTask("t3", "https://example.com")) {
		t.Error("same URL must be refused while processing")
	}

	q.MarkComplete(task.TaskID)
	if !q.EnqueueIfAbsent(testTask("t4", "https://example.com")) {
		t.Error("completed URL must be admitted again")
	}
}

func TestQueue_EnqueueIfAbsentConcurrent(t *testing.T) {
	q := New()
	const n = 32
	var wg sync.WaitGroup
	admitted := make(chan string, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("t%d", i)
			if q.EnqueueIfAbsent(testTask(id, "https://example.com")) {
				admitted <- id
			}
		}(i)
	}
	wg.Wait()
	close(admitted)

	if got := len(admitted); got != 1 {
		t.Errorf("admitted %d tasks for one URL, want 1", got)
	}
	if snap := q.Snapshot(); snap.Pending != 1 {
		t.Errorf("pending %d, want 1", snap.Pending)
	}
}

func TestQueue_RequeueIncrementsAndGoesToTail(t *testing.T) {
	q := New()
	q.Enqueue(testTask("t1", "https://a.example"))

	task, _ := q.Dequeue()
	if task.RetryCount != 0 {
		t.Fatalf("fresh task RetryCount: got %d, want 0", task.RetryCount)
	}

	q.Enqueue(testTask("t2", "https://b.example"))
	q.Requeue(task)

	next, _ := q.Dequeue()
	if next.TaskID != "t2" {
		t.Errorf("requeued task must go behind pending tasks, got %q first", next.TaskID)
	}
	retried, _ := q.Dequeue()
	if retried.TaskID != "t1" {
		t.Fatalf("expected retried task, got %q", retried.TaskID)
	}
	if retried.RetryCount != 1 {
		t.Errorf("RetryCount after requeue: got %d, want 1", retried.RetryCount)
	}
	if !q.HasURL("https://a.example") {
		t.Error("requeued task URL must remain present")
	}
}

func TestQueue_MarkCompleteIdempotent(t *testing.T) {
	q := New()
	q.Enqueue(testTask("t1", "https://example.com"))
	task, _ := q.Dequeue()

	q.MarkComplete(task.TaskID)
	q.MarkComplete(task.TaskID)
	q.MarkComplete("never-seen")

	snap := q.Snapshot()
	if snap.Completed != 1 {
		t.Errorf("Completed: got %d, want 1", snap.Completed)
	}
	if q.HasURL("https://example.com") {
		t.Error("HasURL must stay false after repeated MarkComplete")
	}
}

func TestQueue_PartitionsDisjoint(t *testing.T) {
	q := New()
	for i := 0; i < 5; i++ {
		q.Enqueue(testTask(fmt.Sprintf("t%d", i), fmt.Sprintf("https://%d.example", i)))
	}
	a, _ := q.Dequeue()
	b, _ := q.Dequeue()
	q.MarkComplete(a.TaskID)
	q.Requeue(b)

	snap := q.Snapshot()
	total := snap.Pending + snap.Processing + snap.Completed
	if total != 5 {
		t.Errorf("partition counts %+v must sum to 5, got %d", snap, total)
	}
	if snap.Pending != 4 || snap.Processing != 0 || snap.Completed != 1 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestQueue_ConcurrentDequeueExactlyOnce(t *testing.T) {
	q := New()
	const n = 200
	for i := 0; i < n; i++ {
		q.Enqueue(testTask(fmt.Sprintf("t%d", i), fmt.Sprintf("https://%d.example", i)))
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, ok := q.Dequeue()
				if !ok {
					return
				}
				mu.Lock()
				seen[task.TaskID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Fatalf("observed %d distinct tasks, want %d", len(seen), n)
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("task %q dequeued %d times", id, count)
		}
	}
}
