package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/imutig/phmc-relay/internal/messenger"
)

// newTestQueue returns a queue with instant sleep and synchronous
// re-insertion so tests run deterministically.
func newTestQueue() (*Queue, *pauseRecorder) {
	rec := &pauseRecorder{}
	q := New()
	q.baseDelay = time.Millisecond
	q.sleep = rec.sleep
	q.afterFunc = func(d time.Duration, f func()) { f() }
	return q, rec
}

type pauseRecorder struct {
	mu     sync.Mutex
	pauses []time.Duration
}

func (r *pauseRecorder) sleep(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pauses = append(r.pauses, d)
}

func (r *pauseRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pauses)
}

// waitIdle polls until the queue drains and the worker parks.
func waitIdle(t *testing.T, q *Queue) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		q.mu.Lock()
		idle := !q.processing && len(q.tasks) == 0
		q.mu.Unlock()
		if idle {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("queue did not drain in time")
}

type execLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *execLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, s)
}

func (l *execLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func TestEnqueueRunsTask(t *testing.T) {
	q, _ := newTestQueue()
	done := make(chan struct{})

	q.Enqueue(func(ctx context.Context) error {
		close(done)
		return nil
	}, "task")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
	waitIdle(t, q)
}

func TestRetryBoundedThenDropped(t *testing.T) {
	q, _ := newTestQueue()

	var mu sync.Mutex
	attempts := 0
	q.Enqueue(func(ctx context.Context) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("boom")
	}, "always-fails")

	waitIdle(t, q)

	mu.Lock()
	got := attempts
	mu.Unlock()
	// First attempt plus maxRetries re-attempts, then the task is dropped.
	if got != 4 {
		t.Fatalf("attempts = %d, want 4", got)
	}
}

func TestRateLimitPreservesOrder(t *testing.T) {
	q, rec := newTestQueue()
	logged := &execLog{}

	var mu sync.Mutex
	limited := false

	q.Enqueue(func(ctx context.Context) error {
		mu.Lock()
		first := !limited
		limited = true
		mu.Unlock()
		if first {
			return &messenger.RateLimitError{RetryAfter: 50 * time.Millisecond}
		}
		logged.add("A")
		return nil
	}, "A")
	q.Enqueue(func(ctx context.Context) error {
		logged.add("B")
		return nil
	}, "B")
	q.Enqueue(func(ctx context.Context) error {
		logged.add("C")
		return nil
	}, "C")

	waitIdle(t, q)

	got := logged.snapshot()
	want := []string{"A", "B", "C"}
	if len(got) != len(want) {
		t.Fatalf("executed %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("executed %v, want %v", got, want)
		}
	}
	if rec.count() != 1 {
		t.Fatalf("pauses = %d, want 1", rec.count())
	}
	rec.mu.Lock()
	pause := rec.pauses[0]
	rec.mu.Unlock()
	if pause != 50*time.Millisecond {
		t.Fatalf("pause = %s, want 50ms", pause)
	}
}

func TestRateLimitDoesNotConsumeRetry(t *testing.T) {
	q, _ := newTestQueue()

	var mu sync.Mutex
	attempts := 0
	q.Enqueue(func(ctx context.Context) error {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n <= 5 {
			return &messenger.RateLimitError{RetryAfter: time.Millisecond}
		}
		return nil
	}, "rate-limited")

	waitIdle(t, q)

	mu.Lock()
	got := attempts
	mu.Unlock()
	// Five rate-limited attempts plus the success, all without touching
	// the retry budget.
	if got != 6 {
		t.Fatalf("attempts = %d, want 6", got)
	}
}

func TestEnqueueFromRunningTask(t *testing.T) {
	q, _ := newTestQueue()
	logged := &execLog{}

	q.Enqueue(func(ctx context.Context) error {
		logged.add("outer")
		q.Enqueue(func(ctx context.Context) error {
			logged.add("inner")
			return nil
		}, "inner")
		return nil
	}, "outer")

	waitIdle(t, q)

	got := logged.snapshot()
	if len(got) != 2 || got[0] != "outer" || got[1] != "inner" {
		t.Fatalf("executed %v, want [outer inner]", got)
	}
}

type fakeQueueMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
	retries  int
	pauses   int
}

func newFakeQueueMetrics() *fakeQueueMetrics {
	return &fakeQueueMetrics{outcomes: make(map[string]int)}
}

func (m *fakeQueueMetrics) QueueDepthUpdate(depth int) {}
func (m *fakeQueueMetrics) TaskOutcome(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[outcome]++
}
func (m *fakeQueueMetrics) TaskRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}
func (m *fakeQueueMetrics) RateLimitPause(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pauses++
}

func TestMetricsOutcomes(t *testing.T) {
	q, _ := newTestQueue()
	sink := newFakeQueueMetrics()
	q.WithMetrics(sink)

	q.Enqueue(func(ctx context.Context) error { return nil }, "ok")
	q.Enqueue(func(ctx context.Context) error { return errors.New("boom") }, "bad")

	waitIdle(t, q)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.outcomes[OutcomeSent] != 1 {
		t.Errorf("sent = %d, want 1", sink.outcomes[OutcomeSent])
	}
	if sink.outcomes[OutcomeDropped] != 1 {
		t.Errorf("dropped = %d, want 1", sink.outcomes[OutcomeDropped])
	}
	if sink.retries != 3 {
		t.Errorf("retries = %d, want 3", sink.retries)
	}
}
