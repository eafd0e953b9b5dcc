// Package queue serializes outbound platform calls behind a single worker.
//
// The platform rate limit is global, so a rate-limited task is re-inserted
// at the head and the whole loop pauses for the server-supplied delay. Any
// other failure re-enters at the tail after exponential backoff, up to
// maxRetries, then the task is dropped with a non-fatal error.
package queue

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/imutig/phmc-relay/internal/messenger"
)

// MetricsSink defines the interface for recording queue metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	QueueDepthUpdate(depth int)
	TaskOutcome(outcome string)
	TaskRetry()
	RateLimitPause(d time.Duration)
}

// Outcome labels for TaskOutcome.
const (
	OutcomeSent    = "sent"
	OutcomeDropped = "dropped"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = time.Second
)

type task struct {
	action      func(context.Context) error
	description string
	retries     int
}

// Queue is a single-worker FIFO of outbound tasks. The worker starts
// lazily on Enqueue and stops when the queue drains; enqueueing while
// busy is a no-op trigger.
type Queue struct {
	mu         sync.Mutex
	tasks      []*task
	processing bool

	maxRetries int
	baseDelay  time.Duration

	sleep     func(time.Duration)
	afterFunc func(time.Duration, func())

	metrics MetricsSink // optional, nil = disabled
}

func New() *Queue {
	return &Queue{
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		sleep:      time.Sleep,
		afterFunc:  func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
}

// WithMetrics attaches a metrics sink to the queue.
func (q *Queue) WithMetrics(sink MetricsSink) *Queue {
	q.metrics = sink
	return q
}

// WithBaseDelay overrides the backoff base delay.
func (q *Queue) WithBaseDelay(d time.Duration) *Queue {
	q.baseDelay = d
	return q
}

// Enqueue adds a task and wakes the worker if it is idle.
// The result of the task is never reported back to the caller.
func (q *Queue) Enqueue(action func(context.Context) error, description string) {
	q.mu.Lock()
	q.tasks = append(q.tasks, &task{action: action, description: description})
	depth := len(q.tasks)
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.QueueDepthUpdate(depth)
	}
	q.trigger()
}

// Size returns the number of queued tasks, excluding the one in flight.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *Queue) trigger() {
	q.mu.Lock()
	if q.processing || len(q.tasks) == 0 {
		q.mu.Unlock()
		return
	}
	q.processing = true
	q.mu.Unlock()

	go q.run()
}

func (q *Queue) run() {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.processing = false
			q.mu.Unlock()
			return
		}
		t := q.tasks[0]
		q.tasks = q.tasks[1:]
		depth := len(q.tasks)
		q.mu.Unlock()

		if q.metrics != nil {
			q.metrics.QueueDepthUpdate(depth)
		}

		err := t.action(context.Background())
		if err == nil {
			if q.metrics != nil {
				q.metrics.TaskOutcome(OutcomeSent)
			}
			continue
		}

		if retryAfter, ok := messenger.AsRateLimit(err); ok {
			// Rate limit is not a task failure: re-insert at the head so
			// relative order is preserved, pause the whole loop, retry
			// without consuming an attempt.
			q.mu.Lock()
			q.tasks = append([]*task{t}, q.tasks...)
			q.mu.Unlock()

			log.Printf("queue: rate limited, pausing %s (task=%s)", retryAfter, t.description)
			if q.metrics != nil {
				q.metrics.RateLimitPause(retryAfter)
			}
			q.sleep(retryAfter)
			continue
		}

		if t.retries < q.maxRetries {
			t.retries++
			delay := q.baseDelay * (1 << t.retries)
			log.Printf("queue: %s failed, retry %d/%d in %s: %v",
				t.description, t.retries, q.maxRetries, delay, err)
			if q.metrics != nil {
				q.metrics.TaskRetry()
			}

			// Tail re-insertion after backoff; the loop keeps processing
			// the rest of the queue in the meantime.
			q.afterFunc(delay, func() {
				q.mu.Lock()
				q.tasks = append(q.tasks, t)
				q.mu.Unlock()
				q.trigger()
			})
			continue
		}

		log.Printf("queue: dropping %s after %d retries: %v", t.description, q.maxRetries, err)
		if q.metrics != nil {
			q.metrics.TaskOutcome(OutcomeDropped)
		}
	}
}
