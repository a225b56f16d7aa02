// api/admission/queue.go
package admission

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	auth_errors "github.com/amanshivam/auth/errors"
	logger "github.com/amanshivam/auth/logging"
	"github.com/amanshivam/auth/model"
)

// Task is a unit of work admitted through the queue.
type Task func() (interface{}, error)

type waiter struct {
	ready   chan struct{}
	arrival time.Time
	granted bool
}

// Queue bounds how many tasks run concurrently and how many may wait. A full
// queue rejects immediately with ErrQueueFull; nothing blocks unboundedly.
// Tasks execute on the submitting goroutine once a slot is granted.
type Queue struct {
	mu            sync.Mutex
	maxConcurrent int
	maxQueueSize  int
	running       int
	waiting       []*waiter

	totalRequests    uint64
	queuedRequests   uint64
	rejectedRequests uint64
	dispatched       uint64
	totalWait        time.Duration
}

func NewQueue(maxConcurrent, maxQueueSize int) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if maxQueueSize < 0 {
		maxQueueSize = 0
	}
	return &Queue{
		maxConcurrent: maxConcurrent,
		maxQueueSize:  maxQueueSize,
	}
}

// Submit runs the task once a concurrency slot is free. It fails immediately
// with ErrQueueFull when the waiting queue is at capacity, or with the
// context's error if the caller gives up while queued.
func (q *Queue) Submit(ctx context.Context, task Task) (interface{}, error) {
	arrival := time.Now()

	q.mu.Lock()
	q.totalRequests++
	if q.running < q.maxConcurrent {
		q.running++
		q.recordDispatchLocked(arrival)
		q.mu.Unlock()
		return q.run(task)
	}
	if len(q.waiting) >= q.maxQueueSize {
		q.rejectedRequests++
		q.mu.Unlock()
		logger.Warn("Admission queue full, rejecting request",
			zap.Int("maxQueueSize", q.maxQueueSize))
		return nil, auth_errors.ErrQueueFull
	}
	w := &waiter{ready: make(chan struct{}), arrival: arrival}
	q.waiting = append(q.waiting, w)
	q.queuedRequests++
	q.mu.Unlock()

	select {
	case <-w.ready:
		return q.run(task)
	case <-ctx.Done():
		q.mu.Lock()
		if w.granted {
			// The slot arrived while we were giving up; hand it on.
			q.running--
			q.grantNextLocked()
			q.mu.Unlock()
			return nil, ctx.Err()
		}
		q.removeWaiterLocked(w)
		q.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (q *Queue) run(task Task) (interface{}, error) {
	defer q.release()
	return task()
}

// release frees the slot and immediately dispatches the next queued task.
func (q *Queue) release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.running--
	q.grantNextLocked()
}

func (q *Queue) grantNextLocked() {
	for len(q.waiting) > 0 && q.running < q.maxConcurrent {
		w := q.waiting[0]
		q.waiting = q.waiting[1:]
		w.granted = true
		q.running++
		q.recordDispatchLocked(w.arrival)
		close(w.ready)
	}
}

func (q *Queue) removeWaiterLocked(target *waiter) {
	for i, w := range q.waiting {
		if w == target {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			return
		}
	}
}

func (q *Queue) recordDispatchLocked(arrival time.Time) {
	q.dispatched++
	q.totalWait += time.Since(arrival)
}

// GetStats returns an operational snapshot.
func (q *Queue) GetStats() model.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := model.QueueStats{
		TotalRequests:    q.totalRequests,
		QueuedRequests:   q.queuedRequests,
		RejectedRequests: q.rejectedRequests,
		QueueLength:      len(q.waiting),
		Running:          q.running,
		MaxConcurrent:    q.maxConcurrent,
		MaxQueueSize:     q.maxQueueSize,
	}
	if q.dispatched > 0 {
		stats.AverageWaitTimeMs = float64(q.totalWait.Microseconds()) / float64(q.dispatched) / 1000.0
	}
	return stats
}
