package engine

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Queue is the transport between the scheduler and the worker engine.
// SubmitTasks must land or fail as a whole batch. PollResults blocks
// up to timeout waiting for the first result, then drains what is
// immediately available up to maxItems.
type Queue interface {
	SubmitTasks(ctx context.Context, tasks []TaskPayload) error
	PollResults(ctx context.Context, maxItems int, timeout time.Duration) ([]ResultPayload, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// InMemoryQueue implements Queue in process. Local development runs
// the worker loop against it; tests use it to observe submitted tasks
// and inject results.
type InMemoryQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []TaskPayload
	results []ResultPayload
	closed  bool
}

// NewInMemoryQueue creates an empty in-memory queue.
func NewInMemoryQueue() *InMemoryQueue {
	q := &InMemoryQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// SubmitTasks appends the whole batch atomically.
func (q *InMemoryQueue) SubmitTasks(ctx context.Context, tasks []TaskPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return fmt.Errorf("queue is closed")
	}

	q.tasks = append(q.tasks, tasks...)
	q.cond.Broadcast()
	return nil
}

// PollResults waits up to timeout for at least one result, then
// returns up to maxItems.
func (q *InMemoryQueue) PollResults(ctx context.Context, maxItems int, timeout time.Duration) ([]ResultPayload, error) {
	deadline := time.Now().Add(timeout)

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.results) == 0 && !q.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		if err := q.waitLocked(ctx, remaining); err != nil {
			return nil, err
		}
	}

	if len(q.results) == 0 {
		return nil, nil
	}

	n := len(q.results)
	if maxItems > 0 && n > maxItems {
		n = maxItems
	}
	batch := make([]ResultPayload, n)
	copy(batch, q.results[:n])
	q.results = q.results[n:]
	return batch, nil
}

// waitLocked waits for a signal, a timeout, or context cancellation.
// The queue mutex is held on entry and exit. The waker takes the mutex
// before broadcasting, so it cannot fire before Wait releases it.
func (q *InMemoryQueue) waitLocked(ctx context.Context, timeout time.Duration) error {
	woke := make(chan struct{})
	go func() {
		select {
		case <-time.After(timeout):
		case <-ctx.Done():
		case <-woke:
			return
		}
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	}()
	q.cond.Wait()
	close(woke)
	return ctx.Err()
}

// PushResults injects results as the worker engine would.
func (q *InMemoryQueue) PushResults(results ...ResultPayload) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.results = append(q.results, results...)
	q.cond.Broadcast()
}

// TakeTasks drains and returns every submitted task.
func (q *InMemoryQueue) TakeTasks() []TaskPayload {
	q.mu.Lock()
	defer q.mu.Unlock()

	tasks := q.tasks
	q.tasks = nil
	return tasks
}

// PendingTasks returns the number of submitted, unconsumed tasks.
func (q *InMemoryQueue) PendingTasks() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// HealthCheck always succeeds for the in-memory queue.
func (q *InMemoryQueue) HealthCheck(ctx context.Context) error {
	return nil
}

// Close wakes all waiters and rejects further submissions.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
	return nil
}
