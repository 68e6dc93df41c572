// Package queue is the bounded task queue feeding the worker pool.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/revscore/pkg/metrics"
)

const defaultCapacity = 1024

// Task is one unit of work waiting for a worker.
type Task struct {
	Run      func()
	Enqueued time.Time
}

// Queue provides blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue waits until t fits in the queue, the queue is closed or ctx
	// is done.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue returns the channel workers read from. It is closed when the
	// queue is closed.
	Dequeue() <-chan Task

	// Len returns the current number of queued tasks.
	Len() int

	// Close stops accepting tasks. Tasks already queued stay readable.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	tasks     chan Task
	capacity  int
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultCapacity,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.tasks = make(chan Task, q.capacity)
	return q
}

// Enqueue adds a task to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, t Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}
	if t.Enqueued.IsZero() {
		t.Enqueued = time.Now()
	}

	select {
	case q.tasks <- t:
		metrics.UpdateQueueSize(len(q.tasks))
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue returns the task channel.
func (q *InMemoryQueue) Dequeue() <-chan Task {
	return q.tasks
}

// Len returns the current number of queued tasks.
func (q *InMemoryQueue) Len() int {
	size := len(q.tasks)
	metrics.UpdateQueueSize(size)
	return size
}

// Close gracefully shuts down the queue.
func (q *InMemoryQueue) Close() error {
	// Release blocked producers before taking the write lock they hold
	// for reading.
	q.closeOnce.Do(func() { close(q.done) })

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.tasks)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
