package bus

import (
	"context"
	"sync"

	"tradecore/pkg/exception"
)

// Queue is a bounded FIFO handing values from producer goroutines to a
// single consumer. It is the only structure in the core touched by more than
// one goroutine.
type Queue[T any] struct {
	ch     chan T
	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

// NewQueue allocates a queue with the given capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{
		ch:   make(chan T, capacity),
		done: make(chan struct{}),
	}
}

// TryPublish enqueues a value without blocking.
func (q *Queue[T]) TryPublish(v T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return exception.ErrQueueClosed
	}
	select {
	case q.ch <- v:
		return nil
	default:
		return exception.ErrQueueFull
	}
}

// Publish enqueues a value, waiting for room until ctx is done or the queue closes.
func (q *Queue[T]) Publish(ctx context.Context, v T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return exception.ErrQueueClosed
	}
	select {
	case q.ch <- v:
		return nil
	case <-q.done:
		return exception.ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// C exposes the receive side for select loops. It is closed after Close once
// every queued value has been received.
func (q *Queue[T]) C() <-chan T {
	return q.ch
}

// Len returns the number of queued values.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Close stops the queue from accepting new values. Values already queued stay
// readable.
func (q *Queue[T]) Close() {
	q.once.Do(func() {
		close(q.done)
		q.mu.Lock()
		q.closed = true
		close(q.ch)
		q.mu.Unlock()
	})
}

// Run consumes values until the context is done or the queue is closed and drained.
func (q *Queue[T]) Run(ctx context.Context, handler func(T)) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-q.ch:
			if !ok {
				return
			}
			handler(v)
		}
	}
}
