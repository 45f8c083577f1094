package engine

import (
	"sync"
)

// fifo is a thread-safe FIFO queue.
//
// With a positive capacity the queue sheds instead of blocking: enqueueing
// into a full queue removes the oldest item that is not pinned. Pinned
// items are never shed, so the queue may briefly exceed its capacity when
// it holds nothing else.
//
// The queue uses a channel for signaling to enable context-aware waiting
// (prevents goroutine hangs on context cancellation).
type fifo[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	pinned   func(T) bool
	closed   bool
	signal   chan struct{} // Signals item availability (buffered, size 1)
}

// newFIFO creates an empty queue. A capacity of zero means unbounded.
func newFIFO[T any](capacity int, pinned func(T) bool) *fifo[T] {
	return &fifo[T]{
		items:    make([]T, 0, max(capacity, 64)),
		capacity: capacity,
		pinned:   pinned,
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds an item to the back of the queue and returns the item shed
// to make room, if any. Returns ok=false if the queue is closed.
// Thread-safe: may be called from any goroutine.
func (q *fifo[T]) Enqueue(v T) (shed []T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, false
	}

	if q.capacity > 0 && len(q.items) >= q.capacity {
		for i, it := range q.items {
			if q.pinned != nil && q.pinned(it) {
				continue
			}
			shed = append(shed, it)
			var zero T
			copy(q.items[i:], q.items[i+1:])
			q.items[len(q.items)-1] = zero
			q.items = q.items[:len(q.items)-1]
			break
		}
	}
	q.items = append(q.items, v)

	// Non-blocking: the buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return shed, true
}

// TryDequeue attempts to dequeue without blocking.
// Returns ok=false if the queue is empty.
func (q *fifo[T]) TryDequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}

	v := q.items[0]

	// CRITICAL: clear the slot so the backing array does not retain
	// snapshots after they are dequeued.
	q.items[0] = zero

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}

	return v, true
}

// Wait returns a channel that signals when items may be available.
// Use with select for context-aware waiting:
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // Try TryDequeue
//	}
func (q *fifo[T]) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *fifo[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drained reports whether the queue is closed and empty.
func (q *fifo[T]) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.items) == 0
}

// Close signals that no more items will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *fifo[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
