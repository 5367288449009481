// Package queue provides an unbounded FIFO used to hand work from a
// single producer loop to a consumer goroutine without ever blocking the
// producer or reordering items.
package queue

import "sync"

// FIFO is a thread-safe ring buffer that doubles when full.
type FIFO[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []T
	head   int
	size   int
	closed bool

	sent     int64
	received int64
	grows    int
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Len      int   `json:"len"`
	Cap      int   `json:"cap"`
	Sent     int64 `json:"sent"`
	Received int64 `json:"received"`
	Grows    int   `json:"grows"`
}

// New returns a FIFO with the given initial capacity.
func New[T any](capacity int) *FIFO[T] {
	if capacity < 1 {
		capacity = 1
	}
	q := &FIFO[T]{ring: make([]T, capacity)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Send appends item. It returns false once the queue is closed.
func (q *FIFO[T]) Send(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if q.size == len(q.ring) {
		q.grow()
	}

	q.ring[(q.head+q.size)%len(q.ring)] = item
	q.size++
	q.sent++
	q.cond.Signal()
	return true
}

// Receive blocks until an item is available. After Close it keeps
// returning queued items and reports false once the queue is empty.
func (q *FIFO[T]) Receive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.size == 0 && !q.closed {
		q.cond.Wait()
	}
	return q.pop()
}

// TryReceive returns the next item without blocking.
func (q *FIFO[T]) TryReceive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pop()
}

// Drain removes up to max items (all when max <= 0).
func (q *FIFO[T]) Drain(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.size
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}

	out := make([]T, 0, n)
	for range n {
		item, _ := q.pop()
		out = append(out, item)
	}
	return out
}

// Close stops accepting items and wakes blocked receivers.
func (q *FIFO[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued items.
func (q *FIFO[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Stats returns queue counters.
func (q *FIFO[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Len:      q.size,
		Cap:      len(q.ring),
		Sent:     q.sent,
		Received: q.received,
		Grows:    q.grows,
	}
}

// pop must be called with mu held.
func (q *FIFO[T]) pop() (T, bool) {
	var zero T
	if q.size == 0 {
		return zero, false
	}

	item := q.ring[q.head]
	q.ring[q.head] = zero
	q.head = (q.head + 1) % len(q.ring)
	q.size--
	q.received++
	return item, true
}

// grow must be called with mu held.
func (q *FIFO[T]) grow() {
	next := make([]T, len(q.ring)*2)
	n := copy(next, q.ring[q.head:])
	copy(next[n:], q.ring[:q.head])

	q.ring = next
	q.head = 0
	q.grows++
}
