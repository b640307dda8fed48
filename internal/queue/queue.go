// Package queue buffers assembled payloads and decides when to hand them
// to the delivery service.
package queue

import (
	"sync"

	"github.com/filipexyz/beacon/internal/event"
)

// DefaultCapacity is the queue bound used when none is configured.
const DefaultCapacity = 100

// Queue is a bounded FIFO of payloads. When full, the oldest entries are
// evicted so the newest capacity entries survive.
type Queue struct {
	mu       sync.Mutex
	items    []*event.Payload
	capacity int
}

// New creates a queue holding at most capacity payloads.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{capacity: capacity}
}

// Push appends p and returns how many payloads were evicted to make room.
func (q *Queue) Push(p *event.Payload) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, p)
	evicted := len(q.items) - q.capacity
	if evicted <= 0 {
		return 0
	}
	clear(q.items[:evicted])
	q.items = append(q.items[:0], q.items[evicted:]...)
	return evicted
}

// Drain removes and returns up to n payloads from the head. n <= 0 drains
// everything.
func (q *Queue) Drain(n int) []*event.Payload {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n <= 0 || n > len(q.items) {
		n = len(q.items)
	}
	if n == 0 {
		return nil
	}
	out := make([]*event.Payload, n)
	copy(out, q.items[:n])
	clear(q.items[:n])
	q.items = append(q.items[:0], q.items[n:]...)
	return out
}

// Len returns the number of queued payloads.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Capacity returns the queue bound.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Clear drops every payload and returns how many were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

// Snapshot returns a copy of the queued payloads in order.
func (q *Queue) Snapshot() []*event.Payload {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*event.Payload, len(q.items))
	copy(out, q.items)
	return out
}
