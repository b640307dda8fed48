package delivery

import (
	"sync"
	"time"

	"github.com/filipexyz/beacon/internal/event"
)

// DefaultHoldingCapacity bounds the holding queue.
const DefaultHoldingCapacity = 100

// Held is a payload parked while the collector is unreachable.
type Held struct {
	Payload *event.Payload
	HeldAt  time.Time
	Reason  string
}

// HoldingQueue is a bounded FIFO of undeliverable payloads. The oldest
// entries are evicted first.
type HoldingQueue struct {
	mu       sync.Mutex
	items    []Held
	capacity int
}

// NewHoldingQueue creates a holding queue.
func NewHoldingQueue(capacity int) *HoldingQueue {
	if capacity <= 0 {
		capacity = DefaultHoldingCapacity
	}
	return &HoldingQueue{capacity: capacity}
}

// Push parks h and returns how many entries were evicted.
func (h *HoldingQueue) Push(item Held) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items = append(h.items, item)
	evicted := len(h.items) - h.capacity
	if evicted <= 0 {
		return 0
	}
	h.items = append(h.items[:0], h.items[evicted:]...)
	return evicted
}

// PushFront puts items back ahead of the parked entries, keeping them in
// order, and returns how many of the oldest entries were evicted.
func (h *HoldingQueue) PushFront(items []Held) int {
	if len(items) == 0 {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	merged := make([]Held, 0, len(items)+len(h.items))
	merged = append(merged, items...)
	merged = append(merged, h.items...)
	evicted := max(len(merged)-h.capacity, 0)
	h.items = merged[evicted:]
	return evicted
}

// DrainAll removes and returns every entry in order.
func (h *HoldingQueue) DrainAll() []Held {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.items
	h.items = nil
	return out
}

// Len returns the number of held payloads.
func (h *HoldingQueue) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}

// Snapshot returns a copy of the held entries.
func (h *HoldingQueue) Snapshot() []Held {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Held, len(h.items))
	copy(out, h.items)
	return out
}
