package history

import (
	"sync"

	"streetvision/internal/model"
)

// DefaultCapacity is the number of results kept when no capacity is configured.
const DefaultCapacity = 1000

// History is a bounded FIFO of processed results. When full, appending
// evicts the oldest entry. Safe for concurrent use.
type History struct {
	mu       sync.RWMutex
	buf      []model.ProcessedResult
	head     int // index of the oldest entry
	size     int
	capacity int
}

// New creates a History. A capacity below 1 uses DefaultCapacity.
func New(capacity int) *History {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &History{
		buf:      make([]model.ProcessedResult, capacity),
		capacity: capacity,
	}
}

// Append adds a result, evicting the oldest one if the buffer is full.
func (h *History) Append(result model.ProcessedResult) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.size < h.capacity {
		h.buf[(h.head+h.size)%h.capacity] = result
		h.size++
		return
	}

	h.buf[h.head] = result
	h.head = (h.head + 1) % h.capacity
}

// Snapshot returns a copy of all results, oldest first.
func (h *History) Snapshot() []model.ProcessedResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.tailLocked(h.size)
}

// Tail returns a copy of the n newest results, oldest first.
func (h *History) Tail(n int) []model.ProcessedResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.tailLocked(n)
}

func (h *History) tailLocked(n int) []model.ProcessedResult {
	n = max(0, min(n, h.size))
	out := make([]model.ProcessedResult, n)
	start := h.head + h.size - n
	for i := 0; i < n; i++ {
		out[i] = h.buf[(start+i)%h.capacity]
	}
	return out
}

// Last returns the newest result.
func (h *History) Last() (model.ProcessedResult, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.size == 0 {
		return model.ProcessedResult{}, false
	}
	return h.buf[(h.head+h.size-1)%h.capacity], true
}

// Len returns the number of stored results.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Cap returns the maximum number of stored results.
func (h *History) Cap() int {
	return h.capacity
}

// Clear drops every result.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clear(h.buf)
	h.head = 0
	h.size = 0
}
