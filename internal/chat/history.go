package chat

import "sync"

// DefaultHistoryCapacity is the number of messages retained for backfill.
const DefaultHistoryCapacity = 100

// History is a bounded, insertion-ordered log of chat messages backed by a
// ring buffer. Once full, each Append evicts the oldest entry.
type History struct {
	mu   sync.RWMutex
	buf  []ChatMessage
	head int // index of the oldest entry
	size int
}

// NewHistory returns a history retaining at most capacity messages. A
// non-positive capacity selects DefaultHistoryCapacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{buf: make([]ChatMessage, capacity)}
}

// Append adds msg at the tail.
func (h *History) Append(msg ChatMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.size < len(h.buf) {
		h.buf[(h.head+h.size)%len(h.buf)] = msg
		h.size++
		return
	}
	h.buf[h.head] = msg
	h.head = (h.head + 1) % len(h.buf)
}

// Snapshot returns the retained messages, oldest first.
func (h *History) Snapshot() []ChatMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]ChatMessage, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.head+i)%len(h.buf)]
	}
	return out
}

// Len returns the number of retained messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Cap returns the retention limit.
func (h *History) Cap() int {
	return len(h.buf)
}
