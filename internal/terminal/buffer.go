package terminal

import (
	"errors"
	"sync"
)

// ErrRangeEvicted means the requested replay range has been discarded to
// bound memory. The caller should fall back to a fresh snapshot instead of
// attempting partial recovery.
var ErrRangeEvicted = errors.New("replay range no longer buffered")

// ReplayBuffer keeps the most recent output bytes of one stream, addressed
// by absolute byte sequence. Sequence 0 is the first byte the stream ever
// produced; eviction advances the buffer's base without disturbing the
// numbering, so replay ranges stay exact across reconnects.
type ReplayBuffer struct {
	mu       sync.RWMutex
	data     []byte
	capacity int
	base     uint64 // sequence number of data[0]
}

// NewReplayBuffer creates a buffer bounded to capacity bytes. A
// non-positive capacity defaults to 1.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &ReplayBuffer{
		data:     make([]byte, 0, capacity),
		capacity: capacity,
	}
}

// Append adds stream output and returns the sequence after the last byte
// written. Oldest bytes are evicted once the capacity is exceeded.
func (rb *ReplayBuffer) Append(p []byte) uint64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if len(p) == 0 {
		return rb.base + uint64(len(rb.data))
	}

	if len(p) >= rb.capacity {
		// Everything currently held plus the leading part of p is evicted.
		rb.base += uint64(len(rb.data)) + uint64(len(p)-rb.capacity)
		rb.data = rb.data[:0]
		rb.data = append(rb.data, p[len(p)-rb.capacity:]...)
		return rb.base + uint64(len(rb.data))
	}

	overflow := len(rb.data) + len(p) - rb.capacity
	if overflow > 0 {
		next := make([]byte, 0, rb.capacity)
		next = append(next, rb.data[overflow:]...)
		rb.data = next
		rb.base += uint64(overflow)
	}
	rb.data = append(rb.data, p...)
	return rb.base + uint64(len(rb.data))
}

// End returns the sequence one past the newest buffered byte.
func (rb *ReplayBuffer) End() uint64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.base + uint64(len(rb.data))
}

// Base returns the oldest sequence still buffered.
func (rb *ReplayBuffer) Base() uint64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.base
}

// ReplayFrom returns a copy of all bytes from seq to the end of the buffer.
// A seq at or past the end yields nil. A seq older than the buffer's base
// returns ErrRangeEvicted.
func (rb *ReplayBuffer) ReplayFrom(seq uint64) ([]byte, error) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	end := rb.base + uint64(len(rb.data))
	if seq >= end {
		return nil, nil
	}
	if seq < rb.base {
		return nil, ErrRangeEvicted
	}
	out := make([]byte, end-seq)
	copy(out, rb.data[seq-rb.base:])
	return out, nil
}
