package security

import (
	"sync"

	audit "veriledger/pkg/platform/audit"
)

// RingBuffer is a bounded, thread-safe queue of security events.
// When full, the oldest event is overwritten.
type RingBuffer struct {
	mu       sync.Mutex
	events   []audit.SecurityEvent
	head     int // next write position
	tail     int // next read position
	count    int
	capacity int
	dropped  int64
}

func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 4096
	}
	return &RingBuffer{
		events:   make([]audit.SecurityEvent, capacity),
		capacity: capacity,
	}
}

// Enqueue adds an event and reports whether an older event was overwritten.
func (b *RingBuffer) Enqueue(event audit.SecurityEvent) (overwrote bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count >= b.capacity {
		b.tail = (b.tail + 1) % b.capacity
		b.count--
		b.dropped++
		overwrote = true
	}
	b.events[b.head] = event
	b.head = (b.head + 1) % b.capacity
	b.count++
	return overwrote
}

// DequeueBatch removes up to n events, oldest first.
func (b *RingBuffer) DequeueBatch(n int) []audit.SecurityEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 || n <= 0 {
		return nil
	}
	if n > b.count {
		n = b.count
	}
	out := make([]audit.SecurityEvent, n)
	for i := range n {
		out[i] = b.events[b.tail]
		b.events[b.tail] = audit.SecurityEvent{}
		b.tail = (b.tail + 1) % b.capacity
	}
	b.count -= n
	return out
}

func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *RingBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
