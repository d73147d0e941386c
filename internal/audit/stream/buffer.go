package stream

import (
	"sync"

	"attestra/internal/audit"
)

// ringBuffer is a bounded buffer of entries waiting to be streamed. When full
// the oldest entry is dropped; the trail store already holds every entry, so
// the stream is best effort.
type ringBuffer struct {
	mu       sync.Mutex
	entries  []audit.Entry
	head     int
	tail     int
	count    int
	capacity int
	dropped  int64
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity <= 0 {
		capacity = 1024
	}
	return &ringBuffer{
		entries:  make([]audit.Entry, capacity),
		capacity: capacity,
	}
}

// enqueue adds an entry and reports whether an older one was dropped.
func (b *ringBuffer) enqueue(entry audit.Entry) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := false
	if b.count >= b.capacity {
		b.tail = (b.tail + 1) % b.capacity
		b.count--
		b.dropped++
		dropped = true
	}

	b.entries[b.head] = entry
	b.head = (b.head + 1) % b.capacity
	b.count++
	return dropped
}

// dequeueBatch removes up to n entries in insertion order.
func (b *ringBuffer) dequeueBatch(n int) []audit.Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}
	if n > b.count {
		n = b.count
	}

	out := make([]audit.Entry, n)
	for i := 0; i < n; i++ {
		out[i] = b.entries[b.tail]
		b.entries[b.tail] = audit.Entry{}
		b.tail = (b.tail + 1) % b.capacity
	}
	b.count -= n
	return out
}

func (b *ringBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *ringBuffer) droppedTotal() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
