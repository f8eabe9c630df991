package logging

import "sync"

// DefaultBufferSize is the number of records kept for the TUI log panel.
const DefaultBufferSize = 500

// Buffer is a fixed-size ring of recent log records.
type Buffer struct {
	mu    sync.Mutex
	items []Entry
	next  int
	full  bool
}

// NewBuffer creates a ring holding up to size records.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Buffer{items: make([]Entry, size)}
}

// Add stores e, overwriting the oldest record when full.
func (b *Buffer) Add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[b.next] = e
	b.next = (b.next + 1) % len(b.items)
	if b.next == 0 {
		b.full = true
	}
}

// Len returns the number of stored records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		return len(b.items)
	}
	return b.next
}

// Last returns up to n records, oldest first. n <= 0 returns everything.
func (b *Buffer) Last(n int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := b.next
	start := 0
	if b.full {
		count = len(b.items)
		start = b.next
	}
	if n > 0 && n < count {
		start = (start + count - n) % len(b.items)
		count = n
	}

	out := make([]Entry, count)
	for i := range count {
		out[i] = b.items[(start+i)%len(b.items)]
	}
	return out
}
