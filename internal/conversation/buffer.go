package conversation

import "sync"

// Buffer keeps the most recent messages of one conversation. Every Reset
// starts a new generation; results computed against an older generation
// are dropped by AppendIfCurrent.
type Buffer struct {
	mu         sync.RWMutex
	capacity   int
	messages   []Message
	generation uint64
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultWindow
	}
	return &Buffer{
		capacity: capacity,
		messages: make([]Message, 0, capacity),
	}
}

// Append adds m, dropping the oldest message when full.
func (b *Buffer) Append(m Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appendLocked(m)
}

// AppendIfCurrent appends m only if the buffer is still at generation gen.
func (b *Buffer) AppendIfCurrent(gen uint64, m Message) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.generation != gen {
		return false
	}
	b.appendLocked(m)
	return true
}

func (b *Buffer) appendLocked(m Message) {
	if len(b.messages) >= b.capacity {
		copy(b.messages, b.messages[1:])
		b.messages = b.messages[:len(b.messages)-1]
	}
	b.messages = append(b.messages, m.clone())
}

// Snapshot returns a copy of the window together with its generation.
func (b *Buffer) Snapshot() ([]Message, uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Window(b.messages, b.capacity), b.generation
}

// Reset clears the conversation and invalidates in-flight results.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = b.messages[:0]
	b.generation++
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.messages)
}

func (b *Buffer) Capacity() int { return b.capacity }
