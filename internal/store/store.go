// Package store defines the persistence hook the server offers accepted
// messages to. The core never depends on a concrete backend; anything beyond
// the in-memory ring lives behind the Store interface.
package store

import (
	"context"
	"sync"
	"time"
)

// Message is one accepted chat message.
type Message struct {
	From string
	Body string
	At   time.Time
}

// Store receives every accepted SendText. Implementations must be safe for
// concurrent use; a Save failure is logged by the caller and never affects
// message delivery.
type Store interface {
	Save(ctx context.Context, msg Message) error
}

// Memory keeps the most recent messages in a fixed-capacity ring.
type Memory struct {
	mu    sync.Mutex
	buf   []Message
	next  int
	count int
}

// NewMemory creates a Memory store holding up to capacity messages.
func NewMemory(capacity int) *Memory {
	if capacity < 1 {
		capacity = 1
	}
	return &Memory{buf: make([]Message, capacity)}
}

// Save implements Store.
func (m *Memory) Save(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf[m.next] = msg
	m.next = (m.next + 1) % len(m.buf)
	if m.count < len(m.buf) {
		m.count++
	}
	return nil
}

// Messages returns the stored messages, oldest first.
func (m *Memory) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, 0, m.count)
	start := m.next - m.count
	if start < 0 {
		start += len(m.buf)
	}
	for i := 0; i < m.count; i++ {
		out = append(out, m.buf[(start+i)%len(m.buf)])
	}
	return out
}

var _ Store = (*Memory)(nil)
