package requestlog

import (
	"context"
	"sync"
	"time"
)

// MemorySink keeps the most recent entries in a bounded ring. It is both a
// Sink for the Writer and a synchronous Appender for tests and the CLI.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

// NewMemorySink keeps up to capacity entries.
func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = 10000
	}
	return &MemorySink{entries: make([]Entry, capacity)}
}

func (m *MemorySink) Append(e Entry) {
	m.mu.Lock()
	m.entries[m.next] = e
	m.next++
	if m.next == len(m.entries) {
		m.next = 0
		m.full = true
	}
	m.mu.Unlock()
}

func (m *MemorySink) Write(_ context.Context, entries []Entry) error {
	for _, e := range entries {
		m.Append(e)
	}
	return nil
}

// All returns stored entries oldest first.
func (m *MemorySink) All() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.full {
		return append([]Entry(nil), m.entries[:m.next]...)
	}
	out := make([]Entry, 0, len(m.entries))
	out = append(out, m.entries[m.next:]...)
	return append(out, m.entries[:m.next]...)
}

func (m *MemorySink) Recent(_ context.Context, since time.Time, limit int) ([]Entry, error) {
	all := m.All()
	out := make([]Entry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].CreatedAt.Before(since) {
			continue
		}
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ForNumber returns the entries recorded for a tracking number, oldest first.
func (m *MemorySink) ForNumber(number string) []Entry {
	var out []Entry
	for _, e := range m.All() {
		if e.TrackingNumber == number {
			out = append(out, e)
		}
	}
	return out
}
