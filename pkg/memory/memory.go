package memory

import (
	"fmt"
	"strings"
	"sync"
)

// Entry is one remembered decision and what came of it.
type Entry struct {
	Timestep int
	Note     string
}

func (e Entry) String() string {
	return fmt.Sprintf("step %d: %s", e.Timestep, e.Note)
}

// Memory is a bounded rolling history; the oldest entry is evicted once
// capacity is exceeded.
type Memory struct {
	entries  []Entry
	capacity int
	mu       sync.RWMutex
}

func NewMemory(capacity int) *Memory {
	if capacity < 1 {
		capacity = 1
	}
	return &Memory{
		entries:  make([]Entry, 0, capacity),
		capacity: capacity,
	}
}

// All returns a copy of every entry, oldest first
func (m *Memory) All() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]Entry, len(m.entries))
	copy(entries, m.entries)
	return entries
}

// Recent returns up to n of the newest entries, oldest first.
func (m *Memory) Recent(n int) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n > len(m.entries) {
		n = len(m.entries)
	}
	if n <= 0 {
		return nil
	}
	entries := make([]Entry, n)
	copy(entries, m.entries[len(m.entries)-n:])
	return entries
}

func (m *Memory) Store(e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, e)
	if len(m.entries) > m.capacity {
		m.entries = m.entries[len(m.entries)-m.capacity:]
	}
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = m.entries[:0]
}

// Format renders the newest n entries one per line for a prompt.
func (m *Memory) Format(n int) string {
	recent := m.Recent(n)
	if len(recent) == 0 {
		return "No previous observations."
	}
	lines := make([]string, len(recent))
	for i, e := range recent {
		lines[i] = e.String()
	}
	return strings.Join(lines, "\n")
}
