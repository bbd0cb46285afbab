package haptics

import "sync"

// MemoryPulser records delivered patterns for tests.
type MemoryPulser struct {
	mu       sync.Mutex
	Patterns []Pattern
}

func NewMemoryPulser() *MemoryPulser {
	return &MemoryPulser{}
}

func (m *MemoryPulser) Pulse(p Pattern) {
	m.mu.Lock()
	m.Patterns = append(m.Patterns, p)
	m.mu.Unlock()
}

func (m *MemoryPulser) All() []Pattern {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Pattern(nil), m.Patterns...)
}

func (m *MemoryPulser) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Patterns)
}

func (m *MemoryPulser) Last() Pattern {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Patterns) == 0 {
		return nil
	}
	return m.Patterns[len(m.Patterns)-1]
}
