package codes

import (
	"context"
	"sync"
)

// Memory is an in-process allocator serializing code sequences with a mutex.
// It backs tests and local development; production allocation lives in the
// postgres repositories, inside the same transaction as the insert.
type Memory struct {
	mu     sync.Mutex
	latest map[string]string // (prefix, year) key -> latest code
}

// NewMemory creates an empty in-memory allocator.
func NewMemory() *Memory {
	return &Memory{latest: make(map[string]string)}
}

// Next allocates the next code for (prefix, year).
func (m *Memory) Next(_ context.Context, prefix string, year int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := Format(prefix, year, 0)
	next, err := NextAfter(prefix, year, m.latest[key])
	if err != nil {
		return "", err
	}
	m.latest[key] = next
	return next, nil
}
