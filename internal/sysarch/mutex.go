package sysarch

import (
	"sync"
	"sync/atomic"
)

// Mutex is a mutual-exclusion lock that tracks how many times it is held,
// so tests and diagnostics can observe lock state without racing on it.
// The zero value is an unlocked mutex.
type Mutex struct {
	mu   sync.Mutex
	held atomic.Int32
}

// Lock blocks until the mutex is acquired.
func (m *Mutex) Lock() {
	m.mu.Lock()
	m.held.Add(1)
}

// TryLock acquires the mutex if it is free and reports whether it did.
func (m *Mutex) TryLock() bool {
	if !m.mu.TryLock() {
		return false
	}
	m.held.Add(1)
	return true
}

// Unlock releases the mutex.
func (m *Mutex) Unlock() {
	m.held.Add(-1)
	m.mu.Unlock()
}

// HeldCount returns the number of current holders (0 or 1).
func (m *Mutex) HeldCount() int {
	return int(m.held.Load())
}
