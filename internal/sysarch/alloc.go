package sysarch

import (
	"sync"

	"github.com/rmacdonaldsmith/meshbridge-go/pkg/sysarch"
)

// Heap is a byte-budget allocator. It does not hand out memory itself; it
// accounts for the memory callers are about to allocate so that exhaustion
// surfaces as sysarch.ErrNoMemory. It is safe for concurrent use.
type Heap struct {
	mu    sync.Mutex
	limit int
	inUse int
	peak  int
}

// NewHeap creates a heap with the given limit in bytes. A limit of zero
// means unlimited.
func NewHeap(limit int) *Heap {
	return &Heap{limit: limit}
}

// Reserve charges n bytes.
func (h *Heap) Reserve(n int) error {
	if n < 0 {
		return sysarch.ErrInvalidParameter
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.limit > 0 && h.inUse+n > h.limit {
		return sysarch.ErrNoMemory
	}
	h.inUse += n
	if h.inUse > h.peak {
		h.peak = h.inUse
	}
	return nil
}

// Release returns n bytes. Releasing more than is reserved clamps at zero.
func (h *Heap) Release(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inUse -= n
	if h.inUse < 0 {
		h.inUse = 0
	}
}

// InUse returns the number of bytes currently reserved.
func (h *Heap) InUse() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inUse
}

// Peak returns the high-water mark of reserved bytes.
func (h *Heap) Peak() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.peak
}

// Limit returns the configured limit, or zero if unlimited.
func (h *Heap) Limit() int {
	return h.limit
}

var _ sysarch.Allocator = (*Heap)(nil)
