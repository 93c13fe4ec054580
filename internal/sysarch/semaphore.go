package sysarch

import (
	"time"

	"github.com/rmacdonaldsmith/meshbridge-go/pkg/sysarch"
)

// Semaphore is a counting semaphore with a fixed maximum count. A maximum of
// one makes it binary.
type Semaphore struct {
	tokens chan struct{}
}

// NewBinarySemaphore creates a binary semaphore, initially signaled or not.
func NewBinarySemaphore(signaled bool) *Semaphore {
	initial := 0
	if signaled {
		initial = 1
	}
	s, _ := NewCountingSemaphore(1, initial)
	return s
}

// NewCountingSemaphore creates a semaphore with the given maximum and
// initial counts.
func NewCountingSemaphore(maxCount, initial int) (*Semaphore, error) {
	if maxCount <= 0 || initial < 0 || initial > maxCount {
		return nil, sysarch.ErrInvalidParameter
	}
	s := &Semaphore{tokens: make(chan struct{}, maxCount)}
	for i := 0; i < initial; i++ {
		s.tokens <- struct{}{}
	}
	return s, nil
}

// Give increments the count, saturating at the maximum.
func (s *Semaphore) Give() {
	select {
	case s.tokens <- struct{}{}:
	default:
	}
}

// GiveFromISR increments the count from interrupt context.
func (s *Semaphore) GiveFromISR(ic *sysarch.InterruptContext) {
	select {
	case s.tokens <- struct{}{}:
		ic.RequestSwitch()
	default:
	}
}

// Take waits up to timeout (0 waits forever) and returns the time waited.
func (s *Semaphore) Take(timeout time.Duration) (time.Duration, error) {
	start := time.Now()
	if timeout == 0 {
		<-s.tokens
		return time.Since(start), nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.tokens:
		return time.Since(start), nil
	case <-timer.C:
		return 0, sysarch.ErrTimeout
	}
}

// TryTake decrements the count if it is positive.
func (s *Semaphore) TryTake() bool {
	select {
	case <-s.tokens:
		return true
	default:
		return false
	}
}

// Count returns the current count.
func (s *Semaphore) Count() int {
	return len(s.tokens)
}

var _ sysarch.Semaphore = (*Semaphore)(nil)
