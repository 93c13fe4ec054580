package sysarch

import (
	"sync"
	"time"

	"github.com/rmacdonaldsmith/meshbridge-go/pkg/sysarch"
)

// Notification is a per-task wake-up signal. Any number of Give calls made
// before the owner wakes collapse into a single wake-up. It also carries a
// word of event bits that producers OR in and the owner waits on.
type Notification struct {
	signal chan struct{}

	mu     sync.Mutex
	bits   uint32
	bitsCh chan struct{}
}

// NewNotification creates an unsignaled notification.
func NewNotification() *Notification {
	return &Notification{
		signal: make(chan struct{}, 1),
		bitsCh: make(chan struct{}, 1),
	}
}

// Give raises the notification. It never blocks.
func (n *Notification) Give() {
	select {
	case n.signal <- struct{}{}:
	default:
	}
}

// GiveFromISR raises the notification from interrupt context. A switch is
// requested only when this call made the notification pending.
func (n *Notification) GiveFromISR(ic *sysarch.InterruptContext) {
	select {
	case n.signal <- struct{}{}:
		ic.RequestSwitch()
	default:
	}
}

// Notify is Give, satisfying sysarch.Notifier.
func (n *Notification) Notify() { n.Give() }

// NotifyFromISR is GiveFromISR, satisfying sysarch.Notifier.
func (n *Notification) NotifyFromISR(ic *sysarch.InterruptContext) { n.GiveFromISR(ic) }

// Take waits up to timeout (0 waits forever) for the notification and
// consumes it. It reports whether the notification was received.
func (n *Notification) Take(timeout time.Duration) bool {
	if timeout == 0 {
		<-n.signal
		return true
	}

	select {
	case <-n.signal:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-n.signal:
		return true
	case <-timer.C:
		return false
	}
}

// Pending reports whether a Give is waiting to be consumed.
func (n *Notification) Pending() bool {
	return len(n.signal) > 0
}

// SetBits ORs bits into the notification word and wakes a WaitBits caller.
func (n *Notification) SetBits(bits uint32) {
	n.mu.Lock()
	n.bits |= bits
	n.mu.Unlock()
	select {
	case n.bitsCh <- struct{}{}:
	default:
	}
}

// WaitBits waits up to timeout (0 waits forever) for any bit in mask, clears
// the matched bits and returns them. It returns false on timeout.
func (n *Notification) WaitBits(mask uint32, timeout time.Duration) (uint32, bool) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		n.mu.Lock()
		got := n.bits & mask
		if got != 0 {
			n.bits &^= got
			n.mu.Unlock()
			return got, true
		}
		n.mu.Unlock()

		select {
		case <-n.bitsCh:
		case <-deadline:
			return 0, false
		}
	}
}

var _ sysarch.Notifier = (*Notification)(nil)
