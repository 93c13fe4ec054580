package netif

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/rmacdonaldsmith/meshbridge-go/internal/logging"
	"github.com/rmacdonaldsmith/meshbridge-go/pkg/diag"
	"github.com/rmacdonaldsmith/meshbridge-go/pkg/sysarch"
)

// ErrPacketTooLarge is returned by Enqueue for payloads above the MTU.
var ErrPacketTooLarge = errors.New("packet exceeds MTU")

// OutputEvent is one pending outbound datagram.
type OutputEvent struct {
	next   *OutputEvent
	data   []byte
	charge int
}

// Payload returns the datagram bytes.
func (e *OutputEvent) Payload() []byte { return e.data }

// Len returns the datagram length.
func (e *OutputEvent) Len() int { return len(e.data) }

// OutputQueue hands datagrams from the IP stack's tasks to the bridge
// worker. Producers append at the tail from any task; only the worker
// drains from the head.
type OutputQueue struct {
	mu    sync.Mutex
	head  *OutputEvent
	tail  *OutputEvent
	count int
	bytes int

	mtu      int
	alloc    sysarch.Allocator
	notifier sysarch.Notifier
	rec      diag.Recorder
}

// NewOutputQueue creates an empty queue. Each Enqueue charges alloc and
// raises notifier once. An mtu of zero disables the size check.
func NewOutputQueue(mtu int, alloc sysarch.Allocator, notifier sysarch.Notifier, rec diag.Recorder) *OutputQueue {
	return &OutputQueue{
		mtu:      mtu,
		alloc:    alloc,
		notifier: notifier,
		rec:      rec,
	}
}

// Enqueue copies payload into a new node at the tail and wakes the worker.
// On failure the queue is unchanged.
func (q *OutputQueue) Enqueue(payload []byte) error {
	if q.mtu > 0 && len(payload) > q.mtu {
		return fmt.Errorf("enqueue %d bytes: %w", len(payload), ErrPacketTooLarge)
	}

	charge := OutputEventOverhead + len(payload)
	if err := q.alloc.Reserve(charge); err != nil {
		logging.Warn(logging.ComponentNetif, "output dropped", "length", len(payload), "error", err)
		if q.rec != nil {
			q.rec.Record(diag.KindQueueNoMemory, "outbound packet refused", map[string]string{
				"length": strconv.Itoa(len(payload)),
			})
		}
		return fmt.Errorf("enqueue %d bytes: %w", len(payload), err)
	}

	ev := &OutputEvent{data: make([]byte, len(payload)), charge: charge}
	copy(ev.data, payload)

	q.mu.Lock()
	if q.tail == nil {
		q.head = ev
	} else {
		q.tail.next = ev
	}
	q.tail = ev
	q.count++
	q.bytes += len(ev.data)
	q.mu.Unlock()

	q.notifier.Notify()
	return nil
}

// DrainOne removes and returns the head node. It must only be called by
// the worker. The caller releases the node with Free.
func (q *OutputQueue) DrainOne() (*OutputEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ev := q.head
	if ev == nil {
		return nil, false
	}
	q.head = ev.next
	if q.head == nil {
		q.tail = nil
	}
	ev.next = nil
	q.count--
	q.bytes -= len(ev.data)
	return ev, true
}

// Free returns the node's memory charge.
func (q *OutputQueue) Free(ev *OutputEvent) {
	if ev == nil {
		return
	}
	q.alloc.Release(ev.charge)
	ev.data = nil
	ev.charge = 0
}

// Len returns the number of queued packets.
func (q *OutputQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Bytes returns the total payload bytes queued.
func (q *OutputQueue) Bytes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bytes
}
