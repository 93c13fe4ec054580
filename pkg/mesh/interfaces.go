package mesh

import (
	"errors"
	"net/netip"
)

// Errors returned by mesh stack implementations.
var (
	// ErrNoBufs indicates the stack could not allocate a message buffer.
	ErrNoBufs = errors.New("no message buffers")

	// ErrDetached indicates the stack has no attached network to send on.
	ErrDetached = errors.New("not attached")

	// ErrFinalized indicates the stack has been finalized.
	ErrFinalized = errors.New("stack finalized")
)

// Message is an IPv6 datagram owned by the mesh stack.
type Message interface {
	// Append copies b to the end of the message.
	Append(b []byte) error

	// Len returns the message length in bytes.
	Len() int

	// Read copies up to len(buf) bytes starting at offset into buf and
	// returns the number copied.
	Read(offset int, buf []byte) int

	// Free returns the message buffer to the stack. A message handed to
	// Stack.Send must not be freed by the caller.
	Free()
}

// StateFlags reports which parts of the stack state changed.
type StateFlags uint32

// State change flags.
const (
	ChangedIP6AddressAdded StateFlags = 1 << iota
	ChangedIP6AddressRemoved
	ChangedRole
	ChangedLinkState
	ChangedNetifState
)

// Has reports whether all bits of f are set.
func (s StateFlags) Has(f StateFlags) bool {
	return s&f == f
}

// AddressInfo describes a unicast or multicast address the stack added or
// removed.
type AddressInfo struct {
	Address      netip.Addr
	PrefixLength uint8
}

// MulticastPrefixLength is the prefix length the stack reports for
// multicast subscriptions.
const MulticastPrefixLength = 128

// IsMulticastSubscription reports whether the address callback concerns a
// multicast subscription rather than a unicast address.
func (a AddressInfo) IsMulticastSubscription() bool {
	return a.PrefixLength == MulticastPrefixLength
}

// ReceiveFunc is called with datagrams received from the mesh. The callee
// owns msg and must free it.
type ReceiveFunc func(msg Message)

// StateChangedFunc is called when stack state changes.
type StateChangedFunc func(flags StateFlags)

// AddressFunc is called when an address is added or removed.
type AddressFunc func(info AddressInfo, added bool)

// Stack is the mesh protocol engine. Except for TaskletsPending, every method
// must be called by the task that owns the stack: the bridge worker, or a
// task holding the bridge lock.
type Stack interface {
	// NewMessage allocates an empty IPv6 message.
	NewMessage() (Message, error)

	// Send submits msg for transmission. The stack takes ownership of msg
	// whether or not Send succeeds.
	Send(msg Message) error

	// ProcessTasklets runs deferred stack work.
	ProcessTasklets()

	// TaskletsPending reports whether deferred work is queued.
	TaskletsPending() bool

	// SetReceiveCallback registers the datagram receive path.
	SetReceiveCallback(fn ReceiveFunc)

	// SetStateChangedCallback registers the state change handler.
	SetStateChangedCallback(fn StateChangedFunc)

	// SetAddressCallback registers the address change handler.
	SetAddressCallback(fn AddressFunc)

	// LinkEnabled reports whether the link layer is enabled.
	LinkEnabled() bool

	// MeshLocalPrefix returns the /64 mesh-local prefix.
	MeshLocalPrefix() netip.Prefix

	// Finalize releases stack resources. No other method may be called
	// afterwards.
	Finalize()
}

// Platform is the board support layer driven by the bridge worker.
type Platform interface {
	// Poll services drivers without touching stack state. It runs while the
	// bridge lock is released and may raise notifications.
	Poll()

	// Process delivers pending driver events into the stack. It runs with
	// exclusive ownership of the stack.
	Process(stack Stack)

	// PseudoResetRequested reports whether the stack asked for a restart.
	PseudoResetRequested() bool
}

// TaskletsSignaler is told when the stack queues deferred work. Stack
// implementations call it from any task or from interrupt context.
type TaskletsSignaler interface {
	SignalTasklets()
}

// SNTPDefaultPort is the port SNTP servers listen on.
const SNTPDefaultPort = 123

// SNTPHandler receives the outcome of an SNTP query. seconds is Unix time
// and is zero when err is set. It runs on the task that owns the stack.
type SNTPHandler func(seconds uint64, err error)

// SNTPClient is implemented by stacks that can query an SNTP server across
// the mesh. QuerySNTP must be called by the task that owns the stack; done
// is called exactly once unless QuerySNTP returns an error.
type SNTPClient interface {
	QuerySNTP(server netip.AddrPort, done SNTPHandler) error
}
