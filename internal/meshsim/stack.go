// Package meshsim is a simulated mesh stack, platform and radio. It is just
// enough of the mesh side to run the bridge end to end: datagrams sent on
// one node's stack arrive, through a radio and an interrupt, at another
// node's stack.
package meshsim

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rmacdonaldsmith/meshbridge-go/internal/logging"
	"github.com/rmacdonaldsmith/meshbridge-go/pkg/mesh"
)

// Radio transmits frames to the rest of the mesh.
type Radio interface {
	Transmit(frame []byte) error
}

// StackConfig configures a simulated stack.
type StackConfig struct {
	// MeshLocalPrefix is the /64 shared by all nodes of the mesh
	MeshLocalPrefix netip.Prefix

	// InterfaceID is the low 64 bits of this node's addresses
	InterfaceID uint64

	// MaxMessages bounds the message buffer pool
	MaxMessages int

	// MaxMessageLen bounds a single message
	MaxMessageLen int

	// Clock answers SNTP queries on behalf of the border router. Nil uses
	// the host clock.
	Clock func() time.Time
}

// SetDefaults sets sensible default values for unset fields.
func (c *StackConfig) SetDefaults() {
	if !c.MeshLocalPrefix.IsValid() {
		c.MeshLocalPrefix = netip.MustParsePrefix("fdde:ad00:beef:0::/64")
	}
	if c.InterfaceID == 0 {
		c.InterfaceID = 1
	}
	if c.MaxMessages == 0 {
		c.MaxMessages = 64
	}
	if c.MaxMessageLen == 0 {
		c.MaxMessageLen = 1280
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Validate checks if the configuration is valid.
func (c *StackConfig) Validate() error {
	if c.MeshLocalPrefix.Bits() != 64 || !c.MeshLocalPrefix.Addr().Is6() {
		return errors.New("mesh-local prefix must be an IPv6 /64")
	}
	if c.MaxMessages < 0 || c.MaxMessageLen < 0 {
		return errors.New("message limits cannot be negative")
	}
	return nil
}

// Stack is a simulated mesh stack. Apart from TaskletsPending, SetSignaler
// and Stats, its methods run on the owning bridge worker or under the
// bridge lock.
type Stack struct {
	cfg   StackConfig
	radio Radio
	pool  *messagePool

	mu       sync.Mutex
	tasklets []func()
	signaler mesh.TaskletsSignaler

	receive      mesh.ReceiveFunc
	stateChanged mesh.StateChangedFunc
	address      mesh.AddressFunc

	linkEnabled bool
	finalized   bool
	sent        atomic.Uint64
	received    atomic.Uint64
}

// NewStack creates a stack that transmits on radio.
func NewStack(cfg StackConfig, radio Radio) (*Stack, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Stack{
		cfg:   cfg,
		radio: radio,
		pool:  &messagePool{max: int32(cfg.MaxMessages), maxLen: cfg.MaxMessageLen},
	}, nil
}

// SetSignaler registers the hook told about queued tasklets.
func (s *Stack) SetSignaler(sig mesh.TaskletsSignaler) {
	s.mu.Lock()
	s.signaler = sig
	s.mu.Unlock()
}

// NewMessage allocates a message from the pool.
func (s *Stack) NewMessage() (mesh.Message, error) {
	if s.finalized {
		return nil, mesh.ErrFinalized
	}
	return s.pool.get()
}

// Send transmits msg on the radio. msg is freed in all cases.
func (s *Stack) Send(msg mesh.Message) error {
	defer msg.Free()

	switch {
	case s.finalized:
		return mesh.ErrFinalized
	case !s.linkEnabled:
		return mesh.ErrDetached
	}

	frame := make([]byte, msg.Len())
	msg.Read(0, frame)
	if err := s.radio.Transmit(frame); err != nil {
		return err
	}
	s.sent.Add(1)
	return nil
}

// ProcessTasklets runs every tasklet queued so far.
func (s *Stack) ProcessTasklets() {
	s.mu.Lock()
	pending := s.tasklets
	s.tasklets = nil
	s.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
}

// TaskletsPending reports whether tasklets are queued.
func (s *Stack) TaskletsPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasklets) > 0
}

// SetReceiveCallback registers the datagram receive path.
func (s *Stack) SetReceiveCallback(fn mesh.ReceiveFunc) { s.receive = fn }

// SetStateChangedCallback registers the state change handler.
func (s *Stack) SetStateChangedCallback(fn mesh.StateChangedFunc) { s.stateChanged = fn }

// SetAddressCallback registers the address change handler.
func (s *Stack) SetAddressCallback(fn mesh.AddressFunc) { s.address = fn }

// LinkEnabled reports whether the link is up.
func (s *Stack) LinkEnabled() bool { return s.linkEnabled }

// MeshLocalPrefix returns the mesh-local prefix.
func (s *Stack) MeshLocalPrefix() netip.Prefix { return s.cfg.MeshLocalPrefix }

// Finalize shuts the stack down.
func (s *Stack) Finalize() {
	s.finalized = true
	s.linkEnabled = false
	logging.Info(logging.ComponentMeshSim, "stack finalized", "sent", s.sent.Load(), "received", s.received.Load())
}

// LinkLocalAddress returns fe80::/64 plus the interface ID.
func (s *Stack) LinkLocalAddress() netip.Addr {
	return withInterfaceID(netip.MustParsePrefix("fe80::/64"), s.cfg.InterfaceID)
}

// MeshLocalEID returns the mesh-local prefix plus the interface ID.
func (s *Stack) MeshLocalEID() netip.Addr {
	return withInterfaceID(s.cfg.MeshLocalPrefix, s.cfg.InterfaceID)
}

// Up enables the link. The resulting state and address notifications are
// delivered from a tasklet.
func (s *Stack) Up() {
	s.linkEnabled = true
	s.postTasklet(func() {
		s.notifyAddress(mesh.AddressInfo{Address: s.LinkLocalAddress(), PrefixLength: 64}, true)
		s.notifyAddress(mesh.AddressInfo{Address: s.MeshLocalEID(), PrefixLength: 64}, true)
		s.notifyAddress(mesh.AddressInfo{
			Address:      netip.MustParseAddr("ff03::1"),
			PrefixLength: mesh.MulticastPrefixLength,
		}, true)
		s.notifyState(mesh.ChangedNetifState | mesh.ChangedLinkState | mesh.ChangedIP6AddressAdded)
	})
}

// Down disables the link and withdraws the unicast addresses.
func (s *Stack) Down() {
	s.linkEnabled = false
	s.postTasklet(func() {
		s.notifyAddress(mesh.AddressInfo{Address: s.MeshLocalEID(), PrefixLength: 64}, false)
		s.notifyState(mesh.ChangedNetifState | mesh.ChangedLinkState | mesh.ChangedIP6AddressRemoved)
	})
}

// DeliverFrame hands a frame received from the radio to the receive
// callback. It runs on the worker from Platform.Process.
func (s *Stack) DeliverFrame(frame []byte) {
	if s.finalized || !s.linkEnabled {
		return
	}
	msg, err := s.pool.get()
	if err != nil {
		logging.Warn(logging.ComponentMeshSim, "receive dropped", "length", len(frame), "error", err)
		return
	}
	if err := msg.Append(frame); err != nil || s.receive == nil {
		msg.Free()
		return
	}
	s.received.Add(1)
	s.receive(msg)
}

// QuerySNTP asks the border router for the time. The answer is delivered
// from a tasklet, so done runs on the worker during a later iteration.
func (s *Stack) QuerySNTP(server netip.AddrPort, done mesh.SNTPHandler) error {
	switch {
	case s.finalized:
		return mesh.ErrFinalized
	case !s.linkEnabled:
		return mesh.ErrDetached
	case !server.IsValid() || server.Port() == 0:
		return fmt.Errorf("invalid SNTP server %s", server)
	}
	s.postTasklet(func() {
		if s.finalized || !s.linkEnabled {
			done(0, mesh.ErrDetached)
			return
		}
		now := s.cfg.Clock()
		logging.Debug(logging.ComponentMeshSim, "sntp answered", "server", server, "time", now)
		done(uint64(now.Unix()), nil)
	})
	return nil
}

// Stats returns the number of frames sent and received.
func (s *Stack) Stats() (sent, received uint64) {
	return s.sent.Load(), s.received.Load()
}

// MessagesInUse returns the number of allocated message buffers.
func (s *Stack) MessagesInUse() int {
	return int(s.pool.inUse.Load())
}

func (s *Stack) postTasklet(fn func()) {
	s.mu.Lock()
	s.tasklets = append(s.tasklets, fn)
	sig := s.signaler
	s.mu.Unlock()
	if sig != nil {
		sig.SignalTasklets()
	}
}

func (s *Stack) notifyAddress(info mesh.AddressInfo, added bool) {
	if s.address != nil {
		s.address(info, added)
	}
}

func (s *Stack) notifyState(flags mesh.StateFlags) {
	if s.stateChanged != nil {
		s.stateChanged(flags)
	}
}

func withInterfaceID(prefix netip.Prefix, iid uint64) netip.Addr {
	b := prefix.Masked().Addr().As16()
	for i := 0; i < 8; i++ {
		b[15-i] = byte(iid >> (8 * i))
	}
	return netip.AddrFrom16(b)
}

var (
	_ mesh.Stack      = (*Stack)(nil)
	_ mesh.SNTPClient = (*Stack)(nil)
)
