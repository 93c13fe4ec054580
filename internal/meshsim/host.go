package meshsim

import (
	"errors"
	"net/netip"
	"sync"

	"github.com/rmacdonaldsmith/meshbridge-go/pkg/ipstack"
)

// ErrInboxFull is returned by Input when received datagrams are not being
// consumed.
var ErrInboxFull = errors.New("host inbox full")

// Host is a minimal IP stack: it records received datagrams and sends
// datagrams through the registered output callback.
type Host struct {
	mu     sync.Mutex
	up     bool
	output ipstack.OutputFunc
	dns    netip.Addr

	inbox chan []byte
}

// NewHost creates a host whose inbox holds up to depth datagrams. Further
// datagrams are refused until the inbox is drained.
func NewHost(depth int) *Host {
	if depth <= 0 {
		depth = 64
	}
	return &Host{inbox: make(chan []byte, depth)}
}

// Input accepts a datagram from the mesh interface.
func (h *Host) Input(frame []byte) error {
	if !h.IsUp() {
		return ipstack.ErrInterfaceDown
	}
	select {
	case h.inbox <- frame:
		return nil
	default:
		return ErrInboxFull
	}
}

// Inbox delivers received datagrams.
func (h *Host) Inbox() <-chan []byte { return h.inbox }

// Send transmits a datagram through the interface output callback.
func (h *Host) Send(payload []byte) error {
	h.mu.Lock()
	up, out := h.up, h.output
	h.mu.Unlock()

	if !up || out == nil {
		return ipstack.ErrInterfaceDown
	}
	return out(payload)
}

// SetUp marks the interface up.
func (h *Host) SetUp() {
	h.mu.Lock()
	h.up = true
	h.mu.Unlock()
}

// SetDown marks the interface down.
func (h *Host) SetDown() {
	h.mu.Lock()
	h.up = false
	h.mu.Unlock()
}

// IsUp reports whether the interface is up.
func (h *Host) IsUp() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.up
}

// SetOutput registers the output callback.
func (h *Host) SetOutput(fn ipstack.OutputFunc) {
	h.mu.Lock()
	h.output = fn
	h.mu.Unlock()
}

// SetDNSServer records the resolver address.
func (h *Host) SetDNSServer(addr netip.Addr) {
	h.mu.Lock()
	h.dns = addr
	h.mu.Unlock()
}

// DNSServer returns the configured resolver address.
func (h *Host) DNSServer() netip.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dns
}

var _ ipstack.Interface = (*Host)(nil)
