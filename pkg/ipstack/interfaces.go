package ipstack

import (
	"errors"
	"net/netip"
)

// ErrInterfaceDown is returned by Input when the interface is not up.
var ErrInterfaceDown = errors.New("interface down")

// AddrState is the state of an interface address.
type AddrState int

// Address states.
const (
	AddrInvalid AddrState = iota
	AddrTentative
	AddrPreferred
	AddrValid
)

func (s AddrState) String() string {
	switch s {
	case AddrInvalid:
		return "invalid"
	case AddrTentative:
		return "tentative"
	case AddrPreferred:
		return "preferred"
	case AddrValid:
		return "valid"
	default:
		return "unknown"
	}
}

// OutputFunc is the interface output callback. The IP stack calls it with
// each outbound IPv6 datagram; the callee must copy payload before
// returning.
type OutputFunc func(payload []byte) error

// Interface is the IP stack's view of the mesh network interface.
type Interface interface {
	// Input hands a received IPv6 datagram to the IP stack.
	Input(frame []byte) error

	// SetUp marks the interface administratively up.
	SetUp()

	// SetDown marks the interface down.
	SetDown()

	// IsUp reports whether the interface is up.
	IsUp() bool

	// SetOutput registers the output callback.
	SetOutput(fn OutputFunc)

	// SetDNSServer configures the resolver.
	SetDNSServer(addr netip.Addr)
}
