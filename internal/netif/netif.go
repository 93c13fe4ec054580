// Package netif glues the mesh stack to the IP stack. Outbound datagrams
// from the IP stack are queued for the bridge worker; inbound datagrams,
// link state and address changes from the mesh stack are applied to the IP
// stack's view of the interface.
package netif

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"

	"github.com/rmacdonaldsmith/meshbridge-go/internal/logging"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/nat64"
	"github.com/rmacdonaldsmith/meshbridge-go/pkg/diag"
	"github.com/rmacdonaldsmith/meshbridge-go/pkg/ipstack"
	"github.com/rmacdonaldsmith/meshbridge-go/pkg/mesh"
	"github.com/rmacdonaldsmith/meshbridge-go/pkg/sysarch"
)

// ErrShortRead is recorded when a mesh message yields fewer bytes than its
// reported length.
var ErrShortRead = errors.New("short message read")

// Protector is the IP stack core lock.
type Protector interface {
	Protect() int
	Unprotect()
}

// Netif is the mesh network interface.
type Netif struct {
	cfg     Config
	ip      ipstack.Interface
	protect Protector
	alloc   sysarch.Allocator
	rec     diag.Recorder

	queue    *OutputQueue
	addrs    *AddressTable
	resolver *nat64.Resolver

	stack mesh.Stack
}

// New creates a mesh interface on top of ip. notifier wakes the bridge
// worker whenever a datagram is queued.
func New(cfg Config, ip ipstack.Interface, protect Protector, alloc sysarch.Allocator, notifier sysarch.Notifier, rec diag.Recorder) (*Netif, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid netif config: %w", err)
	}
	if rec == nil {
		rec = discard{}
	}
	resolver, err := nat64.NewResolver(cfg.NAT64Prefix, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid netif config: %w", err)
	}
	return &Netif{
		cfg:      cfg,
		ip:       ip,
		protect:  protect,
		alloc:    alloc,
		rec:      rec,
		queue:    NewOutputQueue(cfg.MTU, alloc, notifier, rec),
		addrs:    NewAddressTable(cfg.MaxAddresses),
		resolver: resolver,
	}, nil
}

// Attach registers the interface callbacks with stack and the output path
// and resolver with the IP stack. It must run on the bridge worker or under
// the bridge lock.
func (n *Netif) Attach(stack mesh.Stack) {
	n.stack = stack
	stack.SetReceiveCallback(n.handleReceive)
	stack.SetStateChangedCallback(n.handleStateChanged)
	stack.SetAddressCallback(n.handleAddress)

	n.ip.SetOutput(n.Output)
	n.ip.SetDNSServer(n.cfg.DNSServer)
	logging.Info(logging.ComponentNetif, "netif attached",
		"mtu", n.cfg.MTU, "dns", n.cfg.DNSServer, "nat64", n.resolver.Prefix())
}

// Output is the IP stack output callback.
func (n *Netif) Output(payload []byte) error {
	return n.queue.Enqueue(payload)
}

// Queue returns the outbound packet queue drained by the worker.
func (n *Netif) Queue() *OutputQueue { return n.queue }

// Addresses returns the interface address table.
func (n *Netif) Addresses() *AddressTable { return n.addrs }

// Resolver synthesizes mesh-reachable addresses for IPv4 hosts using the
// configured NAT64 prefix.
func (n *Netif) Resolver() *nat64.Resolver { return n.resolver }

// Config returns the effective configuration.
func (n *Netif) Config() Config { return n.cfg }

func (n *Netif) handleReceive(msg mesh.Message) {
	defer msg.Free()

	if err := n.receive(msg); err != nil {
		logging.Warn(logging.ComponentNetif, "receive failed", "length", msg.Len(), "error", err)
		n.rec.Record(diag.KindReceiveFailed, "inbound datagram dropped", map[string]string{
			"length": strconv.Itoa(msg.Len()),
			"error":  err.Error(),
		})
	}
}

func (n *Netif) receive(msg mesh.Message) error {
	length := msg.Len()
	if err := n.alloc.Reserve(length); err != nil {
		return fmt.Errorf("allocate frame: %w", err)
	}
	defer n.alloc.Release(length)

	frame := make([]byte, length)
	var block [receiveBlockSize]byte
	for i := 0; i < length; i += receiveBlockSize {
		want := min(receiveBlockSize, length-i)
		count := msg.Read(i, block[:want])
		if count < want {
			return fmt.Errorf("read %d of %d bytes at %d: %w", count, want, i, ErrShortRead)
		}
		copy(frame[i:], block[:count])
	}

	if err := n.ip.Input(frame); err != nil {
		return fmt.Errorf("ip input: %w", err)
	}
	return nil
}

func (n *Netif) handleStateChanged(flags mesh.StateFlags) {
	if !flags.Has(mesh.ChangedNetifState) {
		return
	}

	n.protect.Protect()
	defer n.protect.Unprotect()

	if n.stack.LinkEnabled() {
		logging.Info(logging.ComponentNetif, "netif up")
		n.ip.SetUp()
	} else {
		logging.Info(logging.ComponentNetif, "netif down")
		n.ip.SetDown()
	}
}

func (n *Netif) handleAddress(info mesh.AddressInfo, added bool) {
	logging.Debug(logging.ComponentNetif, "address changed",
		"address", info.Address, "prefix_length", info.PrefixLength, "added", added)

	if info.IsMulticastSubscription() {
		return
	}
	if added {
		n.addAddress(info.Address)
	} else {
		n.removeAddress(info.Address)
	}
}

func (n *Netif) addAddress(addr netip.Addr) {
	n.protect.Protect()
	defer n.protect.Unprotect()

	if isLinkLocal(addr) {
		n.addrs.SetLinkLocal(addr, ipstack.AddrPreferred)
		return
	}

	state := ipstack.AddrPreferred
	if n.stack.MeshLocalPrefix().Contains(addr) {
		state = ipstack.AddrValid
	}
	if _, err := n.addrs.Add(addr, state); err != nil {
		logging.Info(logging.ComponentNetif, "failed to add address", "address", addr, "error", err)
	}
}

func (n *Netif) removeAddress(addr netip.Addr) {
	n.protect.Protect()
	defer n.protect.Unprotect()

	n.addrs.Invalidate(addr)
}

// isLinkLocal matches fe80::/16, the form the mesh stack assigns.
func isLinkLocal(addr netip.Addr) bool {
	b := addr.As16()
	return addr.Is6() && b[0] == 0xfe && b[1] == 0x80
}

type discard struct{}

func (discard) Record(diag.Kind, string, map[string]string) {}
