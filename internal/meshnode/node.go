package meshnode

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"sync"

	"github.com/rmacdonaldsmith/meshbridge-go/internal/bridge"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/diag"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/logging"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/meshsim"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/nat64"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/netif"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/sysarch"
	diagpkg "github.com/rmacdonaldsmith/meshbridge-go/pkg/diag"
	"github.com/rmacdonaldsmith/meshbridge-go/pkg/mesh"
	"github.com/rmacdonaldsmith/meshbridge-go/pkg/meshnode"
	pkgsysarch "github.com/rmacdonaldsmith/meshbridge-go/pkg/sysarch"
)

var (
	// ErrClosed is returned by operations on a closed node
	ErrClosed = errors.New("node closed")
	// ErrNotRunning is returned by Send before Start or after Stop
	ErrNotRunning = errors.New("node not running")
)

// RadioFactory attaches a node's receive path to a radio medium and
// returns the radio the node transmits on.
type RadioFactory func(rx meshsim.Receiver) (meshsim.Radio, error)

// LoopbackRadio attaches nodes to an in-process medium.
func LoopbackRadio(medium *meshsim.Loopback) RadioFactory {
	return func(rx meshsim.Receiver) (meshsim.Radio, error) {
		return medium.Attach(rx), nil
	}
}

// Node implements the meshnode.MeshNode interface.
// It owns the primitive layer, the bridge worker, the interface glue and
// the simulated mesh side.
type Node struct {
	mu     sync.RWMutex
	config *Config

	arch     *sysarch.Arch
	journal  *diag.InMemoryJournal
	platform *meshsim.Platform
	stack    *meshsim.Stack
	host     *meshsim.Host
	netif    *netif.Netif
	bridge   *bridge.Bridge

	started bool
	closed  bool
}

// New creates a node with the given configuration. It builds every
// component but does not start the worker. Call Start to begin operation.
func New(config *Config, radio RadioFactory) (*Node, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if radio == nil {
		return nil, fmt.Errorf("radio factory cannot be nil")
	}

	cfg := *config
	if config.Bridge != nil {
		bc := *config.Bridge
		cfg.Bridge = &bc
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	n := &Node{
		config:  &cfg,
		journal: diag.NewInMemoryJournal(cfg.JournalRetention),
	}

	userLeak := cfg.Arch.Mailbox.OnLeak
	cfg.Arch.Mailbox.OnLeak = func(ev pkgsysarch.LeakEvent) {
		n.journal.Record(diagpkg.KindMailboxLeak, "mailbox leaked on teardown", map[string]string{
			"node":     cfg.NodeID,
			"mailbox":  ev.Name,
			"pending":  strconv.Itoa(ev.Pending),
			"attempts": strconv.Itoa(ev.Attempts),
			"waited":   ev.Waited.String(),
		})
		if userLeak != nil {
			userLeak(ev)
		}
	}

	arch, err := sysarch.New(cfg.Arch)
	if err != nil {
		return nil, fmt.Errorf("failed to create arch: %w", err)
	}
	n.arch = arch

	// The platform and stack need the bridge as their notifier, and the
	// bridge needs both; the notifier is filled in once the bridge exists.
	platform, err := meshsim.NewPlatform(arch, cfg.ReceiveDepth, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create platform: %w", err)
	}
	n.platform = platform

	r, err := radio(platform)
	if err != nil {
		platform.Close()
		return nil, fmt.Errorf("failed to attach radio: %w", err)
	}

	stack, err := meshsim.NewStack(cfg.Stack, r)
	if err != nil {
		platform.Close()
		return nil, fmt.Errorf("failed to create stack: %w", err)
	}
	n.stack = stack

	br, err := bridge.New(cfg.Bridge, stack, platform, bridge.WithRecorder(n.journal))
	if err != nil {
		platform.Close()
		return nil, fmt.Errorf("failed to create bridge: %w", err)
	}
	n.bridge = br
	platform.SetNotifier(br)
	stack.SetSignaler(br)

	n.host = meshsim.NewHost(cfg.HostInbox)
	nif, err := netif.New(cfg.Netif, n.host, arch, arch.Allocator(), br, n.journal)
	if err != nil {
		platform.Close()
		return nil, fmt.Errorf("failed to create netif: %w", err)
	}
	n.netif = nif
	br.SetOutputQueue(nif.Queue())

	return n, nil
}

// Start launches the bridge worker, attaches the interface glue to the
// stack and brings the mesh link up.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	if n.started {
		return nil
	}

	if err := n.bridge.Start(); err != nil {
		return fmt.Errorf("failed to start bridge: %w", err)
	}
	n.bridge.Call(func(s mesh.Stack) {
		n.netif.Attach(s)
		n.stack.Up()
	})

	n.started = true
	logging.Info(logging.ComponentBridge, "node started", "node", n.config.NodeID)
	return nil
}

// Stop finalizes the stack and waits for the worker to exit or ctx to end.
// A stopped node cannot be restarted.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.started {
		return nil
	}
	n.host.SetDown()
	if err := n.bridge.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop bridge: %w", err)
	}
	n.started = false
	return nil
}

// Close stops the node and releases all resources.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	var errs []error
	if err := n.bridge.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close bridge: %w", err))
	}
	n.host.SetDown()
	if err := n.platform.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close platform: %w", err))
	}
	if err := n.journal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close journal: %w", err))
	}

	n.mu.Lock()
	n.started = false
	n.mu.Unlock()
	return errors.Join(errs...)
}

// Send hands datagram to the IP host, which outputs it on the mesh
// interface.
func (n *Node) Send(ctx context.Context, datagram []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		return ErrClosed
	}
	if !n.started {
		return ErrNotRunning
	}
	return n.host.Send(datagram)
}

// Received delivers datagrams that arrived on the mesh interface.
func (n *Node) Received() <-chan []byte { return n.host.Inbox() }

// Addresses returns the active interface addresses.
func (n *Node) Addresses() []netip.Addr {
	slots := n.netif.Addresses().Active()
	addrs := make([]netip.Addr, len(slots))
	for i, s := range slots {
		addrs[i] = s.Addr
	}
	return addrs
}

// InterfaceUp reports whether the IP interface is up.
func (n *Node) InterfaceUp() bool { return n.host.IsUp() }

// DNSServer returns the resolver address configured on the IP host.
func (n *Node) DNSServer() netip.Addr { return n.host.DNSServer() }

// MeshLocalEID returns the node's mesh-local address.
func (n *Node) MeshLocalEID() netip.Addr { return n.stack.MeshLocalEID() }

// Resolver returns the NAT64 resolver built from the interface's prefix.
func (n *Node) Resolver() *nat64.Resolver { return n.netif.Resolver() }

// GetJournal returns the node's diagnostic journal.
func (n *Node) GetJournal() diagpkg.Journal { return n.journal }

// GetNodeID returns this node's identifier.
func (n *Node) GetNodeID() string { return n.config.NodeID }

// Bridge returns the node's bridge, for callers that need the stack lock.
func (n *Node) Bridge() *bridge.Bridge { return n.bridge }

// Arch returns the node's primitive layer.
func (n *Node) Arch() *sysarch.Arch { return n.arch }

// Platform returns the simulated platform.
func (n *Node) Platform() *meshsim.Platform { return n.platform }

// GetHealth returns the overall health status of this node.
func (n *Node) GetHealth(ctx context.Context) (meshnode.HealthStatus, error) {
	stats, err := n.journal.Statistics(ctx)
	if err != nil {
		return meshnode.HealthStatus{}, err
	}

	bh := n.bridge.Health()
	up := n.host.IsUp()
	h := meshnode.HealthStatus{
		Healthy:        bh.Healthy && up,
		BridgeState:    bh.State.String(),
		InterfaceUp:    up,
		Iterations:     bh.Iterations,
		PacketsSent:    bh.PacketsSent,
		SendFailures:   bh.SendFailures,
		QueueDepth:     bh.QueueDepth,
		HeapInUse:      n.arch.Allocator().InUse(),
		JournalEntries: stats.TotalEntries,
		Message:        bh.Message,
	}
	if bh.Healthy && !up {
		h.Message = "interface down"
	}
	return h, nil
}

// Verify that Node implements the MeshNode interface at compile time
var _ meshnode.MeshNode = (*Node)(nil)
