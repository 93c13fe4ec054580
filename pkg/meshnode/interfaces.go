package meshnode

import (
	"context"
	"io"
	"net/netip"

	"github.com/rmacdonaldsmith/meshbridge-go/pkg/diag"
)

// MeshNode is one bridged node: a mesh stack on its bridge worker, the
// network interface glue and the IP host above it.
type MeshNode interface {
	io.Closer

	// Start launches the bridge worker and brings the mesh link up.
	Start(ctx context.Context) error

	// Stop finalizes the stack and waits for the worker to exit.
	Stop(ctx context.Context) error

	// Send hands an IPv6 datagram to the IP host for transmission on the
	// mesh interface.
	Send(ctx context.Context, datagram []byte) error

	// Received delivers datagrams that arrived on the mesh interface.
	Received() <-chan []byte

	// Addresses returns the active interface addresses.
	Addresses() []netip.Addr

	// GetJournal returns the node's diagnostic journal.
	GetJournal() diag.Journal

	// GetNodeID returns this node's identifier.
	GetNodeID() string

	// GetHealth returns the overall health status of this node.
	GetHealth(ctx context.Context) (HealthStatus, error)
}

// HealthStatus represents the overall health of a node
type HealthStatus struct {
	// Healthy indicates the worker is running and the interface is up
	Healthy bool

	// BridgeState is the worker lifecycle state
	BridgeState string

	// InterfaceUp indicates the IP interface is up
	InterfaceUp bool

	// Iterations is the number of completed worker iterations
	Iterations uint64

	// PacketsSent counts datagrams handed to the mesh stack
	PacketsSent uint64

	// SendFailures counts datagrams the mesh stack refused
	SendFailures uint64

	// QueueDepth is the number of datagrams waiting for the worker
	QueueDepth int

	// HeapInUse is the number of bytes currently charged to the allocator
	HeapInUse int

	// JournalEntries is the number of diagnostic entries recorded
	JournalEntries int64

	// Message provides additional health information
	Message string
}
