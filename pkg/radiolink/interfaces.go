package radiolink

import (
	"context"
	"io"
)

// PeerHealthState represents the health state of a radio peer
type PeerHealthState int

const (
	PeerHealthy PeerHealthState = iota
	PeerUnhealthy
	PeerDisconnected
)

func (s PeerHealthState) String() string {
	switch s {
	case PeerHealthy:
		return "Healthy"
	case PeerUnhealthy:
		return "Unhealthy"
	case PeerDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Peer represents a remote node reachable over the radio link
type Peer interface {
	// ID returns unique identifier for this peer
	ID() string

	// Address returns the network address of the peer's radio endpoint
	Address() string

	// IsHealthy returns whether the last transmission to the peer succeeded
	IsHealthy() bool
}

// Link carries radio frames between nodes. A frame transmitted on a link
// is delivered to every connected peer; delivery is best effort, like the
// air.
type Link interface {
	io.Closer

	// Transmit delivers frame to every connected peer.
	Transmit(frame []byte) error

	// Connect adds peer to the set of receivers.
	Connect(ctx context.Context, peer Peer) error

	// Disconnect removes the peer with the given ID.
	Disconnect(ctx context.Context, peerID string) error

	// GetConnectedPeers returns all currently connected peers.
	GetConnectedPeers(ctx context.Context) ([]Peer, error)

	// GetPeerHealth returns health status for a specific peer.
	GetPeerHealth(ctx context.Context, peerID string) (PeerHealthState, error)
}
