package discovery

import (
	"context"

	"github.com/rmacdonaldsmith/meshbridge-go/pkg/radiolink"
)

// Discovery defines the interface for radio peer discovery mechanisms
type Discovery interface {
	// FindPeers discovers and returns available radio peers
	FindPeers(ctx context.Context) ([]radiolink.Peer, error)
}
