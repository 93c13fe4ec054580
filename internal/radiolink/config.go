package radiolink

import (
	"errors"
	"time"
)

// Link defaults.
const (
	// DefaultSendTimeout bounds one frame delivery to one peer.
	DefaultSendTimeout = 2 * time.Second

	// DefaultMaxFrameSize fits one IPv6 minimum-MTU datagram.
	DefaultMaxFrameSize = 1280
)

var (
	// ErrEmptyNodeID is returned when the link has no node ID
	ErrEmptyNodeID = errors.New("node ID cannot be empty")
	// ErrEmptyListenAddress is returned when the link has nowhere to listen
	ErrEmptyListenAddress = errors.New("listen address cannot be empty")
)

// Config holds configuration for a radio link
type Config struct {
	// NodeID is sent with every frame so receivers can tell senders apart
	NodeID string

	// ListenAddress is where the radio service accepts frames
	ListenAddress string

	// Peers are static seeds, "host:port" or "id=host:port"
	Peers []string

	SendTimeout  time.Duration
	MaxFrameSize int
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch {
	case c.NodeID == "":
		return ErrEmptyNodeID
	case c.ListenAddress == "":
		return ErrEmptyListenAddress
	case c.SendTimeout < 0:
		return errors.New("send timeout cannot be negative")
	case c.MaxFrameSize < 0:
		return errors.New("max frame size cannot be negative")
	}
	return nil
}

// SetDefaults fills zero durations and sizes
func (c *Config) SetDefaults() {
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
}
