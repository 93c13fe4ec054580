package meshnode

import (
	"errors"
	"fmt"

	"github.com/rmacdonaldsmith/meshbridge-go/internal/bridge"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/meshsim"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/netif"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/sysarch"
)

var (
	// ErrEmptyNodeID is returned when node ID is empty
	ErrEmptyNodeID = errors.New("node ID cannot be empty")
	// ErrNegativeDepth is returned when a buffer depth is negative
	ErrNegativeDepth = errors.New("buffer depth cannot be negative")
)

// Config represents configuration for a node
type Config struct {
	// NodeID names the node in logs, the journal and the bridge
	NodeID string

	// Arch configures the allocator and the mailbox teardown policy
	Arch sysarch.Config

	// Bridge configures the worker. Its Name defaults to NodeID.
	Bridge *bridge.Config

	// Netif configures the interface glue
	Netif netif.Config

	// Stack configures the simulated mesh stack
	Stack meshsim.StackConfig

	// ReceiveDepth is the radio receive mailbox capacity
	ReceiveDepth int

	// HostInbox is the number of received datagrams the host buffers
	HostInbox int

	// JournalRetention is the number of entries kept per kind
	JournalRetention int
}

// NewConfig creates a new node configuration with safe defaults
func NewConfig(nodeID string) *Config {
	return &Config{
		NodeID: nodeID,
		Bridge: bridge.NewConfig(nodeID),
		Netif:  netif.DefaultConfig(),
	}
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.Bridge == nil {
		c.Bridge = bridge.NewConfig(c.NodeID)
	}
	if c.Bridge.Name == "" {
		c.Bridge.Name = c.NodeID
	}
	c.Bridge.SetDefaults()
	c.Arch.SetDefaults()
	c.Netif.SetDefaults()
	c.Stack.SetDefaults()
	if c.ReceiveDepth == 0 {
		c.ReceiveDepth = meshsim.DefaultReceiveDepth
	}
	if c.HostInbox == 0 {
		c.HostInbox = 64
	}
	if c.JournalRetention == 0 {
		c.JournalRetention = 256
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return ErrEmptyNodeID
	}
	if c.ReceiveDepth < 0 || c.HostInbox < 0 || c.JournalRetention < 0 {
		return ErrNegativeDepth
	}
	if c.Bridge != nil {
		if err := c.Bridge.Validate(); err != nil {
			return fmt.Errorf("invalid bridge config: %w", err)
		}
	}
	if err := c.Arch.Validate(); err != nil {
		return fmt.Errorf("invalid arch config: %w", err)
	}
	if err := c.Netif.Validate(); err != nil {
		return fmt.Errorf("invalid netif config: %w", err)
	}
	if err := c.Stack.Validate(); err != nil {
		return fmt.Errorf("invalid stack config: %w", err)
	}
	return nil
}

// WithStackConfig sets the mesh stack configuration
func (c *Config) WithStackConfig(config meshsim.StackConfig) *Config {
	c.Stack = config
	return c
}

// WithNetifConfig sets the interface configuration
func (c *Config) WithNetifConfig(config netif.Config) *Config {
	c.Netif = config
	return c
}

// WithArchConfig sets the primitive layer configuration
func (c *Config) WithArchConfig(config sysarch.Config) *Config {
	c.Arch = config
	return c
}
