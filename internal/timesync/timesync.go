// Package timesync fetches network time over the mesh. The server name is
// resolved to a NAT64 address, the SNTP query is issued on the bridge
// worker's stack, and the calling task sleeps on a notification bit until
// the stack's callback fires.
package timesync

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/rmacdonaldsmith/meshbridge-go/internal/logging"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/sysarch"
	"github.com/rmacdonaldsmith/meshbridge-go/pkg/mesh"
)

const (
	// DefaultServer is queried when no server is configured.
	DefaultServer = "time.google.com"

	// DefaultTimeout bounds a query when the context carries no deadline.
	DefaultTimeout = 5 * time.Second

	// ResponseBit is raised on the caller's notification when the stack
	// reports a result.
	ResponseBit uint32 = 1 << 11

	cancelBit uint32 = 1 << 12
)

var (
	// ErrTimeout is returned when the stack never answers
	ErrTimeout = errors.New("SNTP query timed out")
	// ErrUnsupported is returned when the stack cannot issue SNTP queries
	ErrUnsupported = errors.New("stack does not support SNTP")
	// ErrOnWorker is returned when Query is called by the bridge worker,
	// which would then wait on its own callback
	ErrOnWorker = errors.New("SNTP query from the bridge worker")
)

// Resolver synthesizes a mesh-reachable address for a host name.
// *nat64.Resolver satisfies it.
type Resolver interface {
	LookupNAT64(ctx context.Context, host string) (netip.Addr, error)
}

// Caller runs functions with exclusive access to the stack.
// *bridge.Bridge satisfies it.
type Caller interface {
	Call(fn func(stack mesh.Stack))
	IsWorker() bool
}

// Config holds configuration for a Client.
type Config struct {
	// Server is the SNTP server host name or IPv4 literal
	Server string

	// Port is the server's UDP port
	Port uint16

	// Timeout bounds a single query
	Timeout time.Duration
}

// SetDefaults sets sensible default values for unset fields.
func (c *Config) SetDefaults() {
	if c.Server == "" {
		c.Server = DefaultServer
	}
	if c.Port == 0 {
		c.Port = mesh.SNTPDefaultPort
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server == "" {
		return errors.New("server cannot be empty")
	}
	if c.Timeout < 0 {
		return errors.New("timeout cannot be negative")
	}
	return nil
}

// Client queries an SNTP server through the bridge.
type Client struct {
	cfg      Config
	resolver Resolver
	caller   Caller
}

// NewClient creates a client that resolves servers with resolver and
// reaches the stack through caller.
func NewClient(cfg Config, resolver Resolver, caller Caller) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid timesync config: %w", err)
	}
	if resolver == nil {
		return nil, errors.New("resolver cannot be nil")
	}
	if caller == nil {
		return nil, errors.New("caller cannot be nil")
	}
	return &Client{cfg: cfg, resolver: resolver, caller: caller}, nil
}

// Config returns the client configuration with defaults applied.
func (c *Client) Config() Config { return c.cfg }

// Query returns the server's time, truncated to the second.
func (c *Client) Query(ctx context.Context) (time.Time, error) {
	if c.caller.IsWorker() {
		return time.Time{}, ErrOnWorker
	}

	addr, err := c.resolver.LookupNAT64(ctx, c.cfg.Server)
	if err != nil {
		return time.Time{}, fmt.Errorf("resolve %s: %w", c.cfg.Server, err)
	}
	server := netip.AddrPortFrom(addr, c.cfg.Port)

	var (
		wake    = sysarch.NewNotification()
		mu      sync.Mutex
		seconds uint64
		result  error
		issued  error
	)
	start := time.Now()
	c.caller.Call(func(stack mesh.Stack) {
		client, ok := stack.(mesh.SNTPClient)
		if !ok {
			issued = ErrUnsupported
			return
		}
		issued = client.QuerySNTP(server, func(sec uint64, err error) {
			mu.Lock()
			seconds, result = sec, err
			mu.Unlock()
			wake.SetBits(ResponseBit)
		})
	})
	if issued != nil {
		return time.Time{}, fmt.Errorf("query %s: %w", server, issued)
	}

	stop := context.AfterFunc(ctx, func() { wake.SetBits(cancelBit) })
	defer stop()

	got, ok := wake.WaitBits(ResponseBit|cancelBit, c.cfg.Timeout)
	switch {
	case !ok:
		logging.Warn(logging.ComponentTimeSync, "sntp timeout", "server", server, "timeout", c.cfg.Timeout)
		return time.Time{}, fmt.Errorf("query %s: %w", server, ErrTimeout)
	case got&ResponseBit == 0:
		return time.Time{}, ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	if result != nil {
		return time.Time{}, fmt.Errorf("query %s: %w", server, result)
	}
	logging.Debug(logging.ComponentTimeSync, "sntp response",
		"server", server, "seconds", seconds, "rtt", time.Since(start))
	return time.Unix(int64(seconds), 0), nil
}
