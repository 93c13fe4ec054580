// Package config loads meshbridge settings from defaults, an optional YAML
// file and MESHBRIDGE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rmacdonaldsmith/meshbridge-go/internal/bridge"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/cloudauth"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/logging"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/meshnode"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/meshsim"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/nat64"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/radiolink"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/sysarch"
	"github.com/rmacdonaldsmith/meshbridge-go/internal/timesync"
)

// EnvPrefix is prepended to every environment override, e.g.
// MESHBRIDGE_RADIO_LISTEN for radio.listen.
const EnvPrefix = "MESHBRIDGE"

// Config is the top-level meshbridge configuration
type Config struct {
	Node    NodeConfig    `mapstructure:"node"`
	Bridge  BridgeConfig  `mapstructure:"bridge"`
	Radio   RadioConfig   `mapstructure:"radio"`
	Health  HealthConfig  `mapstructure:"health"`
	Cloud   CloudConfig   `mapstructure:"cloud"`
	Time    TimeConfig    `mapstructure:"time"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// NodeConfig sizes the node's buffers and names it
type NodeConfig struct {
	ID string `mapstructure:"id"`
	// InterfaceID is the low 64 bits of the node's mesh addresses
	InterfaceID      uint64 `mapstructure:"interface_id"`
	HeapLimit        int    `mapstructure:"heap_limit"`
	ReceiveDepth     int    `mapstructure:"receive_depth"`
	HostInbox        int    `mapstructure:"host_inbox"`
	JournalRetention int    `mapstructure:"journal_retention"`
	// NAT64Prefix is the /96 used to reach IPv4 hosts from the mesh
	NAT64Prefix string `mapstructure:"nat64_prefix"`
}

// BridgeConfig controls the worker loop and mailbox teardown
type BridgeConfig struct {
	PollTimeout     time.Duration `mapstructure:"poll_timeout"`
	StopTimeout     time.Duration `mapstructure:"stop_timeout"`
	TeardownRetries int           `mapstructure:"teardown_retries"`
	TeardownPoll    time.Duration `mapstructure:"teardown_poll"`
}

// RadioConfig configures the gRPC radio link
type RadioConfig struct {
	Listen       string        `mapstructure:"listen"`
	Peers        []string      `mapstructure:"peers"`
	SendTimeout  time.Duration `mapstructure:"send_timeout"`
	MaxFrameSize int           `mapstructure:"max_frame_size"`
}

// HealthConfig controls the gRPC health service
type HealthConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// CloudConfig identifies the device to the cloud broker
type CloudConfig struct {
	ProjectID     string        `mapstructure:"project_id"`
	Region        string        `mapstructure:"region"`
	RegistryID    string        `mapstructure:"registry_id"`
	DeviceID      string        `mapstructure:"device_id"`
	Algorithm     string        `mapstructure:"algorithm"`
	KeyFile       string        `mapstructure:"key_file"`
	TokenLifetime time.Duration `mapstructure:"token_lifetime"`
}

// TimeConfig selects the SNTP server queried over the mesh
type TimeConfig struct {
	Server  string        `mapstructure:"server"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LoggingConfig selects log level and output format
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			ID:               defaultNodeID(),
			InterfaceID:      1,
			ReceiveDepth:     meshsim.DefaultReceiveDepth,
			HostInbox:        64,
			JournalRetention: 256,
			NAT64Prefix:      nat64.WellKnownPrefix.String(),
		},
		Bridge: BridgeConfig{
			StopTimeout:     5 * time.Second,
			TeardownRetries: 50,
			TeardownPoll:    10 * time.Millisecond,
		},
		Radio: RadioConfig{
			Listen:       ":9090",
			Peers:        []string{},
			SendTimeout:  radiolink.DefaultSendTimeout,
			MaxFrameSize: radiolink.DefaultMaxFrameSize,
		},
		Health: HealthConfig{
			Enabled:  true,
			Interval: time.Second,
		},
		Cloud: CloudConfig{
			Algorithm:     string(cloudauth.RS256),
			TokenLifetime: cloudauth.DefaultTokenLifetime,
		},
		Time: TimeConfig{
			Server:  timesync.DefaultServer,
			Timeout: timesync.DefaultTimeout,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func defaultNodeID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "meshbridge-node-1"
	}
	return "meshbridge-" + hostname
}

// SetDefaults registers default values with v. Every key must have a
// default for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("node.id", d.Node.ID)
	v.SetDefault("node.interface_id", d.Node.InterfaceID)
	v.SetDefault("node.heap_limit", d.Node.HeapLimit)
	v.SetDefault("node.receive_depth", d.Node.ReceiveDepth)
	v.SetDefault("node.host_inbox", d.Node.HostInbox)
	v.SetDefault("node.journal_retention", d.Node.JournalRetention)
	v.SetDefault("node.nat64_prefix", d.Node.NAT64Prefix)

	v.SetDefault("bridge.poll_timeout", d.Bridge.PollTimeout)
	v.SetDefault("bridge.stop_timeout", d.Bridge.StopTimeout)
	v.SetDefault("bridge.teardown_retries", d.Bridge.TeardownRetries)
	v.SetDefault("bridge.teardown_poll", d.Bridge.TeardownPoll)

	v.SetDefault("radio.listen", d.Radio.Listen)
	v.SetDefault("radio.peers", d.Radio.Peers)
	v.SetDefault("radio.send_timeout", d.Radio.SendTimeout)
	v.SetDefault("radio.max_frame_size", d.Radio.MaxFrameSize)

	v.SetDefault("health.enabled", d.Health.Enabled)
	v.SetDefault("health.interval", d.Health.Interval)

	v.SetDefault("cloud.project_id", d.Cloud.ProjectID)
	v.SetDefault("cloud.region", d.Cloud.Region)
	v.SetDefault("cloud.registry_id", d.Cloud.RegistryID)
	v.SetDefault("cloud.device_id", d.Cloud.DeviceID)
	v.SetDefault("cloud.algorithm", d.Cloud.Algorithm)
	v.SetDefault("cloud.key_file", d.Cloud.KeyFile)
	v.SetDefault("cloud.token_lifetime", d.Cloud.TokenLifetime)

	v.SetDefault("time.server", d.Time.Server)
	v.SetDefault("time.timeout", d.Time.Timeout)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// NewViper returns a viper instance with defaults registered and
// environment overrides enabled. If file is set it is read and must exist;
// otherwise meshbridge.yaml is looked up in the working directory and
// $HOME/.config/meshbridge, and a missing file is not an error.
func NewViper(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
		return v, nil
	}

	v.SetConfigName("meshbridge")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/meshbridge")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return v, nil
}

// Load reads the configuration from v into a Config and validates it
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid field at once
func (c *Config) Validate() error {
	var errs []error
	if c.Node.ID == "" {
		errs = append(errs, errors.New("node.id cannot be empty"))
	}
	if c.Node.HeapLimit < 0 {
		errs = append(errs, errors.New("node.heap_limit cannot be negative"))
	}
	if c.Node.ReceiveDepth < 0 || c.Node.HostInbox < 0 || c.Node.JournalRetention < 0 {
		errs = append(errs, errors.New("node buffer depths cannot be negative"))
	}
	if _, err := c.nat64Prefix(); err != nil {
		errs = append(errs, fmt.Errorf("node.nat64_prefix: %w", err))
	}
	if c.Bridge.PollTimeout < 0 {
		errs = append(errs, errors.New("bridge.poll_timeout cannot be negative"))
	}
	if c.Bridge.TeardownRetries < 0 {
		errs = append(errs, errors.New("bridge.teardown_retries cannot be negative"))
	}
	if c.Radio.Listen == "" {
		errs = append(errs, errors.New("radio.listen cannot be empty"))
	}
	if c.Health.Enabled && c.Health.Interval <= 0 {
		errs = append(errs, errors.New("health.interval must be positive"))
	}
	switch cloudauth.Algorithm(c.Cloud.Algorithm) {
	case cloudauth.RS256, cloudauth.ES256:
	default:
		errs = append(errs, fmt.Errorf("cloud.algorithm %q: %w", c.Cloud.Algorithm, cloudauth.ErrUnsupportedAlgorithm))
	}
	if c.Time.Server == "" {
		errs = append(errs, errors.New("time.server cannot be empty"))
	}
	if c.Time.Timeout < 0 {
		errs = append(errs, errors.New("time.timeout cannot be negative"))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be text or json", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// MeshNodeConfig converts the settings into a node configuration
func (c *Config) MeshNodeConfig() *meshnode.Config {
	nc := meshnode.NewConfig(c.Node.ID).
		WithStackConfig(meshsim.StackConfig{InterfaceID: c.Node.InterfaceID}).
		WithArchConfig(sysarch.Config{
			HeapLimit: c.Node.HeapLimit,
			Mailbox: sysarch.MailboxConfig{
				RetryBudget:  c.Bridge.TeardownRetries,
				PollInterval: c.Bridge.TeardownPoll,
			},
		})
	nc.Bridge = &bridge.Config{
		Name:        c.Node.ID,
		PollTimeout: c.Bridge.PollTimeout,
		StopTimeout: c.Bridge.StopTimeout,
	}
	if prefix, err := c.nat64Prefix(); err == nil {
		nc.Netif.NAT64Prefix = prefix
	}
	nc.ReceiveDepth = c.Node.ReceiveDepth
	nc.HostInbox = c.Node.HostInbox
	nc.JournalRetention = c.Node.JournalRetention
	return nc
}

// nat64Prefix parses node.nat64_prefix. Empty means the well-known prefix.
func (c *Config) nat64Prefix() (netip.Prefix, error) {
	if c.Node.NAT64Prefix == "" {
		return nat64.WellKnownPrefix, nil
	}
	prefix, err := netip.ParsePrefix(c.Node.NAT64Prefix)
	if err != nil {
		return netip.Prefix{}, err
	}
	if !prefix.Addr().Is6() || prefix.Bits() != 96 {
		return netip.Prefix{}, nat64.ErrInvalidPrefix
	}
	return prefix, nil
}

// TimeSyncConfig converts the settings into an SNTP client configuration
func (c *Config) TimeSyncConfig() timesync.Config {
	tc := timesync.Config{
		Server:  c.Time.Server,
		Timeout: c.Time.Timeout,
	}
	tc.SetDefaults()
	return tc
}

// RadioLinkConfig converts the settings into a radio link configuration
func (c *Config) RadioLinkConfig() *radiolink.Config {
	rc := &radiolink.Config{
		NodeID:        c.Node.ID,
		ListenAddress: c.Radio.Listen,
		Peers:         append([]string(nil), c.Radio.Peers...),
		SendTimeout:   c.Radio.SendTimeout,
		MaxFrameSize:  c.Radio.MaxFrameSize,
	}
	rc.SetDefaults()
	return rc
}

// CloudAuthConfig converts the settings into a device identity
func (c *Config) CloudAuthConfig() cloudauth.Config {
	cc := cloudauth.Config{
		ProjectID:     c.Cloud.ProjectID,
		Region:        c.Cloud.Region,
		RegistryID:    c.Cloud.RegistryID,
		DeviceID:      c.Cloud.DeviceID,
		Algorithm:     cloudauth.Algorithm(c.Cloud.Algorithm),
		TokenLifetime: c.Cloud.TokenLifetime,
	}
	cc.SetDefaults()
	return cc
}

// ApplyLogging configures the shared logger from the logging section
func (c *Config) ApplyLogging() {
	format := logging.FormatText
	if strings.EqualFold(c.Logging.Format, "json") {
		format = logging.FormatJSON
	}
	logging.SetOutput(os.Stderr, format)
	logging.SetLevel(logging.ParseLevel(c.Logging.Level))
}
