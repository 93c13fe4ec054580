package cloudauth

import (
	"errors"
	"fmt"
	"time"
)

// Algorithm is a device token signing algorithm.
type Algorithm string

// Supported signing algorithms.
const (
	RS256 Algorithm = "RS256"
	ES256 Algorithm = "ES256"
)

// DefaultTokenLifetime is the validity of a device token.
const DefaultTokenLifetime = time.Hour

// DefaultServerAddress is the cloud MQTT bridge host.
const DefaultServerAddress = "mqtt.googleapis.com"

var (
	// ErrMissingField is returned when a device identity field is empty
	ErrMissingField = errors.New("device identity field cannot be empty")
	// ErrUnsupportedAlgorithm is returned for algorithms other than RS256 and ES256
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")
)

// Config identifies a cloud IoT device.
type Config struct {
	ServerAddress string
	ProjectID     string
	Region        string
	RegistryID    string
	DeviceID      string
	Algorithm     Algorithm
	TokenLifetime time.Duration
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.ServerAddress == "" {
		c.ServerAddress = DefaultServerAddress
	}
	if c.Algorithm == "" {
		c.Algorithm = RS256
	}
	if c.TokenLifetime <= 0 {
		c.TokenLifetime = DefaultTokenLifetime
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	fields := []struct{ name, value string }{
		{"project ID", c.ProjectID},
		{"region", c.Region},
		{"registry ID", c.RegistryID},
		{"device ID", c.DeviceID},
	}
	for _, f := range fields {
		if f.value == "" {
			return fmt.Errorf("%s: %w", f.name, ErrMissingField)
		}
	}
	switch c.Algorithm {
	case RS256, ES256:
	default:
		return fmt.Errorf("%q: %w", c.Algorithm, ErrUnsupportedAlgorithm)
	}
	return nil
}

// ClientID returns the MQTT client ID of the device.
func (c *Config) ClientID() string {
	return fmt.Sprintf("projects/%s/locations/%s/registries/%s/devices/%s",
		c.ProjectID, c.Region, c.RegistryID, c.DeviceID)
}

// EventsTopic is the telemetry topic of the device.
func (c *Config) EventsTopic() string {
	return "/devices/" + c.DeviceID + "/events"
}

// ConfigTopic is the topic the device receives configuration on.
func (c *Config) ConfigTopic() string {
	return "/devices/" + c.DeviceID + "/config"
}
