package bridge

import (
	"errors"
	"time"
)

var (
	// ErrEmptyName is returned when the bridge name is empty
	ErrEmptyName = errors.New("bridge name cannot be empty")
	// ErrNegativePollTimeout is returned when the poll timeout is negative
	ErrNegativePollTimeout = errors.New("poll timeout cannot be negative")
)

// Config represents configuration for a Bridge
type Config struct {
	// Name identifies the bridge in logs and health reports
	Name string

	// PollTimeout bounds how long the worker sleeps waiting for a
	// notification before polling the platform anyway. Zero waits until
	// notified.
	PollTimeout time.Duration

	// StopTimeout bounds Close when no context is supplied
	StopTimeout time.Duration
}

// NewConfig creates a new Bridge configuration with safe defaults
func NewConfig(name string) *Config {
	c := &Config{Name: name}
	c.SetDefaults()
	return c
}

// SetDefaults sets sensible default values for unset fields
func (c *Config) SetDefaults() {
	if c.Name == "" {
		c.Name = "meshbridge"
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = 5 * time.Second
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.Name == "" {
		return ErrEmptyName
	}
	if c.PollTimeout < 0 {
		return ErrNegativePollTimeout
	}
	return nil
}
