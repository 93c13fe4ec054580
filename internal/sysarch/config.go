package sysarch

import (
	"errors"
	"time"

	"github.com/rmacdonaldsmith/meshbridge-go/pkg/sysarch"
)

// Memory charged per mailbox, used by Arch.NewMailbox.
const (
	// MessageSlotSize is charged per mailbox slot (one opaque pointer).
	MessageSlotSize = 8

	// MailboxOverhead is charged once per mailbox for its control block and
	// consumer lock.
	MailboxOverhead = 64
)

// MailboxConfig controls mailbox teardown.
type MailboxConfig struct {
	// RetryBudget is the number of teardown poll attempts before the
	// mailbox is declared leaked.
	RetryBudget int

	// PollInterval is the delay between teardown poll attempts.
	PollInterval time.Duration

	// OnLeak, if set, receives a structured event whenever teardown gives up
	// and leaks a mailbox.
	OnLeak func(sysarch.LeakEvent)
}

// SetDefaults sets sensible default values for unset fields.
func (c *MailboxConfig) SetDefaults() {
	if c.RetryBudget <= 0 {
		c.RetryBudget = 100
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 20 * time.Millisecond
	}
}

// Validate checks if the configuration is valid.
func (c *MailboxConfig) Validate() error {
	if c.RetryBudget <= 0 {
		return errors.New("retry budget must be positive")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	return nil
}

// TeardownBudget is the total time teardown may spend polling.
func (c MailboxConfig) TeardownBudget() time.Duration {
	return time.Duration(c.RetryBudget) * c.PollInterval
}

// Config holds configuration for an Arch.
type Config struct {
	// HeapLimit is the number of bytes the arch allocator may hand out.
	// Zero means unlimited.
	HeapLimit int

	// Mailbox is the teardown policy applied to every mailbox the arch
	// creates.
	Mailbox MailboxConfig
}

// SetDefaults sets sensible default values for unset fields.
func (c *Config) SetDefaults() {
	c.Mailbox.SetDefaults()
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.HeapLimit < 0 {
		return errors.New("heap limit cannot be negative")
	}
	return c.Mailbox.Validate()
}
