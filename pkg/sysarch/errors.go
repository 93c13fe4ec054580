package sysarch

import "errors"

// Synchronization substrate errors.
var (
	// ErrNoMemory indicates the allocator could not satisfy a request.
	ErrNoMemory = errors.New("out of memory")

	// ErrTimeout indicates a bounded wait expired.
	ErrTimeout = errors.New("timed out")

	// ErrFull indicates a non-blocking post found the mailbox full.
	ErrFull = errors.New("mailbox full")

	// ErrEmpty indicates a non-blocking fetch found the mailbox empty.
	ErrEmpty = errors.New("mailbox empty")

	// ErrDestroyed indicates the mailbox has been torn down.
	ErrDestroyed = errors.New("mailbox destroyed")

	// ErrNilMessage indicates an attempt to post a nil message. Nil is
	// reserved for the teardown poison.
	ErrNilMessage = errors.New("nil message")

	// ErrInvalidParameter indicates an invalid argument.
	ErrInvalidParameter = errors.New("invalid parameter")
)
