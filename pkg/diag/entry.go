package diag

import (
	"time"
)

// Kind partitions the journal. Each kind has its own offset sequence
// starting from 0.
type Kind string

// Diagnostic kinds recorded by the bridge.
const (
	KindMailboxLeak   Kind = "mailbox.leak"
	KindSendFailed    Kind = "send.failed"
	KindQueueNoMemory Kind = "queue.nomem"
	KindReceiveFailed Kind = "receive.failed"
)

// Entry is a single diagnostic event.
type Entry struct {
	// Offset is the position of this entry within its kind
	Offset int64

	// Kind is the partition this entry belongs to
	Kind Kind

	// Message is a human readable summary
	Message string

	// Time is when the entry was recorded
	Time time.Time

	// Attrs are key-value details (immutable after creation)
	Attrs map[string]string
}

// NewEntry creates an entry with the given kind and message. Attrs are
// copied.
func NewEntry(kind Kind, message string, attrs map[string]string) *Entry {
	attrsCopy := make(map[string]string, len(attrs))
	for k, v := range attrs {
		attrsCopy[k] = v
	}
	return &Entry{
		Kind:    kind,
		Message: message,
		Time:    time.Now().UTC(),
		Attrs:   attrsCopy,
	}
}

// WithOffset returns a copy of the entry at offset.
func (e *Entry) WithOffset(offset int64) *Entry {
	return &Entry{
		Offset:  offset,
		Kind:    e.Kind,
		Message: e.Message,
		Time:    e.Time,
		Attrs:   e.Attrs,
	}
}
