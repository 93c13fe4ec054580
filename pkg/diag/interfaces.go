package diag

import (
	"context"
	"io"
)

// Journal is an append-only, kind-partitioned store of diagnostic entries.
type Journal interface {
	io.Closer

	// Append stores entry under its kind and returns it with its offset set.
	Append(ctx context.Context, entry *Entry) (*Entry, error)

	// Read returns up to maxCount entries of kind starting at startOffset.
	Read(ctx context.Context, kind Kind, startOffset int64, maxCount int) ([]*Entry, error)

	// EndOffset returns the next append position for kind.
	EndOffset(ctx context.Context, kind Kind) (int64, error)

	// Replay streams the entries of kind from startOffset. Both channels are
	// closed when replay ends.
	Replay(ctx context.Context, kind Kind, startOffset int64) (<-chan *Entry, <-chan error)

	// Statistics returns aggregate counts.
	Statistics(ctx context.Context) (Statistics, error)
}

// Recorder is the write side of a journal used by components that must not
// block or fail on diagnostics.
type Recorder interface {
	Record(kind Kind, message string, attrs map[string]string)
}

// Statistics provides aggregate counts over the journal.
type Statistics struct {
	TotalEntries int64          // entries ever appended
	KindCounts   map[Kind]int64 // entries ever appended, per kind
	Retained     int            // entries still held
}
