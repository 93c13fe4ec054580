package diag

import (
	"context"
	"errors"
	"sync"

	"github.com/rmacdonaldsmith/meshbridge-go/pkg/diag"
)

var (
	// ErrNegativeOffset is returned when a negative offset is provided
	ErrNegativeOffset = errors.New("offset cannot be negative")
	// ErrNegativeMaxCount is returned when a negative max count is provided
	ErrNegativeMaxCount = errors.New("max count cannot be negative")
	// ErrNilEntry is returned when a nil entry is provided
	ErrNilEntry = errors.New("entry cannot be nil")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("journal closed")
)

// InMemoryJournal implements diag.Journal with kind-partitioned in-memory
// storage. Each kind keeps at most retain entries; older ones are dropped
// but offsets keep increasing. It is safe for concurrent use.
type InMemoryJournal struct {
	mu         sync.RWMutex
	retain     int
	byKind     map[diag.Kind][]*diag.Entry
	nextOffset map[diag.Kind]int64
	closed     bool
}

// NewInMemoryJournal creates a journal retaining up to retain entries per
// kind. A retain of zero or less keeps everything.
func NewInMemoryJournal(retain int) *InMemoryJournal {
	return &InMemoryJournal{
		retain:     retain,
		byKind:     make(map[diag.Kind][]*diag.Entry),
		nextOffset: make(map[diag.Kind]int64),
	}
}

// Append stores entry under its kind.
func (j *InMemoryJournal) Append(ctx context.Context, entry *diag.Entry) (*diag.Entry, error) {
	if entry == nil {
		return nil, ErrNilEntry
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil, ErrClosed
	}

	stored := entry.WithOffset(j.nextOffset[entry.Kind])
	entries := append(j.byKind[entry.Kind], stored)
	if j.retain > 0 && len(entries) > j.retain {
		entries = entries[len(entries)-j.retain:]
	}
	j.byKind[entry.Kind] = entries
	j.nextOffset[entry.Kind]++

	return stored, nil
}

// Record appends an entry, ignoring errors. It satisfies diag.Recorder.
func (j *InMemoryJournal) Record(kind diag.Kind, message string, attrs map[string]string) {
	_, _ = j.Append(context.Background(), diag.NewEntry(kind, message, attrs))
}

// Read returns up to maxCount retained entries of kind with offset at or
// after startOffset.
func (j *InMemoryJournal) Read(ctx context.Context, kind diag.Kind, startOffset int64, maxCount int) ([]*diag.Entry, error) {
	if startOffset < 0 {
		return nil, ErrNegativeOffset
	}
	if maxCount < 0 {
		return nil, ErrNegativeMaxCount
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	results := make([]*diag.Entry, 0, maxCount)
	for _, e := range j.byKind[kind] {
		if len(results) >= maxCount {
			break
		}
		if e.Offset >= startOffset {
			results = append(results, e)
		}
	}
	return results, nil
}

// EndOffset returns the next append position for kind.
func (j *InMemoryJournal) EndOffset(ctx context.Context, kind diag.Kind) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.nextOffset[kind], nil
}

// Replay streams retained entries of kind from startOffset.
func (j *InMemoryJournal) Replay(ctx context.Context, kind diag.Kind, startOffset int64) (<-chan *diag.Entry, <-chan error) {
	entryChan := make(chan *diag.Entry)
	errChan := make(chan error, 1)

	go func() {
		defer close(entryChan)
		defer close(errChan)

		if startOffset < 0 {
			errChan <- ErrNegativeOffset
			return
		}

		// Copy so sends happen without the lock.
		j.mu.RLock()
		var toReplay []*diag.Entry
		for _, e := range j.byKind[kind] {
			if e.Offset >= startOffset {
				toReplay = append(toReplay, e)
			}
		}
		j.mu.RUnlock()

		for _, e := range toReplay {
			select {
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			case entryChan <- e:
			}
		}
	}()

	return entryChan, errChan
}

// Statistics returns aggregate counts.
func (j *InMemoryJournal) Statistics(ctx context.Context) (diag.Statistics, error) {
	select {
	case <-ctx.Done():
		return diag.Statistics{}, ctx.Err()
	default:
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	stats := diag.Statistics{KindCounts: make(map[diag.Kind]int64, len(j.nextOffset))}
	for kind, next := range j.nextOffset {
		stats.KindCounts[kind] = next
		stats.TotalEntries += next
	}
	for _, entries := range j.byKind {
		stats.Retained += len(entries)
	}
	return stats, nil
}

// Close discards all entries. It is idempotent.
func (j *InMemoryJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.byKind = make(map[diag.Kind][]*diag.Entry)
	j.nextOffset = make(map[diag.Kind]int64)
	j.closed = true
	return nil
}

// Discard is a diag.Recorder that drops everything.
type Discard struct{}

// Record drops the entry.
func (Discard) Record(diag.Kind, string, map[string]string) {}

var (
	_ diag.Journal  = (*InMemoryJournal)(nil)
	_ diag.Recorder = (*InMemoryJournal)(nil)
	_ diag.Recorder = Discard{}
)
