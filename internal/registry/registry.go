// Package registry records which output files belong to which chunk so stale
// output can be dropped before a chunk runs again.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/zjrosen/chunkrun/internal/paths"
)

// ErrInvalidEntry is returned when an entry is missing identifying fields.
var ErrInvalidEntry = errors.New("invalid registry entry")

// Entry is a single output file produced by a chunk.
type Entry struct {
	DocID      string
	ChunkID    string
	ContextID  string
	Kind       paths.OutputKind
	Path       string
	RecordedAt time.Time
}

// Validate checks that the fields making up the entry's identity are set.
func (e Entry) Validate() error {
	if e.DocID == "" || e.ChunkID == "" || e.Path == "" || e.Kind == "" {
		return ErrInvalidEntry
	}
	return nil
}

type entryKey struct {
	contextID string
	kind      paths.OutputKind
	path      string
}

func (e Entry) key() entryKey {
	return entryKey{contextID: e.ContextID, kind: e.Kind, path: e.Path}
}

// Registry tracks chunk output entries.
//
// Record is an upsert keyed by (doc, chunk, context, kind, path): recording the
// same file twice refreshes RecordedAt and keeps a single entry.
type Registry interface {
	// Purge removes every entry for the chunk.
	Purge(ctx context.Context, docID, chunkID string) error
	// Record adds or refreshes an entry.
	Record(ctx context.Context, e Entry) error
	// List returns the chunk's entries ordered by RecordedAt then Path.
	List(ctx context.Context, docID, chunkID string) ([]Entry, error)
}

type chunkKey struct {
	docID, chunkID string
}

// Memory is an in-process Registry.
type Memory struct {
	mu      sync.RWMutex
	entries map[chunkKey]map[entryKey]Entry
	now     func() time.Time
}

// NewMemory returns an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[chunkKey]map[entryKey]Entry),
		now:     time.Now,
	}
}

var _ Registry = (*Memory)(nil)

func (m *Memory) Purge(_ context.Context, docID, chunkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, chunkKey{docID, chunkID})
	return nil
}

func (m *Memory) Record(_ context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	ck := chunkKey{e.DocID, e.ChunkID}
	if m.entries[ck] == nil {
		m.entries[ck] = make(map[entryKey]Entry)
	}
	m.entries[ck][e.key()] = e
	return nil
}

func (m *Memory) List(_ context.Context, docID, chunkID string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bucket := m.entries[chunkKey{docID, chunkID}]
	out := make([]Entry, 0, len(bucket))
	for _, e := range bucket {
		out = append(out, e)
	}
	SortEntries(out)
	return out, nil
}

// SortEntries orders entries by RecordedAt, then Path.
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].RecordedAt.Equal(entries[j].RecordedAt) {
			return entries[i].RecordedAt.Before(entries[j].RecordedAt)
		}
		return entries[i].Path < entries[j].Path
	})
}
