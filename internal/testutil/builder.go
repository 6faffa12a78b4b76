package testutil

import (
	"context"
	"path"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/chunkrun/internal/paths"
	"github.com/zjrosen/chunkrun/internal/registry"
)

// Builder accumulates registry entries and records them in order.
type Builder struct {
	t       *testing.T
	reg     registry.Registry
	entries []entryData
}

// NewBuilder creates a builder recording into reg.
func NewBuilder(t *testing.T, reg registry.Registry) *Builder {
	t.Helper()
	return &Builder{t: t, reg: reg}
}

// WithEntry adds an entry for the chunk with optional configuration.
func (b *Builder) WithEntry(docID, chunkID string, opts ...EntryOption) *Builder {
	e := entryData{docID: docID, chunkID: chunkID, contextID: "ctx", kind: paths.OutputText}
	for _, opt := range opts {
		opt(&e)
	}
	if e.path == "" {
		e.path = path.Join("/cache", e.docID, e.contextID, e.chunkID, e.kind.FileName())
	}
	b.entries = append(b.entries, e)
	return b
}

// Build records every entry and returns them as the registry will list them
// for their chunk, minus any timestamp the registry assigned.
func (b *Builder) Build() []registry.Entry {
	b.t.Helper()
	out := make([]registry.Entry, 0, len(b.entries))
	for _, e := range b.entries {
		entry := registry.Entry{
			DocID:      e.docID,
			ChunkID:    e.chunkID,
			ContextID:  e.contextID,
			Kind:       e.kind,
			Path:       e.path,
			RecordedAt: e.recordedAt,
		}
		require.NoError(b.t, b.reg.Record(context.Background(), entry))
		out = append(out, entry)
	}
	return out
}
