package testutil

import (
	"time"

	"github.com/zjrosen/chunkrun/internal/paths"
)

// entryData holds the fields of a registry entry to be recorded.
type entryData struct {
	docID      string
	chunkID    string
	contextID  string
	kind       paths.OutputKind
	path       string
	recordedAt time.Time
}

// EntryOption configures an entry added with Builder.WithEntry.
type EntryOption func(*entryData)

// Context sets the execution context id. Default: "ctx".
func Context(id string) EntryOption {
	return func(e *entryData) { e.contextID = id }
}

// Kind sets the output kind. Default: text.
func Kind(k paths.OutputKind) EntryOption {
	return func(e *entryData) { e.kind = k }
}

// Path sets the output file. Default: /cache/<doc>/<ctx>/<chunk>/<kind file>.
func Path(p string) EntryOption {
	return func(e *entryData) { e.path = p }
}

// RecordedAt pins the recording time instead of letting the registry stamp it.
func RecordedAt(at time.Time) EntryOption {
	return func(e *entryData) { e.recordedAt = at }
}
