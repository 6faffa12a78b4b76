// Package paths resolves where a chunk's output lives on disk.
//
// Layout under the cache root:
//
//	<root>/<docID>/<contextID>/<chunkID>/text.csv   final output
//	<root>/<docID>/<contextID>/<chunkID>_t/         staging output
package paths

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidID is returned when a document, chunk or context id fails validation.
var ErrInvalidID = errors.New("invalid id")

// StagingSuffix is appended to a chunk id to name its staging directory.
const StagingSuffix = "_t"

const maxIDLen = 64

var idRe = regexp.MustCompile(`^[A-Za-z0-9._-]{1,` + strconv.Itoa(maxIDLen) + `}$`)

// ValidateID returns nil for ids that are safe to use as a single path element.
// Only ASCII letters, digits, dot, underscore and dash are allowed, at most 64
// characters, and never "..".
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("empty id: %w", ErrInvalidID)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("id too long: %w", ErrInvalidID)
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("id %q contains '..': %w", id, ErrInvalidID)
	}
	if !idRe.MatchString(id) {
		return fmt.Errorf("id %q contains invalid characters: %w", id, ErrInvalidID)
	}
	return nil
}

// OutputKind names a category of chunk output stored in its own file.
type OutputKind string

const (
	OutputText OutputKind = "text"
	OutputPlot OutputKind = "plot"
	OutputHTML OutputKind = "html"
	OutputData OutputKind = "data"
)

// FileName returns the cache file name for the kind.
func (k OutputKind) FileName() string {
	switch k {
	case OutputText:
		return "text.csv"
	case OutputPlot:
		return "plot.png"
	case OutputHTML:
		return "output.html"
	case OutputData:
		return "data.rdf"
	default:
		return string(k)
	}
}

// Resolver derives chunk output locations for one execution context.
type Resolver struct {
	Root      string
	ContextID string
}

// NewResolver validates the context id and returns a Resolver.
func NewResolver(root, contextID string) (*Resolver, error) {
	if root == "" {
		return nil, fmt.Errorf("empty cache root")
	}
	if err := ValidateID(contextID); err != nil {
		return nil, fmt.Errorf("context id: %w", err)
	}
	return &Resolver{Root: filepath.Clean(root), ContextID: contextID}, nil
}

// ChunkOutputPath returns the final output directory for a chunk.
func (r *Resolver) ChunkOutputPath(docID, chunkID string) string {
	return filepath.Join(r.Root, docID, r.ContextID, chunkID)
}

// StagingOutputPath returns the staging directory for a chunk.
func (r *Resolver) StagingOutputPath(docID, chunkID string) string {
	return filepath.Join(r.Root, docID, r.ContextID, chunkID+StagingSuffix)
}

// ChunkOutputFile returns the cache file for one kind of chunk output.
func (r *Resolver) ChunkOutputFile(docID, chunkID string, kind OutputKind) string {
	return filepath.Join(r.ChunkOutputPath(docID, chunkID), kind.FileName())
}

// ValidateChunk checks both ids of a chunk address.
func ValidateChunk(docID, chunkID string) error {
	if err := ValidateID(docID); err != nil {
		return fmt.Errorf("document id: %w", err)
	}
	if err := ValidateID(chunkID); err != nil {
		return fmt.Errorf("chunk id: %w", err)
	}
	return nil
}
