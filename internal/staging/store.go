// Package staging prepares the directories a chunk's output is written to.
package staging

import (
	"errors"
	"fmt"
	"os"

	"github.com/zjrosen/chunkrun/internal/log"
	"github.com/zjrosen/chunkrun/internal/paths"
)

// Store resets the staging and final output directories of chunks.
type Store struct {
	resolver *paths.Resolver
	perm     os.FileMode
}

// NewStore creates a Store rooted at the resolver's cache directory.
func NewStore(resolver *paths.Resolver) *Store {
	return &Store{resolver: resolver, perm: 0o755}
}

// Reset empties and recreates the staging directory, then the final
// directory, of a chunk. Every step runs even when an earlier one failed;
// each failure is logged and all of them are returned joined. Ids that are
// not a single safe path element are rejected before anything is touched.
func (s *Store) Reset(docID, chunkID string) error {
	if err := paths.ValidateChunk(docID, chunkID); err != nil {
		log.ErrorErr(log.CatStaging, "refusing to reset chunk", err, "doc", docID, "chunk", chunkID)
		return err
	}
	var errs []error
	for _, dir := range []string{
		s.resolver.StagingOutputPath(docID, chunkID),
		s.resolver.ChunkOutputPath(docID, chunkID),
	} {
		errs = append(errs, s.resetDir(dir)...)
	}
	return errors.Join(errs...)
}

func (s *Store) resetDir(dir string) []error {
	var errs []error
	if err := os.RemoveAll(dir); err != nil {
		log.ErrorErr(log.CatStaging, "remove output directory", err, "path", dir)
		errs = append(errs, fmt.Errorf("remove %s: %w", dir, err))
	}
	if err := os.MkdirAll(dir, s.perm); err != nil {
		log.ErrorErr(log.CatStaging, "create output directory", err, "path", dir)
		errs = append(errs, fmt.Errorf("create %s: %w", dir, err))
	}
	return errs
}
