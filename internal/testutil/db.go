// Package testutil provides fixtures shared by chunkrun tests: registry
// databases, seeded registry entries and interpreter scripts.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/chunkrun/internal/registry/sqlite"
)

// NewRegistryDB opens a migrated in-memory registry database that is closed
// when the test ends.
func NewRegistryDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}
