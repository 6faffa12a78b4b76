package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/chunkrun/internal/paths"
)

// Script bodies for interpreter processes run by tests through sh.
const (
	// ScriptBothStreams writes one line to each stream and exits 0.
	ScriptBothStreams = "echo out\necho err >&2\n"
	// ScriptFails writes to stderr and exits 3.
	ScriptFails = "echo failing >&2\nexit 3\n"
	// ScriptSleeps blocks until killed. exec keeps sh from leaving an
	// orphaned sleep holding the output pipes.
	ScriptSleeps = "echo ready\nexec sleep 30\n"
)

// WriteScript writes body to a fresh script file and returns its path.
func WriteScript(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "chunk.sh")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

// WithStandardOutputs adds the outputs of a small document: two chunks in
// the current context and one left over from an earlier context.
func (b *Builder) WithStandardOutputs() *Builder {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return b.
		WithEntry("report", "setup", RecordedAt(base)).
		WithEntry("report", "plot", RecordedAt(base.Add(time.Second))).
		WithEntry("report", "plot", Kind(paths.OutputPlot), RecordedAt(base.Add(2*time.Second))).
		WithEntry("report", "setup", Context("earlier"), RecordedAt(base.Add(-time.Hour)))
}
