package watcher

import (
	"context"
	"errors"
	"io/fs"

	"github.com/zjrosen/chunkrun/internal/log"
	"github.com/zjrosen/chunkrun/internal/output"
)

// Follow calls emit for every record of the cache file at path, then for each
// record appended later, until ctx is done. When the file is removed or
// shrinks (a new run reset the chunk) following restarts from its first
// record.
func Follow(ctx context.Context, cfg Config, emit func(output.Record)) error {
	w, err := New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	changes, err := w.Start()
	if err != nil {
		return err
	}

	f := &follower{path: cfg.Path, emit: emit, resets: w.Resets}
	f.poll()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
			f.poll()
		}
	}
}

type follower struct {
	path      string
	emitted   int
	emit      func(output.Record)
	resets    func() uint64
	lastReset uint64
}

func (f *follower) poll() {
	if n := f.resets(); n != f.lastReset {
		f.lastReset = n
		f.emitted = 0
	}

	records, err := output.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		f.emitted = 0
		return
	}
	if err != nil {
		// A torn final line decodes on the next change.
		log.Debug(log.CatWatcher, "Partial cache read", "path", f.path, "error", err)
		return
	}

	if len(records) < f.emitted {
		log.Info(log.CatWatcher, "Cache file was reset", "path", f.path)
		f.emitted = 0
	}
	for _, r := range records[f.emitted:] {
		f.emit(r)
	}
	f.emitted = len(records)
}
