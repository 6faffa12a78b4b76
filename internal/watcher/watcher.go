// Package watcher signals, with debouncing, when a chunk's cache file changes.
package watcher

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/chunkrun/internal/log"
)

// Watcher monitors one file and sends a signal after it changes.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	path      string
	dir       string
	debounce  time.Duration
	onChange  chan struct{}
	done      chan struct{}
	stopOnce  sync.Once

	// resets counts removals of the file or its directory.
	resets atomic.Uint64
}

// Config holds watcher configuration options.
type Config struct {
	Path        string
	DebounceDur time.Duration
}

// DefaultConfig returns defaults suited to following live chunk output.
func DefaultConfig(path string) Config {
	return Config{
		Path:        path,
		DebounceDur: 100 * time.Millisecond,
	}
}

// New creates a watcher for cfg.Path. The file does not need to exist yet,
// but its directory does once Start is called.
func New(cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsWatcher: fsw,
		path:      filepath.Clean(cfg.Path),
		dir:       filepath.Dir(filepath.Clean(cfg.Path)),
		debounce:  cfg.DebounceDur,
		onChange:  make(chan struct{}, 1),
		done:      make(chan struct{}),
	}, nil
}

// Start watches the file's directory, which survives the file being deleted
// and recreated by a new run. If the directory itself is removed the watch
// is re-armed once it reappears. The returned channel receives a signal per
// debounced burst of changes.
func (w *Watcher) Start() (<-chan struct{}, error) {
	if err := w.fsWatcher.Add(w.dir); err != nil {
		return nil, fmt.Errorf("watching directory %s: %w", w.dir, err)
	}
	log.Debug(log.CatWatcher, "Watching file", "path", w.path)

	go w.loop()
	return w.onChange, nil
}

// Stop terminates the watcher. Safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fsWatcher.Close()
	})
	return err
}

func (w *Watcher) loop() {
	var timer *time.Timer
	var timerC <-chan time.Time
	var rearmC <-chan time.Time

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if w.isDirGone(event) {
				w.resets.Add(1)
				log.Debug(log.CatWatcher, "Watched directory removed", "dir", w.dir)
				rearmC = time.After(w.debounce)
				w.signal()
				continue
			}
			if !w.isRelevantEvent(event) {
				continue
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				w.resets.Add(1)
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			w.signal()

		case <-rearmC:
			if err := w.fsWatcher.Add(w.dir); err != nil {
				rearmC = time.After(w.debounce)
				continue
			}
			rearmC = nil
			log.Debug(log.CatWatcher, "Watching recreated directory", "dir", w.dir)
			w.signal()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.ErrorErr(log.CatWatcher, "Watcher error", err, "path", w.path)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// Resets returns how many times the file, or its directory, has been
// removed since Start. A change means earlier content is gone.
func (w *Watcher) Resets() uint64 {
	return w.resets.Load()
}

func (w *Watcher) signal() {
	select {
	case w.onChange <- struct{}{}:
	default:
	}
}

func (w *Watcher) isDirGone(event fsnotify.Event) bool {
	return event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && filepath.Clean(event.Name) == w.dir
}

// isRelevantEvent reports writes, creations, removals and renames of the
// watched file.
func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	return filepath.Clean(event.Name) == w.path
}
