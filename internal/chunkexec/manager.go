package chunkexec

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zjrosen/chunkrun/internal/log"
	"github.com/zjrosen/chunkrun/internal/paths"
	"github.com/zjrosen/chunkrun/internal/process"
)

// ErrChunkBusy is returned when the chunk already has a live operation.
var ErrChunkBusy = errors.New("chunk is already executing")

// Starter launches a process and drives its callbacks.
type Starter interface {
	Start(ctx context.Context, c process.Command, cb process.Callbacks) (*process.Handle, error)
}

type chunkKey struct {
	docID, chunkID string
}

// slot holds a reservation. op is nil while the operation is being built.
type slot struct {
	op       *Operation
	handle   *process.Handle
	released chan struct{}
}

// Manager owns live operations and guarantees at most one per chunk. An
// operation stays registered from Execute until its exit callback returns.
type Manager struct {
	deps    Deps
	starter Starter

	mu   sync.Mutex
	live map[chunkKey]*slot
}

// NewManager returns a Manager building operations from deps and starting
// them with starter.
func NewManager(deps Deps, starter Starter) *Manager {
	return &Manager{
		deps:    deps,
		starter: starter,
		live:    make(map[chunkKey]*slot),
	}
}

// Execute resets the chunk's output, starts cmd, and returns the live
// operation. ctx bounds the process: cancelling it kills the process.
func (m *Manager) Execute(ctx context.Context, docID, chunkID string, cmd process.Command) (*Operation, error) {
	if err := paths.ValidateChunk(docID, chunkID); err != nil {
		return nil, err
	}

	key := chunkKey{docID, chunkID}
	m.mu.Lock()
	if _, busy := m.live[key]; busy {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s/%s", ErrChunkBusy, docID, chunkID)
	}
	s := &slot{released: make(chan struct{})}
	m.live[key] = s
	m.mu.Unlock()

	op := New(ctx, m.deps, docID, chunkID, cmd)

	cb := op.Callbacks()
	onExit := cb.OnExit
	cb.OnExit = func(ops process.Operations, status int) {
		defer m.release(key, s)
		onExit(ops, status)
	}

	m.mu.Lock()
	s.op = op
	m.mu.Unlock()

	handle, err := m.starter.Start(ctx, cmd, cb)
	if err != nil {
		op.abort(err)
		m.release(key, s)
		return nil, fmt.Errorf("execute %s/%s: %w", docID, chunkID, err)
	}

	m.mu.Lock()
	s.handle = handle
	m.mu.Unlock()

	log.Info(log.CatExec, "Chunk execution started", "doc", docID, "chunk", chunkID, "pid", handle.PID())
	return op, nil
}

func (m *Manager) release(key chunkKey, s *slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live[key] == s {
		delete(m.live, key)
		close(s.released)
	}
}

// Get returns the live operation for a chunk.
func (m *Manager) Get(docID, chunkID string) (*Operation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.live[chunkKey{docID, chunkID}]
	if !ok || s.op == nil {
		return nil, false
	}
	return s.op, true
}

// Terminate requests termination of the chunk's live operation and reports
// whether one existed.
func (m *Manager) Terminate(docID, chunkID string) bool {
	op, ok := m.Get(docID, chunkID)
	if !ok {
		return false
	}
	op.Terminate()
	return true
}

// Running returns the number of live operations.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// Wait blocks until every live operation has exited or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	for {
		m.mu.Lock()
		pending := make([]chan struct{}, 0, len(m.live))
		for _, s := range m.live {
			pending = append(pending, s.released)
		}
		m.mu.Unlock()

		if len(pending) == 0 {
			return nil
		}
		for _, ch := range pending {
			select {
			case <-ch:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Shutdown requests termination of every live operation and waits for them.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	ops := make([]*Operation, 0, len(m.live))
	for _, s := range m.live {
		if s.op != nil {
			ops = append(ops, s.op)
		}
	}
	m.mu.Unlock()

	for _, op := range ops {
		op.Terminate()
	}
	return m.Wait(ctx)
}
