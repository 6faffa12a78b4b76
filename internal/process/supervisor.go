// Package process launches an external program and reports its lifecycle
// through a set of callbacks.
//
// Every callback of one process runs on a single goroutine owned by the
// supervisor, so callbacks never overlap. The order is: OnStarted, then any
// mix of OnContinue/OnStdout/OnStderr, then OnExit exactly once.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/zjrosen/chunkrun/internal/log"
)

const (
	// DefaultPollInterval is how often OnContinue is consulted.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultWaitDelay bounds how long output is drained after the process
	// dies before its pipes are forcibly closed.
	DefaultWaitDelay = 2 * time.Second

	// ExitStatusKilled is reported when the process was killed or could not
	// be waited on.
	ExitStatusKilled = -1
)

// ErrStartFailed wraps every error returned by Start.
var ErrStartFailed = errors.New("failed to start process")

// CommandFactoryFunc creates an exec.Cmd. Tests swap it to control what runs.
type CommandFactoryFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Operations is what callbacks may do to the process they observe.
type Operations interface {
	PID() int
	Terminate()
}

// Callbacks receive lifecycle events. Nil slots are skipped; a nil OnContinue
// always continues.
type Callbacks struct {
	OnStarted  func(ops Operations)
	OnContinue func(ops Operations) bool
	OnStdout   func(ops Operations, text string)
	OnStderr   func(ops Operations, text string)
	OnExit     func(ops Operations, status int)
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithPollInterval sets how often OnContinue is polled.
func WithPollInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithWaitDelay sets the drain window after the process dies.
func WithWaitDelay(d time.Duration) Option {
	return func(s *Supervisor) {
		s.waitDelay = d
	}
}

// WithCommandFactory replaces exec.CommandContext.
func WithCommandFactory(fn CommandFactoryFunc) Option {
	return func(s *Supervisor) {
		s.commandFactory = fn
	}
}

// Supervisor starts processes.
type Supervisor struct {
	pollInterval   time.Duration
	waitDelay      time.Duration
	commandFactory CommandFactoryFunc
}

// NewSupervisor returns a Supervisor with the given options applied.
func NewSupervisor(opts ...Option) *Supervisor {
	s := &Supervisor{
		pollInterval: DefaultPollInterval,
		waitDelay:    DefaultWaitDelay,
		commandFactory: func(ctx context.Context, name string, args ...string) *exec.Cmd {
			// #nosec G204 -- the command is chosen by the caller
			return exec.CommandContext(ctx, name, args...)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PollInterval returns the configured OnContinue poll period.
func (s *Supervisor) PollInterval() time.Duration {
	return s.pollInterval
}

// Start launches c and begins delivering callbacks. If the process cannot be
// started, the error wraps ErrStartFailed and no callback is ever invoked.
// Cancelling ctx kills the process.
func (s *Supervisor) Start(ctx context.Context, c Command, cb Callbacks) (*Handle, error) {
	if c.Program == "" {
		return nil, fmt.Errorf("%w: program is required", ErrStartFailed)
	}

	procCtx, cancel := context.WithCancel(ctx)
	cmd := s.commandFactory(procCtx, c.Program, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.WaitDelay = s.waitDelay

	h := newHandle(cmd, cancel, cb, s.pollInterval)
	cmd.Stdout = &streamWriter{h: h, stream: streamStdout}
	cmd.Stderr = &streamWriter{h: h, stream: streamStderr}

	log.Debug(log.CatProcess, "Spawning process", "command", c.String(), "dir", c.Dir)

	if err := cmd.Start(); err != nil {
		cancel()
		log.ErrorErr(log.CatProcess, "Failed to start process", err, "command", c.String())
		return nil, fmt.Errorf("%w: %s: %w", ErrStartFailed, c.Program, err)
	}

	log.Debug(log.CatProcess, "Process started", "pid", cmd.Process.Pid)
	h.setStatus(StatusRunning)

	go h.wait()
	go h.loop()
	return h, nil
}
