package process

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zjrosen/chunkrun/internal/log"
)

type stream int

const (
	streamStdout stream = iota
	streamStderr
)

type chunk struct {
	stream stream
	text   string
}

// Handle tracks one running process.
type Handle struct {
	cmd          *exec.Cmd
	cancel       context.CancelFunc
	cb           Callbacks
	pollInterval time.Duration

	output chan chunk
	exited chan error
	done   chan struct{}

	terminated atomic.Bool
	exitStatus atomic.Int64

	mu     sync.RWMutex
	status Status
}

func newHandle(cmd *exec.Cmd, cancel context.CancelFunc, cb Callbacks, poll time.Duration) *Handle {
	return &Handle{
		cmd:          cmd,
		cancel:       cancel,
		cb:           cb,
		pollInterval: poll,
		output:       make(chan chunk),
		exited:       make(chan error, 1),
		done:         make(chan struct{}),
		status:       StatusPending,
	}
}

// PID returns the OS process ID, or -1 before the process started.
func (h *Handle) PID() int {
	if h.cmd == nil || h.cmd.Process == nil {
		return -1
	}
	return h.cmd.Process.Pid
}

// Terminate kills the process. Safe to call from any goroutine, any number of
// times, including after exit.
func (h *Handle) Terminate() {
	if h.terminated.CompareAndSwap(false, true) {
		log.Debug(log.CatProcess, "Terminating process", "pid", h.PID())
	}
	h.cancel()
}

// Status returns the current lifecycle state.
func (h *Handle) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

func (h *Handle) setStatus(s Status) {
	h.mu.Lock()
	h.status = s
	h.mu.Unlock()
}

// Done is closed after OnExit has returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until OnExit has returned and reports the exit status.
func (h *Handle) Wait() int {
	<-h.done
	return int(h.exitStatus.Load())
}

// wait reaps the process. exec.Cmd.Wait returns only after the copy
// goroutines finished writing, so every chunk reached the loop before the
// exit is signalled.
func (h *Handle) wait() {
	h.exited <- h.cmd.Wait()
}

// loop is the single goroutine that invokes callbacks.
func (h *Handle) loop() {
	defer close(h.done)
	defer h.cancel()

	if h.cb.OnStarted != nil {
		h.cb.OnStarted(h)
	}

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case c := <-h.output:
			h.deliver(c)

		case <-ticker.C:
			if h.cb.OnContinue != nil && !h.cb.OnContinue(h) {
				h.Terminate()
			}

		case err := <-h.exited:
			status := h.exitStatusFor(err)
			h.exitStatus.Store(int64(status))
			if h.terminated.Load() && err != nil {
				h.setStatus(StatusKilled)
			} else {
				h.setStatus(StatusExited)
			}
			log.Debug(log.CatProcess, "Process exited", "pid", h.PID(), "status", status, "error", err)

			if h.cb.OnExit != nil {
				h.cb.OnExit(h, status)
			}
			return
		}
	}
}

func (h *Handle) deliver(c chunk) {
	switch c.stream {
	case streamStdout:
		if h.cb.OnStdout != nil {
			h.cb.OnStdout(h, c.text)
		}
	case streamStderr:
		if h.cb.OnStderr != nil {
			h.cb.OnStderr(h, c.text)
		}
	}
}

func (h *Handle) exitStatusFor(err error) int {
	if err == nil {
		return 0
	}
	if h.terminated.Load() {
		return ExitStatusKilled
	}
	// A background child holding the pipes open past WaitDelay does not
	// change how the interpreter itself exited.
	if errors.Is(err, exec.ErrWaitDelay) && h.cmd.ProcessState != nil {
		return h.cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// ExitCode is -1 when the process died from a signal.
		return exitErr.ExitCode()
	}
	return ExitStatusKilled
}

// streamWriter hands process output to the callback loop. Write blocks until
// the loop has taken the chunk, which keeps arrival order intact.
type streamWriter struct {
	h      *Handle
	stream stream
}

func (w *streamWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	select {
	case w.h.output <- chunk{stream: w.stream, text: string(p)}:
		return len(p), nil
	case <-w.h.done:
		return 0, errLoopStopped
	}
}

var errLoopStopped = errors.New("callback loop stopped")
