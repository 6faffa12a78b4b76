// Package chunkexec runs one chunk of code in an external interpreter,
// persisting its output to the chunk's cache file and announcing it.
package chunkexec

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/chunkrun/internal/log"
	"github.com/zjrosen/chunkrun/internal/notify"
	"github.com/zjrosen/chunkrun/internal/output"
	"github.com/zjrosen/chunkrun/internal/paths"
	"github.com/zjrosen/chunkrun/internal/process"
	"github.com/zjrosen/chunkrun/internal/registry"
	"github.com/zjrosen/chunkrun/internal/tracing"
)

// StagingResetter prepares a chunk's staging and final directories.
type StagingResetter interface {
	Reset(docID, chunkID string) error
}

// Notifier announces output and completion.
type Notifier interface {
	ChunkOutput(ctx context.Context, ev notify.ChunkOutput) notify.ChunkOutput
	ChunkCompleted(ctx context.Context, ev notify.ChunkCompleted) notify.ChunkCompleted
}

// Deps are the collaborators an Operation works with. Tracer may be nil.
type Deps struct {
	Resolver *paths.Resolver
	Staging  StagingResetter
	Registry registry.Registry
	Notifier Notifier
	Tracer   trace.Tracer
}

// Operation is a single execution of one chunk. It is single use: once the
// process exits the operation is finished and further routing is dropped.
//
// The callback methods are invoked one at a time by the process supervisor.
// Terminate, IsRunning and the other accessors may be called from any
// goroutine.
type Operation struct {
	ctx     context.Context
	deps    Deps
	docID   string
	chunkID string
	command process.Command
	span    trace.Span

	running              atomic.Bool
	started              atomic.Bool
	exited               atomic.Bool
	terminationRequested atomic.Bool
	exitStatus           atomic.Int64

	// touched only from callbacks
	recorded bool

	done     chan struct{}
	doneOnce sync.Once
}

// New creates the operation and gives the chunk a clean slate: the staging
// and final directories are emptied and recreated and previously recorded
// output is purged. Failures are logged; construction always succeeds.
func New(ctx context.Context, deps Deps, docID, chunkID string, cmd process.Command) *Operation {
	tracer := deps.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	spanCtx, span := tracer.Start(ctx, tracing.SpanChunkExecute, trace.WithAttributes(
		attribute.String(tracing.AttrDocID, docID),
		attribute.String(tracing.AttrChunkID, chunkID),
		attribute.String(tracing.AttrContextID, deps.Resolver.ContextID),
		attribute.String(tracing.AttrCommand, cmd.String()),
	))

	o := &Operation{
		ctx:     spanCtx,
		deps:    deps,
		docID:   docID,
		chunkID: chunkID,
		command: cloneCommand(cmd),
		span:    span,
		done:    make(chan struct{}),
	}

	// Staging logs each failed step itself.
	if err := deps.Staging.Reset(docID, chunkID); err != nil {
		span.AddEvent(tracing.EventErrorOccurred, trace.WithAttributes(attribute.String("error.message", err.Error())))
	}
	if err := deps.Registry.Purge(spanCtx, docID, chunkID); err != nil {
		log.ErrorErr(log.CatExec, "Failed to purge chunk output", err, "doc", docID, "chunk", chunkID)
		span.AddEvent(tracing.EventErrorOccurred, trace.WithAttributes(attribute.String("error.message", err.Error())))
	}

	log.Debug(log.CatExec, "Created chunk operation", "doc", docID, "chunk", chunkID, "command", cmd.String())
	return o
}

func cloneCommand(c process.Command) process.Command {
	c.Args = append([]string(nil), c.Args...)
	c.Env = append([]string(nil), c.Env...)
	return c
}

// Callbacks binds every lifecycle slot to this operation.
func (o *Operation) Callbacks() process.Callbacks {
	return process.Callbacks{
		OnStarted:  o.onStarted,
		OnContinue: o.onContinue,
		OnStdout: func(_ process.Operations, text string) {
			o.onText(output.Stdout, text)
		},
		OnStderr: func(_ process.Operations, text string) {
			o.onText(output.Stderr, text)
		},
		OnExit: func(_ process.Operations, status int) {
			o.onExit(status)
		},
	}
}

func (o *Operation) DocID() string   { return o.docID }
func (o *Operation) ChunkID() string { return o.chunkID }

// Command returns a copy of the command the operation was built with.
func (o *Operation) Command() process.Command { return cloneCommand(o.command) }

// IsRunning reports whether the process has started and not yet exited.
func (o *Operation) IsRunning() bool { return o.running.Load() }

// TerminationRequested reports whether Terminate has been called.
func (o *Operation) TerminationRequested() bool { return o.terminationRequested.Load() }

// Exited reports whether the exit callback has fired.
func (o *Operation) Exited() bool { return o.exited.Load() }

// ExitStatus returns the status passed to the exit callback, and false until
// it has fired.
func (o *Operation) ExitStatus() (int, bool) {
	if !o.exited.Load() {
		return 0, false
	}
	return int(o.exitStatus.Load()), true
}

// Done is closed once the exit callback has finished, or when the process
// failed to start.
func (o *Operation) Done() <-chan struct{} { return o.done }

// Terminate asks the process to stop at the next continuation poll. The
// request cannot be withdrawn.
func (o *Operation) Terminate() {
	if o.terminationRequested.CompareAndSwap(false, true) {
		log.Info(log.CatExec, "Termination requested", "doc", o.docID, "chunk", o.chunkID)
		o.span.AddEvent(tracing.EventTerminationRequested)
	}
}

func (o *Operation) onStarted(ops process.Operations) {
	if o.exited.Load() {
		log.Warn(log.CatExec, "Ignoring start after exit", "doc", o.docID, "chunk", o.chunkID)
		return
	}
	if !o.started.CompareAndSwap(false, true) {
		log.Warn(log.CatExec, "Ignoring duplicate start", "doc", o.docID, "chunk", o.chunkID)
		return
	}
	o.running.Store(true)

	pid := -1
	if ops != nil {
		pid = ops.PID()
	}
	o.span.AddEvent(tracing.EventProcessStarted, trace.WithAttributes(attribute.Int(tracing.AttrPID, pid)))
	log.Debug(log.CatExec, "Chunk process started", "doc", o.docID, "chunk", o.chunkID, "pid", pid)
}

func (o *Operation) onContinue(process.Operations) bool {
	return !o.terminationRequested.Load()
}

// onText appends one record to the chunk's text cache file and announces it.
func (o *Operation) onText(kind output.Kind, text string) {
	if o.exited.Load() {
		log.Warn(log.CatExec, "Dropping output received after exit", "doc", o.docID, "chunk", o.chunkID, "kind", kind)
		return
	}

	target := o.deps.Resolver.ChunkOutputFile(o.docID, o.chunkID, paths.OutputText)

	if err := output.Append(target, output.Record{Kind: kind, Text: text}); err != nil {
		log.ErrorErr(log.CatExec, "Failed to write chunk output", err, "doc", o.docID, "chunk", o.chunkID)
		o.span.AddEvent(tracing.EventErrorOccurred, trace.WithAttributes(attribute.String("error.message", err.Error())))
	}

	if !o.recorded {
		err := o.deps.Registry.Record(o.ctx, registry.Entry{
			DocID:     o.docID,
			ChunkID:   o.chunkID,
			ContextID: o.deps.Resolver.ContextID,
			Kind:      paths.OutputText,
			Path:      target,
		})
		if err != nil {
			log.ErrorErr(log.CatExec, "Failed to record chunk output", err, "doc", o.docID, "chunk", o.chunkID)
		} else {
			o.recorded = true
		}
	}

	o.deps.Notifier.ChunkOutput(o.ctx, notify.ChunkOutput{
		DocID:     o.docID,
		ChunkID:   o.chunkID,
		ContextID: o.deps.Resolver.ContextID,
		Kind:      paths.OutputText,
		Path:      target,
	})

	event := tracing.EventOutputStdout
	if kind == output.Stderr {
		event = tracing.EventOutputStderr
	}
	o.span.AddEvent(event, trace.WithAttributes(
		attribute.Int(tracing.AttrBytes, len(text)),
		attribute.String(tracing.AttrPath, target),
	))
}

func (o *Operation) onExit(status int) {
	if !o.exited.CompareAndSwap(false, true) {
		log.Warn(log.CatExec, "Ignoring duplicate exit", "doc", o.docID, "chunk", o.chunkID, "status", status)
		return
	}
	o.exitStatus.Store(int64(status))
	terminated := o.terminationRequested.Load()

	o.deps.Notifier.ChunkCompleted(o.ctx, notify.ChunkCompleted{
		DocID:      o.docID,
		ChunkID:    o.chunkID,
		ContextID:  o.deps.Resolver.ContextID,
		ExitStatus: status,
		Terminated: terminated,
	})
	o.running.Store(false)

	o.span.AddEvent(tracing.EventProcessExited)
	o.span.SetAttributes(
		attribute.Int(tracing.AttrExitStatus, status),
		attribute.Bool(tracing.AttrTerminated, terminated),
	)
	o.span.End()

	log.Info(log.CatExec, "Chunk execution completed", "doc", o.docID, "chunk", o.chunkID, "status", status, "terminated", terminated)
	o.finish()
}

// abort ends an operation whose process never started. No callback will run,
// so Exited stays false while Done is closed.
func (o *Operation) abort(err error) {
	o.span.AddEvent(tracing.EventErrorOccurred, trace.WithAttributes(attribute.String("error.message", err.Error())))
	o.span.SetStatus(codes.Error, err.Error())
	o.span.End()
	log.ErrorErr(log.CatExec, "Chunk process failed to start", err, "doc", o.docID, "chunk", o.chunkID)
	o.finish()
}

func (o *Operation) finish() {
	o.doneOnce.Do(func() { close(o.done) })
}
