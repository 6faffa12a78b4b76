package chunkexec

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"pgregory.net/rapid"

	"github.com/zjrosen/chunkrun/internal/log"
	"github.com/zjrosen/chunkrun/internal/notify"
	"github.com/zjrosen/chunkrun/internal/output"
	"github.com/zjrosen/chunkrun/internal/paths"
	"github.com/zjrosen/chunkrun/internal/process"
	"github.com/zjrosen/chunkrun/internal/pubsub"
	"github.com/zjrosen/chunkrun/internal/registry"
	"github.com/zjrosen/chunkrun/internal/staging"
	"github.com/zjrosen/chunkrun/internal/tracing"
)

type fakeOps struct{ terminated bool }

func (f *fakeOps) PID() int    { return 4242 }
func (f *fakeOps) Terminate() { f.terminated = true }

type env struct {
	deps     Deps
	notifier *notify.Notifier
	registry *registry.Memory
	spans    *tracetest.InMemoryExporter
	provider *tracing.Provider
}

func newEnv(t *testing.T) *env {
	t.Helper()
	resolver, err := paths.NewResolver(t.TempDir(), "ctx1")
	require.NoError(t, err)

	spans := tracetest.NewInMemoryExporter()
	provider := tracing.NewProviderWithExporter(spans, tracing.Config{})
	n := notify.New()
	t.Cleanup(func() { _ = n.Close() })
	reg := registry.NewMemory()

	return &env{
		deps: Deps{
			Resolver: resolver,
			Staging:  staging.NewStore(resolver),
			Registry: reg,
			Notifier: n,
			Tracer:   provider.Tracer(),
		},
		notifier: n,
		registry: reg,
		spans:    spans,
		provider: provider,
	}
}

// collect drains notifications published until the returned stop function
// is called.
func (e *env) collect(t *testing.T) func() []pubsub.Event[notify.Message] {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ch := e.notifier.Subscribe(ctx)
	return func() []pubsub.Event[notify.Message] {
		var out []pubsub.Event[notify.Message]
		for {
			select {
			case ev := <-ch:
				out = append(out, ev)
			case <-time.After(50 * time.Millisecond):
				cancel()
				return out
			}
		}
	}
}

func countType(events []pubsub.Event[notify.Message], typ pubsub.EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// TestNew_GivesChunkCleanSlate verifies stale files and registry entries are gone after New.
func TestNew_GivesChunkCleanSlate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r := e.deps.Resolver

	stagingDir := r.StagingOutputPath("doc", "chunk")
	finalDir := r.ChunkOutputPath("doc", "chunk")
	for _, dir := range []string{stagingDir, finalDir} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "stale"), []byte("old"), 0o644))
	}
	require.NoError(t, e.registry.Record(ctx, registry.Entry{
		DocID: "doc", ChunkID: "chunk", ContextID: "ctx1", Kind: paths.OutputText, Path: filepath.Join(finalDir, "text.csv"),
	}))

	op := New(ctx, e.deps, "doc", "chunk", ShellCommandForEngine("python", "/tmp/x.py"))

	for _, dir := range []string{stagingDir, finalDir} {
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Empty(t, entries, dir)
	}
	listed, err := e.registry.List(ctx, "doc", "chunk")
	require.NoError(t, err)
	require.Empty(t, listed)

	require.False(t, op.IsRunning())
	require.False(t, op.TerminationRequested())
	require.False(t, op.Exited())
	require.Equal(t, "doc", op.DocID())
	require.Equal(t, "chunk", op.ChunkID())
	require.Equal(t, "python /tmp/x.py", op.Command().String())
}

type failingRegistry struct{ registry.Registry }

func (failingRegistry) Purge(context.Context, string, string) error {
	return errors.New("registry offline")
}

func (failingRegistry) Record(context.Context, registry.Entry) error {
	return errors.New("registry offline")
}

// TestNew_SetupFailuresAreNotFatal verifies New and the callbacks survive failing collaborators.
func TestNew_SetupFailuresAreNotFatal(t *testing.T) {
	e := newEnv(t)
	root := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(root, nil, 0o644))
	resolver, err := paths.NewResolver(root, "ctx1")
	require.NoError(t, err)

	e.deps.Resolver = resolver
	e.deps.Staging = staging.NewStore(resolver)
	e.deps.Registry = failingRegistry{}

	var logs bytes.Buffer
	log.InitWriter(&logs, log.LevelDebug)
	defer log.InitWriter(&bytes.Buffer{}, log.LevelError)

	op := New(context.Background(), e.deps, "doc", "chunk", process.Command{Program: "sh"})
	require.NotNil(t, op)

	// Each failed staging step is reported once, by the staging store.
	require.Contains(t, logs.String(), "[ERROR] [staging]")
	for _, line := range strings.Split(logs.String(), "\n") {
		if strings.Contains(line, "[exec]") {
			require.NotContains(t, line, "reset")
		}
	}

	cb := op.Callbacks()
	ops := &fakeOps{}
	require.NotPanics(t, func() {
		cb.OnStarted(ops)
		cb.OnStdout(ops, "lost")
		cb.OnExit(ops, 0)
	})
	require.True(t, op.Exited())
}

// TestOperation_RunningTransitionsOnce verifies IsRunning follows start and exit, ignoring repeats.
func TestOperation_RunningTransitionsOnce(t *testing.T) {
	e := newEnv(t)
	op := New(context.Background(), e.deps, "doc", "chunk", process.Command{Program: "sh"})
	cb := op.Callbacks()
	ops := &fakeOps{}

	require.False(t, op.IsRunning())
	cb.OnStarted(ops)
	require.True(t, op.IsRunning())
	cb.OnStdout(ops, "x")
	require.True(t, op.IsRunning())
	cb.OnExit(ops, 0)
	require.False(t, op.IsRunning())

	cb.OnStarted(ops)
	require.False(t, op.IsRunning(), "an operation is single use")
}

// TestOperation_TerminateLatchesContinue verifies a termination request cannot be withdrawn.
func TestOperation_TerminateLatchesContinue(t *testing.T) {
	e := newEnv(t)
	op := New(context.Background(), e.deps, "doc", "chunk", process.Command{Program: "sh"})
	cb := op.Callbacks()
	ops := &fakeOps{}
	cb.OnStarted(ops)

	for range 3 {
		require.True(t, cb.OnContinue(ops))
	}

	op.Terminate()
	require.True(t, op.TerminationRequested())
	require.False(t, cb.OnContinue(ops))

	op.Terminate()
	op.Terminate()
	require.True(t, op.TerminationRequested())
	require.False(t, cb.OnContinue(ops))
	require.False(t, ops.terminated, "termination is cooperative, never forced by the operation")
}

// TestOperation_StdoutStderrExitScenario routes interleaved output and checks file, registry and notifications.
func TestOperation_StdoutStderrExitScenario(t *testing.T) {
	e := newEnv(t)
	stop := e.collect(t)
	op := New(context.Background(), e.deps, "doc", "chunk", ShellCommandForEngine("Rscript", "/tmp/x.R"))
	cb := op.Callbacks()
	ops := &fakeOps{}

	cb.OnStarted(ops)
	cb.OnStdout(ops, "a,b")
	cb.OnStderr(ops, "line1\nline2")
	cb.OnExit(ops, 0)

	target := e.deps.Resolver.ChunkOutputFile("doc", "chunk", paths.OutputText)
	records, err := output.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, []output.Record{
		{Kind: output.Stdout, Text: "a,b"},
		{Kind: output.Stderr, Text: "line1\nline2"},
	}, records)

	// Routing after exit is dropped.
	cb.OnStdout(ops, "late")
	records, err = output.ReadFile(target)
	require.NoError(t, err)
	require.Len(t, records, 2)

	events := stop()
	require.Equal(t, 2, countType(events, pubsub.OutputEvent))
	require.Equal(t, 1, countType(events, pubsub.CompletedEvent))

	for _, ev := range events {
		if ev.Type == pubsub.OutputEvent {
			require.Equal(t, target, ev.Payload.Output.Path)
			require.Equal(t, paths.OutputText, ev.Payload.Output.Kind)
			require.Equal(t, "ctx1", ev.Payload.Output.ContextID)
		}
	}
	last := events[len(events)-1]
	require.Equal(t, pubsub.CompletedEvent, last.Type)
	require.Equal(t, 0, last.Payload.Completed.ExitStatus)
	require.False(t, last.Payload.Completed.Terminated)

	status, ok := op.ExitStatus()
	require.True(t, ok)
	require.Equal(t, 0, status)
	select {
	case <-op.Done():
	default:
		t.Fatal("Done should be closed after exit")
	}

	listed, err := e.registry.List(context.Background(), "doc", "chunk")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, target, listed[0].Path)
}

// TestOperation_CompletionReportsStatusAndTermination verifies the completion event carries status and termination.
func TestOperation_CompletionReportsStatusAndTermination(t *testing.T) {
	e := newEnv(t)
	stop := e.collect(t)
	op := New(context.Background(), e.deps, "doc", "chunk", process.Command{Program: "sh"})
	cb := op.Callbacks()
	ops := &fakeOps{}

	cb.OnStarted(ops)
	op.Terminate()
	require.False(t, cb.OnContinue(ops))
	cb.OnExit(ops, -1)
	cb.OnExit(ops, 7)

	events := stop()
	require.Equal(t, 1, countType(events, pubsub.CompletedEvent))
	completed := events[len(events)-1].Payload.Completed
	require.Equal(t, -1, completed.ExitStatus)
	require.True(t, completed.Terminated)
	require.NotEmpty(t, completed.ID)
}

// TestOperation_WriteFailureStillNotifies verifies output is announced even when the append fails.
func TestOperation_WriteFailureStillNotifies(t *testing.T) {
	e := newEnv(t)
	stop := e.collect(t)
	op := New(context.Background(), e.deps, "doc", "chunk", process.Command{Program: "sh"})
	require.NoError(t, os.RemoveAll(e.deps.Resolver.ChunkOutputPath("doc", "chunk")))

	cb := op.Callbacks()
	ops := &fakeOps{}
	cb.OnStarted(ops)
	cb.OnStdout(ops, "nowhere to go")
	require.True(t, op.IsRunning())
	cb.OnExit(ops, 0)

	events := stop()
	require.Equal(t, 1, countType(events, pubsub.OutputEvent))
	require.Equal(t, 1, countType(events, pubsub.CompletedEvent))
}

// TestOperation_RecordsSpan verifies the execution span carries lifecycle events and attributes.
func TestOperation_RecordsSpan(t *testing.T) {
	e := newEnv(t)
	op := New(context.Background(), e.deps, "doc", "chunk", process.Command{Program: "sh"})
	cb := op.Callbacks()
	ops := &fakeOps{}

	cb.OnStarted(ops)
	cb.OnStdout(ops, "out")
	cb.OnStderr(ops, "err")
	op.Terminate()
	cb.OnExit(ops, 3)
	require.NoError(t, e.provider.ForceFlush(context.Background()))

	spans := e.spans.GetSpans()
	require.Len(t, spans, 1)
	span := spans[0]
	require.Equal(t, tracing.SpanChunkExecute, span.Name)

	var names []string
	for _, ev := range span.Events {
		names = append(names, ev.Name)
	}
	require.Equal(t, []string{
		tracing.EventProcessStarted,
		tracing.EventOutputStdout,
		tracing.EventOutputStderr,
		tracing.EventTerminationRequested,
		tracing.EventProcessExited,
	}, names)

	attrs := map[string]any{}
	for _, kv := range span.Attributes {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	require.Equal(t, int64(3), attrs[tracing.AttrExitStatus])
	require.Equal(t, true, attrs[tracing.AttrTerminated])
	require.Equal(t, "chunk", attrs[tracing.AttrChunkID])
}

// TestOperation_CacheFileRoundTrip checks that any sequence of routed texts
// decodes back to the same ordered records.
func TestOperation_CacheFileRoundTrip(t *testing.T) {
	e := newEnv(t)
	alphabet := rapid.SampledFrom([]rune("ab ,\"\n\r\t1é"))

	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 12).Draw(rt, "n")
		want := make([]output.Record, 0, n)
		for range n {
			kind := output.Stdout
			if rapid.Bool().Draw(rt, "stderr") {
				kind = output.Stderr
			}
			text := rapid.StringOf(alphabet).Draw(rt, "text")
			want = append(want, output.Record{Kind: kind, Text: text})
		}

		op := New(context.Background(), e.deps, "doc", "chunk", process.Command{Program: "sh"})
		cb := op.Callbacks()
		ops := &fakeOps{}
		cb.OnStarted(ops)
		for _, r := range want {
			if r.Kind == output.Stdout {
				cb.OnStdout(ops, r.Text)
			} else {
				cb.OnStderr(ops, r.Text)
			}
		}
		cb.OnExit(ops, 0)

		got, err := output.ReadFile(e.deps.Resolver.ChunkOutputFile("doc", "chunk", paths.OutputText))
		if n == 0 {
			if !errors.Is(err, os.ErrNotExist) {
				rt.Fatalf("expected no cache file, got %v", err)
			}
			return
		}
		if err != nil {
			rt.Fatalf("read: %v", err)
		}
		if len(got) != len(want) {
			rt.Fatalf("got %d records, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				rt.Fatalf("record %d: got %+v, want %+v", i, got[i], want[i])
			}
		}
	})
}
