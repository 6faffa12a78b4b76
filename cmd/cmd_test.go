package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/chunkrun/internal/chunkexec"
	"github.com/zjrosen/chunkrun/internal/config"
	"github.com/zjrosen/chunkrun/internal/flags"
	"github.com/zjrosen/chunkrun/internal/output"
	"github.com/zjrosen/chunkrun/internal/paths"
	"github.com/zjrosen/chunkrun/internal/registry"
	"github.com/zjrosen/chunkrun/internal/testutil"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"status", &ExitError{Status: 3}, 3},
		{"wrapped status", fmt.Errorf("run: %w", &ExitError{Status: 42}), 42},
		{"terminated", &ExitError{Status: -1}, 1},
		{"busy", fmt.Errorf("%w: d/c", chunkexec.ErrChunkBusy), 3},
		{"other", errors.New("boom"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestRecordPrinter_CatchUp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "text.csv")
	var buf bytes.Buffer
	p := &recordPrinter{out: &buf}

	require.NoError(t, p.catchUp(path), "missing file has no records")
	require.Empty(t, buf.String())

	require.NoError(t, output.Append(path, output.Record{Kind: output.Stdout, Text: "one\n"}))
	require.NoError(t, p.catchUp(path))
	require.NoError(t, output.Append(path, output.Record{Kind: output.Stdout, Text: "two\n"}))
	require.NoError(t, p.catchUp(path))
	require.NoError(t, p.catchUp(path))

	require.Equal(t, "one\ntwo\n", buf.String())
}

func TestRecordPrinter_StderrIsPrinted(t *testing.T) {
	var buf bytes.Buffer
	p := &recordPrinter{out: &buf}
	p.print(output.Record{Kind: output.Stderr, Text: "warning"})
	require.Contains(t, buf.String(), "warning")
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.CacheDir = t.TempDir()
	cfg.ContextID = "ctx"
	cfg.Registry.DBPath = filepath.Join(cfg.CacheDir, "registry.db")
	cfg.PollInterval = 20 * time.Millisecond
	return cfg
}

func TestOpenRegistry_Selection(t *testing.T) {
	cfg := testConfig(t)

	reg, closeFn, err := openRegistry(cfg, flags.New(nil))
	require.NoError(t, err)
	require.Nil(t, closeFn)
	require.IsType(t, &registry.Memory{}, reg)

	reg, closeFn, err = openRegistry(cfg, flags.New(map[string]bool{
		flags.FlagDurableRegistry: true,
		flags.FlagRegistryCache:   true,
	}))
	require.NoError(t, err)
	require.NotNil(t, closeFn)
	require.IsType(t, &registry.Cached{}, reg)
	require.FileExists(t, cfg.Registry.DBPath)
	require.NoError(t, closeFn())
}

func TestOpenRegistry_DurableSurvivesReopen(t *testing.T) {
	cfg := testConfig(t)
	fl := flags.New(map[string]bool{flags.FlagDurableRegistry: true})
	ctx := context.Background()

	reg, closeFn, err := openRegistry(cfg, fl)
	require.NoError(t, err)
	require.NoError(t, reg.Record(ctx, registry.Entry{
		DocID: "doc", ChunkID: "c1", ContextID: "ctx", Kind: paths.OutputText, Path: "/x/text.csv",
	}))
	require.NoError(t, closeFn())

	reg, closeFn, err = openRegistry(cfg, fl)
	require.NoError(t, err)
	defer func() { _ = closeFn() }()
	entries, err := reg.List(ctx, "doc", "c1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestNotifySinks(t *testing.T) {
	cfg := testConfig(t)
	require.Empty(t, notifySinks(cfg, flags.New(nil)))

	on := flags.New(map[string]bool{flags.FlagRedisNotify: true})
	require.Empty(t, notifySinks(cfg, on), "no address configured")

	cfg.Notify.RedisAddr = "127.0.0.1:1"
	sinks := notifySinks(cfg, on)
	require.Len(t, sinks, 1)
	require.NoError(t, sinks[0].Close())
}

func TestRuntime_ExecutesChunk(t *testing.T) {
	cfg := testConfig(t)
	rt, err := newRuntime(cfg, flags.New(nil))
	require.NoError(t, err)

	op, err := rt.manager.Execute(context.Background(), "doc", "c1",
		chunkexec.ShellCommandForEngine("sh", testutil.WriteScript(t, testutil.ScriptBothStreams)))
	require.NoError(t, err)

	select {
	case <-op.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("chunk did not finish")
	}
	status, ok := op.ExitStatus()
	require.True(t, ok)
	require.Equal(t, 0, status)

	records, err := output.ReadFile(rt.resolver.ChunkOutputFile("doc", "c1", paths.OutputText))
	require.NoError(t, err)
	require.ElementsMatch(t, []output.Record{
		{Kind: output.Stdout, Text: "out\n"},
		{Kind: output.Stderr, Text: "err\n"},
	}, records)

	entries, err := rt.registry.List(context.Background(), "doc", "c1")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, rt.close(context.Background()))
}

func TestWriteEntries(t *testing.T) {
	var buf bytes.Buffer
	writeEntries(&buf, nil)
	require.Contains(t, buf.String(), "no outputs recorded")

	buf.Reset()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	entries := []registry.Entry{{DocID: "d", ChunkID: "c", ContextID: "ctx", Kind: paths.OutputText, Path: "/p/text.csv", RecordedAt: at}}
	writeEntries(&buf, entries)
	require.Equal(t, "text  2026-01-02T03:04:05Z  ctx  /p/text.csv\n", buf.String())

	buf.Reset()
	require.NoError(t, writeEntriesJSON(&buf, entries))
	require.Contains(t, buf.String(), `"path": "/p/text.csv"`)
	require.Contains(t, buf.String(), `"kind": "text"`)
}

func TestRuntime_FailingChunkStatus(t *testing.T) {
	rt, err := newRuntime(testConfig(t), flags.New(nil))
	require.NoError(t, err)
	defer func() { _ = rt.close(context.Background()) }()

	op, err := rt.manager.Execute(context.Background(), "doc", "bad",
		chunkexec.ShellCommandForEngine("sh", testutil.WriteScript(t, testutil.ScriptFails)))
	require.NoError(t, err)
	<-op.Done()

	status, ok := op.ExitStatus()
	require.True(t, ok)
	require.Equal(t, 3, ExitCode(&ExitError{Status: status}))
}

func TestRuntime_CloseStopsRunningChunk(t *testing.T) {
	rt, err := newRuntime(testConfig(t), flags.New(nil))
	require.NoError(t, err)

	op, err := rt.manager.Execute(context.Background(), "doc", "slow",
		chunkexec.ShellCommandForEngine("sh", testutil.WriteScript(t, testutil.ScriptSleeps)))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rt.close(ctx))

	status, ok := op.ExitStatus()
	require.True(t, ok)
	require.Equal(t, -1, status)
	require.True(t, op.TerminationRequested())
}

func TestWriteEntries_FromDurableRegistry(t *testing.T) {
	reg := testutil.NewRegistryDB(t).Registry()
	testutil.NewBuilder(t, reg).WithStandardOutputs().Build()

	entries, err := reg.List(context.Background(), "report", "plot")
	require.NoError(t, err)

	var buf bytes.Buffer
	writeEntries(&buf, entries)
	require.Equal(t, ""+
		"text  2026-01-02T03:04:06Z  ctx  /cache/report/ctx/plot/text.csv\n"+
		"plot  2026-01-02T03:04:07Z  ctx  /cache/report/ctx/plot/plot.png\n",
		buf.String())
}
