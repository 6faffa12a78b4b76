package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/chunkrun/internal/chunkexec"
	"github.com/zjrosen/chunkrun/internal/log"
	"github.com/zjrosen/chunkrun/internal/paths"
)

var (
	runDoc    string
	runChunk  string
	runEngine string
)

// shutdownTimeout bounds how long run waits for cleanup after the process
// exits or is interrupted.
const shutdownTimeout = 10 * time.Second

// ExitError carries the exit status of the executed chunk so main can
// propagate it.
type ExitError struct {
	Status int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("chunk exited with status %d", e.Status)
}

var runCmd = &cobra.Command{
	Use:   "run SCRIPT",
	Short: "Execute a chunk script and stream its output",
	Long: `Execute SCRIPT with the chosen engine as one chunk of a document.

The chunk's previous output is cleared first. Output is printed as it arrives
and appended to the chunk's text cache file. Ctrl+C asks the interpreter to
stop; chunkrun exits with the interpreter's status, or 1 when it was stopped.

Examples:
  chunkrun run --doc report --chunk setup --engine Rscript setup.R
  chunkrun run -D notes -C c1 -e python3 plot.py`,
	Args: cobra.ExactArgs(1),
	RunE: runChunkCmd,
}

func init() {
	runCmd.Flags().StringVarP(&runDoc, "doc", "D", "", "document id (required)")
	runCmd.Flags().StringVarP(&runChunk, "chunk", "C", "", "chunk id (required)")
	runCmd.Flags().StringVarP(&runEngine, "engine", "e", "", "engine name, e.g. Rscript or python3 (required)")
	_ = runCmd.MarkFlagRequired("doc")
	_ = runCmd.MarkFlagRequired("chunk")
	_ = runCmd.MarkFlagRequired("engine")
	rootCmd.AddCommand(runCmd)
}

func runChunkCmd(cmd *cobra.Command, args []string) error {
	script, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolving script path: %w", err)
	}
	if _, err := os.Stat(script); err != nil {
		return fmt.Errorf("script: %w", err)
	}

	rt, err := newRuntime(cfg, flagValues)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := rt.close(ctx); err != nil {
			log.ErrorErr(log.CatExec, "Shutdown incomplete", err)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	events := rt.notifier.SubscribeChunk(ctx, runDoc, runChunk)

	command := cfg.EngineTable().Command(runEngine, script)
	op, err := rt.manager.Execute(ctx, runDoc, runChunk, command)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	printer := &recordPrinter{out: cmd.OutOrStdout()}
	cacheFile := rt.resolver.ChunkOutputFile(runDoc, runChunk, paths.OutputText)

	for waiting := true; waiting; {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Payload.Output != nil {
				if err := printer.catchUp(cacheFile); err != nil {
					log.ErrorErr(log.CatOutput, "Failed to read cache file", err, "path", cacheFile)
				}
			}
		case sig := <-sigCh:
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), mutedStyle.Render(fmt.Sprintf("\nreceived %s, stopping chunk...", sig)))
			rt.manager.Terminate(runDoc, runChunk)
		case <-op.Done():
			waiting = false
		}
	}

	if err := printer.catchUp(cacheFile); err != nil {
		return fmt.Errorf("reading output: %w", err)
	}

	status, _ := op.ExitStatus()
	if status != 0 {
		return &ExitError{Status: status}
	}
	return nil
}

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Status < 0 || exitErr.Status > 255 {
			return 1
		}
		return exitErr.Status
	}
	if errors.Is(err, chunkexec.ErrChunkBusy) {
		return 3
	}
	return 1
}
