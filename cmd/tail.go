package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zjrosen/chunkrun/internal/output"
	"github.com/zjrosen/chunkrun/internal/paths"
	"github.com/zjrosen/chunkrun/internal/watcher"
)

var (
	tailDoc   string
	tailChunk string
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow a chunk's cached output",
	Long: `Print the cached text output of a chunk, then keep printing records as
they are appended. When the chunk is executed again the output restarts from
the top. Stop with Ctrl+C.

Example:
  chunkrun tail --doc report --chunk setup`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		resolver, err := cfg.Resolver()
		if err != nil {
			return err
		}
		if err := paths.ValidateChunk(tailDoc, tailChunk); err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// The chunk may not have run yet; its directory must exist to be watched.
		if err := os.MkdirAll(resolver.ChunkOutputPath(tailDoc, tailChunk), 0o750); err != nil {
			return fmt.Errorf("creating chunk directory: %w", err)
		}

		printer := &recordPrinter{out: cmd.OutOrStdout()}
		path := resolver.ChunkOutputFile(tailDoc, tailChunk, paths.OutputText)
		return watcher.Follow(ctx, watcher.DefaultConfig(path), func(r output.Record) {
			printer.print(r)
		})
	},
}

func init() {
	tailCmd.Flags().StringVarP(&tailDoc, "doc", "D", "", "document id (required)")
	tailCmd.Flags().StringVarP(&tailChunk, "chunk", "C", "", "chunk id (required)")
	_ = tailCmd.MarkFlagRequired("doc")
	_ = tailCmd.MarkFlagRequired("chunk")
	rootCmd.AddCommand(tailCmd)
}
