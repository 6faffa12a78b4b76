package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/chunkrun/internal/flags"
	"github.com/zjrosen/chunkrun/internal/paths"
	"github.com/zjrosen/chunkrun/internal/registry"
)

var (
	outputsDoc   string
	outputsChunk string
	outputsJSON  bool
)

var outputsCmd = &cobra.Command{
	Use:   "outputs",
	Short: "List the recorded outputs of a chunk",
	Long: `List the output files recorded for a chunk by its most recent execution.

Only the durable registry outlives a single run; enable it with
flags.durable-registry in the config file.

Examples:
  chunkrun outputs --doc report --chunk setup
  chunkrun outputs -D report -C setup --json | jq '.[].path'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := paths.ValidateChunk(outputsDoc, outputsChunk); err != nil {
			return err
		}
		if !flagValues.Enabled(flags.FlagDurableRegistry) {
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(),
				mutedStyle.Render("durable-registry is off; nothing is kept between runs"))
		}

		reg, closeReg, err := openRegistry(cfg, flagValues)
		if err != nil {
			return err
		}
		if closeReg != nil {
			defer func() { _ = closeReg() }()
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		entries, err := reg.List(ctx, outputsDoc, outputsChunk)
		if err != nil {
			return fmt.Errorf("listing outputs: %w", err)
		}
		if outputsJSON {
			return writeEntriesJSON(cmd.OutOrStdout(), entries)
		}
		writeEntries(cmd.OutOrStdout(), entries)
		return nil
	},
}

func init() {
	outputsCmd.Flags().StringVarP(&outputsDoc, "doc", "D", "", "document id (required)")
	outputsCmd.Flags().StringVarP(&outputsChunk, "chunk", "C", "", "chunk id (required)")
	outputsCmd.Flags().BoolVar(&outputsJSON, "json", false, "print entries as JSON")
	_ = outputsCmd.MarkFlagRequired("doc")
	_ = outputsCmd.MarkFlagRequired("chunk")
	rootCmd.AddCommand(outputsCmd)
}

type entryDTO struct {
	DocID      string    `json:"doc_id"`
	ChunkID    string    `json:"chunk_id"`
	ContextID  string    `json:"context_id"`
	Kind       string    `json:"kind"`
	Path       string    `json:"path"`
	RecordedAt time.Time `json:"recorded_at"`
}

func writeEntriesJSON(w io.Writer, entries []registry.Entry) error {
	dtos := make([]entryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, entryDTO{
			DocID:      e.DocID,
			ChunkID:    e.ChunkID,
			ContextID:  e.ContextID,
			Kind:       string(e.Kind),
			Path:       e.Path,
			RecordedAt: e.RecordedAt,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(dtos)
}

func writeEntries(w io.Writer, entries []registry.Entry) {
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(w, mutedStyle.Render("no outputs recorded"))
		return
	}
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%-5s %s  %s  %s\n",
			e.Kind, e.RecordedAt.UTC().Format(time.RFC3339), e.ContextID, e.Path)
	}
}
