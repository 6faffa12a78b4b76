package cmd

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/zjrosen/chunkrun/internal/config"
)

var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Manage the interpreters used for each engine",
}

var engineSetCmd = &cobra.Command{
	Use:   "set NAME INTERPRETER",
	Short: "Run engine NAME with the given interpreter binary",
	Long: `Record in the config file which interpreter runs an engine.

Example:
  chunkrun engine set Rscript /opt/R/4.4/bin/Rscript`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFileForWrite()
		if err := config.SaveEngine(path, args[0], args[1]); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%s)\n", args[0], args[1], path)
		return nil
	},
}

var engineRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Forget the interpreter configured for engine NAME",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return config.RemoveEngine(configFileForWrite(), args[0])
	},
}

var engineListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show configured engines",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		for _, name := range slices.Sorted(maps.Keys(cfg.Engines)) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, cfg.Engines[name])
		}
		return nil
	},
}

// configFileForWrite is the file config edits go to: the one loaded, or the
// local default when none was.
func configFileForWrite() string {
	if cfgPath != "" {
		return cfgPath
	}
	return config.LocalConfigPath
}

func init() {
	engineCmd.AddCommand(engineSetCmd, engineRemoveCmd, engineListCmd)
	rootCmd.AddCommand(engineCmd)
}
