package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/chunkrun/internal/config"
	"github.com/zjrosen/chunkrun/internal/flags"
	"github.com/zjrosen/chunkrun/internal/log"
)

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool

	cfg        config.Config
	cfgPath    string
	flagValues *flags.Flags
	logCleanup func()
)

var rootCmd = &cobra.Command{
	Use:   "chunkrun",
	Short: "Run document chunks in an interpreter and cache their output",
	Long: `chunkrun executes one chunk of a document with an external interpreter,
streams its stdout and stderr as they arrive, and keeps that output in a
per-chunk cache file that other tools can tail.`,
	Version:           version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadRuntimeConfig,
	PersistentPostRun: func(*cobra.Command, []string) {
		if logCleanup != nil {
			logCleanup()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .chunkrun/config.yaml, then ~/.config/chunkrun/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"write debug logs to log_file (also enabled by "+log.EnvDebug+")")
}

// loadRuntimeConfig loads .env, then the config file, then starts logging.
func loadRuntimeConfig(*cobra.Command, []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	var err error
	cfg, cfgPath, err = config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return err
	}

	if debugFlag || log.DebugRequested() {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o750); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
		cleanup, err := log.Init(cfg.LogFile)
		if err != nil {
			return fmt.Errorf("initializing logging: %w", err)
		}
		logCleanup = cleanup
		log.SetMinLevel(log.ParseLevel(cfg.LogLevel))
		log.Info(log.CatConfig, "chunkrun starting", "version", version, "config", cfgPath)
	}

	flagValues = flags.New(cfg.Flags)
	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
