// Package config provides configuration types, defaults, and loading for chunkrun.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/zjrosen/chunkrun/internal/chunkexec"
	"github.com/zjrosen/chunkrun/internal/log"
	"github.com/zjrosen/chunkrun/internal/notify"
	"github.com/zjrosen/chunkrun/internal/paths"
	"github.com/zjrosen/chunkrun/internal/process"
	"github.com/zjrosen/chunkrun/internal/tracing"
)

// EnvPrefix is prepended to every environment override, e.g. CHUNKRUN_CACHE_DIR.
const EnvPrefix = "CHUNKRUN"

// LocalConfigPath is checked before the user config directory.
var LocalConfigPath = filepath.Join(".chunkrun", "config.yaml")

// Config holds all configuration options for chunkrun.
type Config struct {
	// CacheDir is the root under which chunk outputs are written.
	// Default: <user cache dir>/chunkrun
	CacheDir string `mapstructure:"cache_dir" yaml:"cache_dir"`

	// ContextID names the execution context. A fresh uuid is generated per
	// session when unset.
	ContextID string `mapstructure:"context_id" yaml:"context_id,omitempty"`

	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	LogFile      string        `mapstructure:"log_file" yaml:"log_file"`
	// LogLevel is the minimum level written when debug logging is on.
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	// Engines maps an engine name to the interpreter binary that runs it.
	Engines map[string]string `mapstructure:"engines" yaml:"engines"`

	Registry RegistryConfig  `mapstructure:"registry" yaml:"registry"`
	Notify   NotifyConfig    `mapstructure:"notify" yaml:"notify"`
	Tracing  tracing.Config  `mapstructure:"tracing" yaml:"tracing"`
	Flags    map[string]bool `mapstructure:"flags" yaml:"flags"`
}

// RegistryConfig holds chunk output registry settings.
type RegistryConfig struct {
	// DBPath is the SQLite file used when the durable-registry flag is on.
	// Default: <cache_dir>/registry.db
	DBPath string `mapstructure:"db_path" yaml:"db_path,omitempty"`
}

// NotifyConfig holds settings for republishing notifications.
type NotifyConfig struct {
	RedisAddr    string `mapstructure:"redis_addr" yaml:"redis_addr,omitempty"`
	RedisChannel string `mapstructure:"redis_channel" yaml:"redis_channel"`
}

// DefaultConfigDir returns ~/.config/chunkrun, or an empty string when the
// home directory is unknown.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "chunkrun")
}

// DefaultCacheDir returns the user cache directory for chunkrun, falling back
// to a temp directory.
func DefaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "chunkrun")
	}
	return filepath.Join(dir, "chunkrun")
}

// Defaults returns a Config with default values. ContextID stays empty so
// every session gets its own.
func Defaults() Config {
	logFile := "chunkrun-debug.log"
	if dir := DefaultConfigDir(); dir != "" {
		logFile = filepath.Join(dir, "debug.log")
	}
	tc := tracing.DefaultConfig()
	if dir := DefaultConfigDir(); dir != "" {
		tc.FilePath = filepath.Join(dir, "traces", "traces.jsonl")
	}
	return Config{
		CacheDir:     DefaultCacheDir(),
		PollInterval: process.DefaultPollInterval,
		LogFile:      logFile,
		LogLevel:     "debug",
		Engines: map[string]string{
			chunkexec.EngineRscript: chunkexec.EngineRscript,
		},
		Notify: NotifyConfig{
			RedisChannel: notify.DefaultRedisChannel,
		},
		Tracing: tc,
		Flags:   map[string]bool{},
	}
}

// SetDefaults registers every default on v so env overrides and partial
// config files merge over them.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("cache_dir", d.CacheDir)
	v.SetDefault("context_id", "")
	v.SetDefault("poll_interval", d.PollInterval)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("engines", d.Engines)
	v.SetDefault("registry.db_path", "")
	v.SetDefault("notify.redis_addr", "")
	v.SetDefault("notify.redis_channel", d.Notify.RedisChannel)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("flags", d.Flags)
}

// Load reads configuration into a Config. When cfgFile is empty the lookup
// order is LocalConfigPath, then ~/.config/chunkrun/config.yaml; if neither
// exists a default file is written at LocalConfigPath. It returns the config
// file in use, which is empty when none could be read.
func Load(v *viper.Viper, cfgFile string) (Config, string, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	switch {
	case cfgFile != "":
		v.SetConfigFile(cfgFile)
	case fileExists(LocalConfigPath):
		v.SetConfigFile(LocalConfigPath)
	default:
		if dir := DefaultConfigDir(); dir != "" {
			v.AddConfigPath(dir)
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, "", fmt.Errorf("reading config: %w", err)
		}
		if writeErr := WriteDefaultConfig(LocalConfigPath); writeErr == nil {
			v.SetConfigFile(LocalConfigPath)
			_ = v.ReadInConfig()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, "", fmt.Errorf("decoding config: %w", err)
	}
	cfg.fillDerived()
	if err := cfg.Validate(); err != nil {
		return Config{}, "", err
	}

	log.Debug(log.CatConfig, "Config loaded", "file", v.ConfigFileUsed(), "context_id", cfg.ContextID)
	return cfg, v.ConfigFileUsed(), nil
}

func (c *Config) fillDerived() {
	if c.ContextID == "" {
		c.ContextID = uuid.NewString()
	}
	if c.Registry.DBPath == "" && c.CacheDir != "" {
		c.Registry.DBPath = filepath.Join(c.CacheDir, "registry.db")
	}
	if c.Notify.RedisChannel == "" {
		c.Notify.RedisChannel = notify.DefaultRedisChannel
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = tracing.DefaultConfig().ServiceName
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.CacheDir == "" {
		return fmt.Errorf("cache_dir is required")
	}
	if c.ContextID != "" {
		if err := paths.ValidateID(c.ContextID); err != nil {
			return fmt.Errorf("context_id: %w", err)
		}
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	for name, bin := range c.Engines {
		if name == "" || bin == "" {
			return fmt.Errorf("engines: name and interpreter are required (got %q: %q)", name, bin)
		}
	}
	return ValidateTracing(c.Tracing)
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tc tracing.Config) error {
	if tc.SampleRate < 0.0 || tc.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tc.SampleRate)
	}

	switch tc.Exporter {
	case "", tracing.ExporterNone, tracing.ExporterFile, tracing.ExporterStdout,
		tracing.ExporterOTLP, tracing.ExporterOTLPHTTP:
	default:
		return fmt.Errorf("tracing.exporter must be one of none, file, stdout, otlp, otlphttp, got %q", tc.Exporter)
	}

	if tc.Enabled {
		if tc.Exporter == tracing.ExporterFile && tc.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is %q", tracing.ExporterFile)
		}
		if (tc.Exporter == tracing.ExporterOTLP || tc.Exporter == tracing.ExporterOTLPHTTP) && tc.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is %q", tc.Exporter)
		}
	}
	return nil
}

// Resolver returns the path resolver for this configuration.
func (c Config) Resolver() (*paths.Resolver, error) {
	return paths.NewResolver(c.CacheDir, c.ContextID)
}

// EngineTable returns the configured interpreters.
func (c Config) EngineTable() chunkexec.Engines {
	return chunkexec.Engines(c.Engines)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
