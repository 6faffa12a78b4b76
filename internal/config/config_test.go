package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/chunkrun/internal/notify"
	"github.com/zjrosen/chunkrun/internal/process"
	"github.com/zjrosen/chunkrun/internal/tracing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	d := Defaults()
	require.NotEmpty(t, d.CacheDir)
	require.Empty(t, d.ContextID)
	require.Equal(t, process.DefaultPollInterval, d.PollInterval)
	require.Equal(t, notify.DefaultRedisChannel, d.Notify.RedisChannel)
	require.False(t, d.Tracing.Enabled)
	require.Equal(t, "Rscript", d.Engines["Rscript"])
	require.Equal(t, "debug", d.LogLevel)
}

func TestLoad_File(t *testing.T) {
	cache := t.TempDir()
	path := writeConfig(t, `
cache_dir: `+cache+`
context_id: session-1
poll_interval: 250ms
log_level: warn
engines:
  Rscript: /opt/R/bin/Rscript
  python: /usr/bin/python3
registry:
  db_path: /var/lib/chunkrun/registry.db
notify:
  redis_addr: localhost:6379
flags:
  durable-registry: true
`)

	cfg, used, err := Load(viper.New(), path)
	require.NoError(t, err)
	require.Equal(t, path, used)
	require.Equal(t, cache, cfg.CacheDir)
	require.Equal(t, "session-1", cfg.ContextID)
	require.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	require.Equal(t, "warn", cfg.LogLevel)
	require.Equal(t, "/var/lib/chunkrun/registry.db", cfg.Registry.DBPath)
	require.Equal(t, "localhost:6379", cfg.Notify.RedisAddr)
	require.Equal(t, notify.DefaultRedisChannel, cfg.Notify.RedisChannel)
	require.True(t, cfg.Flags["durable-registry"])

	cmd := cfg.EngineTable().Command("Rscript", "/tmp/a.R")
	require.Equal(t, "/opt/R/bin/Rscript -f /tmp/a.R", cmd.String())

	r, err := cfg.Resolver()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(cache, "doc", "session-1", "c1"), r.ChunkOutputPath("doc", "c1"))
}

func TestLoad_DerivesMissingValues(t *testing.T) {
	cache := t.TempDir()
	path := writeConfig(t, "cache_dir: "+cache+"\n")

	first, _, err := Load(viper.New(), path)
	require.NoError(t, err)
	second, _, err := Load(viper.New(), path)
	require.NoError(t, err)

	require.NotEmpty(t, first.ContextID)
	require.NotEqual(t, first.ContextID, second.ContextID, "each session gets its own context")
	require.Equal(t, filepath.Join(cache, "registry.db"), first.Registry.DBPath)
	require.Equal(t, process.DefaultPollInterval, first.PollInterval)
}

func TestLoad_EnvOverrides(t *testing.T) {
	cache := t.TempDir()
	path := writeConfig(t, "cache_dir: /not/used\n")
	t.Setenv("CHUNKRUN_CACHE_DIR", cache)
	t.Setenv("CHUNKRUN_NOTIFY_REDIS_ADDR", "redis:6379")

	cfg, _, err := Load(viper.New(), path)
	require.NoError(t, err)
	require.Equal(t, cache, cfg.CacheDir)
	require.Equal(t, "redis:6379", cfg.Notify.RedisAddr)
}

func TestLoad_WritesDefaultWhenMissing(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)

	cfg, used, err := Load(viper.New(), "")
	require.NoError(t, err)
	require.Equal(t, LocalConfigPath, used)
	require.FileExists(t, filepath.Join(dir, LocalConfigPath))
	require.Equal(t, process.DefaultPollInterval, cfg.PollInterval)
	require.Equal(t, "Rscript -f x.R", cfg.EngineTable().Command("Rscript", "x.R").String())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad context id", "context_id: ../escape\n"},
		{"negative poll", "poll_interval: -1s\n"},
		{"bad exporter", "tracing:\n  exporter: zipkin\n"},
		{"sample rate", "tracing:\n  sample_rate: 2\n"},
		{"empty engine", "engines:\n  python: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Load(viper.New(), writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	_, _, err := Load(viper.New(), writeConfig(t, "cache_dir: [unterminated\n"))
	require.ErrorContains(t, err, "reading config")
}

func TestValidateTracing(t *testing.T) {
	ok := tracing.DefaultConfig()
	require.NoError(t, ValidateTracing(ok))

	enabled := ok
	enabled.Enabled = true
	enabled.FilePath = ""
	require.Error(t, ValidateTracing(enabled), "file exporter needs a path")

	enabled.Exporter = tracing.ExporterOTLPHTTP
	enabled.OTLPEndpoint = ""
	require.Error(t, ValidateTracing(enabled))

	enabled.OTLPEndpoint = "http://collector:4318"
	require.NoError(t, ValidateTracing(enabled))
}
