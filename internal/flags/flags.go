// Package flags holds the feature flags read from configuration.
package flags

import (
	"maps"
	"slices"

	"github.com/zjrosen/chunkrun/internal/log"
)

const (
	// FlagDurableRegistry stores the chunk output registry in SQLite instead
	// of memory, so listings survive restarts.
	FlagDurableRegistry = "durable-registry"

	// FlagRegistryCache puts a read-through cache in front of the registry.
	FlagRegistryCache = "registry-cache"

	// FlagRedisNotify republishes notifications to Redis when an address is
	// configured.
	FlagRedisNotify = "redis-notify"
)

// Known lists every flag the binary understands.
var Known = []string{FlagDurableRegistry, FlagRegistryCache, FlagRedisNotify}

// Flags is an immutable set of flag values. The zero value and nil both
// report every flag as disabled.
type Flags struct {
	values map[string]bool
}

// New copies values into a Flags. Names outside Known are kept but logged.
func New(values map[string]bool) *Flags {
	f := &Flags{values: maps.Clone(values)}
	if f.values == nil {
		f.values = make(map[string]bool)
	}
	for name := range f.values {
		if !slices.Contains(Known, name) {
			log.Warn(log.CatConfig, "Unknown feature flag in config", "flag", name)
		}
	}
	log.Debug(log.CatConfig, "Feature flags initialized", "flags", f.values)
	return f
}

// Enabled reports whether name is set to true.
func (f *Flags) Enabled(name string) bool {
	if f == nil {
		return false
	}
	return f.values[name]
}

// All returns a copy of every configured flag.
func (f *Flags) All() map[string]bool {
	if f == nil || f.values == nil {
		return map[string]bool{}
	}
	return maps.Clone(f.values)
}
