package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/zjrosen/chunkrun/internal/cachemanager"
	"github.com/zjrosen/chunkrun/internal/chunkexec"
	"github.com/zjrosen/chunkrun/internal/config"
	"github.com/zjrosen/chunkrun/internal/flags"
	"github.com/zjrosen/chunkrun/internal/log"
	"github.com/zjrosen/chunkrun/internal/notify"
	"github.com/zjrosen/chunkrun/internal/paths"
	"github.com/zjrosen/chunkrun/internal/process"
	"github.com/zjrosen/chunkrun/internal/registry"
	"github.com/zjrosen/chunkrun/internal/registry/sqlite"
	"github.com/zjrosen/chunkrun/internal/staging"
	"github.com/zjrosen/chunkrun/internal/tracing"
)

// runtime is everything a command needs to execute or inspect chunks.
type runtime struct {
	resolver *paths.Resolver
	registry registry.Registry
	notifier *notify.Notifier
	tracing  *tracing.Provider
	manager  *chunkexec.Manager

	closers []func() error
}

func newRuntime(cfg config.Config, fl *flags.Flags) (*runtime, error) {
	resolver, err := cfg.Resolver()
	if err != nil {
		return nil, err
	}
	rt := &runtime{resolver: resolver}

	reg, closeReg, err := openRegistry(cfg, fl)
	if err != nil {
		return nil, err
	}
	rt.registry = reg
	if closeReg != nil {
		rt.closers = append(rt.closers, closeReg)
	}

	rt.notifier = notify.New(notifySinks(cfg, fl)...)
	rt.closers = append(rt.closers, rt.notifier.Close)

	rt.tracing, err = tracing.NewProvider(cfg.Tracing)
	if err != nil {
		_ = rt.close(context.Background())
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}

	supervisor := process.NewSupervisor(process.WithPollInterval(cfg.PollInterval))
	rt.manager = chunkexec.NewManager(chunkexec.Deps{
		Resolver: resolver,
		Staging:  staging.NewStore(resolver),
		Registry: rt.registry,
		Notifier: rt.notifier,
		Tracer:   rt.tracing.Tracer(),
	}, supervisor)
	return rt, nil
}

// openRegistry picks the registry backend from the feature flags. The
// returned close func is nil when the backend holds no resources.
func openRegistry(cfg config.Config, fl *flags.Flags) (registry.Registry, func() error, error) {
	var (
		reg     registry.Registry = registry.NewMemory()
		closeFn func() error
	)
	if fl.Enabled(flags.FlagDurableRegistry) {
		db, err := sqlite.Open(cfg.Registry.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening registry: %w", err)
		}
		log.Info(log.CatRegistry, "Using durable registry", "path", cfg.Registry.DBPath)
		reg, closeFn = db.Registry(), db.Close
	}
	if fl.Enabled(flags.FlagRegistryCache) {
		cache := cachemanager.NewInMemory[[]registry.Entry]("registry",
			cachemanager.DefaultExpiration, cachemanager.DefaultCleanupInterval)
		reg = registry.NewCached(reg, cache)
	}
	return reg, closeFn, nil
}

func notifySinks(cfg config.Config, fl *flags.Flags) []notify.Sink {
	if !fl.Enabled(flags.FlagRedisNotify) {
		return nil
	}
	if cfg.Notify.RedisAddr == "" {
		log.Warn(log.CatNotify, "redis-notify enabled without notify.redis_addr; skipping")
		return nil
	}
	log.Info(log.CatNotify, "Publishing notifications to Redis",
		"addr", cfg.Notify.RedisAddr, "channel", cfg.Notify.RedisChannel)
	return []notify.Sink{notify.NewRedisSink(cfg.Notify.RedisAddr, cfg.Notify.RedisChannel)}
}

// close shuts everything down in reverse order of construction.
func (rt *runtime) close(ctx context.Context) error {
	var errs []error
	if rt.manager != nil {
		errs = append(errs, rt.manager.Shutdown(ctx))
	}
	if rt.tracing != nil {
		errs = append(errs, rt.tracing.Shutdown(ctx))
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	return errors.Join(errs...)
}
