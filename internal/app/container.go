// Package app wires the triger services using go.uber.org/dig.
package app

import (
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/dig"

	"triger/internal/bus"
	"triger/internal/command"
	"triger/internal/config"
	"triger/internal/dedup"
	"triger/internal/dispatch"
	"triger/internal/plugins"
	"triger/internal/security"
	"triger/internal/store"
)

const inboundBuffer = 100

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version string
	Started time.Time
}

// Container holds the resolved service singletons.
// Callers use the typed getters; they never need to import dig directly.
type Container struct {
	store      *store.SQLiteStore
	events     *bus.EventBus
	inbound    *bus.InMemoryBus
	registry   *command.Registry
	engine     *security.Engine
	cache      *dedup.Cache
	dispatcher *dispatch.Dispatcher
	bootstrap  *dispatch.Bootstrap
}

func (c *Container) Store() *store.SQLiteStore        { return c.store }
func (c *Container) Events() *bus.EventBus            { return c.events }
func (c *Container) Inbound() *bus.InMemoryBus        { return c.inbound }
func (c *Container) Registry() *command.Registry      { return c.registry }
func (c *Container) Engine() *security.Engine         { return c.engine }
func (c *Container) DedupCache() *dedup.Cache         { return c.cache }
func (c *Container) Dispatcher() *dispatch.Dispatcher { return c.dispatcher }
func (c *Container) Bootstrap() *dispatch.Bootstrap   { return c.bootstrap }

// Close closes the inbound bus and the config store.
func (c *Container) Close() error {
	c.inbound.Close()
	return c.store.Close()
}

// New builds and wires all services from cfg.
func New(cfg *config.Config, logger *slog.Logger, info BuildInfo) (*Container, error) {
	d := dig.New()

	providers := []any{
		func() *config.Config { return cfg },
		func() *slog.Logger { return logger },
		func() BuildInfo { return info },
		newStore,
		newEventBus,
		newInbound,
		newEngine,
		newRegistry,
		newCache,
		newDispatcher,
		newBootstrap,
	}
	for _, p := range providers {
		if err := d.Provide(p); err != nil {
			return nil, fmt.Errorf("wire services: %w", err)
		}
	}

	var result *Container
	err := d.Invoke(func(
		st *store.SQLiteStore,
		events *bus.EventBus,
		inbound *bus.InMemoryBus,
		registry *command.Registry,
		engine *security.Engine,
		cache *dedup.Cache,
		dispatcher *dispatch.Dispatcher,
		bootstrap *dispatch.Bootstrap,
	) {
		result = &Container{
			store:      st,
			events:     events,
			inbound:    inbound,
			registry:   registry,
			engine:     engine,
			cache:      cache,
			dispatcher: dispatcher,
			bootstrap:  bootstrap,
		}
	})
	if err != nil {
		return nil, fmt.Errorf("build services: %w", dig.RootCause(err))
	}
	return result, nil
}

func newStore(cfg *config.Config, logger *slog.Logger) (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(cfg.Store.DBPath, logger)
}

func newEventBus(logger *slog.Logger) *bus.EventBus {
	return bus.NewEventBus(logger)
}

func newInbound(logger *slog.Logger) *bus.InMemoryBus {
	return bus.New(inboundBuffer, logger)
}

func newEngine(st *store.SQLiteStore, logger *slog.Logger) *security.Engine {
	return security.NewEngine(st, logger)
}

// newRegistry registers the built-in modules. A module that fails to load
// is logged and skipped; the rest still register.
func newRegistry(cfg *config.Config, st *store.SQLiteStore, engine *security.Engine, info BuildInfo, logger *slog.Logger) (*command.Registry, error) {
	manifest, err := plugins.LoadManifest(cfg.Commands.ManifestPath)
	if err != nil {
		return nil, err
	}
	reg := command.NewRegistry(logger)
	deps := plugins.Deps{
		Store:    st,
		Commands: reg,
		Audit:    engine,
		Started:  info.Started,
		Version:  info.Version,
	}
	if err := plugins.Load(reg, deps, plugins.Builtins(), manifest, logger); err != nil {
		logger.Warn("some commands failed to load", "err", err)
	}
	return reg, nil
}

func newCache(cfg *config.Config) *dedup.Cache {
	return dedup.NewCache(time.Duration(cfg.Dispatch.DedupWindowSeconds) * time.Second)
}

func newDispatcher(
	cfg *config.Config,
	st *store.SQLiteStore,
	registry *command.Registry,
	engine *security.Engine,
	cache *dedup.Cache,
	events *bus.EventBus,
	inbound *bus.InMemoryBus,
	logger *slog.Logger,
) *dispatch.Dispatcher {
	return dispatch.New(dispatch.Config{
		Matcher:            registry,
		Snapshots:          config.NewSnapshotSource(st),
		Authorizer:         engine,
		Dedup:              cache,
		Events:             events,
		Bus:                inbound,
		Logger:             logger,
		MatchMode:          cfg.Dispatch.MatchMode,
		Concurrency:        cfg.General.MaxConcurrentMessages,
		NotifyFailures:     cfg.Dispatch.NotifyFailures,
		ReportErrorsToSelf: cfg.Dispatch.ReportErrorsToSelf,
	})
}

func newBootstrap(st *store.SQLiteStore, engine *security.Engine, logger *slog.Logger) *dispatch.Bootstrap {
	return dispatch.NewBootstrap(st, engine, logger)
}
