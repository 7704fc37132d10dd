package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	audithook "github.com/medocr/docflow/audit_hook"
	"github.com/medocr/docflow/capability"
	"github.com/medocr/docflow/engine"
	"github.com/medocr/docflow/notify"
	"github.com/medocr/docflow/objectstore"
	relayhook "github.com/medocr/docflow/relay_hook"
	"github.com/medocr/docflow/store"
	"github.com/medocr/docflow/store/file"
	"github.com/medocr/docflow/store/memory"
	"github.com/medocr/docflow/store/postgres"
	redisstore "github.com/medocr/docflow/store/redis"
	"github.com/medocr/docflow/store/sqlite"
	"github.com/medocr/docflow/stream"
	"github.com/medocr/docflow/workflow"
)

// backend is a store the CLI can both run against and seed.
type backend interface {
	store.Store
	store.Seeder
}

// runtime holds the wired collaborators of one CLI invocation.
type runtime struct {
	cfg    *Config
	logger *slog.Logger

	store   backend
	defs    workflow.DefinitionStore
	runs    workflow.RunStore
	objects objectstore.Store
	broker  *stream.Broker
	exec    *engine.Executor

	closers []func() error
}

// openStore connects the configured backend and applies migrations
// when enabled.
func openStore(ctx context.Context, cfg *Config, logger *slog.Logger) (backend, error) {
	var (
		s   backend
		err error
	)
	switch cfg.Store.Driver {
	case driverSQLite:
		s, err = sqlite.Open(ctx, cfg.Store.DSN, sqlite.WithLogger(logger))
	case driverPostgres:
		s, err = postgres.New(ctx, cfg.Store.DSN, postgres.WithLogger(logger))
	default:
		s = memory.New()
	}
	if err != nil {
		return nil, err
	}
	if cfg.Store.Migrate {
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return s, nil
}

func newRuntime(ctx context.Context, cfg *Config, logger *slog.Logger) (_ *runtime, err error) {
	rt := &runtime{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	s, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	rt.store = s
	rt.closers = append(rt.closers, s.Close)

	if cfg.Store.Fixture != "" {
		fx, err := file.LoadFixtureFile(cfg.Store.Fixture)
		if err != nil {
			return nil, err
		}
		if err := fx.Seed(ctx, s); err != nil {
			return nil, fmt.Errorf("seed %s: %w", cfg.Store.Fixture, err)
		}
	}

	rt.defs = s
	if cfg.Workflows.Dir != "" {
		rt.defs = file.NewDir(cfg.Workflows.Dir)
	}
	rt.runs = s

	deps := capability.Deps{
		Documents:   s,
		Extractions: s,
		Recipients:  s,
		DedupTTL:    time.Duration(cfg.Redis.DedupeTTL),
		Logger:      logger,
	}

	if cfg.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.closers = append(rt.closers, client.Close)
		rs := redisstore.New(client, redisstore.WithKeyPrefix(cfg.Redis.KeyPrefix), redisstore.WithLogger(logger))
		if err := rs.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, cache and dedupe fall back to the store",
				slog.String("addr", cfg.Redis.Addr),
				slog.String("error", err.Error()),
			)
		}
		rt.runs = rs.RunCache(s, time.Duration(cfg.Redis.RunTTL))
		deps.Deduper = rs.Deduper()
	}

	if cfg.ObjectStore.Endpoint != "" {
		m, err := objectstore.NewMinio(cfg.ObjectStore)
		if err != nil {
			return nil, err
		}
		if err := m.EnsureBucket(ctx, cfg.ObjectStore.Region); err != nil {
			return nil, err
		}
		rt.objects = m
	} else {
		rt.objects = objectstore.NewMemory()
	}
	deps.Objects = rt.objects

	deps.Sink = notify.NewHTTPSink(
		notify.WithLogger(logger),
		notify.WithRateLimit(cfg.Notifications.RateLimit, cfg.Notifications.Burst),
	)
	var notifier notify.Notifier = notify.LogNotifier{Logger: logger}
	if cfg.Notifications.Endpoint != "" {
		notifier = notify.NewHTTPNotifier(deps.Sink, cfg.Notifications.Endpoint, cfg.Notifications.Secret)
	}
	deps.Notifier = notifier

	opts := []engine.Option{
		engine.WithConfig(cfg.EngineConfig()),
		engine.WithLogger(logger),
		engine.WithAuditSink(s),
		engine.WithRunStore(rt.runs),
		engine.WithErrorNotifier(notifier, s),
	}
	if cfg.Logging.Audit {
		opts = append(opts, engine.WithExtension(
			audithook.New(audithook.LogRecorder(logger), audithook.WithLogger(logger)),
		))
	}
	if cfg.Events.Endpoint != "" {
		sink := deps.Sink
		if deps.Deduper != nil {
			sink = notify.Deduplicated(sink, deps.Deduper, deps.DedupTTL, logger)
		}
		relayOpts := []relayhook.Option{relayhook.WithSecret(cfg.Events.Secret), relayhook.WithLogger(logger)}
		if len(cfg.Events.Types) > 0 {
			relayOpts = append(relayOpts, relayhook.WithEvents(cfg.Events.Types...))
		}
		opts = append(opts, engine.WithExtension(relayhook.New(sink, cfg.Events.Endpoint, relayOpts...)))
	}
	if cfg.Admission.enabled() {
		opts = append(opts, engine.WithAdmission(cfg.Admission.Manager()))
	}

	rt.broker = stream.NewBroker(logger)
	rt.closers = append(rt.closers, func() error {
		rt.broker.Close()
		return nil
	})
	opts = append(opts, engine.WithExtension(rt.broker))

	rt.exec = engine.New(rt.defs, s, capability.NewRegistry(deps), opts...)
	return rt, nil
}

// Close releases everything the runtime opened, newest first.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
