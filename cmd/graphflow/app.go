package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rendis/graphflow/internal/catalog"
	"github.com/rendis/graphflow/internal/engine"
	"github.com/rendis/graphflow/internal/nodes"
	"github.com/rendis/graphflow/internal/review"
	"github.com/rendis/graphflow/internal/scheduler"
	"github.com/rendis/graphflow/internal/store"
	"github.com/rendis/graphflow/internal/streaming"
	"github.com/rendis/graphflow/internal/tools"
)

// app is the wired process: store, service and optional scheduler.
type app struct {
	cfg       Config
	logger    *slog.Logger
	store     store.Store
	hub       *streaming.MemoryHub
	service   *engine.Service
	scheduler *scheduler.Scheduler
}

// buildApp opens the store, registers built-in capabilities and the code
// review graph, and applies the configured catalog.
func buildApp(ctx context.Context, cfg Config, logger *slog.Logger, withScheduler bool) (*app, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, store: st, hub: streaming.NewMemoryHub()}
	if err := a.wire(ctx, withScheduler); err != nil {
		_ = st.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, withScheduler bool) error {
	nr := nodes.NewRegistry()
	tr := tools.NewRegistry()
	if err := nodes.RegisterBuiltins(nr); err != nil {
		return fmt.Errorf("register builtin nodes: %w", err)
	}
	if err := tools.RegisterBuiltins(tr); err != nil {
		return fmt.Errorf("register builtin tools: %w", err)
	}
	if err := review.Register(tr, nr); err != nil {
		return fmt.Errorf("register code review: %w", err)
	}

	svc, err := engine.NewService(engine.ServiceConfig{
		MaxSteps: a.cfg.MaxSteps,
		PoolSize: a.cfg.PoolSize,
	}, nr, tr, a.store, a.hub, a.logger)
	if err != nil {
		return err
	}
	a.service = svc

	if _, err := svc.CreateGraph(ctx, review.Definition()); err != nil {
		return fmt.Errorf("register code review graph: %w", err)
	}

	if withScheduler && a.cfg.Scheduler {
		a.scheduler = scheduler.NewScheduler(a.store, svc, a.logger, scheduler.Options{
			Interval: a.cfg.schedulerInterval(),
			Hub:      a.hub,
		})
	}

	if a.cfg.CatalogPath != "" {
		c, err := catalog.Load(a.cfg.CatalogPath)
		if err != nil {
			return err
		}
		var jobs catalog.JobAdder
		if a.scheduler != nil {
			jobs = a.scheduler
		}
		if err := catalog.Apply(ctx, c, svc, jobs, a.logger); err != nil {
			return err
		}
	}
	return nil
}

func openStore(ctx context.Context, cfg Config) (store.Store, error) {
	if cfg.Store == "memory" {
		return store.NewMemoryStore(cfg.RunCapacity), nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	st, err := store.NewLibSQLStore(cfg.dsn())
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

// recoverInterrupted fails runs a previous serve process left running. Only
// serve calls it: mcp and run processes may share the store with a live server.
func (a *app) recoverInterrupted(ctx context.Context) error {
	n, err := a.service.RecoverInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("recover interrupted runs: %w", err)
	}
	if n > 0 {
		a.logger.Warn("marked interrupted runs as failed", "count", n)
	}
	return nil
}

// close drains background runs, stops the scheduler and closes the store.
func (a *app) close(timeout time.Duration) {
	if a.scheduler != nil {
		_ = a.scheduler.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.service.Shutdown(ctx); err != nil {
		a.logger.Warn("background runs cancelled at shutdown", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", "error", err)
	}
}
