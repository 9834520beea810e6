package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rendis/graphflow/internal/httpapi"
	"github.com/rendis/graphflow/internal/logging"
	mcpserver "github.com/rendis/graphflow/pkg/mcp"
)

const shutdownTimeout = 15 * time.Second

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	listenAddr := fs.String("listen-addr", "", "TCP listen address (overrides config)")
	catalogPath := fs.String("catalog", "", "YAML catalog file or directory (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *catalogPath != "" {
		cfg.CatalogPath = *catalogPath
	}

	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.close(shutdownTimeout)

	if err := a.recoverInterrupted(ctx); err != nil {
		return err
	}
	if a.scheduler != nil {
		if err := a.scheduler.RecoverMissed(ctx); err != nil {
			logger.Warn("recover missed schedules", "error", err)
		}
		if err := a.scheduler.Start(ctx); err != nil {
			return err
		}
	}

	api := httpapi.NewServer(httpapi.Deps{
		Service:       a.service,
		Scheduler:     a.scheduler,
		Logger:        logger,
		DiagramBinDir: cfg.DiagramBinDir,
		Version:       version,
	})
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("graphflow listening", "addr", cfg.ListenAddr, "store", cfg.Store, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runMCP(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	catalogPath := fs.String("catalog", "", "YAML catalog file or directory (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if *catalogPath != "" {
		cfg.CatalogPath = *catalogPath
	}

	// stdout carries the protocol; logs go to stderr.
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.close(shutdownTimeout)

	srv := mcpserver.NewGraphServer(mcpserver.GraphServerDeps{
		Service:       a.service,
		Logger:        logger,
		Version:       version,
		DiagramBinDir: cfg.DiagramBinDir,
	})
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
