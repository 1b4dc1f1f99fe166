// Package main runs a standalone worker that consumes tasks from the broker
// and executes them.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/tasker/internal/config"
	"github.com/phrazzld/tasker/internal/lifecycle"
	"github.com/phrazzld/tasker/internal/platform/broker"
	"github.com/phrazzld/tasker/internal/platform/logger"
	"github.com/phrazzld/tasker/internal/platform/postgres"
	"github.com/phrazzld/tasker/internal/platform/telemetry"
	"github.com/phrazzld/tasker/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("worker failed: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Database.InMemory {
		return errors.New("database.in_memory is not supported by the standalone worker; use the server with -with-worker")
	}

	providers, err := telemetry.Setup(ctx, cfg.Telemetry, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		if err := providers.Shutdown(context.Background()); err != nil {
			slog.Error("telemetry shutdown failed", "error", err)
		}
	}()

	l, err := logger.Setup(cfg.Server, logger.WithHandler(providers.LogHandler))
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	l = l.With(slog.String("process", "worker"))

	db, err := postgres.Open(ctx, cfg.Database, l)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			l.Error("error closing database connection", "error", err)
		}
	}()

	js, err := broker.Connect(ctx, cfg.Broker, l)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer func() {
		if err := js.Close(); err != nil {
			l.Error("error closing broker connection", "error", err)
		}
	}()

	engine, err := lifecycle.NewEngine(postgres.NewPostgresTaskStore(db, l), l)
	if err != nil {
		return fmt.Errorf("failed to create lifecycle engine: %w", err)
	}

	pool, err := worker.NewPool(engine, js, worker.NewSimulatedExecutor(cfg.Worker), cfg.Worker, l)
	if err != nil {
		return fmt.Errorf("failed to create worker pool: %w", err)
	}

	pool.Start(ctx)
	<-ctx.Done()
	l.Info("shutdown signal received, stopping worker pool")
	pool.Stop()
	return nil
}
