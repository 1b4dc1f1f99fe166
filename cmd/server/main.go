// Package main implements the entry point for the tasker API server,
// which accepts prioritized tasks over HTTP and hands them to workers
// through the broker.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/tasker/internal/config"
)

func main() {
	withWorker := flag.Bool("with-worker", false,
		"run the worker pool in this process (always on when database.in_memory is set)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	app, err := newApplication(ctx, cfg, options{withWorker: *withWorker, telemetryOut: os.Stderr})
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	if err := app.Run(ctx); err != nil {
		app.logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}
