package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/phrazzld/tasker/internal/api"
	"github.com/phrazzld/tasker/internal/config"
	"github.com/phrazzld/tasker/internal/dispatch"
	"github.com/phrazzld/tasker/internal/lifecycle"
	"github.com/phrazzld/tasker/internal/platform/broker"
	"github.com/phrazzld/tasker/internal/platform/logger"
	"github.com/phrazzld/tasker/internal/platform/memory"
	"github.com/phrazzld/tasker/internal/platform/postgres"
	"github.com/phrazzld/tasker/internal/platform/telemetry"
	"github.com/phrazzld/tasker/internal/queue"
	"github.com/phrazzld/tasker/internal/service"
	"github.com/phrazzld/tasker/internal/store"
	"github.com/phrazzld/tasker/internal/worker"
)

// channelBufferSize is the per-priority capacity of the in-memory transport.
const channelBufferSize = 1024

type options struct {
	// withWorker runs the worker pool alongside the HTTP server.
	withWorker bool
	// logOut and telemetryOut default to stdout when nil.
	logOut       io.Writer
	telemetryOut io.Writer
}

// transport is what the application needs from either the broker or the
// in-memory channels.
type transport interface {
	queue.Transport
	api.ConnectionChecker
}

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	telemetry *telemetry.Providers
	db        *sql.DB
	taskStore store.TaskStore
	transport transport
	closers   []func() error

	engine      *lifecycle.Engine
	dispatcher  *dispatch.Dispatcher
	reconciler  *dispatch.Reconciler
	taskService service.TaskService
	pool        *worker.Pool

	handler http.Handler

	stopReconciler context.CancelFunc
	reconcilerDone chan struct{}
}

// newApplication builds every component described by cfg. On error, whatever
// was already opened is released before returning.
func newApplication(ctx context.Context, cfg *config.Config, opts options) (_ *application, err error) {
	app := &application{config: cfg}
	defer func() {
		if err != nil {
			app.release(context.Background())
		}
	}()

	app.telemetry, err = telemetry.Setup(ctx, cfg.Telemetry, opts.telemetryOut)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}

	logOpts := []logger.Option{logger.WithHandler(app.telemetry.LogHandler)}
	if opts.logOut != nil {
		logOpts = append(logOpts, logger.WithOutput(opts.logOut))
	}
	app.logger, err = logger.Setup(cfg.Server, logOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	app.logger.Info("server configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Server.LogLevel),
		slog.Bool("in_memory", cfg.Database.InMemory),
		slog.Bool("telemetry", cfg.Telemetry.Enabled))

	if err = app.setupStorage(ctx); err != nil {
		return nil, err
	}

	app.engine, err = lifecycle.NewEngine(app.taskStore, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create lifecycle engine: %w", err)
	}

	app.dispatcher, err = dispatch.NewDispatcher(app.engine, app.transport, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}
	app.reconciler = dispatch.NewReconciler(app.taskStore, app.dispatcher, cfg.Dispatch, app.logger)

	app.taskService, err = service.NewTaskService(app.dispatcher, app.engine, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create task service: %w", err)
	}

	// Channel transport messages never leave the process.
	if opts.withWorker || cfg.Database.InMemory {
		app.pool, err = worker.NewPool(app.engine, app.transport,
			worker.NewSimulatedExecutor(cfg.Worker), cfg.Worker, app.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create worker pool: %w", err)
		}
	}

	app.handler = api.NewRouter(
		api.NewTaskHandler(app.taskService, app.logger),
		api.NewHealthHandler(app.taskStore, app.transport, app.logger),
		app.logger,
	)

	app.logger.Info("application initialized successfully")
	return app, nil
}

// setupStorage opens the task store and the message transport.
func (app *application) setupStorage(ctx context.Context) error {
	cfg := app.config

	if cfg.Database.InMemory {
		app.taskStore = memory.NewTaskStore()
		ch := queue.NewChannelTransport(channelBufferSize, app.logger)
		app.transport = ch
		app.closers = append(app.closers, func() error {
			ch.Close()
			return nil
		})
		app.logger.Warn("using in-memory storage; tasks are lost on restart")
		return nil
	}

	db, err := postgres.Open(ctx, cfg.Database, app.logger)
	if err != nil {
		return err
	}
	app.db = db
	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, db, app.logger); err != nil {
			return err
		}
	}
	app.taskStore = postgres.NewPostgresTaskStore(db, app.logger)

	js, err := broker.Connect(ctx, cfg.Broker, app.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	app.transport = js
	app.closers = append(app.closers, js.Close)
	return nil
}

// start launches the background components: the reconciler and, when
// configured, the worker pool. They run until cleanup, not until ctx is done,
// so that in-flight HTTP requests drain first.
func (app *application) start(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if app.pool != nil {
		app.pool.Start(ctx)
	}

	if app.reconciler.Enabled() {
		rctx, cancel := context.WithCancel(ctx)
		app.stopReconciler = cancel
		app.reconcilerDone = make(chan struct{})
		go func() {
			defer close(app.reconcilerDone)
			app.reconciler.Run(rctx)
		}()
	}
}

// cleanup stops background work and releases every resource.
func (app *application) cleanup(ctx context.Context) {
	if app.stopReconciler != nil {
		app.stopReconciler()
		<-app.reconcilerDone
	}
	if app.pool != nil {
		app.pool.Stop()
	}

	app.release(ctx)
	app.logger.Info("application shutdown completed")
}

// release closes the transport, the database and the telemetry providers,
// in that order.
func (app *application) release(ctx context.Context) {
	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		errs = append(errs, app.closers[i]())
	}
	app.closers = nil

	if app.db != nil {
		errs = append(errs, app.db.Close())
		app.db = nil
	}

	if app.telemetry != nil {
		errs = append(errs, app.telemetry.Shutdown(ctx))
	}

	if err := errors.Join(errs...); err != nil && app.logger != nil {
		app.logger.Error("error releasing resources", "error", err)
	}
}
