package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/phrazzld/tasker/internal/config"
	"github.com/phrazzld/tasker/internal/domain"
	"github.com/phrazzld/tasker/internal/redact"
	"github.com/phrazzld/tasker/internal/store"
)

// Reconciler periodically republishes tasks that have sat in PENDING for
// longer than a configured age, which covers publications that failed
// after the task was stored. Republishing a task that is already queued
// is harmless: only one worker can claim it.
type Reconciler struct {
	store      store.TaskStore
	dispatcher *Dispatcher
	interval   time.Duration
	age        time.Duration
	batch      int
	now        func() time.Time
	logger     *slog.Logger
}

// NewReconciler creates a Reconciler from cfg.
func NewReconciler(s store.TaskStore, d *Dispatcher, cfg config.DispatchConfig, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:      s,
		dispatcher: d,
		interval:   cfg.ReconcileInterval,
		age:        cfg.ReconcileAge,
		batch:      cfg.ReconcileBatch,
		now:        time.Now,
		logger:     logger.With(slog.String("component", "reconciler")),
	}
}

// Enabled reports whether Run does anything.
func (r *Reconciler) Enabled() bool {
	return r.interval > 0
}

// Run sweeps every interval until ctx is done. It returns immediately when
// the reconciler is disabled.
func (r *Reconciler) Run(ctx context.Context) {
	if !r.Enabled() {
		r.logger.Debug("reconciler disabled")
		return
	}

	r.logger.Info("reconciler started",
		slog.Duration("interval", r.interval),
		slog.Duration("age", r.age))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("reconcile sweep failed", slog.String("error", redact.Error(err)))
			}
		}
	}
}

// Sweep republishes one batch of stale PENDING tasks and reports how many
// were published.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.age)

	stale, err := r.store.ListByStatusBefore(ctx, domain.StatusPending, cutoff, r.batch)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	r.logger.Info("republishing stale pending tasks", slog.Int("count", len(stale)))

	published := 0
	for _, task := range stale {
		if err := r.dispatcher.Publish(ctx, task); err != nil {
			continue
		}
		published++
	}
	return published, nil
}
