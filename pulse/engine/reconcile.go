package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/schedule"
)

// Reconciler periodically brings the handle table in line with the store.
// Jobs created or re-enabled by another process get armed; handles whose job
// was deleted, disabled or finished get dropped.
type Reconciler struct {
	engine   *Engine
	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *zap.SugaredLogger
	pulseLog *zap.SugaredLogger

	mu              sync.Mutex
	lastTickAt      time.Time
	ticksSinceStart int64
	lastArmed       int
	started         bool
}

func newReconciler(e *Engine, interval time.Duration, log *zap.SugaredLogger) *Reconciler {
	return &Reconciler{
		engine:   e,
		interval: interval,
		logger:   log,
		pulseLog: logger.AddPulseSymbol(log),
	}
}

// Start begins the reconcile loop
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.interval <= 0 {
		return
	}
	r.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go r.run(loopCtx)
	r.pulseLog.Infow("Reconcile ticker started", "interval", r.interval)
}

// Stop ends the loop and waits for an in-progress pass
func (r *Reconciler) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	r.wg.Wait()
	r.pulseLog.Infow("Reconcile ticker stopped")
}

func (r *Reconciler) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case tickTime := <-ticker.C:
			r.mu.Lock()
			r.lastTickAt = tickTime
			r.ticksSinceStart++
			r.mu.Unlock()

			armed, disarmed, err := r.engine.Reconcile(ctx)
			if err != nil {
				// reported at warn so a flapping database does not flood the log
				r.pulseLog.Warnw("Reconcile pass failed", logger.FieldError, err, "tick", r.ticksSinceStart)
			}
			r.logChange(armed, disarmed)
		}
	}
}

// logChange reports only passes that changed the handle table
func (r *Reconciler) logChange(armed, disarmed int) {
	handles, retries := r.engine.sched.Counts()

	r.mu.Lock()
	changed := armed > 0 || disarmed > 0 || handles != r.lastArmed
	r.lastArmed = handles
	r.mu.Unlock()

	if !changed {
		return
	}
	r.pulseLog.Infow("Reconciled",
		"armed", armed,
		"disarmed", disarmed,
		"handles", handles,
		"pending_retries", retries,
		"running", r.engine.running.count(),
	)
}

// Stats returns the ticker's counters for status output
func (r *Reconciler) Stats() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]interface{}{
		"interval":          r.interval.String(),
		"last_tick_at":      r.lastTickAt,
		"ticks_since_start": r.ticksSinceStart,
	}
}

// Status is a point-in-time view of the engine, served by health endpoints
type Status struct {
	Armed          int                    `json:"armed"`
	PendingRetries int                    `json:"pending_retries"`
	Running        int                    `json:"running"`
	Reconcile      map[string]interface{} `json:"reconcile"`
}

// Status reports the handle table size, pending retries and runs in progress
func (e *Engine) Status() Status {
	handles, retries := e.sched.Counts()
	return Status{
		Armed:          handles,
		PendingRetries: retries,
		Running:        e.running.count(),
		Reconcile:      e.reconciler.Stats(),
	}
}

// Reconcile runs one pass: arms active pending or scheduled jobs that have no
// handle, retry or run in progress, and disarms handles of jobs that should
// no longer fire.
func (e *Engine) Reconcile(ctx context.Context) (armed, disarmed int, err error) {
	jobs, err := e.jobs.ListDue(ctx, []schedule.Status{schedule.StatusPending, schedule.StatusScheduled}, true)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to list armable jobs")
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return armed, disarmed, ctx.Err()
		}
		ok, err := e.sched.ScheduleIdle(ctx, job, e.running.has)
		if err != nil {
			e.logger.Warnw("Reconcile could not arm job", logger.FieldJobID, job.ID, logger.FieldError, err)
			continue
		}
		if ok {
			armed++
		}
	}

	for _, id := range e.sched.Armed() {
		job, err := e.jobs.GetJob(ctx, id)
		switch {
		case errors.IsNotFoundError(err):
		case err != nil:
			continue
		case job.Active && !job.IsTerminal():
			continue
		}
		e.sched.Cancel(id)
		disarmed++
	}
	return armed, disarmed, nil
}
