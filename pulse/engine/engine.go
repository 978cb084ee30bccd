// Package engine turns persisted job definitions into armed timers and runs
// each firing to a settled outcome.
//
// The Scheduler owns the table of armed handles, the Orchestrator executes a
// single attempt, and the RetryPolicy decides what follows a failure. Engine
// wires them together and is what callers use:
//
//	eng := engine.New(jobStore, attemptStore, registry, engine.WithLogger(log))
//	if err := eng.Recover(ctx); err != nil {
//	    log.Warnw("Some jobs could not be recovered", logger.FieldError, err)
//	}
//	eng.Start(ctx)
//	defer eng.Stop(shutdownCtx)
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/teranos/cadence/am"
	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/schedule"
)

// Config tunes the engine
type Config struct {
	RetryBase         time.Duration
	RetryCap          time.Duration
	DefaultMaxRetries int
	ReconcileInterval time.Duration // 0 disables the reconcile ticker
	Location          *time.Location
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		RetryBase:         time.Second,
		RetryCap:          30 * time.Second,
		DefaultMaxRetries: 3,
		ReconcileInterval: 5 * time.Second,
		Location:          time.UTC,
	}
}

// ConfigFrom builds an engine Config from the [engine] config section
func ConfigFrom(c am.EngineConfig) (Config, error) {
	loc, err := c.Location()
	if err != nil {
		return Config{}, err
	}
	return Config{
		RetryBase:         c.RetryBase(),
		RetryCap:          c.RetryCap(),
		DefaultMaxRetries: c.DefaultMaxRetries,
		ReconcileInterval: time.Duration(c.ReconcileIntervalSeconds) * time.Second,
		Location:          loc,
	}, nil
}

// Option customizes an Engine
type Option func(*Engine)

// WithConfig replaces the default configuration
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithClock substitutes the time source, for tests
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the engine logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records engine activity in m
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithNotifier sets who is told about terminal failures
func WithNotifier(n FailureNotifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// Passive makes the engine persist schedules without arming timers. Use it
// in short-lived clients that share the store with a running daemon; the
// daemon's reconcile pass arms whatever they schedule.
func Passive() Option {
	return func(e *Engine) { e.passive = true }
}

// Engine is the scheduling and execution engine
type Engine struct {
	cfg        Config
	jobs       JobStore
	attempts   AttemptLog
	dispatcher Dispatcher
	notifier   FailureNotifier
	clock      Clock
	metrics    *Metrics
	logger     *zap.SugaredLogger
	passive    bool

	sched      *Scheduler
	retry      *RetryPolicy
	orch       *Orchestrator
	running    *inflight
	reconciler *Reconciler

	// runCtx is handed to every timer-driven run; Stop cancels it last
	runCtx    context.Context
	cancelRun context.CancelFunc

	mu        sync.Mutex // guards stopped and wg.Add
	stopped   bool
	wg        sync.WaitGroup
	recovered atomic.Bool
}

// New assembles an engine over the given stores and dispatcher
func New(jobs JobStore, attempts AttemptLog, dispatcher Dispatcher, opts ...Option) *Engine {
	e := &Engine{
		cfg:        DefaultConfig(),
		jobs:       jobs,
		attempts:   attempts,
		dispatcher: dispatcher,
		clock:      realClock{},
		logger:     zap.NewNop().Sugar(),
		running:    newInflight(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.Location == nil {
		e.cfg.Location = time.UTC
	}

	e.runCtx, e.cancelRun = context.WithCancel(context.Background())

	e.sched = NewScheduler(jobs, e.clock, e.cfg.Location, dispatcher.Supports, e.trigger, e.logger.Named("scheduler"))
	e.sched.passive = e.passive
	e.retry = NewRetryPolicy(jobs, attempts, e.clock, e.cfg.RetryBase, e.cfg.RetryCap, e.logger.Named("retry"))
	e.orch = &Orchestrator{
		jobs:       jobs,
		attempts:   attempts,
		dispatcher: dispatcher,
		retry:      e.retry,
		sched:      e.sched,
		notifier:   e.notifier,
		clock:      e.clock,
		loc:        e.cfg.Location,
		running:    e.running,
		metrics:    e.metrics,
		spawn:      e.detach,
		logger:     e.logger.Named("orchestrator"),
	}
	e.reconciler = newReconciler(e, e.cfg.ReconcileInterval, e.logger.Named("reconcile"))

	e.metrics.registerGauges(
		func() int { h, _ := e.sched.Counts(); return h },
		func() int { _, r := e.sched.Counts(); return r },
		e.running.count,
	)
	return e
}

// Scheduler exposes the handle table, mainly for inspection
func (e *Engine) Scheduler() *Scheduler { return e.sched }

// Start begins the reconcile ticker, if configured
func (e *Engine) Start(ctx context.Context) {
	if e.cfg.ReconcileInterval > 0 {
		e.reconciler.Start(ctx)
	}
	e.logger.Infow("Engine started",
		"reconcile_interval", e.cfg.ReconcileInterval,
		"timezone", e.cfg.Location.String(),
	)
}

// Stop disarms every timer and waits for in-flight runs to finish.
// When ctx expires first, running work is cancelled and awaited.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.mu.Unlock()

	e.reconciler.Stop()
	e.sched.Stop()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		e.logger.Warnw("Shutdown deadline reached, cancelling running jobs", "running", e.running.count())
		e.cancelRun()
		<-done
		err = ctx.Err()
	}
	e.cancelRun()
	e.logger.Infow("Engine stopped")
	return err
}

// ScheduleJob (re)arms a stored job. Terminal jobs are rescheduled with a
// fresh retry count.
func (e *Engine) ScheduleJob(ctx context.Context, jobID string) (*schedule.Job, error) {
	job, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == schedule.StatusRunning || e.running.has(jobID) {
		return nil, errors.Wrapf(ErrAlreadyRunning, "job %s", jobID)
	}
	if !job.Active {
		e.sched.Cancel(jobID)
		return nil, errors.NewConflictError("job %s is inactive", jobID)
	}
	if job.IsTerminal() && (job.CurrentRetries != 0 || job.LastError != "") {
		zero := 0
		cleared := ""
		upd := schedule.JobUpdate{CurrentRetries: &zero, LastError: &cleared}
		if err := e.jobs.UpdateJob(ctx, jobID, upd); err != nil {
			return nil, err
		}
		upd.Apply(job)
	}
	if err := e.sched.Schedule(ctx, job); err != nil {
		return job, err
	}
	return job, nil
}

// CancelJob stops the job's timer and any pending retry.
// Cancelling a job with nothing armed does nothing.
func (e *Engine) CancelJob(jobID string) {
	e.sched.Cancel(jobID)
}

// ExecuteNow runs the job immediately in the caller's goroutine.
// Running and terminal jobs are refused.
func (e *Engine) ExecuteNow(ctx context.Context, jobID string) (*schedule.Attempt, error) {
	job, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == schedule.StatusRunning {
		return nil, errors.Wrapf(ErrAlreadyRunning, "job %s", jobID)
	}
	if job.IsTerminal() {
		return nil, errors.WithHint(
			errors.NewConflictError("job %s is %s", jobID, job.Status),
			"reschedule the job before running it again",
		)
	}
	e.metrics.fired(reasonManual)
	return e.orch.RunOnce(ctx, job)
}

// Recover rebuilds the handle table after a restart. It runs once per engine.
//
// Jobs left running by a previous process go back to pending. Every active
// pending or scheduled job is then armed again; one-time jobs whose instant
// has passed fire straight away. Failures are collected and recovery carries
// on with the remaining jobs.
func (e *Engine) Recover(ctx context.Context) error {
	if !e.recovered.CompareAndSwap(false, true) {
		e.logger.Warnw("Recover already ran, ignoring")
		return nil
	}
	log := logger.AddPulseOpenSymbol(e.logger)
	var result *multierror.Error

	orphans, err := e.jobs.ListDue(ctx, []schedule.Status{schedule.StatusRunning}, false)
	if err != nil {
		return errors.Wrap(err, "failed to list interrupted jobs")
	}
	reset := 0
	for _, job := range orphans {
		if e.running.has(job.ID) {
			continue
		}
		pending := schedule.StatusPending
		running := schedule.StatusRunning
		msg := "interrupted by engine restart"
		err := e.jobs.UpdateJob(ctx, job.ID, schedule.JobUpdate{
			Status:    &pending,
			LastError: &msg,
			IfStatus:  &running,
		})
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "job %s", job.ID))
			continue
		}
		reset++
	}

	jobs, err := e.jobs.ListDue(ctx, []schedule.Status{schedule.StatusPending, schedule.StatusScheduled}, true)
	if err != nil {
		result = multierror.Append(result, errors.Wrap(err, "failed to list jobs to recover"))
		return result.ErrorOrNil()
	}

	armed := 0
	for _, job := range jobs {
		if err := e.sched.Schedule(ctx, job); err != nil {
			log.Warnw("Job not recovered",
				logger.FieldJobID, job.ID,
				logger.FieldError, err,
			)
			result = multierror.Append(result, errors.Wrapf(err, "job %s", job.ID))
			continue
		}
		armed++
	}

	log.Infow("Recovery complete",
		"interrupted_reset", reset,
		"armed", armed,
		"failed", len(jobs)-armed,
	)
	return result.ErrorOrNil()
}

// trigger is the scheduler's fire callback
func (e *Engine) trigger(jobID, reason string) {
	e.background(func() { e.fire(jobID, reason) })
}

// background runs f on a tracked goroutine so Stop can wait for it.
// After Stop, f is not run and false is returned.
func (e *Engine) background(f func()) bool {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return false
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		f()
	}()
	return true
}

// detach runs f in the background, tracked while the engine is live.
// Work handed over during shutdown still runs, untracked.
func (e *Engine) detach(f func()) {
	if !e.background(f) {
		go f()
	}
}

// fire reloads the job and runs it unless it has stopped being armable.
// A firing that finds the job running, or a pending retry it would
// pre-empt, is dropped; see skipFiring.
func (e *Engine) fire(jobID, reason string) {
	ctx := e.runCtx
	log := logger.AddPulseSymbol(e.logger)

	job, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			log.Infow("Job vanished, disarming", logger.FieldJobID, jobID)
			e.sched.Cancel(jobID)
			return
		}
		log.Errorw("Failed to load job for firing",
			logger.FieldJobID, jobID,
			"reason", reason,
			logger.FieldError, err,
		)
		return
	}

	if !job.Active || job.IsTerminal() {
		log.Infow("Skipping firing of disarmed job",
			logger.FieldJobID, jobID,
			logger.FieldStatus, job.Status,
			"active", job.Active,
		)
		e.sched.Cancel(jobID)
		return
	}

	if job.Status == schedule.StatusRunning {
		e.skipFiring(ctx, job, reason, "overlapping run skipped")
		return
	}
	if reason != reasonRetry && e.sched.HasRetry(jobID) {
		e.skipFiring(ctx, job, reason, "retry pending, firing skipped")
		return
	}

	e.metrics.fired(reason)
	log.Debugw("Job fired", logger.FieldJobID, jobID, "reason", reason)

	if _, err := e.orch.RunOnce(ctx, job); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			return
		}
		log.Errorw("Run did not complete",
			logger.FieldJobID, jobID,
			logger.FieldError, err,
		)
	}
}

// skipFiring drops a firing that cannot run. Timer firings still leave a
// failed attempt so every scheduled firing shows up in the job's history;
// duplicates raised by reconcile or recovery are only logged.
func (e *Engine) skipFiring(ctx context.Context, job *schedule.Job, reason, why string) {
	log := logger.AddPulseSymbol(e.logger)
	log.Warnw("Skipping firing",
		logger.FieldJobID, job.ID,
		logger.FieldStatus, job.Status,
		"reason", reason,
		"why", why,
	)
	if reason != reasonTimer {
		return
	}

	now := e.clock.Now()
	attempt := &schedule.Attempt{
		JobID:      job.ID,
		StartedAt:  now,
		Error:      why,
		RetryCount: job.CurrentRetries,
	}
	attempt.Finish(schedule.AttemptFailed, now)
	if err := e.attempts.Append(ctx, attempt); err != nil {
		log.Errorw("Failed to record skipped firing",
			logger.FieldJobID, job.ID,
			logger.FieldError, err,
		)
	}
	e.metrics.attemptFinished(string(job.Type), outcomeSkipped, 0)
}
