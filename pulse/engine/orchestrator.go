package engine

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/internal/util"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/schedule"
)

var (
	// ErrAlreadyRunning refuses a run while another run of the same job is in progress
	ErrAlreadyRunning = errors.New("job is already running")

	// ErrStopped is returned once the engine has been shut down
	ErrStopped = errors.New("engine stopped")
)

// Orchestrator runs a single firing of a job from start to settled outcome
type Orchestrator struct {
	jobs       JobStore
	attempts   AttemptLog
	dispatcher Dispatcher
	retry      *RetryPolicy
	sched      *Scheduler
	notifier   FailureNotifier
	clock      Clock
	loc        *time.Location
	running    *inflight
	metrics    *Metrics
	spawn      func(func())
	logger     *zap.SugaredLogger
}

// RunOnce executes one attempt of job.
//
// The attempt is recorded as started and the job marked running before any
// work is dispatched. Work failures are settled by the retry policy and
// reported through the returned attempt, not as an error. An error is
// returned only when the run is refused or its bookkeeping cannot be written.
func (o *Orchestrator) RunOnce(ctx context.Context, job *schedule.Job) (*schedule.Attempt, error) {
	ctx = logger.WithJobID(ctx, job.ID)
	log := logger.FromContext(ctx, o.logger)

	if !o.running.acquire(job.ID) {
		log.Warnw("Refusing concurrent run",
			logger.FieldJobType, job.Type,
		)
		o.metrics.attemptFinished(string(job.Type), outcomeRefused, 0)
		return nil, errors.Wrapf(ErrAlreadyRunning, "job %s", job.ID)
	}
	released := false
	release := func() {
		if !released {
			released = true
			o.running.release(job.ID)
		}
	}
	defer release()

	started := o.clock.Now()
	attempt := &schedule.Attempt{
		JobID:      job.ID,
		Status:     schedule.AttemptStarted,
		StartedAt:  started,
		RetryCount: job.CurrentRetries,
	}
	if err := o.attempts.Append(ctx, attempt); err != nil {
		log.Errorw("Failed to record attempt start",
			logger.FieldError, err,
		)
		return nil, errors.Wrapf(err, "failed to start attempt for job %s", job.ID)
	}

	prev := job.Status
	running := schedule.StatusRunning
	err := o.jobs.UpdateJob(ctx, job.ID, schedule.JobUpdate{
		Status:    &running,
		LastRunAt: &started,
		IfStatus:  &prev,
	})
	if err != nil {
		attempt.Finish(schedule.AttemptFailed, o.clock.Now())
		attempt.Error = "job could not be marked running: " + err.Error()
		if uerr := o.attempts.Update(ctx, attempt); uerr != nil {
			log.Errorw("Failed to close aborted attempt", logger.FieldAttemptID, attempt.ID, logger.FieldError, uerr)
		}
		log.Warnw("Attempt aborted before dispatch",
			logger.FieldAttemptID, attempt.ID,
			logger.FieldError, err,
		)
		return attempt, errors.Wrapf(err, "failed to mark job %s running", job.ID)
	}
	job.Status = running
	job.LastRunAt = &started

	log.Infow("Attempt started",
		logger.FieldAttemptID, attempt.ID,
		logger.FieldJobType, job.Type,
		"retry_count", job.CurrentRetries,
	)

	output, err := o.dispatcher.Dispatch(ctx, job)

	// the outcome is recorded even when ctx was cancelled mid-dispatch
	settleCtx := context.WithoutCancel(ctx)
	if err != nil {
		decision := o.retry.OnFailure(settleCtx, job, attempt, err)
		o.settleFailure(settleCtx, job, attempt, decision, err, release)
		return attempt, nil
	}

	o.succeed(settleCtx, job, attempt, output)
	return attempt, nil
}

// succeed records a completed attempt and moves the job on: one-time jobs
// complete, recurring jobs go back to scheduled with their next run time.
func (o *Orchestrator) succeed(ctx context.Context, job *schedule.Job, attempt *schedule.Attempt, output json.RawMessage) {
	log := logger.FromContext(ctx, o.logger)
	finished := o.clock.Now()
	attempt.Finish(schedule.AttemptCompleted, finished)
	attempt.Output = output

	zero := 0
	cleared := ""
	running := schedule.StatusRunning
	upd := schedule.JobUpdate{
		CurrentRetries: &zero,
		LastError:      &cleared,
		IfStatus:       &running,
	}

	var status schedule.Status
	if job.Kind == schedule.KindRecurring {
		status = schedule.StatusScheduled
		next, err := schedule.NextRun(job.Kind, job.Schedule, finished, o.loc)
		if err != nil {
			log.Warnw("Could not compute next run", logger.FieldError, err)
		} else {
			upd.NextRunAt = &next
		}
	} else {
		status = schedule.StatusCompleted
		upd.ClearNextRunAt = true
	}
	upd.Status = &status

	if err := o.jobs.UpdateJob(ctx, job.ID, upd); err != nil {
		if errors.IsConflictError(err) {
			log.Infow("Job left running state during attempt, keeping its new status",
				logger.FieldAttemptID, attempt.ID,
			)
		} else {
			log.Errorw("Failed to persist success outcome",
				logger.FieldAttemptID, attempt.ID,
				logger.FieldError, err,
			)
		}
	} else {
		upd.Apply(job)
	}

	if job.Kind != schedule.KindRecurring {
		o.sched.Cancel(job.ID)
	}

	if err := o.attempts.Update(ctx, attempt); err != nil {
		log.Errorw("Failed to record attempt outcome",
			logger.FieldAttemptID, attempt.ID,
			logger.FieldError, err,
		)
	}

	o.metrics.attemptFinished(string(job.Type), outcomeCompleted, finished.Sub(attempt.StartedAt))
	log.Infow("Attempt completed",
		logger.FieldAttemptID, attempt.ID,
		logger.FieldDurationMS, util.Deref(attempt.DurationMs, 0),
		"job_status", job.Status,
	)
}

// settleFailure acts on the retry policy's decision and frees the in-flight
// slot. A retry is registered before the slot is released, under the job's
// key lock, so the job is never seen idle between the two.
func (o *Orchestrator) settleFailure(ctx context.Context, job *schedule.Job, attempt *schedule.Attempt, decision RetryDecision, cause error, release func()) {
	duration := time.Duration(util.Deref(attempt.DurationMs, 0)) * time.Millisecond

	if !decision.Retry {
		release()
	}

	switch {
	case decision.Retry:
		o.sched.ArmRetry(job.ID, decision.Delay, release)
		o.metrics.retryArmed()
		o.metrics.attemptFinished(string(job.Type), outcomeRetrying, duration)

	case decision.Terminal:
		o.sched.Cancel(job.ID)
		o.metrics.terminalFailure()
		o.metrics.attemptFinished(string(job.Type), outcomeFailed, duration)

		if o.notifier != nil {
			snapshot := *job
			o.spawn(func() {
				o.notifier.Notify(ctx, &snapshot, cause)
			})
		}

	default:
		o.metrics.attemptFinished(string(job.Type), outcomeFailed, duration)
	}
}
