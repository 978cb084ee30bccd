package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/schedule"
)

// Backoff returns the delay before the next retry.
// retryCount is the number of retries already performed, so the first retry
// waits base, the second 2×base, and so on up to limit.
func Backoff(retryCount int, base, limit time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= 62 || base > (1<<62)>>uint(retryCount) {
		if limit > 0 {
			return limit
		}
		return base
	}
	d := base << uint(retryCount)
	if limit > 0 && d > limit {
		return limit
	}
	return d
}

// RetryDecision is what the retry policy concluded about a failed attempt
type RetryDecision struct {
	Retry    bool          // a delayed re-run should be armed
	Delay    time.Duration // how long to wait before it
	Count    int           // the job's retry count after this failure
	Terminal bool          // the job is now failed with no further automatic runs
}

// RetryPolicy turns a failed attempt into either a retry or a terminal failure
type RetryPolicy struct {
	jobs     JobStore
	attempts AttemptLog
	clock    Clock
	base     time.Duration
	limit    time.Duration
	logger   *zap.SugaredLogger
}

// NewRetryPolicy creates a policy backing off from base up to limit
func NewRetryPolicy(jobs JobStore, attempts AttemptLog, clock Clock, base, limit time.Duration, logger *zap.SugaredLogger) *RetryPolicy {
	if clock == nil {
		clock = realClock{}
	}
	return &RetryPolicy{
		jobs:     jobs,
		attempts: attempts,
		clock:    clock,
		base:     base,
		limit:    limit,
		logger:   logger,
	}
}

// OnFailure records the failed attempt and settles the job.
// MaxRetries counts retries after the first attempt, so MaxRetries 2 allows
// three runs with Backoff(0) and then Backoff(1) between them.
//
// The job's retry count is read back from the store and incremented. While it
// stays within MaxRetries the job returns to pending and the attempt is
// recorded as retrying. Otherwise, or for errors that would fail identically on
// every attempt, the job is marked failed. Job writes are conditional on the
// job still running; if it was cancelled meanwhile the zero decision is
// returned.
func (p *RetryPolicy) OnFailure(ctx context.Context, job *schedule.Job, attempt *schedule.Attempt, cause error) RetryDecision {
	attempt.Finish(schedule.AttemptFailed, p.clock.Now())
	attempt.Error = cause.Error()

	current := job
	if stored, err := p.jobs.GetJob(ctx, job.ID); err != nil {
		p.logger.Warnw("Could not read retry count, using in-memory job",
			logger.FieldJobID, job.ID,
			logger.FieldError, err,
		)
	} else {
		current = stored
	}

	count := current.CurrentRetries + 1
	retryable := schedule.IsRetryable(cause)
	running := schedule.StatusRunning

	var decision RetryDecision
	var upd schedule.JobUpdate

	if retryable && count <= current.MaxRetries {
		status := schedule.StatusPending
		msg := cause.Error()
		upd = schedule.JobUpdate{
			Status:         &status,
			CurrentRetries: &count,
			LastError:      &msg,
			IfStatus:       &running,
		}
		decision = RetryDecision{
			Retry: true,
			Delay: Backoff(count-1, p.base, p.limit),
			Count: count,
		}
	} else {
		status := schedule.StatusFailed
		performed := count - 1
		msg := cause.Error()
		if retryable {
			msg = "max retries exceeded: " + msg
		}
		upd = schedule.JobUpdate{
			Status:         &status,
			CurrentRetries: &performed,
			LastError:      &msg,
			ClearNextRunAt: true,
			IfStatus:       &running,
		}
		decision = RetryDecision{Terminal: true, Count: performed}
	}

	if err := p.jobs.UpdateJob(ctx, job.ID, upd); err != nil {
		if errors.IsConflictError(err) {
			p.logger.Infow("Job left running state during attempt, not retrying",
				logger.FieldJobID, job.ID,
				logger.FieldAttemptID, attempt.ID,
			)
			decision = RetryDecision{}
		} else {
			p.logger.Errorw("Failed to persist failure outcome",
				logger.FieldJobID, job.ID,
				logger.FieldAttemptID, attempt.ID,
				logger.FieldError, err,
			)
		}
	}
	if decision.Retry {
		attempt.Status = schedule.AttemptRetrying
	}
	if err := p.attempts.Update(ctx, attempt); err != nil {
		p.logger.Errorw("Failed to record attempt outcome",
			logger.FieldJobID, job.ID,
			logger.FieldAttemptID, attempt.ID,
			logger.FieldError, err,
		)
	}

	if decision.Retry || decision.Terminal {
		upd.Apply(job)
	}

	p.logger.Warnw("Attempt failed",
		logger.FieldJobID, job.ID,
		logger.FieldAttemptID, attempt.ID,
		logger.FieldError, cause,
		logger.FieldErrorType, schedule.ErrorType(cause),
		"retryable", retryable,
		"retry_count", count,
		logger.FieldMaxRetries, current.MaxRetries,
		logger.FieldRetry, decision.Retry,
		logger.FieldDelay, decision.Delay,
		"terminal", decision.Terminal,
	)
	return decision
}
