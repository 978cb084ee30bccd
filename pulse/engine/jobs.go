package engine

import (
	"context"
	"encoding/json"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/schedule"
)

// JobRequest describes a job to create
type JobRequest struct {
	Title       string
	Description string
	Type        schedule.JobType
	Kind        schedule.Kind
	Schedule    string
	Payload     json.RawMessage
	MaxRetries  *int // nil uses the configured default
	CreatedBy   string
	Inactive    bool // store without arming
}

// CreateJob stores a new job and arms it.
//
// Malformed definitions are rejected before anything is stored, except for a
// schedule that does not parse: that job is stored and marked failed, and the
// InvalidScheduleError is returned alongside it.
func (e *Engine) CreateJob(ctx context.Context, req JobRequest) (*schedule.Job, error) {
	job := &schedule.Job{
		Title:       req.Title,
		Description: req.Description,
		Type:        req.Type,
		Kind:        req.Kind,
		Schedule:    req.Schedule,
		Payload:     req.Payload,
		MaxRetries:  e.cfg.DefaultMaxRetries,
		Active:      !req.Inactive,
		CreatedBy:   req.CreatedBy,
	}
	if req.MaxRetries != nil {
		job.MaxRetries = *req.MaxRetries
	}
	if err := e.checkDefinition(job); err != nil {
		return nil, err
	}

	if err := e.jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	e.logger.Infow("Job created",
		logger.FieldJobID, job.ID,
		logger.FieldJobType, job.Type,
		logger.FieldScheduleKind, job.Kind,
		logger.FieldSchedule, job.Schedule,
		logger.FieldMaxRetries, job.MaxRetries,
		logger.FieldOwner, job.CreatedBy,
	)

	if !job.Active {
		return job, nil
	}
	if err := e.sched.Schedule(ctx, job); err != nil {
		return job, err
	}
	return job, nil
}

// UpdateJob edits a job definition. Running jobs cannot be edited.
// Changing the schedule, its kind or the active flag re-arms the job.
// Status and retry bookkeeping in upd are ignored.
func (e *Engine) UpdateJob(ctx context.Context, jobID string, upd schedule.JobUpdate) (*schedule.Job, error) {
	job, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == schedule.StatusRunning || e.running.has(jobID) {
		return nil, errors.NewConflictError("job %s is running and cannot be edited", jobID)
	}

	edit := schedule.JobUpdate{
		Title:       upd.Title,
		Description: upd.Description,
		Type:        upd.Type,
		Schedule:    upd.Schedule,
		Kind:        upd.Kind,
		Payload:     upd.Payload,
		MaxRetries:  upd.MaxRetries,
		Active:      upd.Active,
	}
	if edit.Empty() {
		return job, nil
	}

	next := *job
	edit.Apply(&next)
	if err := e.checkDefinition(&next); err != nil {
		return nil, err
	}

	prev := job.Status
	edit.IfStatus = &prev
	if err := e.jobs.UpdateJob(ctx, jobID, edit); err != nil {
		return nil, err
	}

	rearm := next.Schedule != job.Schedule || next.Kind != job.Kind || next.Active != job.Active
	switch {
	case !next.Active:
		e.sched.Cancel(jobID)
	case rearm:
		return e.ScheduleJob(ctx, jobID)
	}
	return e.jobs.GetJob(ctx, jobID)
}

// Cancel marks the job cancelled and disarms it.
// Completed, failed and cancelled jobs cannot be cancelled.
func (e *Engine) Cancel(ctx context.Context, jobID string) (*schedule.Job, error) {
	job, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.IsTerminal() {
		return nil, errors.NewConflictError("job %s is already %s", jobID, job.Status)
	}

	cancelled := schedule.StatusCancelled
	prev := job.Status
	upd := schedule.JobUpdate{Status: &cancelled, ClearNextRunAt: true, IfStatus: &prev}
	if err := e.jobs.UpdateJob(ctx, jobID, upd); err != nil {
		return nil, err
	}
	e.sched.Cancel(jobID)
	upd.Apply(job)

	e.logger.Infow("Job cancelled", logger.FieldJobID, jobID, "previous_status", prev)
	return job, nil
}

// DeleteJob disarms and removes a job with its attempt history
func (e *Engine) DeleteJob(ctx context.Context, jobID string) error {
	if e.running.has(jobID) {
		return errors.NewConflictError("job %s is running and cannot be deleted", jobID)
	}
	e.sched.Cancel(jobID)
	return e.jobs.DeleteJob(ctx, jobID)
}

// GetJob returns a stored job
func (e *Engine) GetJob(ctx context.Context, jobID string) (*schedule.Job, error) {
	return e.jobs.GetJob(ctx, jobID)
}

// ListJobs returns jobs matching filter, newest first
func (e *Engine) ListJobs(ctx context.Context, filter schedule.ListFilter) ([]*schedule.Job, error) {
	return e.jobs.ListJobs(ctx, filter)
}

// Attempts returns a job's execution history, newest first
func (e *Engine) Attempts(ctx context.Context, jobID string, limit, offset int) ([]*schedule.Attempt, error) {
	if _, err := e.jobs.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return e.attempts.ListByJob(ctx, jobID, limit, offset)
}

// checkDefinition validates job, letting an unparsable schedule through so
// that it is recorded on the job when arming fails
func (e *Engine) checkDefinition(job *schedule.Job) error {
	if err := job.Validate(); err != nil {
		var invalid *schedule.InvalidScheduleError
		if !errors.As(err, &invalid) {
			return err
		}
	}
	if !e.dispatcher.Supports(job.Type) {
		return &schedule.UnsupportedJobTypeError{Type: job.Type}
	}
	return nil
}
