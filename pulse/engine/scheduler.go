package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/schedule"
)

// Reasons a job fires, used in logs and metrics
const (
	reasonTimer   = "timer"
	reasonOverdue = "overdue"
	reasonRetry   = "retry"
	reasonManual  = "manual"
)

// handleKind discriminates the two kinds of armed handle
type handleKind int

const (
	handleOneShot handleKind = iota
	handleRecurring
)

func (k handleKind) String() string {
	if k == handleRecurring {
		return "recurring"
	}
	return "one-shot"
}

// handle is the armed firing mechanism for one job. Fields are only
// touched while holding the job's key lock.
type handle struct {
	kind  handleKind
	timer Timer
	cron  cron.Schedule // recurring only
	next  time.Time
}

// retryTimer is a pending delayed re-run, kept apart from the handle table
type retryTimer struct {
	timer Timer
	at    time.Time
}

// Scheduler owns the table of armed handles.
//
// Every mutation for a job ID happens under that ID's key lock, so schedule,
// cancel and a firing timer never interleave for the same job. A timer whose
// handle has been replaced or removed does nothing when it fires.
type Scheduler struct {
	clock    Clock
	loc      *time.Location
	jobs     JobStore
	supports func(schedule.JobType) bool
	fire     func(jobID, reason string)
	logger   *zap.SugaredLogger

	// passive schedulers persist schedules but never arm timers or fire,
	// leaving that to a daemon sharing the store
	passive bool

	locks   *keyedMutex
	mu      sync.Mutex // guards the maps and stopped
	handles map[string]*handle
	retries map[string]*retryTimer
	stopped bool
}

// NewScheduler creates a scheduler. fire is invoked, in its own goroutine,
// whenever a handle or retry timer comes due.
func NewScheduler(jobs JobStore, clock Clock, loc *time.Location, supports func(schedule.JobType) bool, fire func(jobID, reason string), logger *zap.SugaredLogger) *Scheduler {
	if clock == nil {
		clock = realClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		clock:    clock,
		loc:      loc,
		jobs:     jobs,
		supports: supports,
		fire:     fire,
		logger:   logger,
		locks:    newKeyedMutex(),
		handles:  make(map[string]*handle),
		retries:  make(map[string]*retryTimer),
	}
}

// Schedule (re)arms job. Any existing handle for the job is replaced.
//
// One-time jobs whose instant has passed fire immediately. Schedules that
// cannot be armed mark the job failed and return the cause. On success the
// job is persisted as scheduled with its next run time, provided its status
// still matches job.Status.
func (s *Scheduler) Schedule(ctx context.Context, job *schedule.Job) error {
	unlock := s.locks.Lock(job.ID)
	defer unlock()
	return s.scheduleLocked(ctx, job)
}

// ScheduleIdle arms job only if nothing is armed or pending for it and busy
// does not report a run in progress. The check and the arming happen under
// the job's key lock, so a run handing over to its retry is never seen idle.
func (s *Scheduler) ScheduleIdle(ctx context.Context, job *schedule.Job, busy func(jobID string) bool) (bool, error) {
	unlock := s.locks.Lock(job.ID)
	defer unlock()

	s.mu.Lock()
	_, armed := s.handles[job.ID]
	_, retrying := s.retries[job.ID]
	s.mu.Unlock()
	if armed || retrying || (busy != nil && busy(job.ID)) {
		return false, nil
	}
	return true, s.scheduleLocked(ctx, job)
}

func (s *Scheduler) scheduleLocked(ctx context.Context, job *schedule.Job) error {
	s.disarmLocked(job.ID)

	if s.isStopped() {
		return ErrStopped
	}

	if s.supports != nil && !s.supports(job.Type) {
		return s.failLocked(ctx, job, &schedule.UnsupportedJobTypeError{Type: job.Type})
	}

	now := s.clock.Now()
	var h *handle
	var nextRun time.Time
	fireNow := false

	switch job.Kind {
	case schedule.KindOneTime:
		at, err := schedule.ParseRunAt(job.Schedule)
		if err != nil {
			return s.failLocked(ctx, job, err)
		}
		nextRun = at.UTC()
		delay := at.Sub(now)
		switch {
		case s.passive:
		case delay <= 0:
			fireNow = true
		default:
			h = &handle{kind: handleOneShot, next: nextRun}
			h.timer = s.clock.AfterFunc(delay, func() { s.onTimer(job.ID, h) })
		}

	case schedule.KindRecurring:
		sched, err := schedule.ParseCron(job.Schedule)
		if err != nil {
			return s.failLocked(ctx, job, err)
		}
		next := sched.Next(now.In(s.loc))
		if next.IsZero() {
			return s.failLocked(ctx, job, &schedule.InvalidScheduleError{
				Kind: job.Kind, Schedule: job.Schedule, Err: errors.New("expression never fires"),
			})
		}
		nextRun = next.UTC()
		if !s.passive {
			h = &handle{kind: handleRecurring, cron: sched, next: nextRun}
			h.timer = s.clock.AfterFunc(next.Sub(now), func() { s.onTimer(job.ID, h) })
		}

	default:
		return s.failLocked(ctx, job, &schedule.InvalidScheduleError{
			Kind: job.Kind, Schedule: job.Schedule, Err: errors.Newf("unknown schedule kind %q", job.Kind),
		})
	}

	if h != nil {
		s.mu.Lock()
		s.handles[job.ID] = h
		s.mu.Unlock()
	}

	status := schedule.StatusScheduled
	upd := schedule.JobUpdate{Status: &status, NextRunAt: &nextRun}
	if job.Status != "" {
		// a job that started running since it was loaded keeps its state
		prev := job.Status
		upd.IfStatus = &prev
	}
	if err := s.jobs.UpdateJob(ctx, job.ID, upd); err != nil {
		s.disarmLocked(job.ID)
		s.logger.Errorw("Failed to persist schedule, handle removed",
			logger.FieldJobID, job.ID,
			logger.FieldError, err,
		)
		return errors.Wrapf(err, "failed to persist schedule for job %s", job.ID)
	}
	job.Status = status
	job.NextRunAt = &nextRun

	s.logger.Infow("Job armed",
		logger.FieldJobID, job.ID,
		logger.FieldScheduleKind, job.Kind,
		logger.FieldSchedule, job.Schedule,
		logger.FieldNextRunAt, nextRun,
		"fire_now", fireNow,
		"passive", s.passive,
	)

	if fireNow {
		go s.fire(job.ID, reasonOverdue)
	}
	return nil
}

// Cancel stops the job's handle and any pending retry.
// A job with nothing armed is a no-op.
func (s *Scheduler) Cancel(jobID string) {
	unlock := s.locks.Lock(jobID)
	defer unlock()

	hadHandle := s.disarmLocked(jobID)
	hadRetry := s.cancelRetryLocked(jobID)
	if hadHandle || hadRetry {
		s.logger.Infow("Job disarmed", logger.FieldJobID, jobID, "handle", hadHandle, logger.FieldRetry, hadRetry)
	}
}

// Disarm stops only the job's handle, leaving a pending retry in place
func (s *Scheduler) Disarm(jobID string) bool {
	unlock := s.locks.Lock(jobID)
	defer unlock()
	return s.disarmLocked(jobID)
}

// ArmRetry schedules a one-shot re-run of the job after delay,
// replacing any retry already pending for it. handoff, if not nil, runs
// under the job's key lock once the retry is registered.
//
// The retry stays registered until the run it triggers returns.
func (s *Scheduler) ArmRetry(jobID string, delay time.Duration, handoff func()) {
	unlock := s.locks.Lock(jobID)
	defer unlock()
	if handoff != nil {
		defer handoff()
	}

	if s.passive || s.isStopped() {
		return
	}
	s.cancelRetryLocked(jobID)

	rt := &retryTimer{at: s.clock.Now().Add(delay)}
	rt.timer = s.clock.AfterFunc(delay, func() {
		unlock := s.locks.Lock(jobID)
		s.mu.Lock()
		current := s.retries[jobID] == rt
		s.mu.Unlock()
		unlock()
		if !current {
			return
		}

		s.fire(jobID, reasonRetry)

		s.mu.Lock()
		if s.retries[jobID] == rt {
			delete(s.retries, jobID)
		}
		s.mu.Unlock()
	})

	s.mu.Lock()
	s.retries[jobID] = rt
	s.mu.Unlock()
}

// Stop disarms everything. Later Schedule calls fail with ErrStopped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	ids := make(map[string]struct{}, len(s.handles)+len(s.retries))
	for id := range s.handles {
		ids[id] = struct{}{}
	}
	for id := range s.retries {
		ids[id] = struct{}{}
	}
	s.mu.Unlock()

	for id := range ids {
		s.Cancel(id)
	}
}

// HandleKind reports the kind of the job's armed handle, if any
func (s *Scheduler) HandleKind(jobID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[jobID]
	if !ok {
		return "", false
	}
	return h.kind.String(), true
}

// HasRetry reports whether a retry is pending for the job
func (s *Scheduler) HasRetry(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.retries[jobID]
	return ok
}

// Armed returns the IDs of jobs with a live handle, sorted
func (s *Scheduler) Armed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.handles))
	for id := range s.handles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Counts returns the number of armed handles and pending retries
func (s *Scheduler) Counts() (handles, retries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles), len(s.retries)
}

// onTimer runs when a handle's timer fires
func (s *Scheduler) onTimer(jobID string, h *handle) {
	unlock := s.locks.Lock(jobID)

	s.mu.Lock()
	current := s.handles[jobID] == h
	stopped := s.stopped
	if current && h.kind == handleOneShot {
		delete(s.handles, jobID)
	}
	s.mu.Unlock()

	if !current || stopped {
		unlock()
		return
	}

	if h.kind == handleRecurring {
		now := s.clock.Now()
		next := h.cron.Next(now.In(s.loc))
		h.next = next.UTC()
		h.timer = s.clock.AfterFunc(next.Sub(now), func() { s.onTimer(jobID, h) })
	}
	unlock()

	s.fire(jobID, reasonTimer)
}

// disarmLocked removes and stops the job's handle. Caller holds the key lock.
func (s *Scheduler) disarmLocked(jobID string) bool {
	s.mu.Lock()
	h, ok := s.handles[jobID]
	delete(s.handles, jobID)
	s.mu.Unlock()

	if ok {
		h.timer.Stop()
	}
	return ok
}

// cancelRetryLocked stops the job's pending retry. Caller holds the key lock.
func (s *Scheduler) cancelRetryLocked(jobID string) bool {
	s.mu.Lock()
	rt, ok := s.retries[jobID]
	delete(s.retries, jobID)
	s.mu.Unlock()

	if ok {
		rt.timer.Stop()
	}
	return ok
}

// failLocked records an arming failure on the job and returns cause
func (s *Scheduler) failLocked(ctx context.Context, job *schedule.Job, cause error) error {
	status := schedule.StatusFailed
	msg := cause.Error()
	err := s.jobs.UpdateJob(ctx, job.ID, schedule.JobUpdate{
		Status:         &status,
		LastError:      &msg,
		ClearNextRunAt: true,
	})
	if err != nil {
		s.logger.Errorw("Failed to record arming failure",
			logger.FieldJobID, job.ID,
			"cause", cause,
			logger.FieldError, err,
		)
	}
	job.Status = status
	job.LastError = msg
	job.NextRunAt = nil

	s.logger.Warnw("Job not armed",
		logger.FieldJobID, job.ID,
		logger.FieldScheduleKind, job.Kind,
		logger.FieldSchedule, job.Schedule,
		logger.FieldError, cause,
		logger.FieldErrorType, schedule.ErrorType(cause),
	)
	return cause
}

func (s *Scheduler) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
