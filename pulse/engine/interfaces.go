package engine

import (
	"context"
	"encoding/json"

	"github.com/teranos/cadence/pulse/schedule"
)

// JobStore is the durable home of job definitions.
// *schedule.Store implements it.
type JobStore interface {
	CreateJob(ctx context.Context, job *schedule.Job) error
	GetJob(ctx context.Context, id string) (*schedule.Job, error)
	UpdateJob(ctx context.Context, id string, upd schedule.JobUpdate) error
	DeleteJob(ctx context.Context, id string) error
	ListDue(ctx context.Context, statuses []schedule.Status, activeOnly bool) ([]*schedule.Job, error)
	ListJobs(ctx context.Context, filter schedule.ListFilter) ([]*schedule.Job, error)
}

// AttemptLog is the append-only execution history.
// *schedule.AttemptStore implements it.
type AttemptLog interface {
	Append(ctx context.Context, a *schedule.Attempt) error
	Update(ctx context.Context, a *schedule.Attempt) error
	ListByJob(ctx context.Context, jobID string, limit, offset int) ([]*schedule.Attempt, error)
}

// Dispatcher performs a job's work.
// *dispatch.Registry implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *schedule.Job) (json.RawMessage, error)
	Supports(t schedule.JobType) bool
}

// FailureNotifier is told, best effort, when a job fails terminally.
// *notify.FailureNotifier implements it.
type FailureNotifier interface {
	Notify(ctx context.Context, job *schedule.Job, err error)
}
