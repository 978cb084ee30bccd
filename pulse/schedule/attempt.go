package schedule

import (
	"encoding/json"
	"time"
)

// AttemptStatus is the state of one execution attempt
type AttemptStatus string

const (
	AttemptStarted   AttemptStatus = "started"
	AttemptCompleted AttemptStatus = "completed"
	AttemptFailed    AttemptStatus = "failed"
	AttemptRetrying  AttemptStatus = "retrying" // failed, and a retry has been armed
)

// Attempt records a single firing of a job.
//
// An attempt is appended as started before the job's work is dispatched and
// is written once more with its terminal status.
type Attempt struct {
	ID          string          `json:"id"`
	JobID       string          `json:"job_id"`
	Status      AttemptStatus   `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	DurationMs  *int64          `json:"duration_ms,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	RetryCount  int             `json:"retry_count"`
}

// Finish stamps the completion time and duration
func (a *Attempt) Finish(status AttemptStatus, at time.Time) {
	a.Status = status
	completed := at
	a.CompletedAt = &completed
	d := at.Sub(a.StartedAt).Milliseconds()
	if d < 0 {
		d = 0
	}
	a.DurationMs = &d
}
