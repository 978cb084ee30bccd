// Package schedule holds the durable job model: job definitions, execution
// attempts, their SQLite stores and the job state machine.
package schedule

import (
	"encoding/json"
	"time"
)

// JobType selects the execution strategy for a job
type JobType string

// Supported job types
const (
	TypeHTTP     JobType = "http"     // network call
	TypeFunction JobType = "function" // inline function (compiled-in or wasm)
	TypeScript   JobType = "script"   // external script process
	TypeEmail    JobType = "email"    // notification
)

// JobTypes lists every supported job type
var JobTypes = []JobType{TypeHTTP, TypeFunction, TypeScript, TypeEmail}

// Valid reports whether t is one of the supported job types
func (t JobType) Valid() bool {
	for _, known := range JobTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Kind says how Schedule is interpreted
type Kind string

const (
	KindOneTime   Kind = "one-time"  // Schedule is an RFC3339 instant
	KindRecurring Kind = "recurring" // Schedule is a cron expression
)

// Status is the lifecycle state of a job
type Status string

const (
	StatusPending   Status = "pending"
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Job is a persisted job definition
type Job struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	Type           JobType         `json:"type"`
	Schedule       string          `json:"schedule"`
	Kind           Kind            `json:"kind"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Status         Status          `json:"status"`
	CurrentRetries int             `json:"current_retries"`
	MaxRetries     int             `json:"max_retries"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	Active         bool            `json:"active"`
	CreatedBy      string          `json:"created_by,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// IsTerminal reports whether the job sits in an absorbing state.
// Failed is terminal here: a job awaiting retry is pending, not failed.
func (j *Job) IsTerminal() bool {
	return IsTerminalStatus(j.Status)
}

// Armable reports whether the job should have a live timer
func (j *Job) Armable() bool {
	return j.Active && (j.Status == StatusPending || j.Status == StatusScheduled)
}

// IsTerminalStatus reports whether s is completed, failed or cancelled
func IsTerminalStatus(s Status) bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// JobUpdate is a partial update; nil fields are left untouched
type JobUpdate struct {
	Title          *string
	Description    *string
	Type           *JobType
	Schedule       *string
	Kind           *Kind
	Payload        *json.RawMessage
	Status         *Status
	CurrentRetries *int
	MaxRetries     *int
	LastRunAt      *time.Time
	NextRunAt      *time.Time
	ClearNextRunAt bool    // sets next_run_at to NULL; wins over NextRunAt
	LastError      *string // "" clears
	Active         *bool

	// IfStatus makes the update conditional on the job's current status.
	// A mismatch fails with a conflict error and writes nothing.
	IfStatus *Status
}

// Empty reports whether the update changes nothing
func (u JobUpdate) Empty() bool {
	return u.Title == nil && u.Description == nil && u.Type == nil && u.Schedule == nil &&
		u.Kind == nil && u.Payload == nil && u.Status == nil && u.CurrentRetries == nil &&
		u.MaxRetries == nil && u.LastRunAt == nil && u.NextRunAt == nil && !u.ClearNextRunAt &&
		u.LastError == nil && u.Active == nil
}

// Apply copies the set fields of u onto j, mirroring what the store persists
func (u JobUpdate) Apply(j *Job) {
	if u.Title != nil {
		j.Title = *u.Title
	}
	if u.Description != nil {
		j.Description = *u.Description
	}
	if u.Type != nil {
		j.Type = *u.Type
	}
	if u.Schedule != nil {
		j.Schedule = *u.Schedule
	}
	if u.Kind != nil {
		j.Kind = *u.Kind
	}
	if u.Payload != nil {
		j.Payload = *u.Payload
	}
	if u.Status != nil {
		j.Status = *u.Status
	}
	if u.CurrentRetries != nil {
		j.CurrentRetries = *u.CurrentRetries
	}
	if u.MaxRetries != nil {
		j.MaxRetries = *u.MaxRetries
	}
	if u.LastRunAt != nil {
		t := *u.LastRunAt
		j.LastRunAt = &t
	}
	if u.ClearNextRunAt {
		j.NextRunAt = nil
	} else if u.NextRunAt != nil {
		t := *u.NextRunAt
		j.NextRunAt = &t
	}
	if u.LastError != nil {
		j.LastError = *u.LastError
	}
	if u.Active != nil {
		j.Active = *u.Active
	}
}

// ListFilter narrows ListJobs. Zero values match everything.
type ListFilter struct {
	CreatedBy string
	Status    Status
	Type      JobType
	Limit     int // 0 = DefaultListLimit
	Offset    int
}

// DefaultListLimit bounds list queries that do not set a limit
const DefaultListLimit = 100
