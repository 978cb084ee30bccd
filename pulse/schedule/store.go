package schedule

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/cadence/db"
	"github.com/teranos/cadence/errors"
)

// Store handles persistence of job definitions
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new job store
func NewStore(conn *sql.DB) *Store {
	return &Store{db: conn, now: time.Now}
}

const jobColumns = `id, title, description, type, schedule, kind, payload, status,
	current_retries, max_retries, last_run_at, next_run_at, last_error, active,
	created_by, created_at, updated_at`

// CreateJob inserts a new job. ID, Status and timestamps are filled in when unset.
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = StatusPending
	}
	now := s.now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	payload := "{}"
	if len(job.Payload) > 0 {
		payload = string(job.Payload)
	}

	query := `INSERT INTO jobs (` + jobColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	err := withRetry(ctx, "create job", func() error {
		_, err := s.db.ExecContext(ctx, query,
			job.ID,
			job.Title,
			job.Description,
			string(job.Type),
			job.Schedule,
			string(job.Kind),
			payload,
			string(job.Status),
			job.CurrentRetries,
			job.MaxRetries,
			formatTimePtr(job.LastRunAt),
			formatTimePtr(job.NextRunAt),
			nullString(job.LastError),
			job.Active,
			job.CreatedBy,
			formatTime(job.CreatedAt),
			formatTime(job.UpdatedAt),
		)
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "failed to create job %s", job.ID)
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

	var job *Job
	err := withRetry(ctx, "get job", func() error {
		var err error
		job, err = scanJob(s.db.QueryRowContext(ctx, query, id))
		return err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("job %s", id)
		}
		return nil, errors.Wrapf(err, "failed to get job %s", id)
	}
	return job, nil
}

// UpdateJob applies a partial update. Returns a not-found error when no row matches.
func (s *Store) UpdateJob(ctx context.Context, id string, upd JobUpdate) error {
	if upd.Empty() {
		return nil
	}
	if upd.IfStatus != nil && upd.Status != nil && !CanTransition(*upd.IfStatus, *upd.Status) {
		return errors.NewConflictError("job %s cannot move from %s to %s", id, *upd.IfStatus, *upd.Status)
	}

	var sets []string
	var args []interface{}
	set := func(col string, v interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if upd.Title != nil {
		set("title", *upd.Title)
	}
	if upd.Description != nil {
		set("description", *upd.Description)
	}
	if upd.Type != nil {
		set("type", string(*upd.Type))
	}
	if upd.Schedule != nil {
		set("schedule", *upd.Schedule)
	}
	if upd.Kind != nil {
		set("kind", string(*upd.Kind))
	}
	if upd.Payload != nil {
		payload := "{}"
		if len(*upd.Payload) > 0 {
			payload = string(*upd.Payload)
		}
		set("payload", payload)
	}
	if upd.Status != nil {
		set("status", string(*upd.Status))
	}
	if upd.CurrentRetries != nil {
		set("current_retries", *upd.CurrentRetries)
	}
	if upd.MaxRetries != nil {
		set("max_retries", *upd.MaxRetries)
	}
	if upd.LastRunAt != nil {
		set("last_run_at", formatTime(*upd.LastRunAt))
	}
	if upd.ClearNextRunAt {
		set("next_run_at", nil)
	} else if upd.NextRunAt != nil {
		set("next_run_at", formatTime(*upd.NextRunAt))
	}
	if upd.LastError != nil {
		set("last_error", nullString(*upd.LastError))
	}
	if upd.Active != nil {
		set("active", *upd.Active)
	}
	set("updated_at", formatTime(s.now()))

	query := `UPDATE jobs SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	args = append(args, id)
	if upd.IfStatus != nil {
		query += ` AND status = ?`
		args = append(args, string(*upd.IfStatus))
	}

	var affected int64
	err := withRetry(ctx, "update job", func() error {
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "failed to update job %s", id)
	}
	if affected == 0 {
		if upd.IfStatus != nil {
			if _, getErr := s.GetJob(ctx, id); getErr == nil {
				return errors.NewConflictError("job %s is no longer %s", id, *upd.IfStatus)
			}
		}
		return errors.NewNotFoundError("job %s", id)
	}
	return nil
}

// DeleteJob removes a job and, by cascade, its attempts
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	var affected int64
	err := withRetry(ctx, "delete job", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "failed to delete job %s", id)
	}
	if affected == 0 {
		return errors.NewNotFoundError("job %s", id)
	}
	return nil
}

// ListDue returns jobs in any of the given statuses, ordered by next run
// (jobs without one last), then creation time.
func (s *Store) ListDue(ctx context.Context, statuses []Status, activeOnly bool) ([]*Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]interface{}, 0, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args = append(args, string(st))
	}

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY next_run_at IS NULL, next_run_at ASC, created_at ASC`

	jobs, err := s.queryJobs(ctx, "list due jobs", query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due jobs")
	}
	return jobs, nil
}

// ListJobs returns jobs matching the filter, newest first
func (s *Store) ListJobs(ctx context.Context, filter ListFilter) ([]*Job, error) {
	var where []string
	var args []interface{}
	if filter.CreatedBy != "" {
		where = append(where, "created_by = ?")
		args = append(args, filter.CreatedBy)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filter.Type))
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query += ` ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	jobs, err := s.queryJobs(ctx, "list jobs", query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	return jobs, nil
}

// queryJobs drains the rows before returning so callers may issue follow-up queries
func (s *Store) queryJobs(ctx context.Context, op, query string, args ...interface{}) ([]*Job, error) {
	var jobs []*Job
	err := withRetry(ctx, op, func() error {
		jobs = nil
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			job, err := scanJob(rows)
			if err != nil {
				return err
			}
			jobs = append(jobs, job)
		}
		return rows.Err()
	})
	return jobs, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var jobType, kind, status, payload, createdAt, updatedAt string
	var lastRunAt, nextRunAt, lastError sql.NullString

	err := row.Scan(
		&job.ID,
		&job.Title,
		&job.Description,
		&jobType,
		&job.Schedule,
		&kind,
		&payload,
		&status,
		&job.CurrentRetries,
		&job.MaxRetries,
		&lastRunAt,
		&nextRunAt,
		&lastError,
		&job.Active,
		&job.CreatedBy,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Type = JobType(jobType)
	job.Kind = Kind(kind)
	job.Status = Status(status)
	if payload != "" {
		job.Payload = json.RawMessage(payload)
	}
	if lastError.Valid {
		job.LastError = lastError.String
	}

	// Unparseable timestamps mean corruption or a schema mismatch
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for job %s", job.ID)
	}
	if job.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for job %s", job.ID)
	}
	if job.LastRunAt, err = parseNullTime(lastRunAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse last_run_at for job %s", job.ID)
	}
	if job.NextRunAt, err = parseNullTime(nextRunAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse next_run_at for job %s", job.ID)
	}

	return &job, nil
}

// withRetry retries busy/locked errors and marks connectivity failures
// as StoreUnavailableError.
func withRetry(ctx context.Context, op string, fn func() error) error {
	err := db.Retry(ctx, fn)
	if err == nil {
		return nil
	}
	if isUnavailable(err) {
		return &StoreUnavailableError{Op: op, Err: err}
	}
	return err
}

func isUnavailable(err error) bool {
	if db.IsBusy(err) || db.IsDatabaseClosed(err) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to open database file") || strings.Contains(msg, "disk I/O error")
}

// timeLayout is fixed-width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
