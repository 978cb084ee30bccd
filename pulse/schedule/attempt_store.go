package schedule

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/teranos/cadence/errors"
)

// AttemptStore is the append-only execution log
type AttemptStore struct {
	db *sql.DB
}

// NewAttemptStore creates a new attempt store
func NewAttemptStore(conn *sql.DB) *AttemptStore {
	return &AttemptStore{db: conn}
}

// Append records a new attempt, assigning an ID when unset
func (s *AttemptStore) Append(ctx context.Context, a *Attempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = AttemptStarted
	}

	query := `
		INSERT INTO job_attempts (
			id, job_id, status, started_at, completed_at,
			duration_ms, output, error, retry_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	err := withRetry(ctx, "append attempt", func() error {
		_, err := s.db.ExecContext(ctx, query,
			a.ID,
			a.JobID,
			string(a.Status),
			formatTime(a.StartedAt),
			formatTimePtr(a.CompletedAt),
			nullInt64(a.DurationMs),
			nullJSON(a.Output),
			nullString(a.Error),
			a.RetryCount,
			formatTime(a.StartedAt),
		)
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "failed to append attempt for job %s", a.JobID)
	}
	return nil
}

// Update writes the attempt's terminal status and outcome
func (s *AttemptStore) Update(ctx context.Context, a *Attempt) error {
	query := `
		UPDATE job_attempts
		SET status = ?,
		    completed_at = ?,
		    duration_ms = ?,
		    output = ?,
		    error = ?
		WHERE id = ?
	`

	var affected int64
	err := withRetry(ctx, "update attempt", func() error {
		result, err := s.db.ExecContext(ctx, query,
			string(a.Status),
			formatTimePtr(a.CompletedAt),
			nullInt64(a.DurationMs),
			nullJSON(a.Output),
			nullString(a.Error),
			a.ID,
		)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "failed to update attempt %s", a.ID)
	}
	if affected == 0 {
		return errors.NewNotFoundError("attempt %s", a.ID)
	}
	return nil
}

// ListByJob returns a job's attempts, most recent first
func (s *AttemptStore) ListByJob(ctx context.Context, jobID string, limit, offset int) ([]*Attempt, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `
		SELECT id, job_id, status, started_at, completed_at,
		       duration_ms, output, error, retry_count
		FROM job_attempts
		WHERE job_id = ?
		ORDER BY started_at DESC, created_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`

	var attempts []*Attempt
	err := withRetry(ctx, "list attempts", func() error {
		attempts = nil
		rows, err := s.db.QueryContext(ctx, query, jobID, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			a, err := scanAttempt(rows)
			if err != nil {
				return err
			}
			attempts = append(attempts, a)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list attempts for job %s", jobID)
	}
	return attempts, nil
}

// CountByJob returns how many attempts a job has recorded
func (s *AttemptStore) CountByJob(ctx context.Context, jobID string) (int, error) {
	var n int
	err := withRetry(ctx, "count attempts", func() error {
		return s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM job_attempts WHERE job_id = ?`, jobID).Scan(&n)
	})
	if err != nil {
		return 0, errors.Wrapf(err, "failed to count attempts for job %s", jobID)
	}
	return n, nil
}

func scanAttempt(row rowScanner) (*Attempt, error) {
	var a Attempt
	var status, startedAt string
	var completedAt, output, errMsg sql.NullString
	var durationMs sql.NullInt64

	if err := row.Scan(
		&a.ID,
		&a.JobID,
		&status,
		&startedAt,
		&completedAt,
		&durationMs,
		&output,
		&errMsg,
		&a.RetryCount,
	); err != nil {
		return nil, err
	}

	a.Status = AttemptStatus(status)
	var err error
	if a.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse started_at for attempt %s", a.ID)
	}
	if a.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse completed_at for attempt %s", a.ID)
	}
	if durationMs.Valid {
		d := durationMs.Int64
		a.DurationMs = &d
	}
	if output.Valid && output.String != "" {
		a.Output = json.RawMessage(output.String)
	}
	if errMsg.Valid {
		a.Error = errMsg.String
	}

	return &a, nil
}

func nullInt64(p *int64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
