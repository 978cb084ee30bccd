// Package notify delivers notifications for email-type jobs and alerts on
// jobs that exhaust their retries. Delivery is best effort: a notifier
// confirms hand-off, not receipt.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/schedule"
)

// Message kinds
const (
	KindEmail      = "email"
	KindJobFailure = "job_failure"
)

// Message is a notification handed to a Notifier
type Message struct {
	Kind    string    `json:"kind"`
	To      []string  `json:"to,omitempty"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	JobID   string    `json:"job_id,omitempty"`
	SentAt  time.Time `json:"sent_at"`
}

// Validate checks the fields every sink needs
func (m Message) Validate() error {
	if m.Kind == KindEmail && len(m.To) == 0 {
		return errors.NewInvalidRequestError("notification has no recipients")
	}
	if strings.TrimSpace(m.Subject) == "" && strings.TrimSpace(m.Body) == "" {
		return errors.NewInvalidRequestError("notification has neither subject nor body")
	}
	return nil
}

// Notifier sends a message somewhere
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier writes notifications to the structured log.
// Used when no webhook is configured.
type LogNotifier struct {
	logger *zap.SugaredLogger
}

// NewLogNotifier creates a notifier that only logs
func NewLogNotifier(logger *zap.SugaredLogger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Send logs the message
func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	n.logger.Infow("Notification",
		"kind", msg.Kind,
		"to", msg.To,
		"subject", msg.Subject,
		logger.FieldJobID, msg.JobID,
		"body_length", len(msg.Body),
	)
	return nil
}

// FailureNotifier alerts when a job fails terminally
type FailureNotifier struct {
	sink    Notifier
	enabled bool
	logger  *zap.SugaredLogger
	now     func() time.Time
}

// NewFailureNotifier wraps sink. When enabled is false Notify only logs.
func NewFailureNotifier(sink Notifier, enabled bool, logger *zap.SugaredLogger) *FailureNotifier {
	return &FailureNotifier{sink: sink, enabled: enabled, logger: logger, now: time.Now}
}

// Notify reports a terminal failure. Errors are logged, never returned.
func (f *FailureNotifier) Notify(ctx context.Context, job *schedule.Job, cause error) {
	if !f.enabled || f.sink == nil {
		f.logger.Debugw("Failure notification disabled", logger.FieldJobID, job.ID)
		return
	}

	msg := Message{
		Kind:    KindJobFailure,
		Subject: "Job failed: " + job.Title,
		Body:    failureBody(job, cause),
		JobID:   job.ID,
		SentAt:  f.now().UTC(),
	}
	if err := f.sink.Send(ctx, msg); err != nil {
		f.logger.Warnw("Failed to send failure notification",
			logger.FieldJobID, job.ID,
			logger.FieldError, err,
		)
	}
}

func failureBody(job *schedule.Job, cause error) string {
	body := fmt.Sprintf("Job %s (%s, %s) gave up after %d retries", job.ID, job.Type, job.Kind, job.CurrentRetries)
	if cause != nil {
		body += ": " + cause.Error()
	}
	return body
}
