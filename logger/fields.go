package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for structured logging.
// Use these constants instead of raw strings so log queries stay stable.
const (
	// Identity
	FieldJobID     = "job_id"
	FieldAttemptID = "attempt_id"
	FieldOwner     = "owner"

	// Components
	FieldStrategy = "strategy"

	// Scheduling
	FieldJobType      = "job_type"
	FieldScheduleKind = "schedule_kind"
	FieldSchedule     = "schedule"
	FieldNextRunAt    = "next_run_at"
	FieldDelay        = "delay"
	FieldRetry        = "retry"
	FieldMaxRetries   = "max_retries"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError     = "error"
	FieldErrorType = "error_type"

	// Status
	FieldStatus = "status"

	// Network
	FieldAddress = "address"
	FieldURL     = "url"
)

type contextKey string

const jobIDKey contextKey = "logger_job_id"

// WithJobID adds a job ID to the context for logging. Strategies only see
// the payload, so this is how their log lines name the job.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}
	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		fields = append(fields, FieldJobID, jobID)
	}
	return fields
}

// FromContext returns base enriched with the fields carried by ctx
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
//
//	sched := engine.NewScheduler(..., logger.ComponentLogger("engine.scheduler"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
