package schedule

import (
	"fmt"

	"github.com/teranos/cadence/errors"
)

// InvalidScheduleError reports a timestamp or cron expression that cannot be armed
type InvalidScheduleError struct {
	Kind     Kind
	Schedule string
	Err      error
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("invalid %s schedule %q: %v", e.Kind, e.Schedule, e.Err)
}

func (e *InvalidScheduleError) Unwrap() error { return e.Err }

// UnsupportedJobTypeError reports a job type with no registered strategy
type UnsupportedJobTypeError struct {
	Type JobType
}

func (e *UnsupportedJobTypeError) Error() string {
	return fmt.Sprintf("unsupported job type %q", e.Type)
}

// RemoteCallError reports a network-call job that got a non-2xx response
type RemoteCallError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *RemoteCallError) Error() string {
	return fmt.Sprintf("remote call to %s returned %d: %s", e.URL, e.StatusCode, truncate(e.Body, 200))
}

// ScriptExecutionError reports a script that exited non-zero or could not start.
// ExitCode is -1 when the process never ran to completion.
type ScriptExecutionError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ScriptExecutionError) Error() string {
	msg := fmt.Sprintf("script exited with code %d", e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + truncate(e.Stderr, 500)
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ScriptExecutionError) Unwrap() error { return e.Err }

// ExecutionError wraps any other strategy failure, including recovered panics
type ExecutionError struct {
	Type JobType
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s job execution failed: %v", e.Type, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// StoreUnavailableError reports that the job or attempt store cannot be reached
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// IsRetryable reports whether a failed attempt may be retried.
// Definition errors fail the same way on every attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var invalid *InvalidScheduleError
	var unsupported *UnsupportedJobTypeError
	return !errors.As(err, &invalid) && !errors.As(err, &unsupported)
}

// IsStoreUnavailable reports whether err is or wraps a StoreUnavailableError
func IsStoreUnavailable(err error) bool {
	var unavailable *StoreUnavailableError
	return errors.As(err, &unavailable)
}

// ErrorType names the concrete error class for logs and metrics labels
func ErrorType(err error) string {
	var (
		invalid     *InvalidScheduleError
		unsupported *UnsupportedJobTypeError
		remote      *RemoteCallError
		script      *ScriptExecutionError
		store       *StoreUnavailableError
		exec        *ExecutionError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &invalid):
		return "invalid_schedule"
	case errors.As(err, &unsupported):
		return "unsupported_type"
	case errors.As(err, &remote):
		return "remote_call"
	case errors.As(err, &script):
		return "script"
	case errors.As(err, &store):
		return "store_unavailable"
	case errors.As(err, &exec):
		return "execution"
	default:
		return "other"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
