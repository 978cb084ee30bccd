package schedule

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/teranos/cadence/errors"
)

// cronParser accepts standard five-field expressions, an optional leading
// seconds field, and descriptors such as @hourly or @every 5m.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron parses a recurring schedule expression
func ParseCron(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, &InvalidScheduleError{Kind: KindRecurring, Schedule: expr, Err: errors.New("empty expression")}
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, &InvalidScheduleError{Kind: KindRecurring, Schedule: expr, Err: err}
	}
	return sched, nil
}

// ParseRunAt parses a one-time schedule instant
func ParseRunAt(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, &InvalidScheduleError{Kind: KindOneTime, Schedule: value, Err: err}
	}
	return t, nil
}

// ValidateSchedule checks that the schedule string fits the job's kind
func ValidateSchedule(kind Kind, value string) error {
	switch kind {
	case KindOneTime:
		_, err := ParseRunAt(value)
		return err
	case KindRecurring:
		_, err := ParseCron(value)
		return err
	default:
		return &InvalidScheduleError{Kind: kind, Schedule: value, Err: errors.Newf("unknown schedule kind %q", kind)}
	}
}

// NextRun computes the next firing strictly after `after`.
// Cron fields are evaluated in loc; one-time jobs return their instant.
func NextRun(kind Kind, value string, after time.Time, loc *time.Location) (time.Time, error) {
	switch kind {
	case KindOneTime:
		return ParseRunAt(value)
	case KindRecurring:
		sched, err := ParseCron(value)
		if err != nil {
			return time.Time{}, err
		}
		if loc == nil {
			loc = time.UTC
		}
		next := sched.Next(after.In(loc))
		if next.IsZero() {
			return time.Time{}, &InvalidScheduleError{Kind: kind, Schedule: value, Err: errors.New("expression never fires")}
		}
		return next.UTC(), nil
	default:
		return time.Time{}, &InvalidScheduleError{Kind: kind, Schedule: value, Err: errors.Newf("unknown schedule kind %q", kind)}
	}
}

// Validate checks a job definition before it is stored or armed
func (j *Job) Validate() error {
	if strings.TrimSpace(j.Title) == "" {
		return errors.NewInvalidRequestError("job title is required")
	}
	if !j.Type.Valid() {
		return &UnsupportedJobTypeError{Type: j.Type}
	}
	if j.MaxRetries < 0 {
		return errors.NewInvalidRequestError("max retries must be >= 0, got %d", j.MaxRetries)
	}
	return ValidateSchedule(j.Kind, j.Schedule)
}
