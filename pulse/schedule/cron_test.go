package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/cadence/errors"
)

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		name  string
		kind  Kind
		value string
		ok    bool
	}{
		{"five field cron", KindRecurring, "*/5 * * * *", true},
		{"six field cron with seconds", KindRecurring, "0 */5 * * * *", true},
		{"descriptor", KindRecurring, "@hourly", true},
		{"every", KindRecurring, "@every 90s", true},
		{"malformed cron", KindRecurring, "not a cron", false},
		{"out of range minute", KindRecurring, "61 * * * *", false},
		{"empty cron", KindRecurring, "  ", false},
		{"rfc3339", KindOneTime, "2026-06-01T12:00:00Z", true},
		{"rfc3339 with offset", KindOneTime, "2026-06-01T12:00:00+02:00", true},
		{"bad timestamp", KindOneTime, "tomorrow", false},
		{"unknown kind", Kind("sometimes"), "*/5 * * * *", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSchedule(tt.kind, tt.value)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var invalid *InvalidScheduleError
			assert.True(t, errors.As(err, &invalid))
			assert.False(t, IsRetryable(err))
		})
	}
}

func TestNextRun(t *testing.T) {
	after := time.Date(2026, 3, 10, 10, 2, 30, 0, time.UTC)

	next, err := NextRun(KindRecurring, "*/5 * * * *", after, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 10, 5, 0, 0, time.UTC), next)

	// 09:00 in Berlin (UTC+1 in March before DST) is 08:00 UTC
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	next, err = NextRun(KindRecurring, "0 9 * * *", after, berlin)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC), next)

	next, err = NextRun(KindOneTime, "2026-03-10T12:00:00Z", after, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), next.UTC())

	_, err = NextRun(KindRecurring, "bogus", after, nil)
	assert.Error(t, err)
}

func TestJobValidate(t *testing.T) {
	job := newTestJob("valid")
	assert.NoError(t, job.Validate())

	job.Title = " "
	assert.True(t, errors.IsInvalidRequestError(job.Validate()))

	job = newTestJob("bad type")
	job.Type = "carrier-pigeon"
	var unsupported *UnsupportedJobTypeError
	assert.True(t, errors.As(job.Validate(), &unsupported))

	job = newTestJob("negative retries")
	job.MaxRetries = -1
	assert.True(t, errors.IsInvalidRequestError(job.Validate()))

	job = newTestJob("bad cron")
	job.Schedule = "every tuesday"
	var invalid *InvalidScheduleError
	assert.True(t, errors.As(job.Validate(), &invalid))
}
