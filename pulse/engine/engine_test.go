package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/cadence/am"
	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/internal/httpclient"
	"github.com/teranos/cadence/internal/util"
	"github.com/teranos/cadence/pulse/dispatch"
	"github.com/teranos/cadence/pulse/schedule"
)

// A one-time network-call job due in five seconds against an endpoint that
// succeeds completes with a single attempt and nothing left armed.
func TestScenario_OneTimeHTTPSuccess(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pong":true}`))
	}))
	defer srv.Close()

	registry := dispatch.NewRegistry(zap.NewNop().Sugar())
	registry.Register(dispatch.NewHTTPStrategy(httpclient.New(httpclient.Options{Timeout: 5 * time.Second}), zap.NewNop().Sugar()))
	te := newTestEngine(t, registry)
	ctx := context.Background()

	job, err := te.CreateJob(ctx, JobRequest{
		Title:    "job A",
		Type:     schedule.TypeHTTP,
		Kind:     schedule.KindOneTime,
		Schedule: runAt(t0.Add(5000 * time.Millisecond)),
		Payload:  json.RawMessage(`{"url":"` + srv.URL + `"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusScheduled, job.Status)
	assert.Equal(t, 3, job.MaxRetries)

	te.clock.Advance(5 * time.Second)
	te.waitStatus(t, job.ID, schedule.StatusCompleted)

	history, err := te.Attempts(ctx, job.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, schedule.AttemptCompleted, history[0].Status)
	assert.JSONEq(t, `{"pong":true}`, string(history[0].Output))

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.False(t, te.sched.HasRetry(job.ID))
	handles, retries := te.sched.Counts()
	assert.Zero(t, handles)
	assert.Zero(t, retries)
	assert.Empty(t, te.clock.delays())
}

// A recurring script job that always exits non-zero with max retries 2 runs
// three times with 1s and 2s between attempts, then fails and notifies once.
func TestScenario_RecurringScriptExhaustsRetries(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	registry := dispatch.NewRegistry(zap.NewNop().Sugar())
	registry.Register(dispatch.NewScriptStrategy(dispatch.ScriptOptions{InheritEnv: true}, zap.NewNop().Sugar()))
	notifier := &recordingNotifier{}
	te := newTestEngine(t, registry, WithNotifier(notifier))
	ctx := context.Background()

	job, err := te.CreateJob(ctx, JobRequest{
		Title:      "job B",
		Type:       schedule.TypeScript,
		Kind:       schedule.KindRecurring,
		Schedule:   "*/1 * * * *",
		Payload:    json.RawMessage(`{"command":"sh -c 'echo nope >&2; exit 3'"}`),
		MaxRetries: util.Ptr(2),
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{30 * time.Second}, te.clock.delays())

	waitRetry := func(want time.Duration) {
		t.Helper()
		require.Eventually(t, func() bool {
			return te.sched.HasRetry(job.ID) && te.running.count() == 0
		}, 5*time.Second, 5*time.Millisecond)
		assert.Contains(t, te.clock.delays(), want)
	}

	te.clock.Advance(30 * time.Second)
	waitRetry(1000 * time.Millisecond)
	assert.Equal(t, schedule.StatusPending, te.status(t, job.ID))

	te.clock.Advance(1000 * time.Millisecond)
	waitRetry(2000 * time.Millisecond)

	te.clock.Advance(2000 * time.Millisecond)
	te.waitStatus(t, job.ID, schedule.StatusFailed)
	require.Eventually(t, func() bool { return notifier.count() == 1 }, 5*time.Second, 5*time.Millisecond)

	stored, err := te.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.CurrentRetries)
	assert.True(t, strings.HasPrefix(stored.LastError, "max retries exceeded: script exited with code 3"))

	history, err := te.Attempts(ctx, job.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, schedule.AttemptFailed, history[0].Status)
	assert.Equal(t, schedule.AttemptRetrying, history[1].Status)
	assert.Equal(t, schedule.AttemptRetrying, history[2].Status)
	assert.Equal(t, 2, history[0].RetryCount)
	assert.Equal(t, 1, history[1].RetryCount)
	assert.Equal(t, 0, history[2].RetryCount)

	// no further automatic runs
	_, armed := te.sched.HandleKind(job.ID)
	assert.False(t, armed)
	te.clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)
	history, err = te.Attempts(ctx, job.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, history, 3)
	assert.Equal(t, 1, notifier.count())
}

// A one-time job left pending by a previous process with its instant already
// past fires exactly once after recovery.
func TestScenario_RecoverFiresOverdueOnce(t *testing.T) {
	d := newStubDispatcher(nil)
	te := newTestEngine(t, d)
	ctx := context.Background()
	job := te.storeJob(t, &schedule.Job{
		Kind:     schedule.KindOneTime,
		Schedule: runAt(t0.Add(-10 * time.Minute)),
	})

	require.NoError(t, te.Recover(ctx))
	te.waitStatus(t, job.ID, schedule.StatusCompleted)

	require.NoError(t, te.Recover(ctx))
	armed, _, err := te.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, armed)
	te.clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, d.count(job.ID))
}

func TestRecover_RearmsAndResetsInterrupted(t *testing.T) {
	d := newStubDispatcher(nil)
	te := newTestEngine(t, d)
	ctx := context.Background()

	future := te.storeJob(t, &schedule.Job{Kind: schedule.KindOneTime, Schedule: runAt(t0.Add(time.Hour))})
	recurring := te.storeJob(t, &schedule.Job{Kind: schedule.KindRecurring, Schedule: "@daily", Status: schedule.StatusScheduled})
	interrupted := te.storeJob(t, &schedule.Job{Kind: schedule.KindRecurring, Schedule: "@hourly", Status: schedule.StatusRunning})
	broken := te.storeJob(t, &schedule.Job{Kind: schedule.KindRecurring, Schedule: "not cron"})
	inactive := te.storeJob(t, &schedule.Job{Kind: schedule.KindRecurring, Schedule: "@hourly"})
	require.NoError(t, te.jobStore.UpdateJob(ctx, inactive.ID, schedule.JobUpdate{Active: util.Ptr(false)}))
	done := te.storeJob(t, &schedule.Job{Kind: schedule.KindRecurring, Schedule: "@hourly", Status: schedule.StatusCompleted})

	err := te.Recover(ctx)
	require.Error(t, err, "the broken job is reported")
	assert.Contains(t, err.Error(), broken.ID)

	for _, id := range []string{future.ID, recurring.ID, interrupted.ID} {
		_, ok := te.sched.HandleKind(id)
		assert.True(t, ok, "job %s should be armed", id)
		assert.Equal(t, schedule.StatusScheduled, te.status(t, id))
	}
	for _, id := range []string{broken.ID, inactive.ID, done.ID} {
		_, ok := te.sched.HandleKind(id)
		assert.False(t, ok, "job %s should not be armed", id)
	}
	assert.Equal(t, schedule.StatusFailed, te.status(t, broken.ID))

	stored, err := te.GetJob(ctx, interrupted.ID)
	require.NoError(t, err)
	assert.Equal(t, "interrupted by engine restart", stored.LastError)
}

func TestCreateJob_Validation(t *testing.T) {
	te := newTestEngine(t, newStubDispatcher(nil))
	ctx := context.Background()

	_, err := te.CreateJob(ctx, JobRequest{Title: "x", Type: "fax", Kind: schedule.KindRecurring, Schedule: "@hourly"})
	var unsupported *schedule.UnsupportedJobTypeError
	assert.True(t, errors.As(err, &unsupported))

	_, err = te.CreateJob(ctx, JobRequest{Type: schedule.TypeHTTP, Kind: schedule.KindRecurring, Schedule: "@hourly"})
	assert.True(t, errors.IsInvalidRequestError(err))

	jobs, err := te.ListJobs(ctx, schedule.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs, "rejected definitions are not stored")
}

func TestCreateJob_InvalidCronStoredAsFailed(t *testing.T) {
	te := newTestEngine(t, newStubDispatcher(nil))
	ctx := context.Background()

	job, err := te.CreateJob(ctx, JobRequest{Title: "bad", Type: schedule.TypeHTTP, Kind: schedule.KindRecurring, Schedule: "61 * * * *"})
	var invalid *schedule.InvalidScheduleError
	require.True(t, errors.As(err, &invalid))
	require.NotNil(t, job)

	assert.Equal(t, schedule.StatusFailed, te.status(t, job.ID))
	_, ok := te.sched.HandleKind(job.ID)
	assert.False(t, ok)
}

func TestCreateJob_Inactive(t *testing.T) {
	te := newTestEngine(t, newStubDispatcher(nil))

	job, err := te.CreateJob(context.Background(), JobRequest{
		Title: "later", Type: schedule.TypeEmail, Kind: schedule.KindRecurring, Schedule: "@weekly",
		Inactive: true, MaxRetries: util.Ptr(0),
	})
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusPending, job.Status)
	assert.Zero(t, job.MaxRetries)
	assert.Empty(t, te.sched.Armed())
}

func TestUpdateJob_ReschedulesOnScheduleChange(t *testing.T) {
	te := newTestEngine(t, newStubDispatcher(nil))
	ctx := context.Background()
	job, err := te.CreateJob(ctx, JobRequest{Title: "t", Type: schedule.TypeHTTP, Kind: schedule.KindRecurring, Schedule: "@hourly"})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{59*time.Minute + 30*time.Second}, te.clock.delays())

	updated, err := te.UpdateJob(ctx, job.ID, schedule.JobUpdate{
		Schedule: util.Ptr("*/5 * * * *"),
		Status:   util.Ptr(schedule.StatusCompleted), // ignored
	})
	require.NoError(t, err)
	assert.Equal(t, "*/5 * * * *", updated.Schedule)
	assert.Equal(t, schedule.StatusScheduled, updated.Status)
	assert.Equal(t, []time.Duration{4*time.Minute + 30*time.Second}, te.clock.delays())

	updated, err = te.UpdateJob(ctx, job.ID, schedule.JobUpdate{Active: util.Ptr(false)})
	require.NoError(t, err)
	assert.False(t, updated.Active)
	assert.Empty(t, te.sched.Armed())

	// an inactive job is not armed, so its schedule is only checked on activation
	_, err = te.UpdateJob(ctx, job.ID, schedule.JobUpdate{Kind: util.Ptr(schedule.KindOneTime)})
	require.NoError(t, err)

	_, err = te.UpdateJob(ctx, job.ID, schedule.JobUpdate{Active: util.Ptr(true)})
	var invalid *schedule.InvalidScheduleError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, schedule.StatusFailed, te.status(t, job.ID))
}

func TestUpdateJob_RejectedWhileRunning(t *testing.T) {
	te := newTestEngine(t, newStubDispatcher(nil))
	job := te.storeJob(t, &schedule.Job{Kind: schedule.KindRecurring, Schedule: "@hourly", Status: schedule.StatusRunning})

	_, err := te.UpdateJob(context.Background(), job.ID, schedule.JobUpdate{Title: util.Ptr("renamed")})
	assert.True(t, errors.IsConflictError(err))
}

func TestCancel(t *testing.T) {
	te := newTestEngine(t, newStubDispatcher(nil))
	ctx := context.Background()
	job, err := te.CreateJob(ctx, JobRequest{Title: "t", Type: schedule.TypeHTTP, Kind: schedule.KindRecurring, Schedule: "@hourly"})
	require.NoError(t, err)

	cancelled, err := te.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.NextRunAt)
	assert.Empty(t, te.sched.Armed())

	_, err = te.Cancel(ctx, job.ID)
	assert.True(t, errors.IsConflictError(err))

	_, err = te.Cancel(ctx, "missing")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestCancelJob_Noop(t *testing.T) {
	te := newTestEngine(t, newStubDispatcher(nil))
	assert.NotPanics(t, func() {
		te.CancelJob("never-armed")
		te.CancelJob("never-armed")
	})
}

func TestExecuteNow(t *testing.T) {
	d := newStubDispatcher(nil)
	te := newTestEngine(t, d)
	ctx := context.Background()
	job, err := te.CreateJob(ctx, JobRequest{Title: "t", Type: schedule.TypeHTTP, Kind: schedule.KindOneTime, Schedule: runAt(t0.Add(time.Hour))})
	require.NoError(t, err)

	attempt, err := te.ExecuteNow(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.AttemptCompleted, attempt.Status)
	assert.Equal(t, schedule.StatusCompleted, te.status(t, job.ID))
	assert.Empty(t, te.sched.Armed(), "the one-shot handle is dropped once the job completes")

	_, err = te.ExecuteNow(ctx, job.ID)
	assert.True(t, errors.IsConflictError(err))

	rescheduled, err := te.ScheduleJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusScheduled, rescheduled.Status)
	assert.Equal(t, 1, d.count(job.ID))
}

func TestScheduleJob_ResetsRetriesOfFailedJob(t *testing.T) {
	te := newTestEngine(t, newStubDispatcher(nil))
	ctx := context.Background()
	job := te.storeJob(t, &schedule.Job{
		Kind:           schedule.KindRecurring,
		Schedule:       "@hourly",
		Status:         schedule.StatusFailed,
		CurrentRetries: 3,
		LastError:      "max retries exceeded: boom",
	})

	got, err := te.ScheduleJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusScheduled, got.Status)
	assert.Zero(t, got.CurrentRetries)
	assert.Empty(t, got.LastError)
}

func TestFire_SkipsDisarmedJobs(t *testing.T) {
	d := newStubDispatcher(nil)
	te := newTestEngine(t, d)
	ctx := context.Background()
	job, err := te.CreateJob(ctx, JobRequest{Title: "t", Type: schedule.TypeHTTP, Kind: schedule.KindRecurring, Schedule: "*/1 * * * *"})
	require.NoError(t, err)

	// disabled behind the engine's back
	require.NoError(t, te.jobStore.UpdateJob(ctx, job.ID, schedule.JobUpdate{Active: util.Ptr(false)}))
	te.clock.Advance(30 * time.Second)

	require.Eventually(t, func() bool {
		_, ok := te.sched.HandleKind(job.ID)
		return !ok
	}, 5*time.Second, 5*time.Millisecond)
	assert.Zero(t, d.count(job.ID))
}

func TestReconcile(t *testing.T) {
	te := newTestEngine(t, newStubDispatcher(nil))
	ctx := context.Background()

	foreign := te.storeJob(t, &schedule.Job{Kind: schedule.KindRecurring, Schedule: "@hourly"})
	mine, err := te.CreateJob(ctx, JobRequest{Title: "t", Type: schedule.TypeHTTP, Kind: schedule.KindRecurring, Schedule: "@daily"})
	require.NoError(t, err)
	cancelled := schedule.StatusCancelled
	require.NoError(t, te.jobStore.UpdateJob(ctx, mine.ID, schedule.JobUpdate{Status: &cancelled}))

	armed, disarmed, err := te.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, armed)
	assert.Equal(t, 1, disarmed)
	assert.Equal(t, []string{foreign.ID}, te.sched.Armed())

	armed, disarmed, err = te.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, armed)
	assert.Zero(t, disarmed)

	st := te.Status()
	assert.Equal(t, 1, st.Armed)
	assert.Zero(t, st.PendingRetries)
	assert.Zero(t, st.Running)
}

// A reconcile pass racing the hand-over from a failed run to its retry
// must not arm the job again; the retry still waits out its backoff.
func TestReconcile_KeepsRetryBackoff(t *testing.T) {
	var calls int32
	d := newStubDispatcher(func(context.Context, *schedule.Job) (json.RawMessage, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, errors.New("upstream hiccup")
		}
		return json.RawMessage(`{"ok":true}`), nil
	})
	te := newTestEngine(t, d)
	ctx := context.Background()
	job := te.storeJob(t, &schedule.Job{Kind: schedule.KindOneTime, Schedule: runAt(t0), MaxRetries: 2})

	unlock := te.sched.locks.Lock(job.ID)

	ran := make(chan struct{})
	go func() {
		defer close(ran)
		_, err := te.orch.RunOnce(ctx, job)
		assert.NoError(t, err)
	}()

	// the failure is persisted and the run waits to register its retry
	require.Eventually(t, func() bool {
		got, err := te.jobStore.GetJob(ctx, job.ID)
		return err == nil && got.Status == schedule.StatusPending && te.sched.locks.holders(job.ID) == 2
	}, 5*time.Second, 5*time.Millisecond)

	reconciled := make(chan int, 1)
	go func() {
		armed, _, err := te.Reconcile(ctx)
		assert.NoError(t, err)
		reconciled <- armed
	}()
	require.Eventually(t, func() bool {
		return te.sched.locks.holders(job.ID) == 3
	}, 5*time.Second, 5*time.Millisecond)

	unlock()
	<-ran
	assert.Zero(t, <-reconciled)

	assert.Equal(t, 1, d.count(job.ID))
	assert.True(t, te.sched.HasRetry(job.ID))
	_, armed := te.sched.HandleKind(job.ID)
	assert.False(t, armed)
	assert.Equal(t, []time.Duration{time.Second}, te.clock.delays())

	te.clock.Advance(999 * time.Millisecond)
	assert.Equal(t, 1, d.count(job.ID))

	te.clock.Advance(time.Millisecond)
	assert.Equal(t, 2, d.count(job.ID))
	assert.Equal(t, schedule.StatusCompleted, te.status(t, job.ID))
}

func TestFire_SkippedTimerFiringLeavesAttempt(t *testing.T) {
	d := newStubDispatcher(nil)
	te := newTestEngine(t, d)
	ctx := context.Background()

	busy := te.storeJob(t, &schedule.Job{Kind: schedule.KindRecurring, Schedule: "@hourly", Status: schedule.StatusRunning})
	te.fire(busy.ID, reasonTimer)
	te.fire(busy.ID, reasonOverdue)

	history, err := te.attempts.ListByJob(ctx, busy.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 1, "only the timer firing is recorded")
	assert.Equal(t, schedule.AttemptFailed, history[0].Status)
	assert.Equal(t, "overlapping run skipped", history[0].Error)
	require.NotNil(t, history[0].CompletedAt)

	waiting := te.storeJob(t, &schedule.Job{Kind: schedule.KindRecurring, Schedule: "@hourly"})
	te.sched.ArmRetry(waiting.ID, time.Minute, nil)
	te.fire(waiting.ID, reasonTimer)

	history, err = te.attempts.ListByJob(ctx, waiting.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "retry pending, firing skipped", history[0].Error)

	assert.Zero(t, d.count(busy.ID))
	assert.Zero(t, d.count(waiting.ID))
	assert.Equal(t, schedule.StatusPending, te.status(t, waiting.ID))
}

func TestDeleteJob(t *testing.T) {
	te := newTestEngine(t, newStubDispatcher(nil))
	ctx := context.Background()
	job, err := te.CreateJob(ctx, JobRequest{Title: "t", Type: schedule.TypeHTTP, Kind: schedule.KindRecurring, Schedule: "@hourly"})
	require.NoError(t, err)

	require.NoError(t, te.DeleteJob(ctx, job.ID))
	assert.Empty(t, te.sched.Armed())
	_, err = te.GetJob(ctx, job.ID)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestPassiveEngine_LeavesArmingToDaemon(t *testing.T) {
	d := newStubDispatcher(nil)
	daemon := newTestEngine(t, d)
	ctx := context.Background()

	client := New(daemon.jobStore, daemon.attempts, d, Passive(), WithClock(daemon.clock))
	job, err := client.CreateJob(ctx, JobRequest{
		Title: "t", Type: schedule.TypeHTTP, Kind: schedule.KindOneTime,
		Schedule: t0.Add(-time.Minute).Format(time.RFC3339),
	})
	require.NoError(t, err)
	assert.Equal(t, schedule.StatusScheduled, job.Status)
	assert.Empty(t, client.Scheduler().Armed())
	assert.Zero(t, d.count(job.ID))

	armed, _, err := daemon.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, armed)
	daemon.waitStatus(t, job.ID, schedule.StatusCompleted)
	assert.Equal(t, 1, d.count(job.ID))
}

func TestStop_WaitsForRunsAndRefusesNewWork(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	d := newStubDispatcher(func(context.Context, *schedule.Job) (json.RawMessage, error) {
		close(started)
		<-release
		return nil, nil
	})
	te := newTestEngine(t, d)
	ctx := context.Background()
	job, err := te.CreateJob(ctx, JobRequest{Title: "t", Type: schedule.TypeHTTP, Kind: schedule.KindOneTime, Schedule: runAt(t0)})
	require.NoError(t, err)
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- te.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a run was in progress")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-stopped)
	assert.Equal(t, schedule.StatusCompleted, te.status(t, job.ID))

	_, err = te.ScheduleJob(ctx, job.ID)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestStop_DeadlineCancelsRuns(t *testing.T) {
	d := newStubDispatcher(func(ctx context.Context, _ *schedule.Job) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	te := newTestEngine(t, d)
	job, err := te.CreateJob(context.Background(), JobRequest{Title: "t", Type: schedule.TypeHTTP, Kind: schedule.KindOneTime, Schedule: runAt(t0)})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return te.running.has(job.ID) }, 5*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, te.Stop(ctx), context.DeadlineExceeded)
	assert.Zero(t, te.running.count())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	d := newStubDispatcher(func(context.Context, *schedule.Job) (json.RawMessage, error) {
		return nil, errors.New("boom")
	})
	te := newTestEngine(t, d, WithMetrics(NewMetrics(reg)))
	ctx := context.Background()

	job, err := te.CreateJob(ctx, JobRequest{
		Title: "t", Type: schedule.TypeHTTP, Kind: schedule.KindRecurring, Schedule: "@hourly",
		MaxRetries: util.Ptr(0),
	})
	require.NoError(t, err)
	_, err = te.ExecuteNow(ctx, job.ID)
	require.NoError(t, err)

	m := te.metrics
	assert.Equal(t, 1.0, testutil.ToFloat64(m.firings.WithLabelValues(reasonManual)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("http", outcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.terminalFailures))
	assert.Zero(t, testutil.ToFloat64(m.retriesArmed))

	n, err := testutil.GatherAndCount(reg, "cadence_engine_armed_handles", "cadence_engine_running_jobs")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestConfigFrom(t *testing.T) {
	cfg, err := ConfigFrom(am.EngineConfig{
		RetryBaseMS:              500,
		RetryCapMS:               4000,
		DefaultMaxRetries:        5,
		ReconcileIntervalSeconds: 10,
		Timezone:                 "Europe/Berlin",
	})
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBase)
	assert.Equal(t, 4*time.Second, cfg.RetryCap)
	assert.Equal(t, 5, cfg.DefaultMaxRetries)
	assert.Equal(t, 10*time.Second, cfg.ReconcileInterval)
	assert.Equal(t, "Europe/Berlin", cfg.Location.String())

	_, err = ConfigFrom(am.EngineConfig{Timezone: "Mars/Olympus_Mons"})
	assert.Error(t, err)
}
