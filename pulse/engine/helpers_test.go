package engine

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cadencetest "github.com/teranos/cadence/internal/testing"
	"github.com/teranos/cadence/pulse/schedule"
)

// t0 is the fake clock's starting instant, half a minute past midnight
var t0 = time.Date(2026, 1, 1, 0, 0, 30, 0, time.UTC)

// fakeClock fires timers synchronously from Advance
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward and runs every timer that came due, in order
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	live := c.timers[:0]
	for _, t := range c.timers {
		switch {
		case t.stopped:
		case !t.at.After(c.now):
			t.fired = true
			due = append(due, t)
		default:
			live = append(live, t)
		}
	}
	c.timers = live
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

// delays returns the remaining time of every live timer, shortest first
func (c *fakeClock) delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t.at.Sub(c.now))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// stubDispatcher records calls and answers with fn
type stubDispatcher struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(ctx context.Context, job *schedule.Job) (json.RawMessage, error)
}

func newStubDispatcher(fn func(ctx context.Context, job *schedule.Job) (json.RawMessage, error)) *stubDispatcher {
	if fn == nil {
		fn = func(context.Context, *schedule.Job) (json.RawMessage, error) {
			return json.RawMessage(`{"ok":true}`), nil
		}
	}
	return &stubDispatcher{calls: make(map[string]int), fn: fn}
}

func (d *stubDispatcher) Dispatch(ctx context.Context, job *schedule.Job) (json.RawMessage, error) {
	d.mu.Lock()
	d.calls[job.ID]++
	d.mu.Unlock()
	return d.fn(ctx, job)
}

func (d *stubDispatcher) Supports(t schedule.JobType) bool { return t.Valid() }

func (d *stubDispatcher) count(jobID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[jobID]
}

// recordingNotifier counts terminal failure notifications
type recordingNotifier struct {
	mu    sync.Mutex
	jobs  []string
	cause []error
}

func (n *recordingNotifier) Notify(_ context.Context, job *schedule.Job, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.jobs = append(n.jobs, job.ID)
	n.cause = append(n.cause, err)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.jobs)
}

type testEngine struct {
	*Engine
	clock    *fakeClock
	jobStore *schedule.Store
	attempts *schedule.AttemptStore
}

func newTestEngine(t *testing.T, d Dispatcher, opts ...Option) *testEngine {
	t.Helper()
	conn := cadencetest.CreateTestDB(t)
	jobs := schedule.NewStore(conn)
	attempts := schedule.NewAttemptStore(conn)
	clock := newFakeClock(t0)

	cfg := DefaultConfig()
	cfg.ReconcileInterval = 0

	all := append([]Option{
		WithClock(clock),
		WithConfig(cfg),
		WithLogger(zap.NewNop().Sugar()),
	}, opts...)
	e := New(jobs, attempts, d, all...)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Stop(ctx)
	})
	return &testEngine{Engine: e, clock: clock, jobStore: jobs, attempts: attempts}
}

// storeJob inserts a job directly, as another process would
func (te *testEngine) storeJob(t *testing.T, job *schedule.Job) *schedule.Job {
	t.Helper()
	if job.Title == "" {
		job.Title = "test job"
	}
	if job.Type == "" {
		job.Type = schedule.TypeHTTP
	}
	job.Active = true
	require.NoError(t, te.jobStore.CreateJob(context.Background(), job))
	return job
}

func (te *testEngine) status(t *testing.T, jobID string) schedule.Status {
	t.Helper()
	job, err := te.jobStore.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	return job.Status
}

func (te *testEngine) waitStatus(t *testing.T, jobID string, want schedule.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := te.jobStore.GetJob(context.Background(), jobID)
		return err == nil && job.Status == want
	}, 5*time.Second, 10*time.Millisecond, "job %s never reached %s", jobID, want)
}

func runAt(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// holders reports how many goroutines hold or wait on key's lock
func (k *keyedMutex) holders(key string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	if m, ok := k.locks[key]; ok {
		return m.refs
	}
	return 0
}
