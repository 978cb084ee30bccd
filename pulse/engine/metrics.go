package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricNamespace = "cadence"
	metricSubsystem = "engine"

	labelReason  = "reason"
	labelType    = "type"
	labelOutcome = "outcome"

	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeRetrying  = "retrying"
	outcomeRefused   = "refused"
	outcomeSkipped   = "skipped"
)

// Metrics holds the engine's Prometheus collectors.
// A nil *Metrics records nothing.
type Metrics struct {
	firings          *prometheus.CounterVec
	attempts         *prometheus.CounterVec
	attemptDuration  *prometheus.HistogramVec
	retriesArmed     prometheus.Counter
	terminalFailures prometheus.Counter

	reg prometheus.Registerer
}

// NewMetrics creates the engine collectors and registers them with r.
// Passing a nil Registerer returns nil.
func NewMetrics(r prometheus.Registerer) *Metrics {
	if r == nil {
		return nil
	}
	m := &Metrics{
		firings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: metricSubsystem,
			Name:      "firings_total",
			Help:      "Count of job firings by trigger reason.",
		}, []string{labelReason}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: metricSubsystem,
			Name:      "attempts_total",
			Help:      "Count of finished execution attempts by job type and outcome.",
		}, []string{labelType, labelOutcome}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricNamespace,
			Subsystem: metricSubsystem,
			Name:      "attempt_duration_seconds",
			Help:      "Histogram of execution attempt durations by job type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{labelType}),
		retriesArmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: metricSubsystem,
			Name:      "retries_armed_total",
			Help:      "Count of delayed retries armed after a failed attempt.",
		}),
		terminalFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: metricSubsystem,
			Name:      "terminal_failures_total",
			Help:      "Count of jobs that failed with no further automatic runs.",
		}),
		reg: r,
	}
	r.MustRegister(m.firings, m.attempts, m.attemptDuration, m.retriesArmed, m.terminalFailures)
	return m
}

// registerGauges exposes live scheduler state sampled at scrape time
func (m *Metrics) registerGauges(handles, retries, running func() int) {
	if m == nil {
		return
	}
	gauge := func(name, help string, f func() int) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricNamespace,
			Subsystem: metricSubsystem,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(f()) })
	}
	m.reg.MustRegister(
		gauge("armed_handles", "Number of jobs with an armed timer or trigger.", handles),
		gauge("pending_retries", "Number of armed retry timers.", retries),
		gauge("running_jobs", "Number of jobs with an attempt in progress.", running),
	)
}

func (m *Metrics) fired(reason string) {
	if m == nil {
		return
	}
	m.firings.WithLabelValues(reason).Inc()
}

func (m *Metrics) attemptFinished(jobType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(jobType, outcome).Inc()
	if outcome != outcomeRefused {
		m.attemptDuration.WithLabelValues(jobType).Observe(d.Seconds())
	}
}

func (m *Metrics) retryArmed() {
	if m == nil {
		return
	}
	m.retriesArmed.Inc()
}

func (m *Metrics) terminalFailure() {
	if m == nil {
		return
	}
	m.terminalFailures.Inc()
}
