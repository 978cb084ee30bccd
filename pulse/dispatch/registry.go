// Package dispatch routes a job to the strategy registered for its type.
//
// Strategies perform the job's work and return a JSON result. They never
// touch the job store: status bookkeeping belongs to the engine.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/schedule"
)

// Strategy executes one job type
type Strategy interface {
	// Type returns the job type this strategy handles
	Type() schedule.JobType

	// Execute performs the work described by payload.
	// ctx cancellation must abort in-flight I/O.
	Execute(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
}

// Registry maps job types to strategies.
// Thread-safe for concurrent registration and dispatch.
type Registry struct {
	mu         sync.RWMutex
	strategies map[schedule.JobType]Strategy
	logger     *zap.SugaredLogger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.SugaredLogger) *Registry {
	return &Registry{
		strategies: make(map[schedule.JobType]Strategy),
		logger:     logger,
	}
}

// Register adds a strategy.
// Panics if a strategy is already registered for that type.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := s.Type()
	if _, exists := r.strategies[t]; exists {
		panic(fmt.Sprintf("strategy already registered for job type: %s", t))
	}
	r.strategies[t] = s
}

// Supports reports whether a strategy is registered for t
func (r *Registry) Supports(t schedule.JobType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.strategies[t]
	return ok
}

// Types returns the registered job types, sorted
func (r *Registry) Types() []schedule.JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]schedule.JobType, 0, len(r.strategies))
	for t := range r.strategies {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Dispatch runs the job through its strategy.
//
// Unknown types fail with UnsupportedJobTypeError before any strategy runs.
// Panics are recovered into ExecutionError, and untyped strategy errors are
// wrapped in ExecutionError so callers only see the schedule error types.
func (r *Registry) Dispatch(ctx context.Context, job *schedule.Job) (out json.RawMessage, err error) {
	r.mu.RLock()
	strategy, ok := r.strategies[job.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, &schedule.UnsupportedJobTypeError{Type: job.Type}
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = &schedule.ExecutionError{Type: job.Type, Err: errors.Newf("panic: %v", p)}
		}
		if err != nil {
			r.logger.Debugw("Strategy failed",
				logger.FieldJobID, job.ID,
				logger.FieldStrategy, job.Type,
				logger.FieldDurationMS, time.Since(start).Milliseconds(),
				logger.FieldError, err,
			)
		}
	}()

	out, err = strategy.Execute(ctx, job.Payload)
	if err != nil && schedule.ErrorType(err) == "other" {
		err = &schedule.ExecutionError{Type: job.Type, Err: err}
	}
	return out, err
}

// decodePayload unmarshals a strategy payload, rejecting unknown shapes early
func decodePayload(t schedule.JobType, payload json.RawMessage, v interface{}) error {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return &schedule.ExecutionError{Type: t, Err: errors.Wrap(err, "invalid payload")}
	}
	return nil
}

// jsonResult returns raw when it is valid JSON, otherwise raw as a JSON string
func jsonResult(raw []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	b, _ := json.Marshal(string(trimmed))
	return b
}
