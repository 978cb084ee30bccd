package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/pulse/schedule"
)

// Func is a trusted function compiled into the binary
type Func func(ctx context.Context, params json.RawMessage) (json.RawMessage, error)

// FunctionTable holds the named functions inline-function jobs may call
type FunctionTable struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewFunctionTable creates a table pre-loaded with the builtin functions
func NewFunctionTable() *FunctionTable {
	t := &FunctionTable{funcs: make(map[string]Func)}
	t.MustRegister("echo", echoFunc)
	t.MustRegister("now", nowFunc)
	return t
}

// Register adds fn under name
func (t *FunctionTable) Register(name string, fn Func) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if name == "" {
		return errors.New("function name is required")
	}
	if _, exists := t.funcs[name]; exists {
		return errors.Newf("function %q already registered", name)
	}
	t.funcs[name] = fn
	return nil
}

// MustRegister is Register for init-time wiring
func (t *FunctionTable) MustRegister(name string, fn Func) {
	if err := t.Register(name, fn); err != nil {
		panic(err)
	}
}

// Lookup returns the function registered under name
func (t *FunctionTable) Lookup(name string) (Func, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn, ok := t.funcs[name]
	return fn, ok
}

// Names lists the registered functions, sorted
func (t *FunctionTable) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.funcs))
	for name := range t.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func echoFunc(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	if len(params) == 0 {
		return json.RawMessage("null"), nil
	}
	return params, nil
}

func nowFunc(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(map[string]string{"now": time.Now().UTC().Format(time.RFC3339Nano)})
}

// FunctionPayload describes an inline-function job.
// Exactly one of Function and Wasm must be set.
type FunctionPayload struct {
	Function string          `json:"function,omitempty"` // name in the FunctionTable
	Wasm     string          `json:"wasm,omitempty"`     // base64 WASI module
	Params   json.RawMessage `json:"params,omitempty"`
}

// FunctionStrategy runs compiled-in functions or sandboxed wasm modules.
// Job payloads never cause host code to be evaluated.
type FunctionStrategy struct {
	table *FunctionTable
	wasm  *WasmRunner // nil disables wasm payloads
}

// NewFunctionStrategy creates the inline-function strategy
func NewFunctionStrategy(table *FunctionTable, wasm *WasmRunner) *FunctionStrategy {
	return &FunctionStrategy{table: table, wasm: wasm}
}

// Type implements Strategy
func (s *FunctionStrategy) Type() schedule.JobType { return schedule.TypeFunction }

// Execute implements Strategy
func (s *FunctionStrategy) Execute(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var p FunctionPayload
	if err := decodePayload(schedule.TypeFunction, payload, &p); err != nil {
		return nil, err
	}

	switch {
	case p.Function != "" && p.Wasm != "":
		return nil, s.fail(errors.New("payload sets both function and wasm"))

	case p.Function != "":
		fn, ok := s.table.Lookup(p.Function)
		if !ok {
			return nil, s.fail(errors.Newf("function %q is not registered", p.Function))
		}
		out, err := fn(ctx, p.Params)
		if err != nil {
			return nil, s.fail(errors.Wrapf(err, "function %s", p.Function))
		}
		return out, nil

	case p.Wasm != "":
		if s.wasm == nil {
			return nil, s.fail(errors.New("wasm functions are disabled"))
		}
		module, err := base64.StdEncoding.DecodeString(p.Wasm)
		if err != nil {
			return nil, s.fail(errors.Wrap(err, "wasm module is not valid base64"))
		}
		out, err := s.wasm.Run(ctx, module, p.Params)
		if err != nil {
			return nil, s.fail(err)
		}
		return out, nil

	default:
		return nil, s.fail(errors.New("payload must set function or wasm"))
	}
}

func (s *FunctionStrategy) fail(err error) error {
	return &schedule.ExecutionError{Type: schedule.TypeFunction, Err: err}
}
