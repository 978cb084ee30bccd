package dispatch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/teranos/cadence/errors"
)

// maxCachedModules bounds the compiled module cache
const maxCachedModules = 64

// WasmOptions bounds sandboxed execution
type WasmOptions struct {
	Timeout          time.Duration // Default: 5s
	MemoryLimitPages uint32        // 64KiB pages; Default: 256 (16MiB)
}

// WasmRunner executes WASI modules in a wazero sandbox.
//
// Protocol: params JSON on stdin, result JSON on stdout, diagnostics on
// stderr. The module's _start runs once per call in a fresh instance.
type WasmRunner struct {
	rt      wazero.Runtime
	timeout time.Duration
	logger  *zap.SugaredLogger

	mu       sync.Mutex
	compiled map[[32]byte]wazero.CompiledModule
}

// NewWasmRunner creates the runtime and instantiates WASI. Call Close when done.
func NewWasmRunner(ctx context.Context, opts WasmOptions, logger *zap.SugaredLogger) (*WasmRunner, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MemoryLimitPages == 0 {
		opts.MemoryLimitPages = 256
	}

	cfg := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithMemoryLimitPages(opts.MemoryLimitPages)
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, errors.Wrap(err, "failed to instantiate WASI")
	}

	logger.Infow("Wasm runtime initialized",
		"timeout", opts.Timeout,
		"memory_limit_pages", opts.MemoryLimitPages,
	)

	return &WasmRunner{
		rt:       rt,
		timeout:  opts.Timeout,
		logger:   logger,
		compiled: make(map[[32]byte]wazero.CompiledModule),
	}, nil
}

// Run executes module with params on stdin and returns its stdout
func (w *WasmRunner) Run(ctx context.Context, module []byte, params json.RawMessage) (json.RawMessage, error) {
	compiled, cached, err := w.compile(ctx, module)
	if err != nil {
		return nil, err
	}
	if !cached {
		defer compiled.Close(context.Background())
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	var stdout, stderr bytes.Buffer
	modCfg := wazero.NewModuleConfig().
		WithStdin(bytes.NewReader(params)).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithStartFunctions("_start").
		WithName("") // anonymous, so concurrent calls do not collide

	mod, err := w.rt.InstantiateModule(ctx, compiled, modCfg)
	if mod != nil {
		defer mod.Close(ctx)
	}
	if stderrMsg := stderr.String(); stderrMsg != "" {
		w.logger.Debugw("Wasm stderr", "stderr", stderrMsg)
	}
	if err != nil {
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) {
			switch exitErr.ExitCode() {
			case 0:
				// proc_exit(0) is a normal return
			case sys.ExitCodeDeadlineExceeded:
				return nil, errors.Newf("wasm module timed out after %s", w.timeout)
			case sys.ExitCodeContextCanceled:
				return nil, errors.Wrap(ctx.Err(), "wasm module cancelled")
			default:
				return nil, errors.Newf("wasm module exited with code %d: %s", exitErr.ExitCode(), stderr.String())
			}
		} else {
			return nil, errors.Wrap(err, "wasm module failed")
		}
	}

	if stdout.Len() == 0 {
		return json.RawMessage(`{"status":"ok"}`), nil
	}
	return jsonResult(stdout.Bytes()), nil
}

// compile validates and compiles module, reusing earlier compilations of the
// same bytes. Once the cache is full new modules are compiled per call and
// cached is false; the caller must close those.
func (w *WasmRunner) compile(ctx context.Context, module []byte) (c wazero.CompiledModule, cached bool, err error) {
	key := sha256.Sum256(module)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.compiled == nil {
		return nil, false, errors.New("wasm runner is closed")
	}
	if c, ok := w.compiled[key]; ok {
		return c, true, nil
	}

	c, err = w.rt.CompileModule(ctx, module)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to compile wasm module")
	}

	if len(w.compiled) >= maxCachedModules {
		return c, false, nil
	}
	w.compiled[key] = c
	return c, true, nil
}

// Close releases the runtime and every compiled module
func (w *WasmRunner) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.compiled = nil
	return w.rt.Close(ctx)
}
