package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/schedule"
)

// maxCapturedOutput bounds captured stdout and stderr per stream
const maxCapturedOutput = 1 << 20

// ScriptPayload describes an external-script job.
// Command is a shell-quoted command line and wins over ScriptPath.
type ScriptPayload struct {
	ScriptPath  string            `json:"script_path,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Command     string            `json:"command,omitempty"`
	Interpreter string            `json:"interpreter,omitempty"` // overrides ScriptOptions.Interpreter
	Env         map[string]string `json:"env,omitempty"`
}

// ScriptOptions configures the script strategy
type ScriptOptions struct {
	Interpreter string        // e.g. "node"; empty executes the script directly
	WorkDir     string        // empty = current directory
	Timeout     time.Duration // 0 = no timeout
	InheritEnv  bool          // pass the engine's environment to scripts
}

// ScriptStrategy launches scripts as child processes.
// No shell is involved: arguments go straight to exec.
type ScriptStrategy struct {
	opts   ScriptOptions
	logger *zap.SugaredLogger
}

// NewScriptStrategy creates the external-script strategy
func NewScriptStrategy(opts ScriptOptions, logger *zap.SugaredLogger) *ScriptStrategy {
	return &ScriptStrategy{opts: opts, logger: logger}
}

// Type implements Strategy
func (s *ScriptStrategy) Type() schedule.JobType { return schedule.TypeScript }

// Execute implements Strategy
func (s *ScriptStrategy) Execute(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var p ScriptPayload
	if err := decodePayload(schedule.TypeScript, payload, &p); err != nil {
		return nil, err
	}

	argv, err := s.argv(p)
	if err != nil {
		return nil, &schedule.ExecutionError{Type: schedule.TypeScript, Err: err}
	}

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = s.opts.WorkDir
	cmd.Env = s.env(p.Env)
	cmd.WaitDelay = 2 * time.Second

	stdout := &cappedBuffer{max: maxCapturedOutput}
	stderr := &cappedBuffer{max: maxCapturedOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()
	logger.FromContext(ctx, s.logger).Debugw("Script finished",
		"argv0", argv[0],
		"args", len(argv)-1,
		logger.FieldDurationMS, time.Since(start).Milliseconds(),
		logger.FieldError, runErr,
	)

	if runErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			runErr = errors.Wrap(ctxErr, runErr.Error())
		}
		return nil, &schedule.ScriptExecutionError{
			ExitCode: exitCode,
			Stderr:   stderr.String(),
			Err:      runErr,
		}
	}

	return jsonResult(stdout.Bytes()), nil
}

func (s *ScriptStrategy) argv(p ScriptPayload) ([]string, error) {
	if p.Command != "" {
		words, err := shellquote.Split(p.Command)
		if err != nil {
			return nil, errors.Wrap(err, "invalid command line")
		}
		if len(words) == 0 {
			return nil, errors.New("command is empty")
		}
		return append(words, p.Args...), nil
	}

	if p.ScriptPath == "" {
		return nil, errors.New("payload must set script_path or command")
	}

	interpreter := p.Interpreter
	if interpreter == "" {
		interpreter = s.opts.Interpreter
	}
	if interpreter == "" {
		return append([]string{p.ScriptPath}, p.Args...), nil
	}

	// The interpreter setting may carry flags, e.g. "python3 -u"
	argv, err := shellquote.Split(interpreter)
	if err != nil {
		return nil, errors.Wrap(err, "invalid interpreter")
	}
	argv = append(argv, p.ScriptPath)
	return append(argv, p.Args...), nil
}

func (s *ScriptStrategy) env(extra map[string]string) []string {
	var env []string
	if s.opts.InheritEnv {
		env = os.Environ()
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	if env == nil {
		// nil would mean "inherit" to os/exec
		env = []string{}
	}
	return env
}

// cappedBuffer keeps the first max bytes and silently drops the rest
type cappedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) Bytes() []byte  { return b.buf.Bytes() }
func (b *cappedBuffer) String() string { return b.buf.String() }
