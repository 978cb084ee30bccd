package commands

import (
	"context"
	"database/sql"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/teranos/cadence/am"
	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/internal/httpclient"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/notify"
	"github.com/teranos/cadence/pulse/dispatch"
	"github.com/teranos/cadence/pulse/engine"
	"github.com/teranos/cadence/pulse/schedule"
)

// runtime is everything a command needs to drive the engine
type runtime struct {
	db     *sql.DB
	engine *engine.Engine
	wasm   *dispatch.WasmRunner
}

// runtimeOptions selects how the engine is assembled
type runtimeOptions struct {
	passive  bool                  // client commands leave arming to the daemon
	registry prometheus.Registerer // nil disables metrics
}

// openRuntime opens the database and assembles an engine from config
func openRuntime(ctx context.Context, opts runtimeOptions) (*runtime, error) {
	database, err := openDatabase()
	if err != nil {
		return nil, err
	}

	log := logger.ComponentLogger("engine")
	sink := buildSink(config.Notify, log)
	registry, wasm, err := buildRegistry(ctx, config.Executor, sink, log)
	if err != nil {
		database.Close()
		return nil, err
	}

	engineCfg, err := engine.ConfigFrom(config.Engine)
	if err != nil {
		_ = wasm.Close(ctx)
		database.Close()
		return nil, err
	}

	engineOpts := []engine.Option{
		engine.WithConfig(engineCfg),
		engine.WithLogger(log),
		engine.WithNotifier(notify.NewFailureNotifier(sink, config.Notify.NotifyOnFailure, log.Named("notify"))),
		engine.WithMetrics(engine.NewMetrics(opts.registry)),
	}
	if opts.passive {
		engineOpts = append(engineOpts, engine.Passive())
	}

	eng := engine.New(
		schedule.NewStore(database),
		schedule.NewAttemptStore(database),
		registry,
		engineOpts...,
	)
	return &runtime{db: database, engine: eng, wasm: wasm}, nil
}

// Close stops the engine and releases the sandbox and the database
func (r *runtime) Close(ctx context.Context) error {
	var result *multierror.Error
	if err := r.engine.Stop(ctx); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "engine stop"))
	}
	if err := r.wasm.Close(context.WithoutCancel(ctx)); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "wasm runtime"))
	}
	if err := r.db.Close(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "database"))
	}
	return result.ErrorOrNil()
}

// buildRegistry registers one strategy per job type
func buildRegistry(ctx context.Context, exec am.ExecutorConfig, sink notify.Notifier, log *zap.SugaredLogger) (*dispatch.Registry, *dispatch.WasmRunner, error) {
	client := httpclient.New(httpclient.Options{
		Timeout:           seconds(exec.HTTP.TimeoutSeconds),
		AllowedSchemes:    exec.HTTP.AllowedSchemes,
		BlockPrivateIP:    exec.HTTP.BlockPrivateIPs,
		RequestsPerSecond: exec.HTTP.RequestsPerSecond,
		Burst:             exec.HTTP.Burst,
	})

	wasm, err := dispatch.NewWasmRunner(ctx, dispatch.WasmOptions{
		Timeout:          seconds(exec.Wasm.TimeoutSeconds),
		MemoryLimitPages: uint32(exec.Wasm.MemoryLimitPages),
	}, log.Named("wasm"))
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to start wasm runtime")
	}

	registry := dispatch.NewRegistry(log.Named("dispatch"))
	registry.Register(dispatch.NewHTTPStrategy(client, log.Named("http")))
	registry.Register(dispatch.NewFunctionStrategy(dispatch.NewFunctionTable(), wasm))
	registry.Register(dispatch.NewScriptStrategy(dispatch.ScriptOptions{
		Interpreter: exec.Script.Interpreter,
		WorkDir:     exec.Script.WorkDir,
		Timeout:     seconds(exec.Script.TimeoutSeconds),
		InheritEnv:  exec.Script.InheritEnv,
	}, log.Named("script")))
	registry.Register(dispatch.NewEmailStrategy(sink))

	return registry, wasm, nil
}

// buildSink delivers notifications to the webhook when one is configured,
// and to the log otherwise
func buildSink(cfg am.NotifyConfig, log *zap.SugaredLogger) notify.Notifier {
	if cfg.WebhookURL == "" {
		return notify.NewLogNotifier(log.Named("notify"))
	}
	return notify.NewWebhookNotifier(notify.WebhookOptions{
		URL:      cfg.WebhookURL,
		RetryMax: cfg.RetryMax,
		Timeout:  seconds(cfg.TimeoutSeconds),
	}, log.Named("notify"))
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
