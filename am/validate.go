package am

import "github.com/teranos/cadence/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path cannot be empty")
	}

	// Backoff: base must be positive, the cap cannot undercut it
	if c.Engine.RetryBaseMS <= 0 {
		return errors.Newf("engine.retry_base_ms must be > 0, got %d", c.Engine.RetryBaseMS)
	}
	if c.Engine.RetryCapMS < c.Engine.RetryBaseMS {
		return errors.Newf("engine.retry_cap_ms (%d) must be >= engine.retry_base_ms (%d)",
			c.Engine.RetryCapMS, c.Engine.RetryBaseMS)
	}
	if c.Engine.DefaultMaxRetries < 0 {
		return errors.Newf("engine.default_max_retries must be >= 0, got %d", c.Engine.DefaultMaxRetries)
	}
	if c.Engine.ReconcileIntervalSeconds < 0 {
		return errors.Newf("engine.reconcile_interval_seconds must be >= 0, got %d", c.Engine.ReconcileIntervalSeconds)
	}
	if _, err := c.Engine.Location(); err != nil {
		return errors.Wrapf(err, "engine.timezone %q", c.Engine.Timezone)
	}

	if c.Executor.HTTP.TimeoutSeconds < 0 {
		return errors.Newf("executor.http.timeout_seconds must be >= 0, got %d", c.Executor.HTTP.TimeoutSeconds)
	}
	if c.Executor.HTTP.RequestsPerSecond < 0 {
		return errors.Newf("executor.http.requests_per_second must be >= 0, got %f", c.Executor.HTTP.RequestsPerSecond)
	}
	if c.Executor.Script.TimeoutSeconds < 0 {
		return errors.Newf("executor.script.timeout_seconds must be >= 0, got %d", c.Executor.Script.TimeoutSeconds)
	}
	if c.Executor.Wasm.TimeoutSeconds <= 0 {
		return errors.Newf("executor.wasm.timeout_seconds must be > 0, got %d", c.Executor.Wasm.TimeoutSeconds)
	}
	if c.Executor.Wasm.MemoryLimitPages <= 0 || c.Executor.Wasm.MemoryLimitPages > 65536 {
		return errors.Newf("executor.wasm.memory_limit_pages must be in 1..65536, got %d", c.Executor.Wasm.MemoryLimitPages)
	}

	if c.Notify.RetryMax < 0 {
		return errors.Newf("notify.retry_max must be >= 0, got %d", c.Notify.RetryMax)
	}

	return nil
}
