package am

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "cadence.db")

	// Logging defaults
	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 28)

	// Engine defaults: 1s, 2s, 4s ... capped at 30s
	v.SetDefault("engine.retry_base_ms", 1000)
	v.SetDefault("engine.retry_cap_ms", 30000)
	v.SetDefault("engine.default_max_retries", 3)
	v.SetDefault("engine.reconcile_interval_seconds", 5)
	v.SetDefault("engine.timezone", "UTC")

	// Network-call jobs
	v.SetDefault("executor.http.timeout_seconds", 30)
	v.SetDefault("executor.http.block_private_ips", false)
	v.SetDefault("executor.http.allowed_schemes", []string{"http", "https"})
	v.SetDefault("executor.http.requests_per_second", 0)
	v.SetDefault("executor.http.burst", 1)

	// External-script jobs
	v.SetDefault("executor.script.interpreter", "")
	v.SetDefault("executor.script.timeout_seconds", 0)
	v.SetDefault("executor.script.inherit_env", true)

	// Sandboxed inline functions: 5s and 16MiB
	v.SetDefault("executor.wasm.timeout_seconds", 5)
	v.SetDefault("executor.wasm.memory_limit_pages", 256)

	// Notifications
	v.SetDefault("notify.retry_max", 3)
	v.SetDefault("notify.timeout_seconds", 10)
	v.SetDefault("notify.notify_on_failure", true)
}
