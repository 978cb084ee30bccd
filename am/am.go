// Package am loads cadence configuration ("I am"): database location, logging,
// engine retry policy, executor limits and notification endpoints.
package am

import "time"

// Config represents the cadence configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database" toml:"database"`
	Log      LogConfig      `mapstructure:"log" toml:"log"`
	Engine   EngineConfig   `mapstructure:"engine" toml:"engine"`
	Executor ExecutorConfig `mapstructure:"executor" toml:"executor"`
	Notify   NotifyConfig   `mapstructure:"notify" toml:"notify"`
	Metrics  MetricsConfig  `mapstructure:"metrics" toml:"metrics"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// LogConfig configures the global zap logger
type LogConfig struct {
	JSON       bool   `mapstructure:"json" toml:"json"`
	Level      string `mapstructure:"level" toml:"level"`               // debug, info, warn, error
	File       string `mapstructure:"file" toml:"file"`                 // optional rotated log file
	MaxSizeMB  int    `mapstructure:"max_size_mb" toml:"max_size_mb"`   // rotate after this size
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups"`   // rotated files kept
	MaxAgeDays int    `mapstructure:"max_age_days" toml:"max_age_days"` // rotated files age limit
}

// EngineConfig configures scheduling and the retry policy
type EngineConfig struct {
	RetryBaseMS              int    `mapstructure:"retry_base_ms" toml:"retry_base_ms"`                           // first retry delay
	RetryCapMS               int    `mapstructure:"retry_cap_ms" toml:"retry_cap_ms"`                             // backoff ceiling
	DefaultMaxRetries        int    `mapstructure:"default_max_retries" toml:"default_max_retries"`               // for jobs created without one
	ReconcileIntervalSeconds int    `mapstructure:"reconcile_interval_seconds" toml:"reconcile_interval_seconds"` // 0 = no reconcile ticker
	Timezone                 string `mapstructure:"timezone" toml:"timezone"`                                     // location for cron expressions
}

// RetryBase returns the backoff base as a duration
func (e EngineConfig) RetryBase() time.Duration {
	return time.Duration(e.RetryBaseMS) * time.Millisecond
}

// RetryCap returns the backoff ceiling as a duration
func (e EngineConfig) RetryCap() time.Duration {
	return time.Duration(e.RetryCapMS) * time.Millisecond
}

// Location resolves Timezone, falling back to UTC when unset
func (e EngineConfig) Location() (*time.Location, error) {
	if e.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(e.Timezone)
}

// ExecutorConfig configures the job type strategies
type ExecutorConfig struct {
	HTTP   HTTPExecutorConfig   `mapstructure:"http" toml:"http"`
	Script ScriptExecutorConfig `mapstructure:"script" toml:"script"`
	Wasm   WasmExecutorConfig   `mapstructure:"wasm" toml:"wasm"`
}

// HTTPExecutorConfig configures network-call jobs
type HTTPExecutorConfig struct {
	TimeoutSeconds    int      `mapstructure:"timeout_seconds" toml:"timeout_seconds"`
	BlockPrivateIPs   bool     `mapstructure:"block_private_ips" toml:"block_private_ips"`
	AllowedSchemes    []string `mapstructure:"allowed_schemes" toml:"allowed_schemes"`
	RequestsPerSecond float64  `mapstructure:"requests_per_second" toml:"requests_per_second"` // 0 = unlimited
	Burst             int      `mapstructure:"burst" toml:"burst"`
}

// ScriptExecutorConfig configures external-script jobs
type ScriptExecutorConfig struct {
	Interpreter    string `mapstructure:"interpreter" toml:"interpreter"` // e.g. "node"; empty runs the script directly
	WorkDir        string `mapstructure:"work_dir" toml:"work_dir"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" toml:"timeout_seconds"` // 0 = no timeout
	InheritEnv     bool   `mapstructure:"inherit_env" toml:"inherit_env"`
}

// WasmExecutorConfig configures sandboxed inline-function jobs
type WasmExecutorConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds" toml:"timeout_seconds"`
	MemoryLimitPages int `mapstructure:"memory_limit_pages" toml:"memory_limit_pages"` // 64KiB pages
}

// NotifyConfig configures notification delivery (email jobs and failure alerts)
type NotifyConfig struct {
	WebhookURL      string `mapstructure:"webhook_url" toml:"webhook_url"` // empty = log only
	RetryMax        int    `mapstructure:"retry_max" toml:"retry_max"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds" toml:"timeout_seconds"`
	NotifyOnFailure bool   `mapstructure:"notify_on_failure" toml:"notify_on_failure"`
}

// MetricsConfig configures the Prometheus endpoint served by the daemon
type MetricsConfig struct {
	Address string `mapstructure:"address" toml:"address"` // e.g. ":9477"; empty disables
}

// File and directory permission constants
const (
	DefaultDirPermissions = 0755
)
