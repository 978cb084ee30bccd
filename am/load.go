package am

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/teranos/cadence/errors"
)

// ConfigFileName is the project-level config file searched for upwards from the working directory
const ConfigFileName = "cadence.toml"

// Load reads configuration from the standard locations and CADENCE_* environment variables.
// Precedence (lowest to highest): defaults < system < user < project < env vars.
func Load() (*Config, error) {
	return LoadWithViper(newViper())
}

// LoadFromFile loads configuration from a specific file path on top of the defaults
func LoadFromFile(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	if err := v.MergeInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}
	return LoadWithViper(v)
}

// LoadWithViper unmarshals and validates configuration from a prepared Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return &config, nil
}

// newViper initializes Viper with defaults, config files and environment binding
func newViper() *viper.Viper {
	v := viper.New()

	v.SetEnvPrefix("CADENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)
	mergeConfigFiles(v)

	return v
}

// findProjectConfig searches for cadence.toml by walking up the directory tree
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		candidate := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// ConfigPaths lists the config files Load considers, lowest precedence first.
// The project file is only listed when one is found.
func ConfigPaths() []string {
	configPaths := []string{"/etc/cadence/config.toml"}

	if homeDir, err := os.UserHomeDir(); err == nil {
		configPaths = append(configPaths, filepath.Join(homeDir, ".cadence", "config.toml"))
	}
	if project := findProjectConfig(); project != "" {
		configPaths = append(configPaths, project)
	}
	return configPaths
}

// mergeConfigFiles merges configuration files in precedence order.
// Missing or unreadable files are skipped.
func mergeConfigFiles(v *viper.Viper) {
	for _, configPath := range ConfigPaths() {
		if _, err := os.Stat(configPath); err != nil {
			continue
		}
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		_ = v.MergeInConfig()
	}
}

// DatabasePathEnv overrides database.path from every config file
const DatabasePathEnv = "CADENCE_DB_PATH"

// DatabasePath returns the database path, honoring CADENCE_DB_PATH
func (c *Config) DatabasePath() string {
	if dbPath := os.Getenv(DatabasePathEnv); dbPath != "" {
		return dbPath
	}
	return c.Database.Path
}
