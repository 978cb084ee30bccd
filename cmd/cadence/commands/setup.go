// Package commands implements the cadence CLI
package commands

import (
	"github.com/spf13/cobra"

	"github.com/teranos/cadence/am"
	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
)

// config is resolved once by Setup for the running command
var config *am.Config

// Setup loads configuration and initializes the global logger.
// It runs before every command.
func Setup(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}

	level := logger.ParseLevel(cfg.Log.Level)
	if cmd.Flags().Changed("verbose") {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		level = logger.VerbosityToLevel(verbosity)
	}

	if err := logger.InitializeWithOptions(logger.Options{
		JSON:       cfg.Log.JSON,
		Level:      level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}); err != nil {
		return errors.Wrap(err, "failed to initialize logger")
	}

	config = cfg
	return nil
}

func loadConfig(path string) (*am.Config, error) {
	if path == "" {
		cfg, err := am.Load()
		if err != nil {
			return nil, errors.WithHint(err, "run 'cadence am validate' to see which setting is wrong")
		}
		return cfg, nil
	}
	return am.LoadFromFile(path)
}
