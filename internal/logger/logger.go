// Package logger builds the application's root hclog logger. Components
// derive named sub-loggers from it.
package logger

import (
	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/vodforge/internal/config"
)

// New creates the root logger from the logging configuration.
func New(cfg config.LoggingConfig) hclog.Logger {
	level := hclog.LevelFromString(cfg.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "vodforge",
		Level:      level,
		JSONFormat: cfg.JSON,
	})
}
