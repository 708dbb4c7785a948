// Package config loads pathsim settings from YAML files and PATHSIM_*
// environment variables.
package config

import (
	"fmt"
	"strings"

	"pathsim/internal/logging"
	"pathsim/internal/pipeline"
	"pathsim/internal/storage"
	"pathsim/internal/sweep"
)

type Config struct {
	Log      logging.LogConfig `mapstructure:"log"`
	Store    StoreConfig       `mapstructure:"store"`
	Pipeline pipeline.Config   `mapstructure:"pipeline"`
	// Sweep attempts run with the pipeline section, overridden per attempt
	// by the drawn shape, library size and seed.
	Sweep   sweep.Config  `mapstructure:"sweep"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type StoreConfig struct {
	// Kind is memory or sqlite.
	Kind string `mapstructure:"kind"`
	Path string `mapstructure:"path"`
}

type MetricsConfig struct {
	// Addr is the listen address of the metrics endpoint. Empty disables it.
	Addr string `mapstructure:"addr"`
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console")
	}
	switch c.Store.Kind {
	case storage.KindMemory:
	case storage.KindSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported store.kind: %s", c.Store.Kind)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := c.Sweep.Validate(); err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	return nil
}
