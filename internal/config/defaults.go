package config

import (
	"github.com/spf13/viper"

	"pathsim/internal/logging"
	"pathsim/internal/pipeline"
	"pathsim/internal/storage"
	"pathsim/internal/sweep"
)

const DefaultSQLitePath = storage.DefaultSQLitePath

func Default() *Config {
	return &Config{
		Log:      logging.LogConfig{Level: "info", Format: "console"},
		Store:    StoreConfig{Kind: storage.DefaultStoreKind(), Path: DefaultSQLitePath},
		Pipeline: pipeline.DefaultConfig(),
		Sweep:    sweep.DefaultConfig(),
	}
}

// ApplyDefaults fills zero-valued fields of cfg. Booleans are left alone.
func ApplyDefaults(cfg *Config) {
	def := Default()

	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
	if cfg.Store.Kind == "" {
		cfg.Store.Kind = def.Store.Kind
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = def.Store.Path
	}

	p, dp := &cfg.Pipeline, def.Pipeline
	if p.Shape.Steps == 0 {
		p.Shape.Steps = dp.Shape.Steps
	}
	if p.Shape.Variants == 0 {
		p.Shape.Variants = dp.Shape.Variants
	}
	if p.Shape.Promoters == 0 {
		p.Shape.Promoters = dp.Shape.Promoters
	}
	if p.Shape.Plasmids == 0 {
		p.Shape.Plasmids = dp.Shape.Plasmids
	}
	if p.LibSize == 0 {
		p.LibSize = dp.LibSize
	}
	if p.SimSample == 0 {
		p.SimSample = dp.SimSample
	}
	if p.Workers == 0 {
		p.Workers = dp.Workers
	}
	if p.Span.Start == 0 && p.Span.End == 0 {
		p.Span = dp.Span
	}
	if p.Samples == 0 {
		p.Samples = dp.Samples
	}
	if p.Starts == 0 {
		p.Starts = dp.Starts
	}
	if p.RMSE == 0 {
		p.RMSE = dp.RMSE
	}
	if p.Alpha == 0 {
		p.Alpha = dp.Alpha
	}
	if p.Simulator == "" {
		p.Simulator = dp.Simulator
	}

	s, ds := &cfg.Sweep, def.Sweep
	if s.Runs == 0 {
		s.Runs = ds.Runs
	}
	if len(s.Ranges.Steps) == 0 {
		s.Ranges.Steps = ds.Ranges.Steps
	}
	if len(s.Ranges.Variants) == 0 {
		s.Ranges.Variants = ds.Ranges.Variants
	}
	if len(s.Ranges.Promoters) == 0 {
		s.Ranges.Promoters = ds.Ranges.Promoters
	}
	if len(s.Ranges.Plasmids) == 0 {
		s.Ranges.Plasmids = ds.Ranges.Plasmids
	}
	if s.LibSize == 0 {
		s.LibSize = ds.LibSize
	}
	if s.Growth == 0 {
		s.Growth = ds.Growth
	}
	if s.MaxAttempts == 0 {
		s.MaxAttempts = ds.MaxAttempts
	}
	if s.TargetEfficiency == 0 {
		s.TargetEfficiency = ds.TargetEfficiency
	}
	s.Pipeline = cfg.Pipeline
}

// setDefaults registers every key with v so that environment overrides
// resolve even when no config file mentions the key.
func setDefaults(v *viper.Viper) {
	def := Default()

	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
	v.SetDefault("store.kind", def.Store.Kind)
	v.SetDefault("store.path", def.Store.Path)
	v.SetDefault("metrics.addr", def.Metrics.Addr)

	p := def.Pipeline
	v.SetDefault("pipeline.shape.steps", p.Shape.Steps)
	v.SetDefault("pipeline.shape.variants", p.Shape.Variants)
	v.SetDefault("pipeline.shape.promoters", p.Shape.Promoters)
	v.SetDefault("pipeline.shape.plasmids", p.Shape.Plasmids)
	v.SetDefault("pipeline.libsize", p.LibSize)
	v.SetDefault("pipeline.pred_sample", p.PredSample)
	v.SetDefault("pipeline.sim_sample", p.SimSample)
	v.SetDefault("pipeline.seed", p.Seed)
	v.SetDefault("pipeline.workers", p.Workers)
	v.SetDefault("pipeline.span.start", p.Span.Start)
	v.SetDefault("pipeline.span.end", p.Span.End)
	v.SetDefault("pipeline.samples", p.Samples)
	v.SetDefault("pipeline.starts", p.Starts)
	v.SetDefault("pipeline.rmse", p.RMSE)
	v.SetDefault("pipeline.alpha", p.Alpha)
	v.SetDefault("pipeline.simulator", p.Simulator)

	s := def.Sweep
	v.SetDefault("sweep.runs", s.Runs)
	v.SetDefault("sweep.ranges.steps", s.Ranges.Steps)
	v.SetDefault("sweep.ranges.variants", s.Ranges.Variants)
	v.SetDefault("sweep.ranges.promoters", s.Ranges.Promoters)
	v.SetDefault("sweep.ranges.plasmids", s.Ranges.Plasmids)
	v.SetDefault("sweep.libsize", s.LibSize)
	v.SetDefault("sweep.growth", s.Growth)
	v.SetDefault("sweep.max_attempts", s.MaxAttempts)
	v.SetDefault("sweep.target_efficiency", s.TargetEfficiency)
	v.SetDefault("sweep.design_only", s.DesignOnly)
	v.SetDefault("sweep.seed", s.Seed)
}
