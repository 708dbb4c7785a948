package pipeline

import (
	"fmt"

	"pathsim/internal/kinetics"
	"pathsim/internal/params"
)

// Config holds the knobs of one pipeline run. LibSize, PredSample and
// SimSample cap optimizer rows, predictions and validation simulations.
type Config struct {
	Shape   params.Shape `mapstructure:"shape" json:"shape"`
	LibSize int          `mapstructure:"libsize" json:"libsize"`
	// PredSample <= 0 scores the full space of observed levels.
	PredSample int           `mapstructure:"pred_sample" json:"pred_sample"`
	SimSample  int           `mapstructure:"sim_sample" json:"sim_sample"`
	Seed       int64         `mapstructure:"seed" json:"seed"`
	Workers    int           `mapstructure:"workers" json:"workers"`
	Span       kinetics.Span `mapstructure:"span" json:"span"`
	Samples    int           `mapstructure:"samples" json:"samples"`
	Starts     int           `mapstructure:"starts" json:"starts"`
	RMSE       float64       `mapstructure:"rmse" json:"rmse"`
	Alpha      float64       `mapstructure:"alpha" json:"alpha"`
	// Simulator names a registered kinetics backend.
	Simulator string `mapstructure:"simulator" json:"simulator"`
}

func DefaultConfig() Config {
	return Config{
		Shape:      params.Shape{Steps: 3, Variants: 2, Promoters: 2, Plasmids: 1},
		LibSize:    32,
		PredSample: 0,
		SimSample:  10,
		Seed:       1,
		Workers:    1,
		Span:       kinetics.Span{Start: 0, End: 10},
		Samples:    50,
		Starts:     3,
		RMSE:       1,
		Alpha:      0.05,
		Simulator:  kinetics.EngineName,
	}
}

func (c Config) Validate() error {
	if err := c.Shape.Validate(); err != nil {
		return err
	}
	if c.LibSize <= 0 {
		return fmt.Errorf("libsize must be > 0")
	}
	if c.SimSample < 2 {
		return fmt.Errorf("sim sample must be >= 2")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be > 0")
	}
	if err := c.Span.Validate(); err != nil {
		return err
	}
	if c.Samples < 2 {
		return fmt.Errorf("samples must be >= 2")
	}
	if c.Starts <= 0 {
		return fmt.Errorf("starts must be > 0")
	}
	if c.RMSE <= 0 {
		return fmt.Errorf("rmse must be > 0")
	}
	if c.Alpha <= 0 || c.Alpha >= 1 {
		return fmt.Errorf("alpha must be in (0, 1)")
	}
	if c.Simulator == "" {
		return fmt.Errorf("simulator is required")
	}
	return nil
}
