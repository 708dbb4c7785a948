package kinetics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"pathsim/internal/model"
)

var (
	ErrSimulationFailed = errors.New("simulation failed")
	ErrNoReadout        = errors.New("no readout variable")
)

// SimulationError is a failed integration of one pathway configuration. It
// always matches ErrSimulationFailed.
type SimulationError struct {
	Step   int
	Reason string
}

func (e *SimulationError) Error() string {
	if e.Step < 0 {
		return fmt.Sprintf("simulation failed: %s", e.Reason)
	}
	return fmt.Sprintf("simulation failed at step %d: %s", e.Step, e.Reason)
}

func (e *SimulationError) Unwrap() error {
	return ErrSimulationFailed
}

// Span is the integration interval.
type Span struct {
	Start float64 `json:"start" mapstructure:"start"`
	End   float64 `json:"end" mapstructure:"end"`
}

func (s Span) Validate() error {
	if math.IsNaN(s.Start) || math.IsNaN(s.End) || s.End <= s.Start {
		return fmt.Errorf("span end must be > start, got [%g, %g]", s.Start, s.End)
	}
	return nil
}

// Trajectory holds one row of Values per Time sample, columns ordered as Names.
type Trajectory struct {
	Time   []float64
	Names  []string
	Values [][]float64
}

// Column returns the series of the named variable.
func (t Trajectory) Column(name string) ([]float64, bool) {
	for j, n := range t.Names {
		if n != name {
			continue
		}
		out := make([]float64, len(t.Values))
		for i, row := range t.Values {
			out[i] = row[j]
		}
		return out, true
	}
	return nil, false
}

// Simulator integrates a pathway configuration. Variables exposes the
// variable schema so the readout can be chosen before simulating.
type Simulator interface {
	Name() string
	Variables(cfg model.PathwayConfig) ([]string, error)
	Simulate(ctx context.Context, cfg model.PathwayConfig, span Span, samples int) (Trajectory, error)
}

var excludedSuffixes = []string{"Inducer", "promoter", "Enzyme", "Growth"}

// SelectReadout picks the last variable ending in Product after dropping
// inducers, promoters, enzymes and growth.
func SelectReadout(names []string) (string, error) {
	readout := ""
	for _, name := range names {
		if hasAnySuffix(name, excludedSuffixes) {
			continue
		}
		if strings.HasSuffix(name, "Product") {
			readout = name
		}
	}
	if readout == "" {
		return "", ErrNoReadout
	}
	return readout, nil
}

func hasAnySuffix(name string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// Endpoint simulates cfg and returns the terminal value of its readout.
func Endpoint(ctx context.Context, sim Simulator, cfg model.PathwayConfig, span Span, samples int) (float64, error) {
	if sim == nil {
		return 0, fmt.Errorf("simulator is required")
	}
	names, err := sim.Variables(cfg)
	if err != nil {
		return 0, err
	}
	readout, err := SelectReadout(names)
	if err != nil {
		return 0, err
	}

	traj, err := sim.Simulate(ctx, cfg, span, samples)
	if err != nil {
		return 0, err
	}
	series, ok := traj.Column(readout)
	if !ok {
		return 0, &SimulationError{Step: -1, Reason: fmt.Sprintf("readout %s missing from trajectory", readout)}
	}
	if len(series) == 0 {
		return 0, &SimulationError{Step: -1, Reason: "empty trajectory"}
	}
	value := series[len(series)-1]
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, &SimulationError{Step: -1, Reason: fmt.Sprintf("non-finite endpoint %g", value)}
	}
	return value, nil
}
