package params

import (
	"fmt"
	"math/rand"

	"pathsim/internal/model"
)

// Shape is the combinatorial size of a pathway library.
type Shape struct {
	Steps     int `json:"steps" mapstructure:"steps"`
	Variants  int `json:"variants" mapstructure:"variants"`
	Promoters int `json:"promoters" mapstructure:"promoters"`
	Plasmids  int `json:"plasmids" mapstructure:"plasmids"`
}

func (s Shape) Validate() error {
	if s.Steps <= 0 {
		return fmt.Errorf("steps must be > 0")
	}
	if s.Variants <= 0 {
		return fmt.Errorf("variants must be > 0")
	}
	if s.Promoters <= 0 {
		return fmt.Errorf("promoters must be > 0")
	}
	if s.Plasmids <= 0 {
		return fmt.Errorf("plasmids must be > 0")
	}
	return nil
}

// Parameters is the set of parts drawn once per run: the promoter and origin
// libraries and one kinetic instance per (step, variant).
type Parameters struct {
	Shape     Shape
	Library   Library
	instances [][]map[string]model.Distribution
}

func New(rng *rand.Rand, shape Shape) (*Parameters, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	lib, err := DrawLibrary(rng, shape.Promoters, shape.Plasmids)
	if err != nil {
		return nil, err
	}

	ranges := Ranges()
	instances := make([][]map[string]model.Distribution, shape.Steps)
	for step := range instances {
		instances[step] = make([]map[string]model.Distribution, shape.Variants)
		for variant := range instances[step] {
			inst, err := DrawInstance(rng, ranges)
			if err != nil {
				return nil, fmt.Errorf("step %d variant %d: %w", step, variant, err)
			}
			instances[step][variant] = inst
		}
	}
	return &Parameters{Shape: shape, Library: lib, instances: instances}, nil
}

// Instance returns the distributions of the part at (step, variant).
func (p *Parameters) Instance(step, variant int) (map[string]model.Distribution, bool) {
	if step < 0 || step >= len(p.instances) {
		return nil, false
	}
	if variant < 0 || variant >= len(p.instances[step]) {
		return nil, false
	}
	return p.instances[step][variant], true
}
