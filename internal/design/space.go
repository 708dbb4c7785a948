package design

import (
	"errors"
	"fmt"

	"pathsim/internal/model"
	"pathsim/internal/params"
)

var (
	// ErrDesignInfeasible means no design of the requested size and shape exists.
	ErrDesignInfeasible = errors.New("no feasible design")
	// ErrAssemblyMismatch means a design point does not fit the slot layout
	// of its space. It indicates a programming error and aborts the run.
	ErrAssemblyMismatch = errors.New("design assembly mismatch")
)

// Space is the factor tree of one pathway library. Slots are ordered
// [plasmid, promoter, then per step (promoter, variant)]; degenerate slots
// stay in the layout but are compressed out of Factors.
type Space struct {
	shape   params.Shape
	slots   []model.Factor
	factors []model.Factor
}

func NewSpace(shape params.Shape) (*Space, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}

	slots := make([]model.Factor, 0, 2*shape.Steps+2)
	slots = append(slots,
		model.Factor{Name: "plasmid", Kind: model.FactorPlasmid, Step: -1, Levels: shape.Plasmids},
		model.Factor{Name: "promoter", Kind: model.FactorPromoter, Step: -1, Levels: shape.Promoters},
	)
	for step := 0; step < shape.Steps; step++ {
		slots = append(slots,
			model.Factor{
				Name:   fmt.Sprintf("r%d_promoter", step),
				Kind:   model.FactorStepPromoter,
				Step:   step,
				Levels: stepPromoterLevels(step, shape.Promoters),
			},
			model.Factor{
				Name:   fmt.Sprintf("r%d_variant", step),
				Kind:   model.FactorStepVariant,
				Step:   step,
				Levels: shape.Variants,
			},
		)
	}

	factors := make([]model.Factor, 0, len(slots))
	for _, slot := range slots {
		if !slot.Degenerate() {
			factors = append(factors, slot)
		}
	}
	return &Space{shape: shape, slots: slots, factors: factors}, nil
}

// stepPromoterLevels is 1 for the first step, which is driven by the
// top-level promoter. Later steps choose one of the promoters or, through
// the upper half of the levels, no promoter at all.
func stepPromoterLevels(step, promoters int) int {
	if step == 0 || promoters <= 1 {
		return 1
	}
	return 2 * promoters
}

func (s *Space) Shape() params.Shape {
	return s.shape
}

func (s *Space) Slots() []model.Factor {
	return append([]model.Factor(nil), s.slots...)
}

// Factors returns the non-degenerate factors, the columns of a design matrix.
func (s *Space) Factors() []model.Factor {
	return append([]model.Factor(nil), s.factors...)
}

// Size is the number of points in the full Cartesian product.
func (s *Space) Size() float64 {
	return SpaceSize(s.factors)
}

func SpaceSize(factors []model.Factor) float64 {
	size := 1.0
	for _, f := range factors {
		size *= float64(f.Levels)
	}
	return size
}
