package design

import (
	"fmt"

	"pathsim/internal/model"
)

// PromoterChoice is the promoter placed in front of a step. Index is a
// position in the promoter library and is meaningful only when Present.
type PromoterChoice struct {
	Index   int  `json:"index"`
	Present bool `json:"present"`
}

type StepSlots struct {
	Promoter PromoterChoice `json:"promoter"`
	Variant  int            `json:"variant"`
}

// FullDesign is a design point expanded to every slot of its space.
type FullDesign struct {
	Plasmid  int         `json:"plasmid"`
	Promoter int         `json:"promoter"`
	Steps    []StepSlots `json:"steps"`
}

// Assemble reinserts degenerate factors as level 0 and decodes the step
// promoter sentinel into an explicit PromoterChoice.
func Assemble(space *Space, point model.DesignPoint) (FullDesign, error) {
	if len(point) != len(space.factors) {
		return FullDesign{}, fmt.Errorf("%w: point has %d levels, space has %d factors", ErrAssemblyMismatch, len(point), len(space.factors))
	}

	slots := make([]int, len(space.slots))
	next := 0
	for i, slot := range space.slots {
		if slot.Degenerate() {
			continue
		}
		level := point[next]
		if level < 0 || level >= slot.Levels {
			return FullDesign{}, fmt.Errorf("%w: level %d out of range for %s (levels=%d)", ErrAssemblyMismatch, level, slot.Name, slot.Levels)
		}
		slots[i] = level
		next++
	}

	steps := space.shape.Steps
	if len(slots) != 2*steps+2 {
		return FullDesign{}, fmt.Errorf("%w: %d slots for %d steps", ErrAssemblyMismatch, len(slots), steps)
	}

	full := FullDesign{
		Plasmid:  slots[0],
		Promoter: slots[1],
		Steps:    make([]StepSlots, steps),
	}
	for step := 0; step < steps; step++ {
		level := slots[2+2*step]
		full.Steps[step] = StepSlots{
			Promoter: decodePromoter(step, level, full.Promoter, space.shape.Promoters),
			Variant:  slots[3+2*step],
		}
	}
	return full, nil
}

func decodePromoter(step, level, leading, promoters int) PromoterChoice {
	if step == 0 {
		return PromoterChoice{Index: leading, Present: true}
	}
	if level >= promoters {
		return PromoterChoice{Index: -1, Present: false}
	}
	return PromoterChoice{Index: level, Present: true}
}

// Encode flattens a full design back to numeric slots. An absent promoter is
// written as the first sentinel level, the promoter library size.
func (s *Space) Encode(full FullDesign) []int {
	out := make([]int, 0, len(s.slots))
	out = append(out, full.Plasmid, full.Promoter)
	for step, slots := range full.Steps {
		level := slots.Promoter.Index
		switch {
		case step == 0:
			level = 0
		case !slots.Promoter.Present:
			level = s.shape.Promoters
		}
		out = append(out, level, slots.Variant)
	}
	return out
}

// Reduce drops the degenerate slots of an encoded design.
func (s *Space) Reduce(slots []int) (model.DesignPoint, error) {
	if len(slots) != len(s.slots) {
		return nil, fmt.Errorf("%w: %d slots, want %d", ErrAssemblyMismatch, len(slots), len(s.slots))
	}
	point := make(model.DesignPoint, 0, len(s.factors))
	for i, slot := range s.slots {
		if slot.Degenerate() {
			continue
		}
		point = append(point, slots[i])
	}
	return point, nil
}
