package pathway

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"pathsim/internal/design"
	"pathsim/internal/model"
	"pathsim/internal/params"
)

// drawnGroups are the kinetic groups sampled per construct. Expression is
// set by the promoter instead.
var drawnGroups = []string{
	params.GroupCatalysis,
	params.GroupDegradation,
	params.GroupInduction,
	params.GroupLeakage,
}

// Construct turns a full design into a pathway configuration. Kinetics are
// drawn from rng, so the same (rng seed, parameters, design) always yields the
// same configuration.
func Construct(rng *rand.Rand, p *params.Parameters, full design.FullDesign) (model.PathwayConfig, error) {
	if rng == nil {
		return model.PathwayConfig{}, fmt.Errorf("rng is required")
	}
	if p == nil {
		return model.PathwayConfig{}, fmt.Errorf("parameters are required")
	}
	if len(full.Steps) != p.Shape.Steps {
		return model.PathwayConfig{}, fmt.Errorf("%w: design has %d steps, parameters have %d", design.ErrAssemblyMismatch, len(full.Steps), p.Shape.Steps)
	}
	if full.Plasmid < 0 || full.Plasmid >= len(p.Library.CopyNumbers) {
		return model.PathwayConfig{}, fmt.Errorf("%w: plasmid %d outside library of %d", design.ErrAssemblyMismatch, full.Plasmid, len(p.Library.CopyNumbers))
	}
	copyNumber := p.Library.CopyNumbers[full.Plasmid]

	presence := PresencePattern(full)
	cfg := model.PathwayConfig{Steps: make([]model.StepConfig, len(full.Steps))}
	source := 0
	for i, slots := range full.Steps {
		step := model.StepConfig{
			Step:           i,
			Variant:        slots.Variant,
			HasPromoter:    presence[i],
			PromoterIndex:  -1,
			PromoterSource: source,
			CopyNumber:     copyNumber,
		}
		if presence[i] {
			index := slots.Promoter.Index
			if i == 0 {
				index = full.Promoter
			}
			if index < 0 || index >= len(p.Library.PromoterStrengths) {
				return model.PathwayConfig{}, fmt.Errorf("%w: step %d promoter %d outside library of %d", design.ErrAssemblyMismatch, i, index, len(p.Library.PromoterStrengths))
			}
			source = i
			step.PromoterIndex = index
			step.PromoterSource = i
			step.PromoterStrength = p.Library.PromoterStrengths[index]
			step.Activation = step.PromoterStrength
		} else {
			step.Activation = cfg.Steps[source].Activation
		}

		inst, ok := p.Instance(i, slots.Variant)
		if !ok {
			return model.PathwayConfig{}, fmt.Errorf("%w: step %d variant %d outside parameter library", design.ErrAssemblyMismatch, i, slots.Variant)
		}
		step.Kinetics = drawKinetics(rng, inst)
		cfg.Steps[i] = step
	}
	return cfg, nil
}

// PresencePattern reports which steps carry their own promoter. The first
// step always does.
func PresencePattern(full design.FullDesign) []bool {
	out := make([]bool, len(full.Steps))
	for i, slots := range full.Steps {
		out[i] = i == 0 || slots.Promoter.Present
	}
	return out
}

func drawKinetics(rng *rand.Rand, inst map[string]model.Distribution) map[string]float64 {
	keys := sortedKeys(inst)
	out := make(map[string]float64, len(keys))
	for _, key := range keys {
		if !drawn(key) {
			continue
		}
		out[key] = positiveNormal(rng, inst[key])
	}
	return out
}

// maxRedraws bounds the rejection loop of positiveNormal.
const maxRedraws = 16

// positiveNormal draws from dist truncated to positive values. Rate constants
// near zero with a wide range would otherwise often come out negative; after
// maxRedraws rejections the mean is used.
func positiveNormal(rng *rand.Rand, dist model.Distribution) float64 {
	for i := 0; i < maxRedraws; i++ {
		if v := dist.Mean + dist.Std*rng.NormFloat64(); v > 0 {
			return v
		}
	}
	return dist.Mean
}

func drawn(key string) bool {
	for _, group := range drawnGroups {
		if strings.HasPrefix(key, group+"_") {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]model.Distribution) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
