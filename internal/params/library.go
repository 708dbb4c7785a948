package params

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"pathsim/internal/model"
)

// Kinetic parameter groups of one pathway step.
const (
	GroupCatalysis   = "Catalysis"
	GroupDegradation = "Degradation"
	GroupExpression  = "Expression"
	GroupInduction   = "Induction"
	GroupLeakage     = "Leakage"
)

const (
	promoterMin = 1.0
	promoterMax = 1e3
	originMin   = 1.0
	originMax   = 1e2
)

var ErrInvalidRange = errors.New("invalid parameter range")

type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Ranges returns the global bounds for the kinetic parameters of a step.
func Ranges() map[string]map[string]Range {
	return map[string]map[string]Range{
		GroupCatalysis: {
			"Km":   {Min: 1e-3, Max: 1e2},
			"kcat": {Min: 1e-2, Max: 10},
		},
		GroupDegradation: {
			"k2": {Min: 10, Max: 1e3},
		},
		GroupExpression: {
			"k1": {Min: 10, Max: 1e3},
		},
		GroupInduction: {
			"Shalve": {Min: 1e-4, Max: 1},
			"Vi":     {Min: 1e3, Max: 1e5},
			"h":      {Min: 2, Max: 6},
		},
		GroupLeakage: {
			"vl": {Min: 1e-6, Max: 1e-4},
		},
	}
}

func Key(group, name string) string {
	return group + "_" + name
}

// DrawInstance draws the (mean, std) of every parameter in ranges. Keys are
// visited in sorted order so a seeded rng always yields the same instance.
func DrawInstance(rng *rand.Rand, ranges map[string]map[string]Range) (map[string]model.Distribution, error) {
	if rng == nil {
		return nil, fmt.Errorf("rng is required")
	}
	groups := make([]string, 0, len(ranges))
	for group := range ranges {
		groups = append(groups, group)
	}
	sort.Strings(groups)

	out := make(map[string]model.Distribution)
	for _, group := range groups {
		names := make([]string, 0, len(ranges[group]))
		for name := range ranges[group] {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			dist, err := drawDistribution(rng, ranges[group][name])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", Key(group, name), err)
			}
			out[Key(group, name)] = dist
		}
	}
	return out, nil
}

func drawDistribution(rng *rand.Rand, r Range) (model.Distribution, error) {
	lo, hi := r.Min, r.Max
	if math.IsNaN(lo) || math.IsNaN(hi) || lo > hi {
		return model.Distribution{}, fmt.Errorf("%w: [%g, %g]", ErrInvalidRange, lo, hi)
	}
	if lo == hi {
		return model.Distribution{Mean: lo, Std: lo / 100}, nil
	}
	if lo <= 0 {
		return model.Distribution{}, fmt.Errorf("%w: log-uniform bounds must be positive, got [%g, %g]", ErrInvalidRange, lo, hi)
	}
	mean := logUniform(rng, lo, hi)
	std := mean/100 + rng.Float64()*(hi-lo)/100
	return model.Distribution{Mean: mean, Std: std}, nil
}

func logUniform(rng *rand.Rand, lo, hi float64) float64 {
	a, b := math.Log(lo), math.Log(hi)
	return math.Exp(a + rng.Float64()*(b-a))
}

// Library holds the sorted part libraries. Level i always refers to the
// i-th weakest promoter or the i-th smallest copy number.
type Library struct {
	PromoterStrengths []float64 `json:"promoter_strengths"`
	CopyNumbers       []float64 `json:"copy_numbers"`
}

func DrawLibrary(rng *rand.Rand, nPromoters, nOrigins int) (Library, error) {
	if rng == nil {
		return Library{}, fmt.Errorf("rng is required")
	}
	if nPromoters <= 0 {
		return Library{}, fmt.Errorf("promoter count must be > 0")
	}
	if nOrigins <= 0 {
		return Library{}, fmt.Errorf("origin count must be > 0")
	}

	lib := Library{
		PromoterStrengths: make([]float64, nPromoters),
		CopyNumbers:       make([]float64, nOrigins),
	}
	for i := range lib.PromoterStrengths {
		lib.PromoterStrengths[i] = logUniform(rng, promoterMin, promoterMax)
	}
	for i := range lib.CopyNumbers {
		lib.CopyNumbers[i] = math.Max(1, math.Round(logUniform(rng, originMin, originMax)))
	}
	sort.Float64s(lib.PromoterStrengths)
	sort.Float64s(lib.CopyNumbers)
	return lib, nil
}
