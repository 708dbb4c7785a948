package design

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pathsim/internal/model"
	"pathsim/internal/params"
)

func TestNewSpaceSlotLayout(t *testing.T) {
	space, err := NewSpace(params.Shape{Steps: 3, Variants: 1, Promoters: 2, Plasmids: 1})
	require.NoError(t, err)

	slots := space.Slots()
	require.Len(t, slots, 8)
	assert.Equal(t, model.FactorPlasmid, slots[0].Kind)
	assert.Equal(t, model.FactorPromoter, slots[1].Kind)
	assert.Equal(t, 1, slots[2].Levels, "first step promoter follows the top-level promoter")
	assert.Equal(t, 4, slots[4].Levels)
	assert.Equal(t, 4, slots[6].Levels)

	var names []string
	for _, f := range space.Factors() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"promoter", "r1_promoter", "r2_promoter"}, names)
	assert.Equal(t, 32.0, space.Size())
}

func TestNewSpaceSinglePromoterHasNoStepPromoters(t *testing.T) {
	space, err := NewSpace(params.Shape{Steps: 4, Variants: 3, Promoters: 1, Plasmids: 2})
	require.NoError(t, err)
	for _, f := range space.Factors() {
		assert.NotEqual(t, model.FactorStepPromoter, f.Kind)
		assert.NotEqual(t, model.FactorPromoter, f.Kind)
	}
	assert.Len(t, space.Factors(), 5)
}

func TestNewSpaceRejectsInvalidShape(t *testing.T) {
	_, err := NewSpace(params.Shape{Steps: 2, Variants: 0, Promoters: 1, Plasmids: 1})
	assert.Error(t, err)
}

func TestAssembleRoundTripAllShapes(t *testing.T) {
	for _, variants := range []int{1, 3} {
		for _, promoters := range []int{1, 3} {
			for _, plasmids := range []int{1, 2} {
				shape := params.Shape{Steps: 3, Variants: variants, Promoters: promoters, Plasmids: plasmids}
				space, err := NewSpace(shape)
				require.NoError(t, err)
				factors := space.Factors()

				forEachPoint(factors, func(point model.DesignPoint) {
					full, err := Assemble(space, point)
					require.NoError(t, err, "shape %+v point %v", shape, point)
					require.Len(t, full.Steps, shape.Steps)
					assert.Len(t, space.Encode(full), 2*shape.Steps+2)

					assert.True(t, full.Steps[0].Promoter.Present)
					assert.Equal(t, full.Promoter, full.Steps[0].Promoter.Index)
					if plasmids == 1 {
						assert.Equal(t, 0, full.Plasmid)
					}
					for _, step := range full.Steps {
						if variants == 1 {
							assert.Equal(t, 0, step.Variant)
						}
						if promoters == 1 {
							assert.Equal(t, PromoterChoice{Index: 0, Present: true}, step.Promoter)
						}
						if step.Promoter.Present {
							assert.Less(t, step.Promoter.Index, promoters)
						}
					}
				})
			}
		}
	}
}

func TestAssembleSentinelMeansAbsent(t *testing.T) {
	space, err := NewSpace(params.Shape{Steps: 2, Variants: 2, Promoters: 2, Plasmids: 1})
	require.NoError(t, err)
	// promoter, r0_variant, r1_promoter, r1_variant
	full, err := Assemble(space, model.DesignPoint{1, 0, 3, 1})
	require.NoError(t, err)
	assert.Equal(t, PromoterChoice{Index: 1, Present: true}, full.Steps[0].Promoter)
	assert.False(t, full.Steps[1].Promoter.Present)
	assert.Equal(t, 1, full.Steps[1].Variant)

	point, err := space.Reduce(space.Encode(full))
	require.NoError(t, err)
	assert.Equal(t, model.DesignPoint{1, 0, 2, 1}, point)

	full, err = Assemble(space, model.DesignPoint{0, 1, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, PromoterChoice{Index: 1, Present: true}, full.Steps[1].Promoter)
}

func TestAssembleMismatch(t *testing.T) {
	space, err := NewSpace(params.Shape{Steps: 2, Variants: 2, Promoters: 2, Plasmids: 1})
	require.NoError(t, err)

	_, err = Assemble(space, model.DesignPoint{0, 0})
	assert.ErrorIs(t, err, ErrAssemblyMismatch)
	_, err = Assemble(space, model.DesignPoint{0, 5, 0, 0})
	assert.ErrorIs(t, err, ErrAssemblyMismatch)
	_, err = space.Reduce([]int{0})
	assert.ErrorIs(t, err, ErrAssemblyMismatch)
}

func TestDiagnoseFullFactorialIsFullyEfficient(t *testing.T) {
	factors := []model.Factor{
		{Name: "a", Levels: 2},
		{Name: "b", Levels: 3},
	}
	var rows []model.DesignPoint
	forEachPoint(factors, func(p model.DesignPoint) { rows = append(rows, p.Clone()) })

	diag, err := Diagnose(factors, rows, 1, 0.05)
	require.NoError(t, err)
	assert.InDelta(t, 100, diag.Efficiency, 1e-9)
	assert.Equal(t, []float64{3, 2}, diag.RepsPerVariant)
	assert.Equal(t, []int{2, 3}, diag.Levels)
	assert.Equal(t, 6.0, diag.SpaceSize)

	var doubled []model.DesignPoint
	doubled = append(doubled, rows...)
	doubled = append(doubled, rows...)
	more, err := Diagnose(factors, doubled, 1, 0.05)
	require.NoError(t, err)
	for j := range factors {
		assert.Greater(t, more.Power[j], diag.Power[j])
		assert.LessOrEqual(t, more.Power[j], 1.0)
	}
}

func TestDiagnoseSingularDesign(t *testing.T) {
	factors := []model.Factor{{Name: "a", Levels: 2}}
	_, err := Diagnose(factors, []model.DesignPoint{{0}, {0}, {0}}, 1, 0.05)
	assert.ErrorIs(t, err, ErrDesignInfeasible)
}

func TestExchangeOptimizerInfeasible(t *testing.T) {
	ctx := context.Background()
	factors := []model.Factor{{Name: "a", Levels: 4}, {Name: "b", Levels: 4}}

	_, err := ExchangeOptimizer{}.Optimize(ctx, Request{Factors: factors, Size: 6})
	assert.ErrorIs(t, err, ErrDesignInfeasible)
	_, err = ExchangeOptimizer{}.Optimize(ctx, Request{Factors: nil, Size: 6})
	assert.ErrorIs(t, err, ErrDesignInfeasible)
	_, err = ExchangeOptimizer{}.Optimize(ctx, Request{Factors: factors, Size: 0})
	assert.ErrorIs(t, err, ErrDesignInfeasible)
}

func TestExchangeOptimizerDeterministic(t *testing.T) {
	ctx := context.Background()
	factors := []model.Factor{{Name: "a", Levels: 2}, {Name: "b", Levels: 3}, {Name: "c", Levels: 2}}
	req := Request{Factors: factors, Size: 12, Seed: 9, Starts: 3}

	a, err := ExchangeOptimizer{}.Optimize(ctx, req)
	require.NoError(t, err)
	b, err := ExchangeOptimizer{}.Optimize(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, a.Rows, b.Rows)
	assert.Len(t, a.Rows, 12)
	assert.Greater(t, a.Diagnostics.Efficiency, 75.0)
	assert.LessOrEqual(t, a.Diagnostics.Efficiency, 100.0+1e-9)
}

func TestExchangeGainMatchesCriterion(t *testing.T) {
	factors := []model.Factor{{Name: "a", Levels: 3}, {Name: "b", Levels: 4}, {Name: "c", Levels: 2}}
	rng := rand.New(rand.NewSource(5))
	rows := balancedDesign(rng, factors, 12)
	state := newExchangeState(factors)
	require.True(t, state.refresh(rows))
	assert.InDelta(t, criterion(factors, rows), state.logDet, 1e-9)

	for trial := 0; trial < 50; trial++ {
		i, j := rng.Intn(len(rows)), rng.Intn(len(factors))
		candidate := rows[i].Clone()
		candidate[j] = (candidate[j] + 1 + rng.Intn(factors[j].Levels-1)) % factors[j].Levels

		state.leave(rows[i])
		gain := state.gain(candidate)

		moved := make([]model.DesignPoint, len(rows))
		copy(moved, rows)
		moved[i] = candidate
		assert.InDelta(t, criterion(factors, moved)-criterion(factors, rows), gain, 1e-7)
	}
}

func TestExchangeTracksCriterionAcrossUpdates(t *testing.T) {
	factors := []model.Factor{{Name: "a", Levels: 5}, {Name: "b", Levels: 3}, {Name: "c", Levels: 4}, {Name: "d", Levels: 2}}
	rows := balancedDesign(rand.New(rand.NewSource(2)), factors, 20)
	score := exchange(rand.New(rand.NewSource(3)), factors, rows, 1000)
	assert.InDelta(t, criterion(factors, rows), score, 1e-6)

	_, ok := factorize(factors, rows)
	assert.True(t, ok)
}

// BenchmarkExchangeOptimizerLargeShape covers the largest shape the default
// sweep ranges draw: ten steps of ten variants and five promoters.
func BenchmarkExchangeOptimizerLargeShape(b *testing.B) {
	space, err := NewSpace(params.Shape{Steps: 10, Variants: 10, Promoters: 5, Plasmids: 2})
	require.NoError(b, err)
	req := Request{Factors: space.Factors(), Size: 256, Seed: 1, Starts: 1}
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		if _, err := (ExchangeOptimizer{}).Optimize(context.Background(), req); err != nil {
			b.Fatal(err)
		}
	}
}

func TestExchangeOptimizerHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ExchangeOptimizer{}.Optimize(ctx, Request{Factors: []model.Factor{{Name: "a", Levels: 2}}, Size: 4})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildReducedShape(t *testing.T) {
	space, err := NewSpace(params.Shape{Steps: 3, Variants: 1, Promoters: 2, Plasmids: 1})
	require.NoError(t, err)

	matrix, diag, err := Build(context.Background(), space, 8, ExchangeOptimizer{}, Options{Seed: 1, Starts: 5})
	require.NoError(t, err)
	require.Len(t, matrix.Rows, 8)
	require.Len(t, matrix.Factors, 3)
	assert.Equal(t, "promoter", matrix.Factors[0].Name)
	for _, row := range matrix.Rows {
		require.Len(t, row, 3)
		_, err := Assemble(space, row)
		require.NoError(t, err)
	}
	assert.Equal(t, 32.0, diag.SpaceSize)
	assert.Len(t, diag.Power, 3)
}

type stubOptimizer struct {
	result Result
	err    error
}

func (s stubOptimizer) Optimize(context.Context, Request) (Result, error) {
	return s.result, s.err
}

func TestBuildChecksOptimizerOutput(t *testing.T) {
	space, err := NewSpace(params.Shape{Steps: 1, Variants: 2, Promoters: 1, Plasmids: 1})
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = Build(ctx, space, 2, stubOptimizer{result: Result{Rows: []model.DesignPoint{{0}}}}, Options{})
	assert.Error(t, err)
	_, _, err = Build(ctx, space, 2, stubOptimizer{result: Result{Rows: []model.DesignPoint{{0}, {2}}}}, Options{})
	assert.Error(t, err)

	_, _, err = Build(ctx, space, 2, stubOptimizer{err: ErrDesignInfeasible}, Options{})
	assert.ErrorIs(t, err, ErrDesignInfeasible)

	boom := errors.New("boom")
	_, _, err = Build(ctx, space, 2, stubOptimizer{err: boom}, Options{})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrDesignInfeasible)

	_, _, err = Build(ctx, space, 0, stubOptimizer{}, Options{})
	assert.ErrorIs(t, err, ErrDesignInfeasible)
}

func forEachPoint(factors []model.Factor, fn func(model.DesignPoint)) {
	point := make(model.DesignPoint, len(factors))
	var walk func(int)
	walk = func(j int) {
		if j == len(factors) {
			fn(point)
			return
		}
		for level := 0; level < factors[j].Levels; level++ {
			point[j] = level
			walk(j + 1)
		}
	}
	walk(0)
}
