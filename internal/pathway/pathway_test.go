package pathway

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pathsim/internal/design"
	"pathsim/internal/model"
	"pathsim/internal/params"
)

func newParameters(t *testing.T, shape params.Shape) *params.Parameters {
	t.Helper()
	p, err := params.New(rand.New(rand.NewSource(11)), shape)
	require.NoError(t, err)
	return p
}

func choice(index int) design.PromoterChoice {
	return design.PromoterChoice{Index: index, Present: true}
}

var absent = design.PromoterChoice{Index: -1}

func TestConstructInheritsNearestUpstreamPromoter(t *testing.T) {
	p := newParameters(t, params.Shape{Steps: 5, Variants: 2, Promoters: 3, Plasmids: 2})
	full := design.FullDesign{
		Plasmid:  1,
		Promoter: 2,
		Steps: []design.StepSlots{
			{Promoter: choice(2), Variant: 0},
			{Promoter: absent, Variant: 1},
			{Promoter: choice(0), Variant: 0},
			{Promoter: absent, Variant: 1},
			{Promoter: absent, Variant: 0},
		},
	}

	cfg, err := Construct(rand.New(rand.NewSource(1)), p, full)
	require.NoError(t, err)
	require.Len(t, cfg.Steps, 5)

	strengths := p.Library.PromoterStrengths
	assert.Equal(t, []bool{true, false, true, false, false}, cfg.PromoterPresence())
	assert.Equal(t, []int{0, 0, 2, 2, 2}, sources(cfg))

	assert.Equal(t, strengths[2], cfg.Steps[0].Activation)
	assert.Equal(t, strengths[2], cfg.Steps[1].Activation)
	assert.Equal(t, strengths[0], cfg.Steps[2].Activation)
	assert.Equal(t, strengths[0], cfg.Steps[3].Activation)
	assert.Equal(t, strengths[0], cfg.Steps[4].Activation)
	assert.Equal(t, -1, cfg.Steps[1].PromoterIndex)

	for _, step := range cfg.Steps {
		assert.Equal(t, p.Library.CopyNumbers[1], step.CopyNumber)
		assert.NotContains(t, step.Kinetics, "Expression_k1")
		assert.Contains(t, step.Kinetics, "Catalysis_Km")
		for key, v := range step.Kinetics {
			assert.Greater(t, v, 0.0, key)
		}
	}
}

func TestConstructNoInheritanceWhenAllPresent(t *testing.T) {
	p := newParameters(t, params.Shape{Steps: 3, Variants: 1, Promoters: 3, Plasmids: 1})
	full := design.FullDesign{
		Promoter: 1,
		Steps: []design.StepSlots{
			{Promoter: choice(1)},
			{Promoter: choice(0)},
			{Promoter: choice(2)},
		},
	}
	cfg, err := Construct(rand.New(rand.NewSource(1)), p, full)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, sources(cfg))
	for i, step := range cfg.Steps {
		assert.True(t, step.HasPromoter)
		assert.Equal(t, step.PromoterStrength, step.Activation, "step %d", i)
	}
}

func TestConstructFirstStepUsesTopLevelPromoter(t *testing.T) {
	p := newParameters(t, params.Shape{Steps: 2, Variants: 1, Promoters: 2, Plasmids: 1})
	full := design.FullDesign{
		Promoter: 1,
		Steps:    []design.StepSlots{{Promoter: absent}, {Promoter: absent}},
	}
	cfg, err := Construct(rand.New(rand.NewSource(1)), p, full)
	require.NoError(t, err)
	assert.True(t, cfg.Steps[0].HasPromoter)
	assert.Equal(t, 1, cfg.Steps[0].PromoterIndex)
	assert.Equal(t, p.Library.PromoterStrengths[1], cfg.Steps[1].Activation)
}

func TestConstructDeterministicPerSeed(t *testing.T) {
	p := newParameters(t, params.Shape{Steps: 3, Variants: 2, Promoters: 2, Plasmids: 1})
	full := design.FullDesign{
		Steps: []design.StepSlots{
			{Promoter: choice(0), Variant: 1},
			{Promoter: absent, Variant: 0},
			{Promoter: choice(1), Variant: 1},
		},
	}
	a, err := Construct(rand.New(rand.NewSource(3)), p, full)
	require.NoError(t, err)
	b, err := Construct(rand.New(rand.NewSource(3)), p, full)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := Construct(rand.New(rand.NewSource(4)), p, full)
	require.NoError(t, err)
	assert.Equal(t, a.PromoterPresence(), c.PromoterPresence())
	assert.NotEqual(t, a.Steps[0].Kinetics, c.Steps[0].Kinetics)
}

func TestPresencePatternRoundTrip(t *testing.T) {
	space, err := design.NewSpace(params.Shape{Steps: 3, Variants: 1, Promoters: 2, Plasmids: 1})
	require.NoError(t, err)
	p := newParameters(t, space.Shape())

	point := model.DesignPoint{0, 3, 1}
	full, err := design.Assemble(space, point)
	require.NoError(t, err)
	want := []bool{true, false, true}
	for seed := int64(0); seed < 5; seed++ {
		again, err := design.Assemble(space, point)
		require.NoError(t, err)
		assert.Equal(t, want, PresencePattern(again))

		cfg, err := Construct(rand.New(rand.NewSource(seed)), p, full)
		require.NoError(t, err)
		assert.Equal(t, want, cfg.PromoterPresence())
	}
}

func TestConstructMismatch(t *testing.T) {
	p := newParameters(t, params.Shape{Steps: 2, Variants: 1, Promoters: 2, Plasmids: 1})
	rng := rand.New(rand.NewSource(1))

	_, err := Construct(rng, p, design.FullDesign{Steps: []design.StepSlots{{Promoter: choice(0)}}})
	assert.ErrorIs(t, err, design.ErrAssemblyMismatch)

	_, err = Construct(rng, p, design.FullDesign{Plasmid: 3, Steps: make([]design.StepSlots, 2)})
	assert.ErrorIs(t, err, design.ErrAssemblyMismatch)

	_, err = Construct(rng, p, design.FullDesign{Steps: []design.StepSlots{{Promoter: choice(0)}, {Promoter: choice(0), Variant: 4}}})
	assert.ErrorIs(t, err, design.ErrAssemblyMismatch)

	_, err = Construct(rng, p, design.FullDesign{Steps: []design.StepSlots{{Promoter: choice(0)}, {Promoter: choice(7)}}})
	assert.ErrorIs(t, err, design.ErrAssemblyMismatch)
}

func TestPositiveNormalFallsBackToMean(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	v := positiveNormal(rng, model.Distribution{Mean: -5, Std: 1e-9})
	assert.Equal(t, -5.0, v)
	v = positiveNormal(rng, model.Distribution{Mean: 2, Std: 0.1})
	assert.Greater(t, v, 0.0)
}

func sources(cfg model.PathwayConfig) []int {
	out := make([]int, len(cfg.Steps))
	for i, step := range cfg.Steps {
		out[i] = step.PromoterSource
	}
	return out
}
