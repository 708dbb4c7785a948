package pipeline

import (
	"context"
	"math/rand"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"pathsim/internal/design"
	"pathsim/internal/kinetics"
	"pathsim/internal/logging"
	"pathsim/internal/metrics"
	"pathsim/internal/model"
	"pathsim/internal/params"
	"pathsim/internal/storage"
)

// additiveSimulator reports a product endpoint that depends additively on
// the promoters placed, copy number and variant choice.
type additiveSimulator struct {
	failVariant int
}

func (additiveSimulator) Name() string { return "additive" }

func (additiveSimulator) Variables(cfg model.PathwayConfig) ([]string, error) {
	return []string{"m1_Enzyme", "mN_Product"}, nil
}

func (s additiveSimulator) Simulate(_ context.Context, cfg model.PathwayConfig, _ kinetics.Span, _ int) (kinetics.Trajectory, error) {
	value := 0.0
	for _, step := range cfg.Steps {
		if s.failVariant > 0 && step.Variant == s.failVariant {
			return kinetics.Trajectory{}, &kinetics.SimulationError{Step: step.Step, Reason: "unstable variant"}
		}
		value += float64(step.Variant)
		if step.HasPromoter {
			value += step.PromoterStrength / 1000
		}
	}
	value += cfg.Steps[0].CopyNumber / 100
	return kinetics.Trajectory{
		Time:   []float64{0, 1},
		Names:  []string{"m1_Enzyme", "mN_Product"},
		Values: [][]float64{{0, 0}, {1, value}},
	}, nil
}

type fixedOptimizer struct {
	rows []model.DesignPoint
}

func (o fixedOptimizer) Optimize(_ context.Context, req design.Request) (design.Result, error) {
	diag, err := design.Diagnose(req.Factors, o.rows, req.RMSE, req.Alpha)
	if err != nil {
		return design.Result{}, err
	}
	return design.Result{Rows: o.rows, Diagnostics: diag}, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Shape = params.Shape{Steps: 3, Variants: 1, Promoters: 2, Plasmids: 1}
	cfg.LibSize = 8
	cfg.SimSample = 4
	cfg.Samples = 20
	cfg.Span = kinetics.Span{Start: 0, End: 5}
	cfg.Starts = 5
	return cfg
}

func TestRunEndToEndReferenceComponents(t *testing.T) {
	p, err := New(testConfig())
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Design.Rows, 8)
	var names []string
	for _, f := range res.Design.Factors {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"promoter", "r1_promoter", "r2_promoter"}, names)
	assert.Equal(t, 8, res.Observed.Len()+res.Observed.Failed)
	assert.Len(t, res.Ranked, 32)
	assert.Equal(t, 4, res.Report.Selected)
	require.Len(t, res.Report.Points, 32)
	assert.True(t, res.Report.Points[0].Selected)
	assert.True(t, res.Report.Points[31].Selected)
	assert.NotEmpty(t, res.RunID)

	summary := res.Summary()
	assert.Equal(t, 3, summary.Steps)
	assert.Equal(t, 8, summary.LibSize)
	assert.Equal(t, 32.0, summary.SpaceSize)
	assert.Greater(t, summary.Efficiency, 0.0)
	record := res.Record()
	want, err := storage.EncodeRunSummary(summary)
	require.NoError(t, err)
	got, err := storage.EncodeRunSummary(record.Summary)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))
	assert.Equal(t, 1, record.SchemaVersion)
}

func TestRunRecoversAdditiveResponse(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Shape = params.Shape{Steps: 2, Variants: 3, Promoters: 2, Plasmids: 2}
	cfg.LibSize = 48
	cfg.SimSample = 12
	cfg.Workers = 4

	rec := metrics.NewRecorder()
	p, err := New(cfg, WithSimulator(additiveSimulator{}), WithMetrics(rec))
	require.NoError(t, err)
	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 48, res.Observed.Len())
	assert.InDelta(t, 1.0, res.Surrogate.Stats().RSquared, 1e-9)
	assert.InDelta(t, 0.0, float64(res.Report.RMSE), 1e-9)
	assert.InDelta(t, 1.0, float64(res.Report.Correlation), 1e-9)
	for i := 1; i < len(res.Ranked); i++ {
		assert.GreaterOrEqual(t, res.Ranked[i-1].Value, res.Ranked[i].Value)
	}

	expected := `
# HELP pathsim_runs_total Pipeline runs by terminal status.
# TYPE pathsim_runs_total counter
pathsim_runs_total{status="completed"} 1
`
	require.NoError(t, testutil.GatherAndCompare(rec.Registry(), strings.NewReader(expected), "pathsim_runs_total"))
	count, err := testutil.GatherAndCount(rec.Registry(), "pathsim_simulations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestObserveIndependentOfWorkerCount(t *testing.T) {
	cfg := testConfig()
	cfg.Shape = params.Shape{Steps: 2, Variants: 2, Promoters: 2, Plasmids: 2}
	cfg.LibSize = 16
	space, err := design.NewSpace(cfg.Shape)
	require.NoError(t, err)

	run := func(workers int) model.ObservationSet {
		cfg.Workers = workers
		p, err := New(cfg)
		require.NoError(t, err)
		res, err := p.Run(context.Background())
		require.NoError(t, err)
		observed, err := p.Observe(context.Background(), res.Parameters, space, res.Design)
		require.NoError(t, err)
		assert.Equal(t, res.Observed, observed)
		return observed
	}
	assert.Equal(t, run(1), run(4))
}

func TestObserveCountsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	cfg := DefaultConfig()
	cfg.Shape = params.Shape{Steps: 2, Variants: 3, Promoters: 1, Plasmids: 1}
	cfg.LibSize = 9
	cfg.Workers = 3

	p, err := New(cfg, WithSimulator(additiveSimulator{failVariant: 2}), WithLogger(logging.NewLoggerFromCore(core)))
	require.NoError(t, err)

	space, err := design.NewSpace(cfg.Shape)
	require.NoError(t, err)
	parameters, err := params.New(newRand(1), cfg.Shape)
	require.NoError(t, err)

	var rows []model.DesignPoint
	for a := 0; a < 3; a++ {
		for b := 0; b < 3; b++ {
			rows = append(rows, model.DesignPoint{a, b})
		}
	}
	set, err := p.Observe(context.Background(), parameters, space, model.DesignMatrix{Factors: space.Factors(), Rows: rows})
	require.NoError(t, err)
	assert.Equal(t, 4, set.Len())
	assert.Equal(t, 5, set.Failed)
	for _, row := range set.Rows {
		assert.NotContains(t, []int(row), 2)
	}
	assert.Equal(t, 5, logs.FilterMessage("simulation failed").Len())
}

func TestObserveAbortsOnAssemblyMismatch(t *testing.T) {
	cfg := testConfig()
	p, err := New(cfg, WithSimulator(additiveSimulator{}))
	require.NoError(t, err)
	space, err := design.NewSpace(cfg.Shape)
	require.NoError(t, err)
	parameters, err := params.New(newRand(1), cfg.Shape)
	require.NoError(t, err)

	_, err = p.Observe(context.Background(), parameters, space, model.DesignMatrix{
		Factors: space.Factors(),
		Rows:    []model.DesignPoint{{0, 0, 0}, {0, 0}},
	})
	assert.ErrorIs(t, err, design.ErrAssemblyMismatch)
}

func TestRunInfeasibleDesign(t *testing.T) {
	cfg := testConfig()
	cfg.LibSize = 3
	rec := metrics.NewRecorder()
	p, err := New(cfg, WithMetrics(rec))
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	assert.ErrorIs(t, err, design.ErrDesignInfeasible)

	expected := `
# HELP pathsim_runs_total Pipeline runs by terminal status.
# TYPE pathsim_runs_total counter
pathsim_runs_total{status="infeasible"} 1
`
	require.NoError(t, testutil.GatherAndCompare(rec.Registry(), strings.NewReader(expected), "pathsim_runs_total"))
}

func TestRunDegenerateFit(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	cfg := DefaultConfig()
	cfg.Shape = params.Shape{Steps: 1, Variants: 2, Promoters: 2, Plasmids: 1}
	cfg.LibSize = 4
	// The variant factor is informative for the optimizer but every
	// simulation with variant 1 fails, leaving one observed category.
	opt := fixedOptimizer{rows: []model.DesignPoint{{0, 0}, {1, 1}, {0, 1}, {1, 0}}}
	p, err := New(cfg,
		WithOptimizer(opt),
		WithSimulator(additiveSimulator{failVariant: 1}),
		WithLogger(logging.NewLoggerFromCore(core)),
	)
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "degenerate factor")
	entries := logs.FilterMessage("surrogate fit failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "r0_variant", entries[0].ContextMap()["factor"])
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SimSample = 1
	_, err := New(cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Workers = 0
	_, err = New(cfg)
	assert.Error(t, err)

	_, err = New(DefaultConfig(), WithSimulator(nil))
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Simulator = "missing"
	_, err = New(cfg)
	assert.ErrorIs(t, err, kinetics.ErrSimulatorNotFound)
}

func TestSimulatePointIsPure(t *testing.T) {
	cfg := testConfig()
	p, err := New(cfg)
	require.NoError(t, err)
	space, err := design.NewSpace(cfg.Shape)
	require.NoError(t, err)
	parameters, err := params.New(newRand(3), cfg.Shape)
	require.NoError(t, err)

	point := model.DesignPoint{1, 2, 0}
	a, err := p.SimulatePoint(context.Background(), parameters, space, point, 77)
	require.NoError(t, err)
	b, err := p.SimulatePoint(context.Background(), parameters, space, point, 77)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func newRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

func TestRunDesignStopsAfterSelection(t *testing.T) {
	rec := metrics.NewRecorder()
	p, err := New(testConfig(), WithSimulator(additiveSimulator{failVariant: 1}), WithMetrics(rec))
	require.NoError(t, err)

	res, err := p.RunDesign(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Design.Rows, 8)
	assert.Nil(t, res.Surrogate)
	assert.Equal(t, 0, res.Observed.Len())

	summary := res.Summary()
	assert.Greater(t, summary.Efficiency, 0.0)
	assert.False(t, summary.FitRSquared.Valid())
	assert.False(t, summary.Correlation.Valid())

	count, err := testutil.GatherAndCount(rec.Registry(), "pathsim_simulations_total")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
