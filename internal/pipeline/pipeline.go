package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"pathsim/internal/design"
	"pathsim/internal/kinetics"
	"pathsim/internal/logging"
	"pathsim/internal/metrics"
	"pathsim/internal/model"
	"pathsim/internal/params"
	"pathsim/internal/pathway"
	"pathsim/internal/storage"
	"pathsim/internal/surrogate"
	"pathsim/internal/validate"
)

// Seed phases keep the random streams of the run stages apart.
const (
	phaseObserve  = 1
	phasePredict  = 2
	phaseSelect   = 3
	phaseValidate = 4
)

type Pipeline struct {
	cfg       Config
	optimizer design.Optimizer
	simulator kinetics.Simulator
	logger    logging.Logger
	metrics   *metrics.Recorder
	now       func() time.Time
}

type Option func(*Pipeline)

func WithOptimizer(o design.Optimizer) Option {
	return func(p *Pipeline) { p.optimizer = o }
}

func WithSimulator(s kinetics.Simulator) Option {
	return func(p *Pipeline) { p.simulator = s }
}

func WithLogger(l logging.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(p *Pipeline) { p.metrics = r }
}

func New(cfg Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sim, err := kinetics.ResolveSimulator(cfg.Simulator)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:       cfg,
		optimizer: design.ExchangeOptimizer{},
		simulator: sim,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.optimizer == nil {
		return nil, fmt.Errorf("optimizer is required")
	}
	if p.simulator == nil {
		return nil, fmt.Errorf("simulator is required")
	}
	p.logger = logging.OrNop(p.logger).Named("pipeline")
	return p, nil
}

func (p *Pipeline) Config() Config {
	return p.cfg
}

// Result carries every artifact of one run.
type Result struct {
	RunID       string
	CreatedAt   time.Time
	Config      Config
	Parameters  *params.Parameters
	Space       *design.Space
	Design      model.DesignMatrix
	Diagnostics model.Diagnostics
	Observed    model.ObservationSet
	Surrogate   *surrogate.Surrogate
	Ranked      []surrogate.Prediction
	Report      model.PerformanceReport
}

// Run draws the parameter library, selects the design, simulates it, fits
// the surrogate, ranks the predicted space and validates the ranking.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	return p.run(ctx, false)
}

// RunDesign stops after design selection. The result carries the parameter
// library, the design and its diagnostics only.
func (p *Pipeline) RunDesign(ctx context.Context) (*Result, error) {
	return p.run(ctx, true)
}

func (p *Pipeline) run(ctx context.Context, designOnly bool) (*Result, error) {
	res := &Result{
		RunID:     uuid.NewString(),
		CreatedAt: p.now().UTC(),
		Config:    p.cfg,
		Report:    model.UnvalidatedReport(),
	}
	log := p.logger.With(logging.String("run_id", res.RunID), logging.Int64("seed", p.cfg.Seed))

	status := metrics.StatusFailed
	defer func() { p.metrics.Run(status) }()

	rng := rand.New(rand.NewSource(p.cfg.Seed))
	parameters, err := params.New(rng, p.cfg.Shape)
	if err != nil {
		return nil, fmt.Errorf("draw parameters: %w", err)
	}
	res.Parameters = parameters

	space, err := design.NewSpace(p.cfg.Shape)
	if err != nil {
		return nil, err
	}
	res.Space = space

	matrix, diag, err := design.Build(ctx, space, p.cfg.LibSize, p.optimizer, design.Options{
		Seed:   p.cfg.Seed,
		Starts: p.cfg.Starts,
		RMSE:   p.cfg.RMSE,
		Alpha:  p.cfg.Alpha,
	})
	if err != nil {
		if errors.Is(err, design.ErrDesignInfeasible) {
			status = metrics.StatusInfeasible
			log.Info("design infeasible", logging.Int("libsize", p.cfg.LibSize), logging.Err(err))
		}
		return nil, err
	}
	res.Design, res.Diagnostics = matrix, diag
	p.metrics.Efficiency(diag.Efficiency)
	log.Info("design selected",
		logging.Int("rows", len(matrix.Rows)),
		logging.Int("factors", len(matrix.Factors)),
		logging.Float64("efficiency", diag.Efficiency),
		logging.Float64("space_size", diag.SpaceSize),
	)
	if designOnly {
		status = metrics.StatusCompleted
		return res, nil
	}

	observed, err := p.Observe(ctx, parameters, space, matrix)
	if err != nil {
		return nil, err
	}
	res.Observed = observed
	if observed.Len() == 0 {
		return nil, fmt.Errorf("all %d simulations failed", len(matrix.Rows))
	}

	fit, err := surrogate.Fit(matrix.Factors, observed.Rows, observed.Endpoints)
	if err != nil {
		var degenerate *surrogate.DegenerateFactorError
		if errors.As(err, &degenerate) {
			status = metrics.StatusDegenerate
			log.Error("surrogate fit failed", logging.String("factor", degenerate.Factor), logging.Err(err))
		}
		return nil, fmt.Errorf("fit surrogate: %w", err)
	}
	res.Surrogate = fit
	log.Info("surrogate fitted",
		logging.Int("observations", observed.Len()),
		logging.Float64("r_squared", fit.Stats().RSquared),
		logging.Float64("rmse", fit.Stats().RMSE),
	)

	levels := surrogate.ObservedLevels(matrix.Factors, observed.Rows)
	ranked, err := surrogate.Predict(fit, levels, p.cfg.PredSample, rand.New(rand.NewSource(pointSeed(p.cfg.Seed, phasePredict, 0))))
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	res.Ranked = ranked

	calls := 0
	simulate := func(ctx context.Context, point model.DesignPoint) (float64, error) {
		seed := pointSeed(p.cfg.Seed, phaseValidate, calls)
		calls++
		return p.simulate(ctx, parameters, space, point, seed, log)
	}
	report, err := validate.Validate(ctx, ranked, simulate, p.cfg.SimSample, rand.New(rand.NewSource(pointSeed(p.cfg.Seed, phaseSelect, 0))))
	if err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	res.Report = report
	if report.RMSE.Valid() {
		p.metrics.ValidationRMSE(float64(report.RMSE))
	}

	status = metrics.StatusCompleted
	log.Info("run completed",
		logging.Int("validated", report.Simulated),
		logging.Float64("correlation", float64(report.Correlation)),
		logging.Float64("validation_rmse", float64(report.RMSE)),
	)
	return res, nil
}

type outcome struct {
	value float64
	ok    bool
}

// Observe simulates every row of matrix on at most Workers goroutines.
// Failed simulations are logged and counted; an assembly mismatch or a
// cancelled context aborts.
func (p *Pipeline) Observe(ctx context.Context, parameters *params.Parameters, space *design.Space, matrix model.DesignMatrix) (model.ObservationSet, error) {
	outcomes := make([]outcome, len(matrix.Rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i, row := range matrix.Rows {
		i, row := i, row
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			value, err := p.simulate(gctx, parameters, space, row, pointSeed(p.cfg.Seed, phaseObserve, i), p.logger)
			if err != nil {
				if errors.Is(err, design.ErrAssemblyMismatch) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				return nil
			}
			outcomes[i] = outcome{value: value, ok: true}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, design.ErrAssemblyMismatch) {
			p.logger.Error("design assembly failed", logging.Err(err))
		}
		return model.ObservationSet{}, err
	}

	var set model.ObservationSet
	for i, o := range outcomes {
		if !o.ok {
			set.Failed++
			continue
		}
		set.Append(matrix.Rows[i], o.value)
	}
	return set, nil
}

// simulate wraps SimulatePoint with logging and metrics.
func (p *Pipeline) simulate(ctx context.Context, parameters *params.Parameters, space *design.Space, point model.DesignPoint, seed int64, log logging.Logger) (float64, error) {
	start := time.Now()
	value, err := p.SimulatePoint(ctx, parameters, space, point, seed)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, err
	}
	p.metrics.Simulation(err == nil, time.Since(start).Seconds())
	if err != nil && !errors.Is(err, design.ErrAssemblyMismatch) {
		log.Warn("simulation failed", logging.Any("point", []int(point)), logging.Err(err))
	}
	return value, err
}

// SimulatePoint is a pure function of (parameters, point, seed): it builds
// one pathway and returns its endpoint.
func (p *Pipeline) SimulatePoint(ctx context.Context, parameters *params.Parameters, space *design.Space, point model.DesignPoint, seed int64) (float64, error) {
	full, err := design.Assemble(space, point)
	if err != nil {
		return 0, err
	}
	cfg, err := pathway.Construct(rand.New(rand.NewSource(seed)), parameters, full)
	if err != nil {
		return 0, err
	}
	return kinetics.Endpoint(ctx, p.simulator, cfg, p.cfg.Span, p.cfg.Samples)
}

func pointSeed(seed int64, phase, index int) int64 {
	return seed + int64(phase)*1_000_000_007 + int64(index)
}

// Summary flattens the result into its persisted row.
func (r *Result) Summary() model.RunSummary {
	summary := model.RunSummary{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: storage.CurrentSchemaVersion,
			CodecVersion:  storage.CurrentCodecVersion,
		},
		RunID:          r.RunID,
		CreatedAtUTC:   r.CreatedAt.UTC().Format(time.RFC3339),
		Seed:           r.Config.Seed,
		Steps:          r.Config.Shape.Steps,
		Variants:       r.Config.Shape.Variants,
		Promoters:      r.Config.Shape.Promoters,
		Plasmids:       r.Config.Shape.Plasmids,
		LibSize:        r.Config.LibSize,
		Efficiency:     r.Diagnostics.Efficiency,
		SpaceSize:      r.Diagnostics.SpaceSize,
		MeanPower:      r.Diagnostics.MeanPower(),
		MeanRepsPerVar: r.Diagnostics.MeanRepsPerVariant(),
		Observed:       r.Observed.Len(),
		Failed:         r.Observed.Failed,
		FitRSquared:    model.NaN(),
		Correlation:    r.Report.Correlation,
		RMSE:           r.Report.RMSE,
		Slope:          r.Report.Calibration.Slope,
		PValue:         r.Report.Calibration.PValue,
	}
	if r.Surrogate != nil {
		summary.FitRSquared = model.Float(r.Surrogate.Stats().RSquared)
	}
	return summary
}

func (r *Result) Record() model.RunRecord {
	return model.RunRecord{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: storage.CurrentSchemaVersion,
			CodecVersion:  storage.CurrentCodecVersion,
		},
		Summary:     r.Summary(),
		Diagnostics: r.Diagnostics,
		Design:      r.Design,
		Observed:    r.Observed,
		Report:      r.Report,
	}
}
