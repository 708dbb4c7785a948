// Package sweep evaluates many randomly drawn pathway shapes, growing the
// library size of each one until its design reaches a target efficiency.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/google/uuid"

	"pathsim/internal/design"
	"pathsim/internal/logging"
	"pathsim/internal/model"
	"pathsim/internal/params"
	"pathsim/internal/pipeline"
	"pathsim/internal/storage"
)

// Ranges lists the values each shape dimension is drawn from.
type Ranges struct {
	Steps     []int `mapstructure:"steps" json:"steps"`
	Variants  []int `mapstructure:"variants" json:"variants"`
	Promoters []int `mapstructure:"promoters" json:"promoters"`
	Plasmids  []int `mapstructure:"plasmids" json:"plasmids"`
}

type Config struct {
	Runs   int    `mapstructure:"runs" json:"runs"`
	Ranges Ranges `mapstructure:"ranges" json:"ranges"`
	// LibSize is the first library size tried for every shape.
	LibSize int `mapstructure:"libsize" json:"libsize"`
	// Growth multiplies the library size between attempts.
	Growth           float64 `mapstructure:"growth" json:"growth"`
	MaxAttempts      int     `mapstructure:"max_attempts" json:"max_attempts"`
	TargetEfficiency float64 `mapstructure:"target_efficiency" json:"target_efficiency"`
	// DesignOnly skips simulation, fitting and validation.
	DesignOnly bool            `mapstructure:"design_only" json:"design_only"`
	Seed       int64           `mapstructure:"seed" json:"seed"`
	Pipeline   pipeline.Config `mapstructure:"pipeline" json:"pipeline"`
}

func DefaultConfig() Config {
	return Config{
		Runs: 10,
		Ranges: Ranges{
			Steps:     []int{4, 6, 8, 10},
			Variants:  []int{1, 5, 10},
			Promoters: []int{1, 3, 5},
			Plasmids:  []int{1, 2},
		},
		LibSize:          8,
		Growth:           2,
		MaxAttempts:      9,
		TargetEfficiency: 98,
		DesignOnly:       true,
		Seed:             1,
		Pipeline:         pipeline.DefaultConfig(),
	}
}

type namedRange struct {
	name   string
	values []int
}

// named lists the ranges in shape order.
func (r Ranges) named() []namedRange {
	return []namedRange{
		{name: "steps", values: r.Steps},
		{name: "variants", values: r.Variants},
		{name: "promoters", values: r.Promoters},
		{name: "plasmids", values: r.Plasmids},
	}
}

func (c Config) Validate() error {
	if c.Runs <= 0 {
		return fmt.Errorf("runs must be > 0")
	}
	for _, r := range c.Ranges.named() {
		if len(r.values) == 0 {
			return fmt.Errorf("%s range is empty", r.name)
		}
		for _, v := range r.values {
			if v <= 0 {
				return fmt.Errorf("%s range values must be > 0", r.name)
			}
		}
	}
	if c.LibSize <= 0 {
		return fmt.Errorf("libsize must be > 0")
	}
	if c.Growth <= 1 {
		return fmt.Errorf("growth must be > 1")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be > 0")
	}
	if c.TargetEfficiency <= 0 || c.TargetEfficiency > 100 {
		return fmt.Errorf("target efficiency must be in (0, 100]")
	}
	// Shape and libsize are replaced per attempt.
	pc := c.Pipeline
	pc.Shape = params.Shape{Steps: 1, Variants: 1, Promoters: 1, Plasmids: 1}
	pc.LibSize = c.LibSize
	if err := pc.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	return nil
}

// Report summarizes a finished sweep. Runs holds the summaries saved to the
// store, in attempt order.
type Report struct {
	SweepID    string
	Runs       []model.RunSummary
	Attempts   int
	Infeasible int
	Failed     int
}

type Driver struct {
	cfg      Config
	store    storage.Store
	logger   logging.Logger
	pipeOpts []pipeline.Option
}

type Option func(*Driver)

func WithLogger(l logging.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithPipelineOptions passes opts to every pipeline the sweep creates.
func WithPipelineOptions(opts ...pipeline.Option) Option {
	return func(d *Driver) { d.pipeOpts = append(d.pipeOpts, opts...) }
}

// New returns a sweep driver writing to store, which must already be
// initialized.
func New(cfg Config, store storage.Store, opts ...Option) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	d := &Driver{cfg: cfg, store: store}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logging.OrNop(d.logger).Named("sweep")
	return d, nil
}

// Run draws Runs shapes. Each shape is attempted at growing library sizes
// until its efficiency reaches the target or MaxAttempts is spent. Every
// successful attempt is saved; failed attempts are logged and skipped. Only
// context cancellation and store errors stop the sweep.
func (d *Driver) Run(ctx context.Context) (Report, error) {
	report := Report{SweepID: uuid.NewString()}
	log := d.logger.With(logging.String("sweep_id", report.SweepID))
	rng := rand.New(rand.NewSource(d.cfg.Seed))

	for run := 0; run < d.cfg.Runs; run++ {
		shape := d.drawShape(rng)
		libsize := d.cfg.LibSize
		for attempt := 0; attempt < d.cfg.MaxAttempts; attempt++ {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Attempts++
			seed := rng.Int63()

			res, err := d.attempt(ctx, shape, libsize, seed)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return report, err
				}
				fields := []logging.Field{
					logging.Any("shape", shape),
					logging.Int("libsize", libsize),
					logging.Err(err),
				}
				if errors.Is(err, design.ErrDesignInfeasible) {
					report.Infeasible++
					log.Info("attempt infeasible", fields...)
				} else {
					report.Failed++
					log.Warn("attempt failed", fields...)
				}
				libsize = nextLibSize(libsize, d.cfg.Growth)
				continue
			}

			record := res.Record()
			record.Summary.SweepID = report.SweepID
			if err := d.store.SaveRun(ctx, record); err != nil {
				return report, fmt.Errorf("save run %s: %w", record.Summary.RunID, err)
			}
			report.Runs = append(report.Runs, record.Summary)
			log.Info("attempt saved",
				logging.String("run_id", record.Summary.RunID),
				logging.Any("shape", shape),
				logging.Int("libsize", libsize),
				logging.Float64("efficiency", record.Summary.Efficiency),
			)
			if record.Summary.Efficiency >= d.cfg.TargetEfficiency {
				break
			}
			libsize = nextLibSize(libsize, d.cfg.Growth)
		}
	}
	return report, nil
}

func (d *Driver) attempt(ctx context.Context, shape params.Shape, libsize int, seed int64) (*pipeline.Result, error) {
	pc := d.cfg.Pipeline
	pc.Shape = shape
	pc.LibSize = libsize
	pc.Seed = seed
	opts := append([]pipeline.Option{pipeline.WithLogger(d.logger)}, d.pipeOpts...)
	p, err := pipeline.New(pc, opts...)
	if err != nil {
		return nil, err
	}
	if d.cfg.DesignOnly {
		return p.RunDesign(ctx)
	}
	return p.Run(ctx)
}

func (d *Driver) drawShape(rng *rand.Rand) params.Shape {
	pick := func(values []int) int { return values[rng.Intn(len(values))] }
	return params.Shape{
		Steps:     pick(d.cfg.Ranges.Steps),
		Variants:  pick(d.cfg.Ranges.Variants),
		Promoters: pick(d.cfg.Ranges.Promoters),
		Plasmids:  pick(d.cfg.Ranges.Plasmids),
	}
}

// nextLibSize grows size by factor, by at least one.
func nextLibSize(size int, factor float64) int {
	next := int(math.Ceil(float64(size) * factor))
	if next <= size {
		next = size + 1
	}
	return next
}
