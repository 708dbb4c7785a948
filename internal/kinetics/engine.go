package kinetics

import (
	"context"
	"fmt"
	"math"

	"pathsim/internal/model"
	"pathsim/internal/params"
)

const (
	defaultSubsteps         = 20
	defaultInitialSubstrate = 1.0
	defaultInducer          = 1.0
)

var (
	keyKm     = params.Key(params.GroupCatalysis, "Km")
	keyKcat   = params.Key(params.GroupCatalysis, "kcat")
	keyK2     = params.Key(params.GroupDegradation, "k2")
	keyVl     = params.Key(params.GroupLeakage, "vl")
	keyShalve = params.Key(params.GroupInduction, "Shalve")
	keyVi     = params.Key(params.GroupInduction, "Vi")
	keyHill   = params.Key(params.GroupInduction, "h")
)

// Engine is the built-in simulator. Each step i converts substrate S_i into
// S_i+1 through Michaelis-Menten catalysis by enzyme E_i. Promoter steps
// hold an inducer that activates their promoter through a Hill term, and
// enzyme is expressed from the activated promoter of the step's promoter
// source, degraded first order and leaked at a constant rate.
//
// Integration uses exponential transfer updates, which keep every pool
// non-negative for any step length.
type Engine struct {
	// Substeps is the number of integration steps between output samples.
	Substeps         int
	InitialSubstrate float64
	Inducer          float64
}

func NewEngine() Engine {
	return Engine{
		Substeps:         defaultSubsteps,
		InitialSubstrate: defaultInitialSubstrate,
		Inducer:          defaultInducer,
	}
}

// EngineName is the registry name of Engine.
const EngineName = "pathway-kinetics"

func (Engine) Name() string {
	return EngineName
}

func (Engine) Variables(cfg model.PathwayConfig) ([]string, error) {
	if len(cfg.Steps) == 0 {
		return nil, fmt.Errorf("pathway has no steps")
	}
	return newLayout(cfg).names, nil
}

type layout struct {
	names     []string
	substrate []int
	enzyme    []int
	inducer   []int
	activated []int
	product   int
}

func newLayout(cfg model.PathwayConfig) layout {
	n := len(cfg.Steps)
	l := layout{
		substrate: make([]int, n),
		enzyme:    make([]int, n),
		inducer:   make([]int, n),
		activated: make([]int, n),
	}
	add := func(name string) int {
		l.names = append(l.names, name)
		return len(l.names) - 1
	}
	for i, step := range cfg.Steps {
		m := i + 1
		l.substrate[i] = add(fmt.Sprintf("m%d_Substrate", m))
		l.enzyme[i] = add(fmt.Sprintf("m%d_Enzyme", m))
		l.inducer[i], l.activated[i] = -1, -1
		if step.HasPromoter {
			l.inducer[i] = add(fmt.Sprintf("m%d_Inducer", m))
			l.activated[i] = add(fmt.Sprintf("m%d_Activated_promoter", m))
		}
	}
	l.product = add(fmt.Sprintf("m%d_Product", n))
	return l
}

// next is the pool step i feeds: the following substrate or the product.
func (l layout) next(i int) int {
	if i+1 < len(l.substrate) {
		return l.substrate[i+1]
	}
	return l.product
}

type stepRates struct {
	km, kcat, k2, vl       float64
	shalve, vi, hill       float64
	activation, copyNumber float64
}

func (e Engine) Simulate(ctx context.Context, cfg model.PathwayConfig, span Span, samples int) (Trajectory, error) {
	if len(cfg.Steps) == 0 {
		return Trajectory{}, fmt.Errorf("pathway has no steps")
	}
	if err := span.Validate(); err != nil {
		return Trajectory{}, err
	}
	if samples < 2 {
		return Trajectory{}, fmt.Errorf("samples must be >= 2")
	}
	rates, err := collectRates(cfg)
	if err != nil {
		return Trajectory{}, err
	}
	substeps := e.Substeps
	if substeps <= 0 {
		substeps = defaultSubsteps
	}

	l := newLayout(cfg)
	state := make([]float64, len(l.names))
	state[l.substrate[0]] = e.InitialSubstrate
	for i := range cfg.Steps {
		if l.inducer[i] >= 0 {
			state[l.inducer[i]] = e.Inducer
		}
	}

	interval := (span.End - span.Start) / float64(samples-1)
	dt := interval / float64(substeps)
	traj := Trajectory{
		Time:   make([]float64, samples),
		Names:  append([]string(nil), l.names...),
		Values: make([][]float64, samples),
	}
	prev := make([]float64, len(state))
	for k := 0; k < samples; k++ {
		if err := ctx.Err(); err != nil {
			return Trajectory{}, err
		}
		if k > 0 {
			for s := 0; s < substeps; s++ {
				copy(prev, state)
				advance(cfg, l, rates, prev, state, dt)
			}
		}
		for j, v := range state {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return Trajectory{}, &SimulationError{Step: -1, Reason: fmt.Sprintf("%s diverged at t=%g", l.names[j], span.Start+float64(k)*interval)}
			}
		}
		traj.Time[k] = span.Start + float64(k)*interval
		traj.Values[k] = append([]float64(nil), state...)
	}
	return traj, nil
}

// advance moves state forward by dt using rates evaluated on prev.
func advance(cfg model.PathwayConfig, l layout, rates []stepRates, prev, state []float64, dt float64) {
	for i, step := range cfg.Steps {
		r := rates[i]

		s := prev[l.substrate[i]]
		if s > 0 {
			hazard := r.kcat * prev[l.enzyme[i]] / (r.km + s)
			moved := s * -math.Expm1(-hazard*dt)
			state[l.substrate[i]] -= moved
			state[l.next(i)] += moved
		}

		if step.HasPromoter {
			inducer := prev[l.inducer[i]]
			if inducer > 0 {
				hazard := r.copyNumber * r.vi * math.Pow(inducer, r.hill-1) /
					(math.Pow(r.shalve, r.hill) + math.Pow(inducer, r.hill))
				moved := inducer * -math.Expm1(-hazard*dt)
				state[l.inducer[i]] -= moved
				state[l.activated[i]] += moved
			}
		}

		source := l.activated[step.PromoterSource]
		expression := r.vl
		if source >= 0 {
			expression += r.copyNumber * r.activation * prev[source]
		}
		decay := math.Exp(-r.k2 * dt)
		state[l.enzyme[i]] = prev[l.enzyme[i]]*decay + expression/r.k2*(1-decay)
	}
}

func collectRates(cfg model.PathwayConfig) ([]stepRates, error) {
	out := make([]stepRates, len(cfg.Steps))
	for i, step := range cfg.Steps {
		if step.PromoterSource < 0 || step.PromoterSource > i || !cfg.Steps[step.PromoterSource].HasPromoter {
			return nil, &SimulationError{Step: i, Reason: fmt.Sprintf("invalid promoter source %d", step.PromoterSource)}
		}
		r := stepRates{activation: step.Activation, copyNumber: step.CopyNumber}
		required := map[string]*float64{
			keyKm:   &r.km,
			keyKcat: &r.kcat,
			keyK2:   &r.k2,
			keyVl:   &r.vl,
		}
		if step.HasPromoter {
			required[keyShalve] = &r.shalve
			required[keyVi] = &r.vi
			required[keyHill] = &r.hill
		}
		for key, dst := range required {
			v, ok := step.Kinetics[key]
			if !ok {
				return nil, &SimulationError{Step: i, Reason: fmt.Sprintf("missing %s", key)}
			}
			*dst = v
		}

		checks := map[string]float64{
			keyKm:         r.km,
			keyKcat:       r.kcat,
			keyK2:         r.k2,
			keyVl:         r.vl,
			"activation":  r.activation,
			"copy_number": r.copyNumber,
		}
		if step.HasPromoter {
			checks[keyShalve] = r.shalve
			checks[keyVi] = r.vi
			checks[keyHill] = r.hill
		}
		for name, v := range checks {
			if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
				return nil, &SimulationError{Step: i, Reason: fmt.Sprintf("%s must be finite and > 0, got %g", name, v)}
			}
		}
		out[i] = r
	}
	return out, nil
}
