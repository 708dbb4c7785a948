package design

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"pathsim/internal/model"
)

// Request describes one design search over the non-degenerate factors.
type Request struct {
	Factors []model.Factor
	Size    int
	Seed    int64
	// Starts is the number of random restarts.
	Starts int
	// RMSE is the anticipated residual standard deviation used for power.
	RMSE  float64
	Alpha float64
}

type Result struct {
	Rows        []model.DesignPoint
	Diagnostics model.Diagnostics
}

// Optimizer selects Size design points from the Cartesian product of the
// request factors. An optimizer returns an error wrapping ErrDesignInfeasible
// when no design of that size exists.
type Optimizer interface {
	Optimize(ctx context.Context, req Request) (Result, error)
}

const (
	defaultEvaluations = 400
	defaultRMSE        = 1.0
	defaultAlpha       = 0.05
)

// ExchangeOptimizer is a D-optimal coordinate-exchange search. Each start is
// a balanced random design improved one cell at a time.
type ExchangeOptimizer struct {
	// Evaluations caps the number of exchanged cells per start.
	Evaluations int
}

func (o ExchangeOptimizer) Optimize(ctx context.Context, req Request) (Result, error) {
	factors := req.Factors
	if req.Size <= 0 {
		return Result{}, fmt.Errorf("%w: size must be > 0", ErrDesignInfeasible)
	}
	if len(factors) == 0 {
		return Result{}, fmt.Errorf("%w: no non-degenerate factors", ErrDesignInfeasible)
	}
	for _, f := range factors {
		if f.Degenerate() {
			return Result{}, fmt.Errorf("degenerate factor %s in request", f.Name)
		}
	}
	if p := modelColumns(factors); req.Size < p {
		return Result{}, fmt.Errorf("%w: size %d below %d model parameters", ErrDesignInfeasible, req.Size, p)
	}

	starts := req.Starts
	if starts <= 0 {
		starts = 1
	}
	evaluations := o.Evaluations
	if evaluations <= 0 {
		evaluations = defaultEvaluations
	}

	rng := rand.New(rand.NewSource(req.Seed))
	var (
		best      []model.DesignPoint
		bestScore = math.Inf(-1)
	)
	for start := 0; start < starts; start++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		rows := balancedDesign(rng, factors, req.Size)
		score := exchange(rng, factors, rows, evaluations)
		if _, ok := factorize(factors, rows); !ok {
			continue
		}
		if best == nil || score > bestScore {
			best, bestScore = rows, score
		}
	}
	if best == nil {
		return Result{}, fmt.Errorf("%w: information matrix is singular for size %d", ErrDesignInfeasible, req.Size)
	}

	diag, err := Diagnose(factors, best, req.RMSE, req.Alpha)
	if err != nil {
		return Result{}, err
	}
	return Result{Rows: best, Diagnostics: diag}, nil
}

// balancedDesign fills every column with levels as evenly as the size allows,
// in random order.
func balancedDesign(rng *rand.Rand, factors []model.Factor, size int) []model.DesignPoint {
	rows := make([]model.DesignPoint, size)
	for i := range rows {
		rows[i] = make(model.DesignPoint, len(factors))
	}
	column := make([]int, size)
	for j, f := range factors {
		for i := range column {
			column[i] = i % f.Levels
		}
		rng.Shuffle(size, func(a, b int) { column[a], column[b] = column[b], column[a] })
		for i := range rows {
			rows[i][j] = column[i]
		}
	}
	return rows
}

// exchange moves randomly chosen cells to the level that most increases the
// D criterion and returns the final log|X'X + ridge*I|.
func exchange(rng *rand.Rand, factors []model.Factor, rows []model.DesignPoint, evaluations int) float64 {
	state := newExchangeState(factors)
	if !state.refresh(rows) {
		return math.Inf(-1)
	}
	candidate := make(model.DesignPoint, len(factors))
	for e := 0; e < evaluations; e++ {
		i := rng.Intn(len(rows))
		j := rng.Intn(len(factors))
		current := rows[i][j]
		state.leave(rows[i])
		copy(candidate, rows[i])

		best, bestGain := current, 1e-9
		for level := 0; level < factors[j].Levels; level++ {
			if level == current {
				continue
			}
			candidate[j] = level
			if gain := state.gain(candidate); gain > bestGain {
				best, bestGain = level, gain
			}
		}
		if best == current {
			continue
		}
		rows[i][j] = best
		if !state.accept(rows, i, bestGain) {
			rows[i][j] = current
			if !state.refresh(rows) {
				return math.Inf(-1)
			}
		}
	}
	return state.logDet
}

// Diagnose computes the D-efficiency, per-factor power and replication of a
// design. Efficiency is 100*|X'X|^(1/p)/n, which is 100 for an orthogonal
// balanced design under orthonormal coding.
func Diagnose(factors []model.Factor, rows []model.DesignPoint, rmse, alpha float64) (model.Diagnostics, error) {
	if len(rows) == 0 {
		return model.Diagnostics{}, fmt.Errorf("%w: empty design", ErrDesignInfeasible)
	}
	if rmse <= 0 {
		rmse = defaultRMSE
	}
	if alpha <= 0 || alpha >= 1 {
		alpha = defaultAlpha
	}

	chol, ok := factorize(factors, rows)
	if !ok {
		return model.Diagnostics{}, fmt.Errorf("%w: information matrix is singular", ErrDesignInfeasible)
	}
	p := modelColumns(factors)
	n := float64(len(rows))

	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return model.Diagnostics{}, fmt.Errorf("%w: %v", ErrDesignInfeasible, err)
	}

	z := distuv.UnitNormal.Quantile(1 - alpha/2)
	diag := model.Diagnostics{
		Efficiency:     100 * math.Exp(chol.LogDet()/float64(p)) / n,
		Power:          make([]float64, len(factors)),
		RepsPerVariant: make([]float64, len(factors)),
		Levels:         make([]int, len(factors)),
		SpaceSize:      SpaceSize(factors),
	}
	col := 1
	for j, f := range factors {
		sum := 0.0
		for c := 1; c < f.Levels; c++ {
			se := rmse * math.Sqrt(inv.At(col, col))
			sum += contrastPower(1/se, z)
			col++
		}
		diag.Power[j] = sum / float64(f.Levels-1)
		diag.RepsPerVariant[j] = n / float64(f.Levels)
		diag.Levels[j] = f.Levels
	}
	return diag, nil
}

// contrastPower is the two-sided power of a z test with noncentrality lambda.
func contrastPower(lambda, z float64) float64 {
	power := distuv.UnitNormal.CDF(lambda-z) + distuv.UnitNormal.CDF(-lambda-z)
	return math.Min(1, math.Max(0, power))
}
