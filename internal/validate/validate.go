package validate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"pathsim/internal/model"
	"pathsim/internal/surrogate"
)

// SimulateFunc returns the observed endpoint of one design point. It must be
// safe to call with any point of the ranked list.
type SimulateFunc func(ctx context.Context, point model.DesignPoint) (float64, error)

// SelectStratified returns ranks to re-simulate: the best and worst ranks
// plus sampleSize-2 distinct ranks drawn uniformly from the rest, in
// ascending order. All ranks are returned when sampleSize >= n.
func SelectStratified(n, sampleSize int, rng *rand.Rand) ([]int, error) {
	if sampleSize < 2 {
		return nil, fmt.Errorf("validation sample size must be >= 2")
	}
	if n <= 0 {
		return nil, fmt.Errorf("nothing to validate")
	}
	if sampleSize >= n {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	if rng == nil {
		return nil, fmt.Errorf("rng is required")
	}

	selected := make([]bool, n)
	selected[0], selected[n-1] = true, true
	for _, k := range rng.Perm(n - 2)[:sampleSize-2] {
		selected[k+1] = true
	}
	out := make([]int, 0, sampleSize)
	for rank, ok := range selected {
		if ok {
			out = append(out, rank)
		}
	}
	return out, nil
}

// Validate re-simulates a stratified subset of ranked and compares the
// observations with the predictions. The report lists every ranked point;
// ranks never selected and points whose simulation fails stay unobserved and
// are left out of every statistic. Context cancellation aborts validation.
func Validate(ctx context.Context, ranked []surrogate.Prediction, simulate SimulateFunc, sampleSize int, rng *rand.Rand) (model.PerformanceReport, error) {
	if simulate == nil {
		return model.PerformanceReport{}, fmt.Errorf("simulate function is required")
	}
	ranks, err := SelectStratified(len(ranked), sampleSize, rng)
	if err != nil {
		return model.PerformanceReport{}, err
	}

	report := model.PerformanceReport{
		Points:   make([]model.ValidationPoint, len(ranked)),
		Selected: len(ranks),
	}
	for rank, pred := range ranked {
		report.Points[rank] = model.ValidationPoint{
			Rank:      rank,
			Point:     pred.Point.Clone(),
			Predicted: pred.Value,
			Observed:  model.NaN(),
		}
	}

	var predicted, observed []float64
	for _, rank := range ranks {
		vp := &report.Points[rank]
		vp.Selected = true
		value, err := simulate(ctx, vp.Point)
		switch {
		case err == nil && !math.IsNaN(value) && !math.IsInf(value, 0):
			vp.Observed = model.Float(value)
			predicted = append(predicted, vp.Predicted)
			observed = append(observed, value)
		case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
			return model.PerformanceReport{}, err
		default:
			report.Failed++
		}
	}
	report.Simulated = len(observed)

	report.RMSE = rmse(predicted, observed)
	report.Correlation = correlation(predicted, observed)
	report.Calibration = calibrate(predicted, observed)
	return report, nil
}

func rmse(predicted, observed []float64) model.Float {
	if len(observed) == 0 {
		return model.NaN()
	}
	sum := 0.0
	for i := range observed {
		d := observed[i] - predicted[i]
		sum += d * d
	}
	return model.Float(math.Sqrt(sum / float64(len(observed))))
}

func correlation(predicted, observed []float64) model.Float {
	if len(observed) < 2 {
		return model.NaN()
	}
	return finite(stat.Correlation(predicted, observed, nil))
}

// calibrate regresses observed on predicted. The slope p-value is two-sided
// against a Student's t with n-2 degrees of freedom.
func calibrate(predicted, observed []float64) model.Calibration {
	cal := model.Calibration{
		Intercept: model.NaN(),
		Slope:     model.NaN(),
		RSquared:  model.NaN(),
		PValue:    model.NaN(),
	}
	n := len(observed)
	if n < 2 || stat.Variance(predicted, nil) == 0 {
		return cal
	}

	alpha, beta := stat.LinearRegression(predicted, observed, nil, false)
	cal.Intercept = finite(alpha)
	cal.Slope = finite(beta)
	cal.RSquared = finite(stat.RSquared(predicted, observed, nil, alpha, beta))
	if n < 3 {
		return cal
	}

	ssRes := 0.0
	for i := range observed {
		r := observed[i] - (alpha + beta*predicted[i])
		ssRes += r * r
	}
	meanX := stat.Mean(predicted, nil)
	sxx := 0.0
	for _, x := range predicted {
		sxx += (x - meanX) * (x - meanX)
	}
	dof := float64(n - 2)
	se := math.Sqrt(ssRes / dof / sxx)
	if se == 0 {
		cal.PValue = 0
		return cal
	}
	t := math.Abs(beta / se)
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: dof}
	cal.PValue = finite(2 * dist.Survival(t))
	return cal
}

func finite(v float64) model.Float {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return model.NaN()
	}
	return model.Float(v)
}
