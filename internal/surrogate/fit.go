package surrogate

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"pathsim/internal/model"
)

const emptyLabel = "empty"

// rcond is the relative singular value cutoff of the least-squares solve.
const rcond = 1e-10

var ErrDegenerateFactor = errors.New("degenerate factor")

// DegenerateFactorError names a factor that took a single category over the
// observed rows, so its effect cannot be estimated.
type DegenerateFactorError struct {
	Factor string
	Label  string
}

func (e *DegenerateFactorError) Error() string {
	return fmt.Sprintf("degenerate factor %s: only %q observed", e.Factor, e.Label)
}

func (e *DegenerateFactorError) Unwrap() error {
	return ErrDegenerateFactor
}

// Stats summarises the training fit.
type Stats struct {
	N           int     `json:"n"`
	Params      int     `json:"params"`
	Rank        int     `json:"rank"`
	DOF         int     `json:"dof"`
	RSquared    float64 `json:"r_squared"`
	AdjRSquared float64 `json:"adj_r_squared"`
	RMSE        float64 `json:"rmse"`
}

// Surrogate is an additive main-effects model over categorical factors with
// treatment coding: the first category of each factor is the baseline.
type Surrogate struct {
	factors    []model.Factor
	categories [][]string
	columns    []map[string]int
	coef       []float64
	stats      Stats
}

// Label is the category of level for factor f. Step promoter levels in the
// upper half mean no promoter and share one category.
func Label(f model.Factor, level int) string {
	if f.Kind == model.FactorStepPromoter && level >= f.Levels/2 {
		return emptyLabel
	}
	return "L" + strconv.Itoa(level)
}

func Fit(factors []model.Factor, rows []model.DesignPoint, endpoints []float64) (*Surrogate, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("no observations to fit")
	}
	if len(rows) != len(endpoints) {
		return nil, fmt.Errorf("%d rows but %d endpoints", len(rows), len(endpoints))
	}
	if len(factors) == 0 {
		return nil, fmt.Errorf("no factors to fit")
	}
	for i, row := range rows {
		if len(row) != len(factors) {
			return nil, fmt.Errorf("row %d has %d levels, want %d", i, len(row), len(factors))
		}
	}
	for i, y := range endpoints {
		if math.IsNaN(y) || math.IsInf(y, 0) {
			return nil, fmt.Errorf("endpoint %d is not finite", i)
		}
	}

	s := &Surrogate{
		factors:    append([]model.Factor(nil), factors...),
		categories: make([][]string, len(factors)),
		columns:    make([]map[string]int, len(factors)),
	}
	p := 1
	for j, f := range factors {
		cats := observedCategories(f, j, rows)
		if len(cats) < 2 {
			return nil, &DegenerateFactorError{Factor: f.Name, Label: cats[0]}
		}
		s.categories[j] = cats
		s.columns[j] = make(map[string]int, len(cats)-1)
		for _, label := range cats[1:] {
			s.columns[j][label] = p
			p++
		}
	}

	n := len(rows)
	x := mat.NewDense(n, p, nil)
	for i, row := range rows {
		x.Set(i, 0, 1)
		for j, level := range row {
			if col, ok := s.columns[j][Label(factors[j], level)]; ok {
				x.Set(i, col, 1)
			}
		}
	}
	y := mat.NewVecDense(n, append([]float64(nil), endpoints...))

	var svd mat.SVD
	if ok := svd.Factorize(x, mat.SVDThin); !ok {
		return nil, fmt.Errorf("svd factorization failed")
	}
	rank := svd.Rank(rcond)
	if rank == 0 {
		return nil, fmt.Errorf("design matrix has rank 0")
	}
	var beta mat.Dense
	svd.SolveTo(&beta, y, rank)
	s.coef = make([]float64, p)
	for k := range s.coef {
		s.coef[k] = beta.At(k, 0)
	}

	s.stats = fitStats(x, y, s.coef, rank)
	return s, nil
}

func observedCategories(f model.Factor, j int, rows []model.DesignPoint) []string {
	seen := make(map[string]int)
	for _, row := range rows {
		label := Label(f, row[j])
		if _, ok := seen[label]; !ok {
			seen[label] = row[j]
		}
	}
	cats := make([]string, 0, len(seen))
	for label := range seen {
		cats = append(cats, label)
	}
	sort.Slice(cats, func(a, b int) bool {
		if cats[a] == emptyLabel || cats[b] == emptyLabel {
			return cats[b] == emptyLabel && cats[a] != emptyLabel
		}
		return seen[cats[a]] < seen[cats[b]]
	})
	return cats
}

func fitStats(x *mat.Dense, y *mat.VecDense, coef []float64, rank int) Stats {
	n, p := x.Dims()
	fitted := mat.NewVecDense(n, nil)
	fitted.MulVec(x, mat.NewVecDense(p, coef))

	mean := mat.Sum(y) / float64(n)
	ssRes, ssTot := 0.0, 0.0
	for i := 0; i < n; i++ {
		r := y.AtVec(i) - fitted.AtVec(i)
		d := y.AtVec(i) - mean
		ssRes += r * r
		ssTot += d * d
	}

	st := Stats{N: n, Params: p, Rank: rank, DOF: n - rank, RMSE: math.Sqrt(ssRes / float64(n))}
	st.RSquared = math.NaN()
	st.AdjRSquared = math.NaN()
	if ssTot > 0 {
		st.RSquared = 1 - ssRes/ssTot
		if st.DOF > 0 && n > 1 {
			st.AdjRSquared = 1 - (1-st.RSquared)*float64(n-1)/float64(st.DOF)
		}
	}
	return st
}

func (s *Surrogate) Factors() []model.Factor {
	return append([]model.Factor(nil), s.factors...)
}

func (s *Surrogate) Stats() Stats {
	return s.stats
}

// Compatible reports whether factors match the shape the model was fit on.
func (s *Surrogate) Compatible(factors []model.Factor) bool {
	if len(factors) != len(s.factors) {
		return false
	}
	for j := range factors {
		if factors[j].Name != s.factors[j].Name || factors[j].Levels != s.factors[j].Levels {
			return false
		}
	}
	return true
}

// Predict evaluates the model at point. Every level must map to a category
// seen in training.
func (s *Surrogate) Predict(point model.DesignPoint) (float64, error) {
	if len(point) != len(s.factors) {
		return 0, fmt.Errorf("point has %d levels, model has %d factors", len(point), len(s.factors))
	}
	value := s.coef[0]
	for j, level := range point {
		label := Label(s.factors[j], level)
		if label == s.categories[j][0] {
			continue
		}
		col, ok := s.columns[j][label]
		if !ok {
			return 0, fmt.Errorf("factor %s: category %s not seen in training", s.factors[j].Name, label)
		}
		value += s.coef[col]
	}
	return value, nil
}
