package design

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"

	"pathsim/internal/model"
)

// modelColumns is the width of the main-effects model matrix: an intercept
// plus levels-1 contrasts per factor.
func modelColumns(factors []model.Factor) int {
	p := 1
	for _, f := range factors {
		p += f.Levels - 1
	}
	return p
}

// helmert is the orthonormal Helmert contrast c (1-based) of level for a
// factor with k levels. Over a balanced column every contrast has mean zero
// and sum of squares equal to the number of rows.
func helmert(k, level, c int) float64 {
	scale := math.Sqrt(float64(k) / float64(c*(c+1)))
	switch {
	case level < c:
		return -scale
	case level == c:
		return float64(c) * scale
	default:
		return 0
	}
}

// modelRow writes the coded model row of point into dst.
func modelRow(factors []model.Factor, point model.DesignPoint, dst []float64) {
	dst[0] = 1
	col := 1
	for j, f := range factors {
		for c := 1; c < f.Levels; c++ {
			dst[col] = helmert(f.Levels, point[j], c)
			col++
		}
	}
}

func modelMatrix(factors []model.Factor, rows []model.DesignPoint) *mat.Dense {
	p := modelColumns(factors)
	x := mat.NewDense(len(rows), p, nil)
	for i, row := range rows {
		modelRow(factors, row, x.RawRowView(i))
	}
	return x
}

func information(x *mat.Dense) *mat.SymDense {
	_, p := x.Dims()
	info := mat.NewSymDense(p, nil)
	info.SymOuterK(1, x.T())
	return info
}

// maxCondition bounds the condition number of an information matrix that is
// still treated as nonsingular.
const maxCondition = 1e12

// factorize returns the Cholesky factor of X'X, or false when the design
// cannot estimate every main effect.
func factorize(factors []model.Factor, rows []model.DesignPoint) (*mat.Cholesky, bool) {
	var chol mat.Cholesky
	if ok := chol.Factorize(information(modelMatrix(factors, rows))); !ok {
		return nil, false
	}
	if cond := chol.Cond(); math.IsNaN(cond) || cond > maxCondition {
		return nil, false
	}
	return &chol, true
}

// ridge keeps the exchange criterion finite on rank-deficient designs, so a
// single exchange that raises the rank always scores higher.
const ridge = 1e-6

// criterion is log|X'X + ridge*I|.
func criterion(factors []model.Factor, rows []model.DesignPoint) float64 {
	var chol mat.Cholesky
	if ok := chol.Factorize(ridged(factors, rows)); !ok {
		return math.Inf(-1)
	}
	return chol.LogDet()
}

func ridged(factors []model.Factor, rows []model.DesignPoint) *mat.SymDense {
	info := information(modelMatrix(factors, rows))
	n, _ := info.Dims()
	for i := 0; i < n; i++ {
		info.SetSym(i, i, info.At(i, i)+ridge)
	}
	return info
}

// exchangeState holds A^-1 for A = X'X + ridge*I so that the criterion change
// of replacing one row costs O(p^2) instead of a refactorization.
//
// For A' = A - x x' + y y' the determinant lemma gives
// |A'| = |A| * ((1 - x'A^-1 x)(1 + y'A^-1 y) + (x'A^-1 y)^2).
type exchangeState struct {
	factors []model.Factor
	inv     *mat.SymDense
	logDet  float64

	x, y, ax, ay *mat.VecDense
	dxx          float64
	updates      int
}

const (
	// refreshEvery bounds drift of the rank-one inverse updates.
	refreshEvery = 64
	// minLeverageGap is the smallest 1 - x'A^-1 x downdated in place.
	minLeverageGap = 1e-8
)

func newExchangeState(factors []model.Factor) *exchangeState {
	p := modelColumns(factors)
	return &exchangeState{
		factors: factors,
		inv:     mat.NewSymDense(p, nil),
		x:       mat.NewVecDense(p, nil),
		y:       mat.NewVecDense(p, nil),
		ax:      mat.NewVecDense(p, nil),
		ay:      mat.NewVecDense(p, nil),
	}
}

// refresh rebuilds A^-1 and log|A| from rows.
func (s *exchangeState) refresh(rows []model.DesignPoint) bool {
	var chol mat.Cholesky
	if ok := chol.Factorize(ridged(s.factors, rows)); !ok {
		return false
	}
	if err := chol.InverseTo(s.inv); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return false
		}
	}
	s.logDet = chol.LogDet()
	return true
}

// accept records that rows[i], the row passed to leave, was replaced and
// raised log|A| by gain.
func (s *exchangeState) accept(rows []model.DesignPoint, i int, gain float64) bool {
	s.updates++
	if s.updates%refreshEvery == 0 || 1-s.dxx < minLeverageGap {
		return s.refresh(rows)
	}
	s.inv.SymRankOne(s.inv, 1/(1-s.dxx), s.ax)
	modelRow(s.factors, rows[i], s.y.RawVector().Data)
	s.ay.MulVec(s.inv, s.y)
	s.inv.SymRankOne(s.inv, -1/(1+mat.Dot(s.y, s.ay)), s.ay)
	s.logDet += gain
	return true
}

// leave fixes the row about to be replaced.
func (s *exchangeState) leave(point model.DesignPoint) {
	modelRow(s.factors, point, s.x.RawVector().Data)
	s.ax.MulVec(s.inv, s.x)
	s.dxx = mat.Dot(s.x, s.ax)
}

// gain is the change of log|A| when the row passed to leave becomes point.
func (s *exchangeState) gain(point model.DesignPoint) float64 {
	modelRow(s.factors, point, s.y.RawVector().Data)
	s.ay.MulVec(s.inv, s.y)
	dyy := mat.Dot(s.y, s.ay)
	dxy := mat.Dot(s.x, s.ay)
	delta := (1-s.dxx)*(1+dyy) + dxy*dxy
	if delta <= 0 {
		return math.Inf(-1)
	}
	return math.Log(delta)
}
