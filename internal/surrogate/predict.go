package surrogate

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"pathsim/internal/model"
)

// MaxFullSpace bounds full enumeration in Predict.
const MaxFullSpace = 1_000_000

var ErrSpaceTooLarge = errors.New("prediction space too large")

type Prediction struct {
	Point model.DesignPoint `json:"point"`
	Value float64           `json:"value"`
}

// ObservedLevels returns the sorted distinct levels of each factor in rows.
func ObservedLevels(factors []model.Factor, rows []model.DesignPoint) [][]int {
	out := make([][]int, len(factors))
	for j := range factors {
		seen := make(map[int]struct{})
		for _, row := range rows {
			if j < len(row) {
				seen[row[j]] = struct{}{}
			}
		}
		levels := make([]int, 0, len(seen))
		for level := range seen {
			levels = append(levels, level)
		}
		sort.Ints(levels)
		out[j] = levels
	}
	return out
}

// Predict ranks candidate points by predicted endpoint, highest first. With
// sampleSize <= 0 every combination of levels is scored; otherwise
// sampleSize points are drawn with each factor sampled independently.
func Predict(s *Surrogate, levels [][]int, sampleSize int, rng *rand.Rand) ([]Prediction, error) {
	if sampleSize <= 0 {
		return PredictFull(s, levels)
	}
	return PredictSample(s, levels, sampleSize, rng)
}

func PredictFull(s *Surrogate, levels [][]int) ([]Prediction, error) {
	if err := checkLevels(s, levels); err != nil {
		return nil, err
	}
	total := 1
	for _, set := range levels {
		if total > MaxFullSpace/len(set) {
			return nil, fmt.Errorf("%w: more than %d points", ErrSpaceTooLarge, MaxFullSpace)
		}
		total *= len(set)
	}

	out := make([]Prediction, 0, total)
	index := make([]int, len(levels))
	for {
		point := make(model.DesignPoint, len(levels))
		for j, k := range index {
			point[j] = levels[j][k]
		}
		value, err := s.Predict(point)
		if err != nil {
			return nil, err
		}
		out = append(out, Prediction{Point: point, Value: value})

		j := len(index) - 1
		for ; j >= 0; j-- {
			index[j]++
			if index[j] < len(levels[j]) {
				break
			}
			index[j] = 0
		}
		if j < 0 {
			break
		}
	}
	rank(out)
	return out, nil
}

func PredictSample(s *Surrogate, levels [][]int, sampleSize int, rng *rand.Rand) ([]Prediction, error) {
	if rng == nil {
		return nil, fmt.Errorf("rng is required")
	}
	if sampleSize <= 0 {
		return nil, fmt.Errorf("sample size must be > 0")
	}
	if err := checkLevels(s, levels); err != nil {
		return nil, err
	}

	out := make([]Prediction, sampleSize)
	for i := range out {
		point := make(model.DesignPoint, len(levels))
		for j, set := range levels {
			point[j] = set[rng.Intn(len(set))]
		}
		value, err := s.Predict(point)
		if err != nil {
			return nil, err
		}
		out[i] = Prediction{Point: point, Value: value}
	}
	rank(out)
	return out, nil
}

func checkLevels(s *Surrogate, levels [][]int) error {
	if s == nil {
		return fmt.Errorf("surrogate is required")
	}
	if len(levels) != len(s.factors) {
		return fmt.Errorf("%d level sets for %d factors", len(levels), len(s.factors))
	}
	for j, set := range levels {
		if len(set) == 0 {
			return fmt.Errorf("factor %s has no levels", s.factors[j].Name)
		}
	}
	return nil
}

// rank sorts descending by value; ties keep their generation order.
func rank(predictions []Prediction) {
	sort.SliceStable(predictions, func(a, b int) bool {
		return predictions[a].Value > predictions[b].Value
	})
}
