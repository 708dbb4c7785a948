package model

import (
	"encoding/json"
	"math"
)

// Float is a float64 that encodes NaN and infinities as JSON null and
// decodes null back to NaN.
type Float float64

func NaN() Float {
	return Float(math.NaN())
}

func (f Float) Valid() bool {
	v := float64(f)
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (f Float) MarshalJSON() ([]byte, error) {
	if !f.Valid() {
		return []byte("null"), nil
	}
	return json.Marshal(float64(f))
}

func (f *Float) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = NaN()
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

type FactorKind string

const (
	FactorPlasmid      FactorKind = "plasmid"
	FactorPromoter     FactorKind = "promoter"
	FactorStepPromoter FactorKind = "step_promoter"
	FactorStepVariant  FactorKind = "step_variant"
)

// Factor is one combinatorial dimension with levels 0..Levels-1.
type Factor struct {
	Name   string     `json:"name"`
	Kind   FactorKind `json:"kind"`
	Step   int        `json:"step"`
	Levels int        `json:"levels"`
}

func (f Factor) Degenerate() bool {
	return f.Levels <= 1
}

// DesignPoint holds one level per non-degenerate factor.
type DesignPoint []int

func (p DesignPoint) Clone() DesignPoint {
	return append(DesignPoint(nil), p...)
}

func (p DesignPoint) Equal(other DesignPoint) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

type DesignMatrix struct {
	Factors []Factor      `json:"factors"`
	Rows    []DesignPoint `json:"rows"`
}

// Distribution is the per-part (mean, std) a kinetic value is drawn from.
type Distribution struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// Diagnostics reports the quality of a selected design.
type Diagnostics struct {
	Efficiency     float64   `json:"efficiency"`
	Power          []float64 `json:"power"`
	RepsPerVariant []float64 `json:"reps_per_variant"`
	Levels         []int     `json:"levels"`
	SpaceSize      float64   `json:"space_size"`
}

func (d Diagnostics) MeanPower() Float {
	return meanOrNaN(d.Power)
}

func (d Diagnostics) MeanRepsPerVariant() Float {
	return meanOrNaN(d.RepsPerVariant)
}

type StepConfig struct {
	Step int `json:"step"`
	// Variant selects the (step, variant) parameter instance.
	Variant          int     `json:"variant"`
	HasPromoter      bool    `json:"has_promoter"`
	PromoterIndex    int     `json:"promoter_index"`
	PromoterStrength float64 `json:"promoter_strength"`
	// PromoterSource is the step whose activated promoter drives this step.
	PromoterSource int                `json:"promoter_source"`
	Activation     float64            `json:"activation"`
	CopyNumber     float64            `json:"copy_number"`
	Kinetics       map[string]float64 `json:"kinetics"`
}

type PathwayConfig struct {
	Steps []StepConfig `json:"steps"`
}

func (c PathwayConfig) PromoterPresence() []bool {
	out := make([]bool, len(c.Steps))
	for i, step := range c.Steps {
		out[i] = step.HasPromoter
	}
	return out
}

// ObservationSet pairs simulated design points with their endpoints.
type ObservationSet struct {
	Rows      []DesignPoint `json:"rows"`
	Endpoints []float64     `json:"endpoints"`
	Failed    int           `json:"failed"`
}

func (o *ObservationSet) Append(point DesignPoint, endpoint float64) {
	o.Rows = append(o.Rows, point.Clone())
	o.Endpoints = append(o.Endpoints, endpoint)
}

func (o *ObservationSet) Len() int {
	return len(o.Rows)
}

type Calibration struct {
	Intercept Float `json:"intercept"`
	Slope     Float `json:"slope"`
	RSquared  Float `json:"r_squared"`
	PValue    Float `json:"p_value"`
}

type ValidationPoint struct {
	Rank      int         `json:"rank"`
	Point     DesignPoint `json:"point"`
	Predicted float64     `json:"predicted"`
	// Selected marks the ranks chosen for re-simulation.
	Selected bool `json:"selected"`
	// Observed is NaN unless the point was selected and simulated.
	Observed Float `json:"observed"`
}

const (
	PointObserved     = "observed"
	PointFailed       = "failed"
	PointNotSimulated = "not_simulated"
)

func (p ValidationPoint) Simulated() bool {
	return p.Selected && p.Observed.Valid()
}

// Status is PointObserved, PointFailed or PointNotSimulated.
func (p ValidationPoint) Status() string {
	switch {
	case !p.Selected:
		return PointNotSimulated
	case p.Observed.Valid():
		return PointObserved
	default:
		return PointFailed
	}
}

type PerformanceReport struct {
	Correlation Float             `json:"correlation"`
	RMSE        Float             `json:"rmse"`
	Calibration Calibration       `json:"calibration"`
	Points      []ValidationPoint `json:"points"`
	Selected    int               `json:"selected"`
	Simulated   int               `json:"simulated"`
	Failed      int               `json:"failed"`
}

// UnvalidatedReport is the report of a run that stopped before validation.
func UnvalidatedReport() PerformanceReport {
	return PerformanceReport{
		Correlation: NaN(),
		RMSE:        NaN(),
		Calibration: Calibration{Intercept: NaN(), Slope: NaN(), RSquared: NaN(), PValue: NaN()},
	}
}

// RunSummary is the persisted result row of one pipeline run.
type RunSummary struct {
	VersionedRecord
	RunID          string  `json:"run_id"`
	SweepID        string  `json:"sweep_id,omitempty"`
	CreatedAtUTC   string  `json:"created_at_utc"`
	Seed           int64   `json:"seed"`
	Steps          int     `json:"steps"`
	Variants       int     `json:"variants"`
	Promoters      int     `json:"promoters"`
	Plasmids       int     `json:"plasmids"`
	LibSize        int     `json:"libsize"`
	Efficiency     float64 `json:"efficiency"`
	SpaceSize      float64 `json:"space_size"`
	MeanPower      Float   `json:"mean_power"`
	MeanRepsPerVar Float   `json:"mean_reps_per_variant"`
	Observed       int     `json:"observed"`
	Failed         int     `json:"failed"`
	FitRSquared    Float   `json:"fit_r_squared"`
	Correlation    Float   `json:"correlation"`
	RMSE           Float   `json:"rmse"`
	Slope          Float   `json:"slope"`
	PValue         Float   `json:"p_value"`
}

// RunRecord is the full persisted artifact of one run.
type RunRecord struct {
	VersionedRecord
	Summary     RunSummary        `json:"summary"`
	Diagnostics Diagnostics       `json:"diagnostics"`
	Design      DesignMatrix      `json:"design"`
	Observed    ObservationSet    `json:"observed"`
	Report      PerformanceReport `json:"report"`
}

func meanOrNaN(values []float64) Float {
	if len(values) == 0 {
		return NaN()
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return Float(sum / float64(len(values)))
}
