// Package artifacts writes run records and sweep summaries to plain files.
package artifacts

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"pathsim/internal/model"
)

const (
	RunFile        = "run.json"
	DesignFile     = "design.csv"
	ValidationFile = "validation.csv"
	SweepFile      = "sweep.csv"
)

// WriteRunArtifacts writes record under baseDir/<run id> and returns that
// directory.
func WriteRunArtifacts(baseDir string, record model.RunRecord) (string, error) {
	runID := record.Summary.RunID
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, RunFile), record); err != nil {
		return "", err
	}
	if err := writeCSVFile(filepath.Join(runDir, DesignFile), func(w io.Writer) error {
		return WriteDesign(w, record.Design, record.Observed)
	}); err != nil {
		return "", err
	}
	if err := writeCSVFile(filepath.Join(runDir, ValidationFile), func(w io.Writer) error {
		return WriteValidation(w, record.Design.Factors, record.Report)
	}); err != nil {
		return "", err
	}
	return runDir, nil
}

// WriteDesign writes one row per design point with its factor levels and
// observed endpoint. Points that were not observed get an empty endpoint.
func WriteDesign(w io.Writer, matrix model.DesignMatrix, observed model.ObservationSet) error {
	cw := csv.NewWriter(w)
	header := make([]string, 0, len(matrix.Factors)+1)
	for _, f := range matrix.Factors {
		header = append(header, f.Name)
	}
	header = append(header, "endpoint")
	if err := cw.Write(header); err != nil {
		return err
	}

	used := make([]bool, len(observed.Rows))
	for _, row := range matrix.Rows {
		record := levels(row)
		endpoint := ""
		for i, obs := range observed.Rows {
			if !used[i] && obs.Equal(row) {
				used[i] = true
				endpoint = formatFloat(observed.Endpoints[i])
				break
			}
		}
		if err := cw.Write(append(record, endpoint)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteValidation writes every ranked point in rank order with its
// validation status.
func WriteValidation(w io.Writer, factors []model.Factor, report model.PerformanceReport) error {
	cw := csv.NewWriter(w)
	header := []string{"rank"}
	for _, f := range factors {
		header = append(header, f.Name)
	}
	header = append(header, "predicted", "observed", "status")
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, p := range report.Points {
		record := append([]string{strconv.Itoa(p.Rank)}, levels(p.Point)...)
		record = append(record, formatFloat(p.Predicted), formatMetric(p.Observed), p.Status())
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var sweepHeader = []string{
	"run_id", "steps", "variants", "npromoters", "nplasmids", "libsize",
	"eff", "space", "pow", "rpv", "fit_r2", "corr", "rmse",
}

// WriteSweep writes one row per run summary. Undefined metrics are empty.
func WriteSweep(w io.Writer, runs []model.RunSummary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(sweepHeader); err != nil {
		return err
	}
	for _, r := range runs {
		record := []string{
			r.RunID,
			strconv.Itoa(r.Steps),
			strconv.Itoa(r.Variants),
			strconv.Itoa(r.Promoters),
			strconv.Itoa(r.Plasmids),
			strconv.Itoa(r.LibSize),
			formatFloat(r.Efficiency),
			formatFloat(r.SpaceSize),
			formatMetric(r.MeanPower),
			formatMetric(r.MeanRepsPerVar),
			formatMetric(r.FitRSquared),
			formatMetric(r.Correlation),
			formatMetric(r.RMSE),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSweepFile writes runs to dir/sweep.csv and returns the file path.
func WriteSweepFile(dir string, runs []model.RunSummary) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, SweepFile)
	if err := writeCSVFile(path, func(w io.Writer) error { return WriteSweep(w, runs) }); err != nil {
		return "", err
	}
	return path, nil
}

func ReadRunRecord(runDir string) (model.RunRecord, error) {
	data, err := os.ReadFile(filepath.Join(runDir, RunFile))
	if err != nil {
		return model.RunRecord{}, err
	}
	var record model.RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.RunRecord{}, err
	}
	return record, nil
}

func levels(point model.DesignPoint) []string {
	out := make([]string, len(point))
	for i, level := range point {
		out[i] = strconv.Itoa(level)
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatMetric(v model.Float) string {
	if !v.Valid() {
		return ""
	}
	return formatFloat(float64(v))
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func writeCSVFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
