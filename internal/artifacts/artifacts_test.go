package artifacts

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pathsim/internal/model"
)

func testRecord() model.RunRecord {
	versions := model.VersionedRecord{SchemaVersion: 1, CodecVersion: 1}
	factors := []model.Factor{
		{Name: "r0_variant", Kind: model.FactorStepVariant, Step: 0, Levels: 2},
		{Name: "r1_variant", Kind: model.FactorStepVariant, Step: 1, Levels: 2},
	}
	return model.RunRecord{
		VersionedRecord: versions,
		Summary: model.RunSummary{
			VersionedRecord: versions,
			RunID:           "run-1",
			Steps:           2,
			Variants:        2,
			Promoters:       1,
			Plasmids:        1,
			LibSize:         4,
			Efficiency:      100,
			SpaceSize:       4,
			MeanPower:       0.25,
			MeanRepsPerVar:  2,
			FitRSquared:     1,
			Correlation:     model.NaN(),
			RMSE:            0.5,
			Slope:           model.NaN(),
			PValue:          model.NaN(),
		},
		Design: model.DesignMatrix{
			Factors: factors,
			Rows:    []model.DesignPoint{{0, 0}, {0, 1}, {1, 0}, {0, 1}},
		},
		Observed: model.ObservationSet{
			Rows:      []model.DesignPoint{{0, 0}, {0, 1}, {0, 1}},
			Endpoints: []float64{1, 2, 2.5},
			Failed:    1,
		},
		Report: model.PerformanceReport{
			Points: []model.ValidationPoint{
				{Rank: 0, Point: model.DesignPoint{1, 1}, Predicted: 3, Selected: true, Observed: 2.75},
				{Rank: 1, Point: model.DesignPoint{0, 1}, Predicted: 2, Observed: model.NaN()},
				{Rank: 2, Point: model.DesignPoint{0, 0}, Predicted: 1, Selected: true, Observed: model.NaN()},
			},
		},
	}
}

func readCSV(t *testing.T, data []byte) [][]string {
	t.Helper()
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return records
}

func TestWriteDesignMatchesDuplicateRowsInOrder(t *testing.T) {
	record := testRecord()
	var buf bytes.Buffer
	if err := WriteDesign(&buf, record.Design, record.Observed); err != nil {
		t.Fatalf("write design: %v", err)
	}
	got := readCSV(t, buf.Bytes())
	want := [][]string{
		{"r0_variant", "r1_variant", "endpoint"},
		{"0", "0", "1"},
		{"0", "1", "2"},
		{"1", "0", ""},
		{"0", "1", "2.5"},
	}
	if len(got) != len(want) {
		t.Fatalf("unexpected rows: %v", got)
	}
	for i := range want {
		if strings.Join(got[i], ",") != strings.Join(want[i], ",") {
			t.Fatalf("row %d: want %v got %v", i, want[i], got[i])
		}
	}
}

func TestWriteValidationMarksUnobservedPoints(t *testing.T) {
	record := testRecord()
	var buf bytes.Buffer
	if err := WriteValidation(&buf, record.Design.Factors, record.Report); err != nil {
		t.Fatalf("write validation: %v", err)
	}
	got := readCSV(t, buf.Bytes())
	want := [][]string{
		{"rank", "r0_variant", "r1_variant", "predicted", "observed", "status"},
		{"0", "1", "1", "3", "2.75", "observed"},
		{"1", "0", "1", "2", "", "not_simulated"},
		{"2", "0", "0", "1", "", "failed"},
	}
	if len(got) != len(want) {
		t.Fatalf("unexpected rows: %v", got)
	}
	for i := range want {
		if strings.Join(got[i], ",") != strings.Join(want[i], ",") {
			t.Fatalf("row %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestWriteSweepHeaderAndUndefinedMetrics(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSweep(&buf, []model.RunSummary{testRecord().Summary}); err != nil {
		t.Fatalf("write sweep: %v", err)
	}
	got := readCSV(t, buf.Bytes())
	if strings.Join(got[0], ",") != strings.Join(sweepHeader, ",") {
		t.Fatalf("unexpected header: %v", got[0])
	}
	row := got[1]
	if row[0] != "run-1" || row[6] != "100" || row[8] != "0.25" || row[11] != "" || row[12] != "0.5" {
		t.Fatalf("unexpected row: %v", row)
	}
}

func TestWriteRunArtifactsRoundTrip(t *testing.T) {
	base := t.TempDir()
	record := testRecord()
	record.Summary.Correlation = 0.5
	record.Summary.Slope = 1
	record.Summary.PValue = 0.01
	record.Report.Points = record.Report.Points[:1]

	dir, err := WriteRunArtifacts(base, record)
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}
	if dir != filepath.Join(base, "run-1") {
		t.Fatalf("unexpected dir: %s", dir)
	}
	for _, name := range []string{RunFile, DesignFile, ValidationFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}
	loaded, err := ReadRunRecord(dir)
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	if loaded.Summary != record.Summary {
		t.Fatalf("summary mismatch:\nwant %+v\ngot  %+v", record.Summary, loaded.Summary)
	}
	if loaded.Observed.Failed != 1 || len(loaded.Design.Rows) != 4 {
		t.Fatalf("unexpected record: %+v", loaded)
	}
}

func TestWriteRunArtifactsRequiresRunID(t *testing.T) {
	record := testRecord()
	record.Summary.RunID = ""
	if _, err := WriteRunArtifacts(t.TempDir(), record); err == nil {
		t.Fatal("expected run id error")
	}
}

func TestWriteSweepFile(t *testing.T) {
	path, err := WriteSweepFile(filepath.Join(t.TempDir(), "out"), []model.RunSummary{testRecord().Summary})
	if err != nil {
		t.Fatalf("write sweep file: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(readCSV(t, data)) != 2 {
		t.Fatalf("unexpected content: %s", data)
	}
}
