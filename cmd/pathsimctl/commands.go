package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"pathsim/internal/model"
	"pathsim/pkg/pathsim"
)

func newRunCommand(a *app) *cobra.Command {
	var (
		designOnly bool
		jsonOut    bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once and store the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg.Pipeline
			flags := cmd.Flags()
			intFlags := map[string]*int{
				"steps":     &cfg.Shape.Steps,
				"variants":  &cfg.Shape.Variants,
				"promoters": &cfg.Shape.Promoters,
				"plasmids":  &cfg.Shape.Plasmids,
				"libsize":   &cfg.LibSize,
				"pred-size": &cfg.PredSample,
				"sim-size":  &cfg.SimSample,
				"workers":   &cfg.Workers,
			}
			for name, dst := range intFlags {
				if flags.Changed(name) {
					v, err := flags.GetInt(name)
					if err != nil {
						return err
					}
					*dst = v
				}
			}
			if flags.Changed("seed") {
				seed, err := flags.GetInt64("seed")
				if err != nil {
					return err
				}
				cfg.Seed = seed
			}

			summary, err := a.client.Run(cmd.Context(), pathsim.RunRequest{Config: cfg, DesignOnly: designOnly})
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(a.out, summary)
			}
			printSummary(a.out, summary)
			return nil
		},
	}
	f := cmd.Flags()
	f.Int("steps", 0, "pathway steps")
	f.Int("variants", 0, "enzyme variants per step")
	f.Int("promoters", 0, "promoter library size")
	f.Int("plasmids", 0, "plasmid library size")
	f.Int("libsize", 0, "design size")
	f.Int("pred-size", 0, "predicted points to sample (<= 0 scores the full space)")
	f.Int("sim-size", 0, "validation simulations")
	f.Int("workers", 0, "concurrent simulations")
	f.Int64("seed", 0, "random seed")
	f.BoolVar(&designOnly, "design-only", false, "stop after design selection")
	f.BoolVar(&jsonOut, "json", false, "emit the run summary as JSON")
	return cmd
}

func newSweepCommand(a *app) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Evaluate designs over randomly drawn pathway shapes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg.Sweep
			flags := cmd.Flags()
			if flags.Changed("runs") {
				runs, err := flags.GetInt("runs")
				if err != nil {
					return err
				}
				cfg.Runs = runs
			}
			if flags.Changed("seed") {
				seed, err := flags.GetInt64("seed")
				if err != nil {
					return err
				}
				cfg.Seed = seed
			}
			if flags.Changed("full") {
				full, err := flags.GetBool("full")
				if err != nil {
					return err
				}
				cfg.DesignOnly = !full
			}

			report, err := a.client.Sweep(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(a.out, report)
			}
			fmt.Fprintf(a.out, "sweep_id=%s attempts=%d saved=%d infeasible=%d failed=%d\n",
				report.SweepID, report.Attempts, len(report.Runs), report.Infeasible, report.Failed)
			for _, r := range report.Runs {
				printSummary(a.out, r)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.Int("runs", 0, "shapes to draw")
	f.Int64("seed", 0, "sweep random seed")
	f.Bool("full", false, "simulate, fit and validate every attempt")
	f.BoolVar(&jsonOut, "json", false, "emit the sweep report as JSON")
	return cmd
}

func newRunsCommand(a *app) *cobra.Command {
	var (
		sweepID string
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return errors.New("limit must be > 0")
			}
			runs, err := a.client.Runs(cmd.Context(), pathsim.RunsRequest{SweepID: sweepID, Limit: limit})
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(a.out, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(a.out, "no runs found")
				return nil
			}
			for _, r := range runs {
				printSummary(a.out, r)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&sweepID, "sweep-id", "", "only list runs of this sweep")
	f.IntVar(&limit, "limit", 20, "max runs to list")
	f.BoolVar(&jsonOut, "json", false, "emit runs list as JSON")
	return cmd
}

func newShowCommand(a *app) *cobra.Command {
	var (
		runID  string
		latest bool
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a stored run record as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			record, err := a.client.Show(cmd.Context(), pathsim.ShowRequest{RunID: runID, Latest: latest})
			if err != nil {
				return err
			}
			return writeJSON(a.out, record)
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run id")
	cmd.Flags().BoolVar(&latest, "latest", false, "show the most recent run")
	return cmd
}

func newExportCommand(a *app) *cobra.Command {
	var req pathsim.ExportRequest
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a run's artifacts or a sweep's summary table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			summary, err := a.client.Export(cmd.Context(), req)
			if err != nil {
				return err
			}
			if summary.SweepID != "" {
				fmt.Fprintf(a.out, "exported sweep_id=%s to=%s\n", summary.SweepID, summary.Path)
				return nil
			}
			fmt.Fprintf(a.out, "exported run_id=%s to=%s\n", summary.RunID, summary.Path)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.RunID, "run-id", "", "run id")
	f.BoolVar(&req.Latest, "latest", false, "export the most recent run")
	f.StringVar(&req.SweepID, "sweep-id", "", "export the summary table of a sweep")
	f.StringVar(&req.OutDir, "out", "", "export output directory")
	return cmd
}

func printSummary(w io.Writer, s model.RunSummary) {
	fmt.Fprintf(w, "run_id=%s created_at=%s seed=%d steps=%d variants=%d promoters=%d plasmids=%d libsize=%d efficiency=%.3f space=%.0f observed=%d failed=%d fit_r2=%s corr=%s rmse=%s\n",
		s.RunID,
		s.CreatedAtUTC,
		s.Seed,
		s.Steps,
		s.Variants,
		s.Promoters,
		s.Plasmids,
		s.LibSize,
		s.Efficiency,
		s.SpaceSize,
		s.Observed,
		s.Failed,
		formatMetric(s.FitRSquared),
		formatMetric(s.Correlation),
		formatMetric(s.RMSE),
	)
}

func formatMetric(v model.Float) string {
	if !v.Valid() {
		return "n/a"
	}
	return fmt.Sprintf("%.6f", float64(v))
}

func writeJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
