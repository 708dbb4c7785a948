package pathsim

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"pathsim/internal/artifacts"
	"pathsim/internal/logging"
	"pathsim/internal/metrics"
	"pathsim/internal/model"
	"pathsim/internal/pipeline"
	"pathsim/internal/storage"
	"pathsim/internal/sweep"
)

const defaultExportsDir = "exports"

var ErrRunNotFound = errors.New("run not found")

type Options struct {
	StoreKind  string
	DBPath     string
	ExportsDir string
	Logger     logging.Logger
	Metrics    *metrics.Recorder
	// PipelineOptions are applied to every pipeline the client creates.
	PipelineOptions []pipeline.Option
}

type Client struct {
	store   storage.Store
	logger  logging.Logger
	metrics *metrics.Recorder
	popts   []pipeline.Option

	exportsDir string

	initMu      sync.Mutex
	initialized bool
}

type RunRequest struct {
	Config pipeline.Config
	// DesignOnly stops after design selection.
	DesignOnly bool
}

type RunsRequest struct {
	SweepID string
	Limit   int
}

type ShowRequest struct {
	RunID  string
	Latest bool
}

type ExportRequest struct {
	RunID   string
	Latest  bool
	SweepID string
	OutDir  string
}

type ExportSummary struct {
	RunID   string
	SweepID string
	Path    string
}

func New(opts Options) (*Client, error) {
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(opts.StoreKind, opts.DBPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		logger:     logging.OrNop(opts.Logger),
		metrics:    opts.Metrics,
		popts:      opts.PipelineOptions,
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	c.initialized = true
	return nil
}

// Run executes one pipeline run and saves its record.
func (c *Client) Run(ctx context.Context, req RunRequest) (model.RunSummary, error) {
	if err := c.Init(ctx); err != nil {
		return model.RunSummary{}, err
	}
	p, err := pipeline.New(req.Config, c.pipelineOptions()...)
	if err != nil {
		return model.RunSummary{}, err
	}

	run := p.Run
	if req.DesignOnly {
		run = p.RunDesign
	}
	res, err := run(ctx)
	if err != nil {
		return model.RunSummary{}, err
	}

	record := res.Record()
	if err := c.store.SaveRun(ctx, record); err != nil {
		return model.RunSummary{}, fmt.Errorf("save run %s: %w", res.RunID, err)
	}
	return record.Summary, nil
}

// Sweep runs a sweep and saves every successful attempt.
func (c *Client) Sweep(ctx context.Context, cfg sweep.Config) (sweep.Report, error) {
	if err := c.Init(ctx); err != nil {
		return sweep.Report{}, err
	}
	d, err := sweep.New(cfg, c.store,
		sweep.WithLogger(c.logger),
		sweep.WithPipelineOptions(c.sweepPipelineOptions()...),
	)
	if err != nil {
		return sweep.Report{}, err
	}
	return d.Run(ctx)
}

// Runs lists stored runs newest first, optionally restricted to a sweep.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]model.RunSummary, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	runs, err := c.store.ListRuns(ctx, req.SweepID)
	if err != nil {
		return nil, err
	}

	out := make([]model.RunSummary, 0, min(len(runs), req.Limit))
	for i := len(runs) - 1; i >= 0 && len(out) < req.Limit; i-- {
		out = append(out, runs[i])
	}
	return out, nil
}

func (c *Client) Show(ctx context.Context, req ShowRequest) (model.RunRecord, error) {
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return model.RunRecord{}, err
	}
	record, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return model.RunRecord{}, err
	}
	if !ok {
		return model.RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return record, nil
}

// Export writes a run's artifacts, or a sweep's summary table when SweepID
// is set.
func (c *Client) Export(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	if req.SweepID != "" {
		if req.RunID != "" || req.Latest {
			return ExportSummary{}, errors.New("use either sweep id or run selection")
		}
		if err := c.Init(ctx); err != nil {
			return ExportSummary{}, err
		}
		runs, err := c.store.ListRuns(ctx, req.SweepID)
		if err != nil {
			return ExportSummary{}, err
		}
		if len(runs) == 0 {
			return ExportSummary{}, fmt.Errorf("no runs stored for sweep %s", req.SweepID)
		}
		path, err := artifacts.WriteSweepFile(filepath.Join(req.OutDir, req.SweepID), runs)
		if err != nil {
			return ExportSummary{}, err
		}
		return ExportSummary{SweepID: req.SweepID, Path: filepath.Clean(path)}, nil
	}

	record, err := c.Show(ctx, ShowRequest{RunID: req.RunID, Latest: req.Latest})
	if err != nil {
		return ExportSummary{}, err
	}
	dir, err := artifacts.WriteRunArtifacts(req.OutDir, record)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: record.Summary.RunID, Path: filepath.Clean(dir)}, nil
}

func (c *Client) resolveRunID(ctx context.Context, runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if runID == "" && !latest {
		return "", errors.New("run id or latest is required")
	}
	if err := c.Init(ctx); err != nil {
		return "", err
	}
	if runID != "" {
		return runID, nil
	}
	runs, err := c.store.ListRuns(ctx, "")
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", errors.New("no runs available")
	}
	return runs[len(runs)-1].RunID, nil
}

func (c *Client) pipelineOptions() []pipeline.Option {
	return append([]pipeline.Option{
		pipeline.WithLogger(c.logger),
		pipeline.WithMetrics(c.metrics),
	}, c.popts...)
}

// sweepPipelineOptions leaves the logger to the sweep driver.
func (c *Client) sweepPipelineOptions() []pipeline.Option {
	return append([]pipeline.Option{pipeline.WithMetrics(c.metrics)}, c.popts...)
}
