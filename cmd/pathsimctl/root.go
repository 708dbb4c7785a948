package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"pathsim/internal/config"
	"pathsim/internal/logging"
	"pathsim/internal/metrics"
	"pathsim/pkg/pathsim"
)

type rootOptions struct {
	ConfigPath  string
	MetricsAddr string
	StoreKind   string
	DBPath      string
	LogLevel    string
	ExportsDir  string
}

// app holds what the persistent pre-run builds for the subcommands.
type app struct {
	out     io.Writer
	opts    rootOptions
	cfg     *config.Config
	logger  logging.Logger
	metrics *metrics.Recorder
	client  *pathsim.Client

	metricsServer *http.Server
}

func newRootCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pathsimctl",
		Short: "Design, simulate and validate combinatorial pathway libraries",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&a.opts.ConfigPath, "config", "c", "", "config file path (default: PATHSIM_* environment only)")
	pf.StringVar(&a.opts.MetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	pf.StringVar(&a.opts.StoreKind, "store", "", "store backend: memory|sqlite")
	pf.StringVar(&a.opts.DBPath, "db-path", "", "sqlite database path")
	pf.StringVar(&a.opts.LogLevel, "log-level", "", "log level: debug|info|warn|error")
	pf.StringVar(&a.opts.ExportsDir, "exports-dir", "exports", "default export directory")

	cmd.AddCommand(
		newRunCommand(a),
		newSweepCommand(a),
		newRunsCommand(a),
		newShowCommand(a),
		newExportCommand(a),
	)
	return cmd
}

func (a *app) init(cmd *cobra.Command) error {
	var (
		cfg *config.Config
		err error
	)
	if a.opts.ConfigPath != "" {
		cfg, err = config.Load(a.opts.ConfigPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("store") {
		cfg.Store.Kind = a.opts.StoreKind
	}
	if flags.Changed("db-path") {
		cfg.Store.Path = a.opts.DBPath
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = a.opts.LogLevel
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = a.opts.MetricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	a.logger = logger
	a.metrics = metrics.NewRecorder()

	if cfg.Metrics.Addr != "" {
		if err := a.serveMetrics(cfg.Metrics.Addr); err != nil {
			return err
		}
	}

	client, err := pathsim.New(pathsim.Options{
		StoreKind:  cfg.Store.Kind,
		DBPath:     cfg.Store.Path,
		ExportsDir: a.opts.ExportsDir,
		Logger:     logger,
		Metrics:    a.metrics,
	})
	if err != nil {
		return err
	}
	a.client = client
	return client.Init(cmd.Context())
}

func (a *app) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen metrics: %w", err)
	}
	a.metricsServer = &http.Server{Handler: a.metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", logging.Err(err))
		}
	}()
	a.logger.Info("serving metrics", logging.String("addr", ln.Addr().String()))
	return nil
}

func (a *app) close() {
	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.metricsServer.Shutdown(ctx)
		cancel()
	}
	if a.client != nil {
		_ = a.client.Close()
	}
}
