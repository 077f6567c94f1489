package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/gitrdm/eggstep/internal/config"
	"github.com/gitrdm/eggstep/pkg/egraph"
)

const defaultPreset = "add-comm"

// app holds the global flags and the per-invocation services built from them.
type app struct {
	presetName  string
	file        string
	logLevel    string
	metricsAddr string

	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *egraph.Metrics
	server   *http.Server
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "eggstep",
		Short: "Step through equality saturation one rewrite at a time",
		Long: `eggstep builds an e-graph from a program and a set of rewrite rules and
lets you advance it one step at a time.

A workspace comes from a built-in preset (--preset) or a YAML file (--file).

Examples:
  eggstep run --preset if-then-else
  eggstep step --rule add_comm --rule '#0'
  eggstep snapshot --steps 2 --format yaml
  eggstep tui --file workspace.yaml --watch
  eggstep serve --addr :8080`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.presetName, "preset", "p", defaultPreset, "built-in workspace to load")
	flags.StringVarP(&a.file, "file", "f", "", "workspace YAML file (overrides --preset)")
	flags.StringVar(&a.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	flags.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")

	root.AddCommand(
		newRunCmd(a),
		newStepCmd(a),
		newExtractCmd(a),
		newSnapshotCmd(a),
		newPresetsCmd(a),
		newBatchCmd(a),
		newTUICmd(a),
		newServeCmd(a),
		newMCPCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup configures logging and metrics before any subcommand runs.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", a.logLevel, err)
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(a.logger)

	a.registry = prometheus.NewRegistry()
	a.metrics = egraph.NewMetrics(a.registry)

	if a.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		a.server = &http.Server{
			Addr:              a.metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server stopped", slog.String("addr", a.metricsAddr), slog.Any("error", err))
			}
		}()
		a.logger.Info("serving metrics", slog.String("addr", a.metricsAddr))
	}
	return nil
}

func (a *app) teardown() error {
	if a.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return a.server.Shutdown(ctx)
}

// workspace loads the workspace selected by --file or --preset.
func (a *app) workspace() (*config.Workspace, error) {
	if a.file != "" {
		return config.Load(a.file)
	}
	return config.Preset(a.presetName)
}

// engine builds a fresh engine for ws wired to the app's logger and metrics.
func (a *app) engine(ws *config.Workspace) (*egraph.Engine, error) {
	return ws.Build(
		egraph.WithLogger(a.logger.With(slog.String("workspace", ws.Name))),
		egraph.WithMetrics(a.metrics),
	)
}

func (a *app) load() (*config.Workspace, *egraph.Engine, error) {
	ws, err := a.workspace()
	if err != nil {
		return nil, nil, err
	}
	e, err := a.engine(ws)
	if err != nil {
		return nil, nil, err
	}
	return ws, e, nil
}
