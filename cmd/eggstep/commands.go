package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gitrdm/eggstep/internal/config"
	"github.com/gitrdm/eggstep/internal/httpapi"
	"github.com/gitrdm/eggstep/internal/mcpserver"
	"github.com/gitrdm/eggstep/internal/parallel"
	"github.com/gitrdm/eggstep/internal/tui"
	"github.com/gitrdm/eggstep/pkg/egraph"
)

func printStep(w io.Writer, r *egraph.StepReport) {
	fmt.Fprintf(w, "step %d: applied %v, nodes %d -> %d, classes %d -> %d\n",
		r.Iteration, r.Applied, r.NodesBefore, r.NodesAfter, r.ClassesBefore, r.ClassesAfter)
}

func printBest(w io.Writer, x *egraph.Extraction) {
	fmt.Fprintf(w, "best: %s (cost %d)\n", x.Expr, x.Cost)
}

// =============================================================================
// run
// =============================================================================

func newRunCmd(a *app) *cobra.Command {
	var maxSteps int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Saturate the workspace and print the cheapest program",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, e, err := a.load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("max-steps") {
				maxSteps = ws.Engine.MaxSteps
			}
			report, err := e.Saturate(cmd.Context(), maxSteps)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range report.Steps {
				printStep(out, r)
			}
			fmt.Fprintf(out, "stopped: %s after %d steps\n", report.Reason, len(report.Steps))
			best, err := e.Extract()
			if err != nil {
				return err
			}
			printBest(out, best)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxSteps, "max-steps", config.DefaultMaxSteps, "step limit, 0 for none (default: the workspace's)")
	return cmd
}

// =============================================================================
// step
// =============================================================================

func newStepCmd(a *app) *cobra.Command {
	var (
		rules []string
		back  int
	)
	cmd := &cobra.Command{
		Use:   "step",
		Short: "Fire rules one step at a time",
		Long: `Runs one step per --rule, in order. Without --rule a single step fires
every rule once. --back then undoes that many of the steps just taken.

Examples:
  eggstep step --rule add_comm
  eggstep step --preset mul-to-shift --rule '#0' --rule '#2'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, e, err := a.load()
			if err != nil {
				return err
			}
			strategies := []egraph.Strategy{egraph.Auto()}
			if len(rules) > 0 {
				strategies = strategies[:0]
				for _, raw := range rules {
					label, err := egraph.ParseLabel(raw)
					if err != nil {
						return err
					}
					strategies = append(strategies, egraph.Only(label))
				}
			}

			out := cmd.OutOrStdout()
			for _, s := range strategies {
				r, err := e.Step(s)
				if err != nil {
					return err
				}
				printStep(out, r)
			}
			for i := 0; i < back; i++ {
				if err := e.Back(); err != nil {
					return err
				}
				fmt.Fprintf(out, "back to step %d\n", e.Iteration())
			}
			best, err := e.Extract()
			if err != nil {
				return err
			}
			printBest(out, best)
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&rules, "rule", "r", nil, "rule label to fire; repeat for several steps")
	cmd.Flags().IntVar(&back, "back", 0, "steps to undo afterwards")
	return cmd
}

// =============================================================================
// extract
// =============================================================================

func newExtractCmd(a *app) *cobra.Command {
	var (
		class    int64
		steps    int
		saturate bool
	)
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Print the cheapest term of the program or of one class",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if class > math.MaxUint32 {
				return fmt.Errorf("--class %d is out of range (max %d)", class, uint32(math.MaxUint32))
			}
			ws, e, err := a.load()
			if err != nil {
				return err
			}
			if saturate {
				steps = ws.Engine.MaxSteps
			}
			if steps > 0 {
				if _, err := e.Saturate(cmd.Context(), steps); err != nil {
					return err
				}
			}
			var x *egraph.Extraction
			if class < 0 {
				x, err = e.Extract()
			} else {
				x, err = e.ExtractClass(egraph.ClassID(class))
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (cost %d)\n", x.Class, x.Expr, x.Cost)
			return nil
		},
	}
	cmd.Flags().Int64Var(&class, "class", -1, "class id to extract (default: the program root)")
	cmd.Flags().IntVar(&steps, "steps", 0, "automatic steps to run first")
	cmd.Flags().BoolVar(&saturate, "saturate", false, "saturate first, up to the workspace step limit")
	return cmd
}

// =============================================================================
// snapshot
// =============================================================================

func newSnapshotCmd(a *app) *cobra.Command {
	var (
		steps  int
		format string
	)
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Dump every class and node of the e-graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "yaml" {
				return fmt.Errorf("unknown format %q: want json or yaml", format)
			}
			_, e, err := a.load()
			if err != nil {
				return err
			}
			for i := 0; i < steps; i++ {
				if _, err := e.Step(egraph.Auto()); err != nil {
					return err
				}
			}
			snap, err := e.Snapshot()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format == "yaml" {
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(snap)
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "automatic steps to run first")
	cmd.Flags().StringVarP(&format, "format", "o", "json", "output format: json or yaml")
	return cmd
}

// =============================================================================
// presets
// =============================================================================

func newPresetsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presets [name]",
		Short: "List built-in workspaces, or print one as YAML",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				ws, err := config.Preset(args[0])
				if err != nil {
					return err
				}
				data, err := ws.Marshal()
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			}

			all, err := config.Presets()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, ws := range all {
				fmt.Fprintf(tw, "%s\t%d rules\t%s\n", ws.Name, len(ws.Rules), ws.Description)
			}
			return tw.Flush()
		},
	}
	return cmd
}

// =============================================================================
// batch
// =============================================================================

type batchResult struct {
	name   string
	reason egraph.StopReason
	steps  int
	nodes  int
	best   *egraph.Extraction
}

func newBatchCmd(a *app) *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "batch [preset...]",
		Short: "Saturate several presets concurrently and summarize the results",
		Long: `Runs each named preset (default: all of them) on its own engine, in
parallel, and prints one line per preset in input order.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var workspaces []*config.Workspace
			if len(args) == 0 {
				all, err := config.Presets()
				if err != nil {
					return err
				}
				workspaces = all
			}
			for _, name := range args {
				ws, err := config.Preset(name)
				if err != nil {
					return err
				}
				workspaces = append(workspaces, ws)
			}

			pool := parallel.NewWorkerPool(workers)
			defer pool.Shutdown()

			results, err := parallel.Map(cmd.Context(), pool, workspaces,
				func(ctx context.Context, ws *config.Workspace) (batchResult, error) {
					return a.saturateWorkspace(ctx, ws)
				})
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PRESET\tSTOP\tSTEPS\tNODES\tBEST")
			var failed []string
			for _, r := range results {
				if r.Err != nil {
					name := workspaces[r.Index].Name
					fmt.Fprintf(tw, "%s\terror\t-\t-\t%v\n", name, r.Err)
					failed = append(failed, name)
					continue
				}
				v := r.Value
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", v.name, v.reason, v.steps, v.nodes, v.best.Expr)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if len(failed) > 0 {
				return fmt.Errorf("%d presets failed: %s", len(failed), strings.Join(failed, ", "))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "parallel engines (default: number of CPUs)")
	return cmd
}

func (a *app) saturateWorkspace(ctx context.Context, ws *config.Workspace) (batchResult, error) {
	e, err := a.engine(ws)
	if err != nil {
		return batchResult{}, err
	}
	report, err := e.Saturate(ctx, ws.Engine.MaxSteps)
	if err != nil {
		return batchResult{}, err
	}
	best, err := e.Extract()
	if err != nil {
		return batchResult{}, err
	}
	nodes, err := e.Graph().NodeCount()
	if err != nil {
		return batchResult{}, err
	}
	return batchResult{
		name:   ws.Name,
		reason: report.Reason,
		steps:  len(report.Steps),
		nodes:  nodes,
		best:   best,
	}, nil
}

// =============================================================================
// tui / serve / mcp / version
// =============================================================================

func newTUICmd(a *app) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Step the workspace interactively in the terminal",
		Long: `Opens a full-screen stepper. With --watch and --file, saving the
workspace file rebuilds the engine from scratch.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
				return errors.New("tui needs an interactive terminal; try 'eggstep step' instead")
			}
			if watch && a.file == "" {
				return errors.New("--watch needs --file")
			}
			ws, e, err := a.load()
			if err != nil {
				return err
			}

			var reloads chan tui.ReloadMsg
			if watch {
				reloads = make(chan tui.ReloadMsg, 1)
				w, err := config.NewWatcher(a.file, func(ws *config.Workspace, err error) {
					msg := tui.ReloadMsg{Err: err}
					if err == nil {
						msg.Engine, msg.Err = a.engine(ws)
						msg.Title = ws.Name
					}
					reloads <- msg
				})
				if err != nil {
					return err
				}
				defer w.Stop()
				w.Start(cmd.Context())
			}
			return tui.Run(e, ws.Name, reloads)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "reload when the workspace file changes")
	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the workspace engine over HTTP and websocket",
		Long: `Starts the HTTP API used by browser visualizers. /metrics is served on
the same address.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, e, err := a.load()
			if err != nil {
				return err
			}
			if a.logLevel != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}
			router := httpapi.NewServer(e, a.logger).Router()
			router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

			srv := &http.Server{
				Addr:              addr,
				Handler:           router,
				ReadHeaderTimeout: 5 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			a.logger.Info("serving HTTP API", slog.String("addr", addr))
			fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", addr)

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(ctx)
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	return cmd
}

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the workspace engine over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, e, err := a.load()
			if err != nil {
				return err
			}
			return mcpserver.NewServer(e, egraph.Version).Serve()
		},
	}
}

func newVersionCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := egraph.GetVersionInfo()
			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(info)
			}
			fmt.Fprintf(out, "eggstep %s (%s)\n", info.Version, info.GoVersion)
			if info.GitCommit != "" {
				fmt.Fprintf(out, "commit %s %s\n", info.GitCommit, info.BuildDate)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}
