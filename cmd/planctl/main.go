// ============================================================================
// Unit Transaction Planner - planctl CLI
// ============================================================================
//
// Package: cmd/planctl
// File: main.go
// Purpose: A demo/ops CLI driving internal/planner against a YAML unit
//          scenario (internal/unitview.Fixture). A cobra root command
//          with subcommands, config loaded from YAML, metrics started
//          as a background goroutine when enabled.
//
// Command Structure:
//   planctl                      # root command
//   ├── activate                 # run one activation against a scenario
//   │   └── --config, -c         # config file (default planctl.yaml)
//   ├── validate                 # load scenario + config, report errors only
//   └── --version
//
// ============================================================================

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/unitplan/internal/config"
	"github.com/ChuLiYu/unitplan/internal/jobgraph"
	"github.com/ChuLiYu/unitplan/internal/metrics"
	"github.com/ChuLiYu/unitplan/internal/planner"
	"github.com/ChuLiYu/unitplan/internal/unitview"
	"github.com/ChuLiYu/unitplan/pkg/types"
)

var configFile string

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "planctl",
		Short:   "planctl drives the unit transaction planner against a scenario file",
		Version: "1.0.0",
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "planctl.yaml", "config file path")
	root.AddCommand(buildActivateCommand())
	root.AddCommand(buildValidateCommand())
	return root
}

func buildActivateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "activate",
		Short: "Load a scenario, run one activation, print the affected jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runActivate()
		},
	}
}

func buildValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the config and scenario file and report any parse errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if _, err := unitview.LoadFixtureYAML(cfg.Scenario); err != nil {
				return err
			}
			fmt.Printf("config %s and scenario %s are valid\n", configFile, cfg.Scenario)
			return nil
		},
	}
}

func runActivate() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setLogLevel(cfg.Log.Level)

	fixture, err := unitview.LoadFixtureYAML(cfg.Scenario)
	if err != nil {
		return fmt.Errorf("load scenario: %w", err)
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Port); err != nil {
				slog.Error("metrics server exited", "error", err)
			}
		}()
		slog.Info("metrics server started", "port", cfg.Metrics.Port)
	}

	p := planner.New(fixture, planner.WithMetrics(collector))

	mode := cfg.Activation.Mode
	unit := types.UnitID(cfg.Activation.Unit)
	jobType := types.JobType(cfg.Activation.JobType)

	tr := p.NewTransaction(mode)
	anchor, err := p.AddJobAndDependencies(tr, mode, jobType, unit, jobgraph.ZeroRef, false, false, cfg.Activation.IgnoreOrder)
	if err != nil {
		p.Abort(tr)
		return fmt.Errorf("add_job_and_dependencies: %w", err)
	}
	if cfg.Activation.Isolate {
		p.AddIsolateJobs(tr)
	}

	affected, err := p.Activate(tr, mode)
	if err != nil {
		return fmt.Errorf("activate: %w", err)
	}

	fmt.Printf("activated %s %s (anchor job at slot %v): %d job(s) applied\n", jobType, unit, anchor, len(affected))
	for _, j := range affected {
		fmt.Printf("  %-24s %-10s id=%d irreversible=%v matters=%v\n", j.Unit, j.Type, j.ID, j.Irreversible, j.MattersToAnchor)
	}
	return nil
}

func setLogLevel(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

