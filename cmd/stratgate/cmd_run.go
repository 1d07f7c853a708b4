package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/stratgate/stratgate/internal/calendar"
	"github.com/stratgate/stratgate/internal/eval"
	"github.com/stratgate/stratgate/internal/gates"
	"github.com/stratgate/stratgate/internal/guardrails"
	"github.com/stratgate/stratgate/internal/objective"
	"github.com/stratgate/stratgate/internal/period"
	"github.com/stratgate/stratgate/internal/runner"
	"github.com/stratgate/stratgate/internal/store"
	"github.com/stratgate/stratgate/internal/telemetry"
	"github.com/stratgate/stratgate/internal/walkforward"
)

var (
	runConfigPath  string
	runTrials      int
	runSeed        int64
	runTargetGate  int
	runOutputDir   string
	runDBDSN       string
	runMetricsAddr string
	runEvalRate    float64
)

// runCmd implements the 'stratgate run' command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one search and promotion attempt",
	Long: `Run a full promotion attempt from a YAML configuration file: split the
date range with the held-out period sealed, sample and score trials, screen the
top N through Gate1, confirm stability through Gate2, and optionally unseal the
held-out period for the single best survivor at Gate3.

The exit status is zero only when a candidate reached the requested gate.

Example usage:
  stratgate run --config config/search.yaml
  stratgate run --config config/search.yaml --gate 2 --trials 500
  stratgate run --config config/search.yaml --db "postgres://..." --metrics-addr :9090`,
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runConfigPath, "config", "config/search.yaml", "Path to run configuration file")
	runCmd.Flags().IntVar(&runTrials, "trials", 0, "Override the configured trial count")
	runCmd.Flags().Int64Var(&runSeed, "seed", 0, "Override the configured run seed")
	runCmd.Flags().IntVar(&runTargetGate, "gate", 0, "Furthest gate to run (1-3, overrides config)")
	runCmd.Flags().StringVar(&runOutputDir, "out", "", "Override the manifest output directory")
	runCmd.Flags().StringVar(&runDBDSN, "db", "", "PostgreSQL DSN for the manifest index (optional)")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (optional)")
	runCmd.Flags().Float64Var(&runEvalRate, "eval-rate", 0, "Cap evaluator calls per second (0 = unlimited)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig(runConfigPath)
	if err != nil {
		return err
	}
	if runTrials > 0 {
		cfg.NTrials = runTrials
	}
	if runSeed != 0 {
		cfg.Seed = runSeed
	}
	if runTargetGate != 0 {
		cfg.TargetGate = runTargetGate
	}
	if runOutputDir != "" {
		cfg.OutputDir = runOutputDir
	}

	cal, err := calendar.NewWeekdays(cfg.Start.AddDate(-1, 0, 0), cfg.End.AddDate(1, 0, 0))
	if err != nil {
		return fmt.Errorf("building trading calendar: %w", err)
	}

	var evaluator eval.Evaluator = eval.NewSynthetic(cfg.Seed)
	if runEvalRate > 0 {
		evaluator = eval.NewRateLimited(evaluator, runEvalRate, 1)
	}

	index := store.NewNop()
	if runDBDSN != "" {
		index, err = store.NewPostgres(runDBDSN, 5*time.Second)
		if err != nil {
			return fmt.Errorf("connecting manifest index: %w", err)
		}
	}
	defer index.Close()

	reg := prometheus.NewRegistry()
	metrics := telemetry.New(reg)
	if runMetricsAddr != "" {
		go serveMetrics(runMetricsAddr, reg)
	}

	r, err := runner.New(cfg, evaluator, cal, index, metrics)
	if err != nil {
		return err
	}

	result, err := r.Run(cmd.Context())
	if err != nil {
		return err
	}

	runner.WriteReport(os.Stdout, result)

	if !result.ReachedGate(cfg.TargetGate) {
		return fmt.Errorf("run stopped at stage %s before gate %d", result.Stage, cfg.TargetGate)
	}
	return nil
}

// loadRunConfig reads the YAML run configuration, starting from defaults so
// sparse files stay valid.
func loadRunConfig(path string) (runner.Config, error) {
	cfg := runner.Config{
		TopN:       10,
		TargetGate: 3,
		Split:      period.DefaultSplitConfig(),
		Objective:  objective.DefaultConfig(),
		Gate2:      gates.DefaultGate2Config(),
		Window:     walkforward.DefaultWindowSpec(),
		Guards:     guardrails.DefaultConfig(),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return runner.Config{}, fmt.Errorf("reading run config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return runner.Config{}, fmt.Errorf("parsing run config %s: %w", path, err)
	}
	if cfg.Start.IsZero() || cfg.End.IsZero() {
		return runner.Config{}, fmt.Errorf("run config %s: start and end dates are required", path)
	}
	return cfg, nil
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.Info().Str("addr", addr).Msg("Metrics endpoint listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("Metrics endpoint stopped")
	}
}
