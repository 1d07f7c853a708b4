package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/stratgate/stratgate/internal/calendar"
	"github.com/stratgate/stratgate/internal/eval"
	"github.com/stratgate/stratgate/internal/manifest"
)

var replayTolerance float64

// replayCmd implements the 'stratgate replay' command
var replayCmd = &cobra.Command{
	Use:   "replay <manifest.json>",
	Short: "Re-execute a manifest and verify its recorded results",
	Long: `Replay loads a manifest, rebuilds the evaluator from the recorded seed,
re-runs the winning trial over the recorded period and lookbacks, and compares
every captured numeric field against the stored values.

The exit status is zero only when every field matches within tolerance.

Example usage:
  stratgate replay artifacts/manifests/final_20260115T093000Z_ab12cd34ef56.json
  stratgate replay run.json --tolerance 1e-9`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().Float64Var(&replayTolerance, "tolerance", 1e-6, "Maximum per-field absolute difference")
}

func runReplay(cmd *cobra.Command, args []string) error {
	path := args[0]

	m, err := manifest.Load(path)
	if err != nil {
		return err
	}
	start, err := time.Parse("2006-01-02", m.Config.DateStart)
	if err != nil {
		return fmt.Errorf("manifest date_start: %w", err)
	}
	end, err := time.Parse("2006-01-02", m.Config.DateEnd)
	if err != nil {
		return fmt.Errorf("manifest date_end: %w", err)
	}
	cal, err := calendar.NewWeekdays(start.AddDate(-1, 0, 0), end.AddDate(1, 0, 0))
	if err != nil {
		return fmt.Errorf("building trading calendar: %w", err)
	}

	factory := func(seed int64) eval.Evaluator { return eval.NewSynthetic(seed) }
	report, err := manifest.Replay(cmd.Context(), path, replayTolerance, factory, cal)
	if err != nil {
		return err
	}

	if report.Passed {
		color.New(color.Bold, color.FgGreen).Fprintf(os.Stdout,
			"REPLAY PASS: %s (%d fields within %g)\n",
			report.ManifestID, report.CheckedFields, report.Tolerance)
		return nil
	}

	color.New(color.Bold, color.FgRed).Fprintf(os.Stdout, "REPLAY FAIL: %s\n", report.ManifestID)
	if report.Reason != "" {
		fmt.Println(report.Reason)
	}
	for _, d := range report.Diffs {
		fmt.Printf("  %-40s stored=%.8f replayed=%.8f delta=%.2e\n",
			d.Field, d.Stored, d.Replayed, d.Delta)
	}
	return fmt.Errorf("manifest %s did not reproduce", report.ManifestID)
}
