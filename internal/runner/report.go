package runner

import (
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"

	"github.com/stratgate/stratgate/internal/gates"
	"github.com/stratgate/stratgate/internal/manifest"
)

// WriteReport renders a run result for a terminal operator. The manifest on
// disk stays the machine-readable record; this is the glanceable summary.
func WriteReport(w io.Writer, r *Result) {
	header := color.New(color.Bold, color.FgCyan)
	pass := color.New(color.Bold, color.FgGreen)
	fail := color.New(color.Bold, color.FgRed)
	warn := color.New(color.FgYellow)

	header.Fprintf(w, "Run %s: stage %s\n", r.RunID, r.Stage)
	fmt.Fprintf(w, "Manifest: %s\n", r.ManifestPath)

	fmt.Fprintf(w, "Trials:  ")
	for _, kind := range sortedKeys(r.TrialTally) {
		fmt.Fprintf(w, "%s=%d  ", kind, r.TrialTally[kind])
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Cache:   hits=%d misses=%d evictions=%d size=%d/%d\n",
		r.CacheStats.Hits, r.CacheStats.Misses, r.CacheStats.Evictions,
		r.CacheStats.Size, r.CacheStats.Capacity)

	for _, wmsg := range r.Warnings {
		warn.Fprintf(w, "warning: %s\n", wmsg)
	}

	if len(r.Candidates) == 0 {
		fail.Fprintln(w, "No candidates: every trial was pruned, duplicated, or failed.")
		return
	}

	fmt.Fprintf(w, "\n%-12s %-10s %8s  %-6s %-6s %-6s\n", "CANDIDATE", "FPRINT", "SCORE", "G1", "G2", "G3")
	for _, c := range r.Candidates {
		fmt.Fprintf(w, "%-12s %-10s %8.4f  %-6s %-6s %-6s\n",
			c.ID, short(c.Fingerprint), c.Score,
			verdict(pass, fail, c.Gate1Result),
			verdict(pass, fail, c.Gate2Result),
			verdict(pass, fail, c.Gate3Result))
	}

	if r.Best != nil {
		fmt.Fprintln(w)
		if r.Stage == manifest.StageFinal {
			pass.Fprintf(w, "Best candidate %s reached final stage, held-out period disclosed.\n", r.Best.ID)
			for _, wmsg := range r.Best.Gate3Result.Warnings {
				warn.Fprintf(w, "  %s\n", wmsg)
			}
		} else {
			fmt.Fprintf(w, "Best candidate: %s (score %.4f, status %s)\n",
				r.Best.ID, r.Best.Score, r.Best.Status())
		}
	}
	if r.WalkForward != nil {
		fmt.Fprintf(w, "Walk-forward: %d windows, stability %.3f, win rate %.2f, mean OOS Sharpe %.3f\n",
			len(r.WalkForward.Windows), r.WalkForward.StabilityScore,
			r.WalkForward.WinRate, r.WalkForward.MeanOOSSharpe)
	}
}

func verdict(pass, fail *color.Color, res *gates.GateResult) string {
	if res == nil {
		return "-"
	}
	if res.Passed {
		return pass.Sprint("PASS")
	}
	return fail.Sprint("FAIL")
}

func short(fp string) string {
	if len(fp) > 8 {
		return fp[:8]
	}
	return fp
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
