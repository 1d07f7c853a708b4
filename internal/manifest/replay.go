package manifest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stratgate/stratgate/internal/cache"
	"github.com/stratgate/stratgate/internal/calendar"
	"github.com/stratgate/stratgate/internal/eval"
	"github.com/stratgate/stratgate/internal/model"
	"github.com/stratgate/stratgate/internal/objective"
	"github.com/stratgate/stratgate/internal/period"
)

// EvaluatorFactory rebuilds the evaluator backend for a given run seed.
// Replay never reuses a live evaluator instance; it reconstructs one from
// the recorded seed so hidden state cannot leak into the verification.
type EvaluatorFactory func(seed int64) eval.Evaluator

// Diff is one numeric field that moved between record and replay.
type Diff struct {
	Field    string  `json:"field"`
	Stored   float64 `json:"stored"`
	Replayed float64 `json:"replayed"`
	Delta    float64 `json:"delta"`
}

// Report is the outcome of one replay verification.
type Report struct {
	ManifestID    string  `json:"manifest_id"`
	Passed        bool    `json:"passed"`
	Tolerance     float64 `json:"tolerance"`
	CheckedFields int     `json:"checked_fields"`
	Diffs         []Diff  `json:"diffs,omitempty"`
	Reason        string  `json:"reason,omitempty"`
}

// Replay loads a manifest, re-derives the same parameters, period,
// lookbacks, and seed, re-runs the evaluator, and compares every captured
// numeric field against the stored value. Passed is true iff every absolute
// difference is within tolerance.
func Replay(ctx context.Context, path string, tolerance float64,
	factory EvaluatorFactory, cal *calendar.Calendar) (Report, error) {

	m, err := Load(path)
	if err != nil {
		return Report{}, err
	}
	report := Report{ManifestID: m.ID(), Tolerance: tolerance}

	if m.Results.BestTrial == nil {
		report.Reason = "manifest has no best trial to replay"
		return report, nil
	}
	best := m.Results.BestTrial

	start, err := time.Parse("2006-01-02", m.Config.DateStart)
	if err != nil {
		return Report{}, fmt.Errorf("replay: bad date_start: %w", err)
	}
	end, err := time.Parse("2006-01-02", m.Config.DateEnd)
	if err != nil {
		return Report{}, fmt.Errorf("replay: bad date_end: %w", err)
	}

	pd, _, err := period.Build(start, end, m.Config.Split, cal, false)
	if err != nil {
		return Report{}, fmt.Errorf("replay: rebuild period: %w", err)
	}

	evaluator := factory(m.Config.Seed)
	store := cache.New(256)
	// The recorded thresholds, not the current defaults: replaying a run
	// executed with loosened guardrails under stricter ones would prune a
	// legitimately scored trial and fail the verification spuriously.
	obj, err := objective.New(m.Config.Objective, evaluator, store, cal,
		m.Config.Costs, m.Data, m.Config.Universe, pd, m.Config.Guards, nil)
	if err != nil {
		return Report{}, fmt.Errorf("replay: rebuild objective: %w", err)
	}

	outcome := obj.EvaluateTrial(ctx, best.Params)
	if outcome.Kind == objective.OutcomeFailed {
		return Report{}, fmt.Errorf("replay: trial re-evaluation failed: %w", outcome.Err)
	}
	if !outcome.Scored() {
		report.Reason = fmt.Sprintf("replayed trial was %s (%s) but manifest recorded a score",
			outcome.Kind, outcome.Reason)
		return report, nil
	}

	report.check("score", best.Score, outcome.Score)

	for lb, stored := range best.PerLookback {
		replayed, ok := outcome.PerLookback[lb]
		if !ok {
			report.Diffs = append(report.Diffs, Diff{Field: fmt.Sprintf("per_lookback.%dm", lb)})
			continue
		}
		report.compareMetrics(fmt.Sprintf("lookback_%dm.train", lb), stored.Train, replayed.Train)
		report.compareMetrics(fmt.Sprintf("lookback_%dm.validation", lb), stored.Validation, replayed.Validation)
	}

	// Held-out metrics only exist on final manifests; re-derive and compare
	// them over the same unsealed period.
	if best.Metrics.Test != nil {
		unsealed, _, err := period.Build(start, end, m.Config.Split, cal, true)
		if err != nil {
			return Report{}, fmt.Errorf("replay: rebuild unsealed period: %w", err)
		}
		heldout, err := evaluator.Evaluate(ctx, best.Params, unsealed.Test.Start, unsealed.Test.End,
			m.Config.Costs, cal, m.Config.Universe)
		if err != nil {
			return Report{}, fmt.Errorf("replay: held-out re-evaluation: %w", err)
		}
		report.compareMetrics("heldout", *best.Metrics.Test, heldout)
	}

	report.Passed = len(report.Diffs) == 0
	if !report.Passed && report.Reason == "" {
		report.Reason = fmt.Sprintf("%d field(s) moved beyond tolerance %g", len(report.Diffs), tolerance)
	}

	log.Info().
		Str("manifest", path).
		Bool("passed", report.Passed).
		Int("checked_fields", report.CheckedFields).
		Int("diffs", len(report.Diffs)).
		Msg("Replay verification completed")

	return report, nil
}

func (r *Report) check(field string, stored, replayed float64) {
	r.CheckedFields++
	if delta := math.Abs(stored - replayed); delta > r.Tolerance {
		r.Diffs = append(r.Diffs, Diff{Field: field, Stored: stored, Replayed: replayed, Delta: delta})
	}
}

func (r *Report) compareMetrics(prefix string, stored, replayed model.Metrics) {
	r.check(prefix+".sharpe", stored.Sharpe, replayed.Sharpe)
	r.check(prefix+".annualized_return", stored.AnnualizedReturn, replayed.AnnualizedReturn)
	r.check(prefix+".max_drawdown", stored.MaxDrawdown, replayed.MaxDrawdown)
	r.check(prefix+".trade_count", float64(stored.TradeCount), float64(replayed.TradeCount))
	r.check(prefix+".exposure_ratio", stored.ExposureRatio, replayed.ExposureRatio)
	r.check(prefix+".turnover", stored.Turnover, replayed.Turnover)
	r.check(prefix+".win_rate", stored.WinRate, replayed.WinRate)
}
