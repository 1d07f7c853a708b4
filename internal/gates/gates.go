// Package gates implements the three-stage promotion pipeline. Transitions
// are one-directional, recorded as immutable GateResults, and the held-out
// period stays sealed until a candidate holds passing Gate1 and Gate2
// results.
package gates

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stratgate/stratgate/internal/guardrails"
	"github.com/stratgate/stratgate/internal/model"
	"github.com/stratgate/stratgate/internal/walkforward"
)

// ErrSafetyRail is raised when a skip flag is used outside test mode. This
// is unconditional: production runs never bypass checks silently.
var ErrSafetyRail = errors.New("gates: skip flag invoked outside test mode")

// Gate1Config controls top-N candidate selection.
type Gate1Config struct {
	TopN int `yaml:"top_n" json:"top_n"`

	// TestMode unlocks the skip flags for non-production harnesses only.
	TestMode       bool `yaml:"-" json:"-"`
	SkipLogicCheck bool `yaml:"-" json:"-"`
	SkipMDDCheck   bool `yaml:"-" json:"-"`
}

// Gate2Config controls the stability confirmation thresholds.
type Gate2Config struct {
	MinStability float64 `yaml:"min_stability" json:"min_stability"`
	MinWinRate   float64 `yaml:"min_win_rate" json:"min_win_rate"`
}

// DefaultGate2Config returns stability >= 1.0 and win rate >= 60%.
func DefaultGate2Config() Gate2Config {
	return Gate2Config{MinStability: 1.0, MinWinRate: 0.60}
}

// CheckGate1 screens all candidates: the N-th highest validation Sharpe
// becomes the score threshold, and each candidate must additionally pass
// guardrails, carry no critical anomaly, hold MDD consistency, and show
// parameter-effectiveness evidence.
func CheckGate1(candidates []*Candidate, guards guardrails.Config, cfg Gate1Config) error {
	if (cfg.SkipLogicCheck || cfg.SkipMDDCheck) && !cfg.TestMode {
		return fmt.Errorf("%w: skip_logic_check=%v skip_mdd_check=%v",
			ErrSafetyRail, cfg.SkipLogicCheck, cfg.SkipMDDCheck)
	}
	if cfg.TopN <= 0 {
		return fmt.Errorf("gates: top_n must be positive, got %d", cfg.TopN)
	}

	threshold := nthHighestValidationSharpe(candidates, cfg.TopN)

	for _, c := range candidates {
		result := &GateResult{
			Gate:      "gate1",
			Passed:    true,
			CheckedAt: time.Now().UTC(),
			Metadata: map[string]interface{}{
				"score_threshold":   threshold,
				"validation_sharpe": c.ValidationSharpe(),
			},
		}

		if c.ValidationSharpe() < threshold {
			result.Passed = false
			result.Failures = append(result.Failures, fmt.Sprintf(
				"validation Sharpe %.3f below top-%d threshold %.3f",
				c.ValidationSharpe(), cfg.TopN, threshold))
		}

		for _, lb := range sortedLookbacks(c.PerLookback) {
			r := c.PerLookback[lb]

			if r.Guardrails == nil || !r.Guardrails.Passed {
				result.Passed = false
				result.Failures = append(result.Failures,
					fmt.Sprintf("lookback %dm: guardrails failed", lb))
			}

			if flags := guardrails.DetectAnomalies(r, guards.Anomalies); guardrails.HasCritical(flags) {
				result.Passed = false
				result.Failures = append(result.Failures,
					fmt.Sprintf("lookback %dm: critical anomaly", lb))
			} else {
				for _, f := range flags {
					result.Warnings = append(result.Warnings,
						fmt.Sprintf("lookback %dm: %s", lb, f.Message))
				}
			}

			if !cfg.SkipMDDCheck {
				if ok, reason := guardrails.MDDConsistent(r.Train, r.Validation, guards.Guardrails); !ok {
					result.Passed = false
					result.Failures = append(result.Failures,
						fmt.Sprintf("lookback %dm: %s", lb, reason))
				}
			}

			if !cfg.SkipLogicCheck {
				if r.Logic == nil || !r.Logic.ParamsEffective {
					result.Passed = false
					result.Failures = append(result.Failures,
						fmt.Sprintf("lookback %dm: no parameter-effectiveness evidence", lb))
				}
			}
		}

		if err := attach(&c.Gate1Result, result); err != nil {
			return err
		}

		log.Info().
			Str("candidate", c.ID).
			Bool("passed", result.Passed).
			Float64("validation_sharpe", c.ValidationSharpe()).
			Float64("threshold", threshold).
			Msg("Gate1 checked")
	}

	return nil
}

// CheckGate2 confirms stability on a Gate1 survivor using its walk-forward
// summary with the fixed candidate parameters.
func CheckGate2(c *Candidate, summary walkforward.Summary, cfg Gate2Config) error {
	if c.Gate1Result == nil || !c.Gate1Result.Passed {
		return fmt.Errorf("gates: gate2 requires a passing gate1 result, candidate %s is %s",
			c.ID, c.Status())
	}

	result := &GateResult{
		Gate:      "gate2",
		Passed:    true,
		CheckedAt: time.Now().UTC(),
		Metadata: map[string]interface{}{
			"stability_score": summary.StabilityScore,
			"win_rate":        summary.WinRate,
			"windows":         len(summary.Windows),
			"mean_oos_sharpe": summary.MeanOOSSharpe,
		},
	}

	if summary.StabilityScore < cfg.MinStability {
		result.Passed = false
		result.Failures = append(result.Failures, fmt.Sprintf(
			"stability score %.3f below minimum %.3f", summary.StabilityScore, cfg.MinStability))
	}
	if summary.WinRate < cfg.MinWinRate {
		result.Passed = false
		result.Failures = append(result.Failures, fmt.Sprintf(
			"win rate %.2f below minimum %.2f", summary.WinRate, cfg.MinWinRate))
	}

	if err := attach(&c.Gate2Result, result); err != nil {
		return err
	}

	log.Info().
		Str("candidate", c.ID).
		Bool("passed", result.Passed).
		Float64("stability", summary.StabilityScore).
		Float64("win_rate", summary.WinRate).
		Msg("Gate2 checked")

	return nil
}

// UnsealFunc re-requests the full evaluation with the held-out period
// disclosed. It is only ever invoked from CheckGate3 on a candidate that
// already holds passing Gate1 and Gate2 results.
type UnsealFunc func(ctx context.Context, params model.Params) (model.RunResult, error)

// CheckGate3 unseals the held-out period for a Gate2 survivor and records
// the disclosed metrics and any divergence anomalies. Gate3 is
// informational: when the ordering precondition holds it always records
// passed=true and leaves the promotion call to the operator. When the
// precondition fails it records passed=false and never calls unseal.
func CheckGate3(ctx context.Context, c *Candidate, unseal UnsealFunc, guards guardrails.Config) error {
	if c.Gate1Result == nil || !c.Gate1Result.Passed ||
		c.Gate2Result == nil || !c.Gate2Result.Passed {
		result := &GateResult{
			Gate:      "gate3",
			Passed:    false,
			CheckedAt: time.Now().UTC(),
			Failures: []string{fmt.Sprintf(
				"gate ordering violation: candidate %s is %s, held-out period stays sealed",
				c.ID, c.Status())},
		}
		return attach(&c.Gate3Result, result)
	}

	disclosed, err := unseal(ctx, c.Params)
	if err != nil {
		return fmt.Errorf("gates: held-out evaluation for %s: %w", c.ID, err)
	}
	if disclosed.Test == nil {
		return fmt.Errorf("gates: gate3 unseal for %s returned no held-out metrics", c.ID)
	}

	result := &GateResult{
		Gate:      "gate3",
		Passed:    true,
		CheckedAt: time.Now().UTC(),
		Metadata: map[string]interface{}{
			"heldout_sharpe":    disclosed.Test.Sharpe,
			"heldout_mdd":       disclosed.Test.MaxDrawdown,
			"heldout_trades":    disclosed.Test.TradeCount,
			"validation_sharpe": disclosed.Validation.Sharpe,
		},
	}

	for _, f := range guardrails.DetectAnomalies(disclosed, guards.Anomalies) {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("[%s] %s", f.Severity, f.Message))
	}

	if err := attach(&c.Gate3Result, result); err != nil {
		return err
	}

	log.Info().
		Str("candidate", c.ID).
		Float64("heldout_sharpe", disclosed.Test.Sharpe).
		Int("divergence_warnings", len(result.Warnings)).
		Msg("Gate3 held-out period disclosed")

	return nil
}

// nthHighestValidationSharpe returns the n-th highest validation Sharpe, or
// the lowest present when fewer than n candidates exist.
func nthHighestValidationSharpe(candidates []*Candidate, n int) float64 {
	if len(candidates) == 0 {
		return 0
	}
	sharpes := make([]float64, 0, len(candidates))
	for _, c := range candidates {
		sharpes = append(sharpes, c.ValidationSharpe())
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(sharpes)))
	if n > len(sharpes) {
		n = len(sharpes)
	}
	return sharpes[n-1]
}

func sortedLookbacks(m map[int]model.RunResult) []int {
	out := make([]int, 0, len(m))
	for lb := range m {
		out = append(out, lb)
	}
	sort.Ints(out)
	return out
}
