// Package guardrails applies deterministic pass/fail threshold checks and
// advisory statistical anomaly flags to evaluation results. Guardrail
// failures are expected, frequent outcomes represented as data; they are
// never errors.
package guardrails

import (
	"fmt"
	"math"

	"github.com/stratgate/stratgate/internal/model"
)

// Check runs the guardrail thresholds against one Metrics record.
func Check(m model.Metrics, th Thresholds) model.GuardrailChecks {
	checks := model.GuardrailChecks{
		MinTradeCount:    th.MinTradeCount,
		ObservedTrades:   m.TradeCount,
		MinExposure:      th.MinExposure,
		ObservedExposure: m.ExposureRatio,
		MaxTurnover:      th.MaxTurnover,
		ObservedTurnover: m.Turnover,
		Passed:           true,
	}

	if m.TradeCount < th.MinTradeCount {
		checks.Passed = false
		checks.Failures = append(checks.Failures,
			fmt.Sprintf("trade count %d below minimum %d", m.TradeCount, th.MinTradeCount))
	}
	if m.ExposureRatio < th.MinExposure {
		checks.Passed = false
		checks.Failures = append(checks.Failures,
			fmt.Sprintf("exposure %.3f below minimum %.3f", m.ExposureRatio, th.MinExposure))
	}
	if m.Turnover > th.MaxTurnover {
		checks.Passed = false
		checks.Failures = append(checks.Failures,
			fmt.Sprintf("turnover %.1f above maximum %.1f", m.Turnover, th.MaxTurnover))
	}

	return checks
}

// MDDConsistent checks that the validation drawdown is plausible given the
// training drawdown: |val.mdd| <= max(|train.mdd| * ratio, floor). A
// validation window far calmer or wilder than training suggests a regime
// artifact rather than a robust parameter set.
func MDDConsistent(train, validation model.Metrics, th Thresholds) (bool, string) {
	trainMDD := math.Abs(train.MaxDrawdown)
	valMDD := math.Abs(validation.MaxDrawdown)
	limit := math.Max(trainMDD*th.MDDRatio, th.MDDFloor)

	if valMDD > limit {
		return false, fmt.Sprintf("validation MDD %.3f exceeds limit %.3f (train MDD %.3f)",
			valMDD, limit, trainMDD)
	}
	return true, ""
}
