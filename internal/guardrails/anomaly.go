package guardrails

import (
	"fmt"

	"github.com/stratgate/stratgate/internal/model"
)

// Severity grades an anomaly flag. Critical flags block Gate1 in production
// mode; warnings are recorded and surfaced but do not gate.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AnomalyFlag is one advisory sanity finding on an evaluation result.
type AnomalyFlag struct {
	Name      string   `json:"name"`
	Severity  Severity `json:"severity"`
	Message   string   `json:"message"`
	Value     float64  `json:"value"`
	Threshold float64  `json:"threshold"`
}

// DetectAnomalies scans a RunResult for implausible statistics. The
// validation/held-out divergence check only fires once a held-out period
// exists, i.e. at Gate3.
func DetectAnomalies(r model.RunResult, th AnomalyThresholds) []AnomalyFlag {
	var flags []AnomalyFlag

	if r.Validation.Sharpe > th.MaxSharpe {
		flags = append(flags, AnomalyFlag{
			Name:      "implausible_sharpe",
			Severity:  SeverityCritical,
			Message:   fmt.Sprintf("validation Sharpe %.2f above plausibility ceiling %.2f", r.Validation.Sharpe, th.MaxSharpe),
			Value:     r.Validation.Sharpe,
			Threshold: th.MaxSharpe,
		})
	}
	if r.Validation.AnnualizedReturn > th.MaxAnnualReturn {
		flags = append(flags, AnomalyFlag{
			Name:      "implausible_return",
			Severity:  SeverityCritical,
			Message:   fmt.Sprintf("annualized return %.2f above ceiling %.2f", r.Validation.AnnualizedReturn, th.MaxAnnualReturn),
			Value:     r.Validation.AnnualizedReturn,
			Threshold: th.MaxAnnualReturn,
		})
	}
	if r.Validation.TradeCount < th.MinTradesAdvisory {
		flags = append(flags, AnomalyFlag{
			Name:      "undersampled_trades",
			Severity:  SeverityWarning,
			Message:   fmt.Sprintf("only %d validation trades, results are thin-sample", r.Validation.TradeCount),
			Value:     float64(r.Validation.TradeCount),
			Threshold: float64(th.MinTradesAdvisory),
		})
	}
	if r.Validation.ExposureRatio < th.MinExposureAdvisory {
		flags = append(flags, AnomalyFlag{
			Name:      "undersampled_exposure",
			Severity:  SeverityWarning,
			Message:   fmt.Sprintf("exposure %.3f leaves most of the window unobserved", r.Validation.ExposureRatio),
			Value:     r.Validation.ExposureRatio,
			Threshold: th.MinExposureAdvisory,
		})
	}

	if r.Test != nil {
		if r.Validation.Sharpe < th.DivergenceValMax && r.Test.Sharpe > th.DivergenceTestMin {
			flags = append(flags, AnomalyFlag{
				Name:     "validation_heldout_divergence",
				Severity: SeverityCritical,
				Message: fmt.Sprintf("validation Sharpe %.2f but held-out Sharpe %.2f: overfitting or leakage smell",
					r.Validation.Sharpe, r.Test.Sharpe),
				Value:     r.Test.Sharpe,
				Threshold: th.DivergenceTestMin,
			})
		}
	}

	return flags
}

// HasCritical reports whether any flag in the list is critical.
func HasCritical(flags []AnomalyFlag) bool {
	for _, f := range flags {
		if f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}
