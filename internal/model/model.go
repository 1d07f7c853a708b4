// Package model holds the shared value types that flow between the search
// objective, the gates, and the manifest layer. Everything here is plain
// data; behavior lives with the components that produce it.
package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/stratgate/stratgate/internal/period"
)

// Params is one sampled parameter assignment, keyed by parameter name.
// Values are held as float64 even for integer parameters; canonical
// rendering fixes the precision so fingerprints stay stable.
type Params map[string]float64

// Canonical renders the assignment as a stable sorted string, e.g.
// "ma=60.000000,stop=2.500000". Used for fingerprints and cache keys.
func (p Params) Canonical() string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(p[name], 'f', 6, 64))
	}
	return b.String()
}

// Clone returns an independent copy of the assignment.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Metrics is a flat performance record for one evaluated sub-period.
type Metrics struct {
	Sharpe           float64 `json:"sharpe"`
	AnnualizedReturn float64 `json:"annualized_return"`
	MaxDrawdown      float64 `json:"max_drawdown"` // negative fraction, e.g. -0.18
	TradeCount       int     `json:"trade_count"`
	ExposureRatio    float64 `json:"exposure_ratio"`
	Turnover         float64 `json:"turnover"` // annualized
	WinRate          float64 `json:"win_rate"`
	Bars             int     `json:"bars"`
}

// GuardrailChecks records threshold checks against one Metrics record.
type GuardrailChecks struct {
	MinTradeCount    int      `json:"min_trade_count"`
	ObservedTrades   int      `json:"observed_trades"`
	MinExposure      float64  `json:"min_exposure"`
	ObservedExposure float64  `json:"observed_exposure"`
	MaxTurnover      float64  `json:"max_turnover"`
	ObservedTurnover float64  `json:"observed_turnover"`
	Passed           bool     `json:"passed"`
	Failures         []string `json:"failures,omitempty"`
}

// LogicChecks carries parameter-effectiveness evidence: proof that the
// sampled parameters actually changed strategy behavior versus a neutral
// baseline. Gate1 requires this evidence in production mode.
type LogicChecks struct {
	ParamsEffective bool    `json:"params_effective"`
	BaselineSharpe  float64 `json:"baseline_sharpe"`
	DeltaSharpe     float64 `json:"delta_sharpe"`
	Notes           string  `json:"notes,omitempty"`
}

// DebugInfo pins a RunResult to the exact inputs that produced it.
type DebugInfo struct {
	Period         period.Period `json:"period"`
	LookbackMonths int           `json:"lookback_months"`
	ContentHash    string        `json:"content_hash"`
	Fingerprint    string        `json:"fingerprint"`
	CacheHit       bool          `json:"cache_hit"`
}

// RunResult bundles the metrics for one (params, lookback) evaluation.
// Test must stay nil for every result produced before Gate3; a non-nil Test
// observed earlier is an integrity violation, not a recoverable condition.
type RunResult struct {
	Train      Metrics          `json:"train"`
	Validation Metrics          `json:"validation"`
	Test       *Metrics         `json:"test,omitempty"`
	Guardrails *GuardrailChecks `json:"guardrails,omitempty"`
	Logic      *LogicChecks     `json:"logic,omitempty"`
	Debug      *DebugInfo       `json:"debug,omitempty"`
}

// Sealed reports whether the held-out period is still unobserved.
func (r *RunResult) Sealed() bool { return r.Test == nil }

// CostConfig describes trading cost assumptions. Decimal fields keep the
// canonical rendering exact so cost changes always change derived keys.
type CostConfig struct {
	CommissionBps decimal.Decimal `json:"commission_bps" yaml:"commission_bps"`
	SlippageBps   decimal.Decimal `json:"slippage_bps" yaml:"slippage_bps"`
	SpreadBps     decimal.Decimal `json:"spread_bps" yaml:"spread_bps"`
}

// DefaultCostConfig returns the standard cost assumptions.
func DefaultCostConfig() CostConfig {
	return CostConfig{
		CommissionBps: decimal.NewFromFloat(2.0),
		SlippageBps:   decimal.NewFromFloat(1.5),
		SpreadBps:     decimal.NewFromFloat(1.0),
	}
}

// Canonical renders the cost assumptions as a stable string.
func (c CostConfig) Canonical() string {
	return fmt.Sprintf("commission=%s|slippage=%s|spread=%s",
		c.CommissionBps.String(), c.SlippageBps.String(), c.SpreadBps.String())
}

// DataConfig pins the data and universe a result was computed against.
type DataConfig struct {
	DatasetVersion string `json:"dataset_version" yaml:"dataset_version"`
	UniverseHash   string `json:"universe_hash" yaml:"universe_hash"`
	Source         string `json:"source" yaml:"source"`
}

// Canonical renders the provenance as a stable string.
func (d DataConfig) Canonical() string {
	return fmt.Sprintf("dataset=%s|universe=%s|source=%s",
		d.DatasetVersion, d.UniverseHash, d.Source)
}
