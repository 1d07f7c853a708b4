package guardrails

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Thresholds holds the deterministic guardrail limits applied to every
// evaluated sub-period.
type Thresholds struct {
	MinTradeCount int     `yaml:"min_trade_count" json:"min_trade_count"`
	MinExposure   float64 `yaml:"min_exposure" json:"min_exposure"`
	MaxTurnover   float64 `yaml:"max_turnover" json:"max_turnover"` // annualized

	// MDD consistency: |validation.mdd| <= max(|train.mdd| * Ratio, Floor)
	MDDRatio float64 `yaml:"mdd_ratio" json:"mdd_ratio"`
	MDDFloor float64 `yaml:"mdd_floor" json:"mdd_floor"`
}

// AnomalyThresholds holds the advisory sanity-check limits. These are
// tunable, not constants: divergence limits in particular flag thin-sample
// noise as easily as genuine leakage, so operators adjust them per universe.
type AnomalyThresholds struct {
	MaxSharpe           float64 `yaml:"max_sharpe" json:"max_sharpe"`
	MaxAnnualReturn     float64 `yaml:"max_annual_return" json:"max_annual_return"`
	MinTradesAdvisory   int     `yaml:"min_trades_advisory" json:"min_trades_advisory"`
	MinExposureAdvisory float64 `yaml:"min_exposure_advisory" json:"min_exposure_advisory"`

	// Validation/held-out divergence: validation Sharpe below DivergenceValMax
	// followed by held-out Sharpe above DivergenceTestMin.
	DivergenceValMax  float64 `yaml:"divergence_val_max" json:"divergence_val_max"`
	DivergenceTestMin float64 `yaml:"divergence_test_min" json:"divergence_test_min"`
}

// Config bundles both threshold families for YAML loading.
type Config struct {
	Guardrails Thresholds        `yaml:"guardrails" json:"guardrails"`
	Anomalies  AnomalyThresholds `yaml:"anomalies" json:"anomalies"`
}

// DefaultConfig returns the built-in thresholds used when no config file is
// supplied.
func DefaultConfig() Config {
	return Config{
		Guardrails: Thresholds{
			MinTradeCount: 30,
			MinExposure:   0.10,
			MaxTurnover:   50.0,
			MDDRatio:      1.2,
			MDDFloor:      0.10,
		},
		Anomalies: AnomalyThresholds{
			MaxSharpe:           4.0,
			MaxAnnualReturn:     3.0,
			MinTradesAdvisory:   10,
			MinExposureAdvisory: 0.05,
			DivergenceValMax:    0.0,
			DivergenceTestMin:   1.5,
		},
	}
}

// LoadConfig reads thresholds from a YAML file, filling unset fields from
// defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read guardrail config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse guardrail config %s: %w", path, err)
	}
	return cfg, nil
}
