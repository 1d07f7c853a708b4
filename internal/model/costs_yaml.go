package model

import (
	"fmt"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// UnmarshalYAML decodes cost fields from their exact string form; float
// literals would round-trip through binary and change the canonical key.
func (c *CostConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		CommissionBps string `yaml:"commission_bps"`
		SlippageBps   string `yaml:"slippage_bps"`
		SpreadBps     string `yaml:"spread_bps"`
	}
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("cost config: %w", err)
	}

	var err error
	if c.CommissionBps, err = parseBps("commission_bps", raw.CommissionBps); err != nil {
		return err
	}
	if c.SlippageBps, err = parseBps("slippage_bps", raw.SlippageBps); err != nil {
		return err
	}
	c.SpreadBps, err = parseBps("spread_bps", raw.SpreadBps)
	return err
}

func parseBps(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("cost config %s: %w", field, err)
	}
	if d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("cost config %s: negative cost %s", field, s)
	}
	return d, nil
}
