package period

import "fmt"

// TotalFloorMonths is the absolute minimum data span that can be split at
// all. Ranges below this floor are a configuration error, never a fallback.
const TotalFloorMonths = 16

// SplitConfig governs how a total duration divides into train/validation/test.
// Ratios are applied first; any segment falling below its configured minimum
// is pulled back up at the expense of training months.
type SplitConfig struct {
	MinTrainMonths int     `yaml:"min_train_months" json:"min_train_months"`
	MinValMonths   int     `yaml:"min_val_months" json:"min_val_months"`
	MinTestMonths  int     `yaml:"min_test_months" json:"min_test_months"`
	TrainRatio     float64 `yaml:"train_ratio" json:"train_ratio"`
	ValRatio       float64 `yaml:"val_ratio" json:"val_ratio"`
	TestRatio      float64 `yaml:"test_ratio" json:"test_ratio"`
}

// DefaultSplitConfig returns the standard 60/20/20 split with 8/4/4 month
// segment minimums.
func DefaultSplitConfig() SplitConfig {
	return SplitConfig{
		MinTrainMonths: 8,
		MinValMonths:   4,
		MinTestMonths:  4,
		TrainRatio:     0.6,
		ValRatio:       0.2,
		TestRatio:      0.2,
	}
}

// SplitPlan is the month allocation produced by ComputeSplit.
type SplitPlan struct {
	TrainMonths int `json:"train_months"`
	ValMonths   int `json:"val_months"`
	TestMonths  int `json:"test_months"`
}

// ComputeSplit allocates totalMonths across train/validation/test.
//
// Below TotalFloorMonths the range is unusable and an error is returned.
// At or below the configured combined minimum, the allocation falls back to
// fixed 4/4/remainder segments and a warning is emitted rather than failing,
// so short histories remain testable.
func ComputeSplit(totalMonths int, cfg SplitConfig) (SplitPlan, []string, error) {
	if cfg.TrainRatio <= 0 || cfg.ValRatio <= 0 || cfg.TestRatio <= 0 {
		return SplitPlan{}, nil, fmt.Errorf("%w: non-positive split ratio", ErrInvalidRange)
	}

	if totalMonths < TotalFloorMonths {
		return SplitPlan{}, nil, fmt.Errorf("%w: %d months < %d month floor",
			ErrRangeTooShort, totalMonths, TotalFloorMonths)
	}

	var warnings []string
	combinedMin := cfg.MinTrainMonths + cfg.MinValMonths + cfg.MinTestMonths
	if totalMonths <= combinedMin {
		plan := SplitPlan{
			ValMonths:   4,
			TestMonths:  4,
			TrainMonths: totalMonths - 8,
		}
		warnings = append(warnings, fmt.Sprintf(
			"split fallback: %d months at or below combined minimum %d, using %d/4/4",
			totalMonths, combinedMin, plan.TrainMonths))
		return plan, warnings, nil
	}

	ratioSum := cfg.TrainRatio + cfg.ValRatio + cfg.TestRatio
	plan := SplitPlan{
		ValMonths:  int(float64(totalMonths) * cfg.ValRatio / ratioSum),
		TestMonths: int(float64(totalMonths) * cfg.TestRatio / ratioSum),
	}
	if plan.ValMonths < cfg.MinValMonths {
		plan.ValMonths = cfg.MinValMonths
	}
	if plan.TestMonths < cfg.MinTestMonths {
		plan.TestMonths = cfg.MinTestMonths
	}
	plan.TrainMonths = totalMonths - plan.ValMonths - plan.TestMonths

	if plan.TrainMonths < cfg.MinTrainMonths {
		// Ratios squeezed training below its minimum; claw back from the
		// larger of the other two segments.
		deficit := cfg.MinTrainMonths - plan.TrainMonths
		warnings = append(warnings, fmt.Sprintf(
			"split adjustment: train %d below minimum %d, reclaiming %d months",
			plan.TrainMonths, cfg.MinTrainMonths, deficit))
		for deficit > 0 {
			if plan.TestMonths > cfg.MinTestMonths {
				plan.TestMonths--
			} else if plan.ValMonths > cfg.MinValMonths {
				plan.ValMonths--
			} else {
				break
			}
			deficit--
		}
		plan.TrainMonths = totalMonths - plan.ValMonths - plan.TestMonths
	}

	return plan, warnings, nil
}
