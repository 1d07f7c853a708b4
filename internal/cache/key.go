package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/stratgate/stratgate/internal/model"
	"github.com/stratgate/stratgate/internal/period"
)

// KeyInputs is the complete set of inputs that can affect an evaluation
// result. Every field participates in key derivation; adding an input that
// changes evaluator output without extending this struct is a bug.
type KeyInputs struct {
	Params         model.Params
	LookbackMonths int
	Period         period.Period
	Costs          model.CostConfig
	Data           model.DataConfig
}

// DeriveKey produces a collision-resistant key over a canonical rendering of
// all inputs. Identical inputs always yield the same key; any single
// differing input yields a different key with overwhelming probability.
func DeriveKey(in KeyInputs) string {
	canonical := fmt.Sprintf("params:%s;lookback:%d;period:%s;costs:%s;data:%s",
		in.Params.Canonical(),
		in.LookbackMonths,
		in.Period.Signature(),
		in.Costs.Canonical(),
		in.Data.Canonical(),
	)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns a short stable identity for a parameter assignment,
// used for duplicate detection and cached-result integrity checks.
func Fingerprint(params model.Params) string {
	sum := sha256.Sum256([]byte(params.Canonical()))
	return hex.EncodeToString(sum[:])[:16]
}
