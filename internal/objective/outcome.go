package objective

import "github.com/stratgate/stratgate/internal/model"

// SentinelScore is the fixed failure value fed back to the search mechanism
// when a trial is abandoned by guardrails or a critical anomaly.
const SentinelScore = -999.0

// OutcomeKind discriminates the TrialOutcome sum.
type OutcomeKind string

const (
	OutcomeScored    OutcomeKind = "scored"
	OutcomeDuplicate OutcomeKind = "duplicate"
	OutcomePruned    OutcomeKind = "pruned"
	OutcomeFailed    OutcomeKind = "failed"
)

// TrialOutcome is the explicit result of one trial. Duplicate and pruned
// trials are ordinary outcomes, not exceptions; only Failed carries an
// error, and only for the trial's own evaluator calls.
type TrialOutcome struct {
	Kind        OutcomeKind             `json:"kind"`
	Score       float64                 `json:"score"`
	Params      model.Params            `json:"params,omitempty"`
	Fingerprint string                  `json:"fingerprint,omitempty"`
	PerLookback map[int]model.RunResult `json:"per_lookback,omitempty"`

	// BindingLookback is the lookback (months) that determined the combined
	// score under the min combiner; ties resolve to the longest lookback.
	BindingLookback int `json:"binding_lookback,omitempty"`

	Reason string `json:"reason,omitempty"`
	Err    error  `json:"-"`
}

// Scored reports whether the trial produced a usable score.
func (o TrialOutcome) Scored() bool { return o.Kind == OutcomeScored }
