package gates

import (
	"fmt"
	"sort"
	"time"

	"github.com/stratgate/stratgate/internal/model"
)

// Status is the derived position of a candidate in the promotion pipeline.
// It is never stored; it is recomputed from the recorded gate results.
type Status string

const (
	StatusPending        Status = "pending"
	StatusGate1Passed    Status = "gate1_passed"
	StatusGate1Failed    Status = "gate1_failed"
	StatusGate2Passed    Status = "gate2_passed"
	StatusGate2Failed    Status = "gate2_failed"
	StatusGate3Evaluated Status = "gate3_evaluated"
)

// GateResult records one gate's verdict for one candidate. Once attached it
// is never mutated; the next gate produces its own result.
type GateResult struct {
	Gate      string                 `json:"gate"`
	Passed    bool                   `json:"passed"`
	Failures  []string               `json:"failures,omitempty"`
	Warnings  []string               `json:"warnings,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CheckedAt time.Time              `json:"checked_at"`
}

// Candidate wraps one trial's parameters and its progress through the
// gates.
type Candidate struct {
	ID          string                  `json:"id"`
	Params      model.Params            `json:"params"`
	Fingerprint string                  `json:"fingerprint"`
	Score       float64                 `json:"score"`
	PerLookback map[int]model.RunResult `json:"per_lookback"`

	Gate1Result *GateResult `json:"gate1_result,omitempty"`
	Gate2Result *GateResult `json:"gate2_result,omitempty"`
	Gate3Result *GateResult `json:"gate3_result,omitempty"`
}

// Status derives the candidate's pipeline position from its latest recorded
// gate result.
func (c *Candidate) Status() Status {
	switch {
	case c.Gate3Result != nil:
		return StatusGate3Evaluated
	case c.Gate2Result != nil && c.Gate2Result.Passed:
		return StatusGate2Passed
	case c.Gate2Result != nil:
		return StatusGate2Failed
	case c.Gate1Result != nil && c.Gate1Result.Passed:
		return StatusGate1Passed
	case c.Gate1Result != nil:
		return StatusGate1Failed
	default:
		return StatusPending
	}
}

// ValidationSharpe returns the validation Sharpe of the longest-lookback
// result, the candidate's headline number for Gate1 ranking.
func (c *Candidate) ValidationSharpe() float64 {
	if len(c.PerLookback) == 0 {
		return 0
	}
	longest := 0
	for lb := range c.PerLookback {
		if lb > longest {
			longest = lb
		}
	}
	return c.PerLookback[longest].Validation.Sharpe
}

// attach sets a gate result exactly once.
func attach(slot **GateResult, result *GateResult) error {
	if *slot != nil {
		return fmt.Errorf("gates: %s result already recorded, results are append-only", result.Gate)
	}
	*slot = result
	return nil
}

// DeduplicateTopN sorts candidates by score descending, drops any whose
// fingerprint was already kept, and returns at most n.
func DeduplicateTopN(candidates []*Candidate, n int) []*Candidate {
	sorted := append([]*Candidate(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	kept := make([]*Candidate, 0, n)
	seen := make(map[string]struct{}, n)
	for _, c := range sorted {
		if len(kept) >= n {
			break
		}
		if _, dup := seen[c.Fingerprint]; dup {
			continue
		}
		seen[c.Fingerprint] = struct{}{}
		kept = append(kept, c)
	}
	return kept
}
