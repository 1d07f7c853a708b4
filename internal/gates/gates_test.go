package gates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratgate/stratgate/internal/guardrails"
	"github.com/stratgate/stratgate/internal/model"
	"github.com/stratgate/stratgate/internal/walkforward"
)

func healthyResult(sharpe float64) model.RunResult {
	m := model.Metrics{
		Sharpe: sharpe, AnnualizedReturn: 0.2, MaxDrawdown: -0.12,
		TradeCount: 100, ExposureRatio: 0.5, Turnover: 10,
	}
	train := m
	train.Sharpe = sharpe * 0.9
	return model.RunResult{
		Train:      train,
		Validation: m,
		Guardrails: &model.GuardrailChecks{Passed: true},
		Logic:      &model.LogicChecks{ParamsEffective: true, DeltaSharpe: 0.2},
	}
}

func makeCandidate(id string, score, valSharpe float64) *Candidate {
	return &Candidate{
		ID:          id,
		Params:      model.Params{"ma": score * 10},
		Fingerprint: "fp-" + id,
		Score:       score,
		PerLookback: map[int]model.RunResult{
			3:  healthyResult(valSharpe),
			6:  healthyResult(valSharpe),
			12: healthyResult(valSharpe),
		},
	}
}

func TestStatusDerivation(t *testing.T) {
	c := makeCandidate("a", 1.0, 1.0)
	assert.Equal(t, StatusPending, c.Status())

	c.Gate1Result = &GateResult{Gate: "gate1", Passed: false}
	assert.Equal(t, StatusGate1Failed, c.Status())

	c.Gate1Result = &GateResult{Gate: "gate1", Passed: true}
	assert.Equal(t, StatusGate1Passed, c.Status())

	c.Gate2Result = &GateResult{Gate: "gate2", Passed: true}
	assert.Equal(t, StatusGate2Passed, c.Status())

	c.Gate3Result = &GateResult{Gate: "gate3", Passed: true}
	assert.Equal(t, StatusGate3Evaluated, c.Status())
}

func TestGate1TopNThreshold(t *testing.T) {
	candidates := []*Candidate{
		makeCandidate("a", 3.0, 1.8),
		makeCandidate("b", 2.0, 1.4),
		makeCandidate("c", 1.0, 0.9),
	}

	err := CheckGate1(candidates, guardrails.DefaultConfig(), Gate1Config{TopN: 2})
	require.NoError(t, err)

	assert.True(t, candidates[0].Gate1Result.Passed)
	assert.True(t, candidates[1].Gate1Result.Passed)
	assert.False(t, candidates[2].Gate1Result.Passed, "below top-2 threshold")
	assert.NotEmpty(t, candidates[2].Gate1Result.Failures)
}

func TestGate1FailsOnMissingLogicEvidence(t *testing.T) {
	c := makeCandidate("a", 3.0, 1.8)
	for lb, r := range c.PerLookback {
		r.Logic = nil
		c.PerLookback[lb] = r
	}

	err := CheckGate1([]*Candidate{c}, guardrails.DefaultConfig(), Gate1Config{TopN: 1})
	require.NoError(t, err)
	assert.False(t, c.Gate1Result.Passed)
}

func TestGate1MDDConsistency(t *testing.T) {
	c := makeCandidate("a", 3.0, 1.8)
	r := c.PerLookback[3]
	r.Validation.MaxDrawdown = -0.40 // train is -0.12: far beyond 1.2x and floor
	c.PerLookback[3] = r

	err := CheckGate1([]*Candidate{c}, guardrails.DefaultConfig(), Gate1Config{TopN: 1})
	require.NoError(t, err)
	assert.False(t, c.Gate1Result.Passed)
}

func TestGate1EscapeHatchRequiresTestMode(t *testing.T) {
	c := makeCandidate("a", 3.0, 1.8)

	err := CheckGate1([]*Candidate{c}, guardrails.DefaultConfig(),
		Gate1Config{TopN: 1, SkipMDDCheck: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSafetyRail))
	assert.Nil(t, c.Gate1Result, "no result may be recorded on a safety-rail violation")

	// Same flags with test mode enabled are accepted.
	err = CheckGate1([]*Candidate{c}, guardrails.DefaultConfig(),
		Gate1Config{TopN: 1, SkipMDDCheck: true, SkipLogicCheck: true, TestMode: true})
	require.NoError(t, err)
	assert.True(t, c.Gate1Result.Passed)
}

func TestGate1ResultsAppendOnly(t *testing.T) {
	c := makeCandidate("a", 3.0, 1.8)
	require.NoError(t, CheckGate1([]*Candidate{c}, guardrails.DefaultConfig(), Gate1Config{TopN: 1}))

	err := CheckGate1([]*Candidate{c}, guardrails.DefaultConfig(), Gate1Config{TopN: 1})
	assert.Error(t, err, "re-checking gate1 must refuse to overwrite")
}

func TestGate2RequiresGate1(t *testing.T) {
	c := makeCandidate("a", 3.0, 1.8)
	err := CheckGate2(c, walkforward.Summary{StabilityScore: 2.0, WinRate: 1.0}, DefaultGate2Config())
	assert.Error(t, err)
}

func TestGate2Thresholds(t *testing.T) {
	testCases := []struct {
		name      string
		stability float64
		winRate   float64
		wantPass  bool
	}{
		{"both above", 1.5, 0.8, true},
		{"exactly at minimums", 1.0, 0.6, true},
		{"stability too low", 0.4, 0.8, false},
		{"win rate too low", 1.5, 0.5, false},
	}

	for _, tc := range testCases {
		c := makeCandidate("a", 3.0, 1.8)
		c.Gate1Result = &GateResult{Gate: "gate1", Passed: true}

		err := CheckGate2(c, walkforward.Summary{
			StabilityScore: tc.stability,
			WinRate:        tc.winRate,
		}, DefaultGate2Config())
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.wantPass, c.Gate2Result.Passed, tc.name)
	}
}

func TestGate3OrderingGuard(t *testing.T) {
	unsealCalled := false
	unseal := func(ctx context.Context, params model.Params) (model.RunResult, error) {
		unsealCalled = true
		r := healthyResult(1.2)
		heldout := r.Validation
		r.Test = &heldout
		return r, nil
	}

	// No gates passed at all.
	c := makeCandidate("a", 3.0, 1.8)
	require.NoError(t, CheckGate3(context.Background(), c, unseal, guardrails.DefaultConfig()))
	assert.False(t, c.Gate3Result.Passed)
	assert.NotEmpty(t, c.Gate3Result.Failures)
	assert.False(t, unsealCalled, "held-out evaluator must never run without gate1+gate2")

	// Gate1 passed but gate2 failed.
	c = makeCandidate("b", 3.0, 1.8)
	c.Gate1Result = &GateResult{Gate: "gate1", Passed: true}
	c.Gate2Result = &GateResult{Gate: "gate2", Passed: false}
	require.NoError(t, CheckGate3(context.Background(), c, unseal, guardrails.DefaultConfig()))
	assert.False(t, c.Gate3Result.Passed)
	assert.False(t, unsealCalled)
}

func TestGate3DisclosesAndFlagsDivergence(t *testing.T) {
	unseal := func(ctx context.Context, params model.Params) (model.RunResult, error) {
		r := healthyResult(1.2)
		r.Validation.Sharpe = -0.5 // poor validation
		heldout := r.Validation
		heldout.Sharpe = 2.4 // excellent held-out: classic leakage smell
		r.Test = &heldout
		return r, nil
	}

	c := makeCandidate("a", 3.0, 1.8)
	c.Gate1Result = &GateResult{Gate: "gate1", Passed: true}
	c.Gate2Result = &GateResult{Gate: "gate2", Passed: true}

	require.NoError(t, CheckGate3(context.Background(), c, unseal, guardrails.DefaultConfig()))
	require.NotNil(t, c.Gate3Result)
	assert.True(t, c.Gate3Result.Passed, "gate3 is informational, not a filter")
	assert.Equal(t, StatusGate3Evaluated, c.Status())

	found := false
	for _, w := range c.Gate3Result.Warnings {
		if strings.Contains(w, "overfitting or leakage") {
			found = true
		}
	}
	assert.True(t, found, "expected a divergence warning, got %v", c.Gate3Result.Warnings)
}

func TestGate3RequiresUnsealedResult(t *testing.T) {
	unseal := func(ctx context.Context, params model.Params) (model.RunResult, error) {
		return healthyResult(1.0), nil // forgot to attach held-out metrics
	}

	c := makeCandidate("a", 3.0, 1.8)
	c.Gate1Result = &GateResult{Gate: "gate1", Passed: true}
	c.Gate2Result = &GateResult{Gate: "gate2", Passed: true}

	err := CheckGate3(context.Background(), c, unseal, guardrails.DefaultConfig())
	assert.Error(t, err)
}

func TestGate3UnsealError(t *testing.T) {
	unseal := func(ctx context.Context, params model.Params) (model.RunResult, error) {
		return model.RunResult{}, fmt.Errorf("evaluator offline")
	}

	c := makeCandidate("a", 3.0, 1.8)
	c.Gate1Result = &GateResult{Gate: "gate1", Passed: true}
	c.Gate2Result = &GateResult{Gate: "gate2", Passed: true}

	err := CheckGate3(context.Background(), c, unseal, guardrails.DefaultConfig())
	assert.Error(t, err)
	assert.Nil(t, c.Gate3Result)
}

func TestDeduplicateTopN(t *testing.T) {
	candidates := []*Candidate{
		{ID: "a", Fingerprint: "f1", Score: 3.0},
		{ID: "b", Fingerprint: "f2", Score: 2.5},
		{ID: "c", Fingerprint: "f1", Score: 2.0}, // duplicate of a
		{ID: "d", Fingerprint: "f3", Score: 1.5},
		{ID: "e", Fingerprint: "f4", Score: 1.0},
		{ID: "f", Fingerprint: "f5", Score: 0.5},
		{ID: "g", Fingerprint: "f6", Score: 0.4},
	}

	kept := DeduplicateTopN(candidates, 5)
	require.Len(t, kept, 5)

	seen := map[string]bool{}
	for _, c := range kept {
		assert.False(t, seen[c.Fingerprint], "fingerprint %s kept twice", c.Fingerprint)
		seen[c.Fingerprint] = true
	}
	assert.Equal(t, "a", kept[0].ID, "highest-scoring duplicate wins")
	assert.Equal(t, 3.0, kept[0].Score)

	// Original slice order untouched.
	assert.Equal(t, "a", candidates[0].ID)
	assert.Equal(t, "c", candidates[2].ID)
}
