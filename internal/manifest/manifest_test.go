package manifest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratgate/stratgate/internal/cache"
	"github.com/stratgate/stratgate/internal/calendar"
	"github.com/stratgate/stratgate/internal/eval"
	"github.com/stratgate/stratgate/internal/gates"
	"github.com/stratgate/stratgate/internal/guardrails"
	"github.com/stratgate/stratgate/internal/model"
	"github.com/stratgate/stratgate/internal/objective"
	"github.com/stratgate/stratgate/internal/period"
	"github.com/stratgate/stratgate/internal/walkforward"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func testConfig() ConfigSection {
	return ConfigSection{
		Seed:      4242,
		NTrials:   50,
		TopN:      5,
		DateStart: "2019-01-01",
		DateEnd:   "2023-12-31",
		Split:     period.DefaultSplitConfig(),
		Objective: objective.DefaultConfig(),
		Gate2:     gates.DefaultGate2Config(),
		Window:    walkforward.DefaultWindowSpec(),
		Guards:    guardrails.DefaultConfig(),
		Costs:     model.DefaultCostConfig(),
		Universe:  []string{"BTCUSD", "ETHUSD"},
	}
}

func testData() model.DataConfig {
	return model.DataConfig{DatasetVersion: "v7", UniverseHash: "deadbeef", Source: "test"}
}

// buildScoredTrial runs a real objective trial so the manifest carries
// genuinely reproducible numbers.
func buildScoredTrial(t *testing.T, seed int64) (*BestTrial, *calendar.Calendar) {
	t.Helper()

	cal, err := calendar.NewWeekdays(day(2018, 1, 1), day(2024, 12, 31))
	require.NoError(t, err)

	pd, _, err := period.Build(day(2019, 1, 1), day(2023, 12, 31), period.DefaultSplitConfig(), cal, false)
	require.NoError(t, err)

	obj, err := objective.New(objective.DefaultConfig(), eval.NewSynthetic(seed), cache.New(64),
		cal, model.DefaultCostConfig(), testData(), []string{"BTCUSD", "ETHUSD"}, pd,
		guardrails.DefaultConfig(), nil)
	require.NoError(t, err)

	params := model.Params{"ma": 60, "stop": 2.5}
	outcome := obj.EvaluateTrial(context.Background(), params)
	require.Equal(t, objective.OutcomeScored, outcome.Kind, "fixture trial must score: %s %v", outcome.Reason, outcome.Err)

	return &BestTrial{
		Params:          outcome.Params,
		Fingerprint:     outcome.Fingerprint,
		Score:           outcome.Score,
		BindingLookback: outcome.BindingLookback,
		Metrics:         outcome.PerLookback[outcome.BindingLookback],
		PerLookback:     outcome.PerLookback,
	}, cal
}

func TestNewRejectsSealedViolation(t *testing.T) {
	heldout := model.Metrics{Sharpe: 1.0}
	trial := &BestTrial{Metrics: model.RunResult{Test: &heldout}}

	_, err := New(StageTuning, "run-1", testConfig(), testData(),
		ResultsSection{BestTrial: trial}, EngineHealth{})
	require.Error(t, err)

	// Final stage may carry disclosed metrics.
	_, err = New(StageFinal, "run-1", testConfig(), testData(),
		ResultsSection{BestTrial: trial}, EngineHealth{})
	assert.NoError(t, err)
}

func TestNewRejectsUnknownStage(t *testing.T) {
	_, err := New(Stage("promoted"), "run-1", testConfig(), testData(), ResultsSection{}, EngineHealth{})
	assert.Error(t, err)
}

func TestManifestIDShape(t *testing.T) {
	m, err := New(StageGate2Passed, "run-9", testConfig(), testData(), ResultsSection{}, EngineHealth{})
	require.NoError(t, err)

	id := m.ID()
	assert.Contains(t, id, "gate2_passed_")
	assert.Equal(t, m.ID(), id, "id must be stable across calls")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	trial, _ := buildScoredTrial(t, 4242)
	m, err := New(StageTuning, "run-rt", testConfig(), testData(),
		ResultsSection{BestTrial: trial}, EngineHealth{Trials: map[string]int{"scored": 1}})
	require.NoError(t, err)

	path, err := Save(m, dir)
	require.NoError(t, err)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, m.RunID, loaded.RunID)
	assert.Equal(t, m.Stage, loaded.Stage)
	assert.Equal(t, m.Config.Seed, loaded.Config.Seed)
	require.NotNil(t, loaded.Results.BestTrial)
	assert.InDelta(t, trial.Score, loaded.Results.BestTrial.Score, 1e-12)
	assert.Len(t, loaded.Results.BestTrial.PerLookback, len(trial.PerLookback))
}

func TestSaveIsWriteOnce(t *testing.T) {
	dir := t.TempDir()

	m, err := New(StageTuning, "run-wo", testConfig(), testData(), ResultsSection{}, EngineHealth{})
	require.NoError(t, err)

	_, err = Save(m, dir)
	require.NoError(t, err)
	_, err = Save(m, dir)
	assert.Error(t, err, "second save of the same record must refuse")
}

func TestReplayIdempotent(t *testing.T) {
	dir := t.TempDir()

	trial, cal := buildScoredTrial(t, 4242)
	m, err := New(StageTuning, "run-replay", testConfig(), testData(),
		ResultsSection{BestTrial: trial}, EngineHealth{})
	require.NoError(t, err)

	path, err := Save(m, dir)
	require.NoError(t, err)

	factory := func(seed int64) eval.Evaluator { return eval.NewSynthetic(seed) }
	report, err := Replay(context.Background(), path, 1e-6, factory, cal)
	require.NoError(t, err)
	assert.True(t, report.Passed, "deterministic evaluator must replay exactly: %+v", report.Diffs)
	assert.Greater(t, report.CheckedFields, 10)
}

// thinTapeEvaluator is deterministic and trades too thinly for the default
// guardrails, but clears a loosened minimum.
type thinTapeEvaluator struct{}

func (thinTapeEvaluator) Evaluate(ctx context.Context, params model.Params, start, end time.Time,
	costs model.CostConfig, cal *calendar.Calendar, universe []string) (model.Metrics, error) {
	return model.Metrics{
		Sharpe:           1.0 + params["ma"]/1000,
		AnnualizedReturn: 0.2,
		MaxDrawdown:      -0.05,
		TradeCount:       20,
		ExposureRatio:    0.5,
		Turnover:         5,
		WinRate:          0.55,
		Bars:             150,
	}, nil
}

func TestReplayUsesRecordedGuardrails(t *testing.T) {
	dir := t.TempDir()

	cal, err := calendar.NewWeekdays(day(2018, 1, 1), day(2024, 12, 31))
	require.NoError(t, err)
	pd, _, err := period.Build(day(2019, 1, 1), day(2023, 12, 31), period.DefaultSplitConfig(), cal, false)
	require.NoError(t, err)

	guards := guardrails.DefaultConfig()
	guards.Guardrails.MinTradeCount = 10

	obj, err := objective.New(objective.DefaultConfig(), thinTapeEvaluator{}, cache.New(64),
		cal, model.DefaultCostConfig(), testData(), []string{"BTCUSD", "ETHUSD"}, pd, guards, nil)
	require.NoError(t, err)

	outcome := obj.EvaluateTrial(context.Background(), model.Params{"ma": 60, "stop": 2.5})
	require.Equal(t, objective.OutcomeScored, outcome.Kind,
		"trial must score under the loosened thresholds: %s", outcome.Reason)

	cfg := testConfig()
	cfg.Guards = guards
	trial := &BestTrial{
		Params:          outcome.Params,
		Fingerprint:     outcome.Fingerprint,
		Score:           outcome.Score,
		BindingLookback: outcome.BindingLookback,
		Metrics:         outcome.PerLookback[outcome.BindingLookback],
		PerLookback:     outcome.PerLookback,
	}
	m, err := New(StageTuning, "run-guards", cfg, testData(),
		ResultsSection{BestTrial: trial}, EngineHealth{})
	require.NoError(t, err)

	path, err := Save(m, dir)
	require.NoError(t, err)

	// The trial would be pruned under the default thresholds; replay must
	// apply the recorded ones and reproduce the score.
	factory := func(seed int64) eval.Evaluator { return thinTapeEvaluator{} }
	report, err := Replay(context.Background(), path, 1e-6, factory, cal)
	require.NoError(t, err)
	assert.True(t, report.Passed, "reason=%s diffs=%+v", report.Reason, report.Diffs)
	assert.Empty(t, report.Reason)
}

func TestReplayFailsOnPerturbedSeed(t *testing.T) {
	dir := t.TempDir()

	trial, cal := buildScoredTrial(t, 4242)
	m, err := New(StageTuning, "run-perturb", testConfig(), testData(),
		ResultsSection{BestTrial: trial}, EngineHealth{})
	require.NoError(t, err)

	path, err := Save(m, dir)
	require.NoError(t, err)

	// Tamper with the stored seed on disk.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	var cfg ConfigSection
	require.NoError(t, json.Unmarshal(raw["config"], &cfg))
	cfg.Seed++
	cfgJSON, err := json.Marshal(cfg)
	require.NoError(t, err)
	raw["config"] = cfgJSON
	tampered, err := json.Marshal(raw)
	require.NoError(t, err)
	tamperedPath := filepath.Join(dir, "tampered.json")
	require.NoError(t, os.WriteFile(tamperedPath, tampered, 0o644))

	factory := func(seed int64) eval.Evaluator { return eval.NewSynthetic(seed) }
	report, err := Replay(context.Background(), tamperedPath, 1e-6, factory, cal)
	require.NoError(t, err)
	assert.False(t, report.Passed, "a perturbed seed must break replay")
}
