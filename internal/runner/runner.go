// Package runner drives one complete promotion attempt: period split,
// randomized trial loop, top-N selection, the three gates, and the manifest
// written at the end. The cache and the duplicate set live and die with the
// run; nothing leaks into the next attempt.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/stratgate/stratgate/internal/cache"
	"github.com/stratgate/stratgate/internal/calendar"
	"github.com/stratgate/stratgate/internal/eval"
	"github.com/stratgate/stratgate/internal/gates"
	"github.com/stratgate/stratgate/internal/guardrails"
	"github.com/stratgate/stratgate/internal/manifest"
	"github.com/stratgate/stratgate/internal/model"
	"github.com/stratgate/stratgate/internal/objective"
	"github.com/stratgate/stratgate/internal/period"
	"github.com/stratgate/stratgate/internal/store"
	"github.com/stratgate/stratgate/internal/telemetry"
	"github.com/stratgate/stratgate/internal/walkforward"
)

// Config is everything one run needs. Zero values fall back to the
// package defaults in New.
type Config struct {
	Seed    int64     `yaml:"seed" json:"seed"`
	NTrials int       `yaml:"n_trials" json:"n_trials"`
	TopN    int       `yaml:"top_n" json:"top_n"`
	Start   time.Time `yaml:"start" json:"start"`
	End     time.Time `yaml:"end" json:"end"`

	// TargetGate is how far the pipeline should push: 1 stops after
	// selection, 2 after stability confirmation, 3 unseals the held-out
	// period for the single best survivor.
	TargetGate int `yaml:"target_gate" json:"target_gate"`

	Split     period.SplitConfig     `yaml:"split" json:"split"`
	Objective objective.Config       `yaml:"objective" json:"objective"`
	Gate1     gates.Gate1Config      `yaml:"gate1" json:"gate1"`
	Gate2     gates.Gate2Config      `yaml:"gate2" json:"gate2"`
	Window    walkforward.WindowSpec `yaml:"window" json:"window"`
	Guards    guardrails.Config      `yaml:"guards" json:"guards"`
	Costs     model.CostConfig       `yaml:"costs" json:"costs"`
	Data      model.DataConfig       `yaml:"data" json:"data"`
	Universe  []string               `yaml:"universe" json:"universe"`
	Space     eval.SearchSpace       `yaml:"space" json:"space"`

	OutputDir     string `yaml:"output_dir" json:"output_dir"`
	CacheCapacity int    `yaml:"cache_capacity" json:"cache_capacity"`
}

// Result is what one run produced, independent of how it gets rendered.
type Result struct {
	RunID        string
	Stage        manifest.Stage
	ManifestPath string
	Candidates   []*gates.Candidate
	Best         *gates.Candidate
	WalkForward  *walkforward.Summary
	TrialTally   map[string]int
	CacheStats   cache.Stats
	Warnings     []string
}

// ReachedGate reports whether any candidate got through gate n.
func (r *Result) ReachedGate(n int) bool {
	switch n {
	case 1:
		return r.Stage == manifest.StageGate1Passed || r.ReachedGate(2)
	case 2:
		return r.Stage == manifest.StageGate2Passed || r.ReachedGate(3)
	case 3:
		return r.Stage == manifest.StageFinal
	default:
		return false
	}
}

// Runner owns the collaborators a run needs but does not consume.
type Runner struct {
	cfg       Config
	evaluator eval.Evaluator
	cal       *calendar.Calendar
	index     store.ManifestIndex
	metrics   *telemetry.Metrics
}

// New wires a runner. index and metrics may be nil; a nil index becomes a
// no-op and a nil metrics drops counters on the floor.
func New(cfg Config, evaluator eval.Evaluator, cal *calendar.Calendar,
	index store.ManifestIndex, metrics *telemetry.Metrics) (*Runner, error) {

	if cfg.NTrials <= 0 {
		return nil, fmt.Errorf("runner: n_trials must be positive, got %d", cfg.NTrials)
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 10
	}
	if cfg.TargetGate < 1 || cfg.TargetGate > 3 {
		cfg.TargetGate = 3
	}
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = 1024
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "artifacts/manifests"
	}
	if len(cfg.Space) == 0 {
		return nil, fmt.Errorf("runner: empty search space")
	}
	if index == nil {
		index = store.NewNop()
	}
	cfg.Gate1.TopN = cfg.TopN

	return &Runner{cfg: cfg, evaluator: evaluator, cal: cal, index: index, metrics: metrics}, nil
}

// Run executes the full pipeline and persists the manifest. The returned
// Result is populated even when no candidate survives; only setup and I/O
// problems surface as errors.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	runID := uuid.NewString()
	result := &Result{RunID: runID, Stage: manifest.StageTuning, TrialTally: map[string]int{}}

	pd, warnings, err := period.Build(r.cfg.Start, r.cfg.End, r.cfg.Split, r.cal, false)
	if err != nil {
		return nil, fmt.Errorf("runner: period split: %w", err)
	}
	result.Warnings = warnings

	resultCache := cache.New(r.cfg.CacheCapacity)
	defer resultCache.Clear()

	obj, err := objective.New(r.cfg.Objective, r.evaluator, resultCache, r.cal,
		r.cfg.Costs, r.cfg.Data, r.cfg.Universe, pd, r.cfg.Guards, r.metrics)
	if err != nil {
		return nil, fmt.Errorf("runner: objective: %w", err)
	}

	sampler, err := eval.NewRandomSampler(r.cfg.Space, r.cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("runner: sampler: %w", err)
	}

	log.Info().
		Str("run_id", runID).
		Int("n_trials", r.cfg.NTrials).
		Int64("seed", r.cfg.Seed).
		Str("train", pd.Train.String()).
		Str("validation", pd.Validation.String()).
		Msg("Search started, held-out period sealed")

	scored, bindings, tally, err := r.trialLoop(ctx, obj, sampler)
	if err != nil {
		return nil, err
	}
	result.TrialTally = tally

	top := gates.DeduplicateTopN(scored, r.cfg.TopN)
	result.Candidates = top
	if len(top) == 0 {
		log.Warn().Str("run_id", runID).Msg("No trial produced a usable score, nothing to gate")
		result.CacheStats = resultCache.Stats()
		return result, r.persist(ctx, result, bindings, nil)
	}

	if err := gates.CheckGate1(top, r.cfg.Guards, r.cfg.Gate1); err != nil {
		return nil, fmt.Errorf("runner: gate1: %w", err)
	}
	survivors := passing(top, 1)
	r.recordGateMetrics("gate1", top)
	if len(survivors) == 0 {
		log.Warn().Str("run_id", runID).Int("candidates", len(top)).
			Msg("Zero candidates passed Gate1")
		result.CacheStats = resultCache.Stats()
		return result, r.persist(ctx, result, bindings, nil)
	}
	result.Stage = manifest.StageGate1Passed
	if r.cfg.TargetGate == 1 {
		result.Best = survivors[0]
		result.CacheStats = resultCache.Stats()
		return result, r.persist(ctx, result, bindings, nil)
	}

	windows, err := walkforward.GenerateWindows(pd.Range.Start, pd.Range.End, r.cfg.Window, r.cal)
	if err != nil {
		return nil, fmt.Errorf("runner: walk-forward windows: %w", err)
	}
	wf := walkforward.NewRunner(r.evaluator, r.cfg.Costs, r.cal, r.cfg.Universe)

	var bestSummary *walkforward.Summary
	for _, c := range survivors {
		summary, err := wf.Run(ctx, c.Params, windows)
		if err != nil {
			return nil, fmt.Errorf("runner: walk-forward for %s: %w", c.ID, err)
		}
		if err := gates.CheckGate2(c, summary, r.cfg.Gate2); err != nil {
			return nil, fmt.Errorf("runner: gate2: %w", err)
		}
		if c.Gate2Result.Passed && bestSummary == nil {
			s := summary
			bestSummary = &s
		}
	}
	r.recordGateMetrics("gate2", survivors)
	result.WalkForward = bestSummary

	finalists := passing(survivors, 2)
	if len(finalists) == 0 {
		log.Warn().Str("run_id", runID).Int("gate1_survivors", len(survivors)).
			Msg("Zero candidates passed Gate2 stability confirmation")
		result.CacheStats = resultCache.Stats()
		return result, r.persist(ctx, result, bindings, nil)
	}
	result.Stage = manifest.StageGate2Passed
	result.Best = finalists[0]
	if r.cfg.TargetGate == 2 {
		result.CacheStats = resultCache.Stats()
		return result, r.persist(ctx, result, bindings, nil)
	}

	disclosed, err := r.unseal(ctx, result.Best)
	if err != nil {
		return nil, fmt.Errorf("runner: gate3: %w", err)
	}
	r.recordGateMetrics("gate3", []*gates.Candidate{result.Best})
	result.Stage = manifest.StageFinal

	result.CacheStats = resultCache.Stats()
	return result, r.persist(ctx, result, bindings, disclosed)
}

// trialLoop samples and evaluates NTrials parameter assignments. Scored
// outcomes become gate candidates; everything else is tallied and dropped.
func (r *Runner) trialLoop(ctx context.Context, obj *objective.Objective,
	sampler *eval.RandomSampler) ([]*gates.Candidate, map[string]int, map[string]int, error) {

	var scored []*gates.Candidate
	bindings := make(map[string]int)
	tally := make(map[string]int)

	for i := 0; i < r.cfg.NTrials; i++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, nil, fmt.Errorf("runner: trial loop interrupted: %w", err)
		}

		outcome := obj.EvaluateTrial(ctx, sampler.Sample())
		tally[string(outcome.Kind)]++
		if !outcome.Scored() {
			if outcome.Kind == objective.OutcomeFailed {
				// Integrity and sealing faults mean every number already
				// produced is suspect; the run stops here, no manifest.
				if errors.Is(outcome.Err, cache.ErrIntegrity) || errors.Is(outcome.Err, objective.ErrSealing) {
					return nil, nil, nil, fmt.Errorf("runner: trial %d integrity fault, aborting run: %w", i, outcome.Err)
				}
				log.Error().Err(outcome.Err).Int("trial", i).Msg("Trial evaluation failed")
			}
			continue
		}

		scored = append(scored, &gates.Candidate{
			ID:          fmt.Sprintf("trial_%04d", i),
			Params:      outcome.Params,
			Fingerprint: outcome.Fingerprint,
			Score:       outcome.Score,
			PerLookback: outcome.PerLookback,
		})
		bindings[outcome.Fingerprint] = outcome.BindingLookback
	}

	return scored, bindings, tally, nil
}

// unseal discloses the held-out period for the single best Gate2 survivor
// and hands Gate3 the full three-way result.
func (r *Runner) unseal(ctx context.Context, c *gates.Candidate) (*model.RunResult, error) {
	unsealed, _, err := period.Build(r.cfg.Start, r.cfg.End, r.cfg.Split, r.cal, true)
	if err != nil {
		return nil, fmt.Errorf("unsealed period: %w", err)
	}

	var disclosed *model.RunResult
	unsealFn := func(ctx context.Context, params model.Params) (model.RunResult, error) {
		train, err := r.evaluator.Evaluate(ctx, params, unsealed.Train.Start, unsealed.Train.End,
			r.cfg.Costs, r.cal, r.cfg.Universe)
		if err != nil {
			return model.RunResult{}, fmt.Errorf("train: %w", err)
		}
		val, err := r.evaluator.Evaluate(ctx, params, unsealed.Validation.Start, unsealed.Validation.End,
			r.cfg.Costs, r.cal, r.cfg.Universe)
		if err != nil {
			return model.RunResult{}, fmt.Errorf("validation: %w", err)
		}
		heldout, err := r.evaluator.Evaluate(ctx, params, unsealed.Test.Start, unsealed.Test.End,
			r.cfg.Costs, r.cal, r.cfg.Universe)
		if err != nil {
			return model.RunResult{}, fmt.Errorf("held-out: %w", err)
		}

		rr := model.RunResult{Train: train, Validation: val, Test: &heldout}
		disclosed = &rr
		return rr, nil
	}

	if err := gates.CheckGate3(ctx, c, unsealFn, r.cfg.Guards); err != nil {
		return nil, err
	}
	if c.Gate3Result == nil || !c.Gate3Result.Passed {
		return nil, fmt.Errorf("gate ordering violated for %s", c.ID)
	}
	return disclosed, nil
}

// persist assembles and saves the manifest, then indexes it.
func (r *Runner) persist(ctx context.Context, result *Result,
	bindings map[string]int, disclosed *model.RunResult) error {

	cfgSection := manifest.ConfigSection{
		Seed:      r.cfg.Seed,
		NTrials:   r.cfg.NTrials,
		TopN:      r.cfg.TopN,
		DateStart: r.cfg.Start.Format("2006-01-02"),
		DateEnd:   r.cfg.End.Format("2006-01-02"),
		Split:     r.cfg.Split,
		Objective: r.cfg.Objective,
		Gate2:     r.cfg.Gate2,
		Window:    r.cfg.Window,
		Guards:    r.cfg.Guards,
		Costs:     r.cfg.Costs,
		Universe:  r.cfg.Universe,
	}

	results := manifest.ResultsSection{WalkForward: result.WalkForward}
	for _, c := range result.Candidates {
		results.Candidates = append(results.Candidates, manifest.CandidateSummary{
			ID:          c.ID,
			Fingerprint: c.Fingerprint,
			Score:       c.Score,
			Status:      c.Status(),
		})
	}
	if best := result.Best; best != nil {
		metrics := longestLookbackResult(best.PerLookback)
		if result.Stage == manifest.StageFinal && disclosed != nil {
			metrics.Test = disclosed.Test
		}
		results.BestTrial = &manifest.BestTrial{
			Params:          best.Params,
			Fingerprint:     best.Fingerprint,
			Score:           best.Score,
			BindingLookback: bindings[best.Fingerprint],
			Metrics:         metrics,
			PerLookback:     best.PerLookback,
		}
	}

	health := manifest.EngineHealth{Cache: result.CacheStats, Trials: result.TrialTally}

	m, err := manifest.New(result.Stage, result.RunID, cfgSection, r.cfg.Data, results, health)
	if err != nil {
		return fmt.Errorf("runner: manifest: %w", err)
	}
	path, err := manifest.Save(m, r.cfg.OutputDir)
	if err != nil {
		return fmt.Errorf("runner: manifest save: %w", err)
	}
	result.ManifestPath = path

	if err := r.index.Record(ctx, m, path); err != nil {
		log.Error().Err(err).Str("manifest_id", m.ID()).Msg("Manifest index record failed")
	}
	return nil
}

func (r *Runner) recordGateMetrics(gate string, candidates []*gates.Candidate) {
	if r.metrics == nil {
		return
	}
	for _, c := range candidates {
		var res *gates.GateResult
		switch gate {
		case "gate1":
			res = c.Gate1Result
		case "gate2":
			res = c.Gate2Result
		case "gate3":
			res = c.Gate3Result
		}
		if res != nil {
			r.metrics.RecordGate(gate, res.Passed)
		}
	}
}

// passing filters candidates whose gate n result is recorded and passing,
// preserving score order.
func passing(candidates []*gates.Candidate, gate int) []*gates.Candidate {
	var out []*gates.Candidate
	for _, c := range candidates {
		var res *gates.GateResult
		if gate == 1 {
			res = c.Gate1Result
		} else {
			res = c.Gate2Result
		}
		if res != nil && res.Passed {
			out = append(out, c)
		}
	}
	return out
}

func longestLookbackResult(perLookback map[int]model.RunResult) model.RunResult {
	longest := 0
	for lb := range perLookback {
		if lb > longest {
			longest = lb
		}
	}
	return perLookback[longest]
}
