// Package objective scores one search trial at a time: sample, deduplicate,
// evaluate across independent lookback windows, guard, and combine into a
// single scalar for the external search mechanism.
//
// The absolute rule of this package: it never requests or reads a held-out
// (test) metric. Every RunResult it produces or consumes must be sealed.
package objective

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/stratgate/stratgate/internal/cache"
	"github.com/stratgate/stratgate/internal/calendar"
	"github.com/stratgate/stratgate/internal/eval"
	"github.com/stratgate/stratgate/internal/guardrails"
	"github.com/stratgate/stratgate/internal/model"
	"github.com/stratgate/stratgate/internal/period"
	"github.com/stratgate/stratgate/internal/telemetry"
)

// ErrSealing marks observation of a held-out metric before Gate3. This is a
// programming-error class fault: the run must abort, downstream output is
// untrustworthy.
var ErrSealing = errors.New("objective: held-out metrics observed before gate3")

// CombineMode selects how per-lookback scores merge into one trial score.
type CombineMode string

const (
	// CombineMin takes the worst lookback score (conservative default).
	CombineMin CombineMode = "min"
	// CombineMeanStd takes mean - K*std across lookbacks (balanced).
	CombineMeanStd CombineMode = "mean_std"
)

// Config tunes the objective.
type Config struct {
	Lookbacks    []int       `yaml:"lookbacks" json:"lookbacks"` // months
	Combine      CombineMode `yaml:"combine" json:"combine"`
	CombineK     float64     `yaml:"combine_k" json:"combine_k"`
	MDDThreshold float64     `yaml:"mdd_threshold" json:"mdd_threshold"` // abs fraction
	PenaltySlope float64     `yaml:"penalty_slope" json:"penalty_slope"`

	// LogicDelta is the minimum validation-Sharpe difference versus the
	// neutral baseline for parameters to count as effective.
	LogicDelta float64 `yaml:"logic_delta" json:"logic_delta"`
}

// DefaultConfig returns the standard objective settings.
func DefaultConfig() Config {
	return Config{
		Lookbacks:    []int{3, 6, 12},
		Combine:      CombineMin,
		CombineK:     0.5,
		MDDThreshold: 0.20,
		PenaltySlope: 2.0,
		LogicDelta:   0.05,
	}
}

// Objective wraps one evaluation trial end to end.
type Objective struct {
	cfg       Config
	evaluator eval.Evaluator
	store     *cache.ResultCache
	cal       *calendar.Calendar
	costs     model.CostConfig
	data      model.DataConfig
	universe  []string
	basePd    period.Period
	guards    guardrails.Config
	metrics   *telemetry.Metrics

	// seen is scoped to one search run, not process-wide.
	seen map[string]struct{}
}

// New builds an Objective for one search run. basePd must be a sealed
// period (Test nil); passing an unsealed period is refused outright.
func New(cfg Config, evaluator eval.Evaluator, store *cache.ResultCache,
	cal *calendar.Calendar, costs model.CostConfig, data model.DataConfig,
	universe []string, basePd period.Period, guards guardrails.Config,
	metrics *telemetry.Metrics) (*Objective, error) {

	if basePd.Test != nil {
		return nil, fmt.Errorf("%w: search period carries a test range", ErrSealing)
	}
	if len(cfg.Lookbacks) == 0 {
		return nil, fmt.Errorf("objective: no lookbacks configured")
	}
	lbs := append([]int(nil), cfg.Lookbacks...)
	sort.Ints(lbs)
	if lbs[0] <= 0 {
		return nil, fmt.Errorf("objective: non-positive lookback %d", lbs[0])
	}
	cfg.Lookbacks = lbs
	if cfg.Combine == "" {
		cfg.Combine = CombineMin
	}

	return &Objective{
		cfg:       cfg,
		evaluator: evaluator,
		store:     store,
		cal:       cal,
		costs:     costs,
		data:      data,
		universe:  universe,
		basePd:    basePd,
		guards:    guards,
		metrics:   metrics,
		seen:      make(map[string]struct{}),
	}, nil
}

// EvaluateTrial runs one trial for the sampled params. Duplicate
// fingerprints short-circuit before any evaluator call; guardrail failures
// abandon the trial with the sentinel score.
func (o *Objective) EvaluateTrial(ctx context.Context, params model.Params) TrialOutcome {
	fp := cache.Fingerprint(params)

	if _, dup := o.seen[fp]; dup {
		o.metrics.RecordTrial(string(OutcomeDuplicate))
		log.Debug().Str("fingerprint", fp).Msg("Duplicate trial pruned")
		return TrialOutcome{Kind: OutcomeDuplicate, Fingerprint: fp, Params: params,
			Reason: "parameter fingerprint already evaluated this run"}
	}
	o.seen[fp] = struct{}{}

	perLookback := make(map[int]model.RunResult, len(o.cfg.Lookbacks))
	scores := make(map[int]float64, len(o.cfg.Lookbacks))

	for _, lb := range o.cfg.Lookbacks {
		result, err := o.runResult(ctx, params, fp, lb)
		if err != nil {
			if errors.Is(err, cache.ErrIntegrity) || errors.Is(err, ErrSealing) {
				// Integrity faults are not trial-local; propagate as failed
				// and let the orchestrator abort.
				o.metrics.RecordIntegrityFault()
				o.metrics.RecordTrial(string(OutcomeFailed))
				return TrialOutcome{Kind: OutcomeFailed, Fingerprint: fp, Params: params, Err: err}
			}
			o.metrics.RecordTrial(string(OutcomeFailed))
			log.Warn().Err(err).Str("fingerprint", fp).Int("lookback", lb).
				Msg("Trial evaluator call failed, trial abandoned")
			return TrialOutcome{Kind: OutcomeFailed, Fingerprint: fp, Params: params,
				Err: fmt.Errorf("lookback %dm: %w", lb, err)}
		}

		perLookback[lb] = result

		if !result.Guardrails.Passed {
			o.metrics.RecordTrial(string(OutcomePruned))
			return TrialOutcome{
				Kind: OutcomePruned, Score: SentinelScore,
				Fingerprint: fp, Params: params, PerLookback: perLookback,
				Reason: fmt.Sprintf("guardrails failed at lookback %dm: %v", lb, result.Guardrails.Failures),
			}
		}
		if flags := guardrails.DetectAnomalies(result, o.guards.Anomalies); guardrails.HasCritical(flags) {
			o.metrics.RecordTrial(string(OutcomePruned))
			return TrialOutcome{
				Kind: OutcomePruned, Score: SentinelScore,
				Fingerprint: fp, Params: params, PerLookback: perLookback,
				Reason: fmt.Sprintf("critical anomaly at lookback %dm", lb),
			}
		}

		scores[lb] = o.scoreLookback(result)
	}

	combined, binding := o.combine(scores)
	o.metrics.RecordTrial(string(OutcomeScored))

	return TrialOutcome{
		Kind: OutcomeScored, Score: combined,
		Fingerprint: fp, Params: params,
		PerLookback: perLookback, BindingLookback: binding,
	}
}

// LookbackRange clips dr to its trailing months, snapped to the calendar.
// Longer lookbacks start earlier and never use fewer bars.
func LookbackRange(dr period.DateRange, months int, cal *calendar.Calendar) (period.DateRange, error) {
	start := dr.End.AddDate(0, -months, 0).AddDate(0, 0, 1)
	if start.Before(dr.Start) {
		start = dr.Start
	}
	snapped, err := period.SnapStart(start, cal)
	if err != nil {
		return period.DateRange{}, err
	}
	if snapped.After(dr.End) {
		return period.DateRange{}, fmt.Errorf("%w: lookback %dm empty within %s",
			period.ErrInvalidRange, months, dr)
	}
	return period.DateRange{Start: snapped, End: dr.End}, nil
}

// runResult produces the sealed RunResult for one lookback, via cache when
// possible. Cached results are integrity-checked against the recomputed
// parameter fingerprint; a mismatch aborts the run.
func (o *Objective) runResult(ctx context.Context, params model.Params, fp string, lookback int) (model.RunResult, error) {
	trainRange, err := LookbackRange(o.basePd.Train, lookback, o.cal)
	if err != nil {
		return model.RunResult{}, fmt.Errorf("train lookback: %w", err)
	}
	valRange, err := LookbackRange(o.basePd.Validation, lookback, o.cal)
	if err != nil {
		return model.RunResult{}, fmt.Errorf("validation lookback: %w", err)
	}

	pd := period.Period{Range: o.basePd.Range, Train: trainRange, Validation: valRange}
	key := cache.DeriveKey(cache.KeyInputs{
		Params: params, LookbackMonths: lookback,
		Period: pd, Costs: o.costs, Data: o.data,
	})

	if cached, hit, err := o.store.Get(key, fp); err != nil {
		return model.RunResult{}, err
	} else if hit {
		o.metrics.RecordCache(true)
		if cached.Test != nil {
			return model.RunResult{}, fmt.Errorf("%w: cached result for key %s", ErrSealing, key)
		}
		if cached.Debug != nil {
			cached.Debug.CacheHit = true
		}
		return cached, nil
	}
	o.metrics.RecordCache(false)

	trainM, err := o.evaluate(ctx, params, trainRange)
	if err != nil {
		return model.RunResult{}, fmt.Errorf("train eval: %w", err)
	}
	valM, err := o.evaluate(ctx, params, valRange)
	if err != nil {
		return model.RunResult{}, fmt.Errorf("validation eval: %w", err)
	}

	logic, err := o.logicChecks(ctx, valRange, valM)
	if err != nil {
		return model.RunResult{}, fmt.Errorf("logic check eval: %w", err)
	}

	// MDD consistency is deliberately not folded in here; Gate1 owns that
	// cross-period check so its escape hatch can bypass it in test mode.
	checks := guardrails.Check(valM, o.guards.Guardrails)

	result := model.RunResult{
		Train:      trainM,
		Validation: valM,
		Guardrails: &checks,
		Logic:      logic,
		Debug: &model.DebugInfo{
			Period:         pd,
			LookbackMonths: lookback,
			ContentHash:    key,
			Fingerprint:    fp,
		},
	}

	o.store.Set(key, fp, result)
	return result, nil
}

// logicChecks evaluates the neutral baseline over the same validation range
// and records whether the sampled parameters actually moved the outcome.
func (o *Objective) logicChecks(ctx context.Context, valRange period.DateRange, valM model.Metrics) (*model.LogicChecks, error) {
	baseM, err := o.evaluate(ctx, model.Params{}, valRange)
	if err != nil {
		return nil, err
	}
	delta := valM.Sharpe - baseM.Sharpe
	return &model.LogicChecks{
		ParamsEffective: math.Abs(delta) >= o.cfg.LogicDelta,
		BaselineSharpe:  baseM.Sharpe,
		DeltaSharpe:     delta,
	}, nil
}

func (o *Objective) evaluate(ctx context.Context, params model.Params, dr period.DateRange) (model.Metrics, error) {
	o.metrics.RecordEvaluatorCall()
	return o.evaluator.Evaluate(ctx, params, dr.Start, dr.End, o.costs, o.cal, o.universe)
}

// scoreLookback is validation Sharpe minus a linear-above-threshold
// drawdown penalty.
func (o *Objective) scoreLookback(r model.RunResult) float64 {
	return r.Validation.Sharpe - Penalty(math.Abs(r.Validation.MaxDrawdown), o.cfg.MDDThreshold, o.cfg.PenaltySlope)
}

// Penalty is zero below the drawdown threshold and linear above it.
func Penalty(absMDD, threshold, slope float64) float64 {
	if absMDD <= threshold {
		return 0
	}
	return slope * (absMDD - threshold)
}

// combine merges per-lookback scores. Under the min combiner, ties at the
// minimum resolve to the longest lookback: iterating ascending and replacing
// on <= means the last (longest) tied lookback wins.
func (o *Objective) combine(scores map[int]float64) (float64, int) {
	lbs := make([]int, 0, len(scores))
	for lb := range scores {
		lbs = append(lbs, lb)
	}
	sort.Ints(lbs)

	switch o.cfg.Combine {
	case CombineMeanStd:
		vals := make([]float64, 0, len(lbs))
		for _, lb := range lbs {
			vals = append(vals, scores[lb])
		}
		m := meanOf(vals)
		return m - o.cfg.CombineK*stddevOf(vals, m), lbs[len(lbs)-1]
	default:
		best := math.Inf(1)
		binding := 0
		for _, lb := range lbs {
			if scores[lb] <= best {
				best = scores[lb]
				binding = lb
			}
		}
		return best, binding
	}
}

// SeenCount returns the number of distinct fingerprints this run has tried.
func (o *Objective) SeenCount() int { return len(o.seen) }

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddevOf(xs []float64, m float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}
