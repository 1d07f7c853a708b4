// Package walkforward slides a fixed-width (train, validation, out-of-sample)
// window across a date range and aggregates out-of-sample performance into
// stability statistics. Parameters are fixed for the whole sweep; windows
// are never re-optimized individually.
package walkforward

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stratgate/stratgate/internal/calendar"
	"github.com/stratgate/stratgate/internal/eval"
	"github.com/stratgate/stratgate/internal/model"
	"github.com/stratgate/stratgate/internal/period"
)

// stabilityEpsilon keeps the stability ratio bounded when the out-of-sample
// Sharpe series has near-zero variance.
const stabilityEpsilon = 0.1

// WindowSpec configures window generation, all widths in months.
type WindowSpec struct {
	TrainMonths  int `yaml:"train_months" json:"train_months"`
	ValMonths    int `yaml:"val_months" json:"val_months"`
	OOSMonths    int `yaml:"oos_months" json:"oos_months"`
	StrideMonths int `yaml:"stride_months" json:"stride_months"`
}

// DefaultWindowSpec returns the standard 12/3/3 window advancing 3 months
// per step.
func DefaultWindowSpec() WindowSpec {
	return WindowSpec{TrainMonths: 12, ValMonths: 3, OOSMonths: 3, StrideMonths: 3}
}

func (s WindowSpec) validate() error {
	if s.TrainMonths <= 0 || s.ValMonths <= 0 || s.OOSMonths <= 0 || s.StrideMonths <= 0 {
		return fmt.Errorf("walkforward: all window widths must be positive, got %+v", s)
	}
	return nil
}

// Window is one (train, validation, out-of-sample) triple, each sub-range
// snapped independently onto the trading calendar.
type Window struct {
	Index      int              `json:"index"`
	Train      period.DateRange `json:"train"`
	Validation period.DateRange `json:"validation"`
	OutSample  period.DateRange `json:"out_sample"`
}

// GenerateWindows emits windows starting at start and advancing by the
// stride until the next window's out-of-sample end would exceed end. No
// partial or overflowing window is ever emitted.
func GenerateWindows(start, end time.Time, spec WindowSpec, cal *calendar.Calendar) ([]Window, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: %s..%s", period.ErrInvalidRange,
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	var windows []Window
	for cursor := start; ; cursor = cursor.AddDate(0, spec.StrideMonths, 0) {
		trainEnd := cursor.AddDate(0, spec.TrainMonths, 0).AddDate(0, 0, -1)
		valStart := trainEnd.AddDate(0, 0, 1)
		valEnd := valStart.AddDate(0, spec.ValMonths, 0).AddDate(0, 0, -1)
		oosStart := valEnd.AddDate(0, 0, 1)
		oosEnd := oosStart.AddDate(0, spec.OOSMonths, 0).AddDate(0, 0, -1)

		if oosEnd.After(end) {
			break
		}

		w := Window{Index: len(windows)}
		var err error
		if w.Train, err = snap(cursor, trainEnd, cal); err != nil {
			return nil, fmt.Errorf("window %d train: %w", w.Index, err)
		}
		if w.Validation, err = snap(valStart, valEnd, cal); err != nil {
			return nil, fmt.Errorf("window %d validation: %w", w.Index, err)
		}
		if w.OutSample, err = snap(oosStart, oosEnd, cal); err != nil {
			return nil, fmt.Errorf("window %d out-of-sample: %w", w.Index, err)
		}
		windows = append(windows, w)
	}

	return windows, nil
}

func snap(start, end time.Time, cal *calendar.Calendar) (period.DateRange, error) {
	s, err := period.SnapStart(start, cal)
	if err != nil {
		return period.DateRange{}, err
	}
	e, err := period.SnapEnd(end, cal)
	if err != nil {
		return period.DateRange{}, err
	}
	if e.Before(s) {
		return period.DateRange{}, fmt.Errorf("%w: no trading days in %s..%s",
			period.ErrInvalidRange, start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	return period.DateRange{Start: s, End: e}, nil
}

// WindowResult holds the three evaluations of one window.
type WindowResult struct {
	Window     Window        `json:"window"`
	Train      model.Metrics `json:"train"`
	Validation model.Metrics `json:"validation"`
	OutSample  model.Metrics `json:"out_sample"`
}

// Summary aggregates a full walk-forward sweep.
type Summary struct {
	Windows        []WindowResult `json:"windows"`
	OOSSharpes     []float64      `json:"oos_sharpes"`
	StabilityScore float64        `json:"stability_score"`
	WinRate        float64        `json:"win_rate"`
	MeanOOSSharpe  float64        `json:"mean_oos_sharpe"`
}

// Runner evaluates windows against a fixed evaluation context.
type Runner struct {
	evaluator eval.Evaluator
	costs     model.CostConfig
	cal       *calendar.Calendar
	universe  []string
}

// NewRunner builds a walk-forward runner.
func NewRunner(evaluator eval.Evaluator, costs model.CostConfig, cal *calendar.Calendar, universe []string) *Runner {
	return &Runner{evaluator: evaluator, costs: costs, cal: cal, universe: universe}
}

// Run evaluates every window's three sub-ranges with the same fixed
// parameter set and aggregates out-of-sample stability statistics.
func (r *Runner) Run(ctx context.Context, params model.Params, windows []Window) (Summary, error) {
	if len(windows) == 0 {
		return Summary{}, fmt.Errorf("walkforward: no windows to evaluate")
	}

	summary := Summary{
		Windows:    make([]WindowResult, 0, len(windows)),
		OOSSharpes: make([]float64, 0, len(windows)),
	}

	for _, w := range windows {
		wr := WindowResult{Window: w}
		var err error

		if wr.Train, err = r.evaluate(ctx, params, w.Train); err != nil {
			return Summary{}, fmt.Errorf("window %d train eval: %w", w.Index, err)
		}
		if wr.Validation, err = r.evaluate(ctx, params, w.Validation); err != nil {
			return Summary{}, fmt.Errorf("window %d validation eval: %w", w.Index, err)
		}
		if wr.OutSample, err = r.evaluate(ctx, params, w.OutSample); err != nil {
			return Summary{}, fmt.Errorf("window %d out-of-sample eval: %w", w.Index, err)
		}

		summary.Windows = append(summary.Windows, wr)
		summary.OOSSharpes = append(summary.OOSSharpes, wr.OutSample.Sharpe)
	}

	summary.StabilityScore = StabilityScore(summary.OOSSharpes)
	summary.WinRate = WinRate(summary.OOSSharpes)
	summary.MeanOOSSharpe = mean(summary.OOSSharpes)

	log.Debug().
		Int("windows", len(windows)).
		Float64("stability", summary.StabilityScore).
		Float64("win_rate", summary.WinRate).
		Msg("Walk-forward sweep completed")

	return summary, nil
}

func (r *Runner) evaluate(ctx context.Context, params model.Params, dr period.DateRange) (model.Metrics, error) {
	return r.evaluator.Evaluate(ctx, params, dr.Start, dr.End, r.costs, r.cal, r.universe)
}

// StabilityScore is mean(sharpes) / (std(sharpes) + epsilon). Pure function
// of the out-of-sample series.
func StabilityScore(sharpes []float64) float64 {
	if len(sharpes) == 0 {
		return 0
	}
	m := mean(sharpes)
	return m / (stddev(sharpes, m) + stabilityEpsilon)
}

// WinRate is the fraction of out-of-sample Sharpes above zero.
func WinRate(sharpes []float64) float64 {
	if len(sharpes) == 0 {
		return 0
	}
	wins := 0
	for _, s := range sharpes {
		if s > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(sharpes))
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64, m float64) float64 {
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
