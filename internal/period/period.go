package period

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stratgate/stratgate/internal/calendar"
)

var (
	// ErrRangeTooShort is returned when the requested date range cannot hold
	// the minimum train/validation/test segments.
	ErrRangeTooShort = errors.New("period: date range too short")

	// ErrInvalidRange is returned for inverted or degenerate date ranges.
	ErrInvalidRange = errors.New("period: invalid date range")
)

// DateRange is an inclusive [Start, End] span of trading-calendar days.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Valid reports whether the range is non-degenerate.
func (r DateRange) Valid() bool {
	return !r.Start.IsZero() && !r.End.IsZero() && !r.End.Before(r.Start)
}

// Months returns the approximate span of the range in whole months.
func (r DateRange) Months() int {
	months := (r.End.Year()-r.Start.Year())*12 + int(r.End.Month()) - int(r.Start.Month())
	if r.End.Day() >= r.Start.Day() {
		months++
	}
	return months
}

func (r DateRange) String() string {
	return fmt.Sprintf("%s..%s", r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"))
}

// Period is an immutable train/validation/(test) partition of a date range.
// Test stays nil until Gate3 unseals the held-out span; nothing upstream of
// Gate3 may ever observe a non-nil Test range.
type Period struct {
	Range      DateRange  `json:"range"`
	Train      DateRange  `json:"train"`
	Validation DateRange  `json:"validation"`
	Test       *DateRange `json:"test,omitempty"`
}

// Validate enforces the chronological ordering invariant:
// train.end < validation.start <= validation.end < test.start when test exists.
func (p Period) Validate() error {
	if !p.Train.Valid() || !p.Validation.Valid() {
		return fmt.Errorf("%w: degenerate train or validation range", ErrInvalidRange)
	}
	if !p.Train.End.Before(p.Validation.Start) {
		return fmt.Errorf("%w: train %s overlaps validation %s", ErrInvalidRange, p.Train, p.Validation)
	}
	if p.Test != nil {
		if !p.Test.Valid() {
			return fmt.Errorf("%w: degenerate test range", ErrInvalidRange)
		}
		if !p.Validation.End.Before(p.Test.Start) {
			return fmt.Errorf("%w: validation %s overlaps test %s", ErrInvalidRange, p.Validation, *p.Test)
		}
	}
	return nil
}

// Signature returns a stable textual identity for the period, used in cache
// keys and evaluator seeding.
func (p Period) Signature() string {
	sig := fmt.Sprintf("train=%s|val=%s", p.Train, p.Validation)
	if p.Test != nil {
		sig += fmt.Sprintf("|test=%s", *p.Test)
	}
	return sig
}

// WithTest returns a copy of the period with the held-out range attached.
// The receiver is never mutated.
func (p Period) WithTest(test DateRange) Period {
	out := p
	t := test
	out.Test = &t
	return out
}

// SnapStart advances d to the first trading day at or after it.
func SnapStart(d time.Time, cal *calendar.Calendar) (time.Time, error) {
	snapped, err := cal.NextTradingDay(d)
	if err != nil {
		return time.Time{}, fmt.Errorf("snap start %s: %w", d.Format("2006-01-02"), err)
	}
	return snapped, nil
}

// SnapEnd retreats d to the last trading day at or before it.
func SnapEnd(d time.Time, cal *calendar.Calendar) (time.Time, error) {
	snapped, err := cal.PrevTradingDay(d)
	if err != nil {
		return time.Time{}, fmt.Errorf("snap end %s: %w", d.Format("2006-01-02"), err)
	}
	return snapped, nil
}

// snapRange snaps a raw range onto the calendar: start forward, end backward.
func snapRange(start, end time.Time, cal *calendar.Calendar) (DateRange, error) {
	s, err := SnapStart(start, cal)
	if err != nil {
		return DateRange{}, err
	}
	e, err := SnapEnd(end, cal)
	if err != nil {
		return DateRange{}, err
	}
	if e.Before(s) {
		return DateRange{}, fmt.Errorf("%w: no trading days in %s..%s",
			ErrRangeTooShort, start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	return DateRange{Start: s, End: e}, nil
}

// Build composes snapping and split allocation into a Period. When
// includeTest is false the test segment is omitted entirely and its months
// are folded back into training; this is the anti-leakage switch used by the
// search path.
func Build(start, end time.Time, cfg SplitConfig, cal *calendar.Calendar, includeTest bool) (Period, []string, error) {
	full, err := snapRange(start, end, cal)
	if err != nil {
		return Period{}, nil, err
	}

	totalMonths := full.Months()
	plan, warnings, err := ComputeSplit(totalMonths, cfg)
	if err != nil {
		return Period{}, warnings, err
	}

	trainMonths := plan.TrainMonths
	if !includeTest {
		trainMonths += plan.TestMonths
	}

	trainEndRaw := full.Start.AddDate(0, trainMonths, 0).AddDate(0, 0, -1)
	train, err := snapRange(full.Start, trainEndRaw, cal)
	if err != nil {
		return Period{}, warnings, fmt.Errorf("train segment: %w", err)
	}

	valStartRaw := trainEndRaw.AddDate(0, 0, 1)
	valEndRaw := valStartRaw.AddDate(0, plan.ValMonths, 0).AddDate(0, 0, -1)
	if !includeTest {
		valEndRaw = full.End
	}
	validation, err := snapRange(valStartRaw, valEndRaw, cal)
	if err != nil {
		return Period{}, warnings, fmt.Errorf("validation segment: %w", err)
	}

	p := Period{Range: full, Train: train, Validation: validation}

	if includeTest {
		testStartRaw := valEndRaw.AddDate(0, 0, 1)
		test, err := snapRange(testStartRaw, full.End, cal)
		if err != nil {
			return Period{}, warnings, fmt.Errorf("test segment: %w", err)
		}
		p = p.WithTest(test)
	}

	if err := p.Validate(); err != nil {
		return Period{}, warnings, err
	}

	for _, w := range warnings {
		log.Warn().Str("range", full.String()).Msg(w)
	}

	return p, warnings, nil
}
