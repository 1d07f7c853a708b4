package period

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratgate/stratgate/internal/calendar"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func weekdayCal(t *testing.T, start, end time.Time) *calendar.Calendar {
	t.Helper()
	cal, err := calendar.NewWeekdays(start, end)
	require.NoError(t, err)
	return cal
}

func TestComputeSplitBelowFloor(t *testing.T) {
	_, _, err := ComputeSplit(15, DefaultSplitConfig())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRangeTooShort))
}

func TestComputeSplitFallback(t *testing.T) {
	plan, warnings, err := ComputeSplit(16, SplitConfig{
		MinTrainMonths: 12, MinValMonths: 6, MinTestMonths: 6,
		TrainRatio: 0.6, ValRatio: 0.2, TestRatio: 0.2,
	})
	require.NoError(t, err)
	assert.Equal(t, SplitPlan{TrainMonths: 8, ValMonths: 4, TestMonths: 4}, plan)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "split fallback")
}

func TestComputeSplitFloorWithDefaults(t *testing.T) {
	// 16 months sits exactly at the default combined minimum; the allocation
	// must take the fallback and warn, never split silently.
	plan, warnings, err := ComputeSplit(16, DefaultSplitConfig())
	require.NoError(t, err)
	assert.Equal(t, SplitPlan{TrainMonths: 8, ValMonths: 4, TestMonths: 4}, plan)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "split fallback")
}

func TestComputeSplitRatios(t *testing.T) {
	plan, warnings, err := ComputeSplit(60, DefaultSplitConfig())
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, 60, plan.TrainMonths+plan.ValMonths+plan.TestMonths)
	assert.Equal(t, 12, plan.ValMonths)
	assert.Equal(t, 12, plan.TestMonths)
	assert.Equal(t, 36, plan.TrainMonths)
}

func TestComputeSplitMinimumsEnforced(t *testing.T) {
	cfg := DefaultSplitConfig()
	plan, _, err := ComputeSplit(17, cfg)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, plan.ValMonths, cfg.MinValMonths)
	assert.GreaterOrEqual(t, plan.TestMonths, cfg.MinTestMonths)
	assert.Equal(t, 17, plan.TrainMonths+plan.ValMonths+plan.TestMonths)
}

func TestBuildWithoutTest(t *testing.T) {
	cal := weekdayCal(t, date(2019, 1, 1), date(2024, 12, 31))

	p, warnings, err := Build(date(2019, 1, 1), date(2023, 12, 31), DefaultSplitConfig(), cal, false)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Nil(t, p.Test, "test range must stay sealed when includeTest=false")
	require.NoError(t, p.Validate())

	// Boundaries land on trading days.
	assert.True(t, cal.Contains(p.Train.Start))
	assert.True(t, cal.Contains(p.Train.End))
	assert.True(t, cal.Contains(p.Validation.Start))
	assert.True(t, cal.Contains(p.Validation.End))
}

func TestBuildWithTest(t *testing.T) {
	cal := weekdayCal(t, date(2019, 1, 1), date(2024, 12, 31))

	p, _, err := Build(date(2019, 1, 1), date(2023, 12, 31), DefaultSplitConfig(), cal, true)
	require.NoError(t, err)

	require.NotNil(t, p.Test)
	require.NoError(t, p.Validate())
	assert.True(t, p.Train.End.Before(p.Validation.Start))
	assert.True(t, p.Validation.End.Before(p.Test.Start))
	assert.True(t, cal.Contains(p.Test.Start))
	assert.True(t, cal.Contains(p.Test.End))
}

func TestBuildRejectsShortRange(t *testing.T) {
	cal := weekdayCal(t, date(2023, 1, 1), date(2024, 12, 31))

	_, _, err := Build(date(2023, 1, 1), date(2023, 12, 31), DefaultSplitConfig(), cal, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRangeTooShort))
}

func TestBuildRejectsEmptyCalendarSpan(t *testing.T) {
	cal := weekdayCal(t, date(2019, 1, 1), date(2019, 6, 30))

	// Range starts after the calendar ends; the forward snap must fail loudly.
	_, _, err := Build(date(2020, 1, 1), date(2023, 12, 31), DefaultSplitConfig(), cal, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, calendar.ErrExhausted))
}

func TestPeriodSignatureStable(t *testing.T) {
	cal := weekdayCal(t, date(2019, 1, 1), date(2024, 12, 31))

	p1, _, err := Build(date(2019, 1, 1), date(2023, 12, 31), DefaultSplitConfig(), cal, false)
	require.NoError(t, err)
	p2, _, err := Build(date(2019, 1, 1), date(2023, 12, 31), DefaultSplitConfig(), cal, false)
	require.NoError(t, err)

	assert.Equal(t, p1.Signature(), p2.Signature())

	p3 := p1.WithTest(DateRange{Start: date(2024, 1, 1), End: date(2024, 6, 28)})
	assert.NotEqual(t, p1.Signature(), p3.Signature())
	assert.Nil(t, p1.Test, "WithTest must not mutate the receiver")
}
