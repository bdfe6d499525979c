package alloc

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsfair/arbot/internal/domain"
)

// Tuesday 15:00 UTC: peak hours, no weekday trim.
var tuesdayPeak = time.Date(2026, 8, 25, 15, 0, 0, 0, time.UTC)

// Tuesday 10:00 UTC: neutral hours.
var tuesdayNeutral = time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

func testAlloc() *Allocator {
	return New(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func opp(roi, score float64, combined float64) domain.Opportunity {
	half := domain.PriceToTicks(combined / 2)
	return domain.Opportunity{
		ROI:   roi,
		Score: score,
		Yes:   domain.OpportunityLeg{EffPriceTicks: half},
		No:    domain.OpportunityLeg{EffPriceTicks: half},
	}
}

func TestBaselineAllocation(t *testing.T) {
	a := testAlloc()
	// ROI at target, score at baseline, flat P&L, neutral hours.
	spend, size, bd := a.Allocate(opp(0.02, 50, 0.96), 0, domain.DollarsToMicro(1000), 0.1, tuesdayNeutral)

	assert.Equal(t, 1.0, bd.ROI)
	assert.Equal(t, 1.0, bd.Quality)
	assert.Equal(t, 1.0, bd.PnL)
	assert.Equal(t, 1.0, bd.TimeOfDay)
	assert.Equal(t, 1.0, bd.DayOfWeek)
	assert.False(t, bd.Capped)

	// $10 buys 10 whole baskets at 0.96 combined.
	assert.Equal(t, int64(10)*domain.SizeScale, size)
	assert.Equal(t, domain.DollarsToMicro(9.60), spend)
}

func TestROIMultiplierClamped(t *testing.T) {
	a := testAlloc()
	_, _, bd := a.Allocate(opp(0.50, 50, 0.96), 0, domain.DollarsToMicro(1000), 0.1, tuesdayNeutral)
	assert.Equal(t, 2.0, bd.ROI)

	_, _, bd = a.Allocate(opp(0.001, 50, 0.96), 0, domain.DollarsToMicro(1000), 0.1, tuesdayNeutral)
	assert.Equal(t, 0.5, bd.ROI)
}

func TestDrawdownShrinksAllocation(t *testing.T) {
	a := testAlloc()
	flat, _, _ := a.Allocate(opp(0.02, 50, 0.96), 0, domain.DollarsToMicro(1000), 0.1, tuesdayNeutral)
	down, _, bd := a.Allocate(opp(0.02, 50, 0.96), domain.DollarsToMicro(-25), domain.DollarsToMicro(1000), 0.1, tuesdayNeutral)

	assert.Equal(t, 0.5, bd.PnL, "half the daily limit lost floors the multiplier")
	assert.Less(t, down, flat)
}

func TestPeakHoursBoost(t *testing.T) {
	a := testAlloc()
	_, _, bd := a.Allocate(opp(0.02, 50, 0.96), 0, domain.DollarsToMicro(1000), 0.1, tuesdayPeak)
	assert.Equal(t, 1.2, bd.TimeOfDay)
}

func TestWeekendTrim(t *testing.T) {
	sunday := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	a := testAlloc()
	_, _, bd := a.Allocate(opp(0.02, 50, 0.96), 0, domain.DollarsToMicro(1000), 0.1, sunday)
	assert.Equal(t, 0.85, bd.DayOfWeek)
}

func TestBalanceCapWithDynamicBuffer(t *testing.T) {
	a := testAlloc()
	balance := domain.DollarsToMicro(12)

	// Light depth consumption: 2% buffer leaves $11.76.
	spend, _, bd := a.Allocate(opp(0.10, 75, 0.96), 0, balance, 0.1, tuesdayPeak)
	require.True(t, bd.Capped)
	assert.InDelta(t, 0.02, bd.Buffer, 1e-9)
	assert.LessOrEqual(t, spend, int64(float64(balance)*0.98))

	// Full top-of-book consumption: 10% buffer.
	spend2, _, bd2 := a.Allocate(opp(0.10, 75, 0.96), 0, balance, 1.0, tuesdayPeak)
	assert.InDelta(t, 0.10, bd2.Buffer, 1e-9)
	assert.Less(t, spend2, spend)
}

func TestWholeShareRounding(t *testing.T) {
	a := testAlloc()
	spend, size, _ := a.Allocate(opp(0.02, 50, 0.97), 0, domain.DollarsToMicro(1000), 0.1, tuesdayNeutral)
	// $10 / 0.97 = 10.3 shares, rounded down to 10.
	assert.Equal(t, int64(10)*domain.SizeScale, size)
	assert.Equal(t, domain.DollarsToMicro(9.70), spend)
	assert.Zero(t, size%domain.SizeScale)
}

func TestZeroBalanceAllocatesNothing(t *testing.T) {
	a := testAlloc()
	spend, size, _ := a.Allocate(opp(0.02, 50, 0.96), 0, 0, 0.1, tuesdayNeutral)
	assert.Zero(t, spend)
	assert.Zero(t, size)
}
