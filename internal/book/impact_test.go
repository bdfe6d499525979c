package book

import (
	"math/rand"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsfair/arbot/internal/domain"
)

func TestEffectiveCostSingleLevel(t *testing.T) {
	asks := []domain.PriceLevel{lvl(0.45, 100)}
	imp := EffectiveCost(asks, domain.SizeToUnits(40))
	require.False(t, imp.DepthExhausted)
	assert.Equal(t, domain.PriceToTicks(0.45), imp.EffPriceTicks)
	assert.Equal(t, domain.DollarsToMicro(18), imp.CostMicro) // 40 * 0.45
	assert.Equal(t, 1, imp.Levels)
}

func TestEffectiveCostMultiLevel(t *testing.T) {
	asks := []domain.PriceLevel{lvl(0.45, 10), lvl(0.47, 10), lvl(0.50, 100)}
	imp := EffectiveCost(asks, domain.SizeToUnits(25))
	require.False(t, imp.DepthExhausted)
	// 10*0.45 + 10*0.47 + 5*0.50 = 11.70
	assert.Equal(t, domain.DollarsToMicro(11.70), imp.CostMicro)
	assert.Equal(t, 3, imp.Levels)
	assert.Equal(t, int64(468_000), imp.EffPriceTicks) // 11.70 / 25
	assert.Equal(t, domain.PriceToTicks(0.50), imp.WorstPriceTicks)
}

func TestEffectiveCostDepthExhausted(t *testing.T) {
	asks := []domain.PriceLevel{lvl(0.45, 10)}
	imp := EffectiveCost(asks, domain.SizeToUnits(50))
	assert.True(t, imp.DepthExhausted)
	assert.Equal(t, domain.SizeToUnits(10), imp.SizeUnits)
}

func TestSharesForSpendStopsAtBudget(t *testing.T) {
	asks := []domain.PriceLevel{lvl(0.50, 10), lvl(0.60, 10)}
	imp := SharesForSpend(asks, domain.DollarsToMicro(8))
	// $5 buys the first level, remaining $3 buys 5 shares at 0.60.
	assert.Equal(t, domain.SizeToUnits(15), imp.SizeUnits)
	assert.Equal(t, domain.DollarsToMicro(8), imp.CostMicro)
	assert.False(t, imp.DepthExhausted)
}

func TestMaxSharesUnderCap(t *testing.T) {
	asks := []domain.PriceLevel{lvl(0.45, 10), lvl(0.48, 20), lvl(0.55, 100)}
	assert.Equal(t, domain.SizeToUnits(30), MaxSharesUnder(asks, domain.PriceToTicks(0.50)))
	assert.Equal(t, int64(0), MaxSharesUnder(asks, domain.PriceToTicks(0.40)))
}

func TestFindOptimalSizeRespectsCap(t *testing.T) {
	yes := []domain.PriceLevel{lvl(0.45, 10), lvl(0.50, 50)}
	no := []domain.PriceLevel{lvl(0.48, 10), lvl(0.52, 50)}
	cap := domain.PriceToTicks(0.97)

	yImp, nImp, ok := FindOptimalSize(yes, no, cap, domain.SizeToUnits(60))
	require.True(t, ok)
	assert.LessOrEqual(t, yImp.EffPriceTicks+nImp.EffPriceTicks, cap)
	assert.Equal(t, yImp.SizeUnits, nImp.SizeUnits)
	// Deeper than the top level: the cap allows blending into level two.
	assert.Greater(t, yImp.SizeUnits, domain.SizeToUnits(10))
}

func TestFindOptimalSizeWholeDepthFits(t *testing.T) {
	yes := []domain.PriceLevel{lvl(0.40, 20)}
	no := []domain.PriceLevel{lvl(0.45, 20)}
	yImp, nImp, ok := FindOptimalSize(yes, no, domain.PriceToTicks(0.90), domain.SizeToUnits(20))
	require.True(t, ok)
	assert.Equal(t, domain.SizeToUnits(20), yImp.SizeUnits)
	assert.Equal(t, domain.SizeToUnits(20), nImp.SizeUnits)
}

func TestFindOptimalSizeInfeasible(t *testing.T) {
	yes := []domain.PriceLevel{lvl(0.55, 20)}
	no := []domain.PriceLevel{lvl(0.50, 20)}
	_, _, ok := FindOptimalSize(yes, no, domain.PriceToTicks(0.97), domain.SizeToUnits(20))
	assert.False(t, ok)
}

// Effective price must never decrease as the requested quantity grows.
func TestEffectivePriceMonotonic(t *testing.T) {
	property := func(seed int64, nLevels uint8, q1, q2 uint16) bool {
		rng := rand.New(rand.NewSource(seed))
		levels := int(nLevels%10) + 1
		asks := make([]domain.PriceLevel, 0, levels)
		priceTicks := int64(100_000 + rng.Intn(400_000))
		for i := 0; i < levels; i++ {
			asks = append(asks, domain.PriceLevel{
				PriceTicks: priceTicks,
				SizeUnits:  domain.SizeToUnits(float64(1 + rng.Intn(50))),
			})
			priceTicks += int64(1 + rng.Intn(50_000))
		}

		small := domain.SizeToUnits(float64(q1%500) + 1)
		large := small + domain.SizeToUnits(float64(q2%500)+1)

		a := EffectiveCost(asks, small)
		b := EffectiveCost(asks, large)
		if a.SizeUnits == 0 || b.SizeUnits == 0 {
			return true
		}
		return b.EffPriceTicks >= a.EffPriceTicks
	}
	if err := quick.Check(property, &quick.Config{MaxCount: 200}); err != nil {
		t.Error(err)
	}
}

// Cost must equal effective price times quantity within rounding.
func TestCostConsistency(t *testing.T) {
	property := func(seed int64) bool {
		rng := rand.New(rand.NewSource(seed))
		asks := []domain.PriceLevel{
			{PriceTicks: int64(100_000 + rng.Intn(800_000)), SizeUnits: domain.SizeToUnits(float64(1 + rng.Intn(100)))},
			{PriceTicks: int64(900_000 + rng.Intn(90_000)), SizeUnits: domain.SizeToUnits(float64(1 + rng.Intn(100)))},
		}
		want := domain.SizeToUnits(float64(1 + rng.Intn(150)))
		imp := EffectiveCost(asks, want)
		if imp.SizeUnits == 0 {
			return true
		}
		recomputed := imp.EffPriceTicks * imp.SizeUnits / domain.SizeScale
		diff := imp.CostMicro - recomputed
		if diff < 0 {
			diff = -diff
		}
		return diff <= imp.SizeUnits/domain.SizeScale+1
	}
	if err := quick.Check(property, &quick.Config{MaxCount: 200}); err != nil {
		t.Error(err)
	}
}
