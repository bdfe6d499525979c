package book

import "github.com/oddsfair/arbot/internal/domain"

// Impact describes the outcome of sweeping an ask ladder for a quantity.
type Impact struct {
	SizeUnits       int64 // quantity actually fillable
	EffPriceTicks   int64 // volume-weighted average price
	WorstPriceTicks int64 // price of the deepest level consumed
	CostMicro       int64 // total spend in micro-dollars
	Levels          int   // levels consumed
	DepthExhausted  bool  // ladder ran out before the requested quantity
}

// searchIterations caps the binary search in FindOptimalSize.
const searchIterations = 50

// EffectiveCost sweeps the ask ladder best-first for sizeUnits shares.
// The ladder must be best-first ascending (Book.Walk output). If depth runs
// out the impact covers the fillable portion and DepthExhausted is set.
func EffectiveCost(asks []domain.PriceLevel, sizeUnits int64) Impact {
	if sizeUnits <= 0 {
		return Impact{DepthExhausted: len(asks) == 0}
	}
	var imp Impact
	remaining := sizeUnits
	for _, l := range asks {
		take := l.SizeUnits
		if take > remaining {
			take = remaining
		}
		imp.CostMicro += domain.NotionalMicro(l.PriceTicks, take)
		imp.SizeUnits += take
		imp.WorstPriceTicks = l.PriceTicks
		imp.Levels++
		remaining -= take
		if remaining == 0 {
			break
		}
	}
	if remaining > 0 {
		imp.DepthExhausted = true
	}
	if imp.SizeUnits > 0 {
		imp.EffPriceTicks = imp.CostMicro * domain.SizeScale / imp.SizeUnits
	}
	return imp
}

// SharesForSpend sweeps the ask ladder with a fixed budget in micro-dollars
// and returns how many shares it buys. The result size is truncated to the
// 4-decimal quantum.
func SharesForSpend(asks []domain.PriceLevel, spendMicro int64) Impact {
	var imp Impact
	remaining := spendMicro
	for _, l := range asks {
		levelCost := domain.NotionalMicro(l.PriceTicks, l.SizeUnits)
		take := l.SizeUnits
		if levelCost > remaining {
			take = domain.TruncateUnits(remaining * domain.SizeScale / l.PriceTicks)
			if take <= 0 {
				break
			}
		}
		imp.CostMicro += domain.NotionalMicro(l.PriceTicks, take)
		imp.SizeUnits += take
		imp.WorstPriceTicks = l.PriceTicks
		imp.Levels++
		remaining = spendMicro - imp.CostMicro
		if take < l.SizeUnits {
			break
		}
	}
	if imp.SizeUnits > 0 {
		imp.EffPriceTicks = imp.CostMicro * domain.SizeScale / imp.SizeUnits
	}
	imp.DepthExhausted = remaining > 0 && (len(asks) == 0 || imp.Levels == len(asks))
	return imp
}

// MaxSharesUnder returns the quantity purchasable without paying a marginal
// price above capTicks. Because every consumed level is at or under the cap,
// the effective price stays under it too.
func MaxSharesUnder(asks []domain.PriceLevel, capTicks int64) int64 {
	var total int64
	for _, l := range asks {
		if l.PriceTicks > capTicks {
			break
		}
		total += l.SizeUnits
	}
	return total
}

// FindOptimalSize binary-searches for the largest quantity n such that both
// ladders can fill n shares and the combined effective price stays at or
// under maxCombinedTicks. Effective price is non-decreasing in quantity, so
// the feasible set is a prefix. Returns the per-leg impacts at the chosen
// size; ok is false when not even the minimum quantum qualifies.
func FindOptimalSize(yesAsks, noAsks []domain.PriceLevel, maxCombinedTicks, maxSizeUnits int64) (yes, no Impact, ok bool) {
	quantum := domain.SizeScale / 10_000
	if maxSizeUnits < quantum || len(yesAsks) == 0 || len(noAsks) == 0 {
		return Impact{}, Impact{}, false
	}

	feasible := func(n int64) (Impact, Impact, bool) {
		y := EffectiveCost(yesAsks, n)
		x := EffectiveCost(noAsks, n)
		if y.DepthExhausted || x.DepthExhausted {
			return y, x, false
		}
		return y, x, y.EffPriceTicks+x.EffPriceTicks <= maxCombinedTicks
	}

	lo := quantum
	if _, _, good := feasible(lo); !good {
		return Impact{}, Impact{}, false
	}
	hi := domain.TruncateUnits(maxSizeUnits)

	// Invariant: lo is feasible, everything above hi may not be.
	if y, x, good := feasible(hi); good {
		return y, x, true
	}
	for i := 0; i < searchIterations && hi-lo > quantum; i++ {
		mid := domain.TruncateUnits(lo + (hi-lo)/2)
		if mid <= lo {
			break
		}
		if _, _, good := feasible(mid); good {
			lo = mid
		} else {
			hi = mid
		}
	}
	yes, no, _ = feasible(lo)
	return yes, no, true
}
