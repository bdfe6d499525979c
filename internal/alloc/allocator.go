// Package alloc sizes the capital committed to an opportunity. A fixed base
// stake is scaled by opportunity and account health multipliers, then capped
// by the balance minus a dynamic safety buffer.
package alloc

import (
	"log/slog"
	"time"

	"github.com/oddsfair/arbot/internal/domain"
)

// Config tunes the allocator. Zero values take defaults.
type Config struct {
	// BaseStake is the capital committed per trade, dollars.
	BaseStake float64
	// TargetROI anchors the ROI multiplier: an opportunity at exactly this
	// ROI gets a 1.0 multiplier.
	TargetROI float64
	// BaselineScore anchors the quality multiplier.
	BaselineScore float64
	// MaxDailyLoss anchors the drawdown multiplier, dollars.
	MaxDailyLoss float64
}

func (c *Config) defaults() {
	if c.BaseStake <= 0 {
		c.BaseStake = 10
	}
	if c.TargetROI <= 0 {
		c.TargetROI = 0.02
	}
	if c.BaselineScore <= 0 {
		c.BaselineScore = 50
	}
	if c.MaxDailyLoss <= 0 {
		c.MaxDailyLoss = 50
	}
}

// Breakdown records each multiplier for logging.
type Breakdown struct {
	ROI       float64
	Quality   float64
	PnL       float64
	TimeOfDay float64
	DayOfWeek float64
	Buffer    float64 // fraction of balance reserved
	Capped    bool    // balance cap bound the allocation
}

// Allocator computes per-trade capital.
type Allocator struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an Allocator.
func New(cfg Config, logger *slog.Logger) *Allocator {
	cfg.defaults()
	return &Allocator{cfg: cfg, logger: logger.With(slog.String("component", "alloc"))}
}

// Allocate returns the capital to commit in micro-dollars and the whole-share
// quantity it buys at the opportunity's combined effective price.
//
// dailyPnLMicro is today's realized P&L. topDepthFrac is the fraction of the
// thinner top-of-book level this trade would consume; heavier consumption
// reserves a larger balance buffer (2% at <=25% consumption up to 10% at
// full consumption).
func (a *Allocator) Allocate(opp domain.Opportunity, dailyPnLMicro, balanceMicro int64, topDepthFrac float64, now time.Time) (spendMicro, sizeUnits int64, bd Breakdown) {
	bd.ROI = clamp(opp.ROI/a.cfg.TargetROI, 0.5, 2.0)
	bd.Quality = clamp(opp.Score/a.cfg.BaselineScore, 0.5, 1.5)
	bd.PnL = a.pnlMult(dailyPnLMicro)
	bd.TimeOfDay = timeOfDayMult(now)
	bd.DayOfWeek = dayOfWeekMult(now)

	spend := a.cfg.BaseStake * bd.ROI * bd.Quality * bd.PnL * bd.TimeOfDay * bd.DayOfWeek
	spendMicro = domain.DollarsToMicro(spend)

	bd.Buffer = buffer(topDepthFrac)
	maxSpend := int64(float64(balanceMicro) * (1 - bd.Buffer))
	if spendMicro > maxSpend {
		spendMicro = maxSpend
		bd.Capped = true
	}
	if spendMicro <= 0 {
		return 0, 0, bd
	}

	combined := opp.CombinedTicks()
	if combined <= 0 {
		return 0, 0, bd
	}
	// Whole shares only.
	shares := spendMicro / combined
	sizeUnits = shares * domain.SizeScale
	spendMicro = domain.NotionalMicro(combined, sizeUnits)
	return spendMicro, sizeUnits, bd
}

// pnlMult scales down linearly from 1.0 at flat-or-positive P&L to 0.5 once
// the day's loss reaches half the daily loss limit.
func (a *Allocator) pnlMult(dailyPnLMicro int64) float64 {
	if dailyPnLMicro >= 0 {
		return 1.0
	}
	loss := domain.MicroToDollars(-dailyPnLMicro)
	halfLimit := a.cfg.MaxDailyLoss / 2
	if loss >= halfLimit {
		return 0.5
	}
	return 1.0 - 0.5*loss/halfLimit
}

// timeOfDayMult favors the 14:00-20:00 UTC liquidity peak and shrinks
// allocations in the 00:00-08:00 UTC trough.
func timeOfDayMult(now time.Time) float64 {
	h := now.UTC().Hour()
	switch {
	case h >= 14 && h < 20:
		return 1.2
	case h < 8:
		return 0.6
	default:
		return 1.0
	}
}

// dayOfWeekMult trims Friday and weekend exposure.
func dayOfWeekMult(now time.Time) float64 {
	switch now.UTC().Weekday() {
	case time.Friday:
		return 0.95
	case time.Saturday, time.Sunday:
		return 0.85
	default:
		return 1.0
	}
}

// buffer grows linearly from 2% to 10% as top-of-book consumption rises
// from 25% to 100%.
func buffer(topDepthFrac float64) float64 {
	f := clamp(topDepthFrac, 0, 1)
	if f <= 0.25 {
		return 0.02
	}
	return 0.02 + (f-0.25)/0.75*0.08
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
