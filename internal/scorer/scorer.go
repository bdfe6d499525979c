// Package scorer ranks markets by how suitable they are for arbitrage
// monitoring. Scores are 0..100; markets under the configured minimum are
// not subscribed.
package scorer

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/oddsfair/arbot/internal/book"
	"github.com/oddsfair/arbot/internal/domain"
)

// Sub-score weights.
const (
	weightVolume    = 0.35
	weightLiquidity = 0.30
	weightSpread    = 0.20
	weightTime      = 0.15
)

// Config tunes the scorer. Zero values take defaults.
type Config struct {
	// RefVolume is the lifetime volume that earns a full volume score.
	RefVolume float64
	// RefLiquidity is the top-5 combined notional that earns a full
	// liquidity score, in dollars.
	RefLiquidity float64
	// MinScore gates subscription eligibility.
	MinScore float64
}

func (c *Config) defaults() {
	if c.RefVolume <= 0 {
		c.RefVolume = 1_000_000
	}
	if c.RefLiquidity <= 0 {
		c.RefLiquidity = 10_000
	}
	if c.MinScore <= 0 {
		c.MinScore = 50
	}
}

// Scorer computes market quality scores from metadata and live books.
type Scorer struct {
	cfg    Config
	books  *book.Registry
	logger *slog.Logger
}

// New creates a Scorer reading depth from the given registry.
func New(cfg Config, books *book.Registry, logger *slog.Logger) *Scorer {
	cfg.defaults()
	return &Scorer{
		cfg:    cfg,
		books:  books,
		logger: logger.With(slog.String("component", "scorer")),
	}
}

// Breakdown carries the sub-scores for logging and diagnostics.
type Breakdown struct {
	Volume    float64
	Liquidity float64
	Spread    float64
	Time      float64
	Total     float64
}

// MinScore returns the subscription gate.
func (s *Scorer) MinScore() float64 { return s.cfg.MinScore }

// Score rates one market at the given time. Books may be nil or unsynced;
// the liquidity and spread components then contribute zero.
func (s *Scorer) Score(m domain.Market, now time.Time) Breakdown {
	var bd Breakdown
	bd.Volume = s.volumeScore(m.Volume)
	bd.Time = timeScore(m.CloseTime.Sub(now))

	yesBook, _ := s.books.Get(m.YesToken)
	noBook, _ := s.books.Get(m.NoToken)
	bd.Liquidity = s.liquidityScore(yesBook, noBook)
	bd.Spread = spreadScore(yesBook, noBook)

	bd.Total = weightVolume*bd.Volume + weightLiquidity*bd.Liquidity +
		weightSpread*bd.Spread + weightTime*bd.Time
	return bd
}

// Eligible reports whether the market clears the quality gate.
func (s *Scorer) Eligible(m domain.Market, now time.Time) bool {
	return s.Score(m, now).Total >= s.cfg.MinScore
}

// Ranked is a market with its score attached.
type Ranked struct {
	Market domain.Market
	Score  float64
}

// TopMarkets scores all markets and returns the top n by score descending.
func (s *Scorer) TopMarkets(markets []domain.Market, n int, now time.Time) []Ranked {
	ranked := make([]Ranked, 0, len(markets))
	for _, m := range markets {
		bd := s.Score(m, now)
		if bd.Total < s.cfg.MinScore {
			continue
		}
		ranked = append(ranked, Ranked{Market: m, Score: bd.Total})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// volumeScore is log-scaled: RefVolume earns 100, a tenth of it earns
// proportionally less.
func (s *Scorer) volumeScore(volume float64) float64 {
	if volume <= 1 {
		return 0
	}
	score := math.Log10(volume) / math.Log10(s.cfg.RefVolume) * 100
	return clamp(score, 0, 100)
}

// liquidityScore sums the top-5 bid and ask notional of both tokens.
func (s *Scorer) liquidityScore(yes, no *book.Book) float64 {
	notional := sideNotional(yes, domain.SideBid) + sideNotional(yes, domain.SideAsk) +
		sideNotional(no, domain.SideBid) + sideNotional(no, domain.SideAsk)
	return clamp(notional/s.cfg.RefLiquidity*100, 0, 100)
}

func sideNotional(b *book.Book, side domain.BookSide) float64 {
	if b == nil {
		return 0
	}
	var micro int64
	for _, l := range b.Walk(side, 5) {
		micro += domain.NotionalMicro(l.PriceTicks, l.SizeUnits)
	}
	return domain.MicroToDollars(micro)
}

// spreadScore inverts the worse of the two tokens' relative spreads.
// A 0% spread scores 100, a 10% spread scores 0.
func spreadScore(yes, no *book.Book) float64 {
	sy, oky := relSpread(yes)
	sn, okn := relSpread(no)
	if !oky || !okn {
		return 0
	}
	worst := math.Max(sy, sn)
	return clamp((1-worst/0.10)*100, 0, 100)
}

func relSpread(b *book.Book) (float64, bool) {
	if b == nil {
		return 0, false
	}
	bid, okb := b.Best(domain.SideBid)
	ask, oka := b.Best(domain.SideAsk)
	if !okb || !oka {
		return 0, false
	}
	mid := float64(bid.PriceTicks+ask.PriceTicks) / 2
	if mid <= 0 {
		return 0, false
	}
	return float64(ask.PriceTicks-bid.PriceTicks) / mid, true
}

// timeScore is a bell over time to resolution: full score in the 6h..7d
// band, tapering toward 0 below 1h and above 30d.
func timeScore(until time.Duration) float64 {
	switch {
	case until <= 0:
		return 0
	case until < time.Hour:
		return float64(until) / float64(time.Hour) * 40
	case until < 6*time.Hour:
		frac := float64(until-time.Hour) / float64(5*time.Hour)
		return 40 + frac*60
	case until <= 7*24*time.Hour:
		return 100
	case until <= 30*24*time.Hour:
		frac := float64(until-7*24*time.Hour) / float64(23*24*time.Hour)
		return 100 - frac*60
	default:
		return 40
	}
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
