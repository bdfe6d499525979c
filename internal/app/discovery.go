package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/oddsfair/arbot/internal/domain"
	"github.com/oddsfair/arbot/internal/engine"
	"github.com/oddsfair/arbot/internal/feed"
	"github.com/oddsfair/arbot/internal/matcher"
	"github.com/oddsfair/arbot/internal/ratelimit"
	"github.com/oddsfair/arbot/internal/scorer"
)

// DiscoveryConfig tunes the market refresh loop.
type DiscoveryConfig struct {
	Interval        time.Duration
	MarketLimit     int
	TopMarkets      int
	MinMarketVolume float64 // hard volume floor in dollars
	CrossPlatform   bool    // pair markets across venues
}

func (c *DiscoveryConfig) defaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.MarketLimit <= 0 {
		c.MarketLimit = 200
	}
	if c.TopMarkets <= 0 {
		c.TopMarkets = 50
	}
	if c.MinMarketVolume <= 0 {
		c.MinMarketVolume = 5000
	}
}

// Discovery periodically refreshes the tradable universe: it lists markets
// per venue, keeps the highest-scoring ones, pairs them across venues, and
// pushes the resulting candidate set into the engine and the token sets into
// the feeds.
type Discovery struct {
	cfg     DiscoveryConfig
	clients map[string]domain.ExchangeClient
	feeds   map[string]*feed.Feed
	scorer  *scorer.Scorer
	matcher *matcher.Matcher
	limiter *ratelimit.Limiter
	engine  *engine.Engine
	logger  *slog.Logger
	now     func() time.Time
}

// NewDiscovery wires a Discovery over the given venues.
func NewDiscovery(
	cfg DiscoveryConfig,
	clients map[string]domain.ExchangeClient,
	feeds map[string]*feed.Feed,
	sc *scorer.Scorer,
	mt *matcher.Matcher,
	limiter *ratelimit.Limiter,
	eng *engine.Engine,
	logger *slog.Logger,
) *Discovery {
	cfg.defaults()
	return &Discovery{
		cfg:     cfg,
		clients: clients,
		feeds:   feeds,
		scorer:  sc,
		matcher: mt,
		limiter: limiter,
		engine:  eng,
		logger:  logger.With(slog.String("component", "discovery")),
		now:     time.Now,
	}
}

// Run refreshes immediately and then on the configured interval until ctx
// ends.
func (d *Discovery) Run(ctx context.Context) error {
	d.refresh(ctx)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.refresh(ctx)
		}
	}
}

func (d *Discovery) refresh(ctx context.Context) {
	now := d.now()

	ranked := make(map[string][]scorer.Ranked, len(d.clients))
	for name, client := range d.clients {
		if err := d.limiter.Acquire(ctx, name, ratelimit.Normal); err != nil {
			d.logger.Warn("market refresh rate limited", slog.String("exchange", name))
			continue
		}
		markets, err := client.ListMarkets(ctx, d.cfg.MarketLimit)
		if err != nil {
			d.logger.Error("list markets failed",
				slog.String("exchange", name), slog.Any("error", err))
			continue
		}
		ranked[name] = d.scorer.TopMarkets(d.eligible(markets, now), d.cfg.TopMarkets, now)
	}
	if len(ranked) == 0 {
		return
	}

	cands := d.buildCandidates(ranked)
	d.engine.SetCandidates(cands)

	for name, f := range d.feeds {
		tokens := make([]string, 0, 2*len(ranked[name]))
		for _, r := range ranked[name] {
			tokens = append(tokens, r.Market.YesToken, r.Market.NoToken)
		}
		f.SetTokens(tokens)
	}

	d.logger.Info("universe refreshed",
		slog.Int("candidates", len(cands)),
		slog.Int("venues", len(ranked)))
}

// eligible keeps markets that are open for trading and clear the hard
// volume floor.
func (d *Discovery) eligible(markets []domain.Market, now time.Time) []domain.Market {
	out := markets[:0]
	for _, m := range markets {
		if m.Active(now) && m.Volume >= d.cfg.MinMarketVolume {
			out = append(out, m)
		}
	}
	return out
}

// buildCandidates turns the per-venue rankings into engine candidates: one
// single-venue candidate per market, plus both orientations of every
// cross-venue pair when cross-platform pairing is enabled.
func (d *Discovery) buildCandidates(ranked map[string][]scorer.Ranked) []engine.Candidate {
	var cands []engine.Candidate
	for _, rs := range ranked {
		for _, r := range rs {
			cands = append(cands, singleVenueCandidate(r))
		}
	}
	if !d.cfg.CrossPlatform {
		return cands
	}

	names := make([]string, 0, len(ranked))
	for name := range ranked {
		names = append(names, name)
	}
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			a := marketsOf(ranked[names[i]])
			b := marketsOf(ranked[names[j]])
			scores := scoresOf(ranked[names[i]], ranked[names[j]])
			for _, pair := range d.matcher.Match(a, b) {
				cands = append(cands, pairCandidates(pair, scores)...)
			}
		}
	}
	return cands
}

func singleVenueCandidate(r scorer.Ranked) engine.Candidate {
	m := r.Market
	return engine.Candidate{
		Kind:        domain.OpportunitySingleVenue,
		Key:         m.ID,
		Title:       m.Title,
		Score:       r.Score,
		YesExchange: m.Exchange,
		NoExchange:  m.Exchange,
		YesMarketID: m.ID,
		NoMarketID:  m.ID,
		YesToken:    m.YesToken,
		NoToken:     m.NoToken,
	}
}

// pairCandidates emits both orientations of a cross-venue pair: YES on A
// with NO on B, and YES on B with NO on A. The pair score is the mean of
// the two market scores.
func pairCandidates(pair domain.MarketPair, scores map[string]float64) []engine.Candidate {
	score := (scores[pair.A.ID] + scores[pair.B.ID]) / 2
	out := make([]engine.Candidate, 0, 2)
	for _, o := range [2][2]domain.Market{{pair.A, pair.B}, {pair.B, pair.A}} {
		yes, no := o[0], o[1]
		out = append(out, engine.Candidate{
			Kind:        domain.OpportunityCrossVenue,
			Key:         pair.ID + ":yes@" + yes.Exchange,
			Title:       yes.Title,
			Score:       score,
			YesExchange: yes.Exchange,
			NoExchange:  no.Exchange,
			YesMarketID: yes.ID,
			NoMarketID:  no.ID,
			YesToken:    yes.YesToken,
			NoToken:     no.NoToken,
		})
	}
	return out
}

func marketsOf(rs []scorer.Ranked) []domain.Market {
	out := make([]domain.Market, len(rs))
	for i, r := range rs {
		out[i] = r.Market
	}
	return out
}

func scoresOf(groups ...[]scorer.Ranked) map[string]float64 {
	out := make(map[string]float64)
	for _, rs := range groups {
		for _, r := range rs {
			out[r.Market.ID] = r.Score
		}
	}
	return out
}
