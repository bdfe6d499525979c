// Package engine runs the arbitrage detection and execution loop. Each tick
// it walks the monitored markets, sizes YES+NO baskets against live depth,
// and pushes qualifying opportunities through the gated execution path.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/oddsfair/arbot/internal/alloc"
	"github.com/oddsfair/arbot/internal/book"
	"github.com/oddsfair/arbot/internal/domain"
	"github.com/oddsfair/arbot/internal/events"
	"github.com/oddsfair/arbot/internal/ratelimit"
	"github.com/oddsfair/arbot/internal/risk"
)

// Config tunes the engine. Zero values take defaults.
type Config struct {
	// MinProfitMargin is the required edge per basket after fees.
	MinProfitMargin float64
	// MinProfitDollars rejects opportunities whose absolute profit at the
	// sized quantity is too small to bother with.
	MinProfitDollars float64
	// TradingFeePercent is charged per leg on effective price times shares.
	TradingFeePercent float64
	// MaxSlippage is the tolerated relative cost regression between
	// detection and the pre-execution recheck.
	MaxSlippage float64
	// Tick is the detection loop interval.
	Tick time.Duration
	// OrderTimeout bounds both legs of an execution.
	OrderTimeout time.Duration
	// MaxBookAge rejects detection against books older than this.
	MaxBookAge time.Duration
	// StaleBookAge purges cached opportunities whose books went quiet.
	StaleBookAge time.Duration
	// CooldownWindow blocks repeat attempts per key.
	CooldownWindow time.Duration
	// MaxConcurrentPositions caps simultaneously open baskets.
	MaxConcurrentPositions int
	// Workers bounds parallel candidate evaluation. Defaults to
	// min(MaxConcurrentPositions, GOMAXPROCS).
	Workers int
	// FallbackBalance is assumed when a venue balance query fails, dollars.
	FallbackBalance float64
	// DetectOnly publishes opportunities without placing orders.
	DetectOnly bool
}

func (c *Config) defaults() {
	if c.MinProfitMargin <= 0 {
		c.MinProfitMargin = 0.02
	}
	if c.MinProfitDollars <= 0 {
		c.MinProfitDollars = 1.0
	}
	if c.TradingFeePercent <= 0 {
		c.TradingFeePercent = 0.01
	}
	if c.MaxSlippage <= 0 {
		c.MaxSlippage = 0.005
	}
	if c.Tick <= 0 {
		c.Tick = 250 * time.Millisecond
	}
	if c.OrderTimeout <= 0 {
		c.OrderTimeout = 3 * time.Second
	}
	if c.MaxBookAge <= 0 {
		c.MaxBookAge = 2 * time.Second
	}
	if c.StaleBookAge <= 0 {
		c.StaleBookAge = 10 * time.Second
	}
	if c.CooldownWindow <= 0 {
		c.CooldownWindow = 30 * time.Second
	}
	if c.MaxConcurrentPositions <= 0 {
		c.MaxConcurrentPositions = 10
	}
	if c.Workers <= 0 {
		c.Workers = c.MaxConcurrentPositions
		if n := runtime.GOMAXPROCS(0); n < c.Workers {
			c.Workers = n
		}
	}
	if c.FallbackBalance <= 0 {
		c.FallbackBalance = 1000
	}
}

// Candidate is one monitored basket source: a single-venue market or a
// cross-venue pair orientation.
type Candidate struct {
	Kind        domain.OpportunityKind
	Key         string // market ID or pair ID
	Title       string
	Score       float64
	YesExchange string
	NoExchange  string
	YesMarketID string
	NoMarketID  string
	YesToken    string
	NoToken     string
}

// PositionSink receives opened positions; the position monitor implements it.
type PositionSink interface {
	Open(ctx context.Context, pos domain.Position) error
	OpenCount() int
}

// Engine owns the detection tick and the per-candidate execution pipeline.
type Engine struct {
	cfg     Config
	books   *book.Registry
	clients map[string]domain.ExchangeClient
	limiter *ratelimit.Limiter

	cooldown *Cooldown
	locks    *LockTable
	opps     *Opportunities

	alloc     *alloc.Allocator
	riskMgr   *risk.Manager
	positions PositionSink
	trades    domain.TradeStore

	hub    *events.Hub
	logger *slog.Logger
	now    func() time.Time

	mu         sync.RWMutex
	candidates []Candidate
}

// New wires an Engine. All collaborators are required except trades, which
// may be nil in dry runs.
func New(
	cfg Config,
	books *book.Registry,
	clients map[string]domain.ExchangeClient,
	limiter *ratelimit.Limiter,
	allocator *alloc.Allocator,
	riskMgr *risk.Manager,
	positions PositionSink,
	trades domain.TradeStore,
	hub *events.Hub,
	logger *slog.Logger,
) *Engine {
	cfg.defaults()
	return &Engine{
		cfg:       cfg,
		books:     books,
		clients:   clients,
		limiter:   limiter,
		cooldown:  NewCooldown(cfg.CooldownWindow),
		locks:     NewLockTable(),
		opps:      NewOpportunities(),
		alloc:     allocator,
		riskMgr:   riskMgr,
		positions: positions,
		trades:    trades,
		hub:       hub,
		logger:    logger.With(slog.String("component", "engine")),
		now:       time.Now,
	}
}

// SetCandidates swaps the monitored candidate set. Called after each market
// refresh and rematch.
func (e *Engine) SetCandidates(cands []Candidate) {
	e.mu.Lock()
	e.candidates = cands
	e.mu.Unlock()
	e.logger.Info("candidate set updated", slog.Int("count", len(cands)))
}

// Opportunities exposes the cache for status surfaces.
func (e *Engine) Opportunities() *Opportunities { return e.opps }

// Run drives the detection tick until ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.Tick)
	defer ticker.Stop()

	sem := make(chan struct{}, e.cfg.Workers)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			e.purge()
			e.mu.RLock()
			cands := e.candidates
			e.mu.RUnlock()

			for _, cand := range cands {
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					wg.Wait()
					return ctx.Err()
				}
				wg.Add(1)
				go func(c Candidate) {
					defer wg.Done()
					defer func() { <-sem }()
					e.evaluate(ctx, c)
				}(cand)
			}
		}
	}
}

func (e *Engine) purge() {
	now := e.now()
	e.mu.RLock()
	byKey := make(map[string]Candidate, len(e.candidates))
	for _, c := range e.candidates {
		byKey[c.Key] = c
	}
	e.mu.RUnlock()

	e.opps.Purge(now, func(key string) bool {
		c, ok := byKey[key]
		if !ok {
			return true
		}
		return e.bookAge(c.YesToken, now) > e.cfg.StaleBookAge ||
			e.bookAge(c.NoToken, now) > e.cfg.StaleBookAge
	})
	e.cooldown.Prune(now)
}

func (e *Engine) bookAge(tokenID string, now time.Time) time.Duration {
	b, ok := e.books.Get(tokenID)
	if !ok {
		return time.Duration(1<<62 - 1)
	}
	return b.Age(now)
}

// evaluate runs the full critical section for one candidate: detect, size,
// gate, allocate, recheck, execute, reconcile. The per-key lock guarantees
// only one worker touches a market or pair at a time.
func (e *Engine) evaluate(ctx context.Context, c Candidate) {
	release, ok := e.locks.TryAcquire(c.Key)
	if !ok {
		return
	}
	defer release()

	opp, ok := e.detect(c)
	if !ok {
		return
	}

	stored := e.opps.Put(opp, e.now())
	if stored {
		e.hub.Publish(events.New(events.OpportunityDetected, opp.Key, map[string]any{
			"roi":      opp.ROI,
			"profit":   domain.MicroToDollars(opp.ProfitMicro),
			"combined": domain.TicksToPrice(opp.CombinedTicks()),
			"size":     domain.UnitsToSize(opp.SizeUnits),
			"momentum": string(opp.Momentum),
		}))
	}
	if cached, ok := e.opps.Get(opp.Key); ok {
		opp = cached
	}

	if !e.gates(opp) {
		return
	}
	if e.cfg.DetectOnly {
		return
	}
	e.execute(ctx, c, opp)
}

// maxCombinedTicks is the highest YES+NO effective cost that still clears
// the margin after per-leg fees: (1+fee)·combined <= 1-margin.
func (e *Engine) maxCombinedTicks() int64 {
	cap := (1 - e.cfg.MinProfitMargin) / (1 + e.cfg.TradingFeePercent)
	return domain.PriceToTicks(cap)
}

// detect sizes the largest basket that clears the margin. Returns false when
// books are missing, stale, empty on either side, or no size qualifies.
func (e *Engine) detect(c Candidate) (domain.Opportunity, bool) {
	now := e.now()
	yesBook, okY := e.books.Get(c.YesToken)
	noBook, okN := e.books.Get(c.NoToken)
	if !okY || !okN {
		return domain.Opportunity{}, false
	}
	if yesBook.Age(now) > e.cfg.MaxBookAge || noBook.Age(now) > e.cfg.MaxBookAge {
		return domain.Opportunity{}, false
	}

	yesAsks := yesBook.Walk(domain.SideAsk, 0)
	noAsks := noBook.Walk(domain.SideAsk, 0)
	if len(yesAsks) == 0 || len(noAsks) == 0 {
		return domain.Opportunity{}, false
	}

	var yesDepth, noDepth int64
	for _, l := range yesAsks {
		yesDepth += l.SizeUnits
	}
	for _, l := range noAsks {
		noDepth += l.SizeUnits
	}
	maxSize := yesDepth
	if noDepth < maxSize {
		maxSize = noDepth
	}

	yImp, nImp, ok := book.FindOptimalSize(yesAsks, noAsks, e.maxCombinedTicks(), maxSize)
	if !ok {
		return domain.Opportunity{}, false
	}

	opp := e.buildOpportunity(c, yImp, nImp, now)
	if opp.ProfitMicro < domain.DollarsToMicro(e.cfg.MinProfitDollars) {
		e.hub.Publish(events.New(events.BelowMinProfit, c.Key, map[string]any{
			"profit": domain.MicroToDollars(opp.ProfitMicro),
			"roi":    opp.ROI,
		}))
		return domain.Opportunity{}, false
	}
	return opp, true
}

func (e *Engine) buildOpportunity(c Candidate, yImp, nImp book.Impact, now time.Time) domain.Opportunity {
	size := yImp.SizeUnits
	if nImp.SizeUnits < size {
		size = nImp.SizeUnits
	}
	gross := yImp.CostMicro + nImp.CostMicro
	fees := e.legFee(yImp.EffPriceTicks, size) + e.legFee(nImp.EffPriceTicks, size)
	payout := domain.NotionalMicro(domain.PriceScale, size) // $1 per share
	profit := payout - gross - fees

	var roi float64
	if gross+fees > 0 {
		roi = float64(profit) / float64(gross+fees)
	}

	return domain.Opportunity{
		ID:    uuid.NewString(),
		Kind:  c.Kind,
		Key:   c.Key,
		Title: c.Title,
		Yes: domain.OpportunityLeg{
			Exchange:      c.YesExchange,
			MarketID:      c.YesMarketID,
			TokenID:       c.YesToken,
			EffPriceTicks: yImp.EffPriceTicks,
			Levels:        yImp.Levels,
		},
		No: domain.OpportunityLeg{
			Exchange:      c.NoExchange,
			MarketID:      c.NoMarketID,
			TokenID:       c.NoToken,
			EffPriceTicks: nImp.EffPriceTicks,
			Levels:        nImp.Levels,
		},
		SizeUnits:      size,
		GrossCostMicro: gross,
		FeesMicro:      fees,
		ProfitMicro:    profit,
		ROI:            roi,
		Score:          c.Score,
		ObservedAt:     now,
	}
}

// legFee charges the venue fee on effective price times shares.
func (e *Engine) legFee(effTicks, sizeUnits int64) int64 {
	notional := domain.NotionalMicro(effTicks, sizeUnits)
	return int64(float64(notional) * e.cfg.TradingFeePercent)
}

// gates applies the pre-allocation checks. Failures are quiet except for
// logging; they are normal steady-state outcomes.
func (e *Engine) gates(opp domain.Opportunity) bool {
	now := e.now()
	if !e.cooldown.CanTrade(opp.Key, now) {
		return false
	}
	if e.riskMgr.Halted() {
		e.logger.Debug("entry blocked, risk halted", slog.String("key", opp.Key))
		return false
	}
	if e.positions.OpenCount() >= e.cfg.MaxConcurrentPositions {
		e.logger.Debug("entry blocked, position cap", slog.String("key", opp.Key))
		return false
	}
	return true
}

// balanceMicro returns the smaller of the two involved venue balances,
// falling back to the configured assumption when a query fails.
func (e *Engine) balanceMicro(ctx context.Context, opp domain.Opportunity) int64 {
	min := int64(-1)
	for _, ex := range []string{opp.Yes.Exchange, opp.No.Exchange} {
		client, ok := e.clients[ex]
		if !ok {
			continue
		}
		bal, err := client.GetBalance(ctx)
		if err != nil {
			e.logger.Warn("balance query failed, using fallback",
				slog.String("exchange", ex), slog.Any("error", err))
			bal = e.cfg.FallbackBalance
		}
		m := domain.DollarsToMicro(bal)
		if min < 0 || m < min {
			min = m
		}
	}
	if min < 0 {
		return domain.DollarsToMicro(e.cfg.FallbackBalance)
	}
	return min
}

// execute allocates capital, rechecks slippage against fresh depth, places
// both FOK legs concurrently and reconciles the outcome. The cooldown is
// stamped on every path out of here.
func (e *Engine) execute(ctx context.Context, c Candidate, opp domain.Opportunity) {
	defer e.cooldown.Record(opp.Key, e.now())

	balance := e.balanceMicro(ctx, opp)

	topFrac := e.topDepthFraction(c, opp.SizeUnits)
	spend, allocSize, bd := e.alloc.Allocate(opp, e.riskMgr.DailyPnLMicro(), balance, topFrac, e.now())
	size := opp.SizeUnits
	if allocSize < size {
		size = allocSize
	}
	if size < domain.SizeScale {
		e.logger.Debug("allocation below one share", slog.String("key", opp.Key),
			slog.Float64("spend", domain.MicroToDollars(spend)))
		return
	}

	yesLimit, noLimit, ok := e.recheck(c, opp, size)
	if !ok {
		return
	}

	e.logger.Info("executing basket",
		slog.String("key", opp.Key),
		slog.Float64("size", domain.UnitsToSize(size)),
		slog.Float64("roi", opp.ROI),
		slog.Float64("buffer", bd.Buffer))

	yesRes, noRes := e.placeLegs(ctx, opp, size, yesLimit, noLimit)
	e.reconcile(ctx, opp, size, yesRes, noRes)
}

// topDepthFraction is how much of the thinner top-of-book level the trade
// would consume, for the allocator's dynamic buffer.
func (e *Engine) topDepthFraction(c Candidate, sizeUnits int64) float64 {
	thinnest := int64(-1)
	for _, tok := range []string{c.YesToken, c.NoToken} {
		b, ok := e.books.Get(tok)
		if !ok {
			continue
		}
		if top, ok := b.Best(domain.SideAsk); ok {
			if thinnest < 0 || top.SizeUnits < thinnest {
				thinnest = top.SizeUnits
			}
		}
	}
	if thinnest <= 0 {
		return 1
	}
	f := float64(sizeUnits) / float64(thinnest)
	if f > 1 {
		f = 1
	}
	return f
}

// limitPadTicks is one venue price tick (0.001). Limits are quoted one tick
// above the deepest level the sweep consumes so an FOK can clear the whole
// ladder segment.
const limitPadTicks = domain.PriceScale / 1000

// recheck re-walks both books at the final size just before execution.
// If the combined cost regressed beyond MaxSlippage, no longer clears the
// margin, or the dollar profit at this size is under the floor, the attempt
// is abandoned. The returned limits are the worst consumed level plus one
// tick, the price an immediate full fill actually needs.
func (e *Engine) recheck(c Candidate, opp domain.Opportunity, size int64) (yesLimit, noLimit int64, ok bool) {
	yesBook, okY := e.books.Get(c.YesToken)
	noBook, okN := e.books.Get(c.NoToken)
	if !okY || !okN {
		return 0, 0, false
	}
	yImp := book.EffectiveCost(yesBook.Walk(domain.SideAsk, 0), size)
	nImp := book.EffectiveCost(noBook.Walk(domain.SideAsk, 0), size)
	if yImp.DepthExhausted || nImp.DepthExhausted {
		e.publishSlippage(opp, yImp.EffPriceTicks+nImp.EffPriceTicks, "depth vanished")
		return 0, 0, false
	}

	fresh := yImp.EffPriceTicks + nImp.EffPriceTicks
	detected := opp.CombinedTicks()
	slipped := float64(fresh-detected) / float64(detected)
	if slipped > e.cfg.MaxSlippage || fresh > e.maxCombinedTicks() {
		e.publishSlippage(opp, fresh, "cost regressed")
		return 0, 0, false
	}

	// The allocator may have shrunk the basket; the dollar floor has to hold
	// at the size we are actually about to trade.
	gross := yImp.CostMicro + nImp.CostMicro
	fees := e.legFee(yImp.EffPriceTicks, size) + e.legFee(nImp.EffPriceTicks, size)
	profit := domain.NotionalMicro(domain.PriceScale, size) - gross - fees
	if profit < domain.DollarsToMicro(e.cfg.MinProfitDollars) {
		e.logger.Debug("sized profit below floor",
			slog.String("key", opp.Key),
			slog.Float64("size", domain.UnitsToSize(size)),
			slog.Float64("profit", domain.MicroToDollars(profit)))
		e.hub.Publish(events.New(events.BelowMinProfit, opp.Key, map[string]any{
			"profit": domain.MicroToDollars(profit),
			"size":   domain.UnitsToSize(size),
		}))
		return 0, 0, false
	}

	return yImp.WorstPriceTicks + limitPadTicks, nImp.WorstPriceTicks + limitPadTicks, true
}

func (e *Engine) publishSlippage(opp domain.Opportunity, freshCombined int64, why string) {
	e.logger.Info("slippage recheck failed",
		slog.String("key", opp.Key),
		slog.String("reason", why),
		slog.Float64("detected", domain.TicksToPrice(opp.CombinedTicks())),
		slog.Float64("fresh", domain.TicksToPrice(freshCombined)))
	e.hub.Publish(events.New(events.SlippageExceeded, opp.Key, map[string]any{
		"reason":   why,
		"detected": domain.TicksToPrice(opp.CombinedTicks()),
		"fresh":    domain.TicksToPrice(freshCombined),
	}))
}

// placeLegs fires both FOK buys concurrently under the shared order timeout.
func (e *Engine) placeLegs(ctx context.Context, opp domain.Opportunity, size, yesLimit, noLimit int64) (yesRes, noRes domain.OrderResult) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		yesRes = e.placeLeg(gctx, opp.Yes, size, yesLimit)
		return nil
	})
	g.Go(func() error {
		noRes = e.placeLeg(gctx, opp.No, size, noLimit)
		return nil
	})
	_ = g.Wait()
	return yesRes, noRes
}

func (e *Engine) placeLeg(ctx context.Context, leg domain.OpportunityLeg, size, limit int64) domain.OrderResult {
	client, ok := e.clients[leg.Exchange]
	if !ok {
		return domain.OrderResult{Status: domain.OrderStatusRejected, Reason: "no client for " + leg.Exchange}
	}
	if err := e.limiter.Acquire(ctx, leg.Exchange, ratelimit.Critical); err != nil {
		return domain.OrderResult{Status: domain.OrderStatusRejected, Reason: fmt.Sprintf("rate limiter: %v", err)}
	}
	res, err := client.PlaceOrder(ctx, domain.OrderRequest{
		MarketID:   leg.MarketID,
		TokenID:    leg.TokenID,
		Side:       domain.OrderSideBuy,
		Type:       domain.OrderTypeFOK,
		PriceTicks: limit,
		SizeUnits:  size,
	})
	if err != nil {
		if ctx.Err() != nil {
			return domain.OrderResult{Status: domain.OrderStatusTimeout, Reason: err.Error()}
		}
		return domain.OrderResult{Status: domain.OrderStatusRejected, Reason: err.Error()}
	}
	return res
}

// reconcile handles the three outcomes: both filled, one filled, none.
func (e *Engine) reconcile(ctx context.Context, opp domain.Opportunity, size int64, yesRes, noRes domain.OrderResult) {
	switch {
	case yesRes.Filled() && noRes.Filled():
		e.openPosition(ctx, opp, size, yesRes, noRes)

	case yesRes.Filled() != noRes.Filled():
		e.unwind(ctx, opp, size, yesRes, noRes)

	default:
		e.logger.Info("both legs rejected",
			slog.String("key", opp.Key),
			slog.String("yes_reason", yesRes.Reason),
			slog.String("no_reason", noRes.Reason))
		e.hub.Publish(events.New(events.FillRejected, opp.Key, map[string]any{
			"yes_reason": yesRes.Reason,
			"no_reason":  noRes.Reason,
		}))
	}
	e.opps.Remove(opp.Key)
}

func (e *Engine) openPosition(ctx context.Context, opp domain.Opportunity, size int64, yesRes, noRes domain.OrderResult) {
	now := e.now()
	posID := uuid.NewString()
	entry := domain.NotionalMicro(yesRes.PriceTicks+noRes.PriceTicks, size) +
		yesRes.FeeMicro + noRes.FeeMicro

	trades := []domain.Trade{
		{
			ID: uuid.NewString(), Exchange: opp.Yes.Exchange, VenueOrderID: yesRes.VenueOrderID,
			PositionID: posID, MarketID: opp.Yes.MarketID, TokenID: opp.Yes.TokenID,
			Side: domain.OrderSideBuy, PriceTicks: yesRes.PriceTicks, SizeUnits: size,
			FeeMicro: yesRes.FeeMicro, ExecutedAt: now,
		},
		{
			ID: uuid.NewString(), Exchange: opp.No.Exchange, VenueOrderID: noRes.VenueOrderID,
			PositionID: posID, MarketID: opp.No.MarketID, TokenID: opp.No.TokenID,
			Side: domain.OrderSideBuy, PriceTicks: noRes.PriceTicks, SizeUnits: size,
			FeeMicro: noRes.FeeMicro, ExecutedAt: now,
		},
	}
	if e.trades != nil {
		if err := e.trades.InsertBatch(ctx, trades); err != nil {
			e.logger.Error("persist trades", slog.Any("error", err))
		}
	}

	pos := domain.Position{
		ID:          posID,
		Kind:        opp.Kind,
		Key:         opp.Key,
		Title:       opp.Title,
		YesExchange: opp.Yes.Exchange,
		NoExchange:  opp.No.Exchange,
		YesMarketID: opp.Yes.MarketID,
		NoMarketID:  opp.No.MarketID,
		YesToken:    opp.Yes.TokenID,
		NoToken:     opp.No.TokenID,
		SizeUnits:   size,
		YesAvgTicks: yesRes.PriceTicks,
		NoAvgTicks:  noRes.PriceTicks,
		EntryMicro:  entry,
		Status:      domain.PositionStatusOpen,
		OpenedAt:    now,
	}
	if err := e.positions.Open(ctx, pos); err != nil {
		e.logger.Error("open position", slog.Any("error", err))
		return
	}

	e.logger.Info("basket filled",
		slog.String("key", opp.Key),
		slog.String("position_id", posID),
		slog.Float64("size", domain.UnitsToSize(size)),
		slog.Float64("entry", domain.MicroToDollars(entry)))
	e.hub.Publish(events.New(events.TradeExecuted, opp.Key, map[string]any{
		"position_id": posID,
		"size":        domain.UnitsToSize(size),
		"entry":       domain.MicroToDollars(entry),
	}))
	e.hub.Publish(events.New(events.PositionOpened, opp.Key, map[string]any{
		"position_id": posID,
	}))
}

// unwind sells back the single filled leg immediately. The sell is FAK
// against the current bids so whatever can come back does.
func (e *Engine) unwind(ctx context.Context, opp domain.Opportunity, size int64, yesRes, noRes domain.OrderResult) {
	filledLeg, filledRes := opp.Yes, yesRes
	otherRes := noRes
	if noRes.Filled() {
		filledLeg, filledRes = opp.No, noRes
		otherRes = yesRes
	}
	if otherRes.Status == domain.OrderStatusTimeout {
		e.logger.Warn("unfilled leg timed out, fill state unknown",
			slog.String("key", opp.Key), slog.String("exchange", filledLeg.Exchange))
	}

	// Sell at any price down to a floor well under the fill.
	floor := filledRes.PriceTicks - filledRes.PriceTicks/10
	res := e.placeSell(ctx, filledLeg, size, floor)

	recovered := int64(0)
	if res.Filled() {
		recovered = domain.NotionalMicro(res.PriceTicks, res.SizeUnits) - res.FeeMicro
	}
	spent := domain.NotionalMicro(filledRes.PriceTicks, size) + filledRes.FeeMicro
	loss := spent - recovered
	e.riskMgr.RecordPnL(-loss)

	e.logger.Warn("partial fill unwound",
		slog.String("key", opp.Key),
		slog.String("exchange", filledLeg.Exchange),
		slog.Float64("loss", domain.MicroToDollars(loss)))
	e.hub.Publish(events.New(events.PartialFillUnwound, opp.Key, map[string]any{
		"exchange":  filledLeg.Exchange,
		"loss":      domain.MicroToDollars(loss),
		"recovered": domain.MicroToDollars(recovered),
	}))

	if e.trades != nil && res.Filled() {
		t := domain.Trade{
			ID: uuid.NewString(), Exchange: filledLeg.Exchange, VenueOrderID: res.VenueOrderID,
			MarketID: filledLeg.MarketID, TokenID: filledLeg.TokenID,
			Side: domain.OrderSideSell, PriceTicks: res.PriceTicks, SizeUnits: res.SizeUnits,
			FeeMicro: res.FeeMicro, ExecutedAt: e.now(),
		}
		if err := e.trades.InsertBatch(ctx, []domain.Trade{t}); err != nil {
			e.logger.Error("persist unwind trade", slog.Any("error", err))
		}
	}
}

func (e *Engine) placeSell(ctx context.Context, leg domain.OpportunityLeg, size, limit int64) domain.OrderResult {
	client, ok := e.clients[leg.Exchange]
	if !ok {
		return domain.OrderResult{Status: domain.OrderStatusRejected, Reason: "no client"}
	}
	// Unwinds ride the critical class too; they reduce exposure.
	if err := e.limiter.Acquire(ctx, leg.Exchange, ratelimit.Critical); err != nil {
		return domain.OrderResult{Status: domain.OrderStatusRejected, Reason: err.Error()}
	}
	res, err := client.PlaceOrder(ctx, domain.OrderRequest{
		MarketID:   leg.MarketID,
		TokenID:    leg.TokenID,
		Side:       domain.OrderSideSell,
		Type:       domain.OrderTypeFAK,
		PriceTicks: limit,
		SizeUnits:  size,
	})
	if err != nil {
		return domain.OrderResult{Status: domain.OrderStatusRejected, Reason: err.Error()}
	}
	return res
}
