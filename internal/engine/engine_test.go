package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsfair/arbot/internal/alloc"
	"github.com/oddsfair/arbot/internal/book"
	"github.com/oddsfair/arbot/internal/domain"
	"github.com/oddsfair/arbot/internal/events"
	"github.com/oddsfair/arbot/internal/ratelimit"
	"github.com/oddsfair/arbot/internal/risk"
)

type fakeClient struct {
	name    string
	balance float64

	mu      sync.Mutex
	results map[string]domain.OrderResult // keyed by token ID
	orders  []domain.OrderRequest
}

func newFakeClient(name string) *fakeClient {
	return &fakeClient{name: name, balance: 1000, results: make(map[string]domain.OrderResult)}
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) ListMarkets(ctx context.Context, limit int) ([]domain.Market, error) {
	return nil, nil
}

func (f *fakeClient) SubscribeBook(ctx context.Context, tokenIDs []string, sink domain.BookSink) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeClient) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, req)
	res, ok := f.results[req.TokenID]
	if !ok {
		res = domain.OrderResult{
			Status:       domain.OrderStatusFilled,
			VenueOrderID: f.name + "-" + req.TokenID,
			PriceTicks:   req.PriceTicks,
			SizeUnits:    req.SizeUnits,
			ExecutedAt:   time.Now(),
		}
	}
	return res, nil
}

func (f *fakeClient) GetBalance(ctx context.Context) (float64, error) {
	return f.balance, nil
}

func (f *fakeClient) placed() []domain.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.OrderRequest, len(f.orders))
	copy(out, f.orders)
	return out
}

type fakeSink struct {
	mu        sync.Mutex
	positions []domain.Position
}

func (s *fakeSink) Open(ctx context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = append(s.positions, pos)
	return nil
}

func (s *fakeSink) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.positions)
}

type fakeTradeStore struct {
	mu     sync.Mutex
	trades []domain.Trade
}

func (s *fakeTradeStore) InsertBatch(ctx context.Context, trades []domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, trades...)
	return nil
}

func (s *fakeTradeStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	return nil, nil
}

func (s *fakeTradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	return nil, nil
}

func (s *fakeTradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (s *fakeTradeStore) SumFeesSince(ctx context.Context, since time.Time) (int64, error) {
	return 0, nil
}

func (s *fakeTradeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trades)
}

type harness struct {
	engine *Engine
	books  *book.Registry
	client *fakeClient
	sink   *fakeSink
	store  *fakeTradeStore
	hub    *events.Hub
	risk   *risk.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := events.NewHub(logger)
	books := book.NewRegistry(0)
	client := newFakeClient("polymarket")
	sink := &fakeSink{}
	store := &fakeTradeStore{}
	riskMgr := risk.New(risk.Config{}, hub, logger)
	limiter := ratelimit.New(ratelimit.Config{
		Critical: ratelimit.Limit{Requests: 1000, Window: time.Second},
	}, logger)
	allocator := alloc.New(alloc.Config{}, logger)

	eng := New(Config{}, books,
		map[string]domain.ExchangeClient{"polymarket": client},
		limiter, allocator, riskMgr, sink, store, hub, logger)

	return &harness{engine: eng, books: books, client: client, sink: sink, store: store, hub: hub, risk: riskMgr}
}

func (h *harness) seed(token string, asks ...domain.PriceLevel) {
	h.books.OnSnapshot(domain.BookSnapshot{
		TokenID:   token,
		Bids:      []domain.PriceLevel{{PriceTicks: asks[0].PriceTicks - 20_000, SizeUnits: asks[0].SizeUnits}},
		Asks:      asks,
		Seq:       1,
		Timestamp: time.Now(),
	})
}

func level(price, size float64) domain.PriceLevel {
	return domain.PriceLevel{PriceTicks: domain.PriceToTicks(price), SizeUnits: domain.SizeToUnits(size)}
}

func testCandidate() Candidate {
	return Candidate{
		Kind:        domain.OpportunitySingleVenue,
		Key:         "polymarket:m1",
		Title:       "test market",
		Score:       75,
		YesExchange: "polymarket",
		NoExchange:  "polymarket",
		YesMarketID: "polymarket:m1",
		NoMarketID:  "polymarket:m1",
		YesToken:    "yes1",
		NoToken:     "no1",
	}
}

func TestDetectFindsProfitableBasket(t *testing.T) {
	h := newHarness(t)
	h.seed("yes1", level(0.45, 200))
	h.seed("no1", level(0.48, 200))

	opp, ok := h.engine.detect(testCandidate())
	require.True(t, ok)
	assert.Equal(t, domain.PriceToTicks(0.93), opp.CombinedTicks())
	assert.Greater(t, opp.ROI, 0.02)
	assert.Greater(t, opp.ProfitMicro, domain.DollarsToMicro(1))
}

func TestDetectRejectsThinEdge(t *testing.T) {
	h := newHarness(t)
	// 0.50 + 0.49 = 0.99: under fees and margin this cannot qualify.
	h.seed("yes1", level(0.50, 200))
	h.seed("no1", level(0.49, 200))

	_, ok := h.engine.detect(testCandidate())
	assert.False(t, ok)
}

func TestDetectRejectsEmptySide(t *testing.T) {
	h := newHarness(t)
	h.seed("yes1", level(0.45, 200))
	// no book for no1 at all
	_, ok := h.engine.detect(testCandidate())
	assert.False(t, ok)
}

func TestEvaluateHappyPathOpensPosition(t *testing.T) {
	h := newHarness(t)
	h.seed("yes1", level(0.44, 200))
	h.seed("no1", level(0.48, 200))

	ch, cancel := h.hub.Subscribe(16)
	defer cancel()

	h.engine.evaluate(context.Background(), testCandidate())

	require.Equal(t, 1, h.sink.OpenCount(), "position opened")
	pos := h.sink.positions[0]
	// The fake fills at the limit, which sits one tick above the level.
	assert.Equal(t, pos.YesAvgTicks, domain.PriceToTicks(0.441))
	assert.Equal(t, pos.NoAvgTicks, domain.PriceToTicks(0.481))
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	assert.Equal(t, 2, h.store.count(), "both legs persisted")

	kinds := drainKinds(ch)
	assert.Contains(t, kinds, events.OpportunityDetected)
	assert.Contains(t, kinds, events.TradeExecuted)
	assert.Contains(t, kinds, events.PositionOpened)
}

func TestEvaluatePartialFillUnwinds(t *testing.T) {
	h := newHarness(t)
	h.seed("yes1", level(0.44, 200))
	h.seed("no1", level(0.48, 200))
	h.client.results["no1"] = domain.OrderResult{Status: domain.OrderStatusRejected, Reason: "insufficient liquidity"}

	ch, cancel := h.hub.Subscribe(16)
	defer cancel()

	h.engine.evaluate(context.Background(), testCandidate())

	assert.Zero(t, h.sink.OpenCount(), "no position on partial fill")
	kinds := drainKinds(ch)
	assert.Contains(t, kinds, events.PartialFillUnwound)

	// A sell against the filled YES leg must have gone out.
	var sells int
	for _, o := range h.client.placed() {
		if o.Side == domain.OrderSideSell && o.TokenID == "yes1" {
			sells++
		}
	}
	assert.Equal(t, 1, sells)
}

func TestEvaluateBothRejected(t *testing.T) {
	h := newHarness(t)
	h.seed("yes1", level(0.44, 200))
	h.seed("no1", level(0.48, 200))
	h.client.results["yes1"] = domain.OrderResult{Status: domain.OrderStatusRejected, Reason: "gone"}
	h.client.results["no1"] = domain.OrderResult{Status: domain.OrderStatusRejected, Reason: "gone"}

	ch, cancel := h.hub.Subscribe(16)
	defer cancel()

	h.engine.evaluate(context.Background(), testCandidate())

	assert.Zero(t, h.sink.OpenCount())
	assert.Zero(t, h.store.count())
	assert.Contains(t, drainKinds(ch), events.FillRejected)
}

func TestCooldownBlocksSecondAttempt(t *testing.T) {
	h := newHarness(t)
	h.seed("yes1", level(0.44, 200))
	h.seed("no1", level(0.48, 200))

	h.engine.evaluate(context.Background(), testCandidate())
	require.Equal(t, 1, h.sink.OpenCount())

	// Books are still attractive, but the cooldown holds.
	h.engine.evaluate(context.Background(), testCandidate())
	assert.Equal(t, 1, h.sink.OpenCount())
}

func TestRiskHaltBlocksEntry(t *testing.T) {
	h := newHarness(t)
	h.seed("yes1", level(0.45, 200))
	h.seed("no1", level(0.48, 200))

	ctx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go func() { _ = h.risk.Run(ctx) }()
	h.risk.RecordPnL(domain.DollarsToMicro(-60))
	require.Eventually(t, h.risk.Halted, time.Second, time.Millisecond)

	h.engine.evaluate(context.Background(), testCandidate())
	assert.Zero(t, h.sink.OpenCount())
}

func TestRecheckSlippage(t *testing.T) {
	h := newHarness(t)
	h.seed("yes1", level(0.45, 200))
	h.seed("no1", level(0.48, 200))

	cand := testCandidate()
	opp, ok := h.engine.detect(cand)
	require.True(t, ok)

	// Books worsen past the slippage band before execution.
	h.books.OnSnapshot(domain.BookSnapshot{
		TokenID:   "yes1",
		Asks:      []domain.PriceLevel{level(0.47, 200)},
		Seq:       2,
		Timestamp: time.Now(),
	})

	ch, cancel := h.hub.Subscribe(16)
	defer cancel()

	_, _, ok = h.engine.recheck(cand, opp, domain.SizeToUnits(10))
	assert.False(t, ok)
	assert.Contains(t, drainKinds(ch), events.SlippageExceeded)
}

func TestEvaluateSkipsWhenSizedProfitBelowFloor(t *testing.T) {
	h := newHarness(t)
	// 0.48 + 0.49 = 0.97 clears the margin, and the full 100-share basket
	// earns ~$2. The allocator commits only a handful of shares though, and
	// at that size the basket earns well under the $1 floor.
	h.seed("yes1", level(0.48, 100))
	h.seed("no1", level(0.49, 100))

	ch, cancel := h.hub.Subscribe(16)
	defer cancel()

	h.engine.evaluate(context.Background(), testCandidate())

	assert.Zero(t, h.sink.OpenCount(), "no position below the dollar floor")
	assert.Empty(t, h.client.placed(), "no orders placed")
	kinds := drainKinds(ch)
	assert.Contains(t, kinds, events.OpportunityDetected)
	assert.Contains(t, kinds, events.BelowMinProfit)
}

func TestRecheckLimitsSitOneTickAboveWorstLevel(t *testing.T) {
	h := newHarness(t)
	h.seed("yes1", level(0.44, 5), level(0.45, 200))
	h.seed("no1", level(0.46, 200))

	cand := testCandidate()
	opp, ok := h.engine.detect(cand)
	require.True(t, ok)

	// 20 shares sweep through both YES levels; the limit must cover the
	// deeper one, not the volume-weighted average.
	yesLimit, noLimit, ok := h.engine.recheck(cand, opp, domain.SizeToUnits(20))
	require.True(t, ok)
	assert.Equal(t, domain.PriceToTicks(0.451), yesLimit)
	assert.Equal(t, domain.PriceToTicks(0.461), noLimit)
}

func TestPositionCapBlocksEntry(t *testing.T) {
	h := newHarness(t)
	h.seed("yes1", level(0.45, 200))
	h.seed("no1", level(0.48, 200))

	for i := 0; i < h.engine.cfg.MaxConcurrentPositions; i++ {
		_ = h.sink.Open(context.Background(), domain.Position{ID: "x"})
	}
	before := h.sink.OpenCount()
	h.engine.evaluate(context.Background(), testCandidate())
	assert.Equal(t, before, h.sink.OpenCount())
}

func drainKinds(ch <-chan events.Event) []events.Kind {
	var kinds []events.Kind
	for {
		select {
		case ev := <-ch:
			kinds = append(kinds, ev.Kind)
		default:
			return kinds
		}
	}
}
