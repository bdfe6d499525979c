package monitor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsfair/arbot/internal/book"
	"github.com/oddsfair/arbot/internal/domain"
	"github.com/oddsfair/arbot/internal/events"
	"github.com/oddsfair/arbot/internal/ratelimit"
	"github.com/oddsfair/arbot/internal/risk"
)

type sellFn func(req domain.OrderRequest) (domain.OrderResult, error)

type fakeClient struct {
	name string
	mu   sync.Mutex
	sell sellFn
	reqs []domain.OrderRequest
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
	f.reqs = append(f.reqs, req)
	fn := f.sell
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return domain.OrderResult{
		Status:     domain.OrderStatusFilled,
		PriceTicks: req.PriceTicks,
		SizeUnits:  req.SizeUnits,
		ExecutedAt: time.Now(),
	}, nil
}

func (f *fakeClient) GetBalance(ctx context.Context) (float64, error) { return 1000, nil }

type fakeQuotes struct {
	quotes map[string]domain.Quote
}

func (f *fakeQuotes) SetQuote(ctx context.Context, q domain.Quote) error { return nil }

func (f *fakeQuotes) GetQuote(ctx context.Context, tokenID string) (domain.Quote, error) {
	q, ok := f.quotes[tokenID]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	return q, nil
}

func (f *fakeQuotes) GetQuotes(ctx context.Context, tokenIDs []string) (map[string]domain.Quote, error) {
	return f.quotes, nil
}

type fakePositions struct {
	open []domain.Position
}

func (f *fakePositions) Create(ctx context.Context, pos domain.Position) error { return nil }
func (f *fakePositions) Update(ctx context.Context, pos domain.Position) error { return nil }

func (f *fakePositions) GetByID(ctx context.Context, id string) (domain.Position, error) {
	return domain.Position{}, domain.ErrNotFound
}

func (f *fakePositions) ListOpen(ctx context.Context) ([]domain.Position, error) {
	return f.open, nil
}

func (f *fakePositions) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

func (f *fakePositions) SumRealizedSince(ctx context.Context, since time.Time) (int64, error) {
	return 0, nil
}

type harness struct {
	monitor *Monitor
	books   *book.Registry
	client  *fakeClient
	risk    *risk.Manager
	hub     *events.Hub
}

func newHarness(t *testing.T, cfg Config, prices domain.PriceCache) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := events.NewHub(logger)
	books := book.NewRegistry(0)
	client := &fakeClient{name: "polymarket"}
	riskMgr := risk.New(risk.Config{}, hub, logger)
	limiter := ratelimit.New(ratelimit.Config{
		Critical: ratelimit.Limit{Requests: 1000, Window: time.Second},
	}, logger)

	m := New(cfg, books, prices,
		map[string]domain.ExchangeClient{"polymarket": client},
		limiter, riskMgr, nil, hub, logger)
	return &harness{monitor: m, books: books, client: client, risk: riskMgr, hub: hub}
}

func openPosition(t *testing.T, h *harness) domain.Position {
	t.Helper()
	pos := domain.Position{
		ID:          "pos1",
		Kind:        domain.OpportunitySingleVenue,
		Key:         "polymarket:m1",
		YesExchange: "polymarket",
		NoExchange:  "polymarket",
		YesMarketID: "polymarket:m1",
		NoMarketID:  "polymarket:m1",
		YesToken:    "yes1",
		NoToken:     "no1",
		SizeUnits:   domain.SizeToUnits(100),
		YesAvgTicks: domain.PriceToTicks(0.45),
		NoAvgTicks:  domain.PriceToTicks(0.48),
		EntryMicro:  domain.DollarsToMicro(93),
		Status:      domain.PositionStatusOpen,
		OpenedAt:    time.Now(),
	}
	require.NoError(t, h.monitor.Open(context.Background(), pos))
	return pos
}

func seedBid(h *harness, token string, bid float64) {
	h.books.OnSnapshot(domain.BookSnapshot{
		TokenID: token,
		Bids: []domain.PriceLevel{{
			PriceTicks: domain.PriceToTicks(bid), SizeUnits: domain.SizeToUnits(1000),
		}},
		Asks: []domain.PriceLevel{{
			PriceTicks: domain.PriceToTicks(bid + 0.02), SizeUnits: domain.SizeToUnits(1000),
		}},
		Seq:       1,
		Timestamp: time.Now(),
	})
}

func TestOpenCountTracksPositions(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	assert.Zero(t, h.monitor.OpenCount())
	openPosition(t, h)
	assert.Equal(t, 1, h.monitor.OpenCount())
	assert.Equal(t, 1, h.risk.Status().OpenPositions)
}

func TestRestoreReloadsOpenPositions(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := events.NewHub(logger)
	books := book.NewRegistry(0)
	riskMgr := risk.New(risk.Config{}, hub, logger)
	limiter := ratelimit.New(ratelimit.Config{}, logger)
	store := &fakePositions{open: []domain.Position{
		{ID: "pos1", Status: domain.PositionStatusOpen},
		{ID: "pos2", Status: domain.PositionStatusOpen},
	}}

	m := New(Config{}, books, nil,
		map[string]domain.ExchangeClient{"polymarket": &fakeClient{name: "polymarket"}},
		limiter, riskMgr, store, hub, logger)

	require.NoError(t, m.Restore(context.Background()))
	assert.Equal(t, 2, m.OpenCount())
	assert.Equal(t, 2, riskMgr.Status().OpenPositions)
}

func TestPollMarksAndTripsStopLoss(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	openPosition(t, h)
	// Bids collapsed: value 100*(0.40+0.42)=82 vs entry 93, -11.8%.
	seedBid(h, "yes1", 0.40)
	seedBid(h, "no1", 0.42)

	h.monitor.poll(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.risk.Run(ctx) }()

	select {
	case sig := <-h.risk.Exits():
		assert.Equal(t, "pos1", sig.PositionID)
		assert.Equal(t, domain.ExitStopLoss, sig.Reason)
	case <-time.After(time.Second):
		t.Fatal("expected stop-loss exit signal")
	}
}

func TestPollSkipsWhenBidsUnavailable(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	openPosition(t, h)
	// No books at all: no marks, no signals.
	h.monitor.poll(context.Background())
	assert.Zero(t, h.risk.HighWater("pos1"))
}

func TestBestBidFallsBackToPriceCache(t *testing.T) {
	prices := &fakeQuotes{quotes: map[string]domain.Quote{
		"yes1": {TokenID: "yes1", BidTicks: domain.PriceToTicks(0.44), Timestamp: time.Now()},
	}}
	h := newHarness(t, Config{}, prices)

	bid, ok := h.monitor.bestBid(context.Background(), "yes1")
	require.True(t, ok)
	assert.Equal(t, domain.PriceToTicks(0.44), bid)

	_, ok = h.monitor.bestBid(context.Background(), "unknown")
	assert.False(t, ok)
}

func TestExitSellsBothLegsAndCloses(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	openPosition(t, h)
	seedBid(h, "yes1", 0.50)
	seedBid(h, "no1", 0.52)

	ch, cancel := h.hub.Subscribe(16)
	defer cancel()

	h.monitor.exit(context.Background(), risk.ExitSignal{PositionID: "pos1", Reason: domain.ExitTakeProfit})

	assert.Zero(t, h.monitor.OpenCount())
	var sells int
	for _, r := range h.client.reqs {
		if r.Side == domain.OrderSideSell {
			sells++
		}
	}
	assert.Equal(t, 2, sells)

	var closed bool
	for {
		select {
		case ev := <-ch:
			if ev.Kind == events.PositionClosed {
				closed = true
			}
		default:
			assert.True(t, closed, "expected PositionClosed event")
			return
		}
	}
}

func TestExitRealizedPnLBooked(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	openPosition(t, h)
	seedBid(h, "yes1", 0.50)
	seedBid(h, "no1", 0.52)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.risk.Run(ctx) }()

	h.monitor.exit(context.Background(), risk.ExitSignal{PositionID: "pos1", Reason: domain.ExitTakeProfit})

	// Proceeds 100*(0.50+0.52)=102 vs entry 93: +9 realized.
	require.Eventually(t, func() bool {
		return h.risk.DailyPnLMicro() == domain.DollarsToMicro(9)
	}, time.Second, time.Millisecond)
}

func TestExitIncompleteAfterDeadline(t *testing.T) {
	h := newHarness(t, Config{
		ExitTimeout:       20 * time.Millisecond,
		ExitRetryInterval: 5 * time.Millisecond,
	}, nil)
	openPosition(t, h)
	seedBid(h, "yes1", 0.50)
	seedBid(h, "no1", 0.52)

	// Venue fills nothing.
	h.client.sell = func(req domain.OrderRequest) (domain.OrderResult, error) {
		return domain.OrderResult{Status: domain.OrderStatusRejected, Reason: "no fill"}, nil
	}

	ch, cancel := h.hub.Subscribe(16)
	defer cancel()

	h.monitor.exit(context.Background(), risk.ExitSignal{PositionID: "pos1", Reason: domain.ExitStopLoss})

	var incomplete bool
	for {
		select {
		case ev := <-ch:
			if ev.Kind == events.ExitIncomplete {
				incomplete = true
			}
		default:
			assert.True(t, incomplete, "expected ExitIncomplete event")
			return
		}
	}
}

func TestExitIgnoresUnknownPosition(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.monitor.exit(context.Background(), risk.ExitSignal{PositionID: "ghost"})
	assert.Empty(t, h.client.reqs)
}
