package kalshi

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsfair/arbot/internal/domain"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: "http://invalid.test"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c
}

func TestSplitToken(t *testing.T) {
	ticker, yes, ok := splitToken("FED-26MAR:yes")
	require.True(t, ok)
	assert.Equal(t, "FED-26MAR", ticker)
	assert.True(t, yes)

	ticker, yes, ok = splitToken("FED-26MAR:no")
	require.True(t, ok)
	assert.Equal(t, "FED-26MAR", ticker)
	assert.False(t, yes)

	_, _, ok = splitToken("FED-26MAR")
	assert.False(t, ok)

	_, _, ok = splitToken("FED-26MAR:maybe")
	assert.False(t, ok)
}

func TestToDomainMarket(t *testing.T) {
	m := APIMarket{
		Ticker:    "FED-26MAR",
		Title:     "Fed cuts rates in March",
		Status:    "open",
		Volume:    125000,
		CloseTime: "2026-03-18T18:00:00Z",
	}
	dm := m.ToDomainMarket()

	assert.Equal(t, "kalshi:FED-26MAR", dm.ID)
	assert.Equal(t, "kalshi", dm.Exchange)
	assert.Equal(t, "FED-26MAR:yes", dm.YesToken)
	assert.Equal(t, "FED-26MAR:no", dm.NoToken)
	assert.Equal(t, domain.MarketStatusActive, dm.Status)
	assert.Equal(t, float64(125000), dm.Volume)
	assert.Equal(t, time.Date(2026, 3, 18, 18, 0, 0, 0, time.UTC), dm.CloseTime)

	m.Status = "settled"
	assert.Equal(t, domain.MarketStatusSettled, m.ToDomainMarket().Status)
}

type captureSink struct {
	snaps []domain.BookSnapshot
}

func (s *captureSink) OnSnapshot(snap domain.BookSnapshot) { s.snaps = append(s.snaps, snap) }
func (s *captureSink) OnDelta(d domain.BookDelta)          {}

func TestEmitBooksMirrorsComplementBids(t *testing.T) {
	mb := &marketBook{
		yes: ladder{45: 100, 44: 50},
		no:  ladder{52: 200},
	}
	sink := &captureSink{}
	emitBooks(sink, "FED-26MAR", mb, 7)

	require.Len(t, sink.snaps, 2)

	yesBook := sink.snaps[0]
	assert.Equal(t, "FED-26MAR:yes", yesBook.TokenID)
	assert.Equal(t, uint64(7), yesBook.Seq)
	require.Len(t, yesBook.Bids, 2)
	assert.Equal(t, int64(450_000), yesBook.Bids[0].PriceTicks)
	assert.Equal(t, int64(100_000_000), yesBook.Bids[0].SizeUnits)
	assert.Equal(t, int64(440_000), yesBook.Bids[1].PriceTicks)
	// YES asks mirror NO bids at 100 minus the cent price.
	require.Len(t, yesBook.Asks, 1)
	assert.Equal(t, int64(480_000), yesBook.Asks[0].PriceTicks)
	assert.Equal(t, int64(200_000_000), yesBook.Asks[0].SizeUnits)

	noBook := sink.snaps[1]
	assert.Equal(t, "FED-26MAR:no", noBook.TokenID)
	require.Len(t, noBook.Bids, 1)
	assert.Equal(t, int64(520_000), noBook.Bids[0].PriceTicks)
	require.Len(t, noBook.Asks, 2)
	assert.Equal(t, int64(550_000), noBook.Asks[0].PriceTicks)
	assert.Equal(t, int64(560_000), noBook.Asks[1].PriceTicks)
}

func TestMarketBookApplyDelta(t *testing.T) {
	mb := &marketBook{yes: ladder{45: 100}, no: ladder{}}

	mb.apply(WSOrderbookDelta{Ticker: "T", Price: 45, Delta: 20, Side: "yes"})
	assert.Equal(t, int64(120), mb.yes[45])

	mb.apply(WSOrderbookDelta{Ticker: "T", Price: 45, Delta: -120, Side: "yes"})
	_, exists := mb.yes[45]
	assert.False(t, exists)

	mb.apply(WSOrderbookDelta{Ticker: "T", Price: 30, Delta: 10, Side: "no"})
	assert.Equal(t, int64(10), mb.no[30])
}

func TestSettleOrderFOKFullFill(t *testing.T) {
	c := testClient(t)
	req := domain.OrderRequest{
		TokenID:    "FED-26MAR:yes",
		Side:       domain.OrderSideBuy,
		Type:       domain.OrderTypeFOK,
		PriceTicks: 450_000,
		SizeUnits:  2 * domain.SizeScale,
	}
	res := c.settleOrder(context.Background(), req, APIOrderState{
		OrderID:        "ord-1",
		Status:         "executed",
		TakerFillCount: 2,
		TakerFillCost:  90, // cents total, 45 each
	})

	assert.True(t, res.Filled())
	assert.Equal(t, "ord-1", res.VenueOrderID)
	assert.Equal(t, int64(450_000), res.PriceTicks)
	assert.Equal(t, int64(2*domain.SizeScale), res.SizeUnits)
}

func TestSettleOrderFOKPartialRejected(t *testing.T) {
	c := testClient(t)
	req := domain.OrderRequest{
		TokenID:    "FED-26MAR:yes",
		Side:       domain.OrderSideBuy,
		Type:       domain.OrderTypeFOK,
		PriceTicks: 450_000,
		SizeUnits:  5 * domain.SizeScale,
	}
	res := c.settleOrder(context.Background(), req, APIOrderState{
		OrderID:        "ord-2",
		Status:         "executed",
		TakerFillCount: 3,
		TakerFillCost:  135,
	})

	assert.Equal(t, domain.OrderStatusRejected, res.Status)
	assert.Contains(t, res.Reason, "3 of 5")
}

func TestSettleOrderFAKPartialFill(t *testing.T) {
	c := testClient(t)
	req := domain.OrderRequest{
		TokenID:    "FED-26MAR:no",
		Side:       domain.OrderSideSell,
		Type:       domain.OrderTypeFAK,
		PriceTicks: 520_000,
		SizeUnits:  4 * domain.SizeScale,
	}
	res := c.settleOrder(context.Background(), req, APIOrderState{
		OrderID:        "ord-3",
		Status:         "executed",
		TakerFillCount: 1,
		TakerFillCost:  52,
	})

	assert.True(t, res.Filled())
	assert.Equal(t, int64(1*domain.SizeScale), res.SizeUnits)
	assert.Equal(t, int64(520_000), res.PriceTicks)
}

func TestSettleOrderNoMatch(t *testing.T) {
	c := testClient(t)
	req := domain.OrderRequest{
		TokenID:    "FED-26MAR:yes",
		Side:       domain.OrderSideBuy,
		Type:       domain.OrderTypeFAK,
		PriceTicks: 450_000,
		SizeUnits:  2 * domain.SizeScale,
	}
	res := c.settleOrder(context.Background(), req, APIOrderState{OrderID: "ord-4", Status: "canceled"})

	assert.Equal(t, domain.OrderStatusRejected, res.Status)
	assert.Equal(t, "no immediate match", res.Reason)
}

func TestPlaceOrderRequiresKey(t *testing.T) {
	c := testClient(t)
	_, err := c.PlaceOrder(context.Background(), domain.OrderRequest{
		TokenID:    "FED-26MAR:yes",
		Side:       domain.OrderSideBuy,
		Type:       domain.OrderTypeFOK,
		PriceTicks: 450_000,
		SizeUnits:  domain.SizeScale,
	})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestPlaceOrderValidatesRequest(t *testing.T) {
	c := testClient(t)
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	c.privateKey = key

	base := domain.OrderRequest{
		TokenID:    "FED-26MAR:yes",
		Side:       domain.OrderSideBuy,
		Type:       domain.OrderTypeFOK,
		PriceTicks: 450_000,
		SizeUnits:  domain.SizeScale,
	}

	bad := base
	bad.TokenID = "missing-suffix"
	_, err = c.PlaceOrder(context.Background(), bad)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	bad = base
	bad.SizeUnits = domain.SizeScale / 2
	_, err = c.PlaceOrder(context.Background(), bad)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	bad = base
	bad.PriceTicks = 0
	_, err = c.PlaceOrder(context.Background(), bad)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestCheckStatusMapsDomainErrors(t *testing.T) {
	c := testClient(t)
	assert.ErrorIs(t, c.checkStatus(http.StatusTooManyRequests, []byte(`{"code":"rate_limit"}`)), domain.ErrRateLimited)
	assert.ErrorIs(t, c.checkStatus(http.StatusUnauthorized, nil), domain.ErrUnauthorized)
	assert.ErrorIs(t, c.checkStatus(http.StatusNotFound, nil), domain.ErrNotFound)
	assert.NoError(t, c.checkStatus(http.StatusOK, nil))
}
