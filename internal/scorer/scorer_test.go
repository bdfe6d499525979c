package scorer

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsfair/arbot/internal/book"
	"github.com/oddsfair/arbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedBook(t *testing.T, r *book.Registry, token string, bid, ask, size float64) {
	t.Helper()
	r.OnSnapshot(domain.BookSnapshot{
		TokenID: token,
		Bids: []domain.PriceLevel{{
			PriceTicks: domain.PriceToTicks(bid), SizeUnits: domain.SizeToUnits(size),
		}},
		Asks: []domain.PriceLevel{{
			PriceTicks: domain.PriceToTicks(ask), SizeUnits: domain.SizeToUnits(size),
		}},
		Seq:       1,
		Timestamp: time.Now(),
	})
}

func testMarket(volume float64, closeIn time.Duration) domain.Market {
	return domain.Market{
		ID:        "polymarket:m1",
		Exchange:  "polymarket",
		YesToken:  "yes1",
		NoToken:   "no1",
		Volume:    volume,
		Status:    domain.MarketStatusActive,
		CloseTime: time.Now().Add(closeIn),
	}
}

func TestScoreHighQualityMarket(t *testing.T) {
	r := book.NewRegistry(0)
	seedBook(t, r, "yes1", 0.48, 0.49, 5000)
	seedBook(t, r, "no1", 0.50, 0.51, 5000)

	s := New(Config{}, r, testLogger())
	bd := s.Score(testMarket(1_000_000, 48*time.Hour), time.Now())

	assert.InDelta(t, 100, bd.Volume, 0.5)
	assert.Equal(t, float64(100), bd.Liquidity)
	assert.Greater(t, bd.Spread, 70.0)
	assert.Equal(t, float64(100), bd.Time)
	assert.Greater(t, bd.Total, 90.0)
}

func TestScoreMissingBooksZeroLiquidity(t *testing.T) {
	s := New(Config{}, book.NewRegistry(0), testLogger())
	bd := s.Score(testMarket(100_000, 48*time.Hour), time.Now())
	assert.Zero(t, bd.Liquidity)
	assert.Zero(t, bd.Spread)
	assert.Greater(t, bd.Volume, 0.0)
}

func TestTimeScorePenalizesExtremes(t *testing.T) {
	assert.Less(t, timeScore(30*time.Minute), timeScore(48*time.Hour))
	assert.Less(t, timeScore(60*24*time.Hour), timeScore(48*time.Hour))
	assert.Zero(t, timeScore(-time.Hour))
}

func TestTopMarketsFiltersAndSorts(t *testing.T) {
	r := book.NewRegistry(0)
	seedBook(t, r, "yes1", 0.48, 0.49, 5000)
	seedBook(t, r, "no1", 0.50, 0.51, 5000)

	s := New(Config{MinScore: 50}, r, testLogger())

	big := testMarket(1_000_000, 48*time.Hour)
	thin := domain.Market{
		ID: "polymarket:m2", Exchange: "polymarket",
		YesToken: "yes2", NoToken: "no2",
		Volume: 10, Status: domain.MarketStatusActive,
		CloseTime: time.Now().Add(48 * time.Hour),
	}

	ranked := s.TopMarkets([]domain.Market{thin, big}, 10, time.Now())
	require.Len(t, ranked, 1, "thin market filtered by MinScore")
	assert.Equal(t, big.ID, ranked[0].Market.ID)
}
