package book

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsfair/arbot/internal/domain"
)

func lvl(price, size float64) domain.PriceLevel {
	return domain.PriceLevel{
		PriceTicks: domain.PriceToTicks(price),
		SizeUnits:  domain.SizeToUnits(size),
	}
}

func snapshot(token string, seq uint64, bids, asks []domain.PriceLevel) domain.BookSnapshot {
	return domain.BookSnapshot{
		TokenID:   token,
		Bids:      bids,
		Asks:      asks,
		Seq:       seq,
		Timestamp: time.Now(),
	}
}

func TestApplySnapshotSortsAndMerges(t *testing.T) {
	b := New("tok", 0)
	err := b.ApplySnapshot(snapshot("tok", 1,
		[]domain.PriceLevel{lvl(0.40, 10), lvl(0.42, 5), lvl(0.42, 3), lvl(0.41, 0)},
		[]domain.PriceLevel{lvl(0.47, 7), lvl(0.45, 2)},
	))
	require.NoError(t, err)

	bids := b.Walk(domain.SideBid, 0)
	require.Len(t, bids, 2)
	assert.Equal(t, domain.PriceToTicks(0.42), bids[0].PriceTicks)
	assert.Equal(t, domain.SizeToUnits(8), bids[0].SizeUnits, "equal-price bids merged")
	assert.Equal(t, domain.PriceToTicks(0.40), bids[1].PriceTicks)

	asks := b.Walk(domain.SideAsk, 0)
	require.Len(t, asks, 2)
	assert.Equal(t, domain.PriceToTicks(0.45), asks[0].PriceTicks)
}

func TestApplySnapshotCrossedRejected(t *testing.T) {
	b := New("tok", 0)
	err := b.ApplySnapshot(snapshot("tok", 1,
		[]domain.PriceLevel{lvl(0.50, 10)},
		[]domain.PriceLevel{lvl(0.48, 10)},
	))
	assert.ErrorIs(t, err, domain.ErrBookCrossed)
	assert.False(t, b.Synced())
}

func TestApplyDeltaStaleSeqDropped(t *testing.T) {
	b := New("tok", 0)
	require.NoError(t, b.ApplySnapshot(snapshot("tok", 10,
		[]domain.PriceLevel{lvl(0.40, 10)},
		[]domain.PriceLevel{lvl(0.45, 10)},
	)))

	// Same seq as the snapshot: dropped without error.
	err := b.ApplyDelta(domain.BookDelta{
		TokenID: "tok", Side: domain.SideBid, Level: lvl(0.44, 99), Seq: 10, Timestamp: time.Now(),
	})
	require.NoError(t, err)
	best, ok := b.Best(domain.SideBid)
	require.True(t, ok)
	assert.Equal(t, domain.PriceToTicks(0.40), best.PriceTicks)
	assert.Equal(t, uint64(10), b.Seq())
}

func TestApplyDeltaInsertUpdateRemove(t *testing.T) {
	b := New("tok", 0)
	require.NoError(t, b.ApplySnapshot(snapshot("tok", 1,
		[]domain.PriceLevel{lvl(0.40, 10)},
		[]domain.PriceLevel{lvl(0.45, 10)},
	)))

	require.NoError(t, b.ApplyDelta(domain.BookDelta{
		TokenID: "tok", Side: domain.SideBid, Level: lvl(0.42, 5), Seq: 2, Timestamp: time.Now(),
	}))
	best, _ := b.Best(domain.SideBid)
	assert.Equal(t, domain.PriceToTicks(0.42), best.PriceTicks)

	require.NoError(t, b.ApplyDelta(domain.BookDelta{
		TokenID: "tok", Side: domain.SideBid, Level: lvl(0.42, 2), Seq: 3, Timestamp: time.Now(),
	}))
	best, _ = b.Best(domain.SideBid)
	assert.Equal(t, domain.SizeToUnits(2), best.SizeUnits)

	require.NoError(t, b.ApplyDelta(domain.BookDelta{
		TokenID: "tok", Side: domain.SideBid, Level: lvl(0.42, 0), Seq: 4, Timestamp: time.Now(),
	}))
	best, _ = b.Best(domain.SideBid)
	assert.Equal(t, domain.PriceToTicks(0.40), best.PriceTicks)
}

func TestApplyDeltaCrossingBidRejected(t *testing.T) {
	b := New("tok", 0)
	require.NoError(t, b.ApplySnapshot(snapshot("tok", 1,
		[]domain.PriceLevel{lvl(0.40, 10)},
		[]domain.PriceLevel{lvl(0.45, 10)},
	)))

	err := b.ApplyDelta(domain.BookDelta{
		TokenID: "tok", Side: domain.SideBid, Level: lvl(0.45, 5), Seq: 2, Timestamp: time.Now(),
	})
	assert.ErrorIs(t, err, domain.ErrBookCrossed)
	assert.False(t, b.Synced())
}

func TestDepthTruncation(t *testing.T) {
	b := New("tok", 3)
	asks := []domain.PriceLevel{
		lvl(0.45, 1), lvl(0.46, 1), lvl(0.47, 1), lvl(0.48, 1), lvl(0.49, 1),
	}
	require.NoError(t, b.ApplySnapshot(snapshot("tok", 1, nil, asks)))
	assert.Len(t, b.Walk(domain.SideAsk, 0), 3)
}

func TestUnsyncedBookReportsHugeAge(t *testing.T) {
	b := New("tok", 0)
	assert.Greater(t, b.Age(time.Now()), time.Hour)
	_, ok := b.Best(domain.SideAsk)
	assert.False(t, ok)
	assert.Nil(t, b.Walk(domain.SideBid, 0))
}

func TestRegistryResetOnCross(t *testing.T) {
	r := NewRegistry(0)
	var resets []string
	r.SetResetHandler(func(tokenID string) { resets = append(resets, tokenID) })

	r.OnSnapshot(snapshot("tok", 1,
		[]domain.PriceLevel{lvl(0.40, 10)},
		[]domain.PriceLevel{lvl(0.45, 10)},
	))
	r.OnDelta(domain.BookDelta{
		TokenID: "tok", Side: domain.SideAsk, Level: lvl(0.39, 5), Seq: 2, Timestamp: time.Now(),
	})

	require.Equal(t, []string{"tok"}, resets)
	b, ok := r.Get("tok")
	require.True(t, ok)
	assert.False(t, b.Synced())

	// Fresh snapshot recovers the book.
	r.OnSnapshot(snapshot("tok", 3,
		[]domain.PriceLevel{lvl(0.38, 10)},
		[]domain.PriceLevel{lvl(0.44, 10)},
	))
	assert.True(t, b.Synced())
}

func TestRegistryBestBid(t *testing.T) {
	r := NewRegistry(0)
	_, _, ok := r.BestBid("missing")
	assert.False(t, ok)

	r.OnSnapshot(snapshot("tok", 1,
		[]domain.PriceLevel{lvl(0.61, 4)},
		[]domain.PriceLevel{lvl(0.63, 4)},
	))
	l, _, ok := r.BestBid("tok")
	require.True(t, ok)
	assert.Equal(t, domain.PriceToTicks(0.61), l.PriceTicks)
}
