// Package book maintains live depth-limited orderbooks and computes the
// market impact of sweeping them.
package book

import (
	"sort"
	"sync"
	"time"

	"github.com/oddsfair/arbot/internal/domain"
)

// DefaultMaxDepth is how many levels per side a book retains.
const DefaultMaxDepth = 20

// Book is a depth-limited bid/ask ladder for one outcome token. Bids are
// held best-first (descending price), asks best-first (ascending price).
// One writer (the feed), many readers.
type Book struct {
	mu        sync.RWMutex
	tokenID   string
	bids      []domain.PriceLevel
	asks      []domain.PriceLevel
	seq       uint64
	updatedAt time.Time
	maxDepth  int
	synced    bool
}

// New creates an empty book. maxDepth <= 0 uses DefaultMaxDepth.
func New(tokenID string, maxDepth int) *Book {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Book{tokenID: tokenID, maxDepth: maxDepth}
}

// TokenID returns the token this book tracks.
func (b *Book) TokenID() string { return b.tokenID }

// ApplySnapshot replaces the book contents. Levels are sorted, zero sizes
// dropped, depth truncated. A crossed snapshot is rejected and the book is
// left unsynced.
func (b *Book) ApplySnapshot(snap domain.BookSnapshot) error {
	bids := compactLevels(snap.Bids, true)
	asks := compactLevels(snap.Asks, false)

	if len(bids) > 0 && len(asks) > 0 && bids[0].PriceTicks >= asks[0].PriceTicks {
		b.mu.Lock()
		b.synced = false
		b.mu.Unlock()
		return domain.ErrBookCrossed
	}

	if len(bids) > b.maxDepth {
		bids = bids[:b.maxDepth]
	}
	if len(asks) > b.maxDepth {
		asks = asks[:b.maxDepth]
	}

	b.mu.Lock()
	b.bids = bids
	b.asks = asks
	b.seq = snap.Seq
	b.updatedAt = snap.Timestamp
	b.synced = true
	b.mu.Unlock()
	return nil
}

// ApplyDelta applies one level update. Deltas at or below the current
// sequence are dropped silently. A delta that would cross the book is not
// applied; the caller should resync with a fresh snapshot.
func (b *Book) ApplyDelta(d domain.BookDelta) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.synced || d.Seq <= b.seq {
		return nil
	}

	if d.Level.SizeUnits > 0 {
		if d.Side == domain.SideBid && len(b.asks) > 0 && d.Level.PriceTicks >= b.asks[0].PriceTicks {
			b.synced = false
			return domain.ErrBookCrossed
		}
		if d.Side == domain.SideAsk && len(b.bids) > 0 && d.Level.PriceTicks <= b.bids[0].PriceTicks {
			b.synced = false
			return domain.ErrBookCrossed
		}
	}

	if d.Side == domain.SideBid {
		b.bids = upsertLevel(b.bids, d.Level, true, b.maxDepth)
	} else {
		b.asks = upsertLevel(b.asks, d.Level, false, b.maxDepth)
	}
	b.seq = d.Seq
	b.updatedAt = d.Timestamp
	return nil
}

// Best returns the top of the requested side.
func (b *Book) Best(side domain.BookSide) (domain.PriceLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ladder := b.ladder(side)
	if !b.synced || len(ladder) == 0 {
		return domain.PriceLevel{}, false
	}
	return ladder[0], true
}

// Walk returns up to maxLevels levels best-first. maxLevels <= 0 returns the
// whole retained depth. The slice is a copy.
func (b *Book) Walk(side domain.BookSide, maxLevels int) []domain.PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.synced {
		return nil
	}
	ladder := b.ladder(side)
	if maxLevels <= 0 || maxLevels > len(ladder) {
		maxLevels = len(ladder)
	}
	out := make([]domain.PriceLevel, maxLevels)
	copy(out, ladder[:maxLevels])
	return out
}

// Seq returns the last applied sequence number.
func (b *Book) Seq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// UpdatedAt returns the timestamp of the last applied update.
func (b *Book) UpdatedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updatedAt
}

// Age returns how long ago the book last changed. An unsynced book reports
// a very large age.
func (b *Book) Age(now time.Time) time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.synced || b.updatedAt.IsZero() {
		return time.Duration(1<<62 - 1)
	}
	return now.Sub(b.updatedAt)
}

// Synced reports whether the book holds a valid snapshot.
func (b *Book) Synced() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.synced
}

// Reset clears the book until the next snapshot arrives.
func (b *Book) Reset() {
	b.mu.Lock()
	b.bids = nil
	b.asks = nil
	b.synced = false
	b.mu.Unlock()
}

func (b *Book) ladder(side domain.BookSide) []domain.PriceLevel {
	if side == domain.SideBid {
		return b.bids
	}
	return b.asks
}

// compactLevels sorts best-first, merges duplicate prices and drops empty
// levels.
func compactLevels(levels []domain.PriceLevel, descending bool) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(levels))
	for _, l := range levels {
		if l.SizeUnits > 0 {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].PriceTicks > out[j].PriceTicks
		}
		return out[i].PriceTicks < out[j].PriceTicks
	})
	merged := out[:0]
	for _, l := range out {
		if n := len(merged); n > 0 && merged[n-1].PriceTicks == l.PriceTicks {
			merged[n-1].SizeUnits += l.SizeUnits
			continue
		}
		merged = append(merged, l)
	}
	return merged
}

// upsertLevel inserts, replaces or removes a level in a best-first ladder.
func upsertLevel(ladder []domain.PriceLevel, l domain.PriceLevel, descending bool, maxDepth int) []domain.PriceLevel {
	idx := sort.Search(len(ladder), func(i int) bool {
		if descending {
			return ladder[i].PriceTicks <= l.PriceTicks
		}
		return ladder[i].PriceTicks >= l.PriceTicks
	})

	exists := idx < len(ladder) && ladder[idx].PriceTicks == l.PriceTicks
	switch {
	case l.SizeUnits <= 0 && exists:
		ladder = append(ladder[:idx], ladder[idx+1:]...)
	case l.SizeUnits <= 0:
		// removal of an unknown level, nothing to do
	case exists:
		ladder[idx].SizeUnits = l.SizeUnits
	default:
		ladder = append(ladder, domain.PriceLevel{})
		copy(ladder[idx+1:], ladder[idx:])
		ladder[idx] = l
	}
	if len(ladder) > maxDepth {
		ladder = ladder[:maxDepth]
	}
	return ladder
}
