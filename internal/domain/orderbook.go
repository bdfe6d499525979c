package domain

import "time"

// BookSide selects the bid or ask half of an orderbook.
type BookSide int

const (
	SideBid BookSide = iota
	SideAsk
)

func (s BookSide) String() string {
	if s == SideBid {
		return "bid"
	}
	return "ask"
}

// PriceLevel is a single fixed-point price+size entry in an orderbook.
type PriceLevel struct {
	PriceTicks int64
	SizeUnits  int64
}

// Price returns the float64 display price.
func (l PriceLevel) Price() float64 { return TicksToPrice(l.PriceTicks) }

// Size returns the float64 display size.
func (l PriceLevel) Size() float64 { return UnitsToSize(l.SizeUnits) }

// BookSnapshot is a full bid/ask snapshot for one outcome token.
type BookSnapshot struct {
	TokenID   string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Seq       uint64
	Timestamp time.Time
}

// BookDelta is an incremental level update. SizeUnits == 0 removes the level.
type BookDelta struct {
	TokenID   string
	Side      BookSide
	Level     PriceLevel
	Seq       uint64
	Timestamp time.Time
}

// Quote is a best bid/ask pair published to the price cache.
type Quote struct {
	TokenID   string    `json:"token_id"`
	BidTicks  int64     `json:"bid_ticks"`
	AskTicks  int64     `json:"ask_ticks"`
	Timestamp time.Time `json:"ts"`
}
