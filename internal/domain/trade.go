package domain

import "time"

// Trade is one executed leg of an arbitrage basket.
type Trade struct {
	ID           string
	Exchange     string
	VenueOrderID string
	PositionID   string
	MarketID     string
	TokenID      string
	Side         OrderSide
	PriceTicks   int64
	SizeUnits    int64
	FeeMicro     int64
	ExecutedAt   time.Time
}

// Price returns the float64 display price.
func (t Trade) Price() float64 { return TicksToPrice(t.PriceTicks) }

// Size returns the float64 display size.
func (t Trade) Size() float64 { return UnitsToSize(t.SizeUnits) }

// Notional is the leg's cost (or proceeds) in micro-dollars.
func (t Trade) Notional() int64 { return NotionalMicro(t.PriceTicks, t.SizeUnits) }
