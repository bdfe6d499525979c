package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType indicates the time-in-force policy.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Till-Cancelled
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill
	OrderTypeFAK OrderType = "FAK" // Fill-And-Kill
)

// OrderStatus is the terminal outcome of an order submission.
type OrderStatus string

const (
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusRejected OrderStatus = "rejected"
	OrderStatusTimeout  OrderStatus = "timeout"
)

// OrderRequest is a venue-agnostic order. Prices and sizes are fixed-point.
type OrderRequest struct {
	MarketID   string
	TokenID    string
	Side       OrderSide
	Type       OrderType
	PriceTicks int64 // limit price, price * 1e6
	SizeUnits  int64 // shares * 1e6
}

// Price returns the float64 display price from fixed-point ticks.
func (r OrderRequest) Price() float64 {
	return TicksToPrice(r.PriceTicks)
}

// Size returns the float64 display size from fixed-point units.
func (r OrderRequest) Size() float64 {
	return UnitsToSize(r.SizeUnits)
}

// OrderResult is the venue's answer to an order submission. A FOK order is
// either fully filled or rejected; Timeout means the venue never answered
// inside the deadline and the fill state is unknown.
type OrderResult struct {
	Status       OrderStatus
	VenueOrderID string
	PriceTicks   int64 // average fill price when filled
	SizeUnits    int64 // filled quantity when filled
	FeeMicro     int64 // venue fee in micro-dollars
	Reason       string
	ExecutedAt   time.Time
}

// Filled reports whether the order fully executed.
func (r OrderResult) Filled() bool {
	return r.Status == OrderStatusFilled
}
