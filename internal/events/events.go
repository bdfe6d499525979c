// Package events carries the trading event stream: an in-process hub for
// components plus an optional bridge onto the Redis signal bus so external
// consumers can follow along.
package events

import "time"

// Kind identifies an event type.
type Kind string

const (
	OpportunityDetected Kind = "opportunity_detected"
	TradeExecuted       Kind = "trade_executed"
	PartialFillUnwound  Kind = "partial_fill_unwound"
	SlippageExceeded    Kind = "slippage_exceeded"
	FillRejected        Kind = "fill_rejected"
	BelowMinProfit      Kind = "below_min_profit"
	RiskHalted          Kind = "risk_halted"
	PositionOpened      Kind = "position_opened"
	PositionClosed      Kind = "position_closed"
	BookReset           Kind = "book_reset"
	ExitIncomplete      Kind = "exit_incomplete"
)

// Event is one entry on the stream. Fields carries kind-specific detail and
// must be JSON-serializable.
type Event struct {
	Kind   Kind           `json:"kind"`
	Key    string         `json:"key,omitempty"` // market or pair ID
	At     time.Time      `json:"at"`
	Fields map[string]any `json:"fields,omitempty"`
}

// New builds an event stamped with the current time.
func New(kind Kind, key string, fields map[string]any) Event {
	return Event{Kind: kind, Key: key, At: time.Now().UTC(), Fields: fields}
}
