package domain

import "time"

// PositionStatus tracks the paired-position lifecycle.
type PositionStatus string

const (
	PositionStatusOpen    PositionStatus = "open"
	PositionStatusExiting PositionStatus = "exiting"
	PositionStatusClosed  PositionStatus = "closed"
)

// ExitReason says why a position was (or is being) closed.
type ExitReason string

const (
	ExitNone       ExitReason = ""
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitManual     ExitReason = "manual"
)

// Position is a matched YES+NO holding. Both legs always carry the same
// share count; the basket pays out $1 per share at resolution.
type Position struct {
	ID            string
	Kind          OpportunityKind
	Key           string // market ID or pair ID
	Title         string
	YesExchange   string
	NoExchange    string
	YesMarketID   string
	NoMarketID    string
	YesToken      string
	NoToken       string
	SizeUnits     int64
	YesAvgTicks   int64
	NoAvgTicks    int64
	EntryMicro    int64 // total cost including fees
	HighWaterM    int64 // best unrealized value seen, micro-dollars
	RealizedMicro int64 // realized P&L once closed
	Status        PositionStatus
	ExitReason    ExitReason
	OpenedAt      time.Time
	ClosedAt      *time.Time
}

// EntryCombinedTicks is the average YES+NO entry cost per share.
func (p Position) EntryCombinedTicks() int64 {
	return p.YesAvgTicks + p.NoAvgTicks
}

// UnrealizedMicro values the basket at the given best bids.
func (p Position) UnrealizedMicro(bidYesTicks, bidNoTicks int64) int64 {
	value := NotionalMicro(bidYesTicks+bidNoTicks, p.SizeUnits)
	return value - p.EntryMicro
}
