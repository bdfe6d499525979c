package domain

import "time"

// OpportunityKind distinguishes single-venue sum arbitrage from cross-venue
// pairs.
type OpportunityKind string

const (
	OpportunitySingleVenue OpportunityKind = "single_venue"
	OpportunityCrossVenue  OpportunityKind = "cross_venue"
)

// Momentum classifies how an opportunity's combined cost has moved over the
// recent observation window.
type Momentum string

const (
	MomentumNew       Momentum = "new"
	MomentumImproving Momentum = "improving"
	MomentumStable    Momentum = "stable"
	MomentumDegrading Momentum = "degrading"
)

// PriorityFactor scales execution priority by cost trend.
func (m Momentum) PriorityFactor() float64 {
	switch m {
	case MomentumImproving:
		return 1.2
	case MomentumDegrading:
		return 0.7
	default:
		return 1.0
	}
}

// OpportunityLeg identifies one side of the YES+NO basket.
type OpportunityLeg struct {
	Exchange      string
	MarketID      string
	TokenID       string
	EffPriceTicks int64 // average fill price for the sized quantity
	Levels        int   // book levels the sweep consumed
}

// Opportunity is a sized, profitable YES+NO purchase candidate.
type Opportunity struct {
	ID             string
	Kind           OpportunityKind
	Key            string // market ID, or pair ID for cross-venue
	Title          string
	Yes            OpportunityLeg
	No             OpportunityLeg
	SizeUnits      int64 // shares on each leg
	GrossCostMicro int64 // combined premium paid for the basket
	FeesMicro      int64 // both legs' estimated fees
	ProfitMicro    int64 // payout - gross cost - fees at resolution
	ROI            float64
	Score          float64 // market quality score at detection time
	Momentum       Momentum
	ObservedAt     time.Time
}

// CombinedTicks is the effective YES+NO cost per share in price ticks.
func (o Opportunity) CombinedTicks() int64 {
	return o.Yes.EffPriceTicks + o.No.EffPriceTicks
}

// Priority ranks opportunities for execution order.
func (o Opportunity) Priority() float64 {
	return o.ROI * o.Momentum.PriorityFactor()
}
