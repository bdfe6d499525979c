package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive  MarketStatus = "active"
	MarketStatusClosed  MarketStatus = "closed"
	MarketStatusSettled MarketStatus = "settled"
)

// Market represents a binary-outcome prediction market on some venue.
// YesToken and NoToken are the venue-native identifiers of the two
// complementary outcome tokens.
type Market struct {
	ID        string // venue-scoped: "<exchange>:<native id>"
	Exchange  string
	NativeID  string
	Title     string
	Slug      string
	YesToken  string
	NoToken   string
	Volume    float64 // lifetime USD volume reported by the venue
	Status    MarketStatus
	CloseTime time.Time
	UpdatedAt time.Time
}

// Active reports whether the market is tradable right now.
func (m Market) Active(now time.Time) bool {
	return m.Status == MarketStatusActive && now.Before(m.CloseTime)
}

// MarketPair is a cross-venue pairing of two markets judged to describe the
// same real-world event.
type MarketPair struct {
	ID         string
	A          Market
	B          Market
	Similarity float64
	MatchedAt  time.Time
}
