package domain

import "errors"

// Sentinel errors shared across venue clients and stores. Callers match
// them with errors.Is after the clients wrap venue-specific detail around
// them.
var (
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrSigningFailed = errors.New("signing failed")
	ErrBookCrossed   = errors.New("orderbook crossed")
)
