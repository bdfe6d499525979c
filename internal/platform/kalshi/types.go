package kalshi

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/oddsfair/arbot/internal/domain"
)

// centTicks is the fixed-point value of one cent.
const centTicks = domain.PriceScale / 100

// --------------------------------------------------------------------------
// REST API DTOs
// --------------------------------------------------------------------------

// APIMarket represents a market as returned by the Kalshi REST API.
type APIMarket struct {
	Ticker         string  `json:"ticker"`
	EventTicker    string  `json:"event_ticker"`
	Title          string  `json:"title"`
	Subtitle       string  `json:"subtitle"`
	Status         string  `json:"status"` // "open", "closed", "settled"
	Volume         int64   `json:"volume"`
	Volume24H      int64   `json:"volume_24h"`
	OpenInterest   int64   `json:"open_interest"`
	LastPrice      int64   `json:"last_price"`
	Result         string  `json:"result"`
	OpenTime       string  `json:"open_time"`
	CloseTime      string  `json:"close_time"`
	ExpirationTime string  `json:"expiration_time"`
	CanCloseEarly  bool    `json:"can_close_early"`
	RiskLimitCents int64   `json:"risk_limit_cents"`
	NotionalValue  int64   `json:"notional_value"`
	Category       string  `json:"category"`
	YesBid         float64 `json:"yes_bid"`
	YesAsk         float64 `json:"yes_ask"`
}

// ToDomainMarket converts a Kalshi market to the venue-agnostic form. Each
// market trades as one ticker with yes/no sides, so the outcome tokens are
// synthesized as "<ticker>:yes" and "<ticker>:no".
func (m *APIMarket) ToDomainMarket() domain.Market {
	dm := domain.Market{
		ID:       Name + ":" + m.Ticker,
		Exchange: Name,
		NativeID: m.Ticker,
		Title:    m.Title,
		Slug:     strings.ToLower(m.Ticker),
		YesToken: YesToken(m.Ticker),
		NoToken:  NoToken(m.Ticker),
		Volume:   float64(m.Volume),
	}

	switch m.Status {
	case "open", "active":
		dm.Status = domain.MarketStatusActive
	case "closed":
		dm.Status = domain.MarketStatusClosed
	default:
		dm.Status = domain.MarketStatusSettled
	}

	for _, raw := range []string{m.CloseTime, m.ExpirationTime} {
		if raw == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			dm.CloseTime = t
			break
		}
	}

	return dm
}

// APIOrder is the order payload for POST /portfolio/orders.
type APIOrder struct {
	Ticker        string `json:"ticker"`
	ClientOrderID string `json:"client_order_id"`
	Action        string `json:"action"` // "buy" or "sell"
	Side          string `json:"side"`   // "yes" or "no"
	Type          string `json:"type"`   // "limit"
	Count         int64  `json:"count"`
	YesPrice      *int64 `json:"yes_price,omitempty"` // cents, 1-99
	NoPrice       *int64 `json:"no_price,omitempty"`  // cents, 1-99
	Expiration    *int64 `json:"expiration_ts,omitempty"`
	BuyMaxCost    *int64 `json:"buy_max_cost,omitempty"`
}

// APIOrderState is the order object inside order responses.
type APIOrderState struct {
	OrderID        string `json:"order_id"`
	Ticker         string `json:"ticker"`
	Status         string `json:"status"` // "resting", "canceled", "executed", "pending"
	Action         string `json:"action"`
	Side           string `json:"side"`
	YesPrice       int64  `json:"yes_price"`
	NoPrice        int64  `json:"no_price"`
	RemainingCount int64  `json:"remaining_count"`
	TakerFillCount int64  `json:"taker_fill_count"`
	TakerFillCost  int64  `json:"taker_fill_cost"` // cents
	MakerFillCount int64  `json:"maker_fill_count"`
	CreatedTime    string `json:"created_time"`
}

// APIOrderResponse is the response envelope for order placement.
type APIOrderResponse struct {
	Order APIOrderState `json:"order"`
}

// APIErrorResponse is the Kalshi error envelope.
type APIErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIBookLevel is a [price_cents, quantity] pair in orderbook payloads.
type APIBookLevel [2]int64

// APIOrderbook is the REST orderbook body: yes and no bid ladders in cents.
type APIOrderbook struct {
	Yes []APIBookLevel `json:"yes"`
	No  []APIBookLevel `json:"no"`
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// WSSubscribeCmd is the command sent to subscribe to WebSocket channels.
type WSSubscribeCmd struct {
	ID     int64             `json:"id"`
	Cmd    string            `json:"cmd"` // "subscribe"
	Params WSSubscribeParams `json:"params"`
}

// WSSubscribeParams defines the subscription parameters.
type WSSubscribeParams struct {
	Channels []string `json:"channels"`
	Tickers  []string `json:"market_tickers"`
}

// WSMessage is the envelope for Kalshi WebSocket messages.
type WSMessage struct {
	Type string          `json:"type"` // "orderbook_snapshot", "orderbook_delta", "error"
	SID  int64           `json:"sid"`
	Seq  uint64          `json:"seq"`
	Msg  json.RawMessage `json:"msg"`
}

// WSOrderbookSnapshot is the full yes/no ladder for one market.
type WSOrderbookSnapshot struct {
	Ticker string         `json:"market_ticker"`
	Yes    []APIBookLevel `json:"yes"`
	No     []APIBookLevel `json:"no"`
}

// WSOrderbookDelta is a relative quantity change at one price level.
type WSOrderbookDelta struct {
	Ticker string `json:"market_ticker"`
	Price  int64  `json:"price"` // cents
	Delta  int64  `json:"delta"` // signed contract count change
	Side   string `json:"side"`  // "yes" or "no"
}

// --------------------------------------------------------------------------
// Token helpers
// --------------------------------------------------------------------------

// YesToken returns the synthetic YES outcome token for a ticker.
func YesToken(ticker string) string { return ticker + ":yes" }

// NoToken returns the synthetic NO outcome token for a ticker.
func NoToken(ticker string) string { return ticker + ":no" }

// splitToken decomposes a synthetic token into ticker and side.
func splitToken(tokenID string) (ticker string, yes bool, ok bool) {
	idx := strings.LastIndex(tokenID, ":")
	if idx < 0 {
		return "", false, false
	}
	switch tokenID[idx+1:] {
	case "yes":
		return tokenID[:idx], true, true
	case "no":
		return tokenID[:idx], false, true
	}
	return "", false, false
}

// centsToTicks converts a cent price to fixed-point ticks.
func centsToTicks(cents int64) int64 { return cents * centTicks }

// contractsToUnits converts a contract count to fixed-point size units.
func contractsToUnits(n int64) int64 { return n * domain.SizeScale }
