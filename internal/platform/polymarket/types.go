package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/oddsfair/arbot/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID              string   `json:"id"`
	Question        string   `json:"question"`
	ConditionID     string   `json:"condition_id"`
	Slug            string   `json:"slug"`
	Active          flexBool `json:"active"`
	Closed          bool     `json:"closed"`
	Outcomes        string   `json:"outcomes"`       // JSON-encoded: "[\"Yes\",\"No\"]"
	ClobTokenIDs    string   `json:"clobTokenIds"`   // JSON-encoded: "[\"123\",\"456\"]"
	Volume          string   `json:"volume"`
	EnableOrderBook bool     `json:"enableOrderBook"`
	EndDateISO      string   `json:"end_date_iso"`
	EndDate         string   `json:"endDate"`
	UpdatedAt       string   `json:"updated_at"`
	Tokens          []APIToken `json:"tokens"`
}

// APIToken is a token entry inside the Gamma market response.
type APIToken struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
}

// ToDomainMarket converts a Gamma market to the venue-agnostic form. It
// returns false when the market is not a tradable YES/NO pair (missing
// tokens or no orderbook).
func (m *APIMarket) ToDomainMarket() (domain.Market, bool) {
	yes, no, ok := m.outcomeTokens()
	if !ok {
		return domain.Market{}, false
	}

	native := m.ConditionID
	if native == "" {
		native = m.ID
	}

	dm := domain.Market{
		ID:       Name + ":" + native,
		Exchange: Name,
		NativeID: native,
		Title:    m.Question,
		Slug:     m.Slug,
		YesToken: yes,
		NoToken:  no,
	}

	if v, err := strconv.ParseFloat(m.Volume, 64); err == nil {
		dm.Volume = v
	}

	switch {
	case m.Closed:
		dm.Status = domain.MarketStatusClosed
	case bool(m.Active):
		dm.Status = domain.MarketStatusActive
	default:
		dm.Status = domain.MarketStatusSettled
	}

	for _, raw := range []string{m.EndDateISO, m.EndDate} {
		if raw == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			dm.CloseTime = t
			break
		}
	}
	if t, err := time.Parse(time.RFC3339, m.UpdatedAt); err == nil {
		dm.UpdatedAt = t
	}

	return dm, true
}

// outcomeTokens extracts the YES and NO token IDs. Gamma ships them either
// as a JSON-encoded string array aligned with Outcomes, or as a tokens list
// with explicit outcome labels.
func (m *APIMarket) outcomeTokens() (yes, no string, ok bool) {
	for _, t := range m.Tokens {
		switch strings.ToLower(t.Outcome) {
		case "yes":
			yes = t.TokenID
		case "no":
			no = t.TokenID
		}
	}
	if yes != "" && no != "" {
		return yes, no, true
	}

	var ids, outcomes []string
	if err := json.Unmarshal([]byte(m.ClobTokenIDs), &ids); err != nil || len(ids) != 2 {
		return "", "", false
	}
	if err := json.Unmarshal([]byte(m.Outcomes), &outcomes); err == nil && len(outcomes) == 2 &&
		strings.EqualFold(outcomes[0], "no") {
		ids[0], ids[1] = ids[1], ids[0]
	}
	return ids[0], ids[1], true
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success     bool   `json:"success"`
	ErrorMsg    string `json:"errorMsg,omitempty"`
	OrderID     string `json:"orderID,omitempty"`
	Status      string `json:"status,omitempty"`
	TransactID  string `json:"transactID,omitempty"`
	ShouldRetry bool   `json:"shouldRetry,omitempty"`
}

// APIBalance is the response from the balance-allowance endpoint. Balance is
// a decimal string in micro-USDC.
type APIBalance struct {
	Balance string `json:"balance"`
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// WSCommand is the JSON payload sent to subscribe to the market channel.
type WSCommand struct {
	Type    string   `json:"type"`
	Channel string   `json:"channel,omitempty"`
	Assets  []string `json:"assets_ids,omitempty"`
}

// BookMessage is a full orderbook snapshot delivered over the market channel.
type BookMessage struct {
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// WSPriceLevel is a single bid/ask level in the WebSocket orderbook data.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// PriceChangeMessage is an incremental level update. Size "0" removes the
// level.
type PriceChangeMessage struct {
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Side      string `json:"side"` // "BUY" or "SELL"
	Price     string `json:"price"`
	Size      string `json:"size"`
	Timestamp string `json:"timestamp"`
}

// ToSnapshot converts a BookMessage to a fixed-point snapshot with the given
// sequence number.
func (b *BookMessage) ToSnapshot(seq uint64) domain.BookSnapshot {
	return domain.BookSnapshot{
		TokenID:   b.AssetID,
		Bids:      parseLevels(b.Bids),
		Asks:      parseLevels(b.Asks),
		Seq:       seq,
		Timestamp: parseWSTimestamp(b.Timestamp),
	}
}

// ToDelta converts a PriceChangeMessage to a fixed-point book delta.
func (p *PriceChangeMessage) ToDelta(seq uint64) domain.BookDelta {
	side := domain.SideAsk
	if p.Side == "BUY" {
		side = domain.SideBid
	}
	price, _ := strconv.ParseFloat(p.Price, 64)
	size, _ := strconv.ParseFloat(p.Size, 64)
	return domain.BookDelta{
		TokenID: p.AssetID,
		Side:    side,
		Level: domain.PriceLevel{
			PriceTicks: domain.PriceToTicks(price),
			SizeUnits:  domain.SizeToUnits(size),
		},
		Seq:       seq,
		Timestamp: parseWSTimestamp(p.Timestamp),
	}
}

func parseLevels(raw []WSPriceLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(raw))
	for _, l := range raw {
		price, err := strconv.ParseFloat(l.Price, 64)
		if err != nil {
			continue
		}
		size, err := strconv.ParseFloat(l.Size, 64)
		if err != nil || size <= 0 {
			continue
		}
		out = append(out, domain.PriceLevel{
			PriceTicks: domain.PriceToTicks(price),
			SizeUnits:  domain.SizeToUnits(size),
		})
	}
	return out
}

// parseWSTimestamp handles both Unix-millisecond and RFC3339 timestamps.
func parseWSTimestamp(raw string) time.Time {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if ms > 1e12 {
			return time.UnixMilli(ms)
		}
		return time.Unix(ms, 0)
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return time.Now()
}
