// Package kalshi implements the venue client for the Kalshi exchange.
// REST requests are signed with RSA-PSS, book data arrives over the
// orderbook_delta WebSocket channel. Kalshi quotes prices in cents and has
// no per-outcome tokens, so YES/NO tokens are synthesized per ticker and
// each side's ask ladder is derived from the complement's bids.
package kalshi

import (
	"bytes"
	"context"
	stdcrypto "crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/oddsfair/arbot/internal/domain"
)

// Name is the venue identifier used in market IDs and rate-limiter keys.
const Name = "kalshi"

// Config holds the endpoints and credentials for the Kalshi client.
type Config struct {
	BaseURL string // e.g. "https://api.elections.kalshi.com/trade-api/v2"
	WSURL   string // e.g. "wss://api.elections.kalshi.com/trade-api/ws/v2"

	APIKeyID string
	// PrivateKeyPEM is the PEM-encoded RSA key matching APIKeyID. When empty
	// the client is read-only.
	PrivateKeyPEM []byte
}

// Client implements domain.ExchangeClient for Kalshi.
type Client struct {
	cfg        Config
	privateKey *rsa.PrivateKey
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Kalshi client, parsing the RSA key when one is configured.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With(slog.String("component", "kalshi")),
	}
	if len(cfg.PrivateKeyPEM) > 0 {
		key, err := parseRSAKey(cfg.PrivateKeyPEM)
		if err != nil {
			return nil, err
		}
		c.privateKey = key
	}
	return c, nil
}

// parseRSAKey loads an RSA private key from PEM bytes, accepting PKCS8 with
// a PKCS1 fallback.
func parseRSAKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("kalshi: no PEM block found in private key")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		pkcs1Key, pkcs1Err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if pkcs1Err != nil {
			return nil, fmt.Errorf("kalshi: parse private key: %w (pkcs1: %v)", err, pkcs1Err)
		}
		return pkcs1Key, nil
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("kalshi: expected RSA private key, got %T", key)
	}
	return rsaKey, nil
}

// Name implements domain.ExchangeClient.
func (c *Client) Name() string { return Name }

// ListMarkets fetches open markets ordered by lifetime volume.
func (c *Client) ListMarkets(ctx context.Context, limit int) ([]domain.Market, error) {
	if limit <= 0 {
		limit = 100
	}
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("status", "open")

	body, err := c.doSignedRequest(ctx, http.MethodGet, "/markets?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("kalshi: list markets: %w", err)
	}

	var resp struct {
		Markets []APIMarket `json:"markets"`
		Cursor  string      `json:"cursor"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kalshi: decode markets: %w", err)
	}

	markets := make([]domain.Market, 0, len(resp.Markets))
	for i := range resp.Markets {
		markets = append(markets, resp.Markets[i].ToDomainMarket())
	}
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].Volume > markets[j].Volume
	})
	return markets, nil
}

// PlaceOrder submits a limit order and emulates FOK/FAK semantics: Kalshi
// has no native time-in-force, so any remainder left resting after the
// immediate match is cancelled. FOK reports rejected unless the whole count
// filled as taker; FAK reports whatever filled.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if c.privateKey == nil {
		return domain.OrderResult{}, fmt.Errorf("kalshi: place order: %w", domain.ErrUnauthorized)
	}

	ticker, yes, ok := splitToken(req.TokenID)
	if !ok {
		return domain.OrderResult{}, fmt.Errorf("kalshi: bad token %q: %w", req.TokenID, domain.ErrInvalidOrder)
	}

	count := req.SizeUnits / domain.SizeScale
	if count <= 0 {
		return domain.OrderResult{}, fmt.Errorf("kalshi: order below one contract: %w", domain.ErrInvalidOrder)
	}
	cents := req.PriceTicks / centTicks
	if cents < 1 || cents > 99 {
		return domain.OrderResult{}, fmt.Errorf("kalshi: price %d cents out of range: %w", cents, domain.ErrInvalidOrder)
	}

	order := APIOrder{
		Ticker:        ticker,
		ClientOrderID: uuid.NewString(),
		Action:        string(req.Side),
		Type:          "limit",
		Count:         count,
	}
	if yes {
		order.Side = "yes"
		order.YesPrice = &cents
	} else {
		order.Side = "no"
		order.NoPrice = &cents
	}

	body, err := c.doSignedRequest(ctx, http.MethodPost, "/portfolio/orders", order)
	if err != nil {
		if ctx.Err() != nil {
			return domain.OrderResult{Status: domain.OrderStatusTimeout, Reason: err.Error()}, nil
		}
		return domain.OrderResult{}, fmt.Errorf("kalshi: place order: %w", err)
	}

	var resp APIOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderResult{}, fmt.Errorf("kalshi: decode order response: %w", err)
	}

	return c.settleOrder(ctx, req, resp.Order), nil
}

// settleOrder resolves the immediate-or-cancel outcome of a placed order.
func (c *Client) settleOrder(ctx context.Context, req domain.OrderRequest, state APIOrderState) domain.OrderResult {
	count := req.SizeUnits / domain.SizeScale
	fill := state.TakerFillCount

	if state.RemainingCount > 0 && state.Status == "resting" {
		if err := c.cancelOrder(ctx, state.OrderID); err != nil {
			c.logger.Warn("cancel resting remainder failed",
				slog.String("order_id", state.OrderID), slog.Any("error", err))
		}
	}

	fullFill := fill >= count
	if req.Type == domain.OrderTypeFOK && !fullFill {
		return domain.OrderResult{
			Status:       domain.OrderStatusRejected,
			VenueOrderID: state.OrderID,
			Reason:       fmt.Sprintf("filled %d of %d contracts", fill, count),
			ExecutedAt:   time.Now(),
		}
	}
	if fill <= 0 {
		return domain.OrderResult{
			Status:       domain.OrderStatusRejected,
			VenueOrderID: state.OrderID,
			Reason:       "no immediate match",
			ExecutedAt:   time.Now(),
		}
	}

	avgTicks := req.PriceTicks
	if state.TakerFillCost > 0 {
		avgTicks = centsToTicks(state.TakerFillCost) / fill
	}
	return domain.OrderResult{
		Status:       domain.OrderStatusFilled,
		VenueOrderID: state.OrderID,
		PriceTicks:   avgTicks,
		SizeUnits:    contractsToUnits(fill),
		ExecutedAt:   time.Now(),
	}
}

// cancelOrder cancels a resting order by its ID.
func (c *Client) cancelOrder(ctx context.Context, orderID string) error {
	path := "/portfolio/orders/" + url.PathEscape(orderID)
	if _, err := c.doSignedRequest(ctx, http.MethodDelete, path, nil); err != nil {
		return fmt.Errorf("kalshi: cancel order %s: %w", orderID, err)
	}
	return nil
}

// GetBalance returns the available trading balance in dollars.
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	if c.privateKey == nil {
		return 0, fmt.Errorf("kalshi: get balance: %w", domain.ErrUnauthorized)
	}

	body, err := c.doSignedRequest(ctx, http.MethodGet, "/portfolio/balance", nil)
	if err != nil {
		return 0, fmt.Errorf("kalshi: get balance: %w", err)
	}

	var resp struct {
		Balance int64 `json:"balance"` // cents
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("kalshi: decode balance: %w", err)
	}
	return float64(resp.Balance) / 100, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doSignedRequest builds, signs (RSA-PSS), sends, and reads an HTTP request
// against the Kalshi API.
func (c *Client) doSignedRequest(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if err := c.signRequest(req, method, path); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := c.checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// signRequest adds RSA authentication headers. Kalshi signs
// timestamp + method + path with RSA-PSS-SHA256.
func (c *Client) signRequest(req *http.Request, method, path string) error {
	if c.privateKey == nil {
		return fmt.Errorf("kalshi: RSA private key not configured")
	}

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	message := ts + method + path

	hash := sha256.Sum256([]byte(message))
	signature, err := rsa.SignPSS(rand.Reader, c.privateKey, stdcrypto.SHA256, hash[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return fmt.Errorf("%w: rsa: %v", domain.ErrSigningFailed, err)
	}

	req.Header.Set("KALSHI-ACCESS-KEY", c.cfg.APIKeyID)
	req.Header.Set("KALSHI-ACCESS-SIGNATURE", base64.StdEncoding.EncodeToString(signature))
	req.Header.Set("KALSHI-ACCESS-TIMESTAMP", ts)
	return nil
}

// wsHeaders returns the signed handshake headers for the WebSocket, or nil
// when the client is read-only. The signed path is the WebSocket route, not
// the REST base.
func (c *Client) wsHeaders() http.Header {
	if c.privateKey == nil {
		return nil
	}

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	message := ts + http.MethodGet + "/trade-api/ws/v2"

	hash := sha256.Sum256([]byte(message))
	signature, err := rsa.SignPSS(rand.Reader, c.privateKey, stdcrypto.SHA256, hash[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return nil
	}

	h := http.Header{}
	h.Set("KALSHI-ACCESS-KEY", c.cfg.APIKeyID)
	h.Set("KALSHI-ACCESS-SIGNATURE", base64.StdEncoding.EncodeToString(signature))
	h.Set("KALSHI-ACCESS-TIMESTAMP", ts)
	return h
}

// checkStatus maps non-2xx HTTP status codes to domain errors.
func (c *Client) checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr APIErrorResponse
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s (%s)", domain.ErrNotFound, apiErr.Message, apiErr.Code)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s (%s)", domain.ErrUnauthorized, apiErr.Message, apiErr.Code)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s (%s)", domain.ErrRateLimited, apiErr.Message, apiErr.Code)
	default:
		return fmt.Errorf("kalshi: HTTP %d: %s (%s)", statusCode, apiErr.Message, apiErr.Code)
	}
}

// Compile-time interface check.
var _ domain.ExchangeClient = (*Client)(nil)
