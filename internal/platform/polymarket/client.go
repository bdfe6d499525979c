// Package polymarket implements the venue client for the Polymarket CLOB.
// Market discovery goes through the Gamma API, trading through the CLOB REST
// API with EIP-712 signed orders, and book data through the market-channel
// WebSocket.
package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/oddsfair/arbot/internal/crypto"
	"github.com/oddsfair/arbot/internal/domain"
)

// Name is the venue identifier used in market IDs and rate-limiter keys.
const Name = "polymarket"

const zeroAddress = "0x0000000000000000000000000000000000000000"

// Config holds the endpoints and credentials for the Polymarket client.
type Config struct {
	GammaURL string // e.g. "https://gamma-api.polymarket.com"
	ClobURL  string // e.g. "https://clob.polymarket.com"
	WSURL    string // e.g. "wss://ws-subscriptions-clob.polymarket.com/ws/market"

	// PrivateKey is the hex-encoded secp256k1 key used for order signing.
	// When empty the client is read-only: ListMarkets and SubscribeBook work,
	// trading calls fail with ErrUnauthorized.
	PrivateKey string
	ChainID    int // 137 for Polygon mainnet
}

// Client implements domain.ExchangeClient for Polymarket.
type Client struct {
	cfg        Config
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth
	logger     *slog.Logger
}

// New creates a Polymarket client. When a private key is configured the
// caller should run DeriveAPIKey once before trading.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With(slog.String("component", "polymarket")),
	}
	if cfg.PrivateKey != "" {
		signer, err := crypto.NewSigner(cfg.PrivateKey, cfg.ChainID)
		if err != nil {
			return nil, fmt.Errorf("polymarket: %w", err)
		}
		c.signer = signer
	}
	return c, nil
}

// Name implements domain.ExchangeClient.
func (c *Client) Name() string { return Name }

// ListMarkets fetches active binary markets from the Gamma API ordered by
// lifetime volume. Markets without a tradable YES/NO token pair are skipped.
func (c *Client) ListMarkets(ctx context.Context, limit int) ([]domain.Market, error) {
	if limit <= 0 {
		limit = 100
	}
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("order", "volume")
	params.Set("ascending", "false")

	body, err := c.doGet(ctx, c.cfg.GammaURL+"/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket: list markets: %w", err)
	}

	var apiMarkets []APIMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return nil, fmt.Errorf("polymarket: decode markets: %w", err)
	}

	markets := make([]domain.Market, 0, len(apiMarkets))
	for i := range apiMarkets {
		if m, ok := apiMarkets[i].ToDomainMarket(); ok {
			markets = append(markets, m)
		}
	}
	return markets, nil
}

// PlaceOrder signs and submits an order to the CLOB. FOK orders report
// filled only when fully matched; anything else comes back rejected with the
// venue's reason. A context deadline surfaces as a timeout result error.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if c.signer == nil || c.hmacAuth == nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket: place order: %w", domain.ErrUnauthorized)
	}

	notional := domain.NotionalMicro(req.PriceTicks, req.SizeUnits)

	var makerAmount, takerAmount int64
	var sideNum int
	var sideStr string
	if req.Side == domain.OrderSideBuy {
		makerAmount, takerAmount = notional, req.SizeUnits
		sideNum, sideStr = 0, "BUY"
	} else {
		makerAmount, takerAmount = req.SizeUnits, notional
		sideNum, sideStr = 1, "SELL"
	}

	maker := c.signer.Address().Hex()
	payload := crypto.OrderPayload{
		Salt:          strconv.FormatInt(rand.Int63(), 10),
		Maker:         maker,
		Signer:        maker,
		Taker:         zeroAddress,
		TokenID:       req.TokenID,
		MakerAmount:   strconv.FormatInt(makerAmount, 10),
		TakerAmount:   strconv.FormatInt(takerAmount, 10),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          sideNum,
		SignatureType: 0,
	}

	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket: sign order: %w: %v", domain.ErrSigningFailed, err)
	}

	body := map[string]any{
		"order": map[string]any{
			"salt":          payload.Salt,
			"tokenID":       payload.TokenID,
			"makerAmount":   payload.MakerAmount,
			"takerAmount":   payload.TakerAmount,
			"side":          sideStr,
			"feeRateBps":    payload.FeeRateBps,
			"nonce":         payload.Nonce,
			"expiration":    payload.Expiration,
			"signatureType": payload.SignatureType,
			"signature":     sig,
			"maker":         maker,
			"signer":        maker,
			"taker":         zeroAddress,
		},
		"owner":     c.hmacAuth.Key,
		"orderType": string(req.Type),
	}

	respBody, err := c.doAuthenticated(ctx, http.MethodPost, "/order", body)
	if err != nil {
		if ctx.Err() != nil {
			return domain.OrderResult{Status: domain.OrderStatusTimeout, Reason: err.Error()}, nil
		}
		return domain.OrderResult{}, fmt.Errorf("polymarket: post order: %w", err)
	}

	var apiResult APIOrderResult
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket: decode order result: %w", err)
	}

	return c.toResult(req, apiResult), nil
}

// toResult maps the CLOB answer to the venue-agnostic form. The CLOB does
// not report the fill price for matched orders, so the limit price stands in
// as the average fill.
func (c *Client) toResult(req domain.OrderRequest, api APIOrderResult) domain.OrderResult {
	if api.Success && api.Status == "matched" {
		return domain.OrderResult{
			Status:       domain.OrderStatusFilled,
			VenueOrderID: api.OrderID,
			PriceTicks:   req.PriceTicks,
			SizeUnits:    req.SizeUnits,
			ExecutedAt:   time.Now(),
		}
	}
	reason := api.ErrorMsg
	if reason == "" {
		reason = "unmatched, status=" + api.Status
	}
	return domain.OrderResult{
		Status:       domain.OrderStatusRejected,
		VenueOrderID: api.OrderID,
		Reason:       reason,
		ExecutedAt:   time.Now(),
	}
}

// GetBalance returns the available USDC collateral in dollars.
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	if c.signer == nil || c.hmacAuth == nil {
		return 0, fmt.Errorf("polymarket: get balance: %w", domain.ErrUnauthorized)
	}

	path := "/balance-allowance?asset_type=COLLATERAL"
	respBody, err := c.doAuthenticated(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, fmt.Errorf("polymarket: get balance: %w", err)
	}

	var bal APIBalance
	if err := json.Unmarshal(respBody, &bal); err != nil {
		return 0, fmt.Errorf("polymarket: decode balance: %w", err)
	}
	micro, err := strconv.ParseInt(bal.Balance, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("polymarket: parse balance %q: %w", bal.Balance, err)
	}
	return domain.MicroToDollars(micro), nil
}

// DeriveAPIKey performs the CLOB auth flow to obtain HMAC credentials. It
// signs a ClobAuth EIP-712 message and sends it with L1 headers; the derived
// key is kept on the client for all subsequent authenticated requests.
func (c *Client) DeriveAPIKey(ctx context.Context) error {
	if c.signer == nil {
		return fmt.Errorf("polymarket: derive api key: %w", domain.ErrUnauthorized)
	}

	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(address, timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.ClobURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_NONCE", strconv.FormatInt(nonce, 10))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket: read auth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polymarket: auth failed (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("polymarket: decode auth response: %w", err)
	}

	c.hmacAuth = &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}
	c.logger.Info("api key derived", slog.String("address", address))
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doGet sends an unauthenticated GET request and reads the body.
func (c *Client) doGet(ctx context.Context, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// doAuthenticated builds, signs (HMAC L2), sends and reads a CLOB request.
func (c *Client) doAuthenticated(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.ClobURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	address := c.signer.Address().Hex()
	for k, v := range c.hmacAuth.L2Headers(address, method, path, bodyStr) {
		req.Header.Set(k, v)
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
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

// Compile-time interface check.
var _ domain.ExchangeClient = (*Client)(nil)
