package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oddsfair/arbot/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each token's
// best bid/ask is stored at key "quote:{tokenID}" with fields "bid", "ask"
// and "ts" (Unix nanosecond timestamp). The feed writes, the position
// monitor reads when its in-memory book is missing or stale.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. Entries
// expire after a minute so dead tokens do not accumulate.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: time.Minute}
}

func quoteKey(tokenID string) string {
	return "quote:" + tokenID
}

// SetQuote stores the latest best bid/ask for a token.
func (pc *PriceCache) SetQuote(ctx context.Context, q domain.Quote) error {
	key := quoteKey(q.TokenID)
	fields := map[string]interface{}{
		"bid": strconv.FormatInt(q.BidTicks, 10),
		"ask": strconv.FormatInt(q.AskTicks, 10),
		"ts":  strconv.FormatInt(q.Timestamp.UnixNano(), 10),
	}
	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, pc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.TokenID, err)
	}
	return nil
}

// GetQuote retrieves the latest quote for a token. Returns domain.ErrNotFound
// when the key does not exist.
func (pc *PriceCache) GetQuote(ctx context.Context, tokenID string) (domain.Quote, error) {
	vals, err := pc.rdb.HGetAll(ctx, quoteKey(tokenID)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", tokenID, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, domain.ErrNotFound
	}
	return parseQuote(tokenID, vals)
}

// GetQuotes retrieves quotes for multiple tokens using a pipeline. Tokens
// whose keys do not exist are silently omitted.
func (pc *PriceCache) GetQuotes(ctx context.Context, tokenIDs []string) (map[string]domain.Quote, error) {
	if len(tokenIDs) == 0 {
		return map[string]domain.Quote{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(tokenIDs))
	for _, id := range tokenIDs {
		cmds[id] = pipe.HGetAll(ctx, quoteKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes pipeline: %w", err)
	}

	result := make(map[string]domain.Quote, len(tokenIDs))
	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		q, err := parseQuote(id, vals)
		if err != nil {
			continue
		}
		result[id] = q
	}
	return result, nil
}

func parseQuote(tokenID string, vals map[string]string) (domain.Quote, error) {
	bid, err := strconv.ParseInt(vals["bid"], 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse bid %s: %w", tokenID, err)
	}
	ask, err := strconv.ParseInt(vals["ask"], 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse ask %s: %w", tokenID, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse ts %s: %w", tokenID, err)
	}
	return domain.Quote{
		TokenID:   tokenID,
		BidTicks:  bid,
		AskTicks:  ask,
		Timestamp: time.Unix(0, tsNano),
	}, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
