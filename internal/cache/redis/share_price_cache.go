package redis

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/quantdao/ledgerd/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SharePriceCache implements domain.SharePriceCache using a Redis hash.
// The latest share price is stored at key "treasury:share_price" with fields
// "price" (decimal string at 1e18 scale) and "ts" (Unix nanosecond
// timestamp).
type SharePriceCache struct {
	rdb *redis.Client
}

// NewSharePriceCache creates a SharePriceCache backed by the given Client.
func NewSharePriceCache(c *Client) *SharePriceCache {
	return &SharePriceCache{rdb: c.Underlying()}
}

const sharePriceKey = "treasury:share_price"

// SetSharePrice stores the latest share price and its computation timestamp.
func (sc *SharePriceCache) SetSharePrice(ctx context.Context, price *big.Int, ts time.Time) error {
	if price == nil {
		price = new(big.Int)
	}
	fields := map[string]interface{}{
		"price": price.String(),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := sc.rdb.HSet(ctx, sharePriceKey, fields).Err(); err != nil {
		return fmt.Errorf("redis: set share price: %w", err)
	}
	return nil
}

// GetSharePrice retrieves the latest share price and timestamp. It returns
// domain.ErrNotFound when no price has been cached yet.
func (sc *SharePriceCache) GetSharePrice(ctx context.Context) (*big.Int, time.Time, error) {
	vals, err := sc.rdb.HGetAll(ctx, sharePriceKey).Result()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: get share price: %w", err)
	}
	if len(vals) == 0 {
		return nil, time.Time{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return nil, time.Time{}, domain.ErrNotFound
	}
	price, ok := new(big.Int).SetString(priceStr, 10)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("redis: parse share price %q", priceStr)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return nil, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: parse share price ts: %w", err)
	}

	return price, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.SharePriceCache = (*SharePriceCache)(nil)
