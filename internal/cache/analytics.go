package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
)

const analyticsKeyPrefix = "analytics:"

// DefaultAnalyticsTTL is used when a caller passes a non-positive TTL.
const DefaultAnalyticsTTL = time.Hour

// AnalyticsKey builds the cache key of an analytics response. Query
// parameters are canonicalised so that ordering does not split entries.
func AnalyticsKey(userID, endpoint string, query url.Values) string {
	canonical := query.Encode() // sorted by key
	sum := sha256.Sum256([]byte(endpoint + "?" + canonical))
	return analyticsKeyPrefix + userID + ":" + endpoint + ":" + hex.EncodeToString(sum[:8])
}

// GetAnalytics returns a cached analytics payload.
// Returns ErrCacheMiss if not found.
func (c *Cache) GetAnalytics(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("get analytics cache: %w", err)
	}
	return data, nil
}

// SetAnalytics stores an analytics payload.
func (c *Cache) SetAnalytics(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultAnalyticsTTL
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("set analytics cache: %w", err)
	}
	return nil
}

// InvalidateUserAnalytics drops every cached analytics payload of a user.
// This scans keys, so callers run it on writes only.
func (c *Cache) InvalidateUserAnalytics(ctx context.Context, userID string) (int64, error) {
	return c.deleteByPattern(ctx, analyticsKeyPrefix+userID+":*")
}
