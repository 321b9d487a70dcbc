package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/devinsight/devinsight/internal/model"
)

const (
	// userCachePrefix is the Redis key prefix for cached users.
	userCachePrefix = "auth:user:"
	// userCacheTTL is the time-to-live for cached users.
	userCacheTTL = 5 * time.Minute
	// revokedTokenPrefix is the Redis key prefix for revoked token IDs.
	revokedTokenPrefix = "auth:revoked:"
)

// GetUser retrieves a cached user.
// Returns ErrCacheMiss if not found or unreadable.
func (c *Cache) GetUser(ctx context.Context, userID string) (*model.CachedUser, error) {
	data, err := c.client.Get(ctx, userCachePrefix+userID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("get cached user: %w", err)
	}

	var cached model.CachedUser
	if err := json.Unmarshal(data, &cached); err != nil {
		// Corrupted entry, treat as miss
		return nil, ErrCacheMiss
	}
	return &cached, nil
}

// SetUser caches the auth-relevant subset of a user.
func (c *Cache) SetUser(ctx context.Context, user *model.User) error {
	data, err := json.Marshal(user.ToCached())
	if err != nil {
		return fmt.Errorf("marshal cached user: %w", err)
	}
	return c.client.Set(ctx, userCachePrefix+user.ID, data, userCacheTTL).Err()
}

// DeleteUser removes a cached user.
// Called after deactivation or profile changes.
func (c *Cache) DeleteUser(ctx context.Context, userID string) error {
	return c.client.Del(ctx, userCachePrefix+userID).Err()
}

// RevokeToken marks a token ID as revoked until the token would have expired.
// Tokens that are already expired need no entry.
func (c *Cache) RevokeToken(ctx context.Context, tokenID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if tokenID == "" || ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, revokedTokenPrefix+tokenID, "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsTokenRevoked reports whether a token ID was revoked.
func (c *Cache) IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := c.client.Exists(ctx, revokedTokenPrefix+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return n > 0, nil
}
