package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

const syncLockPrefix = "lock:sync:"

// releaseLockScript deletes the lock only if it still holds our token.
var releaseLockScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// SyncLock is a held repository sync lock.
type SyncLock struct {
	key   string
	token string
	c     *Cache
}

// AcquireSyncLock takes the sync lock of a repository for ttl.
// Returns nil without error when another holder owns it.
func (c *Cache) AcquireSyncLock(ctx context.Context, repositoryID string, ttl time.Duration) (*SyncLock, error) {
	key := syncLockPrefix + repositoryID
	token := ulid.Make().String()

	ok, err := c.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &SyncLock{key: key, token: token, c: c}, nil
}

// IsSyncLocked reports whether a sync currently holds the repository lock.
func (c *Cache) IsSyncLocked(ctx context.Context, repositoryID string) (bool, error) {
	n, err := c.client.Exists(ctx, syncLockPrefix+repositoryID).Result()
	if err != nil {
		return false, fmt.Errorf("check sync lock: %w", err)
	}
	return n > 0, nil
}

// Release frees the lock if it was not taken over after expiry.
func (l *SyncLock) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := releaseLockScript.Run(ctx, l.c.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release sync lock: %w", err)
	}
	return nil
}
