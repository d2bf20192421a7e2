package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// UserLockKey builds redis keys for per-user mutation critical sections.
func UserLockKey(userID int64) string {
	return fmt.Sprintf("authz:user:%d:lock", userID)
}

// MutationLocker serialises mutations per user with redis advisory locks.
type MutationLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewMutationLocker constructs the locker. The ttl bounds how long a crashed
// holder can block other writers.
func NewMutationLocker(client *redis.Client, ttl time.Duration) *MutationLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &MutationLocker{client: client, ttl: ttl}
}

// Acquire takes the lock for userID. Returns ErrConcurrentModification when
// another writer holds it.
func (l *MutationLocker) Acquire(ctx context.Context, userID int64) (string, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, UserLockKey(userID), token, l.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("shared: acquire user lock: %w", err)
	}
	if !ok {
		return "", ErrConcurrentModification
	}
	return token, nil
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Release frees the lock if token still owns it.
func (l *MutationLocker) Release(ctx context.Context, userID int64, token string) error {
	if token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{UserLockKey(userID)}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("shared: release user lock: %w", err)
	}
	return nil
}

// AcquireAll locks every user in ids, in ascending order to avoid deadlock
// between concurrent batches. On failure all acquired locks are released.
func (l *MutationLocker) AcquireAll(ctx context.Context, ids []int64) (map[int64]string, error) {
	tokens := make(map[int64]string, len(ids))
	for _, id := range ids {
		token, err := l.Acquire(ctx, id)
		if err != nil {
			for held, tok := range tokens {
				_ = l.Release(ctx, held, tok)
			}
			return nil, err
		}
		tokens[id] = token
	}
	return tokens, nil
}

// ReleaseAll frees every lock in tokens.
func (l *MutationLocker) ReleaseAll(ctx context.Context, tokens map[int64]string) {
	for id, token := range tokens {
		_ = l.Release(ctx, id, token)
	}
}
