package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrItemLeased signals that another worker currently owns the item.
var ErrItemLeased = errors.New("item is being migrated by another worker")

const (
	leaseKeyPrefix  = "history-migrator:lease:"
	defaultLeaseTTL = 5 * time.Minute
)

// ReleaseFunc gives a lease back.
type ReleaseFunc func(ctx context.Context) error

// ItemLocker grants exclusive per-item leases.
type ItemLocker interface {
	Acquire(ctx context.Context, itemID string, ttl time.Duration) (ReleaseFunc, error)
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`)

type redisItemLocker struct {
	client *redis.Client
}

// NewItemLocker returns a Redis backed locker, or a no-op locker when client is nil.
func NewItemLocker(client *redis.Client) ItemLocker {
	if client == nil {
		return noopItemLocker{}
	}
	return &redisItemLocker{client: client}
}

func (l *redisItemLocker) Acquire(ctx context.Context, itemID string, ttl time.Duration) (ReleaseFunc, error) {
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	key := leaseKeyPrefix + itemID
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return nil, ErrItemLeased
	}
	return func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}, nil
}

type noopItemLocker struct{}

func (noopItemLocker) Acquire(context.Context, string, time.Duration) (ReleaseFunc, error) {
	return func(context.Context) error { return nil }, nil
}
