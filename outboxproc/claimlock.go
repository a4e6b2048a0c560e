package outboxproc

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClaimLock is an optional pre-check layered in front of the conditional
// UPDATE that performs the real claim (spec.md section 4.5). It exists so
// that multiple Processor instances contending for the same PENDING rows
// can skip the doomed UPDATE attempt entirely instead of racing at the
// database -- not required by the spec's baseline claim semantics, which
// work correctly without it, but cheaper at scale. Acquire returns ok=false
// (not an error) when another holder already owns key; the caller should
// simply skip that event this pass.
type ClaimLock interface {
	Acquire(ctx context.Context, key string) (release func(), ok bool, err error)
}

// noopClaimLock is the default: every acquire succeeds immediately,
// leaving the conditional-UPDATE claim as the sole source of truth. New
// installs it unless a ClaimLock is supplied with WithClaimLock.
type noopClaimLock struct{}

func (noopClaimLock) Acquire(ctx context.Context, key string) (func(), bool, error) {
	return func() {}, true, nil
}

// RedisClaimLock backs ClaimLock with a Redis SET NX lock, the standard
// distributed-lock pattern for the go-redis client. Not used by the
// teacher; adopted from the pack's Redis-using repos as the idiomatic
// choice for this kind of cross-process mutual exclusion (spec.md section
// 9, Open Question 2).
type RedisClaimLock struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisClaimLock builds a RedisClaimLock over client. ttl bounds how
// long a lock survives if its holder crashes before releasing.
func NewRedisClaimLock(client *redis.Client, ttl time.Duration) *RedisClaimLock {
	return &RedisClaimLock{client: client, ttl: ttl, prefix: "wtb:outbox:claim:"}
}

func (l *RedisClaimLock) Acquire(ctx context.Context, key string) (func(), bool, error) {
	redisKey := l.prefix + key
	ok, err := l.client.SetNX(ctx, redisKey, "1", l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return func() {}, false, nil
	}
	release := func() {
		l.client.Del(context.Background(), redisKey)
	}
	return release, true, nil
}

var _ ClaimLock = (*RedisClaimLock)(nil)
var _ ClaimLock = noopClaimLock{}
