package reconcile

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/lumenpay/backend-pay/internal/domain"
)

// ReplayProtector suppresses reprocessing of a transaction hash within a TTL.
// The database uniqueness constraint remains the authoritative guard; this
// avoids the write round-trip on obvious stream redeliveries. Release must
// drop the key when the guarded write did not commit, so the next redelivery
// reaches the database instead of being suppressed with no Payment row.
type ReplayProtector interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisReplayProtector implements ReplayProtector with SET NX.
type RedisReplayProtector struct {
	Client *redis.Client
}

func (r RedisReplayProtector) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.Client.SetNX(ctx, key, "1", ttl).Result()
}

func (r RedisReplayProtector) Release(ctx context.Context, key string) error {
	return r.Client.Del(ctx, key).Err()
}

func replayKey(env domain.Environment, hash string) string {
	return fmt.Sprintf("recon:%s:%s", env, hash)
}
