package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const sweepLockPrefix = "paywatch:sweep:"

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// SweepLock serializes sweeps of one invoice across processes.
type SweepLock interface {
	// Acquire returns ok=false when another holder owns the invoice.
	Acquire(ctx context.Context, invoiceID snowflake.ID) (release func(context.Context), ok bool, err error)
}

type LockParams struct {
	fx.In

	Config Config
	Redis  *redis.Client `optional:"true"`
	Log    *zap.Logger
}

// NewSweepLock uses Redis when a client is configured and a process-local
// no-op otherwise; per-invoice monitors already exclude each other in process.
func NewSweepLock(p LockParams) SweepLock {
	if p.Redis == nil {
		p.Log.Named("settlement.lock").Info("settlement.lock.local")
		return localLock{}
	}
	return NewRedisLock(p.Redis, p.Config.LockTTL)
}

type RedisLock struct {
	client *redis.Client
	script *redis.Script
	ttl    time.Duration
}

func NewRedisLock(client *redis.Client, ttl time.Duration) *RedisLock {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultConfig().LockTTL
	}
	return &RedisLock{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		ttl:    ttl,
	}
}

func sweepLockKey(invoiceID snowflake.ID) string {
	return sweepLockPrefix + invoiceID.String()
}

func (l *RedisLock) Acquire(ctx context.Context, invoiceID snowflake.ID) (func(context.Context), bool, error) {
	if l == nil || l.client == nil {
		return nil, false, errors.New("lock client not configured")
	}
	if invoiceID == 0 {
		return nil, false, errors.New("lock key is empty")
	}

	key := sweepLockKey(invoiceID)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return func(ctx context.Context) {
		_ = l.script.Run(ctx, l.client, []string{key}, token).Err()
	}, true, nil
}

type localLock struct{}

func (localLock) Acquire(context.Context, snowflake.ID) (func(context.Context), bool, error) {
	return func(context.Context) {}, true, nil
}
