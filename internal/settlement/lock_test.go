package settlement

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewSweepLockWithoutRedisIsLocal(t *testing.T) {
	lock := NewSweepLock(LockParams{Config: DefaultConfig(), Log: zap.NewNop()})
	require.IsType(t, localLock{}, lock)

	release, ok, err := lock.Acquire(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NotNil(t, release)
	release(context.Background())
}

func TestRedisLockRequiresClient(t *testing.T) {
	assert.Nil(t, NewRedisLock(nil, 0))

	var lock *RedisLock
	_, ok, err := lock.Acquire(context.Background(), 7)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestSweepLockKey(t *testing.T) {
	assert.Equal(t, "paywatch:sweep:12345", sweepLockKey(12345))
}
