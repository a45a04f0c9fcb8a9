package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miniflow-io/miniflow/internal/platform/config"
)

func testClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)

	port, err := strconv.Atoi(srv.Port())
	require.NoError(t, err)

	client, err := New(config.RedisConfig{
		Host:        srv.Host(),
		Port:        port,
		PoolSize:    2,
		DialTimeout: time.Second,
		KeyPrefix:   "miniflow",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestNewVerifiesConnection(t *testing.T) {
	client, _ := testClient(t)
	assert.NoError(t, client.HealthCheck(context.Background()))

	dead := miniredis.RunT(t)
	port, err := strconv.Atoi(dead.Port())
	require.NoError(t, err)
	dead.Close()

	_, err = New(config.RedisConfig{Host: "127.0.0.1", Port: port, DialTimeout: 100 * time.Millisecond})
	assert.Error(t, err)
}

func TestLockMutualExclusion(t *testing.T) {
	client, _ := testClient(t)
	ctx := context.Background()

	first := client.NewLock("cron:TRG-1", time.Minute)
	acquired, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, acquired)

	second := client.NewLock("cron:TRG-1", time.Minute)
	acquired, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, acquired)

	other := client.NewLock("cron:TRG-2", time.Minute)
	acquired, err = other.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestLockReleaseIsOwnerOnly(t *testing.T) {
	client, _ := testClient(t)
	ctx := context.Background()

	holder := client.NewLock("cron:TRG-1", time.Minute)
	acquired, err := holder.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, acquired)

	// A lock instance that never acquired must not free the holder's.
	intruder := client.NewLock("cron:TRG-1", time.Minute)
	require.NoError(t, intruder.Release(ctx))

	blocked, err := intruder.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, blocked)

	require.NoError(t, holder.Release(ctx))
	reacquired, err := intruder.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, reacquired)
}

func TestLockExpiresWithTTL(t *testing.T) {
	client, srv := testClient(t)
	ctx := context.Background()

	lock := client.NewLock("cron:TRG-1", 50*time.Second)
	acquired, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, acquired)

	srv.FastForward(51 * time.Second)

	next := client.NewLock("cron:TRG-1", 50*time.Second)
	acquired, err = next.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestLockKeysCarryThePrefix(t *testing.T) {
	client, srv := testClient(t)

	lock := client.NewLock("cron:TRG-1", time.Minute)
	acquired, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, acquired)

	assert.True(t, srv.Exists("miniflow:lock:cron:TRG-1"))
}
