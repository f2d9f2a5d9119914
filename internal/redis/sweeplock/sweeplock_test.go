package sweeplock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLock_OneHolder(t *testing.T) {
	mr, client := setup(t)
	ctx := context.Background()
	a := New(client, 10*time.Second)
	b := New(client, 10*time.Second)

	release, ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, mr.Exists(key))

	_, ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	release()
	require.False(t, mr.Exists(key))

	release, ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	release()
}

func TestLock_ExpiresWithoutRelease(t *testing.T) {
	mr, client := setup(t)
	ctx := context.Background()

	_, ok, err := New(client, 5*time.Second).TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(6 * time.Second)

	release, ok, err := New(client, 5*time.Second).TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	release()
}

func TestLock_RedisDown(t *testing.T) {
	mr, client := setup(t)
	mr.Close()

	_, ok, err := New(client, time.Second).TryAcquire(context.Background())
	require.False(t, ok)
	require.Error(t, err)
}
