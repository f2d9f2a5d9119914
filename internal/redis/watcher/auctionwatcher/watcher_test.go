package auctionwatcher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct{ n atomic.Int32 }

func (c *countingSweeper) Trigger() { c.n.Add(1) }

func setup(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestAuctionIDFromKey(t *testing.T) {
	tests := []struct {
		key    string
		wantID string
		wantOK bool
	}{
		{key: "auc_t:abc", wantID: "abc", wantOK: true},
		{key: "auc_t:", wantOK: false},
		{key: "auc:abc:events", wantOK: false},
		{key: "session:1", wantOK: false},
	}
	for _, tc := range tests {
		id, ok := auctionIDFromKey(tc.key)
		require.Equal(t, tc.wantOK, ok, tc.key)
		require.Equal(t, tc.wantID, id, tc.key)
	}
}

func TestArm(t *testing.T) {
	mr, rdb := setup(t)
	w := New(rdb)
	ctx := context.Background()

	end := time.Now().Add(90 * time.Second)
	require.NoError(t, w.Arm(ctx, "a1", end))
	require.True(t, mr.Exists("auc_t:a1"))
	ttl := mr.TTL("auc_t:a1")
	require.True(t, ttl > 80*time.Second && ttl <= 90*time.Second, "ttl %s", ttl)

	mr.FastForward(91 * time.Second)
	require.False(t, mr.Exists("auc_t:a1"))

	require.NoError(t, w.Arm(ctx, "a2", time.Now().Add(-time.Second)))
	require.False(t, mr.Exists("auc_t:a2"), "past deadlines are left to the sweep")
}

func TestRun_TriggersOnExpiry(t *testing.T) {
	_, rdb := setup(t)
	sw := &countingSweeper{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		New(rdb).Run(ctx, sw)
	}()

	// keep publishing until the subscription is live
	require.Eventually(t, func() bool {
		rdb.Publish(context.Background(), "__keyevent@0__:expired", "session:1")
		return rdb.Publish(context.Background(), "__keyevent@0__:expired", "auc_t:a1").Val() > 0
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return sw.n.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
