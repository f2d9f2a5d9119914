package auctionwatcher

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const timerKeyPrefix = "auc_t:"

// Sweeper runs an out-of-band sweep.
type Sweeper interface {
	Trigger()
}

// Watcher keeps one expiring key per live auction. Its expiry is a hint that
// closure is due; the periodic sweep stays authoritative.
type Watcher struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Watcher {
	return &Watcher{rdb: rdb}
}

// Arm sets the auction's timer key to expire at endTime.
func (w *Watcher) Arm(ctx context.Context, auctionID string, endTime time.Time) error {
	ttl := time.Until(endTime)
	if ttl <= 0 {
		return nil
	}
	return w.rdb.Set(ctx, timerKeyPrefix+auctionID, endTime.Unix(), ttl).Err()
}

// Run listens to key-expiry events and asks the sweeper to close auctions
// right away. Run must be started once at service boot.
func (w *Watcher) Run(ctx context.Context, sweeper Sweeper) {
	if err := w.rdb.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		zap.L().Warn("auctionwatcher.config_set", zap.Error(err))
	}
	ps := w.rdb.PSubscribe(ctx, "__keyevent@*__:expired")
	defer ps.Close()

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			id, ok := auctionIDFromKey(m.Payload)
			if !ok {
				continue
			}
			zap.L().Debug("auctionwatcher.expired", zap.String("auction_id", id))
			sweeper.Trigger()
		}
	}
}

func auctionIDFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, timerKeyPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(key, timerKeyPrefix)
	return id, id != ""
}
