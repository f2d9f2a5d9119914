package sweeplock

import (
	"context"
	"errors"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const key = "lock:auction_sweep"

// Lock lets one replica at a time run the periodic sweep. The sweep is safe
// without it; the lock only saves the other replicas from redundant passes.
type Lock struct {
	mutex *redsync.Mutex
}

func New(client *redis.Client, expiry time.Duration) *Lock {
	rs := redsync.New(goredis.NewPool(client))
	return &Lock{mutex: rs.NewMutex(key,
		redsync.WithExpiry(expiry),
		redsync.WithTries(1),
	)}
}

// TryAcquire returns ok=false without error when another replica holds the lock.
func (l *Lock) TryAcquire(ctx context.Context) (release func(), ok bool, err error) {
	err = l.mutex.TryLockContext(ctx)
	if err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return func() {
		if _, err := l.mutex.UnlockContext(context.WithoutCancel(ctx)); err != nil {
			zap.L().Warn("sweeplock.unlock", zap.Error(err))
		}
	}, true, nil
}
