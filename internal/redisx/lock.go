package redisx

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"time"
)

// release hanya kalau token masih milik kita
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

var ErrLockTimeout = errors.New("lock not acquired")

// Locker is a SET NX PX lock shared by every API and reconciler instance.
// A holder that outlives ttl loses the lock, so ttl must exceed the longest
// critical section (orders.LockTTL).
type Locker struct {
	RDB   redis.Cmdable
	Retry time.Duration // jeda antar percobaan
	Log   *zap.Logger
}

func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	k := key // lock:{scope}:{id} -> token pemilik
	token := uuid.NewString()
	retry := l.Retry
	if retry <= 0 {
		retry = 25 * time.Millisecond
	}

	for {
		ok, err := l.RDB.SetNX(ctx, k, token, ttl).Result()
		if err != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, k, ctx.Err())
		}
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", k, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, k, ctx.Err())
		case <-time.After(retry):
		}
		if retry < 200*time.Millisecond {
			retry *= 2
		}
	}

	return func() {
		// context baru: unlock tetap jalan walau ctx request sudah selesai
		uctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := unlockScript.Run(uctx, l.RDB, []string{k}, token).Err(); err != nil && l.Log != nil {
			l.Log.Warn("redis unlock failed", zap.String("key", k), zap.Error(err))
		}
	}, nil
}
