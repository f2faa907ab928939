package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/jmehdipour/market-sms/internal/logger"
	"github.com/jmehdipour/market-sms/internal/util"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrLockHeld = errors.New("dispatch lock held by another run")

// Locker guards a whole pass. ok=false means someone else holds it.
type Locker interface {
	Acquire(ctx context.Context) (release func(), ok bool, err error)
}

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a single-instance SET NX PX lock.
type RedisLock struct {
	rdb redis.Cmdable
	key string
	ttl time.Duration
}

func NewRedisLock(rdb redis.Cmdable, key string, ttl time.Duration) *RedisLock {
	if key == "" {
		key = "market-sms:dispatch"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisLock{rdb: rdb, key: key, ttl: ttl}
}

var _ Locker = (*RedisLock)(nil)

// Lock returns the token that owns the key, or ErrLockHeld.
func (l *RedisLock) Lock(ctx context.Context) (string, error) {
	token := util.NewToken()
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrLockHeld
	}
	return token, nil
}

// Unlock reports whether the key was still ours.
func (l *RedisLock) Unlock(ctx context.Context, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (func(), bool, error) {
	token, err := l.Lock(ctx)
	if errors.Is(err, ErrLockHeld) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	release := func() {
		// the pass context may already be cancelled
		rctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		released, err := l.Unlock(rctx, token)
		if err != nil {
			logger.Log.Warn("release dispatch lock", zap.Error(err))
			return
		}
		if !released {
			logger.Log.Warn("dispatch lock expired before release", zap.String("key", l.key))
		}
	}
	return release, true, nil
}
