package service

import (
	"context"
	"eduflex_backend/internal/util"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// AttemptLocker 串行化同一 (user, test) 的提交
type AttemptLocker interface {
	Lock(ctx context.Context, key string, ttl, wait time.Duration) (unlock func(), err error)
}

func NewAttemptLocker(rdb *redis.Client) AttemptLocker {
	if rdb == nil {
		return newLocalLocker()
	}
	return &redisLocker{rdb: rdb}
}

const lockPoll = 50 * time.Millisecond

// waitCancelled 等锁期间请求被取消，按 BUSY 返回，同时保留 ctx 错误
func waitCancelled(ctx context.Context) error {
	return util.ErrBusy.WithDetail("lock wait aborted: %w", ctx.Err())
}

// 只删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisLocker struct {
	rdb *redis.Client
}

func (l *redisLocker) Lock(ctx context.Context, key string, ttl, wait time.Duration) (func(), error) {
	key = "eduflex:lock:" + key
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, waitCancelled(ctx)
			}
			return nil, err
		}
		if ok {
			return func() {
				// 请求上下文可能已取消，释放锁使用独立的超时
				rctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				releaseScript.Run(rctx, l.rdb, []string{key}, token)
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, util.ErrBusy
		}
		select {
		case <-ctx.Done():
			return nil, waitCancelled(ctx)
		case <-time.After(lockPoll):
		}
	}
}

type localLock struct {
	ch   chan struct{}
	refs int
}

// localLocker 单实例部署时使用的进程内锁
type localLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

func newLocalLocker() *localLocker {
	return &localLocker{locks: make(map[string]*localLock)}
}

func (l *localLocker) acquire(key string) *localLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &localLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lk
	}
	lk.refs++
	return lk
}

func (l *localLocker) release(key string, lk *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *localLocker) Lock(ctx context.Context, key string, _, wait time.Duration) (func(), error) {
	lk := l.acquire(key)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case lk.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-lk.ch
				l.release(key, lk)
			})
		}, nil
	case <-timer.C:
		l.release(key, lk)
		return nil, util.ErrBusy
	case <-ctx.Done():
		l.release(key, lk)
		return nil, waitCancelled(ctx)
	}
}
