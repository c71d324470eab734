package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// KnowledgeCache 缓存派生的模块/课程掌握度。
// 每个用户一个版本号，提交成功后递增，旧版本的键自然失效。
// stamp 由版本号和用户最近一次尝试的 ID 组成，见 CacheStamp。
type KnowledgeCache interface {
	Version(ctx context.Context, userID uint) (int64, error)
	Get(ctx context.Context, userID uint, stamp string, scope string, id uint) (float64, bool)
	Set(ctx context.Context, userID uint, stamp string, scope string, id uint, value float64, ttl time.Duration)
	Invalidate(ctx context.Context, userID uint) error
}

// CacheStamp 已提交的尝试总会改变 stamp，版本号递增失败也不会读到提交前的值
func CacheStamp(version int64, latestAttemptID uint) string {
	return fmt.Sprintf("%d.%d", version, latestAttemptID)
}

// NewKnowledgeCache 没有 Redis 时退化为只维护版本号的进程内实现
func NewKnowledgeCache(rdb *redis.Client) KnowledgeCache {
	if rdb == nil {
		return &localKnowledgeCache{}
	}
	return &redisKnowledgeCache{rdb: rdb}
}

type redisKnowledgeCache struct {
	rdb *redis.Client
}

func versionKey(userID uint) string {
	return fmt.Sprintf("eduflex:knowledge:%d:ver", userID)
}

func valueKey(userID uint, stamp string, scope string, id uint) string {
	return fmt.Sprintf("eduflex:knowledge:%d:%s:%s:%d", userID, stamp, scope, id)
}

func (c *redisKnowledgeCache) Version(ctx context.Context, userID uint) (int64, error) {
	v, err := c.rdb.Get(ctx, versionKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (c *redisKnowledgeCache) Get(ctx context.Context, userID uint, stamp string, scope string, id uint) (float64, bool) {
	s, err := c.rdb.Get(ctx, valueKey(userID, stamp, scope, id)).Result()
	if err != nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (c *redisKnowledgeCache) Set(ctx context.Context, userID uint, stamp string, scope string, id uint, value float64, ttl time.Duration) {
	c.rdb.Set(ctx, valueKey(userID, stamp, scope, id), strconv.FormatFloat(value, 'f', -1, 64), ttl)
}

func (c *redisKnowledgeCache) Invalidate(ctx context.Context, userID uint) error {
	return c.rdb.Incr(ctx, versionKey(userID)).Err()
}

type localKnowledgeCache struct {
	mu       sync.Mutex
	versions map[uint]int64
}

func (c *localKnowledgeCache) Version(_ context.Context, userID uint) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[userID], nil
}

func (c *localKnowledgeCache) Get(context.Context, uint, string, string, uint) (float64, bool) {
	return 0, false
}

func (c *localKnowledgeCache) Set(context.Context, uint, string, string, uint, float64, time.Duration) {
}

func (c *localKnowledgeCache) Invalidate(_ context.Context, userID uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions == nil {
		c.versions = make(map[uint]int64)
	}
	c.versions[userID]++
	return nil
}
