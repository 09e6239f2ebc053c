package storyboards

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sceneListCacheKey     = "storyboards:list"
	sceneListCacheTTL     = 30 * time.Second
	sceneListCacheTimeout = 300 * time.Millisecond
)

// sceneCacheBackend 是列表缓存用到的 Redis 命令子集,*redis.Client 天然满足。
type sceneCacheBackend interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// sceneListCache 缓存分镜列表的读取结果,任何写操作都会使其失效。
type sceneListCache struct {
	client sceneCacheBackend
}

// newSceneListCache 使用 Redis 客户端创建列表缓存,客户端缺失时返回 nil。
func newSceneListCache(client *redis.Client) *sceneListCache {
	if client == nil {
		return nil
	}
	return &sceneListCache{client: client}
}

// cacheContext 为缓存操作设置超时上下文。
func (s *sceneListCache) cacheContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), sceneListCacheTimeout)
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= sceneListCacheTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, sceneListCacheTimeout)
}

// get 从缓存中读取分镜列表。
func (s *sceneListCache) get(ctx context.Context) ([]Scene, error) {
	if s == nil || s.client == nil {
		return nil, redis.Nil
	}

	ctx, cancel := s.cacheContext(ctx)
	defer cancel()

	data, err := s.client.Get(ctx, sceneListCacheKey).Bytes()
	if err != nil {
		return nil, err
	}

	var scenes []Scene
	if err := json.Unmarshal(data, &scenes); err != nil {
		return nil, err
	}
	return scenes, nil
}

// store 将分镜列表写入缓存。
func (s *sceneListCache) store(ctx context.Context, scenes []Scene) {
	if s == nil || s.client == nil {
		return
	}

	payload, err := json.Marshal(scenes)
	if err != nil {
		log.Printf("storyboards: marshal scene list cache payload failed: %v", err)
		return
	}

	ctx, cancel := s.cacheContext(ctx)
	defer cancel()

	if err := s.client.Set(ctx, sceneListCacheKey, payload, sceneListCacheTTL).Err(); err != nil {
		log.Printf("storyboards: store scene list cache failed: %v", err)
	}
}

// invalidate 清除分镜列表缓存。
func (s *sceneListCache) invalidate(ctx context.Context) {
	if s == nil || s.client == nil {
		return
	}

	ctx, cancel := s.cacheContext(ctx)
	defer cancel()

	if err := s.client.Del(ctx, sceneListCacheKey).Err(); err != nil {
		log.Printf("storyboards: invalidate scene list cache failed: %v", err)
	}
}
