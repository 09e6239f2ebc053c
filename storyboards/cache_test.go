package storyboards

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeCacheBackend 以内存 map 模拟列表缓存用到的 Redis 命令子集。
type fakeCacheBackend struct {
	mu      sync.Mutex
	entries map[string][]byte
	deletes int
}

func newFakeCacheBackend() *fakeCacheBackend {
	return &fakeCacheBackend{entries: map[string][]byte{}}
}

func (f *fakeCacheBackend) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.entries[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(data), nil)
}

func (f *fakeCacheBackend) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch payload := value.(type) {
	case []byte:
		f.entries[key] = payload
	case string:
		f.entries[key] = []byte(payload)
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeCacheBackend) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if _, ok := f.entries[key]; ok {
			delete(f.entries, key)
			removed++
		}
	}
	f.deletes++
	return redis.NewIntResult(removed, nil)
}

func (f *fakeCacheBackend) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[key]
	return ok
}

func TestSceneListCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache := &sceneListCache{client: newFakeCacheBackend()}

	if _, err := cache.get(ctx); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected cache miss, got %v", err)
	}

	scenes := []Scene{{ID: 1, ImageURL: "https://cdn.test/frames/a.png", Description: "first"}}
	cache.store(ctx, scenes)

	cached, err := cache.get(ctx)
	if err != nil {
		t.Fatalf("cache read: %v", err)
	}
	if len(cached) != 1 || cached[0].ImageURL != scenes[0].ImageURL {
		t.Fatalf("unexpected cached scenes %+v", cached)
	}

	cache.invalidate(ctx)
	if _, err := cache.get(ctx); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected miss after invalidation, got %v", err)
	}
}

func TestSceneWritesInvalidateListCache(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestModule(t)
	backend := newFakeCacheBackend()
	m.cache = &sceneListCache{client: backend}

	m.cache.store(ctx, []Scene{})
	if !backend.has(sceneListCacheKey) {
		t.Fatal("priming the cache failed")
	}

	scene, err := m.CreateScene(ctx, SceneInput{ImageURL: "https://cdn.test/frames/start.png"})
	if err != nil {
		t.Fatalf("create scene: %v", err)
	}
	if backend.has(sceneListCacheKey) {
		t.Error("CreateScene must invalidate the list cache")
	}

	m.cache.store(ctx, []Scene{*scene})
	if _, err := m.SetEndFrame(ctx, scene.ID, testDataURL); err != nil {
		t.Fatalf("set end frame: %v", err)
	}
	if backend.has(sceneListCacheKey) {
		t.Error("SetEndFrame must invalidate the list cache")
	}
}

func TestNilSceneListCacheIsInert(t *testing.T) {
	ctx := context.Background()
	var cache *sceneListCache

	if _, err := cache.get(ctx); !errors.Is(err, redis.Nil) {
		t.Fatalf("nil cache get must report a miss, got %v", err)
	}
	cache.store(ctx, []Scene{{ID: 1}})
	cache.invalidate(ctx)

	if newSceneListCache(nil) != nil {
		t.Fatal("missing client must yield a nil cache")
	}
}
