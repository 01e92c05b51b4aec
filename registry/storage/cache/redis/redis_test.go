package redis

import (
	"context"
	"flag"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/rockslide/rockslide/registry/storage/cache/cachecheck"
)

var redisAddr string

func init() {
	flag.StringVar(&redisAddr, "test.registry.storage.cache.redis.addr", "", "configure the address of a test instance of redis")
}

// TestRedisBlobDescriptorCacheProvider exercises a live redis instance.
func TestRedisBlobDescriptorCacheProvider(t *testing.T) {
	if redisAddr == "" {
		redisAddr = os.Getenv("TEST_REGISTRY_STORAGE_CACHE_REDIS_ADDR")
	}
	if redisAddr == "" {
		t.Skip("please set -test.registry.storage.cache.redis.addr to test the descriptor cache against redis")
	}

	pool := redis.NewClient(&redis.Options{
		Addr: redisAddr,
		OnConnect: func(ctx context.Context, cn *redis.Conn) error {
			return cn.Ping(ctx).Err()
		},
		MaxRetries: 3,
		PoolSize:   2,
	})
	t.Cleanup(func() { pool.Close() })

	ctx := context.Background()
	if err := pool.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("unexpected error flushing redis db: %v", err)
	}

	cachecheck.CheckBlobDescriptorCache(t, NewRedisBlobDescriptorCacheProvider(pool))
}
