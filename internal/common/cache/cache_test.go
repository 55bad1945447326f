package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends under test share one behavioral contract; run the same suite
// against both.
func backends(t *testing.T) map[string]Cache {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]Cache{
		"local": NewLocalCache(time.Minute, time.Minute),
		"redis": NewRedisCache(client, "test:"),
	}
}

func TestCacheContract(t *testing.T) {
	ctx := context.Background()

	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("get miss", func(t *testing.T) {
				_, found := backend.Get(ctx, "absent")
				assert.False(t, found)
			})

			t.Run("set then get", func(t *testing.T) {
				require.NoError(t, backend.Set(ctx, "k", "v", time.Minute))
				got, found := backend.Get(ctx, "k")
				assert.True(t, found)
				assert.Equal(t, "v", got)
			})

			t.Run("setnx first writer wins", func(t *testing.T) {
				stored, err := backend.SetNX(ctx, "nx", "first", time.Minute)
				require.NoError(t, err)
				assert.True(t, stored)

				stored, err = backend.SetNX(ctx, "nx", "second", time.Minute)
				require.NoError(t, err)
				assert.False(t, stored)

				got, _ := backend.Get(ctx, "nx")
				assert.Equal(t, "first", got)
			})

			t.Run("delete", func(t *testing.T) {
				require.NoError(t, backend.Set(ctx, "gone", "v", time.Minute))
				require.NoError(t, backend.Delete(ctx, "gone"))
				_, found := backend.Get(ctx, "gone")
				assert.False(t, found)
			})

			t.Run("exists", func(t *testing.T) {
				require.NoError(t, backend.Set(ctx, "here", "v", time.Minute))
				ok, err := backend.Exists(ctx, "here")
				require.NoError(t, err)
				assert.True(t, ok)

				ok, err = backend.Exists(ctx, "nowhere")
				require.NoError(t, err)
				assert.False(t, ok)
			})
		})
	}
}

func TestFactory(t *testing.T) {
	t.Run("local", func(t *testing.T) {
		backend, err := New(Config{Type: TypeLocal, TTL: time.Minute, CleanupInterval: time.Minute})
		require.NoError(t, err)
		assert.IsType(t, &LocalCache{}, backend)
	})

	t.Run("redis requires a client", func(t *testing.T) {
		_, err := New(Config{Type: TypeRedis})
		assert.Error(t, err)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := New(Config{Type: "memcached"})
		assert.Error(t, err)
	})
}
