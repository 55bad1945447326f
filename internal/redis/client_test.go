package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := NewClient(&Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestNewClientRequiresConfig(t *testing.T) {
	_, err := NewClient(nil)
	assert.Error(t, err)
}

func TestNewClientUnreachable(t *testing.T) {
	_, err := NewClient(&Config{Address: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestCheckRateLimit(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	t.Run("counts up to the limit", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			allowed, count, err := client.CheckRateLimit(ctx, "rl:a", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, allowed)
			assert.Equal(t, i, count)
		}

		allowed, count, err := client.CheckRateLimit(ctx, "rl:a", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, allowed)
		assert.Equal(t, 3, count)
	})

	t.Run("window slides", func(t *testing.T) {
		allowed, _, err := client.CheckRateLimit(ctx, "rl:b", 1, 50*time.Millisecond)
		require.NoError(t, err)
		require.True(t, allowed)

		allowed, _, err = client.CheckRateLimit(ctx, "rl:b", 1, 50*time.Millisecond)
		require.NoError(t, err)
		require.False(t, allowed)

		time.Sleep(100 * time.Millisecond)

		allowed, _, err = client.CheckRateLimit(ctx, "rl:b", 1, 50*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, allowed, "entries older than the window no longer count")
	})
}

func TestKeyValueOps(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "k", "v", time.Minute))
	got, err := client.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	stored, err := client.SetNX(ctx, "k", "other", time.Minute)
	require.NoError(t, err)
	assert.False(t, stored, "SetNX must not overwrite")

	stored, err = client.SetNX(ctx, "fresh", "v2", time.Minute)
	require.NoError(t, err)
	assert.True(t, stored)

	require.NoError(t, client.Delete(ctx, "k"))
	_, err = client.Get(ctx, "k")
	assert.Error(t, err)
}
