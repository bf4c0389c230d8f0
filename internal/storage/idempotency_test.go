package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func forEachIdempotencyStore(t *testing.T, fn func(t *testing.T, store IdempotencyStore)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryIdempotencyStore()) })
	t.Run("redis", func(t *testing.T) {
		server := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: server.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		fn(t, NewRedisIdempotencyStore(client))
	})
}

func TestIdempotencyLifecycle(t *testing.T) {
	forEachIdempotencyStore(t, func(t *testing.T, store IdempotencyStore) {
		ctx := context.Background()

		_, found, err := store.Get(ctx, "agent:key-1")
		require.NoError(t, err)
		assert.False(t, found)

		require.NoError(t, store.Begin(ctx, "agent:key-1", time.Minute))
		assert.ErrorIs(t, store.Begin(ctx, "agent:key-1", time.Minute), ErrRequestInFlight)

		require.NoError(t, store.Complete(ctx, "agent:key-1", []byte(`{"sessionId":"s1"}`), time.Hour))

		data, found, err := store.Get(ctx, "agent:key-1")
		require.NoError(t, err)
		assert.True(t, found)
		assert.JSONEq(t, `{"sessionId":"s1"}`, string(data))

		// the claim is released after completion
		require.NoError(t, store.Begin(ctx, "agent:key-1", time.Minute))
	})
}

func TestIdempotencyAbortReleasesClaim(t *testing.T) {
	forEachIdempotencyStore(t, func(t *testing.T, store IdempotencyStore) {
		ctx := context.Background()
		require.NoError(t, store.Begin(ctx, "k", time.Minute))
		require.NoError(t, store.Abort(ctx, "k"))
		require.NoError(t, store.Begin(ctx, "k", time.Minute))

		_, found, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestMemoryIdempotencyExpiry(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	now := baseTime
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Complete(ctx, "k", []byte("x"), time.Hour))
	now = now.Add(time.Hour)

	_, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}
