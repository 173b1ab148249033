package state

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "tg_1")
	require.NoError(t, err)
	assert.False(t, ok, "absent key must report ok=false")

	require.NoError(t, s.Set(ctx, "tg_1", "HANDLE_MENU"))
	v, ok, err := s.Get(ctx, "tg_1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "HANDLE_MENU", v)

	require.NoError(t, s.Set(ctx, "tg_1", "HANDLE_CART"))
	v, _, err = s.Get(ctx, "tg_1")
	require.NoError(t, err)
	assert.Equal(t, "HANDLE_CART", v)

	_, _, err = s.Get(ctx, " ")
	assert.ErrorIs(t, err, ErrEmptyKey)
	assert.ErrorIs(t, s.Set(ctx, "", "START"), ErrEmptyKey)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	exerciseStore(t, s)
	assert.Equal(t, 1, s.Len())
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := NewRedisStore(client, "pizzabot:")
	exerciseStore(t, s)

	raw, err := mr.Get("pizzabot:tg_1")
	require.NoError(t, err)
	assert.Equal(t, "HANDLE_CART", raw)
	assert.Zero(t, mr.TTL("pizzabot:tg_1"), "sessions never expire")
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := OpenRedis(context.Background(), RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Set(context.Background(), "facebookid_9", "MENU"))
	assert.True(t, mr.Exists("facebookid_9"))
}

func TestRedisStoreBackendFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	s := NewRedisStore(client, "")

	mr.SetError("ERR backend unavailable")
	_, _, err := s.Get(context.Background(), "tg_1")
	assert.Error(t, err)
}

func TestConfigNormalize(t *testing.T) {
	cfg := Config{}
	require.NoError(t, cfg.Normalize())
	assert.Equal(t, BackendRedis, cfg.Backend)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)

	cfg = Config{Backend: " Postgres "}
	require.NoError(t, cfg.Normalize())
	assert.Equal(t, BackendPostgres, cfg.Backend)

	cfg = Config{Backend: "etcd"}
	assert.Error(t, cfg.Normalize())
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "tg_42", Key("tg", "42"))
	assert.Equal(t, "tg_42:product", ScratchKey(Key("tg", "42"), "product"))
}
