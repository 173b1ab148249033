package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/pizzabot/core/config"
	"github.com/m3rciful/pizzabot/core/state"
)

func noLogger(*coreconfig.Config) error { return nil }

func TestRunMemoryBackend(t *testing.T) {
	res, err := Run(context.Background(), Options{
		Config:     &coreconfig.Config{},
		Session:    state.Config{Backend: "memory"},
		LoggerInit: noLogger,
	})
	require.NoError(t, err)
	assert.IsType(t, &state.MemoryStore{}, res.Store)
	assert.NoError(t, res.Close())
}

func TestRunRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	res, err := Run(context.Background(), Options{
		Config:     &coreconfig.Config{},
		Session:    state.Config{Backend: "redis", Redis: state.RedisConfig{Addr: mr.Addr()}},
		LoggerInit: noLogger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Close() })

	require.NoError(t, res.Store.Set(context.Background(), "tg_1", "START"))
	assert.True(t, mr.Exists("tg_1"))
}

func TestRunErrors(t *testing.T) {
	_, err := Run(context.Background(), Options{})
	assert.Error(t, err)

	_, err = Run(context.Background(), Options{
		Config:     &coreconfig.Config{},
		LoggerInit: func(*coreconfig.Config) error { return errors.New("boom") },
	})
	assert.ErrorContains(t, err, "logger init failed")

	_, err = Run(context.Background(), Options{
		Config:     &coreconfig.Config{},
		Session:    state.Config{Backend: "cassandra"},
		LoggerInit: noLogger,
	})
	assert.Error(t, err)
}
