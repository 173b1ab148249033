// Package state persists per-user conversation progress as a flat
// string-to-string mapping. Entries never expire.
package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Supported backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// ErrEmptyKey is returned when a session key is blank.
var ErrEmptyKey = errors.New("state: empty key")

// Store reads and writes session values. Get reports absence with ok=false
// and a nil error; errors are reserved for backend failures.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// Config selects the session backend.
type Config struct {
	Backend string      `yaml:"backend" envconfig:"SESSION_BACKEND"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
	Prefix   string `yaml:"prefix" envconfig:"REDIS_PREFIX"`
}

// Normalize lowercases the backend name and applies defaults.
func (c *Config) Normalize() error {
	backend := strings.ToLower(strings.TrimSpace(c.Backend))
	if backend == "" {
		backend = BackendRedis
	}
	switch backend {
	case BackendMemory, BackendPostgres:
	case BackendRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			c.Redis.Addr = "localhost:6379"
		}
	default:
		return fmt.Errorf("invalid session.backend %q; allowed: memory, redis, postgres", c.Backend)
	}
	c.Backend = backend
	return nil
}

// Key joins a platform prefix and a user identifier into a session key.
func Key(platform, user string) string {
	return platform + "_" + user
}

// ScratchKey addresses an auxiliary value stored next to a session.
func ScratchKey(sessionKey, name string) string {
	return sessionKey + ":" + name
}

func checkKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	return nil
}
