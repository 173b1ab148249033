// Package catalog caches the upstream bearer token and the menu snapshot
// derived from it. The snapshot is rebuilt whenever the token is refreshed.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/m3rciful/pizzabot/core/logger"
	"github.com/m3rciful/pizzabot/core/metrics"
	"github.com/m3rciful/pizzabot/internal/shop"
)

// TokenSource issues fresh tokens.
type TokenSource interface {
	FetchToken(ctx context.Context) (shop.Token, error)
}

// TokenCache holds at most one token and refreshes it once it is stale.
type TokenCache struct {
	source TokenSource
	// OnRefresh runs after each fetch inside the same flight. A failure
	// is retried by later calls, no sooner than the current backoff.
	onRefresh func(ctx context.Context, token string) error
	metrics   *metrics.Metrics
	now       func() time.Time

	group singleflight.Group

	mu       sync.RWMutex
	value    string
	issuedAt time.Time
	ttl      time.Duration
	// retryAt is zero unless the last rebuild for value failed.
	retryAt time.Time
	backoff time.Duration
}

const (
	minRebuildBackoff = 5 * time.Second
	maxRebuildBackoff = 5 * time.Minute
)

// TokenOption customises a TokenCache.
type TokenOption func(*TokenCache)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) TokenOption {
	return func(c *TokenCache) { c.now = now }
}

// WithOnRefresh registers the post-refresh hook.
func WithOnRefresh(fn func(ctx context.Context, token string) error) TokenOption {
	return func(c *TokenCache) { c.onRefresh = fn }
}

// WithMetrics records refresh outcomes.
func WithMetrics(m *metrics.Metrics) TokenOption {
	return func(c *TokenCache) { c.metrics = m }
}

// NewTokenCache builds an empty cache.
func NewTokenCache(source TokenSource, opts ...TokenOption) *TokenCache {
	c := &TokenCache{source: source, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns a valid token, refreshing it synchronously when absent or
// expired. Concurrent callers share one refresh.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if v, ok := c.current(); ok {
		if c.rebuildDue() {
			c.retryRebuild(ctx, v)
		}
		return v, nil
	}
	ch := c.group.DoChan("token", func() (any, error) {
		// Another flight may have committed while we waited.
		if v, ok := c.current(); ok {
			return v, nil
		}
		return c.refresh(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached token so the next call refreshes.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.value = ""
	c.retryAt = time.Time{}
	c.backoff = 0
	c.mu.Unlock()
}

func (c *TokenCache) rebuildDue() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.retryAt.IsZero() && !c.now().Before(c.retryAt)
}

// retryRebuild reruns the hook for a committed token. Readers keep the
// previous snapshot whatever the outcome.
func (c *TokenCache) retryRebuild(ctx context.Context, token string) {
	_, _, _ = c.group.Do("rebuild", func() (any, error) {
		if !c.rebuildDue() {
			return nil, nil
		}
		err := c.onRefresh(context.WithoutCancel(ctx), token)
		c.noteRebuild(ctx, token, err)
		return nil, err
	})
}

// noteRebuild schedules the next retry after a failed hook and clears it
// after a successful one.
func (c *TokenCache) noteRebuild(ctx context.Context, token string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value != token {
		return
	}
	if err == nil {
		c.retryAt = time.Time{}
		c.backoff = 0
		return
	}
	c.backoff = min(max(c.backoff*2, minRebuildBackoff), maxRebuildBackoff)
	c.retryAt = c.now().Add(c.backoff)
	c.metrics.ObserveTokenRefresh(metrics.OutcomeFail)
	logger.Warn(ctx, "catalog", "token.refresh",
		slog.String("status", "fail"),
		slog.String("stage", "rebuild"),
		slog.Duration("retry_in", c.backoff),
		slog.String("err", err.Error()),
	)
}

func (c *TokenCache) current() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.value == "" {
		return "", false
	}
	if c.now().Sub(c.issuedAt) >= c.ttl {
		return "", false
	}
	return c.value, true
}

func (c *TokenCache) refresh(ctx context.Context) (string, error) {
	start := time.Now()
	issued := c.now()
	tok, err := c.source.FetchToken(ctx)
	if err != nil {
		c.metrics.ObserveTokenRefresh(metrics.OutcomeFail)
		logger.Warn(ctx, "catalog", "token.refresh",
			slog.String("status", "fail"),
			slog.String("stage", "fetch"),
			slog.String("err", err.Error()),
		)
		return "", fmt.Errorf("catalog: fetch token: %w", err)
	}
	var hookErr error
	if c.onRefresh != nil {
		hookErr = c.onRefresh(ctx, tok.Value)
	}

	// A failed rebuild still commits the token so later calls retry only
	// the rebuild, on a backoff.
	c.mu.Lock()
	c.value = tok.Value
	c.issuedAt = issued
	c.ttl = tok.ExpiresIn
	c.retryAt = time.Time{}
	c.backoff = 0
	c.mu.Unlock()
	if hookErr != nil {
		c.noteRebuild(ctx, tok.Value, hookErr)
		return "", fmt.Errorf("catalog: rebuild after refresh: %w", hookErr)
	}

	c.metrics.ObserveTokenRefresh(metrics.OutcomeOK)
	logger.Info(ctx, "catalog", "token.refresh",
		slog.String("status", "ok"),
		slog.Duration("ttl", tok.ExpiresIn),
		slog.Duration("duration", logger.Took(start)),
	)
	return tok.Value, nil
}
