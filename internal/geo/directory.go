package geo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/pizzabot/core/logger"
)

// StoreSource loads the store set from the backend.
type StoreSource interface {
	ListStoreLocations(ctx context.Context, token string) ([]StoreLocation, error)
}

// Directory holds the store set. It is loaded once and then immutable;
// a failed load is retried on the next call.
type Directory struct {
	static []StoreLocation
	source StoreSource

	mu     sync.Mutex
	stores []StoreLocation
	loaded bool
}

// NewDirectory builds a Directory. A non-empty static list wins over source.
func NewDirectory(static []StoreLocation, source StoreSource) *Directory {
	return &Directory{static: append([]StoreLocation(nil), static...), source: source}
}

// Stores returns the store set, loading it on first use.
func (d *Directory) Stores(ctx context.Context, token string) ([]StoreLocation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loaded {
		return d.stores, nil
	}

	start := time.Now()
	stores := d.static
	origin := "static"
	if len(stores) == 0 {
		if d.source == nil {
			return nil, ErrNoStores
		}
		var err error
		stores, err = d.source.ListStoreLocations(ctx, token)
		if err != nil {
			logger.Warn(ctx, "geo", "stores.load",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
			return nil, fmt.Errorf("geo: load stores: %w", err)
		}
		origin = "flow"
	}
	if len(stores) == 0 {
		return nil, ErrNoStores
	}

	d.stores = stores
	d.loaded = true
	logger.Info(ctx, "geo", "stores.load",
		slog.String("status", "ok"),
		slog.String("source", origin),
		slog.Int("count", len(stores)),
		slog.Duration("duration", logger.Took(start)),
	)
	return d.stores, nil
}

// Nearest loads the store set and returns the closest store to p.
func (d *Directory) Nearest(ctx context.Context, token string, p Point) (StoreLocation, float64, error) {
	stores, err := d.Stores(ctx, token)
	if err != nil {
		return StoreLocation{}, 0, err
	}
	return Nearest(p, stores)
}
