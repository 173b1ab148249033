// Package app wires the platform-independent services both bots share:
// the shop client, token and catalog caches, carts and the geo lookup.
package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/m3rciful/pizzabot/core/bootstrap"
	"github.com/m3rciful/pizzabot/core/logger"
	"github.com/m3rciful/pizzabot/core/metrics"
	"github.com/m3rciful/pizzabot/core/netutil"
	"github.com/m3rciful/pizzabot/internal/cart"
	"github.com/m3rciful/pizzabot/internal/catalog"
	"github.com/m3rciful/pizzabot/internal/config"
	"github.com/m3rciful/pizzabot/internal/geo"
	"github.com/m3rciful/pizzabot/internal/shop"
)

// Services are the shared collaborators of a flow.
type Services struct {
	Infra    *bootstrap.Result
	Metrics  *metrics.Metrics
	Shop     *shop.Client
	Tokens   *catalog.TokenCache
	Catalog  *catalog.Cache
	Carts    *cart.Service
	Locator  *geo.Resolver
	Stores   *geo.Directory
	Geocoder *geo.YandexGeocoder
}

// Options tune Build, mainly for tests.
type Options struct {
	// HTTPClient is used for the shop and the geocoder.
	HTTPClient *http.Client
	// Bootstrap defaults to bootstrap.Run.
	Bootstrap func(ctx context.Context, opts bootstrap.Options) (*bootstrap.Result, error)
	// SendFailures feeds the send failure counter.
	SendFailures func() float64
}

// Build initializes logging and the session store, then assembles the
// services. The catalog is warmed up eagerly; a failed warm-up is logged
// and retried by later events that need a token.
func Build(ctx context.Context, cfg *config.AppConfig, opts Options) (*Services, error) {
	boot := opts.Bootstrap
	if boot == nil {
		boot = bootstrap.Run
	}
	infra, err := boot(ctx, bootstrap.Options{
		Config:   &cfg.Config,
		Session:  cfg.Session,
		Database: cfg.Database,
	})
	if err != nil {
		return nil, err
	}

	client := opts.HTTPClient
	if client == nil {
		client = netutil.BuildHTTPClient(netutil.ClientOptions{})
	}

	m := metrics.New(opts.SendFailures)
	shopClient := shop.NewClient(cfg.Shop, client)
	cache := catalog.NewCache(shopClient, cfg.Catalog, m)
	tokens := catalog.NewTokenCache(shopClient,
		catalog.WithOnRefresh(cache.Rebuild),
		catalog.WithMetrics(m),
	)
	geocoder := geo.NewYandexGeocoder(cfg.Geocoder, client)

	s := &Services{
		Infra:    infra,
		Metrics:  m,
		Shop:     shopClient,
		Tokens:   tokens,
		Catalog:  cache,
		Carts:    cart.NewService(shopClient),
		Locator:  geo.NewResolver(geocoder, m),
		Stores:   geo.NewDirectory(cfg.Stores, shopClient),
		Geocoder: geocoder,
	}
	s.warmUp(ctx)
	return s, nil
}

func (s *Services) warmUp(ctx context.Context) {
	token, err := s.Tokens.Token(ctx)
	if err != nil {
		logger.Warn(ctx, "catalog", "catalog.warmup",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return
	}
	if _, err := s.Stores.Stores(ctx, token); err != nil {
		logger.Warn(ctx, "geo", "stores.warmup",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
	}
}

// Close releases the session store.
func (s *Services) Close() error {
	if s == nil {
		return nil
	}
	return s.Infra.Close()
}
