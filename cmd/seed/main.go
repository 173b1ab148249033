// Command seed uploads the pizza menu and the store addresses to the shop
// backend. It runs once and exits.
package main

import (
	"context"
	"log"

	corecmd "github.com/m3rciful/pizzabot/core/cmd"
	"github.com/m3rciful/pizzabot/core/logger"
	"github.com/m3rciful/pizzabot/core/netutil"
	"github.com/m3rciful/pizzabot/internal/catalog"
	"github.com/m3rciful/pizzabot/internal/config"
	"github.com/m3rciful/pizzabot/internal/seed"
	"github.com/m3rciful/pizzabot/internal/shop"
)

type seedApp struct {
	seeder *seed.Seeder
}

func (a *seedApp) Run(ctx context.Context) error {
	_, err := a.seeder.Run(ctx)
	return err
}

func (a *seedApp) Close() error { return nil }

func main() {
	err := corecmd.Run(corecmd.Options{
		DefaultConfigPath: "configs/config.yaml",
		LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
			cfg, err := config.Load(path)
			if err != nil {
				return nil, err
			}
			if err := cfg.NormalizeSeed(); err != nil {
				return nil, err
			}
			return cfg, nil
		},
		Bootstrap: func(_ context.Context, carrier corecmd.ConfigCarrier) (corecmd.App, error) {
			cfg := carrier.(*config.AppConfig)
			if err := logger.InitLogger(&cfg.Config); err != nil {
				return nil, err
			}
			client := shop.NewClient(cfg.Shop, netutil.BuildHTTPClient(netutil.ClientOptions{}))
			return &seedApp{
				seeder: seed.New(cfg.Seed, client, catalog.NewTokenCache(client)),
			}, nil
		},
	})
	if err != nil {
		log.Fatal(err)
	}
}
