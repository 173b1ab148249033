package main

import (
	"context"
	"log"

	corecmd "github.com/m3rciful/pizzabot/core/cmd"
	"github.com/m3rciful/pizzabot/core/netutil"
	"github.com/m3rciful/pizzabot/internal/app"
	"github.com/m3rciful/pizzabot/internal/config"
	"github.com/m3rciful/pizzabot/internal/conversation"
	"github.com/m3rciful/pizzabot/internal/messenger"
)

// messengerApp runs the webhook server until the context is done.
type messengerApp struct {
	server *messenger.Server
	svc    *app.Services
}

func (a *messengerApp) Run(ctx context.Context) error { return a.server.Run(ctx) }

func (a *messengerApp) Close() error { return a.svc.Close() }

func main() {
	err := corecmd.Run(corecmd.Options{
		DefaultConfigPath: "configs/config.yaml",
		LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
			cfg, err := config.Load(path)
			if err != nil {
				return nil, err
			}
			if err := cfg.NormalizeMessenger(); err != nil {
				return nil, err
			}
			return cfg, nil
		},
		Bootstrap: bootstrapMessenger,
	})
	if err != nil {
		log.Fatal(err)
	}
}

func bootstrapMessenger(ctx context.Context, carrier corecmd.ConfigCarrier) (corecmd.App, error) {
	cfg := carrier.(*config.AppConfig)

	svc, err := app.Build(ctx, cfg, app.Options{})
	if err != nil {
		return nil, err
	}

	graph := messenger.NewGraphClient(cfg.Messenger.GraphURL, cfg.Messenger.PageAccessToken,
		netutil.BuildHTTPClient(netutil.ClientOptions{}))
	flow := messenger.NewFlow(messenger.Deps{
		Catalog:   svc.Catalog,
		Carts:     svc.Carts,
		Locator:   svc.Locator,
		Stores:    svc.Stores,
		Customers: svc.Shop,
		Sender:    graph,
		Render:    cfg.Messenger.Render,
	})
	d := conversation.NewDispatcher[messenger.State](flow, svc.Infra.Store, svc.Tokens, svc.Metrics)

	return &messengerApp{
		server: messenger.NewServer(cfg.Messenger, d, svc.Metrics),
		svc:    svc,
	}, nil
}
