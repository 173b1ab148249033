package main

import (
	"context"
	"log"
	"log/slog"

	corecmd "github.com/m3rciful/pizzabot/core/cmd"
	"github.com/m3rciful/pizzabot/core/logger"
	coretelegram "github.com/m3rciful/pizzabot/core/telegram"
	"github.com/m3rciful/pizzabot/core/telegram/sender"
	"github.com/m3rciful/pizzabot/internal/app"
	"github.com/m3rciful/pizzabot/internal/config"
	"github.com/m3rciful/pizzabot/internal/conversation"
	"github.com/m3rciful/pizzabot/internal/telegrambot"

	tele "gopkg.in/telebot.v4"
)

func main() {
	err := corecmd.Run(corecmd.Options{
		DefaultConfigPath: "configs/config.yaml",
		LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
			cfg, err := config.Load(path)
			if err != nil {
				return nil, err
			}
			if err := cfg.NormalizeTelegram(); err != nil {
				return nil, err
			}
			return cfg, nil
		},
		Bootstrap: bootstrapTelegram,
	})
	if err != nil {
		log.Fatal(err)
	}
}

func bootstrapTelegram(ctx context.Context, carrier corecmd.ConfigCarrier) (corecmd.App, error) {
	cfg := carrier.(*config.AppConfig)

	outbound := sender.NewDispatcher(sender.Options{MaxRetries: 2})
	svc, err := app.Build(ctx, cfg, app.Options{
		SendFailures: func() float64 { return float64(outbound.ErrorCount()) },
	})
	if err != nil {
		outbound.Close()
		return nil, err
	}

	metricsCtx, stopMetrics := context.WithCancel(context.WithoutCancel(ctx))
	routesFor := func(bot *tele.Bot, rt coretelegram.Runtime) ([]coretelegram.Route, error) {
		flow := telegrambot.NewFlow(telegrambot.Deps{
			Catalog:   svc.Catalog,
			Carts:     svc.Carts,
			Locator:   svc.Locator,
			Stores:    svc.Stores,
			Customers: svc.Shop,
			Scratch:   svc.Infra.Store,
			Chat:      telegrambot.NewTeleChat(bot, cfg.Payment.ProviderToken),
			Deferred:  rt.Scheduler,
			Payment:   cfg.Payment,
			Delivery:  cfg.Delivery,
		})
		d := conversation.NewDispatcher[telegrambot.State](flow, svc.Infra.Store, svc.Tokens, svc.Metrics)
		return telegrambot.Routes(d), nil
	}

	return &corecmd.TelegramApp{
		Options: coretelegram.RunOptions{
			Config:      &cfg.Config,
			Dispatcher:  outbound,
			Middlewares: coretelegram.DefaultMiddlewares(&cfg.Config, nil),
			RoutesFor:   routesFor,
			Commands:    []tele.Command{{Text: "start", Description: "Меню"}},
			OnStart: func(ctx context.Context, _ coretelegram.Runtime) error {
				if cfg.Metrics.Listen == "" {
					return nil
				}
				go func() {
					if err := svc.Metrics.Serve(metricsCtx, cfg.Metrics.Listen); err != nil {
						logger.Error(ctx, "app", "metrics.serve",
							slog.String("status", "fail"),
							slog.String("err", err.Error()),
						)
					}
				}()
				return nil
			},
		},
		Closers: []func() error{
			svc.Close,
			func() error { stopMetrics(); return nil },
		},
	}, nil
}
