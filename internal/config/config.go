// Package config assembles the application configuration shared by both
// bot binaries: the embedded core config plus the shop, geo, session and
// transport sections.
package config

import (
	"fmt"

	coreconfig "github.com/m3rciful/pizzabot/core/config"
	coredatabase "github.com/m3rciful/pizzabot/core/database"
	"github.com/m3rciful/pizzabot/core/metrics"
	"github.com/m3rciful/pizzabot/core/state"
	"github.com/m3rciful/pizzabot/internal/catalog"
	"github.com/m3rciful/pizzabot/internal/geo"
	"github.com/m3rciful/pizzabot/internal/messenger"
	"github.com/m3rciful/pizzabot/internal/seed"
	"github.com/m3rciful/pizzabot/internal/shop"
	"github.com/m3rciful/pizzabot/internal/telegrambot"
)

// AppConfig is the full configuration file.
type AppConfig struct {
	coreconfig.Config `yaml:",inline"`

	Shop      shop.Config                `yaml:"shop"`
	Geocoder  geo.GeocoderConfig         `yaml:"geocoder"`
	Catalog   catalog.Config             `yaml:"catalog"`
	Session   state.Config               `yaml:"session"`
	Database  coredatabase.Config        `yaml:"database"`
	Messenger messenger.Config           `yaml:"messenger"`
	Payment   telegrambot.PaymentConfig  `yaml:"payment"`
	Delivery  telegrambot.DeliveryConfig `yaml:"delivery"`
	Metrics   metrics.Config             `yaml:"metrics"`
	Seed      seed.Config                `yaml:"seed"`
	// Stores overrides the provider's store list when non-empty.
	Stores []geo.StoreLocation `yaml:"stores" ignored:"true"`
}

// CoreConfig implements cmd.ConfigCarrier.
func (c *AppConfig) CoreConfig() *coreconfig.Config {
	if c == nil {
		return nil
	}
	return &c.Config
}

// Load reads path, applies env overrides and validates the sections every
// binary needs. Transport sections are validated by NormalizeTelegram and
// NormalizeMessenger.
func Load(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := coreconfig.LoadInto(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize applies defaults and validates shared sections.
func (c *AppConfig) Normalize() error {
	if err := coreconfig.Normalize(&c.Config); err != nil {
		return err
	}
	if err := c.Shop.Normalize(); err != nil {
		return err
	}
	if err := c.Session.Normalize(); err != nil {
		return err
	}
	for i, s := range c.Stores {
		if s.Address == "" {
			return fmt.Errorf("stores[%d].address is required", i)
		}
	}
	c.Payment.Normalize()
	c.Delivery.Normalize()
	return nil
}

// NormalizeTelegram validates settings only the Telegram binary uses.
func (c *AppConfig) NormalizeTelegram() error {
	if err := coreconfig.NormalizeTelegram(&c.Config); err != nil {
		return err
	}
	if c.Payment.ProviderToken == "" {
		return fmt.Errorf("payment.provider_token is required")
	}
	return nil
}

// NormalizeMessenger validates settings only the Messenger binary uses.
func (c *AppConfig) NormalizeMessenger() error {
	return c.Messenger.Normalize()
}

// NormalizeSeed validates the catalog seeding section.
func (c *AppConfig) NormalizeSeed() error {
	return c.Seed.Normalize()
}
