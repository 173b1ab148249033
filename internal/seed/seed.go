// Package seed uploads a menu and a list of stores to the shop backend:
// each pizza becomes a live product with its main image, each address a
// store entry in the location flow.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/m3rciful/pizzabot/core/logger"
	"github.com/m3rciful/pizzabot/internal/geo"
	"github.com/m3rciful/pizzabot/internal/shop"
)

const defaultConcurrency = 4

// Config points at the source files.
type Config struct {
	MenuPath      string `yaml:"menu_path" envconfig:"SEED_MENU_PATH"`
	AddressesPath string `yaml:"addresses_path" envconfig:"SEED_ADDRESSES_PATH"`
	Currency      string `yaml:"currency" envconfig:"SEED_CURRENCY"`
	// CourierChatID is attached to every created store when non-zero.
	CourierChatID int64 `yaml:"courier_chat_id" envconfig:"SEED_COURIER_CHAT_ID"`
	Concurrency   int   `yaml:"concurrency" envconfig:"SEED_CONCURRENCY"`
}

// Normalize applies defaults and requires at least one source file.
func (c *Config) Normalize() error {
	if c.MenuPath == "" && c.AddressesPath == "" {
		return fmt.Errorf("seed.menu_path or seed.addresses_path is required")
	}
	if c.Currency == "" {
		c.Currency = "RUB"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	return nil
}

// MenuItem is one pizza of the menu file. Price is in whole units.
type MenuItem struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Price        int64  `json:"price"`
	ProductImage struct {
		URL string `json:"url"`
	} `json:"product_image"`
}

// AddressItem is one store of the addresses file.
type AddressItem struct {
	ID      string `json:"id"`
	Alias   string `json:"alias"`
	Address struct {
		Full string `json:"full"`
	} `json:"address"`
	Coordinates struct {
		Lat json.Number `json:"lat"`
		Lon json.Number `json:"lon"`
	} `json:"coordinates"`
}

// Backend is the catalog write side of the shop API.
type Backend interface {
	CreateProduct(ctx context.Context, token string, in shop.ProductInput) (shop.Product, error)
	UploadFile(ctx context.Context, token, fileURL string) (string, error)
	LinkMainImage(ctx context.Context, token, productID, fileID string) error
	CreateStoreEntry(ctx context.Context, token string, s geo.StoreLocation) (string, error)
}

// TokenProvider returns a valid bearer token.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Result counts created objects.
type Result struct {
	Products int
	Images   int
	Stores   int
}

// Seeder runs one upload.
type Seeder struct {
	cfg     Config
	backend Backend
	tokens  TokenProvider
}

// New builds a Seeder. cfg should be normalized.
func New(cfg Config, backend Backend, tokens TokenProvider) *Seeder {
	return &Seeder{cfg: cfg, backend: backend, tokens: tokens}
}

// LoadMenu reads a menu file.
func LoadMenu(path string) ([]MenuItem, error) {
	var items []MenuItem
	if err := loadJSON(path, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// LoadAddresses reads an addresses file.
func LoadAddresses(path string) ([]AddressItem, error) {
	var items []AddressItem
	if err := loadJSON(path, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func loadJSON(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("seed: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("seed: parse %s: %w", path, err)
	}
	return nil
}

// Run loads the configured files and uploads their content. The first
// failure stops the remaining uploads; objects created so far are kept.
func (s *Seeder) Run(ctx context.Context) (Result, error) {
	var (
		menu  []MenuItem
		addrs []AddressItem
		err   error
	)
	if s.cfg.MenuPath != "" {
		if menu, err = LoadMenu(s.cfg.MenuPath); err != nil {
			return Result{}, err
		}
	}
	if s.cfg.AddressesPath != "" {
		if addrs, err = LoadAddresses(s.cfg.AddressesPath); err != nil {
			return Result{}, err
		}
	}
	return s.Upload(ctx, menu, addrs)
}

// Upload creates products and store entries.
func (s *Seeder) Upload(ctx context.Context, menu []MenuItem, addrs []AddressItem) (Result, error) {
	start := time.Now()
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return Result{}, err
	}

	var products, images, stores atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.cfg.Concurrency, 1))
	for _, item := range menu {
		g.Go(func() error {
			linked, err := s.createProduct(gctx, token, item)
			if err != nil {
				return err
			}
			products.Add(1)
			if linked {
				images.Add(1)
			}
			return nil
		})
	}
	for _, a := range addrs {
		g.Go(func() error {
			if err := s.createStore(gctx, token, a); err != nil {
				return err
			}
			stores.Add(1)
			return nil
		})
	}
	err = g.Wait()

	res := Result{Products: int(products.Load()), Images: int(images.Load()), Stores: int(stores.Load())}
	logger.Info(ctx, "seed", "seed.done",
		slog.String("status", logger.Status(err)),
		slog.Int("products", res.Products),
		slog.Int("images", res.Images),
		slog.Int("stores", res.Stores),
		slog.Duration("duration", logger.Took(start)),
	)
	return res, err
}

func (s *Seeder) createProduct(ctx context.Context, token string, item MenuItem) (bool, error) {
	id := strconv.Itoa(item.ID)
	p, err := s.backend.CreateProduct(ctx, token, shop.ProductInput{
		Name:        item.Name,
		Slug:        "sl" + id,
		SKU:         "sk" + id,
		Description: item.Description,
		Price:       shop.Money{Amount: item.Price * 100, Currency: s.cfg.Currency},
	})
	if err != nil {
		return false, fmt.Errorf("seed: product %q: %w", item.Name, err)
	}
	if item.ProductImage.URL == "" {
		logger.Warn(ctx, "seed", "seed.product",
			slog.String("product_id", p.ID),
			slog.String("reason", "no_image"),
		)
		return false, nil
	}
	fileID, err := s.backend.UploadFile(ctx, token, item.ProductImage.URL)
	if err != nil {
		return false, fmt.Errorf("seed: image for %q: %w", item.Name, err)
	}
	if err := s.backend.LinkMainImage(ctx, token, p.ID, fileID); err != nil {
		return false, fmt.Errorf("seed: link image for %q: %w", item.Name, err)
	}
	logger.Debug(ctx, "seed", "seed.product",
		slog.String("product_id", p.ID),
		slog.String("file_id", fileID),
	)
	return true, nil
}

func (s *Seeder) createStore(ctx context.Context, token string, a AddressItem) error {
	lat, errLat := a.Coordinates.Lat.Float64()
	lon, errLon := a.Coordinates.Lon.Float64()
	if errLat != nil || errLon != nil {
		return fmt.Errorf("seed: store %q: bad coordinates", a.Address.Full)
	}
	id, err := s.backend.CreateStoreEntry(ctx, token, geo.StoreLocation{
		Address:       a.Address.Full,
		Point:         geo.Point{Lat: lat, Lon: lon},
		CourierChatID: s.cfg.CourierChatID,
	})
	if err != nil {
		return fmt.Errorf("seed: store %q: %w", a.Address.Full, err)
	}
	logger.Debug(ctx, "seed", "seed.store", slog.String("entry_id", id))
	return nil
}
