package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/m3rciful/pizzabot/core/logger"
	"github.com/m3rciful/pizzabot/core/metrics"
	"github.com/m3rciful/pizzabot/internal/shop"
)

const defaultConcurrency = 8

var (
	ErrNotBuilt        = errors.New("catalog: snapshot not built")
	ErrUnknownCategory = errors.New("catalog: unknown category")
	ErrUnknownProduct  = errors.New("catalog: unknown product")
	ErrNoImage         = errors.New("catalog: no image for product")
)

// Provider is the subset of the shop API needed to build a snapshot.
type Provider interface {
	ListCategories(ctx context.Context, token string) ([]shop.Category, error)
	ListProducts(ctx context.Context, token string) ([]shop.Product, error)
	ListProductsByCategory(ctx context.Context, token, categoryID string) ([]shop.Product, error)
	GetProduct(ctx context.Context, token, id string) (shop.Product, error)
	ImageURL(ctx context.Context, token, fileID string) (string, error)
}

// Config tunes rebuilds.
type Config struct {
	// Concurrency bounds parallel product detail fetches.
	Concurrency int `yaml:"concurrency" envconfig:"CATALOG_CONCURRENCY"`
}

// Snapshot is an immutable view of the menu.
type Snapshot struct {
	Categories         map[string]shop.Category
	CategoryOrder      []string
	ProductsByCategory map[string][]shop.Product
	Products           []shop.Product
	Images             map[string]string
	BuiltAt            time.Time

	byID map[string]shop.Product
}

// Cache publishes snapshots atomically.
type Cache struct {
	provider    Provider
	concurrency int
	metrics     *metrics.Metrics

	snap  atomic.Pointer[Snapshot]
	group singleflight.Group
}

// NewCache builds an empty cache. m may be nil.
func NewCache(p Provider, cfg Config, m *metrics.Metrics) *Cache {
	n := cfg.Concurrency
	if n <= 0 {
		n = defaultConcurrency
	}
	return &Cache{provider: p, concurrency: n, metrics: m}
}

// Rebuild fetches a full snapshot and swaps it in. Concurrent rebuilds
// share one flight. On failure the previous snapshot stays published.
func (c *Cache) Rebuild(ctx context.Context, token string) error {
	_, err, _ := c.group.Do("rebuild", func() (any, error) {
		return nil, c.rebuild(ctx, token)
	})
	return err
}

func (c *Cache) rebuild(ctx context.Context, token string) error {
	start := time.Now()
	snap, err := c.build(ctx, token)
	if err != nil {
		logger.Warn(ctx, "catalog", "catalog.rebuild",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
			slog.Duration("duration", logger.Took(start)),
		)
		return err
	}
	c.snap.Store(snap)
	c.metrics.ObserveCatalogRebuild(time.Since(start), len(snap.byID))
	logger.Info(ctx, "catalog", "catalog.rebuild",
		slog.String("status", "ok"),
		slog.Int("categories", len(snap.CategoryOrder)),
		slog.Int("products", len(snap.byID)),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

func (c *Cache) build(ctx context.Context, token string) (*Snapshot, error) {
	cats, err := c.provider.ListCategories(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("catalog: list categories: %w", err)
	}
	snap := &Snapshot{
		Categories:         make(map[string]shop.Category, len(cats)),
		CategoryOrder:      make([]string, 0, len(cats)),
		ProductsByCategory: make(map[string][]shop.Product, len(cats)),
		Images:             make(map[string]string),
		byID:               make(map[string]shop.Product),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	var mu sync.Mutex

	for _, cat := range cats {
		snap.Categories[cat.Slug] = cat
		snap.CategoryOrder = append(snap.CategoryOrder, cat.Slug)
		g.Go(func() error {
			products, err := c.provider.ListProductsByCategory(gctx, token, cat.ID)
			if err != nil {
				return fmt.Errorf("catalog: products of %s: %w", cat.Slug, err)
			}
			mu.Lock()
			snap.ProductsByCategory[cat.Slug] = products
			mu.Unlock()
			return nil
		})
	}
	g.Go(func() error {
		products, err := c.provider.ListProducts(gctx, token)
		if err != nil {
			return fmt.Errorf("catalog: list products: %w", err)
		}
		mu.Lock()
		snap.Products = products
		mu.Unlock()
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ids := make(map[string]struct{})
	for _, p := range snap.Products {
		ids[p.ID] = struct{}{}
	}
	for _, products := range snap.ProductsByCategory {
		for _, p := range products {
			ids[p.ID] = struct{}{}
		}
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for id := range ids {
		g.Go(func() error {
			detail, err := c.provider.GetProduct(gctx, token, id)
			if err != nil {
				return fmt.Errorf("catalog: product %s: %w", id, err)
			}
			if detail.ImageID == "" {
				return fmt.Errorf("catalog: product %s: %w", id, ErrNoImage)
			}
			href, err := c.provider.ImageURL(gctx, token, detail.ImageID)
			if err != nil {
				return fmt.Errorf("catalog: image of %s: %w", id, err)
			}
			mu.Lock()
			snap.Images[id] = href
			snap.byID[id] = detail
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	snap.BuiltAt = time.Now()
	return snap, nil
}

// Snapshot returns the published snapshot.
func (c *Cache) Snapshot() (*Snapshot, error) {
	s := c.snap.Load()
	if s == nil {
		return nil, ErrNotBuilt
	}
	return s, nil
}

// Category returns the products of a category slug.
func (c *Cache) Category(slug string) ([]shop.Product, error) {
	s, err := c.Snapshot()
	if err != nil {
		return nil, err
	}
	products, ok := s.ProductsByCategory[slug]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, slug)
	}
	return products, nil
}

// Categories returns categories in upstream order.
func (c *Cache) Categories() ([]shop.Category, error) {
	s, err := c.Snapshot()
	if err != nil {
		return nil, err
	}
	out := make([]shop.Category, 0, len(s.CategoryOrder))
	for _, slug := range s.CategoryOrder {
		out = append(out, s.Categories[slug])
	}
	return out, nil
}

// Products returns the full product list.
func (c *Cache) Products() ([]shop.Product, error) {
	s, err := c.Snapshot()
	if err != nil {
		return nil, err
	}
	return s.Products, nil
}

// Product returns product detail by id.
func (c *Cache) Product(id string) (shop.Product, error) {
	s, err := c.Snapshot()
	if err != nil {
		return shop.Product{}, err
	}
	p, ok := s.byID[id]
	if !ok {
		return shop.Product{}, fmt.Errorf("%w: %s", ErrUnknownProduct, id)
	}
	return p, nil
}

// Image returns the image URL of a product.
func (c *Cache) Image(productID string) (string, error) {
	s, err := c.Snapshot()
	if err != nil {
		return "", err
	}
	href, ok := s.Images[productID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoImage, productID)
	}
	return href, nil
}
