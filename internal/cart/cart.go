// Package cart wraps remote cart operations keyed by platform user.
package cart

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/m3rciful/pizzabot/core/logger"
	"github.com/m3rciful/pizzabot/internal/shop"
)

// Backend is the subset of the shop API used for carts.
type Backend interface {
	AddToCart(ctx context.Context, token, cartID, productID string, quantity int) error
	RemoveFromCart(ctx context.Context, token, cartID, itemID string) error
	CartItems(ctx context.Context, token, cartID string) ([]shop.CartItem, error)
	CartTotal(ctx context.Context, token, cartID string) (shop.Money, error)
}

// Summary is a cart snapshot for rendering.
type Summary struct {
	Items []shop.CartItem
	Total shop.Money
}

// Empty reports whether the cart has no lines.
func (s Summary) Empty() bool { return len(s.Items) == 0 }

// CartID derives the remote cart id for a platform user, e.g. "facebookid_42".
func CartID(platform, user string) string {
	return platform + "_" + user
}

// Service performs cart mutations without caching.
type Service struct {
	backend Backend
}

// NewService wraps backend.
func NewService(backend Backend) *Service {
	return &Service{backend: backend}
}

// Add puts quantity units of productID into the cart; quantity below 1 means 1.
func (s *Service) Add(ctx context.Context, token, cartID, productID string, quantity int) error {
	if quantity < 1 {
		quantity = 1
	}
	if err := s.backend.AddToCart(ctx, token, cartID, productID, quantity); err != nil {
		return fmt.Errorf("cart: add %s: %w", productID, err)
	}
	logger.Debug(ctx, "cart", "cart.add",
		slog.String("status", "ok"),
		slog.String("product_id", productID),
		slog.Int("quantity", quantity),
	)
	return nil
}

// Remove deletes one cart line.
func (s *Service) Remove(ctx context.Context, token, cartID, itemID string) error {
	if err := s.backend.RemoveFromCart(ctx, token, cartID, itemID); err != nil {
		return fmt.Errorf("cart: remove %s: %w", itemID, err)
	}
	logger.Debug(ctx, "cart", "cart.remove",
		slog.String("status", "ok"),
		slog.String("item_id", itemID),
	)
	return nil
}

// List returns cart lines.
func (s *Service) List(ctx context.Context, token, cartID string) ([]shop.CartItem, error) {
	items, err := s.backend.CartItems(ctx, token, cartID)
	if err != nil {
		return nil, fmt.Errorf("cart: list: %w", err)
	}
	return items, nil
}

// Total returns the cart total with tax.
func (s *Service) Total(ctx context.Context, token, cartID string) (shop.Money, error) {
	total, err := s.backend.CartTotal(ctx, token, cartID)
	if err != nil {
		return shop.Money{}, fmt.Errorf("cart: total: %w", err)
	}
	return total, nil
}

// Summary fetches lines and total together.
func (s *Service) Summary(ctx context.Context, token, cartID string) (Summary, error) {
	items, err := s.List(ctx, token, cartID)
	if err != nil {
		return Summary{}, err
	}
	total, err := s.Total(ctx, token, cartID)
	if err != nil {
		return Summary{}, err
	}
	return Summary{Items: items, Total: total}, nil
}
