// Package shop talks to the e-commerce backend that owns the catalog,
// carts, customers and the store-location flow.
package shop

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnexpectedStatus is wrapped by every non-2xx API response.
var ErrUnexpectedStatus = errors.New("shop: unexpected status")

// APIError describes a failed backend call.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shop: %s: status %d: %s", e.Op, e.Status, e.Body)
}

// Unwrap lets errors.Is match ErrUnexpectedStatus.
func (e *APIError) Unwrap() error { return ErrUnexpectedStatus }

// Code is used by log summaries as err_code.
func (e *APIError) Code() string { return fmt.Sprintf("shop_http_%d", e.Status) }

// Token is an upstream bearer token.
type Token struct {
	Value     string
	ExpiresIn time.Duration
}

// Money is an amount in minor units with its display form.
type Money struct {
	Amount    int64
	Currency  string
	Formatted string
}

// Major returns the amount in whole currency units, truncated.
func (m Money) Major() int64 {
	return m.Amount / 100
}

// Category groups products for the menu.
type Category struct {
	ID   string
	Slug string
	Name string
}

// Product is a catalog entry.
type Product struct {
	ID          string
	Name        string
	Description string
	Price       Money
	ImageID     string
}

// CartItem is one line of a remote cart.
type CartItem struct {
	ID          string
	ProductID   string
	Name        string
	Description string
	Quantity    int
	UnitPrice   Money
	LinePrice   Money
}

// Customer is a created customer record.
type Customer struct {
	ID    string
	Name  string
	Email string
}
