package shop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/m3rciful/pizzabot/core/logger"
	"github.com/m3rciful/pizzabot/internal/geo"
)

const (
	defaultBaseURL   = "https://api.moltin.com"
	defaultGrantType = "client_credentials"
	pageLimit        = 100
	maxErrorBody     = 512
)

// Config holds backend credentials.
type Config struct {
	BaseURL      string `yaml:"base_url" envconfig:"SHOP_BASE_URL"`
	ClientID     string `yaml:"client_id" envconfig:"CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" envconfig:"CLIENT_SECRET"`
	GrantType    string `yaml:"grant_type" envconfig:"GRANT_TYPE"`
	// FlowSlug names the flow holding store locations.
	FlowSlug string `yaml:"flow_slug" envconfig:"SHOP_FLOW_SLUG"`
}

// Normalize applies defaults and validates credentials.
func (c *Config) Normalize() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = defaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.GrantType == "" {
		c.GrantType = defaultGrantType
	}
	if c.FlowSlug == "" {
		c.FlowSlug = "pizzeria"
	}
	if c.ClientID == "" {
		return fmt.Errorf("shop.client_id is required")
	}
	return nil
}

// Client is a thin REST adapter. It keeps no state besides configuration;
// the bearer token is passed on each call.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient builds a client around httpClient (http.DefaultClient when nil).
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: httpClient}
}

// FetchToken exchanges client credentials for a bearer token.
func (c *Client) FetchToken(ctx context.Context) (Token, error) {
	form := url.Values{
		"client_id":  {c.cfg.ClientID},
		"grant_type": {c.cfg.GrantType},
	}
	if c.cfg.ClientSecret != "" {
		form.Set("client_secret", c.cfg.ClientSecret)
	}
	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	err := c.do(ctx, "token", http.MethodPost, "/oauth/access_token", "",
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", &out)
	if err != nil {
		return Token{}, err
	}
	if out.AccessToken == "" {
		return Token{}, fmt.Errorf("shop: token: empty access_token")
	}
	return Token{Value: out.AccessToken, ExpiresIn: time.Duration(out.ExpiresIn) * time.Second}, nil
}

// ListCategories returns all categories.
func (c *Client) ListCategories(ctx context.Context, token string) ([]Category, error) {
	var out struct {
		Data []categoryDTO `json:"data"`
	}
	if err := c.get(ctx, "categories.list", "/v2/categories", token, &out); err != nil {
		return nil, err
	}
	cats := make([]Category, 0, len(out.Data))
	for _, d := range out.Data {
		cats = append(cats, Category{ID: d.ID, Slug: d.Slug, Name: d.Name})
	}
	return cats, nil
}

// ListProducts returns every product in catalog order.
func (c *Client) ListProducts(ctx context.Context, token string) ([]Product, error) {
	return c.listProducts(ctx, "products.list", "/v2/products?page[limit]="+strconv.Itoa(pageLimit), token)
}

// ListProductsByCategory returns products attached to categoryID.
func (c *Client) ListProductsByCategory(ctx context.Context, token, categoryID string) ([]Product, error) {
	q := url.Values{
		"filter":      {"eq(category.id," + categoryID + ")"},
		"page[limit]": {strconv.Itoa(pageLimit)},
	}
	return c.listProducts(ctx, "products.by_category", "/v2/products?"+q.Encode(), token)
}

func (c *Client) listProducts(ctx context.Context, op, path, token string) ([]Product, error) {
	var out struct {
		Data []productDTO `json:"data"`
	}
	if err := c.get(ctx, op, path, token, &out); err != nil {
		return nil, err
	}
	products := make([]Product, 0, len(out.Data))
	for _, d := range out.Data {
		products = append(products, d.toProduct())
	}
	return products, nil
}

// GetProduct fetches product detail including the main image relationship.
func (c *Client) GetProduct(ctx context.Context, token, id string) (Product, error) {
	var out struct {
		Data productDTO `json:"data"`
	}
	if err := c.get(ctx, "products.get", "/v2/products/"+url.PathEscape(id), token, &out); err != nil {
		return Product{}, err
	}
	return out.Data.toProduct(), nil
}

// ImageURL resolves a file id to its public link.
func (c *Client) ImageURL(ctx context.Context, token, fileID string) (string, error) {
	var out struct {
		Data struct {
			Link struct {
				Href string `json:"href"`
			} `json:"link"`
		} `json:"data"`
	}
	if err := c.get(ctx, "files.get", "/v2/files/"+url.PathEscape(fileID), token, &out); err != nil {
		return "", err
	}
	if out.Data.Link.Href == "" {
		return "", fmt.Errorf("shop: file %s has no link", fileID)
	}
	return out.Data.Link.Href, nil
}

// AddToCart appends quantity units of productID to the cart.
func (c *Client) AddToCart(ctx context.Context, token, cartID, productID string, quantity int) error {
	body := map[string]any{
		"data": map[string]any{
			"id":       productID,
			"type":     "cart_item",
			"quantity": quantity,
		},
	}
	return c.sendJSON(ctx, "cart.add", http.MethodPost, "/v2/carts/"+url.PathEscape(cartID)+"/items", token, body, nil)
}

// RemoveFromCart deletes one cart line.
func (c *Client) RemoveFromCart(ctx context.Context, token, cartID, itemID string) error {
	path := "/v2/carts/" + url.PathEscape(cartID) + "/items/" + url.PathEscape(itemID)
	return c.do(ctx, "cart.remove", http.MethodDelete, path, token, nil, "", nil)
}

// CartItems lists cart lines.
func (c *Client) CartItems(ctx context.Context, token, cartID string) ([]CartItem, error) {
	var out struct {
		Data []cartItemDTO `json:"data"`
	}
	if err := c.get(ctx, "cart.items", "/v2/carts/"+url.PathEscape(cartID)+"/items", token, &out); err != nil {
		return nil, err
	}
	items := make([]CartItem, 0, len(out.Data))
	for _, d := range out.Data {
		items = append(items, CartItem{
			ID:          d.ID,
			ProductID:   d.ProductID,
			Name:        d.Name,
			Description: d.Description,
			Quantity:    d.Quantity,
			UnitPrice:   d.Meta.DisplayPrice.WithTax.Unit.toMoney(),
			LinePrice:   d.Meta.DisplayPrice.WithTax.Value.toMoney(),
		})
	}
	return items, nil
}

// CartTotal returns the cart total with tax.
func (c *Client) CartTotal(ctx context.Context, token, cartID string) (Money, error) {
	var out struct {
		Data struct {
			Meta struct {
				DisplayPrice struct {
					WithTax moneyDTO `json:"with_tax"`
				} `json:"display_price"`
			} `json:"meta"`
		} `json:"data"`
	}
	if err := c.get(ctx, "cart.total", "/v2/carts/"+url.PathEscape(cartID), token, &out); err != nil {
		return Money{}, err
	}
	return out.Data.Meta.DisplayPrice.WithTax.toMoney(), nil
}

// CreateCustomer stores a customer record.
func (c *Client) CreateCustomer(ctx context.Context, token, name, email string) (Customer, error) {
	body := map[string]any{
		"data": map[string]any{
			"type":  "customer",
			"name":  name,
			"email": email,
		},
	}
	var out struct {
		Data struct {
			ID    string `json:"id"`
			Name  string `json:"name"`
			Email string `json:"email"`
		} `json:"data"`
	}
	if err := c.sendJSON(ctx, "customers.create", http.MethodPost, "/v2/customers", token, body, &out); err != nil {
		return Customer{}, err
	}
	return Customer{ID: out.Data.ID, Name: out.Data.Name, Email: out.Data.Email}, nil
}

// ListStoreLocations reads store entries from the configured flow.
func (c *Client) ListStoreLocations(ctx context.Context, token string) ([]geo.StoreLocation, error) {
	var out struct {
		Data []flowEntryDTO `json:"data"`
	}
	path := "/v2/flows/" + url.PathEscape(c.cfg.FlowSlug) + "/entries?page[limit]=" + strconv.Itoa(pageLimit)
	if err := c.get(ctx, "flows.entries", path, token, &out); err != nil {
		return nil, err
	}
	stores := make([]geo.StoreLocation, 0, len(out.Data))
	for _, d := range out.Data {
		lat, errLat := d.Latitude.Float64()
		lon, errLon := d.Longitude.Float64()
		if errLat != nil || errLon != nil {
			logger.Warn(ctx, "shop", "flows.entry.skip",
				slog.String("entry_id", d.ID),
				slog.String("reason", "bad_coordinates"),
			)
			continue
		}
		courier, _ := strconv.ParseInt(strings.TrimSpace(d.Courier.String()), 10, 64)
		stores = append(stores, geo.StoreLocation{
			Address:       d.Address,
			Point:         geo.Point{Lat: lat, Lon: lon},
			CourierChatID: courier,
		})
	}
	return stores, nil
}

func (c *Client) get(ctx context.Context, op, path, token string, out any) error {
	return c.do(ctx, op, http.MethodGet, path, token, nil, "", out)
}

func (c *Client) sendJSON(ctx context.Context, op, method, path, token string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("shop: %s: encode: %w", op, err)
	}
	return c.do(ctx, op, method, path, token, bytes.NewReader(buf), "application/json", out)
}

func (c *Client) do(ctx context.Context, op, method, path, token string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("shop: %s: %w", op, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logger.Warn(ctx, "shop", "shop.request",
			slog.String("status", "fail"),
			slog.String("op", op),
			slog.Duration("duration", logger.Took(start)),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("shop: %s: %w", op, err)
	}
	defer resp.Body.Close()

	if logger.ShouldSampleDebug() {
		logger.Debug(ctx, "shop", "shop.request",
			slog.String("status", logger.Status(nil)),
			slog.String("op", op),
			slog.Int("http_status", resp.StatusCode),
			slog.Duration("duration", logger.Took(start)),
		)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("shop: %s: decode: %w", op, err)
	}
	return nil
}
