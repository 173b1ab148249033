package shop

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/m3rciful/pizzabot/internal/geo"
)

// ProductInput describes a product to create.
type ProductInput struct {
	Name        string
	Slug        string
	SKU         string
	Description string
	Price       Money
}

// CreateProduct stores a live physical product with a tax-inclusive price.
func (c *Client) CreateProduct(ctx context.Context, token string, in ProductInput) (Product, error) {
	body := map[string]any{
		"data": map[string]any{
			"type":           "product",
			"name":           in.Name,
			"slug":           in.Slug,
			"sku":            in.SKU,
			"description":    in.Description,
			"manage_stock":   false,
			"status":         "live",
			"commodity_type": "physical",
			"price": []map[string]any{{
				"amount":       in.Price.Amount,
				"currency":     in.Price.Currency,
				"includes_tax": true,
			}},
		},
	}
	var out struct {
		Data productDTO `json:"data"`
	}
	if err := c.sendJSON(ctx, "products.create", http.MethodPost, "/v2/products", token, body, &out); err != nil {
		return Product{}, err
	}
	if out.Data.ID == "" {
		return Product{}, fmt.Errorf("shop: products.create: empty id")
	}
	return out.Data.toProduct(), nil
}

// UploadFile registers a remote file by URL and returns its file id.
func (c *Client) UploadFile(ctx context.Context, token, fileURL string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("file_location", fileURL); err != nil {
		return "", fmt.Errorf("shop: files.create: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("shop: files.create: %w", err)
	}
	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.do(ctx, "files.create", http.MethodPost, "/v2/files", token, &buf, mw.FormDataContentType(), &out); err != nil {
		return "", err
	}
	if out.Data.ID == "" {
		return "", fmt.Errorf("shop: files.create: empty id")
	}
	return out.Data.ID, nil
}

// LinkMainImage makes fileID the main image of productID.
func (c *Client) LinkMainImage(ctx context.Context, token, productID, fileID string) error {
	body := map[string]any{
		"data": map[string]any{
			"type": "main_image",
			"id":   fileID,
		},
	}
	path := "/v2/products/" + url.PathEscape(productID) + "/relationships/main-image"
	return c.sendJSON(ctx, "products.main_image", http.MethodPost, path, token, body, nil)
}

// CreateStoreEntry adds a store to the configured flow. The courier field
// is omitted when the store has no courier chat.
func (c *Client) CreateStoreEntry(ctx context.Context, token string, s geo.StoreLocation) (string, error) {
	data := map[string]any{
		"type":      "entry",
		"address":   s.Address,
		"latitude":  s.Point.Lat,
		"longitude": s.Point.Lon,
	}
	if s.CourierChatID != 0 {
		data["courier"] = strconv.FormatInt(s.CourierChatID, 10)
	}
	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	path := "/v2/flows/" + url.PathEscape(c.cfg.FlowSlug) + "/entries"
	if err := c.sendJSON(ctx, "flows.entries.create", http.MethodPost, path, token, map[string]any{"data": data}, &out); err != nil {
		return "", err
	}
	return out.Data.ID, nil
}
