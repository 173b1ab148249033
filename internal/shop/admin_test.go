package shop

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/pizzabot/internal/geo"
)

func TestCatalogWriteCalls(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/v2/products", func(w http.ResponseWriter, r *http.Request) {
		requireBearer(t, r)
		var body struct {
			Data struct {
				Type        string `json:"type"`
				Name        string `json:"name"`
				Slug        string `json:"slug"`
				SKU         string `json:"sku"`
				Status      string `json:"status"`
				ManageStock bool   `json:"manage_stock"`
				Price       []struct {
					Amount      int64  `json:"amount"`
					Currency    string `json:"currency"`
					IncludesTax bool   `json:"includes_tax"`
				} `json:"price"`
			} `json:"data"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "product", body.Data.Type)
		assert.Equal(t, "Margherita", body.Data.Name)
		assert.Equal(t, "sl20", body.Data.Slug)
		assert.Equal(t, "sk20", body.Data.SKU)
		assert.Equal(t, "live", body.Data.Status)
		assert.False(t, body.Data.ManageStock)
		require.Len(t, body.Data.Price, 1)
		assert.EqualValues(t, 50000, body.Data.Price[0].Amount)
		assert.Equal(t, "RUB", body.Data.Price[0].Currency)
		assert.True(t, body.Data.Price[0].IncludesTax)
		_, _ = io.WriteString(w, `{"data":{"id":"p9","name":"Margherita"}}`)
	})
	r.Post("/v2/files", func(w http.ResponseWriter, r *http.Request) {
		requireBearer(t, r)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "https://cdn/margherita.jpg", r.FormValue("file_location"))
		_, _ = io.WriteString(w, `{"data":{"id":"f9"}}`)
	})
	r.Post("/v2/products/{id}/relationships/main-image", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "p9", chi.URLParam(r, "id"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"data":{"type":"main_image","id":"f9"}}`, string(body))
		w.WriteHeader(http.StatusCreated)
	})
	r.Post("/v2/flows/pizzeria/entries", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"data":{"type":"entry","address":"Lenina 1","latitude":55.75,"longitude":37.61,"courier":"7"}}`, string(body))
		_, _ = io.WriteString(w, `{"data":{"id":"e1"}}`)
	})
	c := newTestClient(t, r)
	ctx := context.Background()

	p, err := c.CreateProduct(ctx, "tok", ProductInput{
		Name: "Margherita", Slug: "sl20", SKU: "sk20",
		Price: Money{Amount: 50000, Currency: "RUB"},
	})
	require.NoError(t, err)
	assert.Equal(t, "p9", p.ID)

	fileID, err := c.UploadFile(ctx, "tok", "https://cdn/margherita.jpg")
	require.NoError(t, err)
	assert.Equal(t, "f9", fileID)

	require.NoError(t, c.LinkMainImage(ctx, "tok", "p9", "f9"))

	id, err := c.CreateStoreEntry(ctx, "tok", geo.StoreLocation{
		Address: "Lenina 1", Point: geo.Point{Lat: 55.75, Lon: 37.61}, CourierChatID: 7,
	})
	require.NoError(t, err)
	assert.Equal(t, "e1", id)
}

func TestUploadFileRejectsEmptyID(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/v2/files", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"data":{}}`)
	})
	c := newTestClient(t, r)
	_, err := c.UploadFile(context.Background(), "tok", "https://cdn/x.jpg")
	assert.ErrorContains(t, err, "empty id")
}
