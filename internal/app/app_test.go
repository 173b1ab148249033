package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/pizzabot/core/bootstrap"
	coreconfig "github.com/m3rciful/pizzabot/core/config"
	"github.com/m3rciful/pizzabot/core/state"
	"github.com/m3rciful/pizzabot/internal/config"
	"github.com/m3rciful/pizzabot/internal/geo"
	"github.com/m3rciful/pizzabot/internal/shop"
)

func quietBootstrap(ctx context.Context, opts bootstrap.Options) (*bootstrap.Result, error) {
	opts.LoggerInit = func(*coreconfig.Config) error { return nil }
	return bootstrap.Run(ctx, opts)
}

func shopServer(t *testing.T, tokenCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Post("/oauth/access_token", func(w http.ResponseWriter, _ *http.Request) {
		tokenCalls.Add(1)
		_, _ = io.WriteString(w, `{"access_token":"tok","expires_in":3600}`)
	})
	r.Get("/v2/categories", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"data":[{"id":"c1","slug":"basic","name":"Основные"}]}`)
	})
	r.Get("/v2/products", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"data":[{"id":"p1","name":"Margherita"}]}`)
	})
	r.Get("/v2/products/{id}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"id":"p1","name":"Margherita",
			"meta":{"display_price":{"with_tax":{"amount":50000,"currency":"RUB"}}},
			"relationships":{"main_image":{"data":{"id":"f1"}}}}}`)
	})
	r.Get("/v2/files/{id}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"link":{"href":"https://img/f1.png"}}}`)
	})
	r.Get("/v2/flows/pizzeria/entries", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"data":[{"address":"Lenina 1","latitude":"55.75","longitude":"37.61","courier":"7"}]}`)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(base string) *config.AppConfig {
	cfg := &config.AppConfig{}
	cfg.Shop = shop.Config{BaseURL: base, ClientID: "id", GrantType: "client_credentials", FlowSlug: "pizzeria"}
	cfg.Session = state.Config{Backend: state.BackendMemory}
	return cfg
}

func TestBuildWarmsCatalogAndStores(t *testing.T) {
	var tokenCalls atomic.Int32
	srv := shopServer(t, &tokenCalls)

	s, err := Build(context.Background(), testConfig(srv.URL), Options{
		HTTPClient: srv.Client(),
		Bootstrap:  quietBootstrap,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	assert.EqualValues(t, 1, tokenCalls.Load())
	p, err := s.Catalog.Product("p1")
	require.NoError(t, err)
	assert.Equal(t, "Margherita", p.Name)
	img, err := s.Catalog.Image("p1")
	require.NoError(t, err)
	assert.Equal(t, "https://img/f1.png", img)

	store, _, err := s.Stores.Nearest(context.Background(), "tok", geo.Point{Lat: 55.75, Lon: 37.61})
	require.NoError(t, err)
	assert.Equal(t, "Lenina 1", store.Address)
	assert.EqualValues(t, 7, store.CourierChatID)

	tok, err := s.Tokens.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)
	assert.EqualValues(t, 1, tokenCalls.Load())
}

func TestBuildSurvivesFailedWarmUp(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/oauth/access_token", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	s, err := Build(context.Background(), testConfig(srv.URL), Options{
		HTTPClient: srv.Client(),
		Bootstrap:  quietBootstrap,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.Catalog.Products()
	assert.Error(t, err)
}

func TestBuildPropagatesBootstrapError(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Session.Backend = "cassandra"
	_, err := Build(context.Background(), cfg, Options{Bootstrap: quietBootstrap})
	assert.Error(t, err)
}
