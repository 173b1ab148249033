package messenger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/pizzabot/core/metrics"
	"github.com/m3rciful/pizzabot/core/state"
	"github.com/m3rciful/pizzabot/internal/cart"
	"github.com/m3rciful/pizzabot/internal/conversation"
	"github.com/m3rciful/pizzabot/internal/geo"
	"github.com/m3rciful/pizzabot/internal/shop"
)

type fakeCatalog struct {
	products map[string][]shop.Product
}

func (c fakeCatalog) Category(slug string) ([]shop.Product, error) {
	p, ok := c.products[slug]
	if !ok {
		return nil, fmt.Errorf("unknown category %s", slug)
	}
	return p, nil
}

func (c fakeCatalog) Categories() ([]shop.Category, error) {
	return []shop.Category{
		{ID: "c1", Slug: "basic", Name: "Основные"},
		{ID: "c2", Slug: "spicy", Name: "Острые"},
	}, nil
}

func (c fakeCatalog) Image(id string) (string, error) { return "https://img/" + id, nil }

type addCall struct {
	cartID, productID string
	qty               int
}

type fakeCarts struct {
	mu      sync.Mutex
	added   []addCall
	removed []string
}

func (c *fakeCarts) Add(_ context.Context, _ string, cartID, productID string, qty int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.added = append(c.added, addCall{cartID, productID, qty})
	return nil
}

func (c *fakeCarts) Remove(_ context.Context, _ string, _ string, itemID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = append(c.removed, itemID)
	return nil
}

func (c *fakeCarts) Summary(context.Context, string, string) (cart.Summary, error) {
	return cart.Summary{
		Items: []shop.CartItem{{ID: "i1", ProductID: "42", Name: "Margherita", Quantity: 1, UnitPrice: shop.Money{Amount: 50000}}},
		Total: shop.Money{Amount: 50000},
	}, nil
}

type fakeLocator struct{ err error }

func (l fakeLocator) Locate(_ context.Context, in geo.Input) (geo.Point, error) {
	if in.Point != nil {
		return *in.Point, nil
	}
	if l.err != nil {
		return geo.Point{}, l.err
	}
	return geo.Point{Lat: 55.75, Lon: 37.61}, nil
}

type fakeStores struct{ km float64 }

func (s fakeStores) Nearest(context.Context, string, geo.Point) (geo.StoreLocation, float64, error) {
	return geo.StoreLocation{Address: "Lenina 1"}, s.km, nil
}

type fakeCustomers struct{ emails []string }

func (c *fakeCustomers) CreateCustomer(_ context.Context, _ string, name, email string) (shop.Customer, error) {
	c.emails = append(c.emails, name+"|"+email)
	return shop.Customer{ID: "cu1", Name: name, Email: email}, nil
}

type sentCards struct {
	to    string
	cards []Card
}

type fakeSender struct {
	mu    sync.Mutex
	texts []string
	cards []sentCards
}

func (s *fakeSender) SendText(_ context.Context, _ string, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return nil
}

func (s *fakeSender) SendCards(_ context.Context, to string, cards []Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards = append(s.cards, sentCards{to: to, cards: cards})
	return nil
}

type staticTokens struct{}

func (staticTokens) Token(context.Context) (string, error) { return "tok", nil }

type harness struct {
	store     *state.MemoryStore
	carts     *fakeCarts
	customers *fakeCustomers
	sender    *fakeSender
	server    *Server
	handler   http.Handler
}

func newHarness(t *testing.T, locErr error, km float64) *harness {
	t.Helper()
	products := []shop.Product{
		{ID: "42", Name: "Margherita", Description: "cheese", Price: shop.Money{Amount: 50000}},
		{ID: "43", Name: "Pepperoni", Price: shop.Money{Amount: 60000}},
	}
	h := &harness{
		store:     state.NewMemoryStore(),
		carts:     &fakeCarts{},
		customers: &fakeCustomers{},
		sender:    &fakeSender{},
	}
	flow := NewFlow(Deps{
		Catalog:   fakeCatalog{products: map[string][]shop.Product{"basic": products, "spicy": products[1:]}},
		Carts:     h.carts,
		Locator:   fakeLocator{err: locErr},
		Stores:    fakeStores{km: km},
		Customers: h.customers,
		Sender:    h.sender,
	})
	d := conversation.NewDispatcher[State](flow, h.store, staticTokens{}, nil)
	h.server = NewServer(Config{Listen: ":0", VerifyToken: "secret"}, d, metrics.New(nil))
	h.handler = h.server.Handler()
	return h
}

func (h *harness) post(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	return rec
}

func (h *harness) state(t *testing.T, user string) string {
	t.Helper()
	v, _, err := h.store.Get(context.Background(), state.Key(Platform, user))
	require.NoError(t, err)
	return v
}

func postback(user, payload string) string {
	return fmt.Sprintf(`{"object":"page","entry":[{"messaging":[{"sender":{"id":%q},"postback":{"payload":%q}}]}]}`, user, payload)
}

func message(user, text string) string {
	return fmt.Sprintf(`{"object":"page","entry":[{"messaging":[{"sender":{"id":%q},"message":{"text":%q}}]}]}`, user, text)
}

func TestVerifyEndpoint(t *testing.T) {
	h := newHarness(t, nil, 1)

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?hub.mode=subscribe&hub.challenge=777&hub.verify_token=secret", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "777", rec.Body.String())

	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?hub.mode=subscribe&hub.challenge=777&hub.verify_token=wrong", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	for _, query := range []string{
		"/",
		"/?hub.verify_token=wrong",
		"/?hub.verify_token=wrong&hub.challenge=777",
		"/?hub.mode=x&hub.challenge=777&hub.verify_token=wrong",
	} {
		rec = httptest.NewRecorder()
		h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, query, nil))
		assert.Equal(t, http.StatusForbidden, rec.Code, query)
	}

	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?hub.mode=x&hub.challenge=42&hub.verify_token=secret", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "42", rec.Body.String())
}

func TestWebhookRejectsForeignObjects(t *testing.T) {
	h := newHarness(t, nil, 1)
	rec := h.post(t, `{"object":"instagram","entry":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.post(t, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, h.sender.cards)
}

func TestAddThenRenderScenario(t *testing.T) {
	h := newHarness(t, nil, 1)
	require.NoError(t, h.store.Set(context.Background(), "facebookid_100", string(StateMenu)))

	rec := h.post(t, postback("100", "ADD_Margherita_42"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	require.Len(t, h.carts.added, 1)
	assert.Equal(t, addCall{"facebookid_100", "42", 1}, h.carts.added[0])
	assert.Equal(t, []string{"Пицца Margherita добавлена в корзину"}, h.sender.texts)
	require.Len(t, h.sender.cards, 1)
	menu := h.sender.cards[0].cards
	assert.Equal(t, "Меню", menu[0].Title)
	assert.Equal(t, "Margherita (500 р)", menu[1].Title)
	assert.Equal(t, "ADD_Margherita_42", menu[1].Buttons[0].Payload)
	assert.Equal(t, "CATEGORY_spicy", menu[len(menu)-1].Buttons[0].Payload)
	assert.Equal(t, "MENU", h.state(t, "100"))
}

func TestFirstContactShowsMenu(t *testing.T) {
	h := newHarness(t, nil, 1)
	h.post(t, message("7", "привет"))
	assert.Equal(t, "MENU", h.state(t, "7"))
	require.Len(t, h.sender.cards, 1)

	h.post(t, postback("7", "cart"))
	assert.Equal(t, "CART", h.state(t, "7"))
	cartCards := h.sender.cards[1].cards
	assert.Equal(t, "Ваш заказ на сумму 500 руб.", cartCards[0].Title)
	assert.Equal(t, "REMOVE_Margherita_i1", cartCards[1].Buttons[1].Payload)

	h.post(t, postback("7", "REMOVE_Margherita_i1"))
	assert.Equal(t, []string{"i1"}, h.carts.removed)
	assert.Equal(t, "CART", h.state(t, "7"))

	h.post(t, postback("7", "/start"))
	assert.Equal(t, "MENU", h.state(t, "7"))
}

func TestDeliveryAndEmailScenario(t *testing.T) {
	h := newHarness(t, nil, 3)
	require.NoError(t, h.store.Set(context.Background(), "facebookid_5", string(StateCart)))

	h.post(t, postback("5", "delivery"))
	assert.Equal(t, "DELIVERY", h.state(t, "5"))

	h.post(t, message("5", "Москва, Красная площадь"))
	assert.Equal(t, "EMAIL", h.state(t, "5"))
	joined := strings.Join(h.sender.texts, "\n")
	assert.Contains(t, joined, "100 рублей")

	h.post(t, message("5", "not-an-email"))
	assert.Equal(t, "EMAIL", h.state(t, "5"))
	assert.Empty(t, h.customers.emails)

	h.post(t, message("5", "ivan@mail.ru"))
	assert.Equal(t, "START", h.state(t, "5"))
	assert.Equal(t, []string{"facebookid_5|ivan@mail.ru"}, h.customers.emails)
}

func TestAddressNotFoundStays(t *testing.T) {
	h := newHarness(t, geo.ErrNotFound, 1)
	require.NoError(t, h.store.Set(context.Background(), "facebookid_5", string(StatePickup)))

	h.post(t, message("5", "???"))
	assert.Equal(t, "PICKUP", h.state(t, "5"))
	assert.Equal(t, []string{notFoundText}, h.sender.texts)

	h.post(t, `{"object":"page","entry":[{"messaging":[{"sender":{"id":"5"},"message":{"attachments":[{"type":"location","payload":{"coordinates":{"lat":55.7,"long":37.6}}}]}}]}]}`)
	assert.Equal(t, "EMAIL", h.state(t, "5"))
}

func TestMenuUnknownInputRendersMenuAndResets(t *testing.T) {
	h := newHarness(t, nil, 1)
	require.NoError(t, h.store.Set(context.Background(), "facebookid_8", string(StateMenu)))

	h.post(t, message("8", "что-нибудь"))
	assert.Equal(t, "START", h.state(t, "8"))
	require.Len(t, h.sender.cards, 1)
	assert.Equal(t, "Меню", h.sender.cards[0].cards[0].Title)
	assert.Empty(t, h.sender.texts)
	assert.Empty(t, h.carts.added)
}

func TestCartBackToMenu(t *testing.T) {
	h := newHarness(t, nil, 1)
	require.NoError(t, h.store.Set(context.Background(), "facebookid_9", string(StateCart)))

	h.post(t, postback("9", "menu"))
	assert.Equal(t, "MENU", h.state(t, "9"))
	require.Len(t, h.sender.cards, 1)
	assert.Equal(t, "Меню", h.sender.cards[0].cards[0].Title)
}

func TestPickupScenarioSendsNearestStore(t *testing.T) {
	h := newHarness(t, nil, 3)
	require.NoError(t, h.store.Set(context.Background(), "facebookid_6", string(StateCart)))

	h.post(t, postback("6", "pickup"))
	assert.Equal(t, "PICKUP", h.state(t, "6"))
	assert.Equal(t, []string{askAddressText}, h.sender.texts)

	h.post(t, message("6", "Москва, Тверская 1"))
	assert.Equal(t, "EMAIL", h.state(t, "6"))
	require.Len(t, h.sender.texts, 3)
	assert.Equal(t, geo.NearestMessage(3, "Lenina 1"), h.sender.texts[1])
	assert.NotContains(t, h.sender.texts[1], "рублей")
	assert.Equal(t, askEmailText, h.sender.texts[2])
}

func TestDecode(t *testing.T) {
	cases := map[string]conversation.Command{
		"cart":                 {Kind: conversation.KindCart},
		"menu":                 {Kind: conversation.KindMenu},
		"pickup":               {Kind: conversation.KindPickup},
		"delivery":             {Kind: conversation.KindDelivery},
		"ADD_Margherita_42":    {Kind: conversation.KindAdd, Name: "Margherita", ID: "42"},
		"ADD_Four_Cheese_7":    {Kind: conversation.KindAdd, Name: "Cheese", ID: "7"},
		"REMOVE_Margherita_i1": {Kind: conversation.KindRemove, Name: "Margherita", ID: "i1"},
		"CATEGORY_spicy":       {Kind: conversation.KindCategory, Slug: "spicy"},
		"ADD_":                 {Kind: conversation.KindText, Text: "ADD_"},
		"hello":                {Kind: conversation.KindText, Text: "hello"},
	}
	for in, want := range cases {
		assert.Equal(t, want, Decode(in), in)
	}
}

func TestMenuCardsRespectLimits(t *testing.T) {
	var products []shop.Product
	for i := 0; i < 12; i++ {
		products = append(products, shop.Product{ID: fmt.Sprint(i), Name: fmt.Sprint("P", i)})
	}
	cfg := RenderConfig{}
	cfg.normalize()
	cards, err := menuCards(fakeCatalog{products: map[string][]shop.Product{"basic": products}}, cfg, "basic")
	require.NoError(t, err)
	assert.Len(t, cards, MaxCards)
	assert.Equal(t, "Не нашли нужную пиццу?", cards[len(cards)-1].Title)
}

func TestGraphClientTruncates(t *testing.T) {
	var got map[string]any
	var token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/messages", r.URL.Path)
		token = r.URL.Query().Get("access_token")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	g := NewGraphClient(srv.URL, "page-token", srv.Client())
	cards := make([]Card, 12)
	for i := range cards {
		cards[i] = Card{Title: fmt.Sprint(i), Buttons: []Button{{"a", "a"}, {"b", "b"}, {"c", "c"}, {"d", "d"}}}
	}
	require.NoError(t, g.SendCards(context.Background(), "42", cards))
	assert.Equal(t, "page-token", token)

	payload := got["message"].(map[string]any)["attachment"].(map[string]any)["payload"].(map[string]any)
	elements := payload["elements"].([]any)
	assert.Len(t, elements, MaxCards)
	assert.Len(t, elements[0].(map[string]any)["buttons"].([]any), MaxButtonsPerCard)

	require.NoError(t, g.SendText(context.Background(), "42", "hi"))
	assert.Equal(t, "hi", got["message"].(map[string]any)["text"])
	assert.Equal(t, "42", got["recipient"].(map[string]any)["id"])
}

func TestGraphClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad"}`, http.StatusBadRequest)
	}))
	defer srv.Close()
	g := NewGraphClient(srv.URL, "t", srv.Client())
	assert.ErrorContains(t, g.SendText(context.Background(), "1", "x"), "status 400")
}

func TestConfigNormalize(t *testing.T) {
	var cfg Config
	assert.Error(t, cfg.Normalize())
	cfg = Config{VerifyToken: "v", PageAccessToken: "p"}
	require.NoError(t, cfg.Normalize())
	assert.Equal(t, ":5000", cfg.Listen)
	assert.Equal(t, "basic", cfg.Render.DefaultCategory)
}

func TestMetricsAndHealth(t *testing.T) {
	h := newHarness(t, nil, 1)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `pizzabot_http_requests_total{code="200",method="GET"}`)
}
