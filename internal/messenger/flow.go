// Package messenger implements the Facebook Messenger flavor of the bot:
// the conversation flow, the Send API client and the webhook server.
package messenger

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/m3rciful/pizzabot/internal/cart"
	"github.com/m3rciful/pizzabot/internal/conversation"
	"github.com/m3rciful/pizzabot/internal/geo"
	"github.com/m3rciful/pizzabot/internal/shop"
)

// Platform prefixes Messenger session keys and cart ids.
const Platform = "facebookid"

// State is a Messenger conversation state.
type State string

const (
	StateStart    State = "START"
	StateMenu     State = "MENU"
	StateCart     State = "CART"
	StatePickup   State = "PICKUP"
	StateDelivery State = "DELIVERY"
	StateEmail    State = "EMAIL"
)

var emailPattern = regexp.MustCompile(`^\w+@\w+\.\w+$`)

// Catalog is the read side of the menu snapshot.
type Catalog interface {
	Category(slug string) ([]shop.Product, error)
	Categories() ([]shop.Category, error)
	Image(productID string) (string, error)
}

// Carts mutates and reads remote carts.
type Carts interface {
	Add(ctx context.Context, token, cartID, productID string, quantity int) error
	Remove(ctx context.Context, token, cartID, itemID string) error
	Summary(ctx context.Context, token, cartID string) (cart.Summary, error)
}

// Locator resolves free text or a shared location.
type Locator interface {
	Locate(ctx context.Context, in geo.Input) (geo.Point, error)
}

// Stores finds the nearest pickup point.
type Stores interface {
	Nearest(ctx context.Context, token string, p geo.Point) (geo.StoreLocation, float64, error)
}

// Customers stores customer records.
type Customers interface {
	CreateCustomer(ctx context.Context, token, name, email string) (shop.Customer, error)
}

// Sender delivers replies to a user.
type Sender interface {
	SendText(ctx context.Context, to, text string) error
	SendCards(ctx context.Context, to string, cards []Card) error
}

// Deps groups the flow collaborators.
type Deps struct {
	Catalog   Catalog
	Carts     Carts
	Locator   Locator
	Stores    Stores
	Customers Customers
	Sender    Sender
	Render    RenderConfig
}

// Flow is the Messenger state machine.
type Flow struct {
	d Deps
}

// NewFlow builds a Flow.
func NewFlow(d Deps) *Flow {
	d.Render.normalize()
	return &Flow{d: d}
}

// Initial implements conversation.Flow.
func (f *Flow) Initial() State { return StateStart }

// Parse implements conversation.Flow.
func (f *Flow) Parse(name string) (State, bool) {
	switch s := State(name); s {
	case StateStart, StateMenu, StateCart, StatePickup, StateDelivery, StateEmail:
		return s, true
	}
	return "", false
}

// Handle implements conversation.Flow.
func (f *Flow) Handle(ctx context.Context, current State, req conversation.Request) (State, error) {
	switch current {
	case StateStart:
		return f.handleStart(ctx, req)
	case StateMenu:
		return f.handleMenu(ctx, req)
	case StateCart:
		return f.handleCart(ctx, req)
	case StatePickup, StateDelivery:
		return f.handleAddress(ctx, current, req)
	case StateEmail:
		return f.handleEmail(ctx, req)
	}
	return "", fmt.Errorf("messenger: unhandled state %q", current)
}

func (f *Flow) handleStart(ctx context.Context, req conversation.Request) (State, error) {
	slug := f.d.Render.DefaultCategory
	if cmd := req.Event.Command; cmd.Kind == conversation.KindCategory {
		slug = cmd.Slug
	}
	if err := f.sendMenu(ctx, req.Event.UserID, slug); err != nil {
		return "", err
	}
	return StateMenu, nil
}

func (f *Flow) handleMenu(ctx context.Context, req conversation.Request) (State, error) {
	user := req.Event.UserID
	cmd := req.Event.Command
	switch cmd.Kind {
	case conversation.KindCart:
		if err := f.sendCart(ctx, req); err != nil {
			return "", err
		}
		return StateCart, nil
	case conversation.KindCategory:
		if err := f.sendMenu(ctx, user, cmd.Slug); err != nil {
			return "", err
		}
		return StateMenu, nil
	case conversation.KindAdd:
		if err := f.addToCart(ctx, req); err != nil {
			return "", err
		}
		if err := f.sendMenu(ctx, user, f.d.Render.DefaultCategory); err != nil {
			return "", err
		}
		return StateMenu, nil
	}
	if err := f.sendMenu(ctx, user, f.d.Render.DefaultCategory); err != nil {
		return "", err
	}
	return StateStart, nil
}

func (f *Flow) handleCart(ctx context.Context, req conversation.Request) (State, error) {
	user := req.Event.UserID
	cmd := req.Event.Command
	switch cmd.Kind {
	case conversation.KindMenu:
		if err := f.sendMenu(ctx, user, f.d.Render.DefaultCategory); err != nil {
			return "", err
		}
		return StateMenu, nil
	case conversation.KindAdd:
		if err := f.addToCart(ctx, req); err != nil {
			return "", err
		}
	case conversation.KindRemove:
		if err := f.d.Carts.Remove(ctx, req.Token, cartID(user), cmd.ID); err != nil {
			return "", err
		}
		if err := f.d.Sender.SendText(ctx, user, fmt.Sprintf("Пицца %s удалена из корзины", cmd.Name)); err != nil {
			return "", err
		}
	case conversation.KindPickup:
		if err := f.d.Sender.SendText(ctx, user, askAddressText); err != nil {
			return "", err
		}
		return StatePickup, nil
	case conversation.KindDelivery:
		if err := f.d.Sender.SendText(ctx, user, askAddressText); err != nil {
			return "", err
		}
		return StateDelivery, nil
	}
	if err := f.sendCart(ctx, req); err != nil {
		return "", err
	}
	return StateCart, nil
}

func (f *Flow) handleAddress(ctx context.Context, current State, req conversation.Request) (State, error) {
	user := req.Event.UserID
	p, err := f.d.Locator.Locate(ctx, geo.Input{Text: req.Event.Text, Point: req.Event.Location})
	if errors.Is(err, geo.ErrNotFound) {
		if err := f.d.Sender.SendText(ctx, user, notFoundText); err != nil {
			return "", err
		}
		return current, nil
	}
	if err != nil {
		return "", err
	}
	store, km, err := f.d.Stores.Nearest(ctx, req.Token, p)
	if err != nil {
		return "", err
	}

	text := geo.NearestMessage(km, store.Address)
	if current == StateDelivery {
		text = geo.Classify(km).Message(km, store.Address)
	}
	if err := f.d.Sender.SendText(ctx, user, text); err != nil {
		return "", err
	}
	if err := f.d.Sender.SendText(ctx, user, askEmailText); err != nil {
		return "", err
	}
	return StateEmail, nil
}

func (f *Flow) handleEmail(ctx context.Context, req conversation.Request) (State, error) {
	user := req.Event.UserID
	email := strings.TrimSpace(req.Event.Text)
	if !emailPattern.MatchString(email) {
		if err := f.d.Sender.SendText(ctx, user, badEmailText); err != nil {
			return "", err
		}
		return StateEmail, nil
	}
	if _, err := f.d.Customers.CreateCustomer(ctx, req.Token, cartID(user), email); err != nil {
		return "", err
	}
	if err := f.d.Sender.SendText(ctx, user, fmt.Sprintf("Спасибо! Мы свяжемся с вами по адресу %s", email)); err != nil {
		return "", err
	}
	if err := f.sendMenu(ctx, user, f.d.Render.DefaultCategory); err != nil {
		return "", err
	}
	return StateStart, nil
}

func (f *Flow) addToCart(ctx context.Context, req conversation.Request) error {
	cmd := req.Event.Command
	if err := f.d.Carts.Add(ctx, req.Token, cartID(req.Event.UserID), cmd.ID, 1); err != nil {
		return err
	}
	return f.d.Sender.SendText(ctx, req.Event.UserID, fmt.Sprintf("Пицца %s добавлена в корзину", cmd.Name))
}

func (f *Flow) sendMenu(ctx context.Context, user, slug string) error {
	cards, err := menuCards(f.d.Catalog, f.d.Render, slug)
	if err != nil {
		return err
	}
	return f.d.Sender.SendCards(ctx, user, cards)
}

func (f *Flow) sendCart(ctx context.Context, req conversation.Request) error {
	sum, err := f.d.Carts.Summary(ctx, req.Token, cartID(req.Event.UserID))
	if err != nil {
		return err
	}
	cards, err := cartCards(f.d.Catalog, f.d.Render, sum)
	if err != nil {
		return err
	}
	return f.d.Sender.SendCards(ctx, req.Event.UserID, cards)
}

func cartID(user string) string {
	return cart.CartID(Platform, user)
}

const (
	askAddressText = "Пришлите Ваш адрес текстом или Вашу геопозицию"
	notFoundText   = "Не могу распознать этот адрес"
	askEmailText   = "Пришлите, пожалуйста, Ваш email"
	badEmailText   = "Не похоже на email, попробуйте ещё раз"
)
