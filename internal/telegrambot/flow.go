// Package telegrambot implements the Telegram flavor of the bot: the
// conversation flow with product cards and the payment sub-flow, plus the
// telebot adapter that feeds it.
package telegrambot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/m3rciful/pizzabot/core/logger"
	"github.com/m3rciful/pizzabot/core/state"
	"github.com/m3rciful/pizzabot/core/telegram/helpers"
	"github.com/m3rciful/pizzabot/internal/cart"
	"github.com/m3rciful/pizzabot/internal/conversation"
	"github.com/m3rciful/pizzabot/internal/geo"
	"github.com/m3rciful/pizzabot/internal/shop"

	tele "gopkg.in/telebot.v4"
)

// Platform prefixes Telegram session keys and cart ids.
const Platform = helpers.Platform

// State is a Telegram conversation state.
type State string

const (
	StateStart       State = "START"
	StateMenu        State = "HANDLE_MENU"
	StateDescription State = "HANDLE_DESCRIPTION"
	StateCart        State = "HANDLE_CART"
	StateEmail       State = "WAITING_EMAIL"
	StateWaiting     State = "HANDLE_WAITING"
	StateDelivery    State = "HANDLE_DELIVERY"
	StateEnd         State = "END"
)

// Scratch value names kept next to the session key.
const (
	scratchProduct  = "product"
	scratchDelivery = "delivery"
)

var emailPattern = regexp.MustCompile(`^\w+@\w+\.\w+$`)

var errNoSelection = errors.New("telegrambot: no product selected")

// Catalog is the read side of the menu snapshot.
type Catalog interface {
	Products() ([]shop.Product, error)
	Product(id string) (shop.Product, error)
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

// Invoice is a single-line payment request.
type Invoice struct {
	Title       string
	Description string
	Payload     string
	Currency    string
	Label       string
	// Amount is in minor units.
	Amount int64
}

// Chat is the outbound side of the Telegram transport.
type Chat interface {
	Send(ctx context.Context, chatID int64, text string, markup *tele.ReplyMarkup) error
	SendPhoto(ctx context.Context, chatID int64, url, caption string, markup *tele.ReplyMarkup) error
	Edit(ctx context.Context, ref conversation.MessageRef, text string, markup *tele.ReplyMarkup) error
	Delete(ctx context.Context, ref conversation.MessageRef) error
	Alert(ctx context.Context, ref conversation.MessageRef, text string) error
	SendInvoice(ctx context.Context, chatID int64, inv Invoice) error
	// NotifyCourier is fire-and-forget: text then location to the courier chat.
	NotifyCourier(ctx context.Context, courierChatID int64, text string, p geo.Point) error
}

// Deferred runs a job once after a delay.
type Deferred interface {
	After(ctx context.Context, delay time.Duration, action string, run func() error) error
}

// PaymentConfig configures invoices.
type PaymentConfig struct {
	ProviderToken string `yaml:"provider_token" envconfig:"PAYMENT_TOKEN"`
	Currency      string `yaml:"currency" envconfig:"PAYMENT_CURRENCY"`
}

// DeliveryConfig configures courier notifications.
type DeliveryConfig struct {
	// NoticeAfter delays the "not delivered in time" message.
	NoticeAfter time.Duration `yaml:"notice_after" envconfig:"DELIVERY_NOTICE_AFTER"`
	// CourierChatID is used for stores without their own courier chat.
	CourierChatID int64 `yaml:"courier_chat_id" envconfig:"COURIER_CHAT_ID"`
}

// Normalize applies defaults.
func (c *PaymentConfig) Normalize() {
	if c.Currency == "" {
		c.Currency = "RUB"
	}
}

// Normalize applies defaults.
func (c *DeliveryConfig) Normalize() {
	if c.NoticeAfter <= 0 {
		c.NoticeAfter = time.Hour
	}
}

// InvoicePayload marks invoices issued by this bot.
const InvoicePayload = "Custom_order"

// Deps groups the flow collaborators.
type Deps struct {
	Catalog   Catalog
	Carts     Carts
	Locator   Locator
	Stores    Stores
	Customers Customers
	Scratch   state.Store
	Chat      Chat
	Deferred  Deferred
	Payment   PaymentConfig
	Delivery  DeliveryConfig
}

// Flow is the Telegram state machine.
type Flow struct {
	d Deps
}

// NewFlow builds a Flow.
func NewFlow(d Deps) *Flow {
	d.Payment.Normalize()
	d.Delivery.Normalize()
	return &Flow{d: d}
}

// Initial implements conversation.Flow.
func (f *Flow) Initial() State { return StateStart }

// Parse implements conversation.Flow.
func (f *Flow) Parse(name string) (State, bool) {
	switch s := State(name); s {
	case StateStart, StateMenu, StateDescription, StateCart, StateEmail, StateWaiting, StateDelivery, StateEnd:
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
	case StateDescription:
		return f.handleDescription(ctx, req)
	case StateCart:
		return f.handleCart(ctx, req)
	case StateEmail:
		return f.handleEmail(ctx, req)
	case StateWaiting:
		return f.handleWaiting(ctx, req)
	case StateDelivery:
		return f.handleDelivery(ctx, req)
	case StateEnd:
		return f.showMenu(ctx, req, false)
	}
	return "", fmt.Errorf("telegrambot: unhandled state %q", current)
}

func (f *Flow) handleStart(ctx context.Context, req conversation.Request) (State, error) {
	return f.showMenu(ctx, req, false)
}

func (f *Flow) handleMenu(ctx context.Context, req conversation.Request) (State, error) {
	cmd := req.Event.Command
	switch cmd.Kind {
	case conversation.KindPage:
		products, err := f.d.Catalog.Products()
		if err != nil {
			return "", err
		}
		if err := f.d.Chat.Edit(ctx, req.Event.Ref, "Выберите пиццу:", menuKeyboard(products, cmd.Page)); err != nil {
			return "", err
		}
		return StateMenu, nil
	case conversation.KindCart:
		return f.showCart(ctx, req)
	case conversation.KindProduct, conversation.KindQuantity:
		// Every other button on the menu carries a product id, numeric or not.
		return f.showProduct(ctx, req, req.Event.Text)
	}
	return f.showMenu(ctx, req, false)
}

func (f *Flow) handleDescription(ctx context.Context, req conversation.Request) (State, error) {
	cmd := req.Event.Command
	switch cmd.Kind {
	case conversation.KindBack, conversation.KindMenu:
		return f.showMenu(ctx, req, true)
	case conversation.KindCart:
		return f.showCart(ctx, req)
	case conversation.KindQuantity:
		id, ok, err := f.d.Scratch.Get(ctx, state.ScratchKey(req.SessionKey, scratchProduct))
		if err != nil {
			return "", err
		}
		if !ok || id == "" {
			return "", errNoSelection
		}
		if err := f.d.Carts.Add(ctx, req.Token, cartID(req.Event), id, cmd.Quantity); err != nil {
			return "", err
		}
		name := id
		if p, err := f.d.Catalog.Product(id); err == nil {
			name = p.Name
		}
		if err := f.d.Chat.Alert(ctx, req.Event.Ref, "Вы добавили в корзину пиццу: "+name); err != nil {
			return "", err
		}
		return StateDescription, nil
	}
	return f.showMenu(ctx, req, true)
}

func (f *Flow) handleCart(ctx context.Context, req conversation.Request) (State, error) {
	cmd := req.Event.Command
	switch cmd.Kind {
	case conversation.KindRemove:
		if err := f.d.Carts.Remove(ctx, req.Token, cartID(req.Event), cmd.ID); err != nil {
			return "", err
		}
		return f.showCart(ctx, req)
	case conversation.KindPay:
		sum, err := f.d.Carts.Summary(ctx, req.Token, cartID(req.Event))
		if err != nil {
			return "", err
		}
		if sum.Empty() {
			if err := f.d.Chat.Send(ctx, req.Event.Ref.ChatID, "Корзина пуста", nil); err != nil {
				return "", err
			}
			return StateCart, nil
		}
		if err := f.d.Chat.Send(ctx, req.Event.Ref.ChatID, askEmailText, nil); err != nil {
			return "", err
		}
		return StateEmail, nil
	case conversation.KindMenu, conversation.KindBack:
		return f.showMenu(ctx, req, true)
	}
	return f.showCart(ctx, req)
}

func (f *Flow) handleEmail(ctx context.Context, req conversation.Request) (State, error) {
	chat := req.Event.Ref.ChatID
	email := strings.TrimSpace(req.Event.Text)
	if req.Event.Command.Kind != conversation.KindText || !emailPattern.MatchString(email) {
		if err := f.d.Chat.Send(ctx, chat, badEmailText, nil); err != nil {
			return "", err
		}
		return StateEmail, nil
	}
	if _, err := f.d.Customers.CreateCustomer(ctx, req.Token, cartID(req.Event), email); err != nil {
		return "", err
	}
	total, err := f.d.Carts.Summary(ctx, req.Token, cartID(req.Event))
	if err != nil {
		return "", err
	}
	inv := Invoice{
		Title:       "Order №" + strconv.FormatInt(chat, 10),
		Description: "Сразу же после оплаты Ваша пицца отправится в печь",
		Payload:     InvoicePayload,
		Currency:    f.d.Payment.Currency,
		Label:       "Пицца",
		Amount:      total.Total.Amount,
	}
	if err := f.d.Chat.SendInvoice(ctx, chat, inv); err != nil {
		return "", err
	}
	return StateWaiting, nil
}

func (f *Flow) handleWaiting(ctx context.Context, req conversation.Request) (State, error) {
	chat := req.Event.Ref.ChatID
	if req.Event.Location == nil && req.Event.Command.Kind != conversation.KindText {
		if err := f.d.Chat.Send(ctx, chat, AskAddressText, nil); err != nil {
			return "", err
		}
		return StateWaiting, nil
	}
	p, err := f.d.Locator.Locate(ctx, geo.Input{Text: req.Event.Text, Point: req.Event.Location})
	if errors.Is(err, geo.ErrNotFound) {
		if err := f.d.Chat.Send(ctx, chat, notFoundText, nil); err != nil {
			return "", err
		}
		return StateWaiting, nil
	}
	if err != nil {
		return "", err
	}
	store, km, err := f.d.Stores.Nearest(ctx, req.Token, p)
	if err != nil {
		return "", err
	}

	tier := geo.Classify(km)
	pending := ""
	markup := farKeyboard()
	if tier.Deliverable() {
		courier := store.CourierChatID
		if courier == 0 {
			courier = f.d.Delivery.CourierChatID
		}
		raw, err := json.Marshal(pendingDelivery{Courier: courier, Lat: p.Lat, Lon: p.Lon})
		if err != nil {
			return "", err
		}
		pending = string(raw)
		markup = deliveryKeyboard()
	}
	// An out-of-range address overwrites any earlier deliverable one.
	if err := f.d.Scratch.Set(ctx, state.ScratchKey(req.SessionKey, scratchDelivery), pending); err != nil {
		return "", err
	}
	logger.Debug(ctx, "geo", "geo.tier",
		slog.String("tier", string(tier.Kind)),
		slog.Float64("km", km),
	)
	if err := f.d.Chat.Send(ctx, chat, tier.Message(km, store.Address), markup); err != nil {
		return "", err
	}
	return StateDelivery, nil
}

type pendingDelivery struct {
	Courier int64   `json:"courier"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

func (f *Flow) handleDelivery(ctx context.Context, req conversation.Request) (State, error) {
	chat := req.Event.Ref.ChatID
	switch req.Event.Command.Kind {
	case conversation.KindPickup:
		if err := f.d.Chat.Send(ctx, chat, "Вы выбрали самовывоз", nil); err != nil {
			return "", err
		}
		return StateEnd, nil
	case conversation.KindDelivery:
		key := state.ScratchKey(req.SessionKey, scratchDelivery)
		raw, ok, err := f.d.Scratch.Get(ctx, key)
		if err != nil {
			return "", err
		}
		if !ok || raw == "" {
			return "", errors.New("telegrambot: no pending delivery")
		}
		var pd pendingDelivery
		if err := json.Unmarshal([]byte(raw), &pd); err != nil {
			return "", fmt.Errorf("telegrambot: pending delivery: %w", err)
		}
		if pd.Courier == 0 {
			return "", errors.New("telegrambot: no courier chat configured")
		}
		order := fmt.Sprintf("Необходимо доставить заказ №%d", chat)
		if err := f.d.Chat.NotifyCourier(ctx, pd.Courier, order, geo.Point{Lat: pd.Lat, Lon: pd.Lon}); err != nil {
			return "", err
		}
		// The order is handed off; a repeated press must not notify twice.
		if err := f.d.Scratch.Set(ctx, key, ""); err != nil {
			return "", err
		}
		err = f.d.Deferred.After(ctx, f.d.Delivery.NoticeAfter, "send.late_notice", func() error {
			return f.d.Chat.Send(context.WithoutCancel(ctx), chat, lateNoticeText, nil)
		})
		if err != nil {
			return "", err
		}
		if err := f.d.Chat.Send(ctx, chat, "Заказ передан курьеру", nil); err != nil {
			return "", err
		}
		return StateEnd, nil
	case conversation.KindText, conversation.KindLocation:
		return f.handleWaiting(ctx, req)
	}
	return StateDelivery, nil
}

func (f *Flow) showMenu(ctx context.Context, req conversation.Request, deleteCurrent bool) (State, error) {
	products, err := f.d.Catalog.Products()
	if err != nil {
		return "", err
	}
	if err := f.d.Chat.Send(ctx, req.Event.Ref.ChatID, "Выберите пиццу:", menuKeyboard(products, 0)); err != nil {
		return "", err
	}
	if deleteCurrent {
		f.deleteQuietly(ctx, req.Event.Ref)
	}
	return StateMenu, nil
}

func (f *Flow) showCart(ctx context.Context, req conversation.Request) (State, error) {
	sum, err := f.d.Carts.Summary(ctx, req.Token, cartID(req.Event))
	if err != nil {
		return "", err
	}
	if err := f.d.Chat.Send(ctx, req.Event.Ref.ChatID, cartText(sum), cartKeyboard(sum.Items)); err != nil {
		return "", err
	}
	f.deleteQuietly(ctx, req.Event.Ref)
	return StateCart, nil
}

func (f *Flow) showProduct(ctx context.Context, req conversation.Request, id string) (State, error) {
	p, err := f.d.Catalog.Product(id)
	if err != nil {
		return "", err
	}
	img, err := f.d.Catalog.Image(id)
	if err != nil {
		return "", err
	}
	if err := f.d.Scratch.Set(ctx, state.ScratchKey(req.SessionKey, scratchProduct), id); err != nil {
		return "", err
	}
	if err := f.d.Chat.SendPhoto(ctx, req.Event.Ref.ChatID, img, productCaption(p), descriptionKeyboard()); err != nil {
		return "", err
	}
	f.deleteQuietly(ctx, req.Event.Ref)
	return StateDescription, nil
}

// deleteQuietly removes the message the user pressed a button on. A
// failed delete leaves a stale keyboard but does not fail the event.
func (f *Flow) deleteQuietly(ctx context.Context, ref conversation.MessageRef) {
	if ref.MessageID == 0 || ref.CallbackID == "" {
		return
	}
	if err := f.d.Chat.Delete(ctx, ref); err != nil {
		logger.Warn(ctx, "tg", "tg.delete",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
	}
}

func cartID(ev conversation.Event) string {
	return cart.CartID(Platform, ev.UserID)
}

// AskAddressText prompts for a delivery address after payment.
const AskAddressText = "Пришлите Ваш адрес текстом или Вашу геопозицию"

const (
	askEmailText   = "Пришлите, пожалуйста, Ваш email"
	badEmailText   = "Не похоже на email, попробуйте ещё раз"
	notFoundText   = "Не могу распознать этот адрес"
	lateNoticeText = "Приятного аппетита! *место для рекламы*\n\n" +
		"Курьер с пиццей очень спешит к Вам.\nНо увы не успевает доставить ее вовремя.\n" +
		"В связи с этим можете забрать нашу пиццу совершенно бесплатно.))"
)
