package telegrambot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/m3rciful/pizzabot/core/logger"
	tg "github.com/m3rciful/pizzabot/core/telegram"
	"github.com/m3rciful/pizzabot/core/telegram/helpers"
	"github.com/m3rciful/pizzabot/core/telegram/keyboard"
	"github.com/m3rciful/pizzabot/core/telegram/router"
	"github.com/m3rciful/pizzabot/internal/conversation"
	"github.com/m3rciful/pizzabot/internal/geo"

	tele "gopkg.in/telebot.v4"
)

const checkoutRejectText = "Что то пошло не так"

// Dispatcher handles one decoded event.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev conversation.Event) error
}

// TeleChat sends flow output through a telebot API.
type TeleChat struct {
	bot           tele.API
	providerToken string
}

// NewTeleChat wraps bot. providerToken signs invoices.
func NewTeleChat(bot tele.API, providerToken string) *TeleChat {
	return &TeleChat{bot: bot, providerToken: providerToken}
}

func sendOpts(markup *tele.ReplyMarkup) []any {
	if markup == nil {
		return nil
	}
	return []any{markup}
}

// Send implements Chat.
func (t *TeleChat) Send(ctx context.Context, chatID int64, text string, markup *tele.ReplyMarkup) error {
	_, err := t.bot.Send(tele.ChatID(chatID), text, sendOpts(markup)...)
	return t.logged(ctx, "send.text", err)
}

// SendPhoto implements Chat.
func (t *TeleChat) SendPhoto(ctx context.Context, chatID int64, url, caption string, markup *tele.ReplyMarkup) error {
	photo := &tele.Photo{File: tele.FromURL(url), Caption: caption}
	_, err := t.bot.Send(tele.ChatID(chatID), photo, sendOpts(markup)...)
	return t.logged(ctx, "send.photo", err)
}

// Edit implements Chat.
func (t *TeleChat) Edit(ctx context.Context, ref conversation.MessageRef, text string, markup *tele.ReplyMarkup) error {
	msg := tele.StoredMessage{ChatID: ref.ChatID, MessageID: strconv.Itoa(ref.MessageID)}
	_, err := t.bot.Edit(msg, text, sendOpts(markup)...)
	return t.logged(ctx, "send.edit", err)
}

// Delete implements Chat.
func (t *TeleChat) Delete(ctx context.Context, ref conversation.MessageRef) error {
	msg := tele.StoredMessage{ChatID: ref.ChatID, MessageID: strconv.Itoa(ref.MessageID)}
	return t.logged(ctx, "send.delete", t.bot.Delete(msg))
}

// Alert answers the pressed button with a popup. Without a callback the
// text goes out as a plain message.
func (t *TeleChat) Alert(ctx context.Context, ref conversation.MessageRef, text string) error {
	if ref.CallbackID == "" {
		return t.Send(ctx, ref.ChatID, text, nil)
	}
	err := t.bot.Respond(&tele.Callback{ID: ref.CallbackID}, &tele.CallbackResponse{Text: text, ShowAlert: true})
	return t.logged(ctx, "send.alert", err)
}

// SendInvoice implements Chat.
func (t *TeleChat) SendInvoice(ctx context.Context, chatID int64, inv Invoice) error {
	invoice := &tele.Invoice{
		Title:       inv.Title,
		Description: inv.Description,
		Payload:     inv.Payload,
		Currency:    inv.Currency,
		Token:       t.providerToken,
		Prices:      []tele.Price{{Label: inv.Label, Amount: int(inv.Amount)}},
	}
	_, err := t.bot.Send(tele.ChatID(chatID), invoice)
	return t.logged(ctx, "send.invoice", err)
}

// NotifyCourier sends the order text followed by the drop-off point.
func (t *TeleChat) NotifyCourier(ctx context.Context, courierChatID int64, text string, p geo.Point) error {
	return helpers.SendTo(ctx, t.bot, tele.ChatID(courierChatID), "send.courier",
		text, &tele.Location{Lat: float32(p.Lat), Lng: float32(p.Lon)})
}

func (t *TeleChat) logged(ctx context.Context, action string, err error) error {
	if err != nil {
		logger.Warn(ctx, "tg", action,
			slog.String("status", "fail"),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
		return fmt.Errorf("telegram %s: %w", action, err)
	}
	if logger.ShouldSampleDebug() {
		logger.Debug(ctx, "tg", action, slog.String("status", "ok"))
	}
	return nil
}

// Handler turns telebot updates into conversation events.
func Handler(d Dispatcher) tele.HandlerFunc {
	return func(c tele.Context) error {
		ev, ok := ToEvent(c)
		if !ok {
			return nil
		}
		return d.Dispatch(helpers.BuildContext(c), ev)
	}
}

// ToEvent decodes a message, callback or shared location. The chat id is
// the user id, matching one session per private chat.
func ToEvent(c tele.Context) (conversation.Event, bool) {
	chat := c.Chat()
	if chat == nil {
		return conversation.Event{}, false
	}
	ev := conversation.Event{
		Platform: Platform,
		UserID:   strconv.FormatInt(chat.ID, 10),
		Ref:      conversation.MessageRef{ChatID: chat.ID},
	}

	if cb := c.Callback(); cb != nil {
		data := strings.TrimPrefix(cb.Data, "\f")
		ev.Text = data
		ev.Command = DecodeCallback(data)
		ev.Ref.CallbackID = cb.ID
		if cb.Message != nil {
			ev.Ref.MessageID = cb.Message.ID
		}
		return ev, true
	}

	msg := c.Message()
	if msg == nil {
		return conversation.Event{}, false
	}
	ev.Ref.MessageID = msg.ID
	if msg.Location != nil {
		ev.Location = &geo.Point{Lat: float64(msg.Location.Lat), Lon: float64(msg.Location.Lng)}
		ev.Command = conversation.Command{Kind: conversation.KindLocation}
		return ev, true
	}
	if msg.Text == "" {
		return conversation.Event{}, false
	}
	ev.Text = msg.Text
	ev.Command = conversation.Command{Kind: conversation.KindText, Text: msg.Text}
	return ev, true
}

// AcceptCheckout reports whether a pre-checkout query belongs to our invoice.
func AcceptCheckout(payload string) bool {
	return payload == InvoicePayload
}

func handleCheckout(c tele.Context) error {
	q := c.PreCheckoutQuery()
	if q == nil {
		return nil
	}
	ctx := helpers.BuildContext(c)
	if !AcceptCheckout(q.Payload) {
		logger.Warn(ctx, "tg", "payment.checkout", slog.String("status", "rejected"))
		return c.Accept(checkoutRejectText)
	}
	logger.Info(ctx, "tg", "payment.checkout",
		slog.String("status", "ok"),
		slog.Int("total", q.Total),
		slog.String("currency", q.Currency),
	)
	return c.Accept()
}

func handlePayment(c tele.Context) error {
	ctx := helpers.BuildContext(c)
	if msg := c.Message(); msg != nil && msg.Payment != nil {
		logger.Info(ctx, "tg", "payment.done",
			slog.String("status", "ok"),
			slog.Int("total", msg.Payment.Total),
		)
	}
	return c.Send(AskAddressText, keyboard.LocationRequest("Отправить геопозицию"))
}

// Routes binds the conversation handler and the payment updates.
func Routes(d Dispatcher) []tg.Route {
	routes := router.ConversationRoutes(Handler(d))
	return append(routes,
		router.Route(tele.OnCheckout, "checkout", handleCheckout),
		router.Route(tele.OnPayment, "payment", handlePayment),
	)
}
