// Package conversation drives per-user state machines: one state read, at
// most one handler call and at most one state write per inbound event.
package conversation

import (
	"strconv"

	"github.com/m3rciful/pizzabot/internal/geo"
)

// StartCommand resets the conversation to the initial state.
const StartCommand = "/start"

// Kind classifies a decoded user action.
type Kind string

const (
	KindText     Kind = "text"
	KindMenu     Kind = "menu"
	KindCart     Kind = "cart"
	KindCategory Kind = "category"
	KindAdd      Kind = "add"
	KindRemove   Kind = "remove"
	KindPage     Kind = "page"
	KindProduct  Kind = "product"
	KindQuantity Kind = "quantity"
	KindBack     Kind = "back"
	KindPay      Kind = "pay"
	KindPickup   Kind = "pickup"
	KindDelivery Kind = "delivery"
	KindLocation Kind = "location"
)

// Command is a user action decoded once at the transport boundary.
type Command struct {
	Kind Kind
	// ID is a product id for add/product and a cart item id for remove.
	ID       string
	Name     string
	Slug     string
	Page     int
	Quantity int
	Text     string
}

func (c Command) String() string {
	switch c.Kind {
	case KindPage:
		return string(c.Kind) + ":" + strconv.Itoa(c.Page)
	case KindQuantity:
		return string(c.Kind) + ":" + strconv.Itoa(c.Quantity)
	case KindAdd, KindRemove, KindProduct:
		return string(c.Kind) + ":" + c.ID
	case KindCategory:
		return string(c.Kind) + ":" + c.Slug
	}
	return string(c.Kind)
}

// MessageRef points at the inbound message when the transport has one.
type MessageRef struct {
	ChatID     int64
	MessageID  int
	CallbackID string
}

// Event is one inbound user action.
type Event struct {
	// Platform is the session key prefix, e.g. "facebookid" or "tg".
	Platform string
	UserID   string
	// Text is the raw message text or button payload.
	Text     string
	Location *geo.Point
	Command  Command
	Ref      MessageRef
}

// IsStart reports whether the event is the reset command.
func (e Event) IsStart() bool {
	return e.Text == StartCommand
}
