package telegrambot

import (
	"strconv"
	"strings"

	"github.com/m3rciful/pizzabot/internal/conversation"
)

// Callback data values.
const (
	DataCart     = "cart"
	DataBack     = "back"
	DataMenu     = "menu"
	DataPay      = "pay"
	DataPickup   = "pickup"
	DataDelivery = "delivery"

	pagePrefix   = "pag, "
	removePrefix = "del "
)

// PageData encodes a pagination button.
func PageData(page int) string {
	return pagePrefix + strconv.Itoa(page)
}

// RemoveData encodes a remove-from-cart button.
func RemoveData(itemID string) string {
	return removePrefix + itemID
}

// DecodeCallback turns inline button data into a command. Anything not
// recognised is taken as a product id.
func DecodeCallback(data string) conversation.Command {
	switch data {
	case DataCart:
		return conversation.Command{Kind: conversation.KindCart}
	case DataBack:
		return conversation.Command{Kind: conversation.KindBack}
	case DataMenu:
		return conversation.Command{Kind: conversation.KindMenu}
	case DataPay:
		return conversation.Command{Kind: conversation.KindPay}
	case DataPickup:
		return conversation.Command{Kind: conversation.KindPickup}
	case DataDelivery:
		return conversation.Command{Kind: conversation.KindDelivery}
	}
	if rest, ok := strings.CutPrefix(data, pagePrefix); ok {
		if page, err := strconv.Atoi(strings.TrimSpace(rest)); err == nil {
			return conversation.Command{Kind: conversation.KindPage, Page: page}
		}
	}
	if rest, ok := strings.CutPrefix(data, removePrefix); ok && rest != "" {
		return conversation.Command{Kind: conversation.KindRemove, ID: rest}
	}
	if n, err := strconv.Atoi(data); err == nil && n > 0 {
		return conversation.Command{Kind: conversation.KindQuantity, Quantity: n}
	}
	return conversation.Command{Kind: conversation.KindProduct, ID: data}
}
