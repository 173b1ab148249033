package messenger

import (
	"strings"

	"github.com/m3rciful/pizzabot/internal/conversation"
)

// Postback payloads.
const (
	PayloadCart     = "cart"
	PayloadMenu     = "menu"
	PayloadPickup   = "pickup"
	PayloadDelivery = "delivery"
	PayloadPromo    = "action"
	PayloadOrder    = "order"

	prefixAdd      = "ADD"
	prefixRemove   = "REMOVE"
	prefixCategory = "CATEGORY"
)

// AddPayload encodes an add-to-cart button.
func AddPayload(name, productID string) string {
	return prefixAdd + "_" + name + "_" + productID
}

// RemovePayload encodes a remove-from-cart button.
func RemovePayload(name, itemID string) string {
	return prefixRemove + "_" + name + "_" + itemID
}

// CategoryPayload encodes a category switch button.
func CategoryPayload(slug string) string {
	return prefixCategory + "_" + slug
}

// Decode turns a message text or postback payload into a command. The id
// is the last "_" segment and the name the one before it, so names may not
// contain underscores but ids always survive.
func Decode(text string) conversation.Command {
	switch text {
	case PayloadCart:
		return conversation.Command{Kind: conversation.KindCart}
	case PayloadMenu:
		return conversation.Command{Kind: conversation.KindMenu}
	case PayloadPickup:
		return conversation.Command{Kind: conversation.KindPickup}
	case PayloadDelivery:
		return conversation.Command{Kind: conversation.KindDelivery}
	}

	parts := strings.Split(text, "_")
	if len(parts) >= 2 {
		switch parts[0] {
		case prefixCategory:
			return conversation.Command{Kind: conversation.KindCategory, Slug: parts[len(parts)-1]}
		case prefixAdd, prefixRemove:
			if len(parts) >= 3 {
				kind := conversation.KindAdd
				if parts[0] == prefixRemove {
					kind = conversation.KindRemove
				}
				return conversation.Command{
					Kind: kind,
					ID:   parts[len(parts)-1],
					Name: parts[len(parts)-2],
				}
			}
		}
	}
	return conversation.Command{Kind: conversation.KindText, Text: text}
}
