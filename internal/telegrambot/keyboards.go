package telegrambot

import (
	"fmt"
	"strings"

	"github.com/m3rciful/pizzabot/core/telegram/keyboard"
	"github.com/m3rciful/pizzabot/internal/cart"
	"github.com/m3rciful/pizzabot/internal/shop"

	tele "gopkg.in/telebot.v4"
)

// PageSize is the number of products per menu page.
const PageSize = 8

func pageCount(total int) int {
	if total == 0 {
		return 1
	}
	return (total + PageSize - 1) / PageSize
}

func clampPage(page, total int) int {
	last := pageCount(total) - 1
	switch {
	case page < 0:
		return 0
	case page > last:
		return last
	}
	return page
}

func menuKeyboard(products []shop.Product, page int) *tele.ReplyMarkup {
	page = clampPage(page, len(products))
	from := page * PageSize
	to := min(from+PageSize, len(products))

	rows := make([][]keyboard.InlineBtn, 0, to-from+2)
	for _, p := range products[from:to] {
		rows = append(rows, []keyboard.InlineBtn{{Text: p.Name, Data: p.ID}})
	}
	var nav []keyboard.InlineBtn
	if page > 0 {
		nav = append(nav, keyboard.InlineBtn{Text: "←", Data: PageData(page - 1)})
	}
	if page < pageCount(len(products))-1 {
		nav = append(nav, keyboard.InlineBtn{Text: "→", Data: PageData(page + 1)})
	}
	rows = append(rows, nav)
	rows = append(rows, []keyboard.InlineBtn{{Text: "Корзина", Data: DataCart}})
	return keyboard.InlineButtonsRows(rows...)
}

func descriptionKeyboard() *tele.ReplyMarkup {
	return keyboard.InlineButtons([]keyboard.InlineBtn{
		{Text: "Добавить в корзину", Data: "1"},
		{Text: "Корзина", Data: DataCart},
		{Text: "Назад", Data: DataBack},
	})
}

func cartKeyboard(items []shop.CartItem) *tele.ReplyMarkup {
	buttons := make([]keyboard.InlineBtn, 0, len(items)+2)
	for _, it := range items {
		buttons = append(buttons, keyboard.InlineBtn{Text: "Убрать из корзины " + it.Name, Data: RemoveData(it.ID)})
	}
	buttons = append(buttons,
		keyboard.InlineBtn{Text: "Оплатить", Data: DataPay},
		keyboard.InlineBtn{Text: "В меню", Data: DataMenu},
	)
	return keyboard.InlineButtons(buttons)
}

func deliveryKeyboard() *tele.ReplyMarkup {
	return keyboard.InlineButtonsNPerRow([]keyboard.InlineBtn{
		{Text: "Доставка", Data: DataDelivery},
		{Text: "Самовывоз", Data: DataPickup},
	}, 2)
}

// farKeyboard hides the location request once no delivery is possible.
func farKeyboard() *tele.ReplyMarkup {
	return keyboard.RemoveKeyboard()
}

func productCaption(p shop.Product) string {
	var b strings.Builder
	b.WriteString(p.Name)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "%s руб.", priceText(p.Price))
	if p.Description != "" {
		b.WriteString("\n\n")
		b.WriteString(p.Description)
	}
	return b.String()
}

func cartText(sum cart.Summary) string {
	if sum.Empty() {
		return "Корзина пуста"
	}
	var b strings.Builder
	for _, it := range sum.Items {
		fmt.Fprintf(&b, "%s\n", it.Name)
		if it.Description != "" {
			fmt.Fprintf(&b, "%s\n", it.Description)
		}
		fmt.Fprintf(&b, "%s руб. за одну пиццу\n", priceText(it.UnitPrice))
		fmt.Fprintf(&b, "В корзине пиццы: %d шт. на %s руб.\n\n", it.Quantity, priceText(it.LinePrice))
	}
	fmt.Fprintf(&b, "Итого: %s руб.", priceText(sum.Total))
	return b.String()
}

func priceText(m shop.Money) string {
	if m.Formatted != "" {
		return m.Formatted
	}
	return fmt.Sprint(m.Major())
}
