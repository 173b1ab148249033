package messenger

import (
	"fmt"

	"github.com/m3rciful/pizzabot/internal/cart"
)

// RenderConfig holds the carousel artwork and the default category.
type RenderConfig struct {
	DefaultCategory string `yaml:"default_category"`
	MenuImageURL    string `yaml:"menu_image_url"`
	CartImageURL    string `yaml:"cart_image_url"`
	MoreImageURL    string `yaml:"more_image_url"`
}

func (c *RenderConfig) normalize() {
	if c.DefaultCategory == "" {
		c.DefaultCategory = "basic"
	}
}

// Products shown per menu carousel; the header and trailer take two slots.
const menuProductSlots = MaxCards - 2

func menuCards(cat Catalog, cfg RenderConfig, slug string) ([]Card, error) {
	products, err := cat.Category(slug)
	if err != nil {
		return nil, err
	}
	categories, err := cat.Categories()
	if err != nil {
		return nil, err
	}

	cards := []Card{{
		Title:    "Меню",
		ImageURL: cfg.MenuImageURL,
		Subtitle: "Здесь вы можете выбрать один из вариантов",
		Buttons: []Button{
			{Title: "Корзина", Payload: PayloadCart},
			{Title: "Акции", Payload: PayloadPromo},
			{Title: "Сделать заказ", Payload: PayloadOrder},
		},
	}}
	for i, p := range products {
		if i == menuProductSlots {
			break
		}
		img, err := cat.Image(p.ID)
		if err != nil {
			return nil, err
		}
		cards = append(cards, Card{
			Title:    fmt.Sprintf("%s (%d р)", p.Name, p.Price.Major()),
			ImageURL: img,
			Subtitle: p.Description,
			Buttons:  []Button{{Title: "Добавить в корзину", Payload: AddPayload(p.Name, p.ID)}},
		})
	}

	var others []Button
	for _, c := range categories {
		if c.Slug == slug {
			continue
		}
		others = append(others, Button{Title: c.Name, Payload: CategoryPayload(c.Slug)})
	}
	cards = append(cards, Card{
		Title:    "Не нашли нужную пиццу?",
		ImageURL: cfg.MoreImageURL,
		Subtitle: "Остальные пиццы можно посмотреть в одной из категорий",
		Buttons:  others,
	})
	return cards, nil
}

// Cart lines shown per carousel; the header takes one slot.
const cartItemSlots = MaxCards - 1

func cartCards(cat Catalog, cfg RenderConfig, sum cart.Summary) ([]Card, error) {
	cards := []Card{{
		Title:    fmt.Sprintf("Ваш заказ на сумму %d руб.", sum.Total.Major()),
		ImageURL: cfg.CartImageURL,
		Buttons: []Button{
			{Title: "Самовывоз", Payload: PayloadPickup},
			{Title: "Доставка", Payload: PayloadDelivery},
			{Title: "Меню", Payload: PayloadMenu},
		},
	}}
	for i, it := range sum.Items {
		if i == cartItemSlots {
			break
		}
		img, err := cat.Image(it.ProductID)
		if err != nil {
			return nil, err
		}
		cards = append(cards, Card{
			Title:    fmt.Sprintf("%s (%d р)", it.Name, it.UnitPrice.Major()),
			ImageURL: img,
			Subtitle: it.Description,
			Buttons: []Button{
				{Title: "Добавить еще одну", Payload: AddPayload(it.Name, it.ProductID)},
				{Title: "Удалить", Payload: RemovePayload(it.Name, it.ID)},
			},
		})
	}
	return cards, nil
}
