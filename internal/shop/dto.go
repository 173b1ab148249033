package shop

import (
	"encoding/json"
	"strconv"
)

type categoryDTO struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

type moneyDTO struct {
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Formatted string `json:"formatted"`
}

func (m moneyDTO) toMoney() Money {
	return Money{Amount: m.Amount, Currency: m.Currency, Formatted: m.Formatted}
}

type productDTO struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Price       []moneyDTO `json:"price"`
	Meta        struct {
		DisplayPrice struct {
			WithTax moneyDTO `json:"with_tax"`
		} `json:"display_price"`
	} `json:"meta"`
	Relationships struct {
		MainImage struct {
			Data struct {
				ID string `json:"id"`
			} `json:"data"`
		} `json:"main_image"`
	} `json:"relationships"`
}

func (d productDTO) toProduct() Product {
	price := d.Meta.DisplayPrice.WithTax.toMoney()
	if price.Amount == 0 && len(d.Price) > 0 {
		price = d.Price[0].toMoney()
	}
	if price.Formatted == "" && price.Amount > 0 {
		price.Formatted = strconv.FormatInt(price.Major(), 10)
	}
	return Product{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Price:       price,
		ImageID:     d.Relationships.MainImage.Data.ID,
	}
}

type cartItemDTO struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	Meta        struct {
		DisplayPrice struct {
			WithTax struct {
				Unit  moneyDTO `json:"unit"`
				Value moneyDTO `json:"value"`
			} `json:"with_tax"`
		} `json:"display_price"`
	} `json:"meta"`
}

// flowEntryDTO tolerates coordinates and courier ids sent as strings or numbers.
type flowEntryDTO struct {
	ID        string      `json:"id"`
	Address   string      `json:"address"`
	Latitude  json.Number `json:"latitude"`
	Longitude json.Number `json:"longitude"`
	Courier   json.Number `json:"courier"`
}

func (d *flowEntryDTO) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID        string          `json:"id"`
		Address   string          `json:"address"`
		Latitude  json.RawMessage `json:"latitude"`
		Longitude json.RawMessage `json:"longitude"`
		Courier   json.RawMessage `json:"courier"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	d.ID = raw.ID
	d.Address = raw.Address
	d.Latitude = numberOf(raw.Latitude)
	d.Longitude = numberOf(raw.Longitude)
	d.Courier = numberOf(raw.Courier)
	return nil
}

func numberOf(raw json.RawMessage) json.Number {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return json.Number(s)
	}
	return json.Number(raw)
}
