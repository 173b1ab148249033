package geo

import "fmt"

// TierKind names a delivery distance band.
type TierKind string

const (
	TierFreePickup TierKind = "free_pickup"
	TierNear       TierKind = "near"
	TierFar        TierKind = "far"
	TierOutOfRange TierKind = "out_of_range"
)

// Band upper edges in km, inclusive.
const (
	FreePickupKm = 0.5
	NearKm       = 5.0
	FarKm        = 20.0

	NearFee = 100
	FarFee  = 300
)

// Tier is the classification of a store distance.
type Tier struct {
	Kind TierKind
	// Fee is the delivery price in whole currency units.
	Fee int
}

// Deliverable reports whether delivery is offered for the tier.
func (t Tier) Deliverable() bool {
	return t.Kind != TierOutOfRange
}

// Classify maps a distance to its tier.
func Classify(km float64) Tier {
	switch {
	case km <= FreePickupKm:
		return Tier{Kind: TierFreePickup}
	case km <= NearKm:
		return Tier{Kind: TierNear, Fee: NearFee}
	case km <= FarKm:
		return Tier{Kind: TierFar, Fee: FarFee}
	default:
		return Tier{Kind: TierOutOfRange}
	}
}

// Message renders the customer-facing text for a tier.
func (t Tier) Message(km float64, address string) string {
	switch t.Kind {
	case TierFreePickup:
		return fmt.Sprintf("Может, заберете пиццу из нашей пиццерии неподалеку?\n\n"+
			"Она всего в %.0f метрах от Вас!\nВот её адрес: %s.\n\n"+
			"А можем и бесплатно доставить, нам не сложно))", km*1000, address)
	case TierNear, TierFar:
		return fmt.Sprintf("Доставим Вашу пиццу за %d рублей.\n\n"+
			"Или можете забрать ее по адресу: %s", t.Fee, address)
	default:
		return fmt.Sprintf("Простите, но так далеко мы пиццу не доставим.\n\n"+
			"Ближайшая пиццерия аж в %.2f километрах от Вас.\n\n"+
			"Заезжайте к нам в гости: %s", km, address)
	}
}

// NearestMessage describes the closest store for pickup.
func NearestMessage(km float64, address string) string {
	return fmt.Sprintf("Ближайшая пиццерия: %s\nРасстояние: %.2f км", address, km)
}
