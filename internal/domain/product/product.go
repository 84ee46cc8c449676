package product

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a variation does not exist.
var ErrNotFound = errors.New("variation not found")

// Variation is a purchasable variant of a catalog product. Price is the base
// price; DiscountPrice is the denormalized effective price maintained by the
// discount synchronizer and is NULL while no valid discount applies.
type Variation struct {
	ID            string
	ProductID     string
	SKU           string
	Price         decimal.Decimal
	DiscountPrice decimal.NullDecimal
}

// EffectivePrice returns the price a shopper sees in the catalog.
func (v Variation) EffectivePrice() decimal.Decimal {
	if v.DiscountPrice.Valid {
		return v.DiscountPrice.Decimal
	}
	return v.Price
}
