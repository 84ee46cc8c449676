package discount

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported discount strategies.
type Type string

const (
	// TypePercentage takes a percentage off the variation price.
	TypePercentage Type = "PERCENTAGE"
	// TypeFixedAmount takes a fixed amount off the variation price, floored at zero.
	TypeFixedAmount Type = "FIXED_AMOUNT"
	// TypeBuyXGetY gives GetQuantity free units for every BuyQuantity bought.
	// It only changes totals at checkout; the catalog price is unchanged.
	TypeBuyXGetY Type = "BUY_X_GET_Y"
)

var (
	// ErrNotFound is returned when a referenced discount does not exist.
	ErrNotFound = errors.New("discount not found")
	// ErrNotActive is returned when a discount is missing or switched off.
	ErrNotActive = errors.New("discount is not active")
	// ErrNotStarted is returned before the discount start date.
	ErrNotStarted = errors.New("discount has not started yet")
	// ErrExpired is returned after the discount end date.
	ErrExpired = errors.New("discount has expired")
	// ErrLimitReached is returned when the discount has exhausted its usage limit.
	ErrLimitReached = errors.New("discount usage limit reached")
	// ErrNotApplicable is returned when the discount is not attached to the variation.
	ErrNotApplicable = errors.New("discount is not applicable to this product")
	// ErrInvalidDiscount is returned when discount parameters fail boundary checks.
	ErrInvalidDiscount = errors.New("invalid discount")
)

// Rule is the part of a discount the price calculator needs.
type Rule struct {
	Type        Type
	Value       decimal.Decimal
	BuyQuantity *int
	GetQuantity *int
}

// Discount is a shop-level discount that can be attached to product variations.
//
// Priority and AllowStacking are stored for administrators but are not
// consulted when prices are synchronized: the last synchronized discount wins.
type Discount struct {
	ID            string
	ShopID        string
	Name          string
	Type          Type
	Value         decimal.Decimal
	Active        bool
	StartDate     *time.Time
	EndDate       *time.Time
	UsageLimit    *int
	UsageCount    int
	BuyQuantity   *int
	GetQuantity   *int
	Priority      int
	AllowStacking bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Rule returns the pricing rule of the discount.
func (d *Discount) Rule() Rule {
	return Rule{
		Type:        d.Type,
		Value:       d.Value,
		BuyQuantity: d.BuyQuantity,
		GetQuantity: d.GetQuantity,
	}
}

// Started reports whether t is at or after the start date. A discount
// without a start date is always started.
func (d *Discount) Started(t time.Time) bool {
	return d.StartDate == nil || !t.Before(*d.StartDate)
}

// Ended reports whether t is after the end date. Both bounds are inclusive.
func (d *Discount) Ended(t time.Time) bool {
	return d.EndDate != nil && t.After(*d.EndDate)
}

// LimitReached reports whether the usage limit, if any, is exhausted.
func (d *Discount) LimitReached() bool {
	return d.UsageLimit != nil && d.UsageCount >= *d.UsageLimit
}

// IsValidAt reports whether the discount is active and inside its date
// window at t. Usage limits do not affect catalog prices.
func (d *Discount) IsValidAt(t time.Time) bool {
	return d.Active && d.Started(t) && !d.Ended(t)
}

var hundred = decimal.NewFromInt(100)

// Validate checks the discount parameters before they are persisted.
func (d *Discount) Validate() error {
	if d.Value.IsNegative() {
		return errors.Wrap(ErrInvalidDiscount, "value must not be negative")
	}
	switch d.Type {
	case TypePercentage:
		if d.Value.GreaterThan(hundred) {
			return errors.Wrap(ErrInvalidDiscount, "percentage must be between 0 and 100")
		}
	case TypeFixedAmount:
	case TypeBuyXGetY:
		if d.BuyQuantity == nil || *d.BuyQuantity <= 0 {
			return errors.Wrap(ErrInvalidDiscount, "buy quantity must be positive")
		}
		if d.GetQuantity == nil || *d.GetQuantity <= 0 {
			return errors.Wrap(ErrInvalidDiscount, "get quantity must be positive")
		}
	default:
		return errors.Wrapf(ErrInvalidDiscount, "unsupported discount type %q", d.Type)
	}
	if d.StartDate != nil && d.EndDate != nil && d.EndDate.Before(*d.StartDate) {
		return errors.Wrap(ErrInvalidDiscount, "end date must not be before start date")
	}
	if d.UsageLimit != nil {
		if *d.UsageLimit < 0 {
			return errors.Wrap(ErrInvalidDiscount, "usage limit must not be negative")
		}
		if d.UsageCount > *d.UsageLimit {
			return errors.Wrap(ErrInvalidDiscount, "usage count exceeds usage limit")
		}
	}
	return nil
}
