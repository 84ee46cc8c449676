package discount

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-pricing/internal/domain/product"
)

// PricingTx is the view of a caller-owned transaction used by the validator
// and the synchronizer. All calls made through one PricingTx observe the same
// snapshot and commit or roll back together.
type PricingTx interface {
	// GetDiscount returns ErrNotFound when no discount has the given id.
	GetDiscount(ctx context.Context, id string) (*Discount, error)
	// HasVariation reports whether the discount is attached to the variation.
	HasVariation(ctx context.Context, discountID, variationID string) (bool, error)
	// ListVariations returns every variation attached to the discount.
	ListVariations(ctx context.Context, discountID string) ([]product.Variation, error)
	// ListAttachedVariations returns the variations among variationIDs that
	// are attached to the discount.
	ListAttachedVariations(ctx context.Context, discountID string, variationIDs []string) ([]product.Variation, error)
	// VariationsWithValidDiscount returns the subset of variationIDs attached
	// to at least one discount that is active and inside its date window at now.
	VariationsWithValidDiscount(ctx context.Context, variationIDs []string, now time.Time) ([]string, error)
	// ValidDiscountByVariation maps each of variationIDs that has a valid
	// discount at now to the most recently updated one, ties broken by the
	// greater id.
	ValidDiscountByVariation(ctx context.Context, variationIDs []string, now time.Time) (map[string]string, error)

	// SetDiscountPrice and ClearDiscountPrices are reserved for Synchronizer.
	SetDiscountPrice(ctx context.Context, variationID string, price decimal.Decimal) error
	// ClearDiscountPrices nulls the discount price of the given variations
	// where it is not already NULL and returns the number of rows written.
	ClearDiscountPrices(ctx context.Context, variationIDs []string) (int64, error)
}

// Tx is the full unit of work used by Service.
type Tx interface {
	PricingTx

	InsertDiscount(ctx context.Context, d *Discount) error
	UpdateDiscount(ctx context.Context, d *Discount) error
	// DeleteDiscount removes the discount together with its associations.
	DeleteDiscount(ctx context.Context, id string) error
	// AttachVariations creates missing associations and returns how many were new.
	AttachVariations(ctx context.Context, discountID string, variationIDs []string) (int64, error)
	// DetachVariations removes associations and returns how many existed.
	DetachVariations(ctx context.Context, discountID string, variationIDs []string) (int64, error)
	// VariationIDs lists the ids of variations attached to the discount.
	VariationIDs(ctx context.Context, discountID string) ([]string, error)
	// IncrementUsage bumps the usage counter unless the limit is exhausted,
	// in which case it returns ErrLimitReached.
	IncrementUsage(ctx context.Context, discountID string) error
}

// TxRunner runs fn inside a single transaction. The transaction commits when
// fn returns nil and rolls back otherwise.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
