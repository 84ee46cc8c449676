package discount

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-pricing/internal/domain/product"
)

// Synchronizer is the only writer of variation discount prices.
type Synchronizer struct {
	now func() time.Time
}

// NewSynchronizer creates a Synchronizer that uses the wall clock.
func NewSynchronizer() *Synchronizer {
	return &Synchronizer{now: time.Now}
}

// UpdateVariationPrices recomputes the discount price of every variation
// attached to the discount and overwrites it. A missing discount is a no-op.
//
// Other discounts attached to the same variations are not considered, so when
// several apply, the one synchronized last wins.
func (s *Synchronizer) UpdateVariationPrices(ctx context.Context, tx PricingTx, discountID string) error {
	d, err := tx.GetDiscount(ctx, discountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	variations, err := tx.ListVariations(ctx, discountID)
	if err != nil {
		return err
	}
	return applyRule(ctx, tx, d.Rule(), variations)
}

// ApplyToVariations is UpdateVariationPrices restricted to the given
// variations. Ids not attached to the discount are ignored, so attaching a
// batch costs one write per attached variation no matter how many the
// discount already has.
func (s *Synchronizer) ApplyToVariations(ctx context.Context, tx PricingTx, discountID string, variationIDs []string) error {
	ids := uniqueIDs(variationIDs)
	if len(ids) == 0 {
		return nil
	}
	d, err := tx.GetDiscount(ctx, discountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	variations, err := tx.ListAttachedVariations(ctx, discountID, ids)
	if err != nil {
		return err
	}
	return applyRule(ctx, tx, d.Rule(), variations)
}

func applyRule(ctx context.Context, tx PricingTx, rule Rule, variations []product.Variation) error {
	for _, v := range variations {
		if err := tx.SetDiscountPrice(ctx, v.ID, CalculatePrice(v.Price, rule)); err != nil {
			return err
		}
	}
	return nil
}

// ResetVariationPrices clears the discount price of every given variation that
// no longer has an active, currently valid discount attached and returns how
// many prices were actually cleared. Variations that still have one, or
// already have no price, are left untouched and not counted.
func (s *Synchronizer) ResetVariationPrices(ctx context.Context, tx PricingTx, variationIDs []string) (int64, error) {
	ids := uniqueIDs(variationIDs)
	if len(ids) == 0 {
		return 0, nil
	}

	discounted, err := tx.VariationsWithValidDiscount(ctx, ids, s.now())
	if err != nil {
		return 0, err
	}

	keep := make(map[string]struct{}, len(discounted))
	for _, id := range discounted {
		keep[id] = struct{}{}
	}

	stale := ids[:0]
	for _, id := range ids {
		if _, ok := keep[id]; !ok {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	return tx.ClearDiscountPrices(ctx, stale)
}

// ResolveVariationPrices settles the price of variations after one of their
// discounts stopped applying. Variations without a valid discount are
// cleared. The rest are repriced from their most recently updated valid
// discount, so a price left by a discount that no longer applies is
// replaced instead of kept.
func (s *Synchronizer) ResolveVariationPrices(ctx context.Context, tx PricingTx, variationIDs []string) error {
	ids := uniqueIDs(variationIDs)
	if len(ids) == 0 {
		return nil
	}

	current, err := tx.ValidDiscountByVariation(ctx, ids, s.now())
	if err != nil {
		return err
	}

	var stale []string
	byDiscount := make(map[string][]string)
	for _, id := range ids {
		did, ok := current[id]
		if !ok {
			stale = append(stale, id)
			continue
		}
		byDiscount[did] = append(byDiscount[did], id)
	}

	if len(stale) > 0 {
		if _, err := tx.ClearDiscountPrices(ctx, stale); err != nil {
			return err
		}
	}

	discountIDs := make([]string, 0, len(byDiscount))
	for did := range byDiscount {
		discountIDs = append(discountIDs, did)
	}
	slices.Sort(discountIDs)
	for _, did := range discountIDs {
		if err := s.ApplyToVariations(ctx, tx, did, byDiscount[did]); err != nil {
			return err
		}
	}
	return nil
}

// uniqueIDs returns ids without blanks and duplicates, keeping input order.
func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
