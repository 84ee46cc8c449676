package discount

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-pricing/internal/domain/product"
)

// memStore is an in-memory TxRunner. A failed transaction restores the
// state captured when it began.
type memStore struct {
	discounts  map[string]Discount
	variations map[string]product.Variation
	links      map[string]map[string]struct{} // discount id -> variation ids

	// priceWrites counts rows whose discount price was written.
	priceWrites int
	commits     int
	rollbacks   int

	failOn  string
	failErr error
}

func newMemStore() *memStore {
	return &memStore{
		discounts:  make(map[string]Discount),
		variations: make(map[string]product.Variation),
		links:      make(map[string]map[string]struct{}),
	}
}

func (m *memStore) addVariation(id, price string) {
	m.variations[id] = product.Variation{
		ID:        id,
		ProductID: "prod-" + id,
		Price:     decimal.RequireFromString(price),
	}
}

func (m *memStore) addDiscount(d Discount) {
	m.discounts[d.ID] = d
}

func (m *memStore) link(discountID string, variationIDs ...string) {
	set, ok := m.links[discountID]
	if !ok {
		set = make(map[string]struct{})
		m.links[discountID] = set
	}
	for _, id := range variationIDs {
		set[id] = struct{}{}
	}
}

func (m *memStore) unlink(discountID string, variationIDs ...string) {
	for _, id := range variationIDs {
		delete(m.links[discountID], id)
	}
}

func (m *memStore) discountPrice(variationID string) decimal.NullDecimal {
	return m.variations[variationID].DiscountPrice
}

// failWith makes the named method return err.
func (m *memStore) failWith(method string, err error) {
	m.failOn = method
	m.failErr = err
}

func (m *memStore) fail(method string) error {
	if m.failOn == method {
		return m.failErr
	}
	return nil
}

type memSnapshot struct {
	discounts  map[string]Discount
	variations map[string]product.Variation
	links      map[string]map[string]struct{}
}

func (m *memStore) snapshot() memSnapshot {
	s := memSnapshot{
		discounts:  make(map[string]Discount, len(m.discounts)),
		variations: make(map[string]product.Variation, len(m.variations)),
		links:      make(map[string]map[string]struct{}, len(m.links)),
	}
	for k, v := range m.discounts {
		s.discounts[k] = v
	}
	for k, v := range m.variations {
		s.variations[k] = v
	}
	for k, set := range m.links {
		cp := make(map[string]struct{}, len(set))
		for id := range set {
			cp[id] = struct{}{}
		}
		s.links[k] = cp
	}
	return s
}

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	snap := m.snapshot()
	if err := fn(ctx, &memTx{m: m}); err != nil {
		m.discounts, m.variations, m.links = snap.discounts, snap.variations, snap.links
		m.rollbacks++
		return err
	}
	m.commits++
	return nil
}

type memTx struct {
	m *memStore
}

var _ Tx = (*memTx)(nil)

func (t *memTx) GetDiscount(_ context.Context, id string) (*Discount, error) {
	if err := t.m.fail("GetDiscount"); err != nil {
		return nil, err
	}
	d, ok := t.m.discounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (t *memTx) HasVariation(_ context.Context, discountID, variationID string) (bool, error) {
	if err := t.m.fail("HasVariation"); err != nil {
		return false, err
	}
	_, ok := t.m.links[discountID][variationID]
	return ok, nil
}

func (t *memTx) ListVariations(_ context.Context, discountID string) ([]product.Variation, error) {
	if err := t.m.fail("ListVariations"); err != nil {
		return nil, err
	}
	var out []product.Variation
	for id := range t.m.links[discountID] {
		out = append(out, t.m.variations[id])
	}
	slices.SortFunc(out, func(a, b product.Variation) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}

func (t *memTx) ListAttachedVariations(ctx context.Context, discountID string, variationIDs []string) ([]product.Variation, error) {
	if err := t.m.fail("ListAttachedVariations"); err != nil {
		return nil, err
	}
	all, err := t.ListVariations(ctx, discountID)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(v product.Variation) bool {
		return !slices.Contains(variationIDs, v.ID)
	}), nil
}

func (t *memTx) ValidDiscountByVariation(_ context.Context, variationIDs []string, now time.Time) (map[string]string, error) {
	if err := t.m.fail("ValidDiscountByVariation"); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, vid := range variationIDs {
		var best *Discount
		for did, set := range t.m.links {
			if _, ok := set[vid]; !ok {
				continue
			}
			d := t.m.discounts[did]
			if !d.IsValidAt(now) {
				continue
			}
			if best == nil || d.UpdatedAt.After(best.UpdatedAt) ||
				(d.UpdatedAt.Equal(best.UpdatedAt) && d.ID > best.ID) {
				best = &d
			}
		}
		if best != nil {
			out[vid] = best.ID
		}
	}
	return out, nil
}

func (t *memTx) VariationsWithValidDiscount(_ context.Context, variationIDs []string, now time.Time) ([]string, error) {
	if err := t.m.fail("VariationsWithValidDiscount"); err != nil {
		return nil, err
	}
	var out []string
	for _, vid := range variationIDs {
		for did, set := range t.m.links {
			if _, ok := set[vid]; !ok {
				continue
			}
			d := t.m.discounts[did]
			if d.IsValidAt(now) {
				out = append(out, vid)
				break
			}
		}
	}
	return out, nil
}

func (t *memTx) SetDiscountPrice(_ context.Context, variationID string, price decimal.Decimal) error {
	if err := t.m.fail("SetDiscountPrice"); err != nil {
		return err
	}
	v, ok := t.m.variations[variationID]
	if !ok {
		return errors.Errorf("variation %s not found", variationID)
	}
	v.DiscountPrice = decimal.NewNullDecimal(price)
	t.m.variations[variationID] = v
	t.m.priceWrites++
	return nil
}

func (t *memTx) ClearDiscountPrices(_ context.Context, variationIDs []string) (int64, error) {
	if err := t.m.fail("ClearDiscountPrices"); err != nil {
		return 0, err
	}
	var n int64
	for _, id := range variationIDs {
		v, ok := t.m.variations[id]
		if !ok || !v.DiscountPrice.Valid {
			continue
		}
		v.DiscountPrice = decimal.NullDecimal{}
		t.m.variations[id] = v
		t.m.priceWrites++
		n++
	}
	return n, nil
}

func (t *memTx) InsertDiscount(_ context.Context, d *Discount) error {
	if err := t.m.fail("InsertDiscount"); err != nil {
		return err
	}
	if _, ok := t.m.discounts[d.ID]; ok {
		return errors.Errorf("discount %s already exists", d.ID)
	}
	t.m.discounts[d.ID] = *d
	return nil
}

func (t *memTx) UpdateDiscount(_ context.Context, d *Discount) error {
	if err := t.m.fail("UpdateDiscount"); err != nil {
		return err
	}
	if _, ok := t.m.discounts[d.ID]; !ok {
		return ErrNotFound
	}
	t.m.discounts[d.ID] = *d
	return nil
}

func (t *memTx) DeleteDiscount(_ context.Context, id string) error {
	if err := t.m.fail("DeleteDiscount"); err != nil {
		return err
	}
	if _, ok := t.m.discounts[id]; !ok {
		return ErrNotFound
	}
	delete(t.m.discounts, id)
	delete(t.m.links, id)
	return nil
}

func (t *memTx) AttachVariations(_ context.Context, discountID string, variationIDs []string) (int64, error) {
	if err := t.m.fail("AttachVariations"); err != nil {
		return 0, err
	}
	var n int64
	for _, id := range variationIDs {
		if _, ok := t.m.variations[id]; !ok {
			return 0, errors.Errorf("variation %s not found", id)
		}
		if _, ok := t.m.links[discountID][id]; ok {
			continue
		}
		t.m.link(discountID, id)
		n++
	}
	return n, nil
}

func (t *memTx) DetachVariations(_ context.Context, discountID string, variationIDs []string) (int64, error) {
	if err := t.m.fail("DetachVariations"); err != nil {
		return 0, err
	}
	var n int64
	for _, id := range variationIDs {
		if _, ok := t.m.links[discountID][id]; ok {
			t.m.unlink(discountID, id)
			n++
		}
	}
	return n, nil
}

func (t *memTx) VariationIDs(_ context.Context, discountID string) ([]string, error) {
	if err := t.m.fail("VariationIDs"); err != nil {
		return nil, err
	}
	var out []string
	for id := range t.m.links[discountID] {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

func (t *memTx) IncrementUsage(_ context.Context, discountID string) error {
	if err := t.m.fail("IncrementUsage"); err != nil {
		return err
	}
	d, ok := t.m.discounts[discountID]
	if !ok {
		return ErrNotFound
	}
	if d.LimitReached() {
		return ErrLimitReached
	}
	d.UsageCount++
	t.m.discounts[discountID] = d
	return nil
}
