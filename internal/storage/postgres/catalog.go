package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront-pricing/internal/domain/product"
)

const (
	upsertVariationSQL = `INSERT INTO product_variations (id, product_id, sku, price)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			product_id = EXCLUDED.product_id,
			sku = EXCLUDED.sku,
			price = EXCLUDED.price,
			discount_price = CASE WHEN product_variations.price = EXCLUDED.price
				THEN product_variations.discount_price END,
			updated_at = NOW()`

	allVariationIDsSQL = `SELECT id FROM product_variations`

	getVariationSQL = `SELECT id, product_id, sku, price, discount_price
		FROM product_variations WHERE id = $1`
)

// UpsertVariations creates or updates catalog variations in one batch. A
// changed base price clears the discount price so the reconciler recomputes
// it.
func (s *Store) UpsertVariations(ctx context.Context, variations []product.Variation) error {
	if len(variations) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, v := range variations {
		batch.Queue(upsertVariationSQL, v.ID, v.ProductID, v.SKU, v.Price)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting %d variations: %w", len(variations), err)
	}
	return nil
}

// EachVariationID calls fn for every variation id in the catalog.
func (s *Store) EachVariationID(ctx context.Context, fn func(id string) error) error {
	rows, err := s.pool.Query(ctx, allVariationIDsSQL)
	if err != nil {
		return fmt.Errorf("listing variation ids: %w", err)
	}

	var id string
	if _, err := pgx.ForEachRow(rows, []any{&id}, func() error {
		return fn(id)
	}); err != nil {
		return fmt.Errorf("listing variation ids: %w", err)
	}
	return nil
}

// GetVariation returns product.ErrNotFound when no row matches.
func (s *Store) GetVariation(ctx context.Context, id string) (*product.Variation, error) {
	rows, err := s.pool.Query(ctx, getVariationSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting variation %q: %w", id, err)
	}

	v, err := pgx.CollectExactlyOneRow(rows, scanVariation)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting variation %q: %w", id, err)
	}
	return &v, nil
}
