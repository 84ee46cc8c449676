package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	staleVariationIDsSQL = `SELECT v.id FROM product_variations v
		WHERE v.discount_price IS NOT NULL
		AND NOT EXISTS (
			SELECT 1 FROM product_variation_discounts pvd
			JOIN discounts d ON d.id = pvd.discount_id
			WHERE pvd.variation_id = v.id AND ` + validDiscountAt + `)
		AND v.id > $3
		ORDER BY v.id
		LIMIT $2`

	pendingDiscountIDsSQL = `SELECT d.id FROM discounts d
		WHERE ` + validDiscountAt + `
		AND EXISTS (
			SELECT 1 FROM product_variation_discounts pvd
			JOIN product_variations v ON v.id = pvd.variation_id
			WHERE pvd.discount_id = d.id AND v.discount_price IS NULL)
		AND d.id > $3
		ORDER BY d.id
		LIMIT $2`
)

// StaleVariationIDs returns up to limit variations with ids greater than
// after that carry a discount price although no valid discount is attached
// to them at now.
func (s *Store) StaleVariationIDs(ctx context.Context, now time.Time, after string, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, staleVariationIDsSQL, now, limit, after)
	if err != nil {
		return nil, fmt.Errorf("listing stale variations: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// PendingDiscountIDs returns up to limit discounts with ids greater than
// after that are valid at now and have at least one attached variation
// without a discount price.
func (s *Store) PendingDiscountIDs(ctx context.Context, now time.Time, after string, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, pendingDiscountIDsSQL, now, limit, after)
	if err != nil {
		return nil, fmt.Errorf("listing pending discounts: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
