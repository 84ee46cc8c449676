package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-pricing/internal/domain/discount"
	"github.com/xenking/storefront-pricing/internal/domain/product"
)

const discountColumns = `id, shop_id, name, discount_type, value, is_active, start_date, end_date,
	usage_limit, usage_count, buy_quantity, get_quantity, priority, allow_stacking,
	created_at, updated_at`

// validDiscountAt filters the discounts alias d to those active and inside
// their date window at $1. Both bounds are inclusive.
const validDiscountAt = `d.is_active
	AND (d.start_date IS NULL OR d.start_date <= $1)
	AND (d.end_date IS NULL OR d.end_date >= $1)`

const (
	getDiscountSQL = `SELECT ` + discountColumns + ` FROM discounts WHERE id = $1`

	hasVariationSQL = `SELECT EXISTS (
		SELECT 1 FROM product_variation_discounts WHERE discount_id = $1 AND variation_id = $2)`

	listVariationsSQL = `SELECT v.id, v.product_id, v.sku, v.price, v.discount_price
		FROM product_variations v
		JOIN product_variation_discounts pvd ON pvd.variation_id = v.id
		WHERE pvd.discount_id = $1
		ORDER BY v.id`

	listAttachedVariationsSQL = `SELECT v.id, v.product_id, v.sku, v.price, v.discount_price
		FROM product_variations v
		JOIN product_variation_discounts pvd ON pvd.variation_id = v.id
		WHERE pvd.discount_id = $1 AND v.id = ANY($2)
		ORDER BY v.id`

	validDiscountByVariationSQL = `SELECT DISTINCT ON (pvd.variation_id) pvd.variation_id, d.id
		FROM product_variation_discounts pvd
		JOIN discounts d ON d.id = pvd.discount_id
		WHERE pvd.variation_id = ANY($2) AND ` + validDiscountAt + `
		ORDER BY pvd.variation_id, d.updated_at DESC, d.id DESC`

	variationsWithValidDiscountSQL = `SELECT DISTINCT pvd.variation_id
		FROM product_variation_discounts pvd
		JOIN discounts d ON d.id = pvd.discount_id
		WHERE pvd.variation_id = ANY($2) AND ` + validDiscountAt

	setDiscountPriceSQL = `UPDATE product_variations
		SET discount_price = $2, updated_at = NOW() WHERE id = $1`

	clearDiscountPricesSQL = `UPDATE product_variations
		SET discount_price = NULL, updated_at = NOW()
		WHERE id = ANY($1) AND discount_price IS NOT NULL`

	insertDiscountSQL = `INSERT INTO discounts (` + discountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	updateDiscountSQL = `UPDATE discounts SET
		name = $2, discount_type = $3, value = $4, is_active = $5, start_date = $6, end_date = $7,
		usage_limit = $8, buy_quantity = $9, get_quantity = $10, priority = $11, allow_stacking = $12,
		updated_at = $13
		WHERE id = $1`

	deleteDiscountSQL = `DELETE FROM discounts WHERE id = $1`

	attachVariationsSQL = `INSERT INTO product_variation_discounts (discount_id, variation_id)
		SELECT $1, unnest($2::text[])
		ON CONFLICT DO NOTHING`

	detachVariationsSQL = `DELETE FROM product_variation_discounts
		WHERE discount_id = $1 AND variation_id = ANY($2)`

	variationIDsSQL = `SELECT variation_id FROM product_variation_discounts
		WHERE discount_id = $1 ORDER BY variation_id`

	incrementUsageSQL = `UPDATE discounts SET usage_count = usage_count + 1, updated_at = NOW()
		WHERE id = $1 AND (usage_limit IS NULL OR usage_count < usage_limit)`

	discountExistsSQL = `SELECT EXISTS (SELECT 1 FROM discounts WHERE id = $1)`
)

// dbtx is the subset of pgx.Tx and pgxpool.Pool used by queries.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ discount.Tx = (*Tx)(nil)

// Tx implements discount.Tx on a single database transaction.
type Tx struct {
	db dbtx
}

// GetDiscount returns discount.ErrNotFound when no row matches.
func (t *Tx) GetDiscount(ctx context.Context, id string) (*discount.Discount, error) {
	rows, err := t.db.Query(ctx, getDiscountSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting discount %q: %w", id, err)
	}

	d, err := pgx.CollectExactlyOneRow(rows, scanDiscount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrNotFound
		}
		return nil, fmt.Errorf("getting discount %q: %w", id, err)
	}
	return &d, nil
}

func (t *Tx) HasVariation(ctx context.Context, discountID, variationID string) (bool, error) {
	var ok bool
	if err := t.db.QueryRow(ctx, hasVariationSQL, discountID, variationID).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking variation %q of discount %q: %w", variationID, discountID, err)
	}
	return ok, nil
}

func (t *Tx) ListVariations(ctx context.Context, discountID string) ([]product.Variation, error) {
	rows, err := t.db.Query(ctx, listVariationsSQL, discountID)
	if err != nil {
		return nil, fmt.Errorf("listing variations of discount %q: %w", discountID, err)
	}
	return pgx.CollectRows(rows, scanVariation)
}

func (t *Tx) ListAttachedVariations(ctx context.Context, discountID string, variationIDs []string) ([]product.Variation, error) {
	rows, err := t.db.Query(ctx, listAttachedVariationsSQL, discountID, variationIDs)
	if err != nil {
		return nil, fmt.Errorf("listing %d variations of discount %q: %w", len(variationIDs), discountID, err)
	}
	return pgx.CollectRows(rows, scanVariation)
}

func (t *Tx) ValidDiscountByVariation(ctx context.Context, variationIDs []string, now time.Time) (map[string]string, error) {
	rows, err := t.db.Query(ctx, validDiscountByVariationSQL, now, variationIDs)
	if err != nil {
		return nil, fmt.Errorf("resolving valid discounts: %w", err)
	}

	out := make(map[string]string, len(variationIDs))
	var variationID, discountID string
	if _, err := pgx.ForEachRow(rows, []any{&variationID, &discountID}, func() error {
		out[variationID] = discountID
		return nil
	}); err != nil {
		return nil, fmt.Errorf("resolving valid discounts: %w", err)
	}
	return out, nil
}

func (t *Tx) VariationsWithValidDiscount(ctx context.Context, variationIDs []string, now time.Time) ([]string, error) {
	rows, err := t.db.Query(ctx, variationsWithValidDiscountSQL, now, variationIDs)
	if err != nil {
		return nil, fmt.Errorf("finding discounted variations: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (t *Tx) SetDiscountPrice(ctx context.Context, variationID string, price decimal.Decimal) error {
	tag, err := t.db.Exec(ctx, setDiscountPriceSQL, variationID, price)
	if err != nil {
		return fmt.Errorf("setting discount price of variation %q: %w", variationID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("setting discount price of variation %q: %w", variationID, product.ErrNotFound)
	}
	return nil
}

func (t *Tx) ClearDiscountPrices(ctx context.Context, variationIDs []string) (int64, error) {
	tag, err := t.db.Exec(ctx, clearDiscountPricesSQL, variationIDs)
	if err != nil {
		return 0, fmt.Errorf("clearing discount prices: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *Tx) InsertDiscount(ctx context.Context, d *discount.Discount) error {
	_, err := t.db.Exec(ctx, insertDiscountSQL,
		d.ID, d.ShopID, d.Name, string(d.Type), d.Value, d.Active, d.StartDate, d.EndDate,
		d.UsageLimit, d.UsageCount, d.BuyQuantity, d.GetQuantity, d.Priority, d.AllowStacking,
		d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting discount %q: %w", d.ID, err)
	}
	return nil
}

func (t *Tx) UpdateDiscount(ctx context.Context, d *discount.Discount) error {
	tag, err := t.db.Exec(ctx, updateDiscountSQL,
		d.ID, d.Name, string(d.Type), d.Value, d.Active, d.StartDate, d.EndDate,
		d.UsageLimit, d.BuyQuantity, d.GetQuantity, d.Priority, d.AllowStacking, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating discount %q: %w", d.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return discount.ErrNotFound
	}
	return nil
}

func (t *Tx) DeleteDiscount(ctx context.Context, id string) error {
	tag, err := t.db.Exec(ctx, deleteDiscountSQL, id)
	if err != nil {
		return fmt.Errorf("deleting discount %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return discount.ErrNotFound
	}
	return nil
}

func (t *Tx) AttachVariations(ctx context.Context, discountID string, variationIDs []string) (int64, error) {
	tag, err := t.db.Exec(ctx, attachVariationsSQL, discountID, variationIDs)
	if err != nil {
		return 0, fmt.Errorf("attaching variations to discount %q: %w", discountID, err)
	}
	return tag.RowsAffected(), nil
}

func (t *Tx) DetachVariations(ctx context.Context, discountID string, variationIDs []string) (int64, error) {
	tag, err := t.db.Exec(ctx, detachVariationsSQL, discountID, variationIDs)
	if err != nil {
		return 0, fmt.Errorf("detaching variations from discount %q: %w", discountID, err)
	}
	return tag.RowsAffected(), nil
}

func (t *Tx) VariationIDs(ctx context.Context, discountID string) ([]string, error) {
	rows, err := t.db.Query(ctx, variationIDsSQL, discountID)
	if err != nil {
		return nil, fmt.Errorf("listing variation ids of discount %q: %w", discountID, err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// IncrementUsage consumes one use. The guarded update cannot push
// usage_count past usage_limit even under concurrent redemptions.
func (t *Tx) IncrementUsage(ctx context.Context, discountID string) error {
	tag, err := t.db.Exec(ctx, incrementUsageSQL, discountID)
	if err != nil {
		return fmt.Errorf("incrementing usage of discount %q: %w", discountID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := t.db.QueryRow(ctx, discountExistsSQL, discountID).Scan(&exists); err != nil {
		return fmt.Errorf("checking discount %q: %w", discountID, err)
	}
	if !exists {
		return discount.ErrNotFound
	}
	return discount.ErrLimitReached
}

func scanDiscount(row pgx.CollectableRow) (discount.Discount, error) {
	var (
		d            discount.Discount
		discountType string
	)
	err := row.Scan(
		&d.ID, &d.ShopID, &d.Name, &discountType, &d.Value, &d.Active, &d.StartDate, &d.EndDate,
		&d.UsageLimit, &d.UsageCount, &d.BuyQuantity, &d.GetQuantity, &d.Priority, &d.AllowStacking,
		&d.CreatedAt, &d.UpdatedAt,
	)
	d.Type = discount.Type(discountType)
	return d, err
}

func scanVariation(row pgx.CollectableRow) (product.Variation, error) {
	var v product.Variation
	err := row.Scan(&v.ID, &v.ProductID, &v.SKU, &v.Price, &v.DiscountPrice)
	return v, err
}
