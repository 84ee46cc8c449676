// Command seed-db loads a demo catalog and its discounts.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront-pricing/internal/domain/discount"
	"github.com/xenking/storefront-pricing/internal/domain/product"
	"github.com/xenking/storefront-pricing/internal/storage/postgres"
)

type catalogJSON struct {
	Variations []variationJSON `json:"variations"`
	Discounts  []discountJSON  `json:"discounts"`
}

type variationJSON struct {
	ID        string          `json:"id"`
	ProductID string          `json:"productId"`
	SKU       string          `json:"sku"`
	Price     decimal.Decimal `json:"price"`
}

type discountJSON struct {
	Name          string          `json:"name"`
	Type          discount.Type   `json:"type"`
	Value         decimal.Decimal `json:"value"`
	Active        bool            `json:"active"`
	StartDate     *time.Time      `json:"startDate"`
	EndDate       *time.Time      `json:"endDate"`
	UsageLimit    *int            `json:"usageLimit"`
	BuyQuantity   *int            `json:"buyQuantity"`
	GetQuantity   *int            `json:"getQuantity"`
	Priority      int             `json:"priority"`
	AllowStacking bool            `json:"allowStacking"`
	VariationIDs  []string        `json:"variationIds"`
}

func main() {
	var (
		databaseURL string
		catalogFile string
		shopID      string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.StringVar(&shopID, "shop-id", "demo-shop", "shop owning the seeded discounts")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "create logger:", err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	if err := run(ctx, databaseURL, catalogFile, shopID); err != nil {
		lg.Error("Seed failed", zap.Error(err))
		os.Exit(1)
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, databaseURL, catalogFile, shopID string) error {
	data, err := os.ReadFile(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}
	var catalog catalogJSON
	if err := json.Unmarshal(data, &catalog); err != nil {
		return errors.Wrap(err, "parse catalog file")
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	store := postgres.NewStore(pool, nil)
	variations := make([]product.Variation, 0, len(catalog.Variations))
	for _, v := range catalog.Variations {
		variations = append(variations, product.Variation{
			ID:        v.ID,
			ProductID: v.ProductID,
			SKU:       v.SKU,
			Price:     v.Price,
		})
	}
	if err := store.UpsertVariations(ctx, variations); err != nil {
		return err
	}
	zctx.From(ctx).Info("Variations seeded", zap.Int("count", len(variations)))

	// Discounts get fresh ids, so running the seed twice duplicates them.
	svc := discount.NewService(store, discount.NewValidator(), discount.NewSynchronizer())
	for _, d := range catalog.Discounts {
		_, err := svc.Create(ctx, discount.CreateRequest{
			ShopID: shopID,
			Active: d.Active,
			Params: discount.Params{
				Name:          d.Name,
				Type:          d.Type,
				Value:         d.Value,
				StartDate:     d.StartDate,
				EndDate:       d.EndDate,
				UsageLimit:    d.UsageLimit,
				BuyQuantity:   d.BuyQuantity,
				GetQuantity:   d.GetQuantity,
				Priority:      d.Priority,
				AllowStacking: d.AllowStacking,
			},
			VariationIDs: d.VariationIDs,
		})
		if err != nil {
			return errors.Wrapf(err, "create discount %q", d.Name)
		}
	}
	return nil
}
