// Command discount-import attaches variations to discounts in bulk from
// gzip-compressed JSON-lines files.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-pricing/internal/domain/discount"
	"github.com/xenking/storefront-pricing/internal/importer"
	"github.com/xenking/storefront-pricing/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		cfg         importer.Config
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&cfg.BloomCapacity, "bloom-capacity", 0, "expected catalog size for the bloom filter")
	flag.IntVar(&cfg.ChunkSize, "chunk-size", 0, "variations attached per transaction")
	flag.IntVar(&cfg.Workers, "workers", 0, "concurrent attach transactions")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] FILE.jsonl.gz...\n", os.Args[0])
		flag.PrintDefaults()
	}
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
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	if err := run(ctx, databaseURL, cfg, flag.Args()); err != nil {
		lg.Error("Discount import failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL string, cfg importer.Config, files []string) error {
	lg := zctx.From(ctx)

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	store := postgres.NewStore(pool, nil)
	svc := discount.NewService(store, discount.NewValidator(), discount.NewSynchronizer())

	stats, err := importer.New(store, svc, cfg).Import(ctx, files)
	lg.Info("Discount import finished",
		zap.Int("files", len(files)),
		zap.Int64("lines", stats.Lines),
		zap.Int64("malformed", stats.Malformed),
		zap.Int64("filtered", stats.Filtered),
		zap.Int64("attached", stats.Attached),
		zap.Int("failed_chunks", stats.FailedChunks),
	)
	return err
}
